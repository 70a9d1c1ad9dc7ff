package service

import (
	"context"
	"errors"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
)

// TenantService is the admin surface over tenant configs. Writes are validated
// by the manager before they reach the repository, so the database never holds
// a config the service would refuse to run.
type TenantService struct {
	repo    TenantRepoCRUD
	manager *TenantManager
}

type TenantRepoCRUD interface {
	TenantRepo
	TenantLister
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
	Create(ctx context.Context, t *model.Tenant) error
	Update(ctx context.Context, t *model.Tenant) error
	Delete(ctx context.Context, id string) error
}

// TenantUpdateRequest patches the sections that are present.
type TenantUpdateRequest struct {
	Name     *string                `json:"name"`
	APIKey   *string                `json:"api_key"`
	Rate     *model.RateLimitConfig `json:"rate_limit"`
	Policies *model.PolicySet       `json:"policies"`
	Fraud    *model.FraudRules      `json:"fraud"`
	Refund   *model.RefundRules     `json:"refund"`
	Ledger   *model.LedgerOptions   `json:"ledger"`
	Webhook  *model.WebhookTarget   `json:"webhook"`
	Chain    *model.ChainTarget     `json:"chain"`
}

func NewTenantService(manager *TenantManager, repo TenantRepoCRUD) *TenantService {
	return &TenantService{
		repo:    repo,
		manager: manager,
	}
}

func (s *TenantService) List(ctx context.Context, limit, offset int) ([]*model.Tenant, error) {
	if s.repo != nil {
		return s.repo.List(ctx, limit, offset)
	}
	all := s.manager.List()
	if offset >= len(all) {
		return []*model.Tenant{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *TenantService) Get(ctx context.Context, id string) (*model.Tenant, error) {
	if t, ok := s.manager.Tenant(id); ok {
		return t, nil
	}
	if s.repo != nil {
		t, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, s.notFound(id, err)
		}
		return t, nil
	}
	return nil, apperrors.NewNotFound("tenant %s not found", id)
}

func (s *TenantService) Create(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	if t == nil || t.ID == "" {
		return nil, apperrors.NewValidation("id is required")
	}
	if _, ok := s.manager.Tenant(t.ID); ok {
		return nil, apperrors.NewValidation("tenant %s already exists", t.ID)
	}
	next, err := s.manager.Prepare(t)
	if err != nil {
		return nil, err
	}
	if s.repo != nil {
		if err := s.repo.Create(ctx, next); err != nil {
			return nil, err
		}
	}
	s.manager.install(next)
	return next, nil
}

// Replace swaps a tenant's whole config.
func (s *TenantService) Replace(ctx context.Context, id string, t *model.Tenant) (*model.Tenant, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	t.ID = id
	return s.save(ctx, t)
}

func (s *TenantService) Update(ctx context.Context, id string, req TenantUpdateRequest) (*model.Tenant, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tenant, err := current.Clone()
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.APIKey != nil && *req.APIKey != "" {
		tenant.APIKey = *req.APIKey
	}
	if req.Rate != nil {
		tenant.Rate = *req.Rate
	}
	if req.Policies != nil {
		tenant.Policies = *req.Policies
	}
	if req.Fraud != nil {
		tenant.Fraud = *req.Fraud
	}
	if req.Refund != nil {
		tenant.Refund = *req.Refund
	}
	if req.Ledger != nil {
		tenant.Ledger = *req.Ledger
	}
	if req.Webhook != nil {
		tenant.Webhook = *req.Webhook
	}
	if req.Chain != nil {
		tenant.Chain = *req.Chain
	}
	return s.save(ctx, tenant)
}

func (s *TenantService) save(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	next, err := s.manager.Prepare(t)
	if err != nil {
		return nil, err
	}
	if s.repo != nil {
		if err := s.repo.Update(ctx, next); err != nil {
			return nil, s.notFound(next.ID, err)
		}
	}
	s.manager.install(next)
	return next, nil
}

func (s *TenantService) Delete(ctx context.Context, id string) error {
	if s.repo != nil {
		if err := s.repo.Delete(ctx, id); err != nil {
			return s.notFound(id, err)
		}
	} else if _, ok := s.manager.Tenant(id); !ok {
		return apperrors.NewNotFound("tenant %s not found", id)
	}
	s.manager.Remove(id)
	return nil
}

func (s *TenantService) notFound(id string, err error) error {
	if errors.Is(err, model.ErrTenantNotFound) {
		return apperrors.NewNotFound("tenant %s not found", id)
	}
	return err
}
