package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]*model.Tenant
}

func newMemTenantRepo() *memTenantRepo {
	return &memTenantRepo{tenants: make(map[string]*model.Tenant)}
}

func (r *memTenantRepo) GetByAPIKey(_ context.Context, key string) (*model.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.APIKey == key {
			return t, nil
		}
	}
	return nil, model.ErrTenantNotFound
}

func (r *memTenantRepo) GetByID(_ context.Context, id string) (*model.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[id]; ok {
		return t, nil
	}
	return nil, model.ErrTenantNotFound
}

func (r *memTenantRepo) List(_ context.Context, limit, offset int) ([]*model.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTenantRepo) Create(_ context.Context, t *model.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
	return nil
}

func (r *memTenantRepo) Update(_ context.Context, t *model.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[t.ID]; !ok {
		return model.ErrTenantNotFound
	}
	r.tenants[t.ID] = t
	return nil
}

func (r *memTenantRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[id]; !ok {
		return model.ErrTenantNotFound
	}
	delete(r.tenants, id)
	return nil
}

func TestTenantServiceCRUD(t *testing.T) {
	repo := newMemTenantRepo()
	tm := newManager(t, repo)
	svc := NewTenantService(tm, repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, windowTenant("acme", "sk-acme", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = svc.Create(ctx, windowTenant("acme", "sk-other", time.Hour))
	assert.True(t, apperrors.IsType(err, apperrors.ErrValidation))

	name := "Acme Corp"
	ledger := model.LedgerOptions{AllowNegativeBalance: true, MaxNegativeBalance: 100}
	updated, err := svc.Update(ctx, "acme", TenantUpdateRequest{Name: &name, Ledger: &ledger})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", updated.Name)
	assert.Equal(t, int64(2), updated.Version)

	stored, err := repo.GetByID(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, stored.Ledger.AllowNegativeBalance)

	live, ok := tm.Tenant("acme")
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", live.Name)

	list, err := svc.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, "acme"))
	_, ok = tm.Tenant("acme")
	assert.False(t, ok)

	_, err = svc.Get(ctx, "acme")
	assert.True(t, apperrors.IsType(err, apperrors.ErrNotFound))
	assert.True(t, apperrors.IsType(svc.Delete(ctx, "acme"), apperrors.ErrNotFound))
}

func TestTenantServiceRejectsInvalidUpdate(t *testing.T) {
	repo := newMemTenantRepo()
	tm := newManager(t, repo)
	svc := NewTenantService(tm, repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, windowTenant("acme", "sk-acme", time.Hour))
	require.NoError(t, err)

	broken := model.PolicySet{Default: &model.PolicyDefinition{Kind: model.PolicyConditional}}
	_, err = svc.Update(ctx, "acme", TenantUpdateRequest{Policies: &broken})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrValidation))

	stored, err := repo.GetByID(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, model.PolicyTimeWindow, stored.Policies.Default.Kind)
}

func TestTenantServiceWithoutRepository(t *testing.T) {
	tm := newManager(t, nil)
	svc := NewTenantService(tm, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, windowTenant("acme", "sk-acme", time.Hour))
	require.NoError(t, err)
	_, err = svc.Create(ctx, windowTenant("globex", "sk-globex", time.Hour))
	require.NoError(t, err)

	page, err := svc.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "globex", page[0].ID)

	replaced, err := svc.Replace(ctx, "globex", windowTenant("ignored", "sk-globex-2", 3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "globex", replaced.ID)
	_, ok := tm.GetByAPIKey("sk-globex-2")
	assert.True(t, ok)
}
