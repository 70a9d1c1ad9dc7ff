package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// tenantRecord stores the whole tenant definition as JSON; id and api key are
// lifted out for lookups.
type tenantRecord struct {
	ID        string         `gorm:"primaryKey;size:64"`
	Name      string         `gorm:"size:255"`
	APIKey    string         `gorm:"size:128;uniqueIndex"`
	Version   int64          `gorm:"not null;default:0"`
	Config    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (tenantRecord) TableName() string { return "tenant_configs" }

type TenantRepo struct {
	db *gorm.DB
}

func NewTenantRepo(db *gorm.DB) *TenantRepo {
	return &TenantRepo{db: db}
}

func (r *TenantRepo) GetByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error) {
	var rec tenantRecord
	if err := r.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return rec.toDomain()
}

func (r *TenantRepo) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	var rec tenantRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return rec.toDomain()
}

func (r *TenantRepo) List(ctx context.Context, limit, offset int) ([]*model.Tenant, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var recs []tenantRecord
	if err := r.db.WithContext(ctx).Order("created_at DESC, id ASC").Limit(limit).Offset(offset).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Tenant, 0, len(recs))
	for i := range recs {
		t, err := recs[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *TenantRepo) Create(ctx context.Context, t *model.Tenant) error {
	rec, err := fromDomain(t)
	if err != nil {
		return err
	}
	return mapError(r.db.WithContext(ctx).Create(rec).Error)
}

// Update replaces the stored definition. The caller has already bumped Version.
func (r *TenantRepo) Update(ctx context.Context, t *model.Tenant) error {
	rec, err := fromDomain(t)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&tenantRecord{}).Where("id = ?", t.ID).Updates(map[string]any{
		"name":       rec.Name,
		"api_key":    rec.APIKey,
		"version":    rec.Version,
		"config":     rec.Config,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrTenantNotFound
	}
	return nil
}

func (r *TenantRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&tenantRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrTenantNotFound
	}
	return nil
}

func fromDomain(t *model.Tenant) (*tenantRecord, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &tenantRecord{
		ID:      t.ID,
		Name:    t.Name,
		APIKey:  t.APIKey,
		Version: t.Version,
		Config:  datatypes.JSON(raw),
	}, nil
}

func (rec *tenantRecord) toDomain() (*model.Tenant, error) {
	var t model.Tenant
	if err := json.Unmarshal(rec.Config, &t); err != nil {
		return nil, err
	}
	t.ID = rec.ID
	t.APIKey = rec.APIKey
	t.Version = rec.Version
	t.UpdatedAt = rec.UpdatedAt
	return &t, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrTenantNotFound
	}
	return err
}
