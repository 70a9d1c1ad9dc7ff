package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type fraudProfileRecord struct {
	TenantID  string         `gorm:"primaryKey;size:64"`
	MemberID  string         `gorm:"primaryKey;size:128"`
	Profile   datatypes.JSON `gorm:"not null"`
	ExpiresAt *time.Time     `gorm:"index"`
	UpdatedAt time.Time
}

func (fraudProfileRecord) TableName() string { return "fraud_profiles" }

// FraudProfileRepo keeps behaviour profiles in the main database for deployments without Redis.
type FraudProfileRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewFraudProfileRepo(db *gorm.DB) *FraudProfileRepo {
	return &FraudProfileRepo{db: db, now: time.Now}
}

func (r *FraudProfileRepo) Get(ctx context.Context, tenantID, memberID string) (*model.FraudProfile, error) {
	var rec fraudProfileRecord
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND member_id = ?", tenantID, memberID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.ExpiresAt != nil && r.now().After(*rec.ExpiresAt) {
		return nil, nil
	}
	var p model.FraudProfile
	if err := json.Unmarshal(rec.Profile, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *FraudProfileRepo) Put(ctx context.Context, p *model.FraudProfile, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	rec := fraudProfileRecord{TenantID: p.TenantID, MemberID: p.MemberID, Profile: raw, UpdatedAt: r.now().UTC()}
	if ttl > 0 {
		exp := r.now().Add(ttl).UTC()
		rec.ExpiresAt = &exp
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"profile", "expires_at", "updated_at"}),
	}).Create(&rec).Error
}

func (r *FraudProfileRepo) Delete(ctx context.Context, tenantID, memberID string) error {
	return r.db.WithContext(ctx).Where("tenant_id = ? AND member_id = ?", tenantID, memberID).Delete(&fraudProfileRecord{}).Error
}

// Cleanup drops profiles whose behaviour window has lapsed.
func (r *FraudProfileRepo) Cleanup(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at < ?", r.now().UTC()).Delete(&fraudProfileRecord{}).Error
}
