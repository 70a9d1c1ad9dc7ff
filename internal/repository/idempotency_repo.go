package repository

import (
	"context"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type idempotencyKey struct {
	Key          string `gorm:"column:idem_key;primaryKey;size:255"`
	StatusCode   int    `gorm:"not null;default:0"`
	ResponseBody []byte
	Processing   bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"index"`
}

func (idempotencyKey) TableName() string { return "idempotency_keys" }

type IdempotencyRepo struct {
	db *gorm.DB
}

func NewIdempotencyRepo(db *gorm.DB) *IdempotencyRepo {
	return &IdempotencyRepo{db: db}
}

// GetOrLock inserts a processing marker. If the key already exists the stored record is returned.
func (s *IdempotencyRepo) GetOrLock(ctx context.Context, key string) (*model.IdempotencyRecord, bool) {
	row := idempotencyKey{Key: key, Processing: true, CreatedAt: time.Now().UTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error == nil && res.RowsAffected > 0 {
		return nil, false
	}

	var existing idempotencyKey
	if err := s.db.WithContext(ctx).Where("idem_key = ?", key).First(&existing).Error; err != nil {
		logger.Warn("idempotency lookup failed", "error", err)
		return nil, false
	}
	return &model.IdempotencyRecord{
		Status:     existing.StatusCode,
		Body:       existing.ResponseBody,
		CreatedAt:  existing.CreatedAt,
		Processing: existing.Processing,
	}, true
}

func (s *IdempotencyRepo) Save(ctx context.Context, key string, status int, body []byte) {
	err := s.db.WithContext(ctx).Model(&idempotencyKey{}).Where("idem_key = ?", key).Updates(map[string]any{
		"status_code":   status,
		"response_body": body,
		"processing":    false,
	}).Error
	if err != nil {
		logger.Warn("idempotency save failed", "error", err)
	}
}

func (s *IdempotencyRepo) Unlock(ctx context.Context, key string) {
	_ = s.db.WithContext(ctx).Where("idem_key = ?", key).Delete(&idempotencyKey{}).Error
}

func (s *IdempotencyRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&idempotencyKey{}).Error
}
