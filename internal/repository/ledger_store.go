package repository

import (
	"context"
	"errors"
	"time"

	"github.com/GoPolymarket/pointgate/internal/ledger"
	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"gorm.io/gorm"
)

// LedgerStore persists transactions, history and the outbox in one database so a
// state change and the events describing it commit together.
type LedgerStore struct {
	db            *gorm.DB
	notifyChannel string
}

func NewLedgerStore(db *gorm.DB, notifyChannel string) *LedgerStore {
	return &LedgerStore{db: db, notifyChannel: notifyChannel}
}

func (s *LedgerStore) Commit(ctx context.Context, b *ledger.Batch) error {
	if b == nil || b.Empty() {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(b.Inserts) > 0 {
			if err := tx.Create(b.Inserts).Error; err != nil {
				return err
			}
		}
		for _, u := range b.Updates {
			res := tx.Model(&model.PointTransaction{}).
				Where("id = ? AND tenant_id = ? AND state = ? AND version = ?", u.Tx.ID, u.Tx.TenantID, u.ExpectState, u.ExpectVersion).
				Updates(map[string]any{
					"amount":     u.Tx.Amount,
					"state":      u.Tx.State,
					"reference":  u.Tx.Reference,
					"seq":        u.Tx.Seq,
					"version":    u.Tx.Version,
					"updated_at": u.Tx.UpdatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperrors.NewConcurrencyConflict("transaction changed concurrently", nil)
			}
		}
		if len(b.Transitions) > 0 {
			if err := tx.Create(b.Transitions).Error; err != nil {
				return err
			}
		}
		if len(b.Events) > 0 {
			if err := tx.Create(b.Events).Error; err != nil {
				return err
			}
			// delivered to listeners only when the transaction commits
			if s.notifyChannel != "" && isPostgres(tx) {
				if err := tx.Exec("SELECT pg_notify(?, ?)", s.notifyChannel, b.Events[0].TenantID).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	return mapError(err)
}

func (s *LedgerStore) GetTransaction(ctx context.Context, tenantID string, id int64) (*model.PointTransaction, error) {
	var tx model.PointTransaction
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("transaction %d not found", id)
		}
		return nil, mapError(err)
	}
	return &tx, nil
}

func (s *LedgerStore) ListMemberTransactions(ctx context.Context, tenantID, memberID string) ([]*model.PointTransaction, error) {
	var out []*model.PointTransaction
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND member_id = ?", tenantID, memberID).
		Order("id ASC").
		Find(&out).Error
	return out, mapError(err)
}

func (s *LedgerStore) History(ctx context.Context, tenantID string, txID int64) ([]model.Transition, error) {
	var out []model.Transition
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_id = ?", tenantID, txID).
		Order("seq ASC").
		Find(&out).Error
	return out, mapError(err)
}

func (s *LedgerStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PointTransaction, error) {
	q := s.db.WithContext(ctx).
		Where("state = ?", model.StatePending).
		Where("(available_at <= ? OR (expires_at IS NOT NULL AND expires_at <= ?))", now, now).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*model.PointTransaction
	return out, mapError(q.Find(&out).Error)
}

// FetchPending returns undelivered events whose next attempt is due, oldest first.
func (s *LedgerStore) FetchPending(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEvent, error) {
	q := s.db.WithContext(ctx).
		Where("delivered_at IS NULL AND next_attempt_at <= ?", now).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*model.OutboxEvent
	return out, mapError(q.Find(&out).Error)
}

func (s *LedgerStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"delivered_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   "",
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFound("outbox event %s not found", id)
	}
	return nil
}

func (s *LedgerStore) MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	res := s.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": next,
			"last_error":      lastErr,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFound("outbox event %s not found", id)
	}
	return nil
}

// Backlog counts events still waiting for delivery.
func (s *LedgerStore) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("delivered_at IS NULL").Count(&n).Error
	return n, mapError(err)
}
