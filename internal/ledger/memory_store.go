package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
)

// MemoryStore is an in-process Store and outbox store. Every read returns copies.
type MemoryStore struct {
	mu          sync.RWMutex
	txs         map[int64]*model.PointTransaction
	transitions map[int64][]model.Transition
	events      []*model.OutboxEvent
	eventKeys   map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:         make(map[int64]*model.PointTransaction),
		transitions: make(map[int64][]model.Transition),
		eventKeys:   make(map[string]bool),
	}
}

func (s *MemoryStore) Commit(ctx context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// validate everything before touching state
	for _, tx := range b.Inserts {
		if _, ok := s.txs[tx.ID]; ok {
			return apperrors.NewConcurrencyConflict("duplicate transaction id", nil)
		}
	}
	for _, u := range b.Updates {
		cur, ok := s.txs[u.Tx.ID]
		if !ok || cur.State != u.ExpectState || cur.Version != u.ExpectVersion {
			return apperrors.NewConcurrencyConflict("transaction changed concurrently", nil)
		}
	}
	for _, tr := range b.Transitions {
		for _, have := range s.transitions[tr.TransactionID] {
			if have.Seq == tr.Seq {
				return apperrors.NewConcurrencyConflict("transition sequence already used", nil)
			}
		}
	}
	for _, ev := range b.Events {
		if s.eventKeys[eventKey(ev)] {
			return apperrors.NewConcurrencyConflict("duplicate outbox event "+ev.IdempotencyKey, nil)
		}
	}

	for _, tx := range b.Inserts {
		c := *tx
		s.txs[tx.ID] = &c
	}
	for _, u := range b.Updates {
		c := *u.Tx
		s.txs[u.Tx.ID] = &c
	}
	for _, tr := range b.Transitions {
		s.transitions[tr.TransactionID] = append(s.transitions[tr.TransactionID], *tr)
	}
	for _, ev := range b.Events {
		c := *ev
		s.events = append(s.events, &c)
		s.eventKeys[eventKey(ev)] = true
	}
	return nil
}

func eventKey(ev *model.OutboxEvent) string {
	return ev.IdempotencyKey + "/" + string(ev.Type)
}

func (s *MemoryStore) GetTransaction(ctx context.Context, tenantID string, id int64) (*model.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok || tx.TenantID != tenantID {
		return nil, apperrors.NewNotFound("transaction %d not found", id)
	}
	c := *tx
	return &c, nil
}

func (s *MemoryStore) ListMemberTransactions(ctx context.Context, tenantID, memberID string) ([]*model.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.PointTransaction
	for _, tx := range s.txs {
		if tx.TenantID == tenantID && tx.MemberID == memberID {
			c := *tx
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) History(ctx context.Context, tenantID string, txID int64) ([]model.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Transition
	for _, tr := range s.transitions[txID] {
		if tr.TenantID == tenantID {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.PointTransaction
	for _, tx := range s.txs {
		if tx.State != model.StatePending {
			continue
		}
		if !tx.AvailableAt.After(now) || (tx.ExpiresAt != nil && !tx.ExpiresAt.After(now)) {
			c := *tx
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FetchPending returns undelivered events whose next attempt is due, oldest first.
func (s *MemoryStore) FetchPending(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.OutboxEvent
	for _, ev := range s.events {
		if ev.DeliveredAt != nil || ev.NextAttemptAt.After(now) {
			continue
		}
		c := *ev
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			delivered := at
			ev.DeliveredAt = &delivered
			ev.Attempts++
			ev.LastError = ""
			return nil
		}
	}
	return apperrors.NewNotFound("outbox event %s not found", id)
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			ev.Attempts = attempts
			ev.NextAttemptAt = next
			ev.LastError = lastErr
			return nil
		}
	}
	return apperrors.NewNotFound("outbox event %s not found", id)
}

// Events returns a copy of every committed outbox event.
func (s *MemoryStore) Events() []*model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.OutboxEvent, 0, len(s.events))
	for _, ev := range s.events {
		c := *ev
		out = append(out, &c)
	}
	return out
}
