package ledger

import (
	"context"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
)

// Update rewrites a transaction only if it is still in ExpectState at ExpectVersion.
// A stale precondition fails the whole batch with a ConcurrencyConflict.
type Update struct {
	Tx            *model.PointTransaction
	ExpectState   model.State
	ExpectVersion int64
}

// Batch is one atomic unit: state changes, their history rows and their outbox events.
type Batch struct {
	Inserts     []*model.PointTransaction
	Updates     []Update
	Transitions []*model.Transition
	Events      []*model.OutboxEvent
}

func (b *Batch) Empty() bool {
	return len(b.Inserts) == 0 && len(b.Updates) == 0 && len(b.Transitions) == 0 && len(b.Events) == 0
}

// Store is the durable side of the ledger.
type Store interface {
	Commit(ctx context.Context, b *Batch) error
	GetTransaction(ctx context.Context, tenantID string, id int64) (*model.PointTransaction, error)
	ListMemberTransactions(ctx context.Context, tenantID, memberID string) ([]*model.PointTransaction, error)
	History(ctx context.Context, tenantID string, txID int64) ([]model.Transition, error)
	// ListDue returns PENDING transactions whose window or expiry has passed, across tenants.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PointTransaction, error)
}
