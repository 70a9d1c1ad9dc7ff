package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/pointgate/internal/ledger"
	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type tenantMap map[string]*model.Tenant

func (m tenantMap) Tenant(id string) (*model.Tenant, bool) {
	t, ok := m[id]
	return t, ok
}

type recordingSink struct {
	name string
	mu   sync.Mutex
	got  []model.EventBody
	fail int
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, tenant *model.Tenant, ev model.EventBody) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, ev)
	return nil
}

func seed(t *testing.T, store *ledger.MemoryStore, at time.Time, keys ...string) {
	t.Helper()
	b := &ledger.Batch{}
	for _, key := range keys {
		body := model.EventBody{Event: model.EventPointsAwarded, TenantID: "acme", MemberID: "m1", Amount: 10, IdempotencyKey: key}
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		b.Events = append(b.Events, &model.OutboxEvent{
			ID: "ev-" + key, TenantID: "acme", MemberID: "m1", Type: model.EventPointsAwarded,
			IdempotencyKey: key, Amount: 10, Payload: datatypes.JSON(raw), NextAttemptAt: at, CreatedAt: at,
		})
	}
	require.NoError(t, store.Commit(context.Background(), b))
}

func TestRelayDeliversToAllSinks(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	seed(t, store, now, "1-1", "1-2")

	a, b := &recordingSink{name: "a"}, &recordingSink{name: "b"}
	r := NewRelay(store, tenantMap{"acme": {ID: "acme"}}, Config{}, a, b)
	r.now = func() time.Time { return now }

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.Len(t, a.got, 2)
	assert.Len(t, b.got, 2)
	assert.Equal(t, "1-1", a.got[0].IdempotencyKey)

	// nothing left on the next pass
	report, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)
}

func TestRelayRetriesWithBackoff(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	seed(t, store, now, "9-1")

	ok := &recordingSink{name: "ok"}
	flaky := &recordingSink{name: "flaky", fail: 2}
	r := NewRelay(store, tenantMap{}, Config{BaseBackoff: time.Second, MaxBackoff: time.Minute}, ok, flaky)
	r.now = func() time.Time { return now }

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Attempts)
	assert.Contains(t, events[0].LastError, "flaky")
	assert.True(t, events[0].NextAttemptAt.After(now))

	// not due yet
	report, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)

	now = now.Add(time.Hour)
	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	now = now.Add(time.Hour)
	report, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	// at-least-once: the healthy sink saw the event on every attempt
	assert.Len(t, ok.got, 3)
	assert.Len(t, flaky.got, 1)
	assert.NotNil(t, store.Events()[0].DeliveredAt)
}

func TestDelayGrowsAndCaps(t *testing.T) {
	r := NewRelay(ledger.NewMemoryStore(), tenantMap{}, Config{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second})
	first := r.delay(1)
	assert.InDelta(t, float64(time.Second), float64(first), float64(300*time.Millisecond))
	assert.LessOrEqual(t, r.delay(20), 12*time.Second)
	assert.Greater(t, r.delay(3), 2*time.Second)
}

func TestWakeNeverBlocks(t *testing.T) {
	r := NewRelay(ledger.NewMemoryStore(), tenantMap{}, Config{})
	for i := 0; i < 5; i++ {
		r.Wake()
	}
	assert.Len(t, r.wake, 1)
}
