package manager

import (
	"context"
	"sync"
	"time"

	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
)

// MemberLocker serializes ledger writes per member. Each key owns a one-slot
// semaphore so waiting respects context cancellation and a bounded timeout.
type MemberLocker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewMemberLocker(timeout time.Duration) *MemberLocker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MemberLocker{
		slots:   make(map[string]*slot),
		timeout: timeout,
	}
}

func memberKey(tenantID, memberID string) string {
	return tenantID + "/" + memberID
}

// Lock blocks until the member is free, the timeout passes, or ctx ends.
// The returned func releases the member and must be called exactly once.
func (l *MemberLocker) Lock(ctx context.Context, tenantID, memberID string) (func(), error) {
	key := memberKey(tenantID, memberID)

	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			l.release(key, s)
		}, nil
	case <-timer.C:
		l.release(key, s)
		return nil, apperrors.NewConcurrencyConflict("member "+memberID+" is busy", nil)
	case <-ctx.Done():
		l.release(key, s)
		return nil, apperrors.NewConcurrencyConflict("member lock wait cancelled", ctx.Err())
	}
}

func (l *MemberLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Held returns the number of members with an active or waiting writer.
func (l *MemberLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
