package fraud

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
)

// MemoryStore keeps profiles in process. Profiles are copied on the way in and
// out so callers never share slices with the map.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	raw     []byte
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]memoryEntry),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, memberID string) (*model.FraudProfile, error) {
	s.mu.RLock()
	e, ok := s.profiles[s.makeKey(tenantID, memberID)]
	s.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && s.now().After(e.expires)) {
		return nil, nil
	}
	var p model.FraudProfile
	if err := json.Unmarshal(e.raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MemoryStore) Put(ctx context.Context, p *model.FraudProfile, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	e := memoryEntry{raw: raw}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.profiles[s.makeKey(p.TenantID, p.MemberID)] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, tenantID, memberID string) error {
	s.mu.Lock()
	delete(s.profiles, s.makeKey(tenantID, memberID))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) makeKey(tenantID, memberID string) string {
	return tenantID + ":" + memberID
}
