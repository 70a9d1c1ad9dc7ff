package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisFraudStore keeps one JSON profile per member. The key expires with the
// longest behaviour window so idle members cost nothing.
type RedisFraudStore struct {
	client *redis.Client
	prefix string
}

func NewRedisFraudStore(client *redis.Client, prefix string) *RedisFraudStore {
	if prefix == "" {
		prefix = "fraud:"
	}
	return &RedisFraudStore{client: client, prefix: prefix}
}

func (r *RedisFraudStore) Get(ctx context.Context, tenantID, memberID string) (*model.FraudProfile, error) {
	raw, err := r.client.Get(ctx, r.makeKey(tenantID, memberID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p model.FraudProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *RedisFraudStore) Put(ctx context.Context, p *model.FraudProfile, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.makeKey(p.TenantID, p.MemberID), raw, ttl).Err()
}

func (r *RedisFraudStore) Delete(ctx context.Context, tenantID, memberID string) error {
	return r.client.Del(ctx, r.makeKey(tenantID, memberID)).Err()
}

func (r *RedisFraudStore) makeKey(tenantID, memberID string) string {
	return r.prefix + tenantID + ":" + memberID
}
