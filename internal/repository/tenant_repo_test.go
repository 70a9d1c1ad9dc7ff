package repository

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantRepoCRUD(t *testing.T) {
	repo := NewTenantRepo(newTestDB(t))
	ctx := context.Background()

	def := model.PolicyDefinition{Kind: model.PolicyTimeWindow, Window: model.Duration(48 * time.Hour)}
	tenant := &model.Tenant{
		ID: "acme", Name: "Acme", APIKey: "sk-acme", Version: 1,
		Policies: model.PolicySet{Default: &def},
		Ledger:   model.LedgerOptions{AllowNegativeBalance: true, MaxNegativeBalance: 50},
	}
	require.NoError(t, repo.Create(ctx, tenant))

	got, err := repo.GetByAPIKey(ctx, "sk-acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.ID)
	require.NotNil(t, got.Policies.Default)
	assert.Equal(t, 48*time.Hour, got.Policies.Default.Window.Std())
	assert.Equal(t, int64(50), got.Ledger.MaxNegativeBalance)

	got.Name = "Acme Corp"
	got.Version = 2
	require.NoError(t, repo.Update(ctx, got))

	got, err = repo.GetByID(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)
	assert.Equal(t, int64(2), got.Version)

	list, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, "acme"))
	_, err = repo.GetByID(ctx, "acme")
	assert.ErrorIs(t, err, model.ErrTenantNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "acme"), model.ErrTenantNotFound)
	assert.ErrorIs(t, repo.Update(ctx, tenant), model.ErrTenantNotFound)
}

func TestIdempotencyRepo(t *testing.T) {
	repo := NewIdempotencyRepo(newTestDB(t))
	ctx := context.Background()

	_, hit := repo.GetOrLock(ctx, "acme:k")
	assert.False(t, hit)

	rec, hit := repo.GetOrLock(ctx, "acme:k")
	require.True(t, hit)
	assert.True(t, rec.Processing)

	repo.Save(ctx, "acme:k", 200, []byte(`{}`))
	rec, hit = repo.GetOrLock(ctx, "acme:k")
	require.True(t, hit)
	assert.Equal(t, 200, rec.Status)
	assert.False(t, rec.Processing)

	repo.Unlock(ctx, "acme:k")
	_, hit = repo.GetOrLock(ctx, "acme:k")
	assert.False(t, hit)
}

func TestAuditRepo(t *testing.T) {
	repo := NewAuditRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, &model.AuditLog{ID: "1", TenantID: "acme", Path: "/v1/x", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, repo.Insert(ctx, &model.AuditLog{ID: "2", TenantID: "acme", Path: "/v1/y", CreatedAt: now, Context: map[string]any{"verdict": "ALLOW"}}))
	require.NoError(t, repo.Insert(ctx, &model.AuditLog{ID: "2", TenantID: "acme", CreatedAt: now}))
	require.NoError(t, repo.Insert(ctx, &model.AuditLog{ID: "3", TenantID: "other", CreatedAt: now}))

	got, err := repo.List(ctx, "acme", 10, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "ALLOW", got[0].Context["verdict"])

	require.NoError(t, repo.Cleanup(ctx, 24*time.Hour))
	got, err = repo.List(ctx, "acme", 10, nil, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFraudProfileRepo(t *testing.T) {
	repo := NewFraudProfileRepo(newTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Put(ctx, &model.FraudProfile{TenantID: "acme", MemberID: "m1", Score: 10}, time.Hour))
	require.NoError(t, repo.Put(ctx, &model.FraudProfile{TenantID: "acme", MemberID: "m1", Score: 20}, time.Hour))

	got, err := repo.Get(ctx, "acme", "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 20, got.Score)

	now = now.Add(2 * time.Hour)
	got, err = repo.Get(ctx, "acme", "m1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Cleanup(ctx))
	require.NoError(t, repo.Delete(ctx, "acme", "m1"))
}
