package chain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bridge struct {
	mu     sync.Mutex
	minted []Request
	burned []Request
	fail   bool
}

func (b *bridge) Mint(ctx context.Context, req Request) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return "", errors.New("node unavailable")
	}
	b.minted = append(b.minted, req)
	return "0xabc", nil
}

func (b *bridge) Burn(ctx context.Context, req Request) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.burned = append(b.burned, req)
	return "0xdef", nil
}

func newAdapter(t *testing.T) (*Adapter, *bridge) {
	t.Helper()
	b := &bridge{}
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("points", b))
	t.Cleanup(srv.Stop)
	a := New(rpc.DialInProc(srv), "points")
	t.Cleanup(a.Close)
	return a, b
}

var chainTenant = &model.Tenant{
	ID:    "acme",
	Chain: model.ChainTarget{Enabled: true, Contract: "0x00000000000000000000000000000000000000aa"},
}

func TestMintOnAvailable(t *testing.T) {
	a, b := newAdapter(t)
	err := a.Deliver(context.Background(), chainTenant, model.EventBody{
		Event: model.EventPointsAvailable, TenantID: "acme", MemberID: "m1", Amount: 100,
		TransactionID: "7", IdempotencyKey: "7-2",
	})
	require.NoError(t, err)
	require.Len(t, b.minted, 1)
	assert.Equal(t, int64(100), b.minted[0].Amount)
	assert.Equal(t, "7-2", b.minted[0].IdempotencyKey)
	require.NotNil(t, b.minted[0].Contract)
	assert.Equal(t, common.HexToAddress(chainTenant.Chain.Contract), *b.minted[0].Contract)
}

func TestBurnOnlyForSpendablePoints(t *testing.T) {
	a, b := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Deliver(ctx, chainTenant, model.EventBody{Event: model.EventPointsRedeemed, Amount: 10}))
	require.NoError(t, a.Deliver(ctx, chainTenant, model.EventBody{Event: model.EventPointsRevoked, Amount: 5, Data: map[string]any{"from": "PENDING"}}))
	require.NoError(t, a.Deliver(ctx, chainTenant, model.EventBody{Event: model.EventPointsRevoked, Amount: 5, Data: map[string]any{"from": "AVAILABLE"}}))
	require.NoError(t, a.Deliver(ctx, chainTenant, model.EventBody{Event: model.EventPointsAwarded, Amount: 5}))

	assert.Len(t, b.burned, 2)
	assert.Empty(t, b.minted)
}

func TestSkipsDisabledTenantsAndRejectsBadAddresses(t *testing.T) {
	a, b := newAdapter(t)
	ctx := context.Background()
	ev := model.EventBody{Event: model.EventPointsAvailable, Amount: 1}

	require.NoError(t, a.Deliver(ctx, &model.Tenant{ID: "off"}, ev))
	require.NoError(t, a.Deliver(ctx, nil, ev))

	bad := &model.Tenant{ID: "bad", Chain: model.ChainTarget{Enabled: true, Contract: "not-an-address"}}
	assert.Error(t, a.Deliver(ctx, bad, ev))

	ev.Data = map[string]any{"wallet": "0x123"}
	assert.Error(t, a.Deliver(ctx, chainTenant, ev))
	assert.Empty(t, b.minted)
}

func TestBridgeErrorsPropagate(t *testing.T) {
	a, b := newAdapter(t)
	b.fail = true
	err := a.Deliver(context.Background(), chainTenant, model.EventBody{Event: model.EventPointsAvailable, Amount: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "points_mint")
}
