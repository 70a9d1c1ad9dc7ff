package fraud

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Detector, *model.Tenant) {
	t.Helper()
	return NewDetector(NewMemoryStore(), WithClock(func() time.Time { return t0 })), &model.Tenant{ID: "acme"}
}

func TestCyclicAbuserSuspendsEarning(t *testing.T) {
	d, tenant := setup(t)
	ctx := context.Background()

	at := t0
	for i := 1; i <= 3; i++ {
		order := fmt.Sprintf("o%d", i)
		res, err := d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpAward, OrderID: order, Amount: 100, At: at})
		require.NoError(t, err)
		require.NotEqual(t, Deny, res.Verdict, "award %d", i)
		require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: order, Amount: 100, At: at}))

		at = at.Add(72 * time.Hour)
		require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpRevoke, OrderID: order, Amount: 100, PurchasedAt: at.Add(-72 * time.Hour), At: at}))
		at = at.Add(24 * time.Hour)
	}

	res, err := d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpAward, OrderID: "o4", Amount: 100, At: at})
	require.NoError(t, err)
	assert.Equal(t, Deny, res.Verdict)
	assert.Equal(t, ActionSuspendEarning, res.Action)

	err = res.Err()
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrFraudBlocked))

	// other members of the tenant are unaffected
	other, err := d.Evaluate(ctx, tenant, "m2", ProposedOp{Kind: OpAward, OrderID: "x", Amount: 10, At: at})
	require.NoError(t, err)
	assert.Equal(t, Allow, other.Verdict)

	require.NoError(t, d.Clear(ctx, tenant.ID, "m1"))
	res, err = d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpAward, OrderID: "o5", Amount: 100, At: at})
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Verdict)
}

func TestHitAndRunBlocksRedemptionChain(t *testing.T) {
	d, tenant := setup(t)
	ctx := context.Background()
	purchase := t0

	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: "o1", Amount: 100, At: purchase}))
	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: "o2", Amount: 50, At: purchase}))
	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpRedeem, Orders: []string{"o1"}, Amount: 60, At: purchase.Add(24 * time.Hour)}))

	cancelAt := purchase.Add(40 * time.Hour)
	res, err := d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpRevoke, OrderID: "o1", PurchasedAt: purchase, At: cancelAt})
	require.NoError(t, err)
	assert.Equal(t, Flag, res.Verdict)
	assert.Equal(t, ActionBlockRedemption, res.Action)

	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpRevoke, OrderID: "o1", Amount: 60, PurchasedAt: purchase, At: cancelAt}))

	res, err = d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpRedeem, Orders: []string{"o2", "o1"}, Amount: 10, At: cancelAt.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, Deny, res.Verdict)
	assert.Equal(t, ActionBlockRedemption, res.Action)

	res, err = d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpRedeem, Orders: []string{"o2"}, Amount: 10, At: cancelAt.Add(time.Hour)})
	require.NoError(t, err)
	assert.NotEqual(t, Deny, res.Verdict)

	blocked, err := d.BlockedChains(ctx, tenant, "m1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"o1": true}, blocked)
}

func TestCancelOfUnredeemedOrderIsNotHitAndRun(t *testing.T) {
	d, tenant := setup(t)
	ctx := context.Background()

	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: "o1", Amount: 100, At: t0}))
	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: "o2", Amount: 50, At: t0}))
	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpRedeem, Orders: []string{"o2"}, Amount: 50, At: t0.Add(2 * time.Hour)}))

	res, err := d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpRevoke, OrderID: "o1", PurchasedAt: t0, At: t0.Add(10 * time.Hour)})
	require.NoError(t, err)
	assert.NotEqual(t, ActionBlockRedemption, res.Action)

	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpRevoke, OrderID: "o1", Amount: 100, PurchasedAt: t0, At: t0.Add(10 * time.Hour)}))
	blocked, err := d.BlockedChains(ctx, tenant, "m1")
	require.NoError(t, err)
	assert.Empty(t, blocked)
}

func TestLateCancelIsNotHitAndRun(t *testing.T) {
	d, tenant := setup(t)
	ctx := context.Background()

	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: "o1", Amount: 100, At: t0}))
	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpRedeem, Orders: []string{"o1"}, Amount: 60, At: t0.Add(2 * time.Hour)}))

	res, err := d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpRevoke, OrderID: "o1", PurchasedAt: t0, At: t0.Add(72 * time.Hour)})
	require.NoError(t, err)
	assert.NotEqual(t, ActionBlockRedemption, res.Action)
}

func TestSerialCancellerFlagsAccount(t *testing.T) {
	d, tenant := setup(t)
	ctx := context.Background()

	// two purchases, two cancels: rate 100% pushes the score to 60, restricted from 61 is not reached
	for i := 0; i < 2; i++ {
		order := fmt.Sprintf("o%d", i)
		require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: order, At: t0}))
		require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpRevoke, OrderID: order, PurchasedAt: t0, At: t0.Add(96 * time.Hour)}))
	}

	res, err := d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpAward, OrderID: "o9", At: t0.Add(100 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Verdict)
	assert.Equal(t, TierMonitor, res.Tier)
	assert.Equal(t, ActionFlagAccount, res.Action)
	assert.Equal(t, 60, res.Score)

	p, err := d.Profile(ctx, tenant.ID, "m1")
	require.NoError(t, err)
	assert.Len(t, p.Events, 4)
	assert.False(t, p.EarningSuspended)
}

func TestBandsAreTenantConfigurable(t *testing.T) {
	d, tenant := setup(t)
	tenant.Fraud.Bands = model.RiskBands{Monitor: 10, Restricted: 20, Suspended: 50}
	ctx := context.Background()

	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: "o1", At: t0}))
	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpRevoke, OrderID: "o1", PurchasedAt: t0, At: t0.Add(96 * time.Hour)}))

	res, err := d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpRedeem, Amount: 5, At: t0.Add(97 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, Deny, res.Verdict)
	assert.Equal(t, TierSuspended, res.Tier)

	// revocations still go through in the suspended band
	res, err = d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpRevoke, OrderID: "o2", At: t0.Add(97 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, Flag, res.Verdict)
}

func TestDisabledScreeningAllowsEverything(t *testing.T) {
	d, tenant := setup(t)
	tenant.Fraud.Disabled = true
	ctx := context.Background()

	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpRevoke, OrderID: "o1", At: t0}))
	res, err := d.Evaluate(ctx, tenant, "m1", ProposedOp{Kind: OpAward, At: t0})
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Verdict)

	p, err := d.Profile(ctx, tenant.ID, "m1")
	require.NoError(t, err)
	assert.Empty(t, p.Events)
}

func TestProfileIsPrunedToLongestWindow(t *testing.T) {
	d, tenant := setup(t)
	ctx := context.Background()

	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: "old", At: t0}))
	require.NoError(t, d.Record(ctx, tenant, "m1", CommittedOp{Kind: OpAward, OrderID: "new", At: t0.Add(61 * 24 * time.Hour)}))

	p, err := d.Profile(ctx, tenant.ID, "m1")
	require.NoError(t, err)
	require.Len(t, p.Events, 1)
	assert.Equal(t, "new", p.Events[0].OrderID)
}
