// Package refund turns a cancellation into a concrete revoke instruction.
// It reads transactions but never changes them.
package refund

import (
	"sort"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
)

// Input is everything Compute needs. Target and Siblings are grant records of the
// same order; their Amount is what is still live on each grant.
type Input struct {
	Target       *model.PointTransaction
	Siblings     []*model.PointTransaction
	Cancellation model.CancellationContext
	Rules        model.RefundRules
	Requested    int64
	// Cascaded holds the points already revoked from each dependent by earlier
	// cascades of the same bundle, keyed by the dependent's transaction id.
	Cascaded map[int64]int64
	Now      time.Time
}

type Line struct {
	TransactionID int64 `json:"transaction_id,string"`
	Amount        int64 `json:"amount"`
	Cascade       bool  `json:"cascade,omitempty"`
}

// Instruction is consumed by the ledger's revoke path only.
type Instruction struct {
	Amount                 int64              `json:"amount"`
	Lines                  []Line             `json:"lines"`
	AffectedTransactionIDs []int64            `json:"affected_transaction_ids"`
	Method                 model.RefundMethod `json:"method"`
}

var one = decimal.NewFromInt(1)

// Compute resolves the revoke amount for the target grant plus any bundle cascade.
func Compute(in Input) (Instruction, error) {
	if in.Target == nil {
		return Instruction{}, apperrors.NewValidation("refund target is required")
	}
	if in.Requested < 0 {
		return Instruction{}, apperrors.NewValidation("revoke amount must not be negative")
	}
	c := in.Cancellation
	if c.RefundValue.IsNegative() || c.Fee.IsNegative() {
		return Instruction{}, apperrors.NewValidation("refund value and fee must not be negative")
	}

	method := c.Method
	if method == "" {
		method = in.Rules.DefaultMethod
	}
	if method == "" {
		method = model.RefundProportional
	}

	t := in.Target
	amount, err := targetAmount(method, t, c, in.Rules)
	if err != nil {
		return Instruction{}, err
	}
	amount = amount.Mul(legShare(t.Item.PaymentLegs, c.RefundedLegs))
	amount = amount.Mul(scheduleRate(t.Decision, t.PurchasedAt, in.Now))

	target := amount.Round(0).IntPart()
	if in.Requested > 0 && target > in.Requested {
		target = in.Requested
	}
	target = capLive(t, target)

	out := Instruction{Method: method}
	out.add(Line{TransactionID: t.ID, Amount: target})

	if target > 0 && t.Awarded > 0 && t.Item.ItemID != "" && in.Rules.CascadeRate.IsPositive() {
		share := decimal.NewFromInt(target).Div(decimal.NewFromInt(t.Awarded))
		for _, s := range in.Siblings {
			if s.ID == t.ID || s.Item.DependsOn != t.Item.ItemID {
				continue
			}
			out.add(Line{TransactionID: s.ID, Amount: capLive(s, cascadeAmount(s, in.Rules.CascadeRate, share, in.Cascaded[s.ID])), Cascade: true})
		}
	}

	if out.Amount == 0 {
		return Instruction{}, apperrors.NewValidation("nothing left to revoke on transaction %d", t.ID)
	}
	return out, nil
}

func (i *Instruction) add(l Line) {
	if l.Amount <= 0 {
		return
	}
	i.Lines = append(i.Lines, l)
	i.AffectedTransactionIDs = append(i.AffectedTransactionIDs, l.TransactionID)
	i.Amount += l.Amount
}

func targetAmount(method model.RefundMethod, t *model.PointTransaction, c model.CancellationContext, rules model.RefundRules) (decimal.Decimal, error) {
	awarded := decimal.NewFromInt(t.Awarded)
	base := baseValue(t.Item)
	refunded := c.RefundValue
	if refunded.IsZero() {
		refunded = base
	}

	switch method {
	case model.RefundItem:
		return awarded, nil
	case model.RefundProportional:
		return awarded.Mul(ratio(refunded, base)), nil
	case model.RefundTiered:
		return awarded.Mul(ratio(refunded, base)).Mul(tierRate(rules.Tiers, refunded)), nil
	case model.RefundFeeAdjusted:
		net := refunded.Sub(c.Fee)
		if net.IsNegative() {
			net = decimal.Zero
		}
		return awarded.Mul(ratio(net, base)), nil
	default:
		return decimal.Zero, apperrors.NewValidation("unknown refund method %q", method)
	}
}

// baseValue is the order value for order-level grants and the item price otherwise.
func baseValue(item model.OrderItem) decimal.Decimal {
	if item.ItemID == "" && item.OrderValue.IsPositive() {
		return item.OrderValue
	}
	if item.Price.IsPositive() {
		return item.Price
	}
	return item.OrderValue
}

func ratio(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() || part.GreaterThanOrEqual(whole) {
		return one
	}
	return part.Div(whole)
}

func tierRate(tiers []model.RefundTier, value decimal.Decimal) decimal.Decimal {
	for _, tier := range tiers {
		if tier.UpTo == nil || value.LessThanOrEqual(*tier.UpTo) {
			return tier.Rate
		}
	}
	return one
}

// legShare is the part of an award earned by the refunded legs. Legs flagged
// NoPoints never earned, so refunding them revokes nothing.
func legShare(legs []model.PaymentLeg, refunded []string) decimal.Decimal {
	if len(legs) == 0 || len(refunded) == 0 {
		return one
	}
	want := make(map[string]bool, len(refunded))
	for _, id := range refunded {
		want[id] = true
	}
	earning, part := decimal.Zero, decimal.Zero
	for _, leg := range legs {
		if leg.NoPoints {
			continue
		}
		earning = earning.Add(leg.Amount)
		if want[leg.ID] {
			part = part.Add(leg.Amount)
		}
	}
	if !earning.IsPositive() {
		return decimal.Zero
	}
	return part.Div(earning)
}

// scheduleRate picks the latest partial-revoke step reached since purchase.
func scheduleRate(d model.Decision, purchasedAt, now time.Time) decimal.Decimal {
	if d.Handling != model.HandlingPartialRevoke || len(d.Schedule) == 0 {
		return one
	}
	steps := append([]model.RevokeStep(nil), d.Schedule...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].After < steps[j].After })

	elapsed := now.Sub(purchasedAt)
	rate := one
	for _, s := range steps {
		if s.After.Std() > elapsed {
			break
		}
		rate = s.Rate
	}
	return rate
}

// cascadeAmount scales a dependent's cascade by the refunded share of the bundle.
// Across all revokes of the bundle a dependent loses at most Awarded × rate.
func cascadeAmount(dep *model.PointTransaction, rate, share decimal.Decimal, already int64) int64 {
	full := decimal.NewFromInt(dep.Awarded).Mul(rate)
	n := full.Mul(share).Round(0).IntPart()
	if left := full.Round(0).IntPart() - already; n > left {
		n = left
	}
	return max(n, 0)
}

func capLive(t *model.PointTransaction, n int64) int64 {
	if !t.State.Live() || t.Amount <= 0 {
		return 0
	}
	if n > t.Amount {
		return t.Amount
	}
	return n
}
