package fraud

import (
	"fmt"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
)

// pattern is one entry of the abuse rule table. score returns the weight it adds
// to the member's risk score, zero when the pattern does not hold.
type pattern struct {
	name     string
	disabled func(model.FraudRules) bool
	score    func(p *model.FraudProfile, r model.FraudRules, at time.Time) (int, Action, string)
}

func defaultPatterns() []pattern {
	return []pattern{
		{
			name:     "serial_canceller",
			disabled: func(r model.FraudRules) bool { return r.SerialCanceller.Disabled },
			score: func(p *model.FraudProfile, r model.FraudRules, at time.Time) (int, Action, string) {
				rule := r.SerialCanceller
				from := at.Add(-rule.Window.Std())
				if len(p.Since(model.BehaviorPurchase, from)) < rule.MinPurchases {
					return 0, ActionNone, ""
				}
				rate := cancelRate(p, rule.Window.Std(), at)
				if rate <= rule.Rate {
					return 0, ActionNone, ""
				}
				return rule.Weight, ActionFlagAccount, fmt.Sprintf("cancellation rate %.0f%% above %.0f%%", rate*100, rule.Rate*100)
			},
		},
		{
			name:     "cyclic_abuser",
			disabled: func(r model.FraudRules) bool { return r.CyclicAbuser.Disabled },
			score: func(p *model.FraudProfile, r model.FraudRules, at time.Time) (int, Action, string) {
				n := cycles(p, r.CyclicAbuser.Window.Std(), at)
				if !p.EarningSuspended && n < r.CyclicAbuser.Cycles {
					return 0, ActionNone, ""
				}
				return r.CyclicAbuser.Weight, ActionSuspendEarning, fmt.Sprintf("%d purchase/cancel cycles", n)
			},
		},
		{
			name:     "hit_and_run",
			disabled: func(r model.FraudRules) bool { return r.HitAndRun.Disabled },
			score: func(p *model.FraudProfile, r model.FraudRules, _ time.Time) (int, Action, string) {
				n := len(p.BlockedChains)
				if n == 0 {
					return 0, ActionNone, ""
				}
				w := n * r.HitAndRun.Weight
				if limit := 2 * r.HitAndRun.Weight; w > limit {
					w = limit
				}
				return w, ActionBlockRedemption, fmt.Sprintf("%d blocked redemption chains", n)
			},
		},
	}
}

// cancelRate is cancels over purchases inside the window, capped at 1.
func cancelRate(p *model.FraudProfile, window time.Duration, at time.Time) float64 {
	from := at.Add(-window)
	cancels := len(p.Since(model.BehaviorCancel, from))
	if cancels == 0 {
		return 0
	}
	purchases := len(p.Since(model.BehaviorPurchase, from))
	if purchases == 0 {
		return 1
	}
	rate := float64(cancels) / float64(purchases)
	if rate > 1 {
		return 1
	}
	return rate
}

// cycles counts cancels that follow an uncancelled purchase within the window.
// Events must be in time order, which Prune guarantees.
func cycles(p *model.FraudProfile, window time.Duration, at time.Time) int {
	from := at.Add(-window)
	open, n := 0, 0
	for _, ev := range p.Events {
		if ev.At.Before(from) || ev.At.After(at) {
			continue
		}
		switch ev.Kind {
		case model.BehaviorPurchase:
			open++
		case model.BehaviorCancel:
			if open > 0 {
				open--
				n++
			}
		}
	}
	return n
}

// hitAndRun reports whether points of orderID were redeemed within RedeemWithin
// of the purchase and the cancel at is within CancelWithin of it.
func hitAndRun(p *model.FraudProfile, rule model.HitAndRunRule, orderID string, purchasedAt, at time.Time) bool {
	if orderID == "" || purchasedAt.IsZero() || at.After(purchasedAt.Add(rule.CancelWithin.Std())) {
		return false
	}
	limit := purchasedAt.Add(rule.RedeemWithin.Std())
	for _, ev := range p.Since(model.BehaviorRedeem, purchasedAt) {
		if ev.OrderID == orderID && !ev.At.After(limit) && !ev.At.After(at) {
			return true
		}
	}
	return false
}
