package model

import (
	"sort"
	"time"
)

type BehaviorKind string

const (
	BehaviorPurchase BehaviorKind = "purchase"
	BehaviorCancel   BehaviorKind = "cancel"
	BehaviorRedeem   BehaviorKind = "redeem"
)

// BehaviorEvent is one committed member action. PurchasedAt is set on cancels.
type BehaviorEvent struct {
	Kind        BehaviorKind `json:"kind"`
	OrderID     string       `json:"order_id,omitempty"`
	Amount      int64        `json:"amount"`
	At          time.Time    `json:"at"`
	PurchasedAt time.Time    `json:"purchased_at,omitempty"`
}

// FraudProfile is the rolling behaviour window of one member.
type FraudProfile struct {
	TenantID         string               `json:"tenant_id"`
	MemberID         string               `json:"member_id"`
	Events           []BehaviorEvent      `json:"events"`
	BlockedChains    map[string]time.Time `json:"blocked_chains,omitempty"`
	EarningSuspended bool                 `json:"earning_suspended"`
	SuspendedAt      *time.Time           `json:"suspended_at,omitempty"`
	Score            int                  `json:"score"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Prune drops events older than window before now and keeps at most max of the newest.
func (p *FraudProfile) Prune(now time.Time, window time.Duration, max int) {
	sort.SliceStable(p.Events, func(i, j int) bool { return p.Events[i].At.Before(p.Events[j].At) })
	cutoff := now.Add(-window)
	start := 0
	for start < len(p.Events) && p.Events[start].At.Before(cutoff) {
		start++
	}
	kept := p.Events[start:]
	if max > 0 && len(kept) > max {
		kept = kept[len(kept)-max:]
	}
	p.Events = append([]BehaviorEvent(nil), kept...)
}

// Since returns events of kind at or after from.
func (p *FraudProfile) Since(kind BehaviorKind, from time.Time) []BehaviorEvent {
	var out []BehaviorEvent
	for _, ev := range p.Events {
		if ev.Kind == kind && !ev.At.Before(from) {
			out = append(out, ev)
		}
	}
	return out
}

func (p *FraudProfile) ChainBlocked(orderID string) bool {
	if orderID == "" || p.BlockedChains == nil {
		return false
	}
	_, ok := p.BlockedChains[orderID]
	return ok
}
