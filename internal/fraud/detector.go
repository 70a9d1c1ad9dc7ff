// Package fraud screens ledger operations against per-member behaviour profiles.
//
// Evaluate is consulted before a ledger commit; Record folds the committed
// operation into the profile afterwards, so rejected operations never reach it.
package fraud

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/GoPolymarket/pointgate/internal/pkg/metrics"
)

type OpKind string

const (
	OpAward   OpKind = "award"
	OpRedeem  OpKind = "redeem"
	OpRevoke  OpKind = "revoke"
	OpPromote OpKind = "promote"
)

type Verdict string

const (
	Allow Verdict = "ALLOW"
	Flag  Verdict = "FLAG"
	Deny  Verdict = "DENY"
)

type Action string

const (
	ActionNone            Action = ""
	ActionFlagAccount     Action = "FLAG_ACCOUNT"
	ActionSuspendEarning  Action = "SUSPEND_EARNING"
	ActionBlockRedemption Action = "BLOCK_REDEMPTION"
)

type Tier string

const (
	TierNormal     Tier = "normal"
	TierMonitor    Tier = "monitor"
	TierRestricted Tier = "restricted"
	TierSuspended  Tier = "suspended"
)

// ProposedOp is what the ledger is about to do.
// For revokes PurchasedAt is the purchase time of the cancelled order;
// for redeems Orders lists the orders whose records would be consumed.
type ProposedOp struct {
	Kind        OpKind
	OrderID     string
	Orders      []string
	Amount      int64
	PurchasedAt time.Time
	At          time.Time
}

// CommittedOp is an operation that is already durable.
// For redeems Orders lists the orders whose records were consumed.
type CommittedOp struct {
	Kind        OpKind
	OrderID     string
	Orders      []string
	Amount      int64
	PurchasedAt time.Time
	At          time.Time
}

type Result struct {
	Verdict Verdict  `json:"verdict"`
	Tier    Tier     `json:"tier"`
	Action  Action   `json:"action,omitempty"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Err converts a Deny into a FraudBlocked error; other verdicts return nil.
func (r Result) Err() error {
	if r.Verdict != Deny {
		return nil
	}
	return apperrors.NewFraudBlocked(string(r.Tier), string(r.Action), r.Score)
}

// Store persists profiles. Get returns nil, nil when the member has none.
type Store interface {
	Get(ctx context.Context, tenantID, memberID string) (*model.FraudProfile, error)
	Put(ctx context.Context, p *model.FraudProfile, ttl time.Duration) error
	Delete(ctx context.Context, tenantID, memberID string) error
}

type Detector struct {
	store    Store
	patterns []pattern
	now      func() time.Time
}

type Option func(*Detector)

func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

func NewDetector(store Store, opts ...Option) *Detector {
	d := &Detector{
		store:    store,
		patterns: defaultPatterns(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Evaluate screens a proposed operation. Revoke and Promote are never denied.
func (d *Detector) Evaluate(ctx context.Context, tenant *model.Tenant, memberID string, op ProposedOp) (Result, error) {
	if tenant.Fraud.Disabled {
		return Result{Verdict: Allow, Tier: TierNormal}, nil
	}
	rules := tenant.Fraud.WithDefaults()
	at := op.At
	if at.IsZero() {
		at = d.now()
	}

	p, err := d.load(ctx, tenant.ID, memberID)
	if err != nil {
		return Result{}, err
	}
	p.Prune(at, rules.LongestWindow(), rules.MaxEvents)

	res := d.assess(p, rules, at)

	switch op.Kind {
	case OpAward:
		if p.EarningSuspended {
			res.Verdict, res.Action, res.Tier = Deny, ActionSuspendEarning, TierSuspended
			res.Reasons = append(res.Reasons, "earning suspended after repeated purchase/cancel cycles")
		}
	case OpRedeem:
		for _, orderID := range op.Orders {
			if p.ChainBlocked(orderID) {
				res.Verdict, res.Action = Deny, ActionBlockRedemption
				res.Reasons = append(res.Reasons, "redemption blocked for order "+orderID)
				break
			}
		}
	case OpRevoke:
		if !rules.HitAndRun.Disabled && hitAndRun(p, rules.HitAndRun, op.OrderID, op.PurchasedAt, at) {
			res.Verdict = Flag
			res.Action = ActionBlockRedemption
			res.Reasons = append(res.Reasons, "redeem shortly after purchase followed by cancel of order "+op.OrderID)
		}
		if res.Verdict == Deny {
			res.Verdict = Flag
		}
	case OpPromote:
		res.Verdict = Allow
	}

	metrics.FraudDecisions.WithLabelValues(string(res.Verdict), string(res.Action)).Inc()
	if res.Verdict != Allow || res.Tier == TierMonitor {
		logger.Info("fraud screening",
			"tenant_id", tenant.ID,
			"member_id", memberID,
			"op", op.Kind,
			"verdict", res.Verdict,
			"tier", res.Tier,
			"action", res.Action,
			"score", res.Score,
			"reasons", strings.Join(res.Reasons, "; "),
		)
	}
	return res, nil
}

// assess applies the pattern list and the risk bands. Award and Redeem are denied
// in the suspended band; the restricted band flags.
func (d *Detector) assess(p *model.FraudProfile, rules model.FraudRules, at time.Time) Result {
	res := Result{Verdict: Allow}
	score := int(math.Round(cancelRate(p, rules.SerialCanceller.Window.Std(), at) * 30))
	for _, pat := range d.patterns {
		if pat.disabled(rules) {
			continue
		}
		w, action, reason := pat.score(p, rules, at)
		if w == 0 {
			continue
		}
		score += w
		if res.Action == ActionNone {
			res.Action = action
		}
		res.Reasons = append(res.Reasons, reason)
	}
	res.Score = clamp(score, 0, 100)
	res.Tier = band(res.Score, rules.Bands)

	switch res.Tier {
	case TierSuspended:
		res.Verdict = Deny
	case TierRestricted:
		res.Verdict = Flag
	}
	return res
}

// Record folds a committed operation into the member's profile.
func (d *Detector) Record(ctx context.Context, tenant *model.Tenant, memberID string, op CommittedOp) error {
	if tenant.Fraud.Disabled {
		return nil
	}
	rules := tenant.Fraud.WithDefaults()
	at := op.At
	if at.IsZero() {
		at = d.now()
	}

	p, err := d.load(ctx, tenant.ID, memberID)
	if err != nil {
		return err
	}

	ev := model.BehaviorEvent{OrderID: op.OrderID, Amount: op.Amount, At: at}
	switch op.Kind {
	case OpAward:
		ev.Kind = model.BehaviorPurchase
		p.Events = append(p.Events, ev)
	case OpRevoke:
		ev.Kind = model.BehaviorCancel
		ev.PurchasedAt = op.PurchasedAt
		p.Events = append(p.Events, ev)
	case OpRedeem:
		// one event per consumed order so a later cancel can match its own chain
		ev.Kind = model.BehaviorRedeem
		if len(op.Orders) == 0 {
			p.Events = append(p.Events, ev)
		}
		seen := make(map[string]bool, len(op.Orders))
		for _, orderID := range op.Orders {
			if seen[orderID] {
				continue
			}
			seen[orderID] = true
			ev.OrderID = orderID
			p.Events = append(p.Events, ev)
		}
	default:
		return nil
	}
	p.Prune(at, rules.LongestWindow(), rules.MaxEvents)

	if ev.Kind == model.BehaviorCancel {
		if !rules.HitAndRun.Disabled && hitAndRun(p, rules.HitAndRun, op.OrderID, op.PurchasedAt, at) {
			if p.BlockedChains == nil {
				p.BlockedChains = make(map[string]time.Time)
			}
			p.BlockedChains[op.OrderID] = at
			logger.Warn("redemption chain blocked", "tenant_id", tenant.ID, "member_id", memberID, "order_id", op.OrderID)
		}
		if !rules.CyclicAbuser.Disabled && !p.EarningSuspended &&
			cycles(p, rules.CyclicAbuser.Window.Std(), at) >= rules.CyclicAbuser.Cycles {
			p.EarningSuspended = true
			suspendedAt := at
			p.SuspendedAt = &suspendedAt
			logger.Warn("earning suspended", "tenant_id", tenant.ID, "member_id", memberID)
		}
	}

	p.Score = d.assess(p, rules, at).Score
	p.UpdatedAt = at
	if err := d.store.Put(ctx, p, rules.LongestWindow()); err != nil {
		return fmt.Errorf("failed to save fraud profile: %w", err)
	}
	return nil
}

// Clear drops a member's profile, lifting any suspension and chain blocks.
func (d *Detector) Clear(ctx context.Context, tenantID, memberID string) error {
	if err := d.store.Delete(ctx, tenantID, memberID); err != nil {
		return fmt.Errorf("failed to clear fraud profile: %w", err)
	}
	logger.Info("fraud profile cleared", "tenant_id", tenantID, "member_id", memberID)
	return nil
}

// BlockedChains returns the orders whose points the member may not redeem.
// It is empty when screening is disabled for the tenant.
func (d *Detector) BlockedChains(ctx context.Context, tenant *model.Tenant, memberID string) (map[string]bool, error) {
	if tenant.Fraud.Disabled {
		return nil, nil
	}
	p, err := d.load(ctx, tenant.ID, memberID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(p.BlockedChains))
	for orderID := range p.BlockedChains {
		out[orderID] = true
	}
	return out, nil
}

// Profile returns the stored profile or an empty one.
func (d *Detector) Profile(ctx context.Context, tenantID, memberID string) (*model.FraudProfile, error) {
	return d.load(ctx, tenantID, memberID)
}

func (d *Detector) load(ctx context.Context, tenantID, memberID string) (*model.FraudProfile, error) {
	p, err := d.store.Get(ctx, tenantID, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fraud profile: %w", err)
	}
	if p == nil {
		p = &model.FraudProfile{TenantID: tenantID, MemberID: memberID}
	}
	return p, nil
}

func band(score int, b model.RiskBands) Tier {
	switch {
	case score >= b.Suspended:
		return TierSuspended
	case score >= b.Restricted:
		return TierRestricted
	case score >= b.Monitor:
		return TierMonitor
	default:
		return TierNormal
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
