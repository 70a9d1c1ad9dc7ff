// Package ledger owns point transactions and every state change they go through.
//
// All writes for one member run under that member's lock and land in a single
// Store.Commit together with their history rows and outbox events.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/GoPolymarket/pointgate/internal/fraud"
	"github.com/GoPolymarket/pointgate/internal/manager"
	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/GoPolymarket/pointgate/internal/pkg/metrics"
	"github.com/GoPolymarket/pointgate/internal/pkg/tracing"
	"github.com/GoPolymarket/pointgate/internal/policy"
	"github.com/GoPolymarket/pointgate/internal/refund"
	"github.com/bwmarrin/snowflake"
)

// cascadeReason marks revocations a bundle cancel applied to its dependents.
const cascadeReason = "bundle cascade"

// TenantProvider returns the live config of a tenant, false if none was ever loaded.
type TenantProvider interface {
	Tenant(tenantID string) (*model.Tenant, bool)
}

type Service struct {
	store   Store
	tenants TenantProvider
	policy  *policy.Engine
	fraud   *fraud.Detector
	locker  *manager.MemberLocker
	ids     *snowflake.Node
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, tenants TenantProvider, engine *policy.Engine, detector *fraud.Detector, locker *manager.MemberLocker, nodeID int64, opts ...Option) (*Service, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}
	s := &Service{
		store:   store,
		tenants: tenants,
		policy:  engine,
		fraud:   detector,
		locker:  locker,
		ids:     node,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Award grants points for one purchased item. The policy decision is stored with
// the transaction; immediately available grants are promoted in the same commit.
func (s *Service) Award(ctx context.Context, tenantID, memberID string, req model.AwardPointsRequest) (res *model.AwardResult, err error) {
	ctx, span := tracing.Start(ctx, "ledger.Award", tenantID, memberID)
	defer func() { tracing.End(span, err); observe("award", err) }()

	tenant, ok := s.tenants.Tenant(tenantID)
	if !ok {
		return nil, apperrors.NewPolicyNotFound(tenantID)
	}
	if memberID == "" {
		return nil, apperrors.NewValidation("member id is required")
	}
	if req.Amount <= 0 {
		return nil, apperrors.NewValidation("amount must be positive, got %d", req.Amount)
	}
	if req.OrderID == "" {
		return nil, apperrors.NewValidation("order id is required")
	}

	now := s.now()
	purchasedAt := now
	if req.PurchasedAt != nil {
		if req.PurchasedAt.After(now) {
			return nil, apperrors.NewValidation("purchased_at is in the future")
		}
		purchasedAt = *req.PurchasedAt
	}

	decision, err := s.policy.Resolve(tenant, req.Item, purchasedAt, now)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, tenantID, memberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.store.ListMemberTransactions(ctx, tenantID, memberID)
	if err != nil {
		return nil, err
	}
	for _, tx := range existing {
		if isGrant(tx) && tx.OrderID == req.OrderID && tx.Item.ItemID == req.Item.ItemID {
			return nil, apperrors.NewValidation("order %s item %q already awarded as transaction %d", req.OrderID, req.Item.ItemID, tx.ID)
		}
	}

	verdict, err := s.fraud.Evaluate(ctx, tenant, memberID, fraud.ProposedOp{
		Kind: fraud.OpAward, OrderID: req.OrderID, Amount: req.Amount, At: now,
	})
	if err != nil {
		return nil, err
	}
	if verdict.Verdict == fraud.Deny {
		s.reportDenied(ctx, tenantID, memberID, fraud.OpAward, verdict, now)
		return nil, verdict.Err()
	}

	tx := &model.PointTransaction{
		ID:          s.ids.Generate().Int64(),
		TenantID:    tenantID,
		MemberID:    memberID,
		OrderID:     req.OrderID,
		ItemID:      req.Item.ItemID,
		Awarded:     req.Amount,
		Amount:      req.Amount,
		State:       model.StatePending,
		Seq:         1,
		Flagged:     verdict.Verdict == fraud.Flag,
		Decision:    decision,
		Item:        req.Item,
		PurchasedAt: purchasedAt,
		AvailableAt: decision.AvailableAt,
		ExpiresAt:   decision.ExpiresAt,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx.RootID = tx.ID

	b := &Batch{Inserts: []*model.PointTransaction{tx}}
	b.Transitions = append(b.Transitions, transition(tx, 1, "", model.StatePending, tx.Amount, 0, "award", now))
	if len(existing) == 0 {
		b.Events = append(b.Events, newEvent(tx, 1, model.EventMemberCreated, 0, now, nil))
	}
	b.Events = append(b.Events, newEvent(tx, 1, model.EventPointsAwarded, tx.Amount, now, map[string]any{
		"order_id":     tx.OrderID,
		"item_id":      tx.ItemID,
		"handling":     string(decision.Handling),
		"available_at": decision.AvailableAt.UTC(),
	}))
	if decision.Immediate(now) {
		tx.State = model.StateAvailable
		tx.Seq = 2
		b.Transitions = append(b.Transitions, transition(tx, 2, model.StatePending, model.StateAvailable, tx.Amount, 0, "available immediately", now))
		b.Events = append(b.Events, newEvent(tx, 2, model.EventPointsAvailable, tx.Amount, now, nil))
	}
	if tx.Flagged {
		b.Events = append(b.Events, newEvent(tx, tx.Seq, model.EventFraudDetected, 0, now, fraudData(fraud.OpAward, verdict)))
	}

	if err := s.store.Commit(ctx, b); err != nil {
		return nil, err
	}
	s.record(ctx, tenant, memberID, fraud.CommittedOp{Kind: fraud.OpAward, OrderID: tx.OrderID, Amount: tx.Amount, At: now})
	metrics.Points.WithLabelValues("award").Add(float64(tx.Amount))

	res = &model.AwardResult{Transaction: tx, Flagged: tx.Flagged}
	if tx.Flagged {
		res.Warnings = verdict.Reasons
	}
	return res, nil
}

// Promote moves a PENDING transaction to AVAILABLE once its window has passed.
// Calling it early, twice, or on a settled transaction is a no-op.
func (s *Service) Promote(ctx context.Context, tenantID string, txID int64) (*model.PointTransaction, error) {
	tx, _, err := s.advance(ctx, tenantID, txID, model.StateAvailable)
	return tx, err
}

// Expire moves a PENDING transaction to EXPIRED once ExpiresAt has passed and it
// could not have been promoted first.
func (s *Service) Expire(ctx context.Context, tenantID string, txID int64) (*model.PointTransaction, error) {
	tx, _, err := s.advance(ctx, tenantID, txID, model.StateExpired)
	return tx, err
}

// advance applies a conditional PENDING -> to transition and reports whether
// this call made the change.
func (s *Service) advance(ctx context.Context, tenantID string, txID int64, to model.State) (tx *model.PointTransaction, changed bool, err error) {
	op := "promote"
	eventType := model.EventPointsAvailable
	if to == model.StateExpired {
		op, eventType = "expire", model.EventPointsExpired
	}
	ctx, span := tracing.Start(ctx, "ledger."+op, tenantID, "")
	defer func() { tracing.End(span, err); observe(op, err) }()

	tx, err = s.store.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		return nil, false, err
	}
	unlock, err := s.locker.Lock(ctx, tenantID, tx.MemberID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	// re-read under the lock
	tx, err = s.store.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	if (to == model.StateAvailable && !promotable(tx, now)) || (to == model.StateExpired && !expirable(tx, now)) {
		return tx, false, nil
	}

	next := *tx
	next.State = to
	next.Seq++
	next.Version++
	next.UpdatedAt = now
	b := &Batch{
		Updates:     []Update{{Tx: &next, ExpectState: model.StatePending, ExpectVersion: tx.Version}},
		Transitions: []*model.Transition{transition(&next, next.Seq, model.StatePending, to, next.Amount, 0, op, now)},
		Events:      []*model.OutboxEvent{newEvent(&next, next.Seq, eventType, next.Amount, now, nil)},
	}
	if err := s.store.Commit(ctx, b); err != nil {
		if !apperrors.IsType(err, apperrors.ErrConcurrencyConflict) {
			return nil, false, err
		}
		// another writer may have applied the same transition
		cur, getErr := s.store.GetTransaction(ctx, tenantID, txID)
		if getErr == nil && cur.State == to {
			return cur, false, nil
		}
		return nil, false, err
	}
	metrics.Points.WithLabelValues(op).Add(float64(next.Amount))
	return &next, true, nil
}

func promotable(tx *model.PointTransaction, now time.Time) bool {
	return tx.State == model.StatePending &&
		!now.Before(tx.AvailableAt) &&
		(tx.ExpiresAt == nil || tx.AvailableAt.Before(*tx.ExpiresAt))
}

func expirable(tx *model.PointTransaction, now time.Time) bool {
	return tx.State == model.StatePending &&
		tx.ExpiresAt != nil &&
		!now.Before(*tx.ExpiresAt) &&
		!promotable(tx, now)
}

// Revoke removes points from a grant after a cancellation. The refund calculator
// decides how much; cascaded lines on bundle dependents are revoked in the same commit.
func (s *Service) Revoke(ctx context.Context, tenantID string, txID int64, req model.RevokePointsRequest) (res *model.RevokeResult, err error) {
	ctx, span := tracing.Start(ctx, "ledger.Revoke", tenantID, "")
	defer func() { tracing.End(span, err); observe("revoke", err) }()

	tenant, ok := s.tenants.Tenant(tenantID)
	if !ok {
		return nil, apperrors.NewValidation("unknown tenant %s", tenantID)
	}
	if req.Amount < 0 {
		return nil, apperrors.NewValidation("amount must not be negative, got %d", req.Amount)
	}

	tx, err := s.store.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, tenantID, tx.MemberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	txs, err := s.store.ListMemberTransactions(ctx, tenantID, tx.MemberID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*model.PointTransaction, len(txs))
	for _, t := range txs {
		byID[t.ID] = t
	}
	rootID := tx.RootID
	if rootID == 0 {
		rootID = tx.ID
	}
	target, ok := byID[rootID]
	if !ok {
		return nil, apperrors.NewNotFound("transaction %d not found", rootID)
	}
	if target.Decision.Handling == model.HandlingNoRevokeIfDenied && !req.Cancellation.Override {
		return nil, apperrors.NewValidation("transaction %d is non-cancellable; set cancellation.override to revoke", target.ID)
	}

	var siblings []*model.PointTransaction
	for _, t := range txs {
		if isGrant(t) && t.OrderID == target.OrderID {
			siblings = append(siblings, t)
		}
	}

	now := s.now()
	verdict, err := s.fraud.Evaluate(ctx, tenant, target.MemberID, fraud.ProposedOp{
		Kind: fraud.OpRevoke, OrderID: target.OrderID, Amount: req.Amount, PurchasedAt: target.PurchasedAt, At: now,
	})
	if err != nil {
		return nil, err
	}

	cascaded, err := s.cascaded(ctx, tenantID, txs, siblings, target)
	if err != nil {
		return nil, err
	}

	instr, err := refund.Compute(refund.Input{
		Target:       target,
		Siblings:     siblings,
		Cancellation: req.Cancellation,
		Rules:        tenant.Refund,
		Requested:    req.Amount,
		Cascaded:     cascaded,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = "revoke"
	}
	b := &Batch{}
	moved := make([]*model.PointTransaction, 0, len(instr.Lines))
	for _, line := range instr.Lines {
		rec := byID[line.TransactionID]
		lineReason := reason
		if line.Cascade {
			lineReason = cascadeReason
		}
		m := s.take(b, rec, line.Amount, model.StateRevoked, lineReason, "", now)
		b.Events = append(b.Events, newEvent(m, m.Seq, model.EventPointsRevoked, line.Amount, now, map[string]any{
			"root_id":  fmt.Sprint(m.RootID),
			"order_id": m.OrderID,
			"from":     string(rec.State),
			"reason":   reason,
			"cascade":  line.Cascade,
		}))
		moved = append(moved, m)
	}
	first := moved[0]
	b.Events = append(b.Events, newEvent(first, first.Seq, model.EventRefundProcessed, instr.Amount, now, map[string]any{
		"method":       string(instr.Method),
		"order_id":     target.OrderID,
		"lines":        instr.Lines,
		"refund_value": req.Cancellation.RefundValue.String(),
	}))
	if verdict.Verdict != fraud.Allow {
		b.Events = append(b.Events, newEvent(first, first.Seq, model.EventFraudDetected, 0, now, fraudData(fraud.OpRevoke, verdict)))
	}

	if err := s.store.Commit(ctx, b); err != nil {
		return nil, err
	}
	s.record(ctx, tenant, target.MemberID, fraud.CommittedOp{
		Kind: fraud.OpRevoke, OrderID: target.OrderID, Amount: instr.Amount, PurchasedAt: target.PurchasedAt, At: now,
	})
	metrics.Points.WithLabelValues("revoke").Add(float64(instr.Amount))

	return &model.RevokeResult{Revoked: instr.Amount, Method: instr.Method, Transactions: moved}, nil
}

// cascaded sums, per bundle dependent, the points earlier cascades already
// revoked from it or from its split children.
func (s *Service) cascaded(ctx context.Context, tenantID string, txs, siblings []*model.PointTransaction, bundle *model.PointTransaction) (map[int64]int64, error) {
	if bundle.Item.ItemID == "" {
		return nil, nil
	}
	out := make(map[int64]int64)
	for _, dep := range siblings {
		if dep.ID == bundle.ID || dep.Item.DependsOn != bundle.Item.ItemID {
			continue
		}
		for _, t := range txs {
			if t.ID != dep.ID && t.RootID != dep.ID {
				continue
			}
			history, err := s.store.History(ctx, tenantID, t.ID)
			if err != nil {
				return nil, err
			}
			for _, tr := range history {
				if tr.Reason == cascadeReason && tr.To == model.StateRevoked {
					out[dep.ID] += tr.Amount
				}
			}
		}
	}
	return out, nil
}

// Redeem spends AVAILABLE points oldest first. Without the tenant's negative
// balance opt-in it is all-or-nothing.
func (s *Service) Redeem(ctx context.Context, tenantID, memberID string, req model.RedeemPointsRequest) (res *model.RedeemResult, err error) {
	ctx, span := tracing.Start(ctx, "ledger.Redeem", tenantID, memberID)
	defer func() { tracing.End(span, err); observe("redeem", err) }()

	tenant, ok := s.tenants.Tenant(tenantID)
	if !ok {
		return nil, apperrors.NewValidation("unknown tenant %s", tenantID)
	}
	if req.Amount <= 0 {
		return nil, apperrors.NewValidation("amount must be positive, got %d", req.Amount)
	}

	unlock, err := s.locker.Lock(ctx, tenantID, memberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	txs, err := s.store.ListMemberTransactions(ctx, tenantID, memberID)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, apperrors.NewValidation("unknown member %s", memberID)
	}

	var candidates []*model.PointTransaction
	var spendable int64
	for _, tx := range txs {
		if tx.State != model.StateAvailable {
			continue
		}
		spendable += tx.Amount
		if tx.Amount > 0 {
			candidates = append(candidates, tx)
		}
	}
	if spendable < req.Amount {
		opts := tenant.Ledger
		if !opts.AllowNegativeBalance {
			return nil, apperrors.NewInsufficientBalance(req.Amount, max(spendable, 0))
		}
		if opts.MaxNegativeBalance > 0 && req.Amount-spendable > opts.MaxNegativeBalance {
			return nil, apperrors.NewInsufficientBalance(req.Amount, spendable+opts.MaxNegativeBalance)
		}
	}

	blocked, err := s.fraud.BlockedChains(ctx, tenant, memberID)
	if err != nil {
		return nil, err
	}
	// Blocked chains go last: they are only reached when the rest cannot cover
	// the amount, and then the fraud screen denies the redemption.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, c := candidates[i], candidates[j]
		if ba, bc := blocked[a.OrderID], blocked[c.OrderID]; ba != bc {
			return bc
		}
		if !a.AvailableAt.Equal(c.AvailableAt) {
			return a.AvailableAt.Before(c.AvailableAt)
		}
		if !a.PurchasedAt.Equal(c.PurchasedAt) {
			return a.PurchasedAt.Before(c.PurchasedAt)
		}
		return a.ID < c.ID
	})

	type part struct {
		rec    *model.PointTransaction
		amount int64
	}
	var parts []part
	var orders []string
	remaining := req.Amount
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		n := min(c.Amount, remaining)
		parts = append(parts, part{rec: c, amount: n})
		if c.OrderID != "" {
			orders = append(orders, c.OrderID)
		}
		remaining -= n
	}
	shortfall := remaining

	now := s.now()
	verdict, err := s.fraud.Evaluate(ctx, tenant, memberID, fraud.ProposedOp{
		Kind: fraud.OpRedeem, Orders: orders, Amount: req.Amount, At: now,
	})
	if err != nil {
		return nil, err
	}
	if verdict.Verdict == fraud.Deny {
		s.reportDenied(ctx, tenantID, memberID, fraud.OpRedeem, verdict, now)
		return nil, verdict.Err()
	}

	b := &Batch{}
	var moved []*model.PointTransaction
	for _, p := range parts {
		m := s.take(b, p.rec, p.amount, model.StateRedeemed, "redeem", req.Reference, now)
		b.Events = append(b.Events, newEvent(m, m.Seq, model.EventPointsRedeemed, p.amount, now, map[string]any{
			"root_id":   fmt.Sprint(m.RootID),
			"reference": req.Reference,
		}))
		moved = append(moved, m)
	}
	if shortfall > 0 {
		spent, debt := s.borrow(b, tenantID, memberID, shortfall, req.Reference, now)
		b.Events = append(b.Events, newEvent(spent, spent.Seq, model.EventPointsRedeemed, shortfall, now, map[string]any{
			"reference": req.Reference,
			"debt_id":   fmt.Sprint(debt.ID),
		}))
		moved = append(moved, spent)
	}
	if verdict.Verdict == fraud.Flag && len(moved) > 0 {
		m := moved[0]
		b.Events = append(b.Events, newEvent(m, m.Seq, model.EventFraudDetected, 0, now, fraudData(fraud.OpRedeem, verdict)))
	}

	if err := s.store.Commit(ctx, b); err != nil {
		return nil, err
	}
	s.record(ctx, tenant, memberID, fraud.CommittedOp{Kind: fraud.OpRedeem, Orders: orders, Amount: req.Amount, At: now})
	metrics.Points.WithLabelValues("redeem").Add(float64(req.Amount))

	bal, err := s.balance(ctx, tenantID, memberID)
	if err != nil {
		return nil, err
	}
	return &model.RedeemResult{Redeemed: req.Amount, Shortfall: shortfall, Transactions: moved, Balance: bal}, nil
}

// take moves amount points of rec into a terminal state. A full take transitions
// rec itself; a partial one shrinks rec and inserts a terminal child with the
// moved points. It returns the record that now holds them.
func (s *Service) take(b *Batch, rec *model.PointTransaction, amount int64, to model.State, reason, reference string, now time.Time) *model.PointTransaction {
	next := *rec
	next.Seq++
	next.Version++
	next.UpdatedAt = now
	b.Updates = append(b.Updates, Update{Tx: &next, ExpectState: rec.State, ExpectVersion: rec.Version})

	if amount >= rec.Amount {
		next.State = to
		if reference != "" {
			next.Reference = reference
		}
		b.Transitions = append(b.Transitions, transition(&next, next.Seq, rec.State, to, amount, 0, reason, now))
		return &next
	}

	child := &model.PointTransaction{
		ID:          s.ids.Generate().Int64(),
		TenantID:    rec.TenantID,
		MemberID:    rec.MemberID,
		OrderID:     rec.OrderID,
		ItemID:      rec.ItemID,
		RootID:      rec.RootID,
		Amount:      amount,
		State:       to,
		Seq:         1,
		Flagged:     rec.Flagged,
		Decision:    rec.Decision,
		Item:        rec.Item,
		PurchasedAt: rec.PurchasedAt,
		AvailableAt: rec.AvailableAt,
		ExpiresAt:   rec.ExpiresAt,
		Reference:   reference,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	next.Amount -= amount
	b.Inserts = append(b.Inserts, child)
	b.Transitions = append(b.Transitions,
		transition(&next, next.Seq, rec.State, rec.State, -amount, child.ID, "split", now),
		transition(child, 1, rec.State, to, amount, rec.ID, reason, now),
	)
	return child
}

// borrow records an overdraft as a REDEEMED record for the shortfall and an
// AVAILABLE debt record of the negated amount, so the member's totals still add up.
func (s *Service) borrow(b *Batch, tenantID, memberID string, shortfall int64, reference string, now time.Time) (spent, debt *model.PointTransaction) {
	mk := func(amount int64, state model.State) *model.PointTransaction {
		tx := &model.PointTransaction{
			ID:          s.ids.Generate().Int64(),
			TenantID:    tenantID,
			MemberID:    memberID,
			Amount:      amount,
			State:       state,
			Seq:         1,
			PurchasedAt: now,
			AvailableAt: now,
			Reference:   reference,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		tx.RootID = tx.ID
		return tx
	}
	spent = mk(shortfall, model.StateRedeemed)
	debt = mk(-shortfall, model.StateAvailable)
	b.Inserts = append(b.Inserts, spent, debt)
	b.Transitions = append(b.Transitions,
		transition(spent, 1, "", model.StateRedeemed, shortfall, debt.ID, "redeem on credit", now),
		transition(debt, 1, "", model.StateAvailable, -shortfall, spent.ID, "negative balance", now),
	)
	return spent, debt
}

// GetBalance folds the member's transactions into per-state totals.
func (s *Service) GetBalance(ctx context.Context, tenantID, memberID string) (model.Balance, error) {
	if _, ok := s.tenants.Tenant(tenantID); !ok {
		return model.Balance{}, apperrors.NewValidation("unknown tenant %s", tenantID)
	}
	return s.balance(ctx, tenantID, memberID)
}

func (s *Service) balance(ctx context.Context, tenantID, memberID string) (model.Balance, error) {
	txs, err := s.store.ListMemberTransactions(ctx, tenantID, memberID)
	if err != nil {
		return model.Balance{}, err
	}
	if len(txs) == 0 {
		return model.Balance{}, apperrors.NewValidation("unknown member %s", memberID)
	}
	bal := model.Balance{TenantID: tenantID, MemberID: memberID}
	for _, tx := range txs {
		bal.Add(tx)
	}
	if !bal.Conserved() {
		logger.Error("ledger totals do not add up", "tenant_id", tenantID, "member_id", memberID, "awarded", bal.Awarded)
	}
	return bal, nil
}

// GetTransaction returns the transaction with its transition history.
func (s *Service) GetTransaction(ctx context.Context, tenantID string, txID int64) (*model.TransactionView, error) {
	tx, err := s.store.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.History(ctx, tenantID, txID)
	if err != nil {
		return nil, err
	}
	return &model.TransactionView{Transaction: tx, History: history}, nil
}

func (s *Service) ListTransactions(ctx context.Context, tenantID, memberID string) ([]*model.PointTransaction, error) {
	if _, ok := s.tenants.Tenant(tenantID); !ok {
		return nil, apperrors.NewValidation("unknown tenant %s", tenantID)
	}
	txs, err := s.store.ListMemberTransactions(ctx, tenantID, memberID)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, apperrors.NewValidation("unknown member %s", memberID)
	}
	return txs, nil
}

// reportDenied commits a fraud.detected event for an operation that never reached the ledger.
func (s *Service) reportDenied(ctx context.Context, tenantID, memberID string, op fraud.OpKind, res fraud.Result, now time.Time) {
	b := &Batch{Events: []*model.OutboxEvent{newFraudEvent(tenantID, memberID, op, res, now)}}
	if err := s.store.Commit(ctx, b); err != nil {
		logger.LogError(ctx, err, "failed to record fraud event", "tenant_id", tenantID, "member_id", memberID)
	}
}

// record feeds a committed operation to the fraud profile. The commit already
// happened, so a failure here is logged rather than returned.
func (s *Service) record(ctx context.Context, tenant *model.Tenant, memberID string, op fraud.CommittedOp) {
	if err := s.fraud.Record(ctx, tenant, memberID, op); err != nil {
		logger.LogError(ctx, err, "failed to update fraud profile", "tenant_id", tenant.ID, "member_id", memberID, "op", op.Kind)
	}
}

func isGrant(tx *model.PointTransaction) bool {
	return tx.ID == tx.RootID && tx.Awarded > 0
}

func transition(tx *model.PointTransaction, seq int, from, to model.State, amount, related int64, reason string, at time.Time) *model.Transition {
	return &model.Transition{
		TenantID:      tx.TenantID,
		TransactionID: tx.ID,
		Seq:           seq,
		From:          from,
		To:            to,
		Amount:        amount,
		RelatedID:     related,
		Reason:        reason,
		At:            at,
	}
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperrors.Wrap(err).Type)
	}
	metrics.LedgerOps.WithLabelValues(op, result).Inc()
}
