package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PolicyKind string

const (
	PolicyNoCancellation PolicyKind = "no_cancellation"
	PolicyTimeWindow     PolicyKind = "time_window"
	PolicyFlexible       PolicyKind = "flexible"
	PolicyConditional    PolicyKind = "conditional"
)

type Handling string

const (
	HandlingAvailableImmediately Handling = "available_immediately"
	HandlingPendingUntil         Handling = "pending_until"
	HandlingNoRevokeIfDenied     Handling = "no_revoke_if_denied"
	HandlingFullRevokeOnCancel   Handling = "full_revoke_on_cancel"
	HandlingPartialRevoke        Handling = "partial_revoke"
)

// RevokeStep applies Rate to cancellations arriving at least After past the purchase.
type RevokeStep struct {
	After Duration        `json:"after"`
	Rate  decimal.Decimal `json:"rate"`
}

// Outcome is what a matching Conditional predicate resolves to.
type Outcome struct {
	Handling Handling     `json:"handling" validate:"required,oneof=available_immediately pending_until no_revoke_if_denied full_revoke_on_cancel partial_revoke"`
	Window   Duration     `json:"window,omitempty"`
	Schedule []RevokeStep `json:"schedule,omitempty"`
}

type Condition struct {
	When    string  `json:"when" validate:"required"`
	Outcome Outcome `json:"outcome"`
}

// PolicyDefinition is a tagged variant selected by Kind.
// Window is the TimeWindow duration, the Flexible default window, or the Conditional fallback window.
type PolicyDefinition struct {
	Kind        PolicyKind  `json:"kind" validate:"required,oneof=no_cancellation time_window flexible conditional"`
	Window      Duration    `json:"window,omitempty"`
	ExpireAfter Duration    `json:"expire_after,omitempty"`
	Conditions  []Condition `json:"conditions,omitempty" validate:"dive"`
}

// PolicyMatch selects items by attribute. Empty lists match anything; When is a CEL expression.
type PolicyMatch struct {
	Categories []string `json:"categories,omitempty"`
	PolicyTags []string `json:"policy_tags,omitempty"`
	PriceTiers []string `json:"price_tiers,omitempty"`
	When       string   `json:"when,omitempty"`
}

type PolicyRule struct {
	ID     string           `json:"id" validate:"required"`
	Match  PolicyMatch      `json:"match"`
	Policy PolicyDefinition `json:"policy"`
}

// PriceTier names a price bracket. Tiers are checked in order; nil UpTo is unbounded.
type PriceTier struct {
	Name string           `json:"name" validate:"required"`
	UpTo *decimal.Decimal `json:"up_to,omitempty"`
}

type PolicySet struct {
	Rules      []PolicyRule      `json:"rules,omitempty" validate:"dive"`
	Default    *PolicyDefinition `json:"default,omitempty"`
	PriceTiers []PriceTier       `json:"price_tiers,omitempty" validate:"dive"`
}

// Decision is the per-item handling resolved at award time and stored with the transaction.
type Decision struct {
	Handling      Handling     `json:"handling"`
	AvailableAt   time.Time    `json:"available_at"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	Schedule      []RevokeStep `json:"schedule,omitempty"`
	RuleID        string       `json:"rule_id,omitempty"`
	PolicyKind    PolicyKind   `json:"policy_kind"`
	ConfigVersion int64        `json:"config_version"`
}

// Immediate reports whether the points are spendable as soon as they are awarded.
func (d Decision) Immediate(now time.Time) bool {
	return !d.AvailableAt.After(now)
}

// PaymentLeg is one tender of a split-payment order. NoPoints legs (e.g. gift cards) did not earn.
type PaymentLeg struct {
	ID       string          `json:"id"`
	Method   string          `json:"method"`
	Amount   decimal.Decimal `json:"amount"`
	NoPoints bool            `json:"no_points"`
}

// OrderItem carries what the policy engine and refund calculator need about a purchased line.
type OrderItem struct {
	ItemID      string          `json:"item_id"`
	Category    string          `json:"category,omitempty"`
	PolicyTag   string          `json:"policy_tag,omitempty"`
	Price       decimal.Decimal `json:"price"`
	OrderValue  decimal.Decimal `json:"order_value"`
	BundleID    string          `json:"bundle_id,omitempty"`
	DependsOn   string          `json:"depends_on,omitempty"`
	PaymentLegs []PaymentLeg    `json:"payment_legs,omitempty"`
	Attributes  map[string]any  `json:"attributes,omitempty"`
}
