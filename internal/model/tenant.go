package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrTenantNotFound = errors.New("tenant not found")

// Duration accepts "48h"-style strings or a number of seconds when decoded.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		if v == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// RateLimitConfig is the per-tenant API token bucket.
type RateLimitConfig struct {
	QPS   float64 `json:"qps"`
	Burst int     `json:"burst"`
}

type WebhookTarget struct {
	URL    string `json:"url" validate:"omitempty,url"`
	Secret string `json:"secret"`
}

// ChainTarget routes settled balances to the blockchain adapter.
type ChainTarget struct {
	Enabled  bool   `json:"enabled"`
	Contract string `json:"contract,omitempty"`
}

// LedgerOptions holds per-tenant accounting switches.
type LedgerOptions struct {
	AllowNegativeBalance bool  `json:"allow_negative_balance"`
	MaxNegativeBalance   int64 `json:"max_negative_balance" validate:"gte=0"` // 0 = unbounded
}

// Tenant is an isolated business with its own policies, fraud thresholds and members.
type Tenant struct {
	ID        string          `json:"id" validate:"required,max=64"`
	Name      string          `json:"name"`
	APIKey    string          `json:"api_key" validate:"required"`
	Version   int64           `json:"version"`
	Rate      RateLimitConfig `json:"rate_limit"`
	Policies  PolicySet       `json:"policies"`
	Fraud     FraudRules      `json:"fraud"`
	Refund    RefundRules     `json:"refund"`
	Ledger    LedgerOptions   `json:"ledger"`
	Webhook   WebhookTarget   `json:"webhook"`
	Chain     ChainTarget     `json:"chain"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy via JSON so callers can mutate without touching the live config.
func (t *Tenant) Clone() (*Tenant, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var out Tenant
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- refund rules ---

type RefundMethod string

const (
	RefundProportional RefundMethod = "proportional"
	RefundItem         RefundMethod = "item"
	RefundTiered       RefundMethod = "tiered"
	RefundFeeAdjusted  RefundMethod = "fee_adjusted"
)

// RefundTier applies Rate when the refunded value is at most UpTo. Nil UpTo is unbounded.
type RefundTier struct {
	UpTo *decimal.Decimal `json:"up_to,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

type RefundRules struct {
	DefaultMethod RefundMethod    `json:"default_method" validate:"omitempty,oneof=proportional item tiered fee_adjusted"`
	Tiers         []RefundTier    `json:"tiers,omitempty"`
	CascadeRate   decimal.Decimal `json:"cascade_rate"` // share of a dependent's points revoked when its bundle parent is cancelled
}

// --- fraud thresholds ---

type SerialCancellerRule struct {
	Disabled     bool     `json:"disabled"`
	Rate         float64  `json:"rate" validate:"gte=0,lte=1"`
	Window       Duration `json:"window"`
	MinPurchases int      `json:"min_purchases" validate:"gte=0"`
	Weight       int      `json:"weight" validate:"gte=0,lte=100"`
}

type CyclicAbuserRule struct {
	Disabled bool     `json:"disabled"`
	Cycles   int      `json:"cycles" validate:"gte=0"`
	Window   Duration `json:"window"`
	Weight   int      `json:"weight" validate:"gte=0,lte=100"`
}

type HitAndRunRule struct {
	Disabled     bool     `json:"disabled"`
	RedeemWithin Duration `json:"redeem_within"`
	CancelWithin Duration `json:"cancel_within"`
	Weight       int      `json:"weight" validate:"gte=0,lte=100"`
}

// RiskBands are the lower bounds of each band above normal.
type RiskBands struct {
	Monitor    int `json:"monitor" validate:"gte=0,lte=100"`
	Restricted int `json:"restricted" validate:"gte=0,lte=100"`
	Suspended  int `json:"suspended" validate:"gte=0,lte=100"`
}

type FraudRules struct {
	Disabled        bool                `json:"disabled"`
	SerialCanceller SerialCancellerRule `json:"serial_canceller"`
	CyclicAbuser    CyclicAbuserRule    `json:"cyclic_abuser"`
	HitAndRun       HitAndRunRule       `json:"hit_and_run"`
	Bands           RiskBands           `json:"bands"`
	MaxEvents       int                 `json:"max_events" validate:"gte=0"`
}

// WithDefaults fills unset thresholds with the platform defaults.
func (r FraudRules) WithDefaults() FraudRules {
	if r.SerialCanceller.Rate == 0 {
		r.SerialCanceller.Rate = 0.30
	}
	if r.SerialCanceller.Window == 0 {
		r.SerialCanceller.Window = Duration(30 * 24 * time.Hour)
	}
	if r.SerialCanceller.MinPurchases == 0 {
		r.SerialCanceller.MinPurchases = 1
	}
	if r.SerialCanceller.Weight == 0 {
		r.SerialCanceller.Weight = 30
	}
	if r.CyclicAbuser.Cycles == 0 {
		r.CyclicAbuser.Cycles = 3
	}
	if r.CyclicAbuser.Window == 0 {
		r.CyclicAbuser.Window = Duration(60 * 24 * time.Hour)
	}
	if r.CyclicAbuser.Weight == 0 {
		r.CyclicAbuser.Weight = 10
	}
	if r.HitAndRun.RedeemWithin == 0 {
		r.HitAndRun.RedeemWithin = Duration(24 * time.Hour)
	}
	if r.HitAndRun.CancelWithin == 0 {
		r.HitAndRun.CancelWithin = Duration(48 * time.Hour)
	}
	if r.HitAndRun.Weight == 0 {
		r.HitAndRun.Weight = 20
	}
	if r.Bands.Monitor == 0 {
		r.Bands.Monitor = 31
	}
	if r.Bands.Restricted == 0 {
		r.Bands.Restricted = 61
	}
	if r.Bands.Suspended == 0 {
		r.Bands.Suspended = 81
	}
	if r.MaxEvents == 0 {
		r.MaxEvents = 512
	}
	return r
}

// LongestWindow bounds how much behaviour history a profile keeps.
func (r FraudRules) LongestWindow() time.Duration {
	longest := r.SerialCanceller.Window.Std()
	if w := r.CyclicAbuser.Window.Std(); w > longest {
		longest = w
	}
	if w := r.HitAndRun.CancelWithin.Std(); w > longest {
		longest = w
	}
	return longest
}
