package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AwardPointsRequest is the body of POST /v1/members/:member_id/awards.
type AwardPointsRequest struct {
	OrderID     string     `json:"order_id" binding:"required"`
	Item        OrderItem  `json:"item"`
	Amount      int64      `json:"amount" binding:"required"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty"`
}

// CancellationContext describes the refund that triggered a revoke.
// A zero RefundValue means the whole item is refunded.
type CancellationContext struct {
	Method       RefundMethod    `json:"method,omitempty" binding:"omitempty,oneof=proportional item tiered fee_adjusted"`
	RefundValue  decimal.Decimal `json:"refund_value"`
	Fee          decimal.Decimal `json:"fee"`
	RefundedLegs []string        `json:"refunded_legs,omitempty"`
	Override     bool            `json:"override"`
}

// RevokePointsRequest is the body of POST /v1/transactions/:id/revoke.
type RevokePointsRequest struct {
	Amount       int64               `json:"amount"`
	Reason       string              `json:"reason" binding:"required"`
	Cancellation CancellationContext `json:"cancellation"`
}

// RedeemPointsRequest is the body of POST /v1/members/:member_id/redemptions.
type RedeemPointsRequest struct {
	Amount    int64  `json:"amount" binding:"required"`
	Reference string `json:"reference"`
}

type TransactionView struct {
	Transaction *PointTransaction `json:"transaction"`
	History     []Transition      `json:"history"`
}

type RevokeResult struct {
	Revoked      int64               `json:"revoked"`
	Method       RefundMethod        `json:"method"`
	Transactions []*PointTransaction `json:"transactions"`
}

type RedeemResult struct {
	Redeemed     int64               `json:"redeemed"`
	Shortfall    int64               `json:"shortfall,omitempty"`
	Transactions []*PointTransaction `json:"transactions"`
	Balance      Balance             `json:"balance"`
}

type AwardResult struct {
	Transaction *PointTransaction `json:"transaction"`
	Flagged     bool              `json:"flagged"`
	Warnings    []string          `json:"warnings,omitempty"`
}
