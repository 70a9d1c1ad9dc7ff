package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

type EventType string

const (
	EventMemberCreated   EventType = "member.created"
	EventPointsAwarded   EventType = "points.awarded"
	EventPointsAvailable EventType = "points.available"
	EventPointsExpired   EventType = "points.expired"
	EventPointsRedeemed  EventType = "points.redeemed"
	EventPointsRevoked   EventType = "points.revoked"
	EventRefundProcessed EventType = "refund.processed"
	EventFraudDetected   EventType = "fraud.detected"
)

// EventBody is the wire shape every sink receives.
type EventBody struct {
	Event          EventType      `json:"event"`
	Timestamp      time.Time      `json:"timestamp"`
	TenantID       string         `json:"tenantId"`
	MemberID       string         `json:"memberId"`
	Amount         int64          `json:"amount"`
	TransactionID  string         `json:"transactionId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Data           map[string]any `json:"data,omitempty"`
}

// OutboxEvent is committed in the same unit as the state change it describes.
type OutboxEvent struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	TenantID       string         `gorm:"size:64;not null;index" json:"tenant_id"`
	MemberID       string         `gorm:"size:128" json:"member_id"`
	TransactionID  int64          `json:"transaction_id,string"`
	Seq            int            `json:"seq"`
	Type           EventType      `gorm:"size:32;not null;uniqueIndex:idx_outbox_key,priority:2" json:"type"`
	IdempotencyKey string         `gorm:"size:96;not null;uniqueIndex:idx_outbox_key,priority:1" json:"idempotency_key"`
	Amount         int64          `json:"amount"`
	Payload        datatypes.JSON `json:"payload"`
	Attempts       int            `json:"attempts"`
	NextAttemptAt  time.Time      `gorm:"index" json:"next_attempt_at"`
	DeliveredAt    *time.Time     `gorm:"index" json:"delivered_at,omitempty"`
	LastError      string         `gorm:"size:512" json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// IdempotencyKeyFor is transaction id plus transition sequence.
func IdempotencyKeyFor(txID int64, seq int) string {
	return strconv.FormatInt(txID, 10) + "-" + strconv.Itoa(seq)
}

// Body decodes the stored payload.
func (e *OutboxEvent) Body() (EventBody, error) {
	var body EventBody
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		return body, fmt.Errorf("decode outbox payload %s: %w", e.ID, err)
	}
	return body, nil
}
