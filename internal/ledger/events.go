package ledger

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/GoPolymarket/pointgate/internal/fraud"
	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// newEvent builds the outbox row for a transition. The idempotency key is the
// transaction id and the transition sequence, so replays collapse downstream.
func newEvent(tx *model.PointTransaction, seq int, typ model.EventType, amount int64, at time.Time, data map[string]any) *model.OutboxEvent {
	key := model.IdempotencyKeyFor(tx.ID, seq)
	// the chain sink mints to and burns from the wallet the merchant attached to the item
	if w, ok := tx.Item.Attributes["wallet"].(string); ok && w != "" {
		if data == nil {
			data = make(map[string]any, 1)
		}
		data["wallet"] = w
	}
	return buildEvent(tx.TenantID, tx.MemberID, tx.ID, seq, key, typ, amount, at, data)
}

// newFraudEvent is used when a denied operation leaves no transition to key on.
func newFraudEvent(tenantID, memberID string, op fraud.OpKind, res fraud.Result, at time.Time) *model.OutboxEvent {
	return buildEvent(tenantID, memberID, 0, 0, "fraud-"+uuid.NewString(), model.EventFraudDetected, 0, at, fraudData(op, res))
}

func fraudData(op fraud.OpKind, res fraud.Result) map[string]any {
	return map[string]any{
		"op":      string(op),
		"verdict": string(res.Verdict),
		"tier":    string(res.Tier),
		"action":  string(res.Action),
		"score":   res.Score,
		"reasons": res.Reasons,
	}
}

func buildEvent(tenantID, memberID string, txID int64, seq int, key string, typ model.EventType, amount int64, at time.Time, data map[string]any) *model.OutboxEvent {
	body := model.EventBody{
		Event:          typ,
		Timestamp:      at.UTC(),
		TenantID:       tenantID,
		MemberID:       memberID,
		Amount:         amount,
		IdempotencyKey: key,
		Data:           data,
	}
	if txID != 0 {
		body.TransactionID = strconv.FormatInt(txID, 10)
	}
	// EventBody holds only JSON-safe values
	raw, _ := json.Marshal(body)
	return &model.OutboxEvent{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		MemberID:       memberID,
		TransactionID:  txID,
		Seq:            seq,
		Type:           typ,
		IdempotencyKey: key,
		Amount:         amount,
		Payload:        datatypes.JSON(raw),
		NextAttemptAt:  at,
		CreatedAt:      at,
	}
}
