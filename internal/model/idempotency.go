package model

import "time"

// IdempotencyRecord is a cached API response keyed by tenant and X-Idempotency-Key.
// Processing marks a request that holds the key but has not answered yet.
type IdempotencyRecord struct {
	Status     int       `json:"status"`
	Body       []byte    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	Processing bool      `json:"processing"`
}
