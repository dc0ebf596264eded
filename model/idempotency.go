package model

import (
	"encoding/json"
	"time"
)

type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

type IdempotencyRecord struct {
	Scope        string            `json:"scope"`
	Key          string            `json:"key"`
	Status       IdempotencyStatus `json:"status"`
	Result       json.RawMessage   `json:"result,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Attempts     int               `json:"attempts"`
	LockedAt     time.Time         `json:"locked_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// IsStale reports whether an IN_PROGRESS claim has outlived staleAfter and may be taken over.
func (r IdempotencyRecord) IsStale(now time.Time, staleAfter time.Duration) bool {
	return r.Status == IdempotencyInProgress && now.Sub(r.LockedAt) > staleAfter
}
