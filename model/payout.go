package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutRequested    PayoutStatus = "REQUESTED"
	PayoutApproved     PayoutStatus = "APPROVED"
	PayoutRejected     PayoutStatus = "REJECTED"
	PayoutProcessing   PayoutStatus = "PROCESSING"
	PayoutPaidInternal PayoutStatus = "PAID_INTERNAL"
	PayoutFailed       PayoutStatus = "FAILED"
)

type PayoutAction string

const (
	ActionApprove        PayoutAction = "approve"
	ActionReject         PayoutAction = "reject"
	ActionMarkProcessing PayoutAction = "markProcessing"
	ActionMarkPaid       PayoutAction = "markPaid"
	ActionMarkFailed     PayoutAction = "markFailed"
)

type transitionKey struct {
	from   PayoutStatus
	action PayoutAction
}

// payoutTransitions is the complete graph. Anything not listed is illegal.
var payoutTransitions = map[transitionKey]PayoutStatus{
	{PayoutRequested, ActionApprove}:       PayoutApproved,
	{PayoutRequested, ActionReject}:        PayoutRejected,
	{PayoutApproved, ActionReject}:         PayoutRejected,
	{PayoutApproved, ActionMarkProcessing}: PayoutProcessing,
	{PayoutProcessing, ActionMarkPaid}:     PayoutPaidInternal,
	{PayoutProcessing, ActionMarkFailed}:   PayoutFailed,
}

// NextPayoutStatus returns the status reached by applying action in from,
// and false when the transition is not allowed.
func NextPayoutStatus(from PayoutStatus, action PayoutAction) (PayoutStatus, bool) {
	to, ok := payoutTransitions[transitionKey{from, action}]
	return to, ok
}

func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutRejected || s == PayoutPaidInternal || s == PayoutFailed
}

type PayoutRequest struct {
	ID             int64           `json:"-"`
	PayoutID       string          `json:"payout_id"`
	SellerID       string          `json:"seller_id"`
	DestinationID  string          `json:"destination_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PayoutStatus    `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	RequestedAt    time.Time       `json:"requested_at"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	RejectedAt     *time.Time      `json:"rejected_at,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ApplyTransition moves p to its next status and stamps the matching timestamp.
// The caller has already checked the transition with NextPayoutStatus.
func (p *PayoutRequest) ApplyTransition(to PayoutStatus, reason, failure string, at time.Time) {
	p.Status = to
	p.UpdatedAt = at
	if reason != "" {
		p.Reason = reason
	}
	switch to {
	case PayoutApproved:
		p.ApprovedAt = &at
	case PayoutRejected:
		p.RejectedAt = &at
	case PayoutPaidInternal:
		p.ProcessedAt = &at
	case PayoutFailed:
		p.ProcessedAt = &at
		p.FailureMessage = failure
	}
}

type PayoutFilter struct {
	SellerID string
	Status   PayoutStatus
	Limit    int
	Offset   int
}
