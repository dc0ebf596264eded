package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// PayoutState tracks where a paid order's funds are: held by the platform,
// handed to the provider, or released to the seller's ledger.
type PayoutState string

const (
	PayoutHeld      PayoutState = "HELD"
	PayoutInitiated PayoutState = "INITIATED"
	PayoutReleased  PayoutState = "RELEASED"
)

type Payment struct {
	ID              int64           `json:"-"`
	PaymentID       string          `json:"payment_id"`
	OrderID         string          `json:"order_id"`
	SellerID        string          `json:"seller_id"`
	CompanyID       string          `json:"company_id"`
	Provider        string          `json:"provider"`
	Status          PaymentStatus   `json:"status"`
	PayoutStatus    PayoutState     `json:"payout_status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Commission      decimal.Decimal `json:"commission"`
	Currency        string          `json:"currency"`
	ProviderEventID string          `json:"provider_event_id,omitempty"`
	ReleasedAt      *time.Time      `json:"released_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SellerNet is the amount credited to the seller on release.
func (p Payment) SellerNet() decimal.Decimal {
	return p.Subtotal.Sub(p.Commission)
}

// ProviderEvent is an inbox row. (Provider, ProviderEventID) is unique, so a
// redelivered event is recorded once.
type ProviderEvent struct {
	Provider        string          `json:"provider"`
	ProviderEventID string          `json:"provider_event_id"`
	OrderID         string          `json:"order_id"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
}

type ReleaseResult struct {
	OrderID         string       `json:"order_id"`
	PayoutStatus    PayoutState  `json:"payout_status"`
	ProviderEventID string       `json:"provider_event_id,omitempty"`
	AlreadyReleased bool         `json:"already_released"`
	ProviderSkipped bool         `json:"provider_skipped"`
	Credit          *LedgerEntry `json:"credit,omitempty"`
	Commission      *LedgerEntry `json:"commission,omitempty"`
	ReleasedAt      *time.Time   `json:"released_at,omitempty"`
}

type SweepResult struct {
	Scanned  int      `json:"scanned"`
	Released int      `json:"released"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}
