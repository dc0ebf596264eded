package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryCredit     EntryKind = "CREDIT"
	EntryCommission EntryKind = "COMMISSION"
	EntryDebit      EntryKind = "DEBIT"
)

// LedgerEntry is immutable once inserted. IdempotencyKey is unique across the ledger.
type LedgerEntry struct {
	ID              int64           `json:"-"`
	EntryID         string          `json:"entry_id"`
	OwnerID         string          `json:"owner_id"`
	Kind            EntryKind       `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	RelatedOrderID  string          `json:"related_order_id,omitempty"`
	RelatedPayoutID string          `json:"related_payout_id,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Balance is always derived from entries, never stored.
type Balance struct {
	OwnerID     string          `json:"owner_id"`
	Currency    string          `json:"currency"`
	Credits     decimal.Decimal `json:"credits"`
	Debits      decimal.Decimal `json:"debits"`
	Commissions decimal.Decimal `json:"commissions"`
	Available   decimal.Decimal `json:"available"`
}

// ComputeBalance folds entries into a balance: sum(CREDIT) - sum(DEBIT).
// Commission entries are tracked separately and do not move the available amount.
// The result does not depend on the order of entries.
func ComputeBalance(ownerID, currency string, entries []LedgerEntry) Balance {
	b := Balance{
		OwnerID:     ownerID,
		Currency:    currency,
		Credits:     decimal.Zero,
		Debits:      decimal.Zero,
		Commissions: decimal.Zero,
	}
	for _, e := range entries {
		if e.OwnerID != ownerID {
			continue
		}
		switch e.Kind {
		case EntryCredit:
			b.Credits = b.Credits.Add(e.Amount)
		case EntryDebit:
			b.Debits = b.Debits.Add(e.Amount)
		case EntryCommission:
			b.Commissions = b.Commissions.Add(e.Amount)
		}
	}
	b.Available = b.Credits.Sub(b.Debits)
	return b
}

func CreditKey(orderID string) string {
	return orderID + ":CREDIT"
}

func CommissionKey(orderID string) string {
	return orderID + ":COMMISSION"
}

func DebitKey(payoutID string) string {
	return payoutID + ":DEBIT"
}
