package model

import (
	"strings"
	"time"
)

type DestinationStatus string

const (
	DestinationActive   DestinationStatus = "ACTIVE"
	DestinationInactive DestinationStatus = "INACTIVE"
)

// PayoutDestination never exposes the account number. EncryptedSecret holds
// the AES-GCM token and is excluded from JSON.
type PayoutDestination struct {
	ID              int64             `json:"-"`
	DestinationID   string            `json:"destination_id"`
	SellerID        string            `json:"seller_id"`
	HolderName      string            `json:"holder_name"`
	BankCode        string            `json:"bank_code,omitempty"`
	MaskedAccount   string            `json:"masked_account"`
	EncryptedSecret string            `json:"-"`
	Fingerprint     string            `json:"-"`
	Status          DestinationStatus `json:"status"`
	IsDefault       bool              `json:"is_default"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NormalizeAccountNumber strips spaces and dashes and upper-cases the value,
// so "tr12 0006 ..." and "TR1200006..." fingerprint the same.
func NormalizeAccountNumber(account string) string {
	r := strings.NewReplacer(" ", "", "-", "", "\t", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(account)))
}

// MaskAccountNumber keeps the first and last four characters visible.
func MaskAccountNumber(account string) string {
	account = NormalizeAccountNumber(account)
	if len(account) <= 8 {
		if len(account) <= 4 {
			return strings.Repeat("*", len(account))
		}
		return strings.Repeat("*", len(account)-4) + account[len(account)-4:]
	}
	return account[:4] + strings.Repeat("*", len(account)-8) + account[len(account)-4:]
}
