/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package payline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/blnkfinance/payline/database"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PostCredit records money owed to a seller for an order.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - ownerID string: The seller receiving the credit.
// - amount decimal.Decimal: Must be greater than zero.
// - currency string: Must match the currency pinned for the owner.
// - orderID string: The order the credit settles.
// - idempotencyKey string: Unique across the ledger; a repeat returns the existing entry.
//
// Returns:
// - *model.LedgerEntry: The new or existing entry.
// - error: INVALID_INPUT, CURRENCY_MISMATCH or a storage error.
func (p *Payline) PostCredit(ctx context.Context, ownerID string, amount decimal.Decimal, currency, orderID, idempotencyKey string) (*model.LedgerEntry, error) {
	return p.PostCreditTx(ctx, p.datasource, ownerID, amount, currency, orderID, idempotencyKey)
}

// PostCreditTx is PostCredit inside the caller's transaction.
func (p *Payline) PostCreditTx(ctx context.Context, tx database.IDataSource, ownerID string, amount decimal.Decimal, currency, orderID, idempotencyKey string) (*model.LedgerEntry, error) {
	return p.post(ctx, tx, model.LedgerEntry{
		OwnerID:        ownerID,
		Kind:           model.EntryCredit,
		Amount:         amount,
		Currency:       currency,
		RelatedOrderID: orderID,
		IdempotencyKey: idempotencyKey,
	})
}

// PostCommission records the platform's commission for an order. The owner is
// always the configured platform account.
func (p *Payline) PostCommission(ctx context.Context, orderID string, amount decimal.Decimal, currency, idempotencyKey string) (*model.LedgerEntry, error) {
	return p.PostCommissionTx(ctx, p.datasource, orderID, amount, currency, idempotencyKey)
}

func (p *Payline) PostCommissionTx(ctx context.Context, tx database.IDataSource, orderID string, amount decimal.Decimal, currency, idempotencyKey string) (*model.LedgerEntry, error) {
	return p.post(ctx, tx, model.LedgerEntry{
		OwnerID:        p.cfg.Payout.PlatformOwnerID,
		Kind:           model.EntryCommission,
		Amount:         amount,
		Currency:       currency,
		RelatedOrderID: orderID,
		IdempotencyKey: idempotencyKey,
	})
}

// PostDebit records money paid out of a seller's balance.
func (p *Payline) PostDebit(ctx context.Context, ownerID string, amount decimal.Decimal, currency, payoutID, idempotencyKey string) (*model.LedgerEntry, error) {
	return p.PostDebitTx(ctx, p.datasource, ownerID, amount, currency, payoutID, idempotencyKey)
}

func (p *Payline) PostDebitTx(ctx context.Context, tx database.IDataSource, ownerID string, amount decimal.Decimal, currency, payoutID, idempotencyKey string) (*model.LedgerEntry, error) {
	return p.post(ctx, tx, model.LedgerEntry{
		OwnerID:         ownerID,
		Kind:            model.EntryDebit,
		Amount:          amount,
		Currency:        currency,
		RelatedPayoutID: payoutID,
		IdempotencyKey:  idempotencyKey,
	})
}

func (p *Payline) post(ctx context.Context, ds database.IDataSource, entry model.LedgerEntry) (*model.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Post")
	defer span.End()

	entry.Currency = strings.ToUpper(strings.TrimSpace(entry.Currency))
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	pinned, err := ds.PinOwnerCurrency(ctx, entry.OwnerID, entry.Currency)
	if err != nil {
		return nil, err
	}
	if pinned != entry.Currency {
		return nil, apierror.NewAPIError(apierror.ErrCurrencyMismatch,
			fmt.Sprintf("Ledger for %s is in %s, cannot post %s", entry.OwnerID, pinned, entry.Currency), nil)
	}

	entry.EntryID = model.GenerateUUIDWithSuffix("ent")
	entry.CreatedAt = p.now()
	stored, created, err := ds.InsertLedgerEntry(ctx, entry)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	ledgerPostings.WithLabelValues(string(entry.Kind), strconv.FormatBool(created)).Inc()

	if !created && !stored.Amount.Equal(entry.Amount) {
		logrus.WithFields(logrus.Fields{
			"idempotency_key": entry.IdempotencyKey,
			"stored_amount":   stored.Amount.String(),
			"posted_amount":   entry.Amount.String(),
		}).Warn("ledger key reused with a different amount, keeping the stored entry")
	}
	return stored, nil
}

func validateEntry(e model.LedgerEntry) error {
	switch {
	case strings.TrimSpace(e.OwnerID) == "":
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Ledger owner is required", nil)
	case !e.Amount.IsPositive():
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Amount must be greater than zero", nil)
	case e.Currency == "":
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Currency is required", nil)
	case strings.TrimSpace(e.IdempotencyKey) == "":
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Idempotency key is required", nil)
	}
	return nil
}

// GetBalance derives an owner's balance from its entries.
func (p *Payline) GetBalance(ctx context.Context, ownerID string) (*model.Balance, error) {
	ctx, span := tracer.Start(ctx, "Ledger.GetBalance")
	defer span.End()
	return p.datasource.SumLedgerEntries(ctx, ownerID)
}

func (p *Payline) ListEntries(ctx context.Context, ownerID string, limit, offset int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return p.datasource.ListLedgerEntries(ctx, ownerID, limit, offset)
}
