package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/blnkfinance/payline/model"
	"github.com/shopspring/decimal"
)

// PinOwnerCurrency records currency as the owner's ledger currency on first
// use and returns whatever currency is pinned afterwards.
func (d Datasource) PinOwnerCurrency(ctx context.Context, ownerID, currency string) (string, error) {
	var pinned string
	err := d.db().QueryRowContext(ctx, `
		INSERT INTO payline.ledger_owners (owner_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET owner_id = EXCLUDED.owner_id
		RETURNING currency
	`, ownerID, currency).Scan(&pinned)
	if err != nil {
		return "", dbError(err, "", "Failed to pin ledger currency")
	}
	return pinned, nil
}

func (d Datasource) LockOwner(ctx context.Context, ownerID string) error {
	var currency string
	err := d.db().QueryRowContext(ctx, `
		SELECT currency FROM payline.ledger_owners WHERE owner_id = $1 FOR UPDATE
	`, ownerID).Scan(&currency)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return dbError(err, "", "Failed to lock ledger owner")
	}
	return nil
}

// InsertLedgerEntry is an upsert by idempotency key: when an entry with the
// same key exists it is returned unchanged with created=false.
func (d Datasource) InsertLedgerEntry(ctx context.Context, entry model.LedgerEntry) (*model.LedgerEntry, bool, error) {
	ctx, span := startSpan(ctx, "InsertLedgerEntry")
	defer span.End()

	err := d.db().QueryRowContext(ctx, `
		INSERT INTO payline.ledger_entries (entry_id, owner_id, kind, amount, currency, related_order_id, related_payout_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, entry.EntryID, entry.OwnerID, entry.Kind, entry.Amount, entry.Currency,
		entry.RelatedOrderID, entry.RelatedPayoutID, entry.IdempotencyKey, entry.CreatedAt,
	).Scan(&entry.ID)
	if err == nil {
		return &entry, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		return nil, false, dbError(err, "", "Failed to insert ledger entry")
	}

	existing, err := d.GetLedgerEntryByKey(ctx, entry.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

const ledgerEntryColumns = `id, entry_id, owner_id, kind, amount, currency,
	COALESCE(related_order_id, ''), COALESCE(related_payout_id, ''), idempotency_key, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLedgerEntry(row rowScanner) (model.LedgerEntry, error) {
	e := model.LedgerEntry{}
	err := row.Scan(&e.ID, &e.EntryID, &e.OwnerID, &e.Kind, &e.Amount, &e.Currency,
		&e.RelatedOrderID, &e.RelatedPayoutID, &e.IdempotencyKey, &e.CreatedAt)
	return e, err
}

func (d Datasource) GetLedgerEntryByKey(ctx context.Context, idempotencyKey string) (*model.LedgerEntry, error) {
	row := d.db().QueryRowContext(ctx, `
		SELECT `+ledgerEntryColumns+`
		FROM payline.ledger_entries
		WHERE idempotency_key = $1
	`, idempotencyKey)
	e, err := scanLedgerEntry(row)
	if err != nil {
		return nil, dbError(err, "Ledger entry not found", "Failed to retrieve ledger entry")
	}
	return &e, nil
}

func (d Datasource) ListLedgerEntries(ctx context.Context, ownerID string, limit, offset int) ([]model.LedgerEntry, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT `+ledgerEntryColumns+`
		FROM payline.ledger_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, dbError(err, "", "Failed to retrieve ledger entries")
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, dbError(err, "", "Failed to scan ledger entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "", "Error occurred while iterating over ledger entries")
	}
	return entries, nil
}

// SumLedgerEntries derives the owner's balance from entry sums. An owner
// with no postings has a zero balance and no currency.
func (d Datasource) SumLedgerEntries(ctx context.Context, ownerID string) (*model.Balance, error) {
	ctx, span := startSpan(ctx, "SumLedgerEntries")
	defer span.End()

	b := model.Balance{OwnerID: ownerID, Credits: decimal.Zero, Debits: decimal.Zero, Commissions: decimal.Zero}
	err := d.db().QueryRowContext(ctx, `
		SELECT o.currency,
			COALESCE(SUM(e.amount) FILTER (WHERE e.kind = 'CREDIT'), 0),
			COALESCE(SUM(e.amount) FILTER (WHERE e.kind = 'DEBIT'), 0),
			COALESCE(SUM(e.amount) FILTER (WHERE e.kind = 'COMMISSION'), 0)
		FROM payline.ledger_owners o
		LEFT JOIN payline.ledger_entries e ON e.owner_id = o.owner_id
		WHERE o.owner_id = $1
		GROUP BY o.currency
	`, ownerID).Scan(&b.Currency, &b.Credits, &b.Debits, &b.Commissions)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, dbError(err, "", "Failed to compute balance")
	}
	b.Available = b.Credits.Sub(b.Debits)
	return &b, nil
}
