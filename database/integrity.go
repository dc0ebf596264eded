package database

import (
	"context"

	"github.com/blnkfinance/payline/model"
)

// FindReleasedWithoutEntries returns RELEASED payments that are missing their
// CREDIT or COMMISSION posting. A zero amount needs no entry.
func (d Datasource) FindReleasedWithoutEntries(ctx context.Context, limit int) ([]model.IntegrityFinding, error) {
	ctx, span := startSpan(ctx, "FindReleasedWithoutEntries")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, `
		SELECT p.order_id, COALESCE(p.provider_event_id, ''), 'MISSING_CREDIT' AS issue, p.order_id || ':CREDIT'
		FROM payline.payments p
		WHERE p.payout_status = 'RELEASED' AND p.subtotal > p.commission
		  AND NOT EXISTS (SELECT 1 FROM payline.ledger_entries e WHERE e.idempotency_key = p.order_id || ':CREDIT')
		UNION ALL
		SELECT p.order_id, COALESCE(p.provider_event_id, ''), 'MISSING_COMMISSION' AS issue, p.order_id || ':COMMISSION'
		FROM payline.payments p
		WHERE p.payout_status = 'RELEASED' AND p.commission > 0
		  AND NOT EXISTS (SELECT 1 FROM payline.ledger_entries e WHERE e.idempotency_key = p.order_id || ':COMMISSION')
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, dbError(err, "", "Failed to check released payments")
	}
	defer rows.Close()

	findings := []model.IntegrityFinding{}
	for rows.Next() {
		f := model.IntegrityFinding{}
		if err := rows.Scan(&f.OrderID, &f.ProviderEventID, &f.Issue, &f.EntryKey); err != nil {
			return nil, dbError(err, "", "Failed to scan integrity finding")
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "", "Error occurred while iterating over integrity findings")
	}
	return findings, nil
}

// FindOrphanEntries returns order-linked CREDIT or COMMISSION entries whose
// payment is not RELEASED.
func (d Datasource) FindOrphanEntries(ctx context.Context, limit int) ([]model.IntegrityFinding, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT e.related_order_id, e.idempotency_key
		FROM payline.ledger_entries e
		LEFT JOIN payline.payments p ON p.order_id = e.related_order_id
		WHERE e.kind IN ('CREDIT', 'COMMISSION')
		  AND e.related_order_id IS NOT NULL
		  AND (p.order_id IS NULL OR p.payout_status <> 'RELEASED')
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, dbError(err, "", "Failed to check orphan entries")
	}
	defer rows.Close()

	findings := []model.IntegrityFinding{}
	for rows.Next() {
		f := model.IntegrityFinding{Issue: model.IssueOrphanEntry}
		if err := rows.Scan(&f.OrderID, &f.EntryKey); err != nil {
			return nil, dbError(err, "", "Failed to scan orphan entry")
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "", "Error occurred while iterating over orphan entries")
	}
	return findings, nil
}
