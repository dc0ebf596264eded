package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/blnkfinance/payline/model"
)

const payoutColumns = `id, payout_id, seller_id, destination_id, amount, currency, status,
	COALESCE(reason, ''), COALESCE(failure_message, ''), idempotency_key,
	requested_at, approved_at, rejected_at, processed_at, updated_at`

func scanPayout(row rowScanner) (model.PayoutRequest, error) {
	p := model.PayoutRequest{}
	var approved, rejected, processed sql.NullTime
	err := row.Scan(&p.ID, &p.PayoutID, &p.SellerID, &p.DestinationID, &p.Amount, &p.Currency, &p.Status,
		&p.Reason, &p.FailureMessage, &p.IdempotencyKey,
		&p.RequestedAt, &approved, &rejected, &processed, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.ApprovedAt = nullTimePtr(approved)
	p.RejectedAt = nullTimePtr(rejected)
	p.ProcessedAt = nullTimePtr(processed)
	return p, nil
}

func (d Datasource) CreatePayoutRequest(ctx context.Context, p model.PayoutRequest) (*model.PayoutRequest, error) {
	ctx, span := startSpan(ctx, "CreatePayoutRequest")
	defer span.End()

	err := d.db().QueryRowContext(ctx, `
		INSERT INTO payline.payout_requests (payout_id, seller_id, destination_id, amount, currency, status, idempotency_key, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id
	`, p.PayoutID, p.SellerID, p.DestinationID, p.Amount, p.Currency, p.Status, p.IdempotencyKey, p.RequestedAt).Scan(&p.ID)
	if err != nil {
		return nil, dbError(err, "", "Failed to create payout request")
	}
	p.UpdatedAt = p.RequestedAt
	return &p, nil
}

func (d Datasource) getPayout(ctx context.Context, where string, args ...interface{}) (*model.PayoutRequest, error) {
	row := d.db().QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payline.payout_requests WHERE `+where, args...)
	p, err := scanPayout(row)
	if err != nil {
		return nil, dbError(err, "Payout request not found", "Failed to retrieve payout request")
	}
	return &p, nil
}

func (d Datasource) GetPayoutRequest(ctx context.Context, payoutID string) (*model.PayoutRequest, error) {
	return d.getPayout(ctx, "payout_id = $1", payoutID)
}

func (d Datasource) GetPayoutRequestForUpdate(ctx context.Context, payoutID string) (*model.PayoutRequest, error) {
	return d.getPayout(ctx, "payout_id = $1 FOR UPDATE", payoutID)
}

func (d Datasource) GetPayoutRequestByKey(ctx context.Context, sellerID, idempotencyKey string) (*model.PayoutRequest, error) {
	return d.getPayout(ctx, "seller_id = $1 AND idempotency_key = $2", sellerID, idempotencyKey)
}

func (d Datasource) UpdatePayoutRequest(ctx context.Context, p *model.PayoutRequest) error {
	res, err := d.db().ExecContext(ctx, `
		UPDATE payline.payout_requests
		SET status = $2, reason = NULLIF($3, ''), failure_message = NULLIF($4, ''),
			approved_at = $5, rejected_at = $6, processed_at = $7, updated_at = $8
		WHERE payout_id = $1
	`, p.PayoutID, p.Status, p.Reason, p.FailureMessage, p.ApprovedAt, p.RejectedAt, p.ProcessedAt, p.UpdatedAt)
	if err != nil {
		return dbError(err, "", "Failed to update payout request")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dbError(sql.ErrNoRows, "Payout request not found", "")
	}
	return nil
}

func (d Datasource) ListPayoutRequests(ctx context.Context, filter model.PayoutFilter) ([]model.PayoutRequest, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		conds = append(conds, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + payoutColumns + ` FROM payline.payout_requests`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY requested_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := d.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err, "", "Failed to retrieve payout requests")
	}
	defer rows.Close()

	payouts := []model.PayoutRequest{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, dbError(err, "", "Failed to scan payout request")
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "", "Error occurred while iterating over payout requests")
	}
	return payouts, nil
}
