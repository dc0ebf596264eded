package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/blnkfinance/payline/model"
)

const paymentColumns = `id, payment_id, order_id, seller_id, company_id, provider, status, payout_status,
	subtotal, commission, currency, COALESCE(provider_event_id, ''), released_at, created_at, updated_at`

func scanPayment(row rowScanner) (model.Payment, error) {
	p := model.Payment{}
	var released sql.NullTime
	err := row.Scan(&p.ID, &p.PaymentID, &p.OrderID, &p.SellerID, &p.CompanyID, &p.Provider, &p.Status, &p.PayoutStatus,
		&p.Subtotal, &p.Commission, &p.Currency, &p.ProviderEventID, &released, &p.CreatedAt, &p.UpdatedAt)
	p.ReleasedAt = nullTimePtr(released)
	return p, err
}

func (d Datasource) GetPaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	ctx, span := startSpan(ctx, "GetPaymentByOrderID")
	defer span.End()

	row := d.db().QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payline.payments WHERE order_id = $1
	`, orderID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, dbError(err, "Payment not found", "Failed to retrieve payment")
	}
	return &p, nil
}

// SetPaymentProviderEvent stores the provider's release confirmation and
// marks the payout INITIATED unless it is already RELEASED.
func (d Datasource) SetPaymentProviderEvent(ctx context.Context, orderID, providerEventID string) error {
	_, err := d.db().ExecContext(ctx, `
		UPDATE payline.payments
		SET provider_event_id = $2,
			payout_status = CASE WHEN payout_status = 'RELEASED' THEN payout_status ELSE 'INITIATED' END,
			updated_at = NOW()
		WHERE order_id = $1
	`, orderID, providerEventID)
	if err != nil {
		return dbError(err, "", "Failed to record provider event on payment")
	}
	return nil
}

func (d Datasource) MarkPaymentReleased(ctx context.Context, orderID string, at time.Time) (bool, error) {
	res, err := d.db().ExecContext(ctx, `
		UPDATE payline.payments
		SET payout_status = 'RELEASED', released_at = $2, updated_at = $2
		WHERE order_id = $1 AND payout_status <> 'RELEASED'
	`, orderID, at)
	if err != nil {
		return false, dbError(err, "", "Failed to mark payment released")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError(err, "", "Failed to mark payment released")
	}
	return n > 0, nil
}

func (d Datasource) ListStuckPayments(ctx context.Context, olderThan time.Time, limit int) ([]model.Payment, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payline.payments
		WHERE status = 'PAID' AND payout_status <> 'RELEASED' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, dbError(err, "", "Failed to retrieve stuck payments")
	}
	defer rows.Close()

	payments := []model.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, dbError(err, "", "Failed to scan payment")
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "", "Error occurred while iterating over payments")
	}
	return payments, nil
}

// RecordProviderEvent writes to the inbox and reports false when the
// (provider, event id) pair was already recorded.
func (d Datasource) RecordProviderEvent(ctx context.Context, event model.ProviderEvent) (bool, error) {
	var payload interface{}
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}
	var id int64
	err := d.db().QueryRowContext(ctx, `
		INSERT INTO payline.provider_events (provider, provider_event_id, order_id, event_type, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
		RETURNING id
	`, event.Provider, event.ProviderEventID, event.OrderID, event.EventType, payload, event.ReceivedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dbError(err, "", "Failed to record provider event")
	}
	return true, nil
}
