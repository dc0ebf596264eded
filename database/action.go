package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
)

const actionColumns = `idempotency_key, company_id, marketplace, action_key, order_id, status,
	request_payload, response_payload, COALESCE(error_message, ''), failure_history,
	attempts, replay_count, lock_expires_at, created_at, updated_at`

func scanAction(row rowScanner) (model.ActionAudit, error) {
	a := model.ActionAudit{}
	var (
		request, response, history []byte
		lock                       sql.NullTime
	)
	err := row.Scan(&a.IdempotencyKey, &a.CompanyID, &a.Marketplace, &a.ActionKey, &a.OrderID, &a.Status,
		&request, &response, &a.ErrorMessage, &history,
		&a.Attempts, &a.ReplayCount, &lock, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	a.RequestPayload = json.RawMessage(request)
	if len(response) > 0 {
		a.ResponsePayload = json.RawMessage(response)
	}
	a.FailureHistory = []model.FailureEvent{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &a.FailureHistory); err != nil {
			return a, err
		}
	}
	a.LockExpiresAt = nullTimePtr(lock)
	return a, nil
}

func eventJSON(event model.FailureEvent) ([]byte, error) {
	b, err := json.Marshal([]model.FailureEvent{event})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal failure event", err)
	}
	return b, nil
}

// UpsertActionAudit inserts a PENDING audit for a new idempotency key. For a
// known key the stored row is returned unchanged with created=false.
func (d Datasource) UpsertActionAudit(ctx context.Context, a model.ActionAudit) (*model.ActionAudit, bool, error) {
	ctx, span := startSpan(ctx, "UpsertActionAudit")
	defer span.End()

	var created time.Time
	err := d.db().QueryRowContext(ctx, `
		INSERT INTO payline.action_audits (idempotency_key, company_id, marketplace, action_key, order_id, status, request_payload, failure_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '[]'::jsonb, $8, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at
	`, a.IdempotencyKey, a.CompanyID, a.Marketplace, a.ActionKey, a.OrderID, a.Status, []byte(a.RequestPayload), a.CreatedAt).Scan(&created)
	if err == nil {
		a.CreatedAt, a.UpdatedAt = created, created
		if a.FailureHistory == nil {
			a.FailureHistory = []model.FailureEvent{}
		}
		return &a, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, dbError(err, "", "Failed to create action audit")
	}
	existing, err := d.GetActionAudit(ctx, a.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (d Datasource) GetActionAudit(ctx context.Context, idempotencyKey string) (*model.ActionAudit, error) {
	row := d.db().QueryRowContext(ctx, `
		SELECT `+actionColumns+` FROM payline.action_audits WHERE idempotency_key = $1
	`, idempotencyKey)
	a, err := scanAction(row)
	if err != nil {
		return nil, dbError(err, "Action audit not found", "Failed to retrieve action audit")
	}
	return &a, nil
}

// StartActionAttempt takes the processing lease and counts the attempt.
func (d Datasource) StartActionAttempt(ctx context.Context, idempotencyKey string, leaseUntil time.Time) (*model.ActionAudit, error) {
	row := d.db().QueryRowContext(ctx, `
		UPDATE payline.action_audits
		SET attempts = attempts + 1, lock_expires_at = $2, updated_at = NOW()
		WHERE idempotency_key = $1
		RETURNING `+actionColumns, idempotencyKey, leaseUntil)
	a, err := scanAction(row)
	if err != nil {
		return nil, dbError(err, "Action audit not found", "Failed to start action attempt")
	}
	return &a, nil
}

func (d Datasource) CompleteAction(ctx context.Context, idempotencyKey string, response json.RawMessage) error {
	var payload interface{}
	if len(response) > 0 {
		payload = []byte(response)
	}
	_, err := d.db().ExecContext(ctx, `
		UPDATE payline.action_audits
		SET status = 'SUCCEEDED', response_payload = $2, error_message = NULL, lock_expires_at = NULL, updated_at = NOW()
		WHERE idempotency_key = $1
	`, idempotencyKey, payload)
	if err != nil {
		return dbError(err, "", "Failed to complete action")
	}
	return nil
}

// FailActionAttempt appends to the failure history and releases the lease.
// Only a terminal failure moves the audit to FAILED.
func (d Datasource) FailActionAttempt(ctx context.Context, idempotencyKey string, event model.FailureEvent, terminal bool) error {
	history, err := eventJSON(event)
	if err != nil {
		return err
	}
	_, err = d.db().ExecContext(ctx, `
		UPDATE payline.action_audits
		SET failure_history = failure_history || $2::jsonb,
			error_message = $3,
			status = CASE WHEN $4::boolean THEN 'FAILED' ELSE status END,
			lock_expires_at = NULL,
			updated_at = NOW()
		WHERE idempotency_key = $1
	`, idempotencyKey, history, event.Error, terminal)
	if err != nil {
		return dbError(err, "", "Failed to record action failure")
	}
	return nil
}

func (d Datasource) ResetActionForReplay(ctx context.Context, idempotencyKey string, event model.FailureEvent) error {
	history, err := eventJSON(event)
	if err != nil {
		return err
	}
	_, err = d.db().ExecContext(ctx, `
		UPDATE payline.action_audits
		SET failure_history = failure_history || $2::jsonb,
			status = 'PENDING',
			replay_count = replay_count + 1,
			lock_expires_at = NULL,
			updated_at = NOW()
		WHERE idempotency_key = $1
	`, idempotencyKey, history)
	if err != nil {
		return dbError(err, "", "Failed to reset action for replay")
	}
	return nil
}

// ReleaseActionLease clears an expired lease. It refuses while the lease is live.
func (d Datasource) ReleaseActionLease(ctx context.Context, idempotencyKey string, event model.FailureEvent) error {
	history, err := eventJSON(event)
	if err != nil {
		return err
	}
	res, err := d.db().ExecContext(ctx, `
		UPDATE payline.action_audits
		SET failure_history = failure_history || $2::jsonb,
			lock_expires_at = NULL,
			updated_at = NOW()
		WHERE idempotency_key = $1 AND (lock_expires_at IS NULL OR lock_expires_at <= NOW())
	`, idempotencyKey, history)
	if err != nil {
		return dbError(err, "", "Failed to release action lease")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "Action lease is still held by a worker", nil)
	}
	return nil
}

func (d Datasource) ListExpiredLeases(ctx context.Context, expiredBefore time.Time, limit int) ([]model.ActionAudit, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM payline.action_audits
		WHERE status = 'PENDING' AND lock_expires_at IS NOT NULL AND lock_expires_at < $1
		ORDER BY lock_expires_at ASC
		LIMIT $2
	`, expiredBefore, limit)
	if err != nil {
		return nil, dbError(err, "", "Failed to retrieve expired leases")
	}
	defer rows.Close()

	out := []model.ActionAudit{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, dbError(err, "", "Failed to scan action audit")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "", "Error occurred while iterating over action audits")
	}
	return out, nil
}
