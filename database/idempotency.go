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

// ClaimIdempotencyKey inserts an IN_PROGRESS record, or takes over a FAILED
// or stale IN_PROGRESS one, in a single statement. Exactly one concurrent
// caller sees claimed=true. Losers get the current record.
func (d Datasource) ClaimIdempotencyKey(ctx context.Context, scope, key string, staleAfter time.Duration) (*model.IdempotencyRecord, bool, error) {
	ctx, span := startSpan(ctx, "ClaimIdempotencyKey")
	defer span.End()

	rec := model.IdempotencyRecord{}
	err := d.db().QueryRowContext(ctx, `
		INSERT INTO payline.idempotency_records (scope, key, status, attempts, locked_at, created_at, updated_at)
		VALUES ($1, $2, 'IN_PROGRESS', 1, NOW(), NOW(), NOW())
		ON CONFLICT (scope, key) DO UPDATE
		SET status = 'IN_PROGRESS',
			locked_at = NOW(),
			updated_at = NOW(),
			error_message = NULL,
			attempts = payline.idempotency_records.attempts + 1
		WHERE payline.idempotency_records.status = 'FAILED'
		   OR (payline.idempotency_records.status = 'IN_PROGRESS'
		       AND payline.idempotency_records.locked_at < NOW() - make_interval(secs => $3))
		RETURNING scope, key, status, attempts, locked_at, created_at, updated_at
	`, scope, key, staleAfter.Seconds()).Scan(
		&rec.Scope, &rec.Key, &rec.Status, &rec.Attempts, &rec.LockedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == nil {
		return &rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		return nil, false, dbError(err, "", "Failed to claim idempotency key")
	}

	existing, err := d.GetIdempotencyRecord(ctx, scope, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (d Datasource) GetIdempotencyRecord(ctx context.Context, scope, key string) (*model.IdempotencyRecord, error) {
	rec := model.IdempotencyRecord{}
	var (
		result []byte
		errMsg sql.NullString
	)
	err := d.db().QueryRowContext(ctx, `
		SELECT scope, key, status, result, error_message, attempts, locked_at, created_at, updated_at
		FROM payline.idempotency_records
		WHERE scope = $1 AND key = $2
	`, scope, key).Scan(
		&rec.Scope, &rec.Key, &rec.Status, &result, &errMsg, &rec.Attempts, &rec.LockedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, dbError(err, "Idempotency record not found", "Failed to retrieve idempotency record")
	}
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	rec.ErrorMessage = errMsg.String
	return &rec, nil
}

func (d Datasource) CompleteIdempotencyKey(ctx context.Context, scope, key string, result json.RawMessage) error {
	res, err := d.db().ExecContext(ctx, `
		UPDATE payline.idempotency_records
		SET status = 'COMPLETED', result = $3, error_message = NULL, updated_at = NOW()
		WHERE scope = $1 AND key = $2 AND status = 'IN_PROGRESS'
	`, scope, key, []byte(result))
	if err != nil {
		return dbError(err, "", "Failed to complete idempotency key")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "Idempotency key is no longer held by this caller", nil)
	}
	return nil
}

func (d Datasource) FailIdempotencyKey(ctx context.Context, scope, key, message string) error {
	_, err := d.db().ExecContext(ctx, `
		UPDATE payline.idempotency_records
		SET status = 'FAILED', error_message = $3, updated_at = NOW()
		WHERE scope = $1 AND key = $2 AND status = 'IN_PROGRESS'
	`, scope, key, message)
	if err != nil {
		return dbError(err, "", "Failed to mark idempotency key failed")
	}
	return nil
}
