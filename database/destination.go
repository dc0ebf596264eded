package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/blnkfinance/payline/model"
)

const destinationColumns = `id, destination_id, seller_id, holder_name, COALESCE(bank_code, ''), masked_account,
	encrypted_secret, fingerprint, status, is_default, created_at, updated_at`

func scanDestination(row rowScanner) (model.PayoutDestination, error) {
	d := model.PayoutDestination{}
	err := row.Scan(&d.ID, &d.DestinationID, &d.SellerID, &d.HolderName, &d.BankCode, &d.MaskedAccount,
		&d.EncryptedSecret, &d.Fingerprint, &d.Status, &d.IsDefault, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (d Datasource) CreateDestination(ctx context.Context, dest model.PayoutDestination) (*model.PayoutDestination, error) {
	err := d.db().QueryRowContext(ctx, `
		INSERT INTO payline.payout_destinations (destination_id, seller_id, holder_name, bank_code, masked_account, encrypted_secret, fingerprint, status, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $10)
		RETURNING id
	`, dest.DestinationID, dest.SellerID, dest.HolderName, dest.BankCode, dest.MaskedAccount,
		dest.EncryptedSecret, dest.Fingerprint, dest.Status, dest.IsDefault, dest.CreatedAt).Scan(&dest.ID)
	if err != nil {
		return nil, dbError(err, "", "Failed to create payout destination")
	}
	dest.UpdatedAt = dest.CreatedAt
	return &dest, nil
}

func (d Datasource) GetDestination(ctx context.Context, destinationID string) (*model.PayoutDestination, error) {
	row := d.db().QueryRowContext(ctx, `
		SELECT `+destinationColumns+` FROM payline.payout_destinations WHERE destination_id = $1
	`, destinationID)
	dest, err := scanDestination(row)
	if err != nil {
		return nil, dbError(err, "Payout destination not found", "Failed to retrieve payout destination")
	}
	return &dest, nil
}

func (d Datasource) GetDestinationByFingerprint(ctx context.Context, sellerID, fingerprint string) (*model.PayoutDestination, error) {
	row := d.db().QueryRowContext(ctx, `
		SELECT `+destinationColumns+` FROM payline.payout_destinations WHERE seller_id = $1 AND fingerprint = $2
	`, sellerID, fingerprint)
	dest, err := scanDestination(row)
	if err != nil {
		return nil, dbError(err, "Payout destination not found", "Failed to retrieve payout destination")
	}
	return &dest, nil
}

func (d Datasource) ListDestinations(ctx context.Context, sellerID string) ([]model.PayoutDestination, error) {
	rows, err := d.db().QueryContext(ctx, `
		SELECT `+destinationColumns+`
		FROM payline.payout_destinations
		WHERE seller_id = $1
		ORDER BY is_default DESC, created_at DESC
	`, sellerID)
	if err != nil {
		return nil, dbError(err, "", "Failed to retrieve payout destinations")
	}
	defer rows.Close()

	out := []model.PayoutDestination{}
	for rows.Next() {
		dest, err := scanDestination(rows)
		if err != nil {
			return nil, dbError(err, "", "Failed to scan payout destination")
		}
		out = append(out, dest)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "", "Error occurred while iterating over payout destinations")
	}
	return out, nil
}

func (d Datasource) ClearDefaultDestination(ctx context.Context, sellerID string) error {
	_, err := d.db().ExecContext(ctx, `
		UPDATE payline.payout_destinations SET is_default = FALSE, updated_at = NOW()
		WHERE seller_id = $1 AND is_default
	`, sellerID)
	if err != nil {
		return dbError(err, "", "Failed to clear default destination")
	}
	return nil
}

// SetDefaultDestination only succeeds for an ACTIVE destination of the seller.
// Callers clear the previous default first, in the same transaction.
func (d Datasource) SetDefaultDestination(ctx context.Context, sellerID, destinationID string) error {
	res, err := d.db().ExecContext(ctx, `
		UPDATE payline.payout_destinations SET is_default = TRUE, updated_at = NOW()
		WHERE seller_id = $1 AND destination_id = $2 AND status = 'ACTIVE'
	`, sellerID, destinationID)
	if err != nil {
		return dbError(err, "", "Failed to set default destination")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dbError(sql.ErrNoRows, "Active payout destination not found", "")
	}
	return nil
}

func (d Datasource) DeactivateDestination(ctx context.Context, sellerID, destinationID string) error {
	res, err := d.db().ExecContext(ctx, `
		UPDATE payline.payout_destinations SET status = 'INACTIVE', is_default = FALSE, updated_at = NOW()
		WHERE seller_id = $1 AND destination_id = $2
	`, sellerID, destinationID)
	if err != nil {
		return dbError(err, "", "Failed to deactivate destination")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dbError(sql.ErrNoRows, "Payout destination not found", "")
	}
	return nil
}
