package payline

import (
	"context"
	"strings"

	"github.com/blnkfinance/payline/database"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// NewDestination is the input for registering a seller payout destination.
type NewDestination struct {
	SellerID      string `json:"seller_id"`
	HolderName    string `json:"holder_name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	MakeDefault   bool   `json:"make_default"`
}

func (d NewDestination) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.SellerID, validation.Required),
		validation.Field(&d.HolderName, validation.Required, validation.Length(2, 140)),
		validation.Field(&d.BankCode, validation.Length(0, 32)),
		validation.Field(&d.AccountNumber, validation.Required, validation.By(func(v interface{}) error {
			n := len(model.NormalizeAccountNumber(v.(string)))
			if n < 8 || n > 34 {
				return validation.NewError("validation_account_length", "must be between 8 and 34 characters")
			}
			return nil
		})),
	)
}

// CreateDestination registers a payout destination. The account number is
// stored encrypted and only its mask is ever returned. Registering the same
// account twice for a seller returns the existing destination.
func (p *Payline) CreateDestination(ctx context.Context, in NewDestination) (*model.PayoutDestination, error) {
	ctx, span := tracer.Start(ctx, "CreateDestination")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	if p.tokenizer == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Tokenization is not configured", nil)
	}

	account := model.NormalizeAccountNumber(in.AccountNumber)
	fingerprint := p.tokenizer.Fingerprint(in.SellerID + ":" + account)

	existing, err := p.datasource.GetDestinationByFingerprint(ctx, in.SellerID, fingerprint)
	if err == nil {
		return existing, nil
	}
	if !apierror.HasCode(err, apierror.ErrNotFound) {
		return nil, err
	}

	secret, err := p.tokenizer.Tokenize(account)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encrypt account number", err)
	}

	var created *model.PayoutDestination
	err = p.datasource.WithTx(ctx, func(tx database.IDataSource) error {
		dest := model.PayoutDestination{
			DestinationID:   model.GenerateUUIDWithSuffix("dst"),
			SellerID:        in.SellerID,
			HolderName:      strings.TrimSpace(in.HolderName),
			BankCode:        strings.TrimSpace(in.BankCode),
			MaskedAccount:   model.MaskAccountNumber(account),
			EncryptedSecret: secret,
			Fingerprint:     fingerprint,
			Status:          model.DestinationActive,
			CreatedAt:       p.now(),
		}
		if in.MakeDefault {
			if err := tx.ClearDefaultDestination(ctx, in.SellerID); err != nil {
				return err
			}
			dest.IsDefault = true
		}
		var err error
		created, err = tx.CreateDestination(ctx, dest)
		return err
	})
	if apierror.HasCode(err, apierror.ErrConflict) {
		// A concurrent registration of the same account won the unique index.
		return p.datasource.GetDestinationByFingerprint(ctx, in.SellerID, fingerprint)
	}
	if err != nil {
		return nil, err
	}

	p.audit(ctx, in.SellerID, model.AuditDestinationAdd, "destination", created.DestinationID, "", nil, created)
	return created, nil
}

func (p *Payline) ListDestinations(ctx context.Context, sellerID string) ([]model.PayoutDestination, error) {
	return p.datasource.ListDestinations(ctx, sellerID)
}

// SetDefaultDestination makes an ACTIVE destination the seller's default.
func (p *Payline) SetDefaultDestination(ctx context.Context, sellerID, destinationID string) error {
	return p.datasource.WithTx(ctx, func(tx database.IDataSource) error {
		if err := tx.ClearDefaultDestination(ctx, sellerID); err != nil {
			return err
		}
		return tx.SetDefaultDestination(ctx, sellerID, destinationID)
	})
}

// DeactivateDestination soft-deletes a destination and clears its default flag.
func (p *Payline) DeactivateDestination(ctx context.Context, sellerID, destinationID string) error {
	if err := p.datasource.DeactivateDestination(ctx, sellerID, destinationID); err != nil {
		return err
	}
	p.audit(ctx, sellerID, model.AuditDestinationOff, "destination", destinationID, "", nil, nil)
	return nil
}
