package model

import (
	"testing"

	"github.com/blnkfinance/payline/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCreatePayout(t *testing.T) {
	tests := []struct {
		name    string
		payout  CreatePayout
		wantErr bool
	}{
		{
			name:    "Valid",
			payout:  CreatePayout{DestinationID: "dst_1", Amount: "40.50", Currency: "TRY"},
			wantErr: false,
		},
		{
			name:    "Missing destination",
			payout:  CreatePayout{Amount: "40", Currency: "TRY"},
			wantErr: true,
		},
		{
			name:    "Zero amount",
			payout:  CreatePayout{DestinationID: "dst_1", Amount: "0", Currency: "TRY"},
			wantErr: true,
		},
		{
			name:    "Negative amount",
			payout:  CreatePayout{DestinationID: "dst_1", Amount: "-3", Currency: "TRY"},
			wantErr: true,
		},
		{
			name:    "Not a number",
			payout:  CreatePayout{DestinationID: "dst_1", Amount: "ten", Currency: "TRY"},
			wantErr: true,
		},
		{
			name:    "Bad currency",
			payout:  CreatePayout{DestinationID: "dst_1", Amount: "10", Currency: "LIRA"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payout.ValidateCreatePayout()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreatePayoutAmountDecimal(t *testing.T) {
	p := CreatePayout{Amount: " 40.50 "}
	assert.True(t, decimal.RequireFromString("40.5").Equal(p.AmountDecimal()))
}

func TestValidateSetReadOnly(t *testing.T) {
	enabled := true
	assert.NoError(t, (&SetReadOnly{Enabled: &enabled, Reason: "Failover"}).ValidateSetReadOnly())
	assert.Error(t, (&SetReadOnly{Reason: "Failover"}).ValidateSetReadOnly())
	assert.Error(t, (&SetReadOnly{Enabled: &enabled}).ValidateSetReadOnly())
}

func TestValidateReplay(t *testing.T) {
	assert.NoError(t, (&ReplayDeadLetter{Reason: "Package id fixed", TargetCompanyID: "cmp_1"}).ValidateReplay())
	assert.Error(t, (&ReplayDeadLetter{Reason: "Package id fixed"}).ValidateReplay())
	assert.Error(t, (&ReplayDeadLetter{TargetCompanyID: "cmp_1"}).ValidateReplay())
}

func TestToActionRequest(t *testing.T) {
	body := SubmitAction{
		Marketplace: "Trendyol",
		OrderID:     " ord_1 ",
		ActionKey:   "print_label_a4",
		Params:      model.ActionParams{PrintLabel: &model.PrintLabelParams{ShipmentPackageID: "pkg_1"}},
	}

	req, err := body.ToActionRequest("cmp_1", "act-1")
	require.NoError(t, err)
	assert.Equal(t, "cmp_1", req.CompanyID)
	assert.Equal(t, "ord_1", req.OrderID)
	assert.Equal(t, "act-1", req.IdempotencyKey)
	assert.Equal(t, model.ActionKey("print_label_a4"), req.ActionKey)

	body.CompanyID = "cmp_2"
	_, err = body.ToActionRequest("cmp_1", "act-1")
	assert.Error(t, err)
}

func TestToNewDestination(t *testing.T) {
	d := CreateDestination{HolderName: " Ayse Yilmaz ", BankCode: " 0062 ", AccountNumber: "TR33 0006 1005 1978 6457 8413 26", MakeDefault: true}
	nd := d.ToNewDestination("seller_1")
	assert.Equal(t, "seller_1", nd.SellerID)
	assert.Equal(t, "Ayse Yilmaz", nd.HolderName)
	assert.Equal(t, "0062", nd.BankCode)
	assert.True(t, nd.MakeDefault)
	assert.NoError(t, nd.Validate())
}
