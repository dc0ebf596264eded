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
package model

import (
	"errors"
	"strings"

	"github.com/blnkfinance/payline"
	"github.com/blnkfinance/payline/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

type CreatePayout struct {
	DestinationID string `json:"destination_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ReplayDeadLetter struct {
	Reason          string `json:"reason"`
	TargetCompanyID string `json:"target_company_id"`
}

type SetReadOnly struct {
	Enabled *bool  `json:"enabled"`
	Reason  string `json:"reason"`
}

type CreateDestination struct {
	HolderName    string `json:"holder_name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	MakeDefault   bool   `json:"make_default"`
}

// SubmitAction is the body of POST /actions. The idempotency key comes from
// the header and the company defaults to the caller's tenant.
type SubmitAction struct {
	CompanyID   string             `json:"company_id"`
	Marketplace string             `json:"marketplace"`
	OrderID     string             `json:"order_id"`
	ActionKey   string             `json:"action_key"`
	Params      model.ActionParams `json:"params"`
}

func positiveAmount(value interface{}) error {
	s, _ := value.(string)
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a decimal number")
	}
	if !amount.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

func (p *CreatePayout) ValidateCreatePayout() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.DestinationID, validation.Required),
		validation.Field(&p.Amount, validation.Required, validation.By(positiveAmount)),
		validation.Field(&p.Currency, validation.Required, validation.Length(3, 3)),
	)
}

// AmountDecimal is only meaningful after ValidateCreatePayout succeeded.
func (p *CreatePayout) AmountDecimal() decimal.Decimal {
	amount, _ := decimal.NewFromString(strings.TrimSpace(p.Amount))
	return amount
}

func (r *ReasonRequest) ValidateRequired() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Reason, validation.Required),
	)
}

func (r *ReplayDeadLetter) ValidateReplay() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Reason, validation.Required),
		validation.Field(&r.TargetCompanyID, validation.Required),
	)
}

func (r *SetReadOnly) ValidateSetReadOnly() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Enabled, validation.NotNil),
		validation.Field(&r.Reason, validation.Required),
	)
}

func (d *CreateDestination) ToNewDestination(sellerID string) payline.NewDestination {
	return payline.NewDestination{
		SellerID:      sellerID,
		HolderName:    strings.TrimSpace(d.HolderName),
		BankCode:      strings.TrimSpace(d.BankCode),
		AccountNumber: d.AccountNumber,
		MakeDefault:   d.MakeDefault,
	}
}

// ToActionRequest builds the queued request for the caller's tenant. A body
// naming another company is rejected.
func (a *SubmitAction) ToActionRequest(tenantID, idempotencyKey string) (model.ActionRequest, error) {
	company := strings.TrimSpace(a.CompanyID)
	if company == "" {
		company = tenantID
	}
	if company != tenantID {
		return model.ActionRequest{}, errors.New("company_id does not match the caller's tenant")
	}
	return model.ActionRequest{
		CompanyID:      company,
		Marketplace:    a.Marketplace,
		OrderID:        strings.TrimSpace(a.OrderID),
		ActionKey:      model.ActionKey(a.ActionKey),
		IdempotencyKey: idempotencyKey,
		Params:         a.Params,
	}, nil
}
