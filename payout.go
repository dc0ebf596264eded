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

package payline

import (
	"context"
	"fmt"
	"strings"

	"github.com/blnkfinance/payline/database"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	scopePayoutCreate     = "payout.create"
	scopePayoutTransition = "payout.transition"

	actionProcessInternal = "process"
	insufficientFundsMsg  = "Insufficient funds"
)

// CreatePayoutRequest opens a payout for a seller. The same idempotency key
// for the same seller returns the payout created by the first call.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sellerID string: The seller requesting the payout.
// - destinationID string: An ACTIVE destination owned by the seller.
// - amount decimal.Decimal: Must be positive and covered by the seller's balance.
// - currency string: The payout currency.
// - idempotencyKey string: Client key, unique per seller.
//
// Returns:
// - *model.PayoutRequest: The payout in REQUESTED status.
// - error: INVALID_INPUT, INVALID_DESTINATION, CURRENCY_MISMATCH, INSUFFICIENT_FUNDS or a storage error.
func (p *Payline) CreatePayoutRequest(ctx context.Context, sellerID, destinationID string, amount decimal.Decimal, currency, idempotencyKey string) (*model.PayoutRequest, error) {
	ctx, span := tracer.Start(ctx, "CreatePayoutRequest")
	defer span.End()

	currency = strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case strings.TrimSpace(sellerID) == "":
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Seller is required", nil)
	case strings.TrimSpace(idempotencyKey) == "":
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Idempotency key is required", nil)
	case !amount.IsPositive():
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Amount must be greater than zero", nil)
	case currency == "":
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Currency is required", nil)
	}

	raw, err := p.guard.RunOnceTx(ctx, scopePayoutCreate, sellerID+":"+idempotencyKey, func(ctx context.Context, tx database.IDataSource) (interface{}, error) {
		// The row outlives its guard record when a stale claim is taken over.
		existing, err := tx.GetPayoutRequestByKey(ctx, sellerID, idempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, err
		}

		dest, err := tx.GetDestination(ctx, destinationID)
		if err != nil && !apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, err
		}
		if dest == nil || dest.SellerID != sellerID || dest.Status != model.DestinationActive {
			return nil, apierror.NewAPIError(apierror.ErrInvalidDestination, "Destination is not an active destination of this seller", nil)
		}

		if err := tx.LockOwner(ctx, sellerID); err != nil {
			return nil, err
		}
		balance, err := tx.SumLedgerEntries(ctx, sellerID)
		if err != nil {
			return nil, err
		}
		if balance.Currency != "" && balance.Currency != currency {
			return nil, apierror.NewAPIError(apierror.ErrCurrencyMismatch,
				fmt.Sprintf("Seller balance is in %s, payout requested in %s", balance.Currency, currency), nil)
		}
		if balance.Available.LessThan(amount) {
			return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds, "Available balance does not cover the payout amount", nil)
		}

		return tx.CreatePayoutRequest(ctx, model.PayoutRequest{
			PayoutID:       model.GenerateUUIDWithSuffix("pay"),
			SellerID:       sellerID,
			DestinationID:  destinationID,
			Amount:         amount,
			Currency:       currency,
			Status:         model.PayoutRequested,
			IdempotencyKey: idempotencyKey,
			RequestedAt:    p.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	payout := &model.PayoutRequest{}
	if err := decodeResult(raw, payout); err != nil {
		return nil, err
	}
	return payout, nil
}

// ApprovePayout records the operator's reason with the approval. A missing or
// short reason is rejected before anything is written.
func (p *Payline) ApprovePayout(ctx context.Context, payoutID, actor, reason string) (*model.PayoutRequest, error) {
	if !model.ValidReason(reason, p.cfg.Payout.MinReasonLength) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("An approval reason of at least %d characters is required", p.cfg.Payout.MinReasonLength), nil)
	}
	return p.transitionPayout(ctx, payoutID, model.ActionApprove, actor, strings.TrimSpace(reason), "")
}

// RejectPayout needs a reason of at least the configured length, checked
// before anything is written.
func (p *Payline) RejectPayout(ctx context.Context, payoutID, actor, reason string) (*model.PayoutRequest, error) {
	if !model.ValidReason(reason, p.cfg.Payout.MinReasonLength) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("A rejection reason of at least %d characters is required", p.cfg.Payout.MinReasonLength), nil)
	}
	return p.transitionPayout(ctx, payoutID, model.ActionReject, actor, strings.TrimSpace(reason), "")
}

func (p *Payline) MarkProcessing(ctx context.Context, payoutID, actor string) (*model.PayoutRequest, error) {
	return p.transitionPayout(ctx, payoutID, model.ActionMarkProcessing, actor, "", "")
}

func (p *Payline) MarkPaid(ctx context.Context, payoutID, actor string) (*model.PayoutRequest, error) {
	return p.transitionPayout(ctx, payoutID, model.ActionMarkPaid, actor, "", "")
}

func (p *Payline) MarkFailed(ctx context.Context, payoutID, actor, message string) (*model.PayoutRequest, error) {
	return p.transitionPayout(ctx, payoutID, model.ActionMarkFailed, actor, "", message)
}

// transitionPayout applies one edge of the payout graph under the guard.
// The row is locked for the duration of the check and update.
func (p *Payline) transitionPayout(ctx context.Context, payoutID string, action model.PayoutAction, actor, reason, failure string) (*model.PayoutRequest, error) {
	ctx, span := tracer.Start(ctx, "TransitionPayout")
	defer span.End()

	var before *model.PayoutRequest
	raw, err := p.guard.RunOnceTx(ctx, scopePayoutTransition, payoutID+":"+string(action), func(ctx context.Context, tx database.IDataSource) (interface{}, error) {
		current, err := tx.GetPayoutRequestForUpdate(ctx, payoutID)
		if err != nil {
			return nil, err
		}
		snapshot := *current
		before = &snapshot

		to, ok := model.NextPayoutStatus(current.Status, action)
		if !ok {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition,
				fmt.Sprintf("Cannot %s a payout in status %s", action, current.Status), nil)
		}
		current.ApplyTransition(to, reason, failure, p.now())
		if err := tx.UpdatePayoutRequest(ctx, current); err != nil {
			return nil, err
		}
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	payout := &model.PayoutRequest{}
	if err := decodeResult(raw, payout); err != nil {
		return nil, err
	}
	// before is only set when this call executed the transition.
	if before != nil {
		p.afterPayoutChange(ctx, actor, auditActionFor(action), reason, before, payout)
	}
	return payout, nil
}

// ProcessPayoutInternal settles an approved payout against the seller's
// ledger: APPROVED -> PROCESSING, then a DEBIT and PAID_INTERNAL in one
// transaction. When the balance no longer covers the amount the payout
// fails with no ledger entry. A terminal payout is returned unchanged.
func (p *Payline) ProcessPayoutInternal(ctx context.Context, payoutID, actor string) (*model.PayoutRequest, error) {
	ctx, span := tracer.Start(ctx, "ProcessPayoutInternal")
	defer span.End()

	current, err := p.datasource.GetPayoutRequest(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return current, nil
	}
	if current.Status == model.PayoutApproved {
		if current, err = p.MarkProcessing(ctx, payoutID, actor); err != nil {
			return nil, err
		}
	}
	if current.Status != model.PayoutProcessing {
		return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition,
			fmt.Sprintf("Cannot process a payout in status %s", current.Status), nil)
	}

	var before *model.PayoutRequest
	raw, err := p.guard.RunOnceTx(ctx, scopePayoutTransition, payoutID+":"+actionProcessInternal, func(ctx context.Context, tx database.IDataSource) (interface{}, error) {
		payout, err := tx.GetPayoutRequestForUpdate(ctx, payoutID)
		if err != nil {
			return nil, err
		}
		if payout.Status.IsTerminal() {
			return payout, nil
		}
		if payout.Status != model.PayoutProcessing {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition,
				fmt.Sprintf("Cannot process a payout in status %s", payout.Status), nil)
		}
		snapshot := *payout
		before = &snapshot

		if err := tx.LockOwner(ctx, payout.SellerID); err != nil {
			return nil, err
		}
		balance, err := tx.SumLedgerEntries(ctx, payout.SellerID)
		if err != nil {
			return nil, err
		}

		if balance.Available.LessThan(payout.Amount) {
			logrus.WithFields(logrus.Fields{
				"payout_id": payout.PayoutID,
				"available": balance.Available.String(),
				"amount":    payout.Amount.String(),
			}).Warn("payout failed on insufficient funds")
			payout.ApplyTransition(model.PayoutFailed, "", insufficientFundsMsg, p.now())
		} else {
			if _, err := p.PostDebitTx(ctx, tx, payout.SellerID, payout.Amount, payout.Currency, payout.PayoutID, model.DebitKey(payout.PayoutID)); err != nil {
				return nil, err
			}
			payout.ApplyTransition(model.PayoutPaidInternal, "", "", p.now())
		}

		if err := tx.UpdatePayoutRequest(ctx, payout); err != nil {
			return nil, err
		}
		return payout, nil
	})
	if err != nil {
		return nil, err
	}

	payout := &model.PayoutRequest{}
	if err := decodeResult(raw, payout); err != nil {
		return nil, err
	}
	if before != nil {
		p.afterPayoutChange(ctx, actor, model.AuditPayoutProcess, "", before, payout)
	}
	return payout, nil
}

func (p *Payline) afterPayoutChange(ctx context.Context, actor, auditAction, reason string, before, after *model.PayoutRequest) {
	p.audit(ctx, actor, auditAction, "payout", after.PayoutID, reason, before, after)
	if event := payoutEvent(after.Status); event != "" {
		p.notifyWebhook(ctx, event, after)
	}
}

func auditActionFor(action model.PayoutAction) string {
	switch action {
	case model.ActionApprove:
		return model.AuditPayoutApprove
	case model.ActionReject:
		return model.AuditPayoutReject
	default:
		return model.AuditPayoutProcess
	}
}

func (p *Payline) GetPayout(ctx context.Context, payoutID string) (*model.PayoutRequest, error) {
	return p.datasource.GetPayoutRequest(ctx, payoutID)
}

func (p *Payline) ListPayouts(ctx context.Context, filter model.PayoutFilter) ([]model.PayoutRequest, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return p.datasource.ListPayoutRequests(ctx, filter)
}
