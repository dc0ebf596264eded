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
	"encoding/json"
	"fmt"
	"time"

	"github.com/blnkfinance/payline/database"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
	"github.com/blnkfinance/payline/providers"
	"github.com/sirupsen/logrus"
)

const (
	scopeRelease          = "release"
	scopeReleaseProvider  = "release.provider"
	releaseEventType      = "payout.release"
	forceReleaseKeySuffix = ":FORCE_RELEASE"
)

// ReleaseFunds moves a paid order's held funds to the seller. It is safe to
// call any number of times: a released order is a no-op.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - orderID string: The order whose payment is released.
// - actor string: Who triggered the release. Automatic callers pass SystemActor.
//
// Returns:
// - *model.ReleaseResult: The outcome, including the posted ledger entries.
// - error: NOT_FOUND, INVALID_STATE_TRANSITION, a transient provider error or INTEGRITY_FAILURE.
func (p *Payline) ReleaseFunds(ctx context.Context, orderID, actor string) (*model.ReleaseResult, error) {
	return p.release(ctx, orderID, actor, "", false)
}

// ForceRelease is the operator retry of a stalled release. It uses the
// deterministic key <orderId>:FORCE_RELEASE and is always audited.
func (p *Payline) ForceRelease(ctx context.Context, orderID, actor, reason string) (*model.ReleaseResult, error) {
	if !model.ValidReason(reason, p.cfg.Payout.MinReasonLength) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("A reason of at least %d characters is required", p.cfg.Payout.MinReasonLength), nil)
	}
	return p.release(ctx, orderID, actor, reason, true)
}

func (p *Payline) release(ctx context.Context, orderID, actor, reason string, force bool) (*model.ReleaseResult, error) {
	ctx, span := tracer.Start(ctx, "ReleaseFunds")
	defer span.End()

	payment, err := p.datasource.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.PayoutStatus == model.PayoutReleased {
		releaseOutcomes.WithLabelValues("noop").Inc()
		return releasedResult(payment), nil
	}
	if payment.Status != model.PaymentPaid {
		return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition,
			fmt.Sprintf("Payment for order %s is %s, only PAID payments can be released", orderID, payment.Status), nil)
	}

	key := providers.ReleaseIdempotencyKey(orderID)
	if force {
		key = orderID + forceReleaseKeySuffix
	}

	executed := false
	raw, err := p.guard.RunOnce(ctx, scopeRelease, key, func(ctx context.Context) (interface{}, error) {
		executed = true
		return p.executeRelease(ctx, orderID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &model.ReleaseResult{}
	if err := decodeResult(raw, result); err != nil {
		return nil, err
	}

	if !executed {
		return result, nil
	}
	if force {
		p.audit(ctx, actor, model.AuditForceRelease, "payment", orderID, reason, payment, result)
	} else if !result.AlreadyReleased {
		p.audit(ctx, actor, model.AuditRelease, "payment", orderID, reason, payment, result)
	}
	if !result.AlreadyReleased {
		p.notifyWebhook(ctx, eventFundsReleased, result)
	}
	return result, nil
}

func releasedResult(payment *model.Payment) *model.ReleaseResult {
	return &model.ReleaseResult{
		OrderID:         payment.OrderID,
		PayoutStatus:    model.PayoutReleased,
		ProviderEventID: payment.ProviderEventID,
		AlreadyReleased: true,
		ReleasedAt:      payment.ReleasedAt,
	}
}

// providerConfirmation is the stored outcome of the single provider call for an order.
type providerConfirmation struct {
	ProviderEventID string          `json:"provider_event_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// confirmRelease returns the provider event id for the order. The provider
// is called at most once per order: release and force release share the
// release.provider claim, and a recorded event id skips it entirely. The
// boolean reports whether the provider call was skipped.
func (p *Payline) confirmRelease(ctx context.Context, payment *model.Payment) (string, bool, error) {
	if payment.ProviderEventID != "" {
		return payment.ProviderEventID, true, nil
	}

	orderID := payment.OrderID
	called := false
	raw, err := p.guard.RunOnce(ctx, scopeReleaseProvider, providers.ReleaseIdempotencyKey(orderID), func(ctx context.Context) (interface{}, error) {
		called = true
		if p.payouts == nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Payout provider is not configured", nil)
		}
		res, err := p.payouts.Release(ctx, providers.ReleaseInput{
			OrderID:   orderID,
			PaymentID: payment.PaymentID,
			SellerID:  payment.SellerID,
			Provider:  payment.Provider,
			Amount:    payment.SellerNet(),
			Currency:  payment.Currency,
		})
		if err != nil {
			releaseOutcomes.WithLabelValues("provider_failed").Inc()
			if _, ok := apierror.As(err); !ok {
				err = apierror.NewAPIError(apierror.ErrProviderFailure, "Payout provider release failed", err)
			}
			return nil, err
		}
		return providerConfirmation{ProviderEventID: res.ProviderEventID, Payload: res.RawPayload}, nil
	})
	if err != nil {
		return "", false, err
	}

	conf := providerConfirmation{}
	if err := decodeResult(raw, &conf); err != nil {
		return "", false, err
	}

	fields := logrus.Fields{"order_id": orderID, "provider_event_id": conf.ProviderEventID}
	if err := p.datasource.SetPaymentProviderEvent(ctx, orderID, conf.ProviderEventID); err != nil {
		logrus.WithFields(fields).Errorf("failed to store provider event on payment: %v", err)
		return "", false, err
	}
	_, err = p.datasource.RecordProviderEvent(ctx, model.ProviderEvent{
		Provider:        payment.Provider,
		ProviderEventID: conf.ProviderEventID,
		OrderID:         orderID,
		EventType:       releaseEventType,
		Payload:         conf.Payload,
		ReceivedAt:      p.now(),
	})
	if err != nil {
		logrus.WithFields(fields).Errorf("failed to record provider event: %v", err)
		return "", false, err
	}
	return conf.ProviderEventID, !called, nil
}

// executeRelease re-reads the payment under the release claim, confirms the
// provider side, then records the release and its ledger postings in one
// transaction. No transaction is open during the provider call.
func (p *Payline) executeRelease(ctx context.Context, orderID string) (*model.ReleaseResult, error) {
	payment, err := p.datasource.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.PayoutStatus == model.PayoutReleased {
		return releasedResult(payment), nil
	}

	eventID, skipped, err := p.confirmRelease(ctx, payment)
	if err != nil {
		return nil, err
	}

	now := p.now()
	result := &model.ReleaseResult{
		OrderID:         orderID,
		PayoutStatus:    model.PayoutReleased,
		ProviderEventID: eventID,
		ProviderSkipped: skipped,
		ReleasedAt:      &now,
	}

	err = p.datasource.WithTx(ctx, func(tx database.IDataSource) error {
		released, err := tx.MarkPaymentReleased(ctx, orderID, now)
		if err != nil {
			return err
		}
		result.AlreadyReleased = !released
		if net := payment.SellerNet(); net.IsPositive() {
			credit, err := p.PostCreditTx(ctx, tx, payment.SellerID, net, payment.Currency, orderID, model.CreditKey(orderID))
			if err != nil {
				return err
			}
			result.Credit = credit
		}
		if payment.Commission.IsPositive() {
			commission, err := p.PostCommissionTx(ctx, tx, orderID, payment.Commission, payment.Currency, model.CommissionKey(orderID))
			if err != nil {
				return err
			}
			result.Commission = commission
		}
		return nil
	})
	if err != nil {
		return nil, p.integrityFailure(payment, eventID, err)
	}

	if result.AlreadyReleased {
		releaseOutcomes.WithLabelValues("noop").Inc()
	} else {
		releaseOutcomes.WithLabelValues("released").Inc()
	}
	return result, nil
}

// integrityFailure reports money in flight: the provider released funds but
// the ledger does not show it. It needs manual reconciliation.
func (p *Payline) integrityFailure(payment *model.Payment, eventID string, cause error) error {
	logrus.WithFields(logrus.Fields{
		"order_id":          payment.OrderID,
		"provider_event_id": eventID,
		"seller_id":         payment.SellerID,
		"subtotal":          payment.Subtotal.String(),
		"commission":        payment.Commission.String(),
		"currency":          payment.Currency,
	}).Errorf("money in flight: ledger update failed after provider release: %v", cause)

	p.notifier.NotifyIntegrity(payment.OrderID, eventID, cause)
	integrityFailures.Inc()
	releaseOutcomes.WithLabelValues("integrity_failed").Inc()

	return apierror.NewAPIError(apierror.ErrIntegrity,
		fmt.Sprintf("Provider released order %s (event %s) but the ledger was not updated", payment.OrderID, eventID), cause)
}

// ReleaseStuckPayments releases PAID payments whose funds are still held
// after olderThan. Each order goes through the same release path.
func (p *Payline) ReleaseStuckPayments(ctx context.Context, olderThan time.Duration, limit int) (*model.SweepResult, error) {
	ctx, span := tracer.Start(ctx, "ReleaseStuckPayments")
	defer span.End()

	if limit <= 0 {
		limit = p.cfg.Recovery.BatchSize
	}
	payments, err := p.datasource.ListStuckPayments(ctx, p.now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}

	sweep := &model.SweepResult{Scanned: len(payments)}
	for _, payment := range payments {
		res, err := p.ReleaseFunds(ctx, payment.OrderID, SystemActor)
		if err != nil {
			sweep.Failed++
			sweep.Errors = append(sweep.Errors, fmt.Sprintf("%s: %v", payment.OrderID, err))
			logrus.WithField("order_id", payment.OrderID).Warnf("stuck payment release failed: %v", err)
			continue
		}
		if !res.AlreadyReleased {
			sweep.Released++
		}
	}
	if sweep.Scanned > 0 {
		logrus.Infof("release sweep: scanned=%d released=%d failed=%d", sweep.Scanned, sweep.Released, sweep.Failed)
	}
	return sweep, nil
}
