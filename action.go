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

	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
	"github.com/blnkfinance/payline/providers"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// SubmitAction queues a marketplace action. The request's idempotency key is
// both the audit key and the asynq task id, so a resubmission while the job
// is queued or running is a no-op, and a succeeded key is never re-run.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - req model.ActionRequest: The action and its tagged parameters.
//
// Returns:
// - *model.SubmitResult: The tracking id and current status.
// - error: INVALID_INPUT, SYSTEM_PROTECTED, TENANT_MISMATCH or an enqueue error.
func (p *Payline) SubmitAction(ctx context.Context, req model.ActionRequest) (*model.SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "SubmitAction")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	if err := p.ensureWritable(ctx); err != nil {
		return nil, err
	}
	if p.queue == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Action queue is not configured", nil)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal action request", err)
	}
	audit, created, err := p.datasource.UpsertActionAudit(ctx, model.ActionAudit{
		IdempotencyKey: req.IdempotencyKey,
		CompanyID:      req.CompanyID,
		Marketplace:    req.Marketplace,
		ActionKey:      req.ActionKey,
		OrderID:        req.OrderID,
		Status:         model.ActionPending,
		RequestPayload: payload,
		CreatedAt:      p.now(),
	})
	if err != nil {
		return nil, err
	}
	if audit.CompanyID != req.CompanyID {
		return nil, apierror.NewAPIError(apierror.ErrTenantMismatch, "Idempotency key belongs to another company", nil)
	}
	if !created && audit.Status != model.ActionPending {
		// SUCCEEDED never re-runs; FAILED waits in the dead-letter queue for a replay.
		return &model.SubmitResult{TrackingID: req.IdempotencyKey, Status: audit.Status}, nil
	}

	_, err = p.queue.EnqueueAction(ctx, model.ActionTask{TrackingID: req.IdempotencyKey, Request: req})
	if isDuplicateTask(err) {
		return &model.SubmitResult{TrackingID: req.IdempotencyKey, Status: model.ActionPending}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to enqueue action", err)
	}
	return &model.SubmitResult{TrackingID: req.IdempotencyKey, Status: model.ActionPending, Enqueued: true}, nil
}

// ProcessAction is the asynq handler for the action queue.
func (p *Payline) ProcessAction(ctx context.Context, task *asynq.Task) error {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = p.cfg.Queue.MaxAttempts - 1
	}
	return p.processAction(ctx, task.Payload(), retried+1, maxRetry+1)
}

// processAction runs one attempt. A returned error that wraps
// asynq.SkipRetry archives the task at once; any other error is retried
// until the attempts run out.
func (p *Payline) processAction(ctx context.Context, payload []byte, attempt, maxAttempts int) error {
	ctx, span := tracer.Start(ctx, "ProcessAction")
	defer span.End()

	var task model.ActionTask
	if err := json.Unmarshal(payload, &task); err != nil {
		logrus.Errorf("invalid action payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	req := task.Request
	key := req.IdempotencyKey
	log := logrus.WithFields(logrus.Fields{
		"tracking_id": task.TrackingID,
		"action_key":  req.ActionKey,
		"marketplace": req.Marketplace,
		"attempt":     attempt,
	})

	audit, err := p.datasource.GetActionAudit(ctx, key)
	if apierror.HasCode(err, apierror.ErrNotFound) {
		log.Error("action audit missing, dropping task")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if audit.Status == model.ActionSucceeded {
		log.Info("action already succeeded")
		return nil
	}
	if audit.CompanyID != req.CompanyID {
		mismatch := apierror.NewAPIError(apierror.ErrTenantMismatch, "Task company does not own the action", nil)
		return p.failAction(ctx, task, attempt, true, mismatch)
	}

	if _, err := p.datasource.StartActionAttempt(ctx, key, p.now().Add(p.cfg.Queue.Lease())); err != nil {
		return err
	}
	if p.marketplace == nil {
		return p.failAction(ctx, task, attempt, attempt >= maxAttempts,
			apierror.NewAPIError(apierror.ErrInternalServer, "Marketplace provider is not configured", nil))
	}

	start := time.Now()
	result, err := p.marketplace.ExecuteAction(ctx, providers.ActionInputFromRequest(req))
	actionDuration.WithLabelValues(req.Marketplace, string(req.ActionKey)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return p.failAction(ctx, task, attempt, attempt >= maxAttempts, err)
	}

	response, _ := json.Marshal(result)
	if err := p.datasource.CompleteAction(ctx, key, response); err != nil {
		return err
	}
	actionAttempts.WithLabelValues(req.Marketplace, string(req.ActionKey), "success").Inc()
	log.Info("action succeeded")
	return nil
}

// failAction appends the failure to the audit's history. Non-retryable
// errors and the last attempt mark the audit FAILED.
func (p *Payline) failAction(ctx context.Context, task model.ActionTask, attempt int, lastAttempt bool, cause error) error {
	req := task.Request
	retryable := apierror.IsRetryable(cause)
	terminal := !retryable || lastAttempt

	event := model.FailureEvent{
		Event:      model.FailureEventAttempt,
		Error:      cause.Error(),
		ErrorKind:  string(apierror.KindOf(cause)),
		Attempt:    attempt,
		TrackingID: task.TrackingID,
		At:         p.now(),
	}
	if err := p.datasource.FailActionAttempt(context.WithoutCancel(ctx), req.IdempotencyKey, event, terminal); err != nil {
		logrus.WithField("tracking_id", task.TrackingID).Errorf("failed to record action failure: %v", err)
	}

	outcome := "retry"
	if terminal {
		outcome = "failed"
	}
	actionAttempts.WithLabelValues(req.Marketplace, string(req.ActionKey), outcome).Inc()
	logrus.WithFields(logrus.Fields{
		"tracking_id": task.TrackingID,
		"attempt":     attempt,
		"kind":        event.ErrorKind,
		"terminal":    terminal,
	}).Warnf("action attempt failed: %v", cause)

	if !retryable {
		return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
	}
	return cause
}
