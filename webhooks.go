/*
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
	"net/http"

	"github.com/blnkfinance/payline/internal/request"
	"github.com/blnkfinance/payline/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	eventPayoutApproved = "payout.approved"
	eventPayoutRejected = "payout.rejected"
	eventPayoutPaid     = "payout.paid"
	eventPayoutFailed   = "payout.failed"
	eventFundsReleased  = "funds.released"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"` // The event type that triggered the webhook.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// payoutEvent maps a payout status to the webhook event it emits. Statuses
// without a lifecycle event return "".
func payoutEvent(status model.PayoutStatus) string {
	switch status {
	case model.PayoutApproved:
		return eventPayoutApproved
	case model.PayoutRejected:
		return eventPayoutRejected
	case model.PayoutPaidInternal:
		return eventPayoutPaid
	case model.PayoutFailed:
		return eventPayoutFailed
	default:
		return ""
	}
}

// SendWebhook enqueues a webhook notification task. It is a no-op when no
// webhook URL is configured.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - newWebhook NewWebhook: The webhook notification data to enqueue.
//
// Returns:
// - error: An error if the task could not be enqueued.
func (p *Payline) SendWebhook(ctx context.Context, newWebhook NewWebhook) error {
	if p.cfg.Notification.Webhook.Url == "" || p.queue == nil {
		return nil
	}
	return p.queue.EnqueueWebhook(ctx, newWebhook)
}

// enqueueWebhookEvent matches notification.WebhookSender so system errors
// travel through the same queue as lifecycle events.
func (p *Payline) enqueueWebhookEvent(ctx context.Context, event string, payload interface{}) error {
	return p.SendWebhook(ctx, NewWebhook{Event: event, Payload: payload})
}

// notifyWebhook sends an event and only logs a failure. Webhooks never fail
// the operation that produced them.
func (p *Payline) notifyWebhook(ctx context.Context, event string, payload interface{}) {
	if err := p.SendWebhook(context.WithoutCancel(ctx), NewWebhook{Event: event, Payload: payload}); err != nil {
		logrus.WithField("event", event).Warnf("failed to enqueue webhook: %v", err)
	}
}

// ProcessWebhook processes a webhook notification task from the queue.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - task *asynq.Task: The task containing the webhook notification data.
//
// Returns:
// - error: An error if the webhook processing fails. asynq retries it.
func (p *Payline) ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	if p.cfg.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling webhook payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logrus.Infof("Processing webhook: %s", payload.Event)
	return p.processHTTP(ctx, payload)
}

// processHTTP posts the webhook to the configured URL with the configured headers.
func (p *Payline) processHTTP(ctx context.Context, data NewWebhook) error {
	conf := p.cfg.Notification.Webhook
	req, err := request.NewJSONRequest(ctx, http.MethodPost, conf.Url, data)
	if err != nil {
		return err
	}
	for key, value := range conf.Headers {
		req.Header.Set(key, value)
	}

	if _, err := request.Call(p.webhookClient, req, nil); err != nil {
		logrus.WithField("event", data.Event).Warnf("webhook delivery failed: %v", err)
		return err
	}
	logrus.Infof("Webhook notification sent successfully: %s", data.Event)
	return nil
}
