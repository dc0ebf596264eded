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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/blnkfinance/payline/config"
	"github.com/blnkfinance/payline/internal/request"
	"github.com/sirupsen/logrus"
)

// WebhookSender delivers an event to the configured outbound webhook.
type WebhookSender func(ctx context.Context, event string, payload interface{}) error

// Notifier reports system errors to Slack and, when a sender is registered,
// as "system.error" webhooks. Sends run in the background.
type Notifier struct {
	slackURL string
	client   *http.Client
	now      func() time.Time

	mu      sync.RWMutex
	webhook WebhookSender
	wg      sync.WaitGroup
}

func NewNotifier(cfg config.Notification) *Notifier {
	return &Notifier{
		slackURL: cfg.Slack.WebhookUrl,
		client:   request.NewClient(10 * time.Second),
		now:      time.Now,
	}
}

// RegisterWebhookSender sets the outbound webhook used for system errors.
func (n *Notifier) RegisterWebhookSender(sender WebhookSender) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhook = sender
}

func (n *Notifier) slackBlocks(title, body string) map[string]interface{} {
	return map[string]interface{}{
		"blocks": []interface{}{
			map[string]interface{}{
				"type": "header",
				"text": map[string]interface{}{"type": "plain_text", "text": title, "emoji": true},
			},
			map[string]interface{}{
				"type":   "section",
				"fields": []interface{}{map[string]interface{}{"type": "mrkdwn", "text": "*Error:*\n" + body}},
			},
			map[string]interface{}{
				"type":   "section",
				"fields": []interface{}{map[string]interface{}{"type": "mrkdwn", "text": "*Time:*\n" + n.now().Format(time.RFC822)}},
			},
		},
	}
}

// SlackNotification posts a message to the Slack webhook synchronously.
func (n *Notifier) SlackNotification(ctx context.Context, title string, err error) error {
	if n.slackURL == "" {
		return nil
	}
	req, reqErr := request.NewJSONRequest(ctx, http.MethodPost, n.slackURL, n.slackBlocks(title, err.Error()))
	if reqErr != nil {
		return reqErr
	}
	_, callErr := request.Call(n.client, req, nil)
	return callErr
}

func (n *Notifier) dispatch(title, event string, systemError error, fields logrus.Fields) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		logrus.WithFields(fields).Error(systemError)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := n.SlackNotification(ctx, title, systemError); err != nil {
			logrus.WithError(err).Warn("slack notification failed")
		}

		n.mu.RLock()
		sender := n.webhook
		n.mu.RUnlock()
		if sender != nil {
			payload := map[string]interface{}{
				"error":     systemError.Error(),
				"fields":    fields,
				"timestamp": n.now().UTC(),
			}
			if err := sender(ctx, event, payload); err != nil {
				logrus.WithError(err).Warn("system error webhook failed")
			}
		}
	}()
}

// NotifyError reports a system error without blocking the caller.
func (n *Notifier) NotifyError(systemError error) {
	if n == nil || systemError == nil {
		return
	}
	n.dispatch("Error From Payline 🐞", "system.error", systemError, logrus.Fields{})
}

// NotifyIntegrity reports a committed-side-effect inconsistency, such as a
// provider release with no matching ledger entries.
func (n *Notifier) NotifyIntegrity(orderID, providerEventID string, cause error) {
	if n == nil {
		return
	}
	err := fmt.Errorf("integrity failure for order %s (provider event %s): %v", orderID, providerEventID, cause)
	n.dispatch("Integrity Alert From Payline 🚨", "system.integrity", err, logrus.Fields{
		"order_id":          orderID,
		"provider_event_id": providerEventID,
	})
}

// Wait blocks until in-flight notifications finish. Used on shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
