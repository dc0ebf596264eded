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
	"embed"
	"errors"
	"net/http"
	"time"

	"github.com/blnkfinance/payline/config"
	"github.com/blnkfinance/payline/database"
	"github.com/blnkfinance/payline/internal/cache"
	"github.com/blnkfinance/payline/internal/notification"
	"github.com/blnkfinance/payline/internal/request"
	"github.com/blnkfinance/payline/internal/tokenization"
	"github.com/blnkfinance/payline/providers"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("payline")

//go:embed sql/*.sql
var SQLFiles embed.FS

// SystemActor is the actor recorded for automatic operations.
const SystemActor = "system"

// Dependencies are constructed once by the process entry point and injected.
// Only DataSource is required.
type Dependencies struct {
	DataSource          database.IDataSource
	Redis               redis.UniversalClient
	Queue               *Queue
	Cache               cache.Cache
	PayoutProvider      providers.PayoutProvider
	MarketplaceProvider providers.MarketplaceProvider
	Notifier            *notification.Notifier
	Tokenizer           *tokenization.TokenizationService
	WebhookClient       *http.Client
	Now                 func() time.Time
}

// Payline is the settlement and action-execution service.
type Payline struct {
	cfg           *config.Configuration
	datasource    database.IDataSource
	redis         redis.UniversalClient
	queue         *Queue
	guard         *IdempotencyGuard
	payouts       providers.PayoutProvider
	marketplace   providers.MarketplaceProvider
	notifier      *notification.Notifier
	tokenizer     *tokenization.TokenizationService
	webhookClient *http.Client
	now           func() time.Time
}

// NewPayline wires the service from its configuration and dependencies.
//
// Parameters:
// - cfg *config.Configuration: The loaded configuration. Defaults are applied.
// - deps Dependencies: Injected clients and stores.
//
// Returns:
// - *Payline: The service.
// - error: An error if a required dependency is missing.
func NewPayline(cfg *config.Configuration, deps Dependencies) (*Payline, error) {
	if cfg == nil {
		return nil, errors.New("payline: configuration is required")
	}
	if deps.DataSource == nil {
		return nil, errors.New("payline: data source is required")
	}
	cfg.SetDefaults()

	c := deps.Cache
	if c == nil {
		if deps.Redis != nil {
			c = cache.NewCache(deps.Redis)
		} else {
			c = cache.NewLocalCache()
		}
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notification.NewNotifier(cfg.Notification)
	}

	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	webhookClient := deps.WebhookClient
	if webhookClient == nil {
		webhookClient = request.NewClient(30 * time.Second)
	}

	p := &Payline{
		cfg:           cfg,
		datasource:    deps.DataSource,
		redis:         deps.Redis,
		queue:         deps.Queue,
		guard:         NewIdempotencyGuard(deps.DataSource, c, cfg.Idempotency),
		payouts:       deps.PayoutProvider,
		marketplace:   deps.MarketplaceProvider,
		notifier:      notifier,
		tokenizer:     deps.Tokenizer,
		webhookClient: webhookClient,
		now:           now,
	}
	if p.queue != nil && cfg.Notification.Webhook.Url != "" {
		notifier.RegisterWebhookSender(p.enqueueWebhookEvent)
	}
	return p, nil
}

// Guard exposes the idempotency guard for callers outside the service layer.
func (p *Payline) Guard() *IdempotencyGuard {
	return p.guard
}

func (p *Payline) Config() *config.Configuration {
	return p.cfg
}
