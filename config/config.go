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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5010"
	DEFAULT_MONITORING_PORT = "5011"
	DEFAULT_PLATFORM_OWNER  = "platform"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Port    string `json:"port" envconfig:"PAYLINE_SERVER_PORT"`
	LogJSON bool   `json:"log_json" envconfig:"PAYLINE_SERVER_LOG_JSON"`
}

type DataSourceConfig struct {
	Dns             string        `json:"dns" envconfig:"PAYLINE_DATA_SOURCE_DNS"`
	MaxOpenConns    int           `json:"max_open_conns" envconfig:"PAYLINE_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" envconfig:"PAYLINE_DATA_SOURCE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" envconfig:"PAYLINE_DATA_SOURCE_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" envconfig:"PAYLINE_DATA_SOURCE_CONN_MAX_IDLE_TIME"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYLINE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYLINE_REDIS_SKIP_TLS_VERIFY"`
}

// QueueConfig controls the marketplace action queue and its dead-letter handling.
type QueueConfig struct {
	ActionQueue           string `json:"action_queue" envconfig:"PAYLINE_QUEUE_ACTION_QUEUE"`
	WebhookQueue          string `json:"webhook_queue" envconfig:"PAYLINE_QUEUE_WEBHOOK_QUEUE"`
	Concurrency           int    `json:"concurrency" envconfig:"PAYLINE_QUEUE_CONCURRENCY"`
	MaxAttempts           int    `json:"max_attempts" envconfig:"PAYLINE_QUEUE_MAX_ATTEMPTS"`
	RetryBaseSeconds      int    `json:"retry_base_seconds" envconfig:"PAYLINE_QUEUE_RETRY_BASE_SECONDS"`
	LeaseSeconds          int    `json:"lease_seconds" envconfig:"PAYLINE_QUEUE_LEASE_SECONDS"`
	ReplayCooldownSeconds int    `json:"replay_cooldown_seconds" envconfig:"PAYLINE_QUEUE_REPLAY_COOLDOWN_SECONDS"`
	MonitoringPort        string `json:"monitoring_port" envconfig:"PAYLINE_QUEUE_MONITORING_PORT"`
}

type IdempotencyConfig struct {
	StaleAfterSeconds  int  `json:"stale_after_seconds" envconfig:"PAYLINE_IDEMPOTENCY_STALE_AFTER_SECONDS"`
	InFlightWaitMillis int  `json:"in_flight_wait_millis" envconfig:"PAYLINE_IDEMPOTENCY_IN_FLIGHT_WAIT_MILLIS"`
	ResultCacheSeconds int  `json:"result_cache_seconds" envconfig:"PAYLINE_IDEMPOTENCY_RESULT_CACHE_SECONDS"`
	DisableResultCache bool `json:"disable_result_cache" envconfig:"PAYLINE_IDEMPOTENCY_DISABLE_RESULT_CACHE"`
}

type PayoutConfig struct {
	PlatformOwnerID string `json:"platform_owner_id" envconfig:"PAYLINE_PAYOUT_PLATFORM_OWNER_ID"`
	MinReasonLength int    `json:"min_reason_length" envconfig:"PAYLINE_PAYOUT_MIN_REASON_LENGTH"`
}

type ProviderEndpoint struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type ProvidersConfig struct {
	Payout      ProviderEndpoint `json:"payout"`
	Marketplace ProviderEndpoint `json:"marketplace"`
}

// AuthConfig configures bearer token verification. Tokens are issued elsewhere.
type AuthConfig struct {
	JWTSecret  string   `json:"jwt_secret" envconfig:"PAYLINE_AUTH_JWT_SECRET"`
	Issuer     string   `json:"issuer" envconfig:"PAYLINE_AUTH_ISSUER"`
	AdminRoles []string `json:"admin_roles" envconfig:"PAYLINE_AUTH_ADMIN_ROLES"`
}

type RecoveryConfig struct {
	Enabled                bool `json:"enabled" envconfig:"PAYLINE_RECOVERY_ENABLED"`
	PollIntervalSeconds    int  `json:"poll_interval_seconds" envconfig:"PAYLINE_RECOVERY_POLL_INTERVAL_SECONDS"`
	StuckReleaseMinutes    int  `json:"stuck_release_minutes" envconfig:"PAYLINE_RECOVERY_STUCK_RELEASE_MINUTES"`
	LeaseGraceSeconds      int  `json:"lease_grace_seconds" envconfig:"PAYLINE_RECOVERY_LEASE_GRACE_SECONDS"`
	MaxWorkers             int  `json:"max_workers" envconfig:"PAYLINE_RECOVERY_MAX_WORKERS"`
	BatchSize              int  `json:"batch_size" envconfig:"PAYLINE_RECOVERY_BATCH_SIZE"`
	IntegrityCheckInterval int  `json:"integrity_check_minutes" envconfig:"PAYLINE_RECOVERY_INTEGRITY_CHECK_MINUTES"`
}

type TokenizationConfig struct {
	Secret string `json:"secret" envconfig:"PAYLINE_TOKENIZATION_SECRET"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYLINE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYLINE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYLINE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"PAYLINE_NOTIFICATION_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"PAYLINE_NOTIFICATION_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string             `json:"project_name" envconfig:"PAYLINE_PROJECT_NAME"`
	Server          ServerConfig       `json:"server"`
	DataSource      DataSourceConfig   `json:"data_source"`
	Redis           RedisConfig        `json:"redis"`
	Queue           QueueConfig        `json:"queue"`
	Idempotency     IdempotencyConfig  `json:"idempotency"`
	Payout          PayoutConfig       `json:"payout"`
	Providers       ProvidersConfig    `json:"providers"`
	Auth            AuthConfig         `json:"auth"`
	Recovery        RecoveryConfig     `json:"recovery"`
	Tokenization    TokenizationConfig `json:"tokenization"`
	Notification    Notification       `json:"notification"`
	RateLimit       RateLimitConfig    `json:"rate_limit"`
	ReadOnly        bool               `json:"read_only" envconfig:"PAYLINE_READ_ONLY"`
	EnableTelemetry bool               `json:"enable_telemetry" envconfig:"PAYLINE_ENABLE_TELEMETRY"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("payline", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called payline.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Payline"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if strings.TrimSpace(cnf.Tokenization.Secret) != "" && len(strings.TrimSpace(cnf.Tokenization.Secret)) != 32 {
		return errors.New("tokenization secret must be exactly 32 bytes")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Tokenization.Secret = strings.TrimSpace(cnf.Tokenization.Secret)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.SetDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// SetDefaults fills every zero-valued tunable. It does not validate required
// connection strings, so tests can call it on a partial configuration.
func (cnf *Configuration) SetDefaults() {
	if cnf.DataSource.MaxOpenConns <= 0 {
		cnf.DataSource.MaxOpenConns = 25
	}
	if cnf.DataSource.MaxIdleConns <= 0 {
		cnf.DataSource.MaxIdleConns = 10
	}
	if cnf.DataSource.ConnMaxLifetime <= 0 {
		cnf.DataSource.ConnMaxLifetime = 30 * time.Minute
	}
	if cnf.DataSource.ConnMaxIdleTime <= 0 {
		cnf.DataSource.ConnMaxIdleTime = 5 * time.Minute
	}

	if cnf.Queue.ActionQueue == "" {
		cnf.Queue.ActionQueue = "marketplace_actions"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhook_queue"
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 5
	}
	if cnf.Queue.MaxAttempts <= 0 {
		cnf.Queue.MaxAttempts = 3
	}
	if cnf.Queue.RetryBaseSeconds <= 0 {
		cnf.Queue.RetryBaseSeconds = 5
	}
	if cnf.Queue.LeaseSeconds <= 0 {
		cnf.Queue.LeaseSeconds = 120
	}
	if cnf.Queue.ReplayCooldownSeconds <= 0 {
		cnf.Queue.ReplayCooldownSeconds = 60
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}

	if cnf.Idempotency.StaleAfterSeconds <= 0 {
		cnf.Idempotency.StaleAfterSeconds = 15 * 60
	}
	if cnf.Idempotency.InFlightWaitMillis == 0 {
		cnf.Idempotency.InFlightWaitMillis = 2000
	}
	if cnf.Idempotency.ResultCacheSeconds <= 0 {
		cnf.Idempotency.ResultCacheSeconds = 24 * 60 * 60
	}

	if cnf.Payout.PlatformOwnerID == "" {
		cnf.Payout.PlatformOwnerID = DEFAULT_PLATFORM_OWNER
	}
	if cnf.Payout.MinReasonLength <= 0 {
		cnf.Payout.MinReasonLength = 5
	}

	for _, p := range []*ProviderEndpoint{&cnf.Providers.Payout, &cnf.Providers.Marketplace} {
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = 30
		}
	}

	if len(cnf.Auth.AdminRoles) == 0 {
		cnf.Auth.AdminRoles = []string{"platform_admin", "finance_admin"}
	}

	if cnf.Recovery.PollIntervalSeconds <= 0 {
		cnf.Recovery.PollIntervalSeconds = 60
	}
	if cnf.Recovery.StuckReleaseMinutes <= 0 {
		cnf.Recovery.StuckReleaseMinutes = 30
	}
	if cnf.Recovery.LeaseGraceSeconds <= 0 {
		cnf.Recovery.LeaseGraceSeconds = 30
	}
	if cnf.Recovery.MaxWorkers <= 0 {
		cnf.Recovery.MaxWorkers = 5
	}
	if cnf.Recovery.BatchSize <= 0 {
		cnf.Recovery.BatchSize = 100
	}
	if cnf.Recovery.IntegrityCheckInterval <= 0 {
		cnf.Recovery.IntegrityCheckInterval = 60
	}
}

func (q QueueConfig) Lease() time.Duration {
	return time.Duration(q.LeaseSeconds) * time.Second
}

func (q QueueConfig) ReplayCooldown() time.Duration {
	return time.Duration(q.ReplayCooldownSeconds) * time.Second
}

func (q QueueConfig) RetryBase() time.Duration {
	return time.Duration(q.RetryBaseSeconds) * time.Second
}

func (i IdempotencyConfig) StaleAfter() time.Duration {
	return time.Duration(i.StaleAfterSeconds) * time.Second
}

// InFlightWait is how long a duplicate caller polls an IN_PROGRESS claim.
// A negative setting disables waiting.
func (i IdempotencyConfig) InFlightWait() time.Duration {
	if i.InFlightWaitMillis < 0 {
		return 0
	}
	return time.Duration(i.InFlightWaitMillis) * time.Millisecond
}

func (i IdempotencyConfig) ResultTTL() time.Duration {
	return time.Duration(i.ResultCacheSeconds) * time.Second
}

func (p ProviderEndpoint) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.SetDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
