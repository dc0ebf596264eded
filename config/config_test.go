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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		Redis: RedisConfig{Dns: "localhost:6379"},
	}
	err := cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "data source DNS is required")

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
	}
	err = cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "redis DNS is required")

	cnf = Configuration{
		DataSource:   DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:        RedisConfig{Dns: "localhost:6379"},
		Tokenization: TokenizationConfig{Secret: "too-short"},
	}
	err = cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "tokenization secret must be exactly 32 bytes")

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: " some-dns "},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, "some-dns", cnf.DataSource.Dns)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "Payline", cnf.ProjectName)
}

func TestSetDefaults(t *testing.T) {
	cnf := Configuration{}
	cnf.SetDefaults()

	assert.Equal(t, 5, cnf.Queue.Concurrency)
	assert.Equal(t, 3, cnf.Queue.MaxAttempts)
	assert.Equal(t, 60*time.Second, cnf.Queue.ReplayCooldown())
	assert.Equal(t, 15*time.Minute, cnf.Idempotency.StaleAfter())
	assert.Equal(t, 2*time.Second, cnf.Idempotency.InFlightWait())
	assert.Equal(t, 25, cnf.DataSource.MaxOpenConns)
	assert.Equal(t, DEFAULT_PLATFORM_OWNER, cnf.Payout.PlatformOwnerID)
	assert.Equal(t, 5, cnf.Payout.MinReasonLength)
	assert.Equal(t, 30*time.Second, cnf.Providers.Payout.Timeout())
	assert.ElementsMatch(t, []string{"platform_admin", "finance_admin"}, cnf.Auth.AdminRoles)

	cnf = Configuration{
		Queue:       QueueConfig{Concurrency: 12, ActionQueue: "custom"},
		Idempotency: IdempotencyConfig{InFlightWaitMillis: -1},
	}
	cnf.SetDefaults()
	assert.Equal(t, time.Duration(0), cnf.Idempotency.InFlightWait())
	assert.Equal(t, 12, cnf.Queue.Concurrency)
	assert.Equal(t, "custom", cnf.Queue.ActionQueue)
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "dns"},
		Redis:      RedisConfig{Dns: "redis"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
	require.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
	assert.Equal(t, 10800, *cnf.RateLimit.CleanupIntervalSec)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "payline.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
		Queue:       QueueConfig{MaxAttempts: 4},
	}
	require.NoError(t, json.NewEncoder(tmpFile).Encode(sampleConfig))
	tmpFile.Close()

	os.Setenv("PAYLINE_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("PAYLINE_PROJECT_NAME")

	require.NoError(t, loadConfigFromFile(tmpFile.Name()))

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp-dns", loadedConfig.DataSource.Dns)
	assert.Equal(t, 4, loadedConfig.Queue.MaxAttempts)
	assert.Equal(t, 5, loadedConfig.Queue.Concurrency)
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "payline.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource:  DataSourceConfig{Dns: "init-config-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	require.NoError(t, json.NewEncoder(tmpFile).Encode(sampleConfig))
	tmpFile.Close()

	require.NoError(t, InitConfig(tmpFile.Name()))

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "InitConfig Test", loadedConfig.ProjectName)
	assert.Equal(t, "init-config-dns", loadedConfig.DataSource.Dns)
}

func TestMockConfigAppliesDefaults(t *testing.T) {
	MockConfig(&Configuration{})
	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "marketplace_actions", cnf.Queue.ActionQueue)
}
