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
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/payline/config"
	"github.com/blnkfinance/payline/database"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/internal/cache"
	"github.com/blnkfinance/payline/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

var errStillInFlight = errors.New("idempotency key still in progress")

// IdempotencyGuard runs an operation at most once per (scope, key). The
// claim is a single statement, so exactly one concurrent caller executes;
// the others get the stored result or DUPLICATE_IN_FLIGHT.
type IdempotencyGuard struct {
	datasource   database.IDataSource
	cache        cache.Cache
	staleAfter   time.Duration
	inFlightWait time.Duration
	resultTTL    time.Duration
	pollInterval time.Duration
}

// NewIdempotencyGuard creates a guard. A nil cache disables result caching.
//
// Parameters:
// - ds database.IDataSource: Store holding the idempotency records.
// - c cache.Cache: Optional cache for completed results.
// - cfg config.IdempotencyConfig: Stale claim takeover, in-flight wait and cache TTL.
//
// Returns:
// - *IdempotencyGuard: The guard.
func NewIdempotencyGuard(ds database.IDataSource, c cache.Cache, cfg config.IdempotencyConfig) *IdempotencyGuard {
	if cfg.DisableResultCache {
		c = nil
	}
	return &IdempotencyGuard{
		datasource:   ds,
		cache:        c,
		staleAfter:   cfg.StaleAfter(),
		inFlightWait: cfg.InFlightWait(),
		resultTTL:    cfg.ResultTTL(),
		pollInterval: 25 * time.Millisecond,
	}
}

// RunOnce executes fn under the guard. fn may have external effects and must
// be safe to re-enter under the same key: a crash between fn and the
// COMPLETED write leaves the claim to be taken over once it goes stale.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - scope string: The operation family, e.g. "release".
// - key string: The caller-supplied idempotency key within the scope.
// - fn func(ctx context.Context) (interface{}, error): The operation. Its result is stored as JSON.
//
// Returns:
// - json.RawMessage: The stored result of the single successful execution.
// - error: fn's error, DUPLICATE_IN_FLIGHT, or a storage error.
func (g *IdempotencyGuard) RunOnce(ctx context.Context, scope, key string, fn func(ctx context.Context) (interface{}, error)) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "IdempotencyGuard.RunOnce")
	defer span.End()

	return g.run(ctx, scope, key, func(ctx context.Context) (json.RawMessage, error) {
		result, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := marshalResult(result)
		if err != nil {
			return nil, err
		}
		if err := g.datasource.CompleteIdempotencyKey(ctx, scope, key, raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
}

// RunOnceTx executes fn and the COMPLETED write in one transaction. tx is a
// datasource bound to that transaction. When fn fails the transaction rolls
// back and the record is marked FAILED, so the next caller may claim it.
func (g *IdempotencyGuard) RunOnceTx(ctx context.Context, scope, key string, fn func(ctx context.Context, tx database.IDataSource) (interface{}, error)) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "IdempotencyGuard.RunOnceTx")
	defer span.End()

	return g.run(ctx, scope, key, func(ctx context.Context) (json.RawMessage, error) {
		var raw json.RawMessage
		err := g.datasource.WithTx(ctx, func(tx database.IDataSource) error {
			result, err := fn(ctx, tx)
			if err != nil {
				return err
			}
			raw, err = marshalResult(result)
			if err != nil {
				return err
			}
			return tx.CompleteIdempotencyKey(ctx, scope, key, raw)
		})
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
}

func (g *IdempotencyGuard) run(ctx context.Context, scope, key string, execute func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if raw, ok := g.cached(ctx, scope, key); ok {
		idempotencyOutcomes.WithLabelValues(scope, "cached").Inc()
		return raw, nil
	}

	// A second pass only happens when the holder we waited on failed.
	for pass := 0; pass < 2; pass++ {
		rec, claimed, err := g.datasource.ClaimIdempotencyKey(ctx, scope, key, g.staleAfter)
		if err != nil {
			return nil, err
		}

		if claimed {
			raw, err := execute(ctx)
			if err != nil {
				if failErr := g.datasource.FailIdempotencyKey(context.WithoutCancel(ctx), scope, key, err.Error()); failErr != nil {
					logrus.WithFields(logrus.Fields{"scope": scope, "key": key}).Errorf("failed to mark idempotency key failed: %v", failErr)
				}
				idempotencyOutcomes.WithLabelValues(scope, "failed").Inc()
				return nil, err
			}
			g.remember(ctx, scope, key, raw)
			idempotencyOutcomes.WithLabelValues(scope, "executed").Inc()
			return raw, nil
		}

		raw, reclaim, err := g.await(ctx, scope, key, rec)
		if !reclaim {
			return raw, err
		}
	}

	idempotencyOutcomes.WithLabelValues(scope, "in_flight").Inc()
	return nil, duplicateInFlight(scope, key)
}

// await resolves a lost claim. reclaim is true when the holder failed and
// the key may be claimed again.
func (g *IdempotencyGuard) await(ctx context.Context, scope, key string, rec *model.IdempotencyRecord) (json.RawMessage, bool, error) {
	switch rec.Status {
	case model.IdempotencyCompleted:
		g.remember(ctx, scope, key, rec.Result)
		idempotencyOutcomes.WithLabelValues(scope, "replayed").Inc()
		return rec.Result, false, nil
	case model.IdempotencyFailed:
		return nil, true, nil
	}

	if g.inFlightWait <= 0 {
		idempotencyOutcomes.WithLabelValues(scope, "in_flight").Inc()
		return nil, false, duplicateInFlight(scope, key)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.pollInterval
	b.MaxInterval = 10 * g.pollInterval
	b.MaxElapsedTime = g.inFlightWait

	var latest *model.IdempotencyRecord
	err := backoff.Retry(func() error {
		r, err := g.datasource.GetIdempotencyRecord(ctx, scope, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if r.Status == model.IdempotencyInProgress {
			return errStillInFlight
		}
		latest = r
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil && !errors.Is(err, errStillInFlight) {
		return nil, false, err
	}

	if latest == nil {
		idempotencyOutcomes.WithLabelValues(scope, "in_flight").Inc()
		return nil, false, duplicateInFlight(scope, key)
	}
	if latest.Status == model.IdempotencyFailed {
		return nil, true, nil
	}
	g.remember(ctx, scope, key, latest.Result)
	idempotencyOutcomes.WithLabelValues(scope, "replayed").Inc()
	return latest.Result, false, nil
}

func (g *IdempotencyGuard) cacheKey(scope, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, key)
}

func (g *IdempotencyGuard) cached(ctx context.Context, scope, key string) (json.RawMessage, bool) {
	if g.cache == nil {
		return nil, false
	}
	var stored string
	found, err := g.cache.Get(ctx, g.cacheKey(scope, key), &stored)
	if err != nil {
		logrus.WithField("key", key).Warnf("idempotency cache read failed: %v", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	return json.RawMessage(stored), true
}

func (g *IdempotencyGuard) remember(ctx context.Context, scope, key string, raw json.RawMessage) {
	if g.cache == nil || len(raw) == 0 {
		return
	}
	if err := g.cache.Set(ctx, g.cacheKey(scope, key), string(raw), g.resultTTL); err != nil {
		logrus.WithField("key", key).Warnf("idempotency cache write failed: %v", err)
	}
}

func marshalResult(result interface{}) (json.RawMessage, error) {
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode idempotent result", err)
	}
	return b, nil
}

func duplicateInFlight(scope, key string) error {
	return apierror.NewAPIError(apierror.ErrDuplicateInFlight,
		fmt.Sprintf("An operation with key %s is already in progress for %s", key, scope), nil)
}

// decodeResult unmarshals a stored guard result into out.
func decodeResult(raw json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode idempotent result", err)
	}
	return nil
}
