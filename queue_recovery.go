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
	"errors"
	"sync"
	"time"

	"github.com/blnkfinance/payline/internal/apierror"
	redlock "github.com/blnkfinance/payline/internal/lock"
	"github.com/blnkfinance/payline/model"
	"github.com/sirupsen/logrus"
)

// RecoveryProcessor periodically requeues actions whose worker died holding
// the processing lease, releases stuck payments and runs the integrity check.
type RecoveryProcessor struct {
	payline        *Payline
	batchSize      int
	maxWorkers     int
	pollInterval   time.Duration
	leaseGrace     time.Duration
	stuckRelease   time.Duration
	integrityEvery time.Duration
	lastIntegrity  time.Time
	holder         string
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

// RecoveryResult summarises one recovery pass.
type RecoveryResult struct {
	RequeuedLeases int                    `json:"requeued_leases"`
	Sweep          *model.SweepResult     `json:"sweep,omitempty"`
	Integrity      *model.IntegrityReport `json:"integrity,omitempty"`
	Skipped        bool                   `json:"skipped,omitempty"`
}

// recoveryLeaderKey serialises passes across worker processes.
const recoveryLeaderKey = "payline:recovery:leader"

func NewRecoveryProcessor(p *Payline) *RecoveryProcessor {
	rc := p.cfg.Recovery
	return &RecoveryProcessor{
		payline:        p,
		batchSize:      rc.BatchSize,
		maxWorkers:     rc.MaxWorkers,
		pollInterval:   time.Duration(rc.PollIntervalSeconds) * time.Second,
		leaseGrace:     time.Duration(rc.LeaseGraceSeconds) * time.Second,
		stuckRelease:   time.Duration(rc.StuckReleaseMinutes) * time.Minute,
		integrityEvery: time.Duration(rc.IntegrityCheckInterval) * time.Minute,
		holder:         model.GenerateUUIDWithSuffix("recovery"),
		stopCh:         make(chan struct{}),
	}
}

func (r *RecoveryProcessor) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()

	logrus.Info("Recovery processor started")
}

func (r *RecoveryProcessor) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	logrus.Info("Recovery processor stopped")
}

func (r *RecoveryProcessor) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Recovery processor context cancelled")
			return
		case <-r.stopCh:
			logrus.Info("Recovery processor stop signal received")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single recovery pass. The integrity check runs at most
// once per configured interval. With redis configured only one process runs
// a pass at a time; the others report Skipped.
func (r *RecoveryProcessor) RunOnce(ctx context.Context) RecoveryResult {
	if r.payline.redis != nil {
		locker := redlock.NewLocker(r.payline.redis, recoveryLeaderKey, r.holder)
		err := locker.Lock(ctx, r.pollInterval)
		switch {
		case errors.Is(err, redlock.ErrLockHeld):
			logrus.Debugf("recovery pass skipped, %s is held by another worker", locker.Key())
			return RecoveryResult{Skipped: true}
		case err != nil:
			logrus.Warnf("recovery leader lock unavailable, running unguarded: %v", err)
		default:
			defer func() {
				if err := locker.Unlock(context.Background()); err != nil {
					logrus.Warnf("failed to release recovery leader lock: %v", err)
				}
			}()
		}
	}

	result := RecoveryResult{RequeuedLeases: r.recoverLeases(ctx)}

	sweep, err := r.payline.ReleaseStuckPayments(ctx, r.stuckRelease, r.batchSize)
	if err != nil {
		logrus.Errorf("failed to sweep stuck payments: %v", err)
	}
	result.Sweep = sweep

	now := r.payline.now()
	if r.lastIntegrity.IsZero() || now.Sub(r.lastIntegrity) >= r.integrityEvery {
		r.lastIntegrity = now
		report, err := r.payline.CheckIntegrity(ctx, r.batchSize)
		if err != nil {
			logrus.Errorf("integrity check failed: %v", err)
		}
		result.Integrity = report
	}
	return result
}

// RecoverExpiredLeases requeues PENDING actions whose lease expired more than
// grace ago. It returns the number of actions requeued.
func (p *Payline) RecoverExpiredLeases(ctx context.Context, grace time.Duration) (int, error) {
	processor := NewRecoveryProcessor(p)
	processor.leaseGrace = grace
	return processor.recoverLeases(ctx), nil
}

func (r *RecoveryProcessor) recoverLeases(ctx context.Context) int {
	if r.payline.queue == nil {
		return 0
	}
	expired, err := r.payline.datasource.ListExpiredLeases(ctx, r.payline.now().Add(-r.leaseGrace), r.batchSize)
	if err != nil {
		logrus.Errorf("failed to get expired action leases: %v", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	logrus.Infof("Requeueing %d actions with expired leases using %d workers", len(expired), r.maxWorkers)

	sem := make(chan struct{}, r.maxWorkers)
	var (
		batchWg  sync.WaitGroup
		mu       sync.Mutex
		requeued int
	)
	for i := range expired {
		sem <- struct{}{}
		batchWg.Add(1)
		go func(a *model.ActionAudit) {
			defer batchWg.Done()
			defer func() { <-sem }()
			if err := r.recoverLease(ctx, a); err != nil {
				logrus.Errorf("failed to requeue action %s: %v", a.IdempotencyKey, err)
				return
			}
			mu.Lock()
			requeued++
			mu.Unlock()
		}(&expired[i])
	}

	batchWg.Wait()
	return requeued
}

func (r *RecoveryProcessor) recoverLease(ctx context.Context, audit *model.ActionAudit) error {
	event := model.FailureEvent{
		Event: model.FailureEventRequeue,
		Actor: SystemActor,
		At:    r.payline.now(),
	}
	if err := r.payline.datasource.ReleaseActionLease(ctx, audit.IdempotencyKey, event); err != nil {
		if apierror.HasCode(err, apierror.ErrConflict) {
			// A worker picked the job up again since it was listed.
			return nil
		}
		return err
	}
	if err := r.payline.requeueAction(ctx, audit); err != nil {
		return err
	}
	recoveredLeases.Inc()
	logrus.WithField("idempotency_key", audit.IdempotencyKey).Info("requeued action after lease expiry")
	return nil
}
