package payline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	idempotencyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payline_idempotency_outcomes_total",
		Help: "Idempotency guard outcomes by scope: executed, cached, replayed, in_flight, failed",
	}, []string{"scope", "outcome"})

	ledgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payline_ledger_postings_total",
		Help: "Ledger posting attempts by kind and whether a new entry was written",
	}, []string{"kind", "created"})

	releaseOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payline_release_outcomes_total",
		Help: "Funds release results",
	}, []string{"outcome"})

	integrityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payline_integrity_failures_total",
		Help: "Provider releases whose ledger transaction failed to commit, plus sentinel findings",
	})

	actionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payline_action_attempts_total",
		Help: "Marketplace action attempts by marketplace, action key and outcome",
	}, []string{"marketplace", "action_key", "outcome"})

	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payline_action_duration_seconds",
		Help:    "Marketplace provider call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"marketplace", "action_key"})

	deadLetterReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payline_dead_letter_replays_total",
		Help: "Dead-letter replay requests by outcome",
	}, []string{"outcome"})

	recoveredLeases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payline_recovered_leases_total",
		Help: "Actions requeued after their processing lease expired",
	})
)
