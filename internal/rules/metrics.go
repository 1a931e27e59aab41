// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for rule evaluation and reload.
var (
	// evaluateDuration tracks the latency of Validate() calls.
	evaluateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rules_evaluate_duration_seconds",
		Help:    "Histogram of access-rule evaluation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// evaluations counts evaluations by collection and outcome.
	evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rules_evaluations_total",
		Help: "Total number of access-rule evaluations",
	}, []string{"collection", "outcome"})

	// rootFetches counts document-store fetches triggered by root lookups.
	rootFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rules_root_fetches_total",
		Help: "Total number of root-lookup document fetches",
	}, []string{"collection", "result"})

	// compileCache counts compile-cache hits and misses.
	compileCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rules_compile_cache_total",
		Help: "Total number of rule compile cache lookups",
	}, []string{"result"})

	// reloadErrors counts failed rule-table reloads.
	reloadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rules_reload_errors_total",
		Help: "Total number of failed rule-table reloads",
	})
)

// RulesLastReload is the gauge for the last successful rule-table reload.
// Register with your Prometheus registry at startup.
var RulesLastReload = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "rules_last_reload_timestamp_seconds",
	Help: "Unix timestamp of the last successful rule-table reload",
})

// RegisterStoreMetrics registers rule-store metrics with the given registry.
func RegisterStoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RulesLastReload)
}

// Evaluation outcomes for the evaluations counter.
const (
	outcomeAllow  = "allow"
	outcomeDeny   = "deny"
	outcomeNoRule = "no_rule"
	outcomeError  = "error"
)

// recordEvaluation records metrics for a completed Validate call.
func recordEvaluation(collection string, duration time.Duration, outcome string) {
	evaluateDuration.Observe(duration.Seconds())
	evaluations.WithLabelValues(collection, outcome).Inc()
}

// recordRootFetch records a root-lookup fetch result: "hit", "miss", or
// "error".
func recordRootFetch(collection, result string) {
	rootFetches.WithLabelValues(collection, result).Inc()
}

// recordCompileCache records a compile-cache lookup.
func recordCompileCache(hit bool) {
	if hit {
		compileCache.WithLabelValues("hit").Inc()
		return
	}
	compileCache.WithLabelValues("miss").Inc()
}
