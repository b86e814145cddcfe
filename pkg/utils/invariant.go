// Package invariant introduces a way to handle unexpected bugs / conditions in code.
// Invariants are conditions in code that must be true; otherwise, there is a bug in code.
// Think of what you'd `panic()` on, but you don't want to crash the process just because of that violation.
// If an invariant is violated, an error log is recorded and a monitoring counter is incremented.
// It is still up to the caller to handle the erroneous case, e.g. do an early return.
//
// Do not use invariants for conditions that depend on external factors; a full disk or a truncated content file
// written by a crashed process is not a bug in our code. A negative resident size or an editor released twice
// by the store itself is.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "artcache_invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

// RaiseInvariant records a violated invariant. It panics in test mode so violations never slip through tests.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// CheckInvariant raises the invariant when `condition` is false and reports whether it held.
func CheckInvariant(condition bool, module, invariantType, msg string, args ...any) bool {
	if !condition {
		RaiseInvariant(module, invariantType, msg, args...)
	}
	return condition
}

// GetMetricValue returns the current value of invariant metric with labels `module` and `invariantType`.
func GetMetricValue(module, invariantType string) int {
	var metric = &promclient.Metric{}
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(metric); err != nil {
		slog.Error(err.Error())
		return 0
	}
	return int(metric.Counter.GetValue())
}
