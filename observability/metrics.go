// Package observability wires prometheus metrics for the basket engines and
// hosts the logging and OpenTelemetry setup helpers.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records issuance/redemption activity per basket and
// operation.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	legs       *prometheus.CounterVec
}

var (
	engineOnce sync.Once
	engineReg  *EngineMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineReg = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketfund",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Completed engine operations segmented by basket, operation and outcome.",
			}, []string{"basket", "operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketfund",
				Subsystem: "engine",
				Name:      "failures_total",
				Help:      "Engine operation failures segmented by basket, operation and reason.",
			}, []string{"basket", "operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "basketfund",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"basket", "operation"}),
			legs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketfund",
				Subsystem: "engine",
				Name:      "external_legs_total",
				Help:      "External trade/wrap legs executed segmented by basket and kind.",
			}, []string{"basket", "kind"}),
		}
		prometheus.MustRegister(
			engineReg.operations,
			engineReg.failures,
			engineReg.latency,
			engineReg.legs,
		)
	})
	return engineReg
}

// Observe records one finished engine operation.
func (m *EngineMetrics) Observe(basket, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(basket, operation, reasonLabel(err)).Inc()
	}
	m.operations.WithLabelValues(basket, operation, outcome).Inc()
	m.latency.WithLabelValues(basket, operation).Observe(duration.Seconds())
}

// RecordLeg counts one external trade/wrap leg.
func (m *EngineMetrics) RecordLeg(basket, kind string) {
	if m == nil {
		return
	}
	m.legs.WithLabelValues(basket, kind).Inc()
}

// reasonLabel keeps failure labels low-cardinality: error chains collapse to
// their outermost message up to the first colon.
func reasonLabel(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for i := 0; i < len(msg); i++ {
		if msg[i] == ':' {
			return msg[:i]
		}
	}
	if len(msg) > 64 {
		return msg[:64]
	}
	return msg
}
