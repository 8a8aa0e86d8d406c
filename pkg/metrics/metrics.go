// Package metrics exposes registry counters in the Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/storacha/poe/pkg/events"
)

// Metrics holds the counters of a single registry node.
type Metrics struct {
	registry *prometheus.Registry

	// Transactions by operation, result name and whether they were delivered
	// or only checked
	Transactions *prometheus.CounterVec

	// Committed events by kind
	Events *prometheus.CounterVec
}

var _ events.Sink = (*Metrics)(nil)

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poe_transactions_total",
			Help: "Total transactions processed by operation, phase and result",
		}, []string{"op", "phase", "result"}), // phase: "check", "deliver"

		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poe_events_total",
			Help: "Total events emitted by committed registry operations",
		}, []string{"kind"}),
	}
}

// IncrementTransaction records the outcome of a transaction. An empty result
// means the transaction was accepted.
func (m *Metrics) IncrementTransaction(op, phase, result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "OK"
	}
	m.Transactions.WithLabelValues(op, phase, result).Inc()
}

// Emit counts the event by kind.
func (m *Metrics) Emit(_ context.Context, e events.Event) error {
	if m != nil {
		m.Events.WithLabelValues(string(e.Kind())).Inc()
	}
	return nil
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
