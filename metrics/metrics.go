// Package metrics holds the Prometheus collectors shared by the store,
// ledger and workflow. A nil *Metrics is valid and records nothing, so
// components can be built without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "walletdesk"

// Metrics groups every collector exported by the service.
type Metrics struct {
	StoreWrites       *prometheus.CounterVec
	StoreWriteSeconds *prometheus.HistogramVec
	StoreQuarantines  *prometheus.CounterVec
	LedgerOps         *prometheus.CounterVec
	OrderTransitions  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Document writes by key and result.",
		}, []string{"key", "result"}),
		StoreWriteSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_seconds",
			Help:      "Latency of the write/fsync/rename sequence.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"key"}),
		StoreQuarantines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "quarantines_total",
			Help:      "Corrupt records moved aside and reinitialized.",
		}, []string{"key"}),
		LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Wallet ledger operations by kind and result.",
		}, []string{"op", "result"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order lifecycle transitions by type and resulting status.",
		}, []string{"type", "status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.StoreWrites,
			m.StoreWriteSeconds,
			m.StoreQuarantines,
			m.LedgerOps,
			m.OrderTransitions,
		)
	}
	return m
}

// ObserveWrite records one document write.
func (m *Metrics) ObserveWrite(key string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(key, result(err)).Inc()
	m.StoreWriteSeconds.WithLabelValues(key).Observe(time.Since(started).Seconds())
}

// Quarantined records a corrupt-record recovery.
func (m *Metrics) Quarantined(key string) {
	if m == nil {
		return
	}
	m.StoreQuarantines.WithLabelValues(key).Inc()
}

// LedgerOp records one ledger operation.
func (m *Metrics) LedgerOp(op string, err error) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, result(err)).Inc()
}

// Transition records an order reaching status.
func (m *Metrics) Transition(orderType, status string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(orderType, status).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
