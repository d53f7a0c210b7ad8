package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	saleMetricsOnce sync.Once
	saleRegistry    *SaleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tiersale",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tiersale",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tiersale",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tiersale",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. code is the JSON-RPC error code,
// or zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// SaleMetrics tracks sale engine actions executed by the node.
type SaleMetrics struct {
	actions  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	sales    prometheus.Gauge
	tokens   *prometheus.CounterVec
	payments prometheus.Counter
}

// Sale returns the lazily-initialised sale metrics registry.
func Sale() *SaleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tiersale",
				Subsystem: "engine",
				Name:      "actions_total",
				Help:      "Sale actions segmented by action and outcome category.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tiersale",
				Subsystem: "engine",
				Name:      "action_duration_seconds",
				Help:      "Latency distribution of sale actions including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			sales: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tiersale",
				Subsystem: "engine",
				Name:      "sales",
				Help:      "Number of sales started.",
			}),
			tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tiersale",
				Subsystem: "engine",
				Name:      "tokens_total",
				Help:      "Sale tokens moved, segmented by flow (sold, claimed, withdrawn).",
			}, []string{"flow"}),
			payments: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tiersale",
				Subsystem: "engine",
				Name:      "payments_total",
				Help:      "Payment token units received by sale owners.",
			}),
		}
		prometheus.MustRegister(
			saleRegistry.actions,
			saleRegistry.latency,
			saleRegistry.sales,
			saleRegistry.tokens,
			saleRegistry.payments,
		)
	})
	return saleRegistry
}

// ObserveAction records one executed action.
func (m *SaleMetrics) ObserveAction(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// SetSales publishes the current sale count.
func (m *SaleMetrics) SetSales(n uint32) {
	if m == nil {
		return
	}
	m.sales.Set(float64(n))
}

// AddTokens adds amount to the counter of flow. Amounts beyond float precision
// are approximated.
func (m *SaleMetrics) AddTokens(flow string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.tokens.WithLabelValues(flow).Add(amount)
}

// AddPayment adds amount to the payments counter.
func (m *SaleMetrics) AddPayment(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.payments.Add(amount)
}
