// Package metrics holds the Prometheus collectors for intentd's two
// listeners, the gateway's RPC client and the score cache. A nil *Metrics
// is valid and records nothing, so components can run without a registry.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	m.ObserveRequest(metrics.ListenerGateway, metrics.OutcomeOK, elapsed)
//	router.GET("/metrics", gin.WrapH(metrics.Handler(reg)))
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intentd"

// Listener label values.
const (
	ListenerRPC     = "rpc"
	ListenerGateway = "gateway"
)

// Outcome label values.
const (
	OutcomeOK           = "ok"
	OutcomeInputError   = "input_error"
	OutcomeBackendError = "backend_error"
)

// Cache result label values.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// DefaultBuckets are latency boundaries in seconds, sub-millisecond to 10s.
var DefaultBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics contains every intentd collector.
type Metrics struct {
	// Request metrics, by listener
	RequestsTotal   *prometheus.CounterVec   // listener, outcome
	RequestDuration *prometheus.HistogramVec // listener
	InFlight        *prometheus.GaugeVec     // listener

	// Lifecycle
	ListenerState *prometheus.GaugeVec // listener; 0=not started, 1=running, 2=stopping, 3=stopped

	// Gateway client
	BreakerState     prometheus.Gauge // 0=closed, 1=open, 2=half-open
	ClientDials      prometheus.Counter
	ClientRetries    prometheus.Counter
	ClientDiscarded  prometheus.Counter
	CacheRequests    *prometheus.CounterVec // result
	InferenceSeconds prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "total",
			Help:      "Prediction requests handled, by listener and outcome",
		}, []string{"listener", "outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Prediction request duration in seconds",
			Buckets:   DefaultBuckets,
		}, []string{"listener"}),

		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "in_flight",
			Help:      "Prediction requests currently being served",
		}, []string{"listener"}),

		ListenerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "state",
			Help:      "Listener state (0=not started, 1=running, 2=stopping, 3=stopped)",
		}, []string{"listener"}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "breaker_state",
			Help:      "Gateway client circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),

		ClientDials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "dials_total",
			Help:      "RPC connections opened by the gateway client",
		}),

		ClientRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "retries_total",
			Help:      "Predict calls repeated on a fresh connection",
		}),

		ClientDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "discarded_total",
			Help:      "RPC connections dropped after a failed call",
		}),

		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Score cache lookups by result",
		}, []string{"result"}),

		InferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "inference_seconds",
			Help:      "Tokenize plus inference time per document",
			Buckets:   DefaultBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.InFlight,
			m.ListenerState,
			m.BreakerState,
			m.ClientDials,
			m.ClientRetries,
			m.ClientDiscarded,
			m.CacheRequests,
			m.InferenceSeconds,
		)
	}
	return m
}

// NewRegistry returns a registry with the intentd collectors plus the Go
// runtime and process collectors.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(listener, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(listener, outcome).Inc()
	m.RequestDuration.WithLabelValues(listener).Observe(d.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) TrackInFlight(listener string) func() {
	if m == nil {
		return func() {}
	}
	g := m.InFlight.WithLabelValues(listener)
	g.Inc()
	return g.Dec
}

// SetListenerState records a listener's lifecycle state.
func (m *Metrics) SetListenerState(listener string, state int) {
	if m == nil {
		return
	}
	m.ListenerState.WithLabelValues(listener).Set(float64(state))
}

// SetBreakerState records the client breaker state.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

// IncDial counts a new RPC connection.
func (m *Metrics) IncDial() {
	if m == nil {
		return
	}
	m.ClientDials.Inc()
}

// IncRetry counts a repeated predict call.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.ClientRetries.Inc()
}

// IncDiscard counts a connection dropped after a failure.
func (m *Metrics) IncDiscard() {
	if m == nil {
		return
	}
	m.ClientDiscarded.Inc()
}

// CacheResult counts one cache lookup.
func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ObserveInference records engine time for one document.
func (m *Metrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceSeconds.Observe(d.Seconds())
}
