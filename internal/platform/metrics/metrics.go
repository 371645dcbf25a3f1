package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cloutfeed"

// Metrics groups the collectors shared by the signer, the API client and the
// derived-key flow. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SigningOps       *prometheus.CounterVec
	SigningFailures  *prometheus.CounterVec
	APIRequests      *prometheus.CounterVec
	APILatency       *prometheus.HistogramVec
	FlowTransitions  *prometheus.CounterVec
	FlowFailures     *prometheus.CounterVec
	CallbacksLimited prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SigningOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signer",
			Name:      "operations_total",
			Help:      "Signing and message crypto operations by kind and identity type.",
		}, []string{"kind", "identity"}),
		SigningFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signer",
			Name:      "failures_total",
			Help:      "Failed signing and message crypto operations by kind.",
		}, []string{"kind"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Node API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		APILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Node API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		FlowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "derived_flow",
			Name:      "transitions_total",
			Help:      "Derived key flow state entries.",
		}, []string{"state"}),
		FlowFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "derived_flow",
			Name:      "failures_total",
			Help:      "Derived key flow failures by reason.",
		}, []string{"reason"}),
		CallbacksLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "derived_flow",
			Name:      "callbacks_rate_limited_total",
			Help:      "Provider callbacks rejected by the per-remote limiter.",
		}),
	}
	m.registry.MustRegister(
		m.SigningOps,
		m.SigningFailures,
		m.APIRequests,
		m.APILatency,
		m.FlowTransitions,
		m.FlowFailures,
		m.CallbacksLimited,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSign(kind string, derived bool, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SigningFailures.WithLabelValues(kind).Inc()
		return
	}
	identity := "standard"
	if derived {
		identity = "derived"
	}
	m.SigningOps.WithLabelValues(kind, identity).Inc()
}

func (m *Metrics) ObserveAPI(endpoint string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.APIRequests.WithLabelValues(endpoint, outcome).Inc()
	m.APILatency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.FlowTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.FlowFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCallbackLimited() {
	if m == nil {
		return
	}
	m.CallbacksLimited.Inc()
}
