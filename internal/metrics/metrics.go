// ABOUTME: Prometheus collectors for the gateway on a private registry.
// ABOUTME: Implements the key cache, gate and tool observers plus HTTP instrumentation.

package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matdevis"

// Metrics owns every collector of the gateway.
type Metrics struct {
	registry *prometheus.Registry

	keyLookups    *prometheus.CounterVec
	keyFetches    *prometheus.CounterVec
	keyFetchTime  prometheus.Histogram
	authDecisions *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	toolCallTime  *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with Go and process collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		keyLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_key_lookups_total",
			Help:      "Signing key lookups by cache result",
		}, []string{"result"}), // hit|miss
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_fetches_total",
			Help:      "Key set fetch attempts by outcome",
		}, []string{"outcome"}),
		keyFetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "jwks_fetch_duration_seconds",
			Help:      "Key set fetch latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_decisions_total",
			Help:      "Authorization gate decisions by reason",
		}, []string{"reason"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		toolCallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.keyLookups, m.keyFetches, m.keyFetchTime,
		m.authDecisions,
		m.toolCalls, m.toolCallTime,
		m.httpRequests, m.httpDuration,
	} {
		if err := registerCollector(m.registry, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterKeyCount exports the number of cached signing keys.
func (m *Metrics) RegisterKeyCount(count func() int) error {
	return registerCollector(m.registry, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jwks_cached_keys",
		Help:      "Signing keys currently cached",
	}, func() float64 { return float64(count()) }))
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// KeyLookup counts a key cache lookup.
func (m *Metrics) KeyLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.keyLookups.WithLabelValues(result).Inc()
}

// KeyFetch counts a key set fetch attempt.
func (m *Metrics) KeyFetch(outcome string, elapsed time.Duration) {
	m.keyFetches.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.keyFetchTime.Observe(elapsed.Seconds())
	}
}

// AuthDecision counts a gate decision.
func (m *Metrics) AuthDecision(reason string) {
	m.authDecisions.WithLabelValues(reason).Inc()
}

// ToolCall counts a tool call.
func (m *Metrics) ToolCall(name, outcome string, elapsed time.Duration) {
	m.toolCalls.WithLabelValues(name, outcome).Inc()
	m.toolCallTime.WithLabelValues(name).Observe(elapsed.Seconds())
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// registerCollector registers c, tolerating a collector that is already present.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}
