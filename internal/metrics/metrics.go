// Package metrics holds the Prometheus collectors for the sync engine and
// the local API.
//
// Every method is safe on a nil *Metrics, so components can run without
// instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/tillsync/internal/pos"
)

const namespace = "tillsync"

// Metrics is a private registry plus the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	OutboxDepth      *prometheus.GaugeVec
	CatalogPulls     *prometheus.CounterVec
	CatalogEntries   prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry. withRuntime adds the Go
// runtime and process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Dispatch attempts by command type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time from claim to recorded outcome.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		OutboxDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_commands",
				Help:      "Commands in the outbox by status.",
			},
			[]string{"status"},
		),
		CatalogPulls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_pulls_total",
				Help:      "Catalog pulls by mode and result.",
			},
			[]string{"mode", "result"},
		),
		CatalogEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalog_entries",
				Help:      "Products written by the last successful catalog pull.",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Local API requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Local API request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}

	m.registry.MustRegister(
		m.DispatchTotal,
		m.DispatchDuration,
		m.OutboxDepth,
		m.CatalogPulls,
		m.CatalogEntries,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveDispatch records one dispatch attempt.
func (m *Metrics) ObserveDispatch(typ pos.CommandType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(string(typ), outcome).Inc()
	m.DispatchDuration.WithLabelValues(string(typ)).Observe(d.Seconds())
}

// SetOutboxDepth replaces the per-status gauge values.
func (m *Metrics) SetOutboxDepth(counts map[pos.CommandStatus]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.OutboxDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}

// ObserveCatalogPull records a pull. entries is only used on success.
func (m *Metrics) ObserveCatalogPull(mode string, err error, entries int) {
	if m == nil {
		return
	}
	if err != nil {
		m.CatalogPulls.WithLabelValues(mode, "error").Inc()
		return
	}
	m.CatalogPulls.WithLabelValues(mode, "ok").Inc()
	m.CatalogEntries.Set(float64(entries))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts and times gin requests by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "undefined"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}
}
