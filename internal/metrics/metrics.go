// Package metrics defines the process-wide Prometheus collectors shared
// across modules, grouped by subsystem the way
// ipiton-alert-history-service's pkg/metrics package does (one struct
// per subsystem, a namespace-qualified constructor using promauto so
// registration happens exactly once per process).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ferron"

// Metrics bundles every subsystem's collectors. Module loaders take the
// subset they need (e.g. the cache module only touches m.Cache) rather
// than the whole struct, keeping each module's metric surface small.
type Metrics struct {
	Request *RequestMetrics
	Cache   *CacheMetrics
	Proxy   *ProxyMetrics
	ACME    *ACMEMetrics
}

// New constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Request: newRequestMetrics(factory),
		Cache:   newCacheMetrics(factory),
		Proxy:   newProxyMetrics(factory),
		ACME:    newACMEMetrics(factory),
	}
}

// RequestMetrics tracks the request handler's module pipeline, per
// spec.md §4.9.
type RequestMetrics struct {
	DurationSeconds *prometheus.HistogramVec
	ResponsesTotal  *prometheus.CounterVec
	PanicsTotal     prometheus.Counter
}

func newRequestMetrics(f promauto.Factory) *RequestMetrics {
	return &RequestMetrics{
		DurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "duration_seconds",
			Help:      "End-to-end duration of the module pipeline for one request.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"status_class"}),
		ResponsesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "responses_total",
			Help:      "Total responses emitted, by status code.",
		}, []string{"status"}),
		PanicsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "panics_recovered_total",
			Help:      "Total panics caught at the request driver boundary.",
		}),
	}
}

// CacheMetrics tracks the response cache module, per spec.md §4.5.
type CacheMetrics struct {
	HitsTotal      prometheus.Counter
	MissesTotal    prometheus.Counter
	EvictionsTotal *prometheus.CounterVec
	SizeBytes      prometheus.Gauge
	EntriesCount   prometheus.Gauge
}

func newCacheMetrics(f promauto.Factory) *CacheMetrics {
	return &CacheMetrics{
		HitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Total cache lookups that served a stored response.",
		}),
		MissesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Total cache lookups that found no stored response.",
		}),
		EvictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
			Help: "Total entries evicted, by reason (size, expired).",
		}, []string{"reason"}),
		SizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "size_bytes",
			Help: "Current total size of cached response bodies.",
		}),
		EntriesCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "entries",
			Help: "Current number of cached entries, across all vary variants.",
		}),
	}
}

// ProxyMetrics tracks the reverse proxy module, per spec.md §4.6.
type ProxyMetrics struct {
	UpstreamRequestsTotal  *prometheus.CounterVec
	UpstreamDurationSecs   *prometheus.HistogramVec
	PoolActiveConnections  *prometheus.GaugeVec
	BackendHealthyGauge    *prometheus.GaugeVec
	BackendFailuresTotal   *prometheus.CounterVec
}

func newProxyMetrics(f promauto.Factory) *ProxyMetrics {
	return &ProxyMetrics{
		UpstreamRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "proxy", Name: "upstream_requests_total",
			Help: "Total requests forwarded to an upstream, by backend and outcome.",
		}, []string{"backend", "outcome"}),
		UpstreamDurationSecs: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "proxy", Name: "upstream_duration_seconds",
			Help:    "Duration of a proxied upstream round trip.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"backend"}),
		PoolActiveConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "proxy", Name: "pool_active_connections",
			Help: "Current pooled connections per upstream (scheme,host,port).",
		}, []string{"backend"}),
		BackendHealthyGauge: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "proxy", Name: "backend_healthy",
			Help: "1 if the backend is currently considered healthy, else 0.",
		}, []string{"backend"}),
		BackendFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "proxy", Name: "backend_failures_total",
			Help: "Total consecutive-failure-window increments per backend.",
		}, []string{"backend"}),
	}
}

// ACMEMetrics tracks certificate issuance and renewal, per spec.md §4.7.
type ACMEMetrics struct {
	IssuancesTotal   *prometheus.CounterVec
	RenewalsTotal    *prometheus.CounterVec
	CacheFailuresTotal prometheus.Counter
	CertificatesValid prometheus.Gauge
}

func newACMEMetrics(f promauto.Factory) *ACMEMetrics {
	return &ACMEMetrics{
		IssuancesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "acme", Name: "issuances_total",
			Help: "Total certificate issuance attempts, by outcome.",
		}, []string{"outcome"}),
		RenewalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "acme", Name: "renewals_total",
			Help: "Total certificate renewal attempts, by outcome.",
		}, []string{"outcome"}),
		CacheFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "acme", Name: "cache_failures_total",
			Help: "Total account/certificate cache access failures.",
		}),
		CertificatesValid: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "acme", Name: "certificates_valid",
			Help: "Current number of non-expired certificates held in the cache.",
		}),
	}
}
