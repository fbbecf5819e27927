// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	remoteRequests      *prometheus.CounterVec
	remoteDuration      *prometheus.HistogramVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	cacheEntries        prometheus.Gauge
	sessionReady        prometheus.Gauge
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// remoteBuckets cover interactive calls and full-range reductions.
var remoteBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60}

// NewCollector creates a new Prometheus metrics collector registered with
// the default registry.
func NewCollector(namespace string) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registered with reg.
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = "cuenca"
	}
	factory := promauto.With(reg)

	return &Collector{
		remoteRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_requests_total",
				Help:      "Total number of requests to the compute service",
			},
			[]string{"operation", "status"},
		),

		remoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_request_duration_seconds",
				Help:      "Compute service request duration in seconds",
				Buckets:   remoteBuckets,
			},
			[]string{"operation"},
		),

		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of memoized results served",
			},
			[]string{"operation"},
		),

		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of results computed remotely",
			},
			[]string{"operation"},
		),

		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Number of memoized results held in memory",
			},
		),

		sessionReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_ready",
				Help:      "Whether the compute session is open (1) or not (0)",
			},
		),

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// IncRemoteRequests increments the remote request counter.
func (c *Collector) IncRemoteRequests(operation string, success bool) {
	c.remoteRequests.WithLabelValues(operation, successLabel(success)).Inc()
}

// ObserveRemoteDuration records remote request duration.
func (c *Collector) ObserveRemoteDuration(operation string, duration time.Duration) {
	c.remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncCacheHit increments the cache hit counter.
func (c *Collector) IncCacheHit(operation string) {
	c.cacheHits.WithLabelValues(operation).Inc()
}

// IncCacheMiss increments the cache miss counter.
func (c *Collector) IncCacheMiss(operation string) {
	c.cacheMisses.WithLabelValues(operation).Inc()
}

// SetCacheEntries sets the number of cached results.
func (c *Collector) SetCacheEntries(count int) {
	c.cacheEntries.Set(float64(count))
}

// SetSessionReady sets whether the session is open.
func (c *Collector) SetSessionReady(ready bool) {
	if ready {
		c.sessionReady.Set(1)
		return
	}
	c.sessionReady.Set(0)
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, successLabel(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts requests per route template and status class.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		path := routePath(r)
		c.IncHTTPRequests(r.Method, path, statusToString(m.Code))
		c.ObserveHTTPDuration(r.Method, path, m.Duration)
	})
}

// routePath returns the matched route template, which keeps label
// cardinality bounded by the number of routes.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath truncates unmatched paths.
func normalizePath(path string) string {
	switch {
	case len(path) > 20:
		return path[:20] + "..."
	default:
		return path
	}
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func successLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
