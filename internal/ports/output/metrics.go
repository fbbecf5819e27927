package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncRemoteRequests increments the remote request counter.
	IncRemoteRequests(operation string, success bool)

	// ObserveRemoteDuration records remote request duration.
	ObserveRemoteDuration(operation string, duration time.Duration)

	// IncCacheHit increments the cache hit counter.
	IncCacheHit(operation string)

	// IncCacheMiss increments the cache miss counter.
	IncCacheMiss(operation string)

	// SetCacheEntries sets the number of cached results.
	SetCacheEntries(count int)

	// SetSessionReady sets whether the session is open.
	SetSessionReady(ready bool)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncRemoteRequests implements MetricsCollector.
func (n *NoOpMetrics) IncRemoteRequests(_ string, _ bool) {}

// ObserveRemoteDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveRemoteDuration(_ string, _ time.Duration) {}

// IncCacheHit implements MetricsCollector.
func (n *NoOpMetrics) IncCacheHit(_ string) {}

// IncCacheMiss implements MetricsCollector.
func (n *NoOpMetrics) IncCacheMiss(_ string) {}

// SetCacheEntries implements MetricsCollector.
func (n *NoOpMetrics) SetCacheEntries(_ int) {}

// SetSessionReady implements MetricsCollector.
func (n *NoOpMetrics) SetSessionReady(_ bool) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
