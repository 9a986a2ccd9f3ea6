// Package stats provides a unified interface for collecting metrics.
package stats

import "strings"

// Metric names used throughout the worker.
const (
	// Strategy metrics. MetricResponses is suffixed with the response source.
	MetricResponses         = "offline_worker_responses_total"
	MetricNetworkTimeouts   = "offline_worker_network_timeouts_total"
	MetricNetworkFailures   = "offline_worker_network_failures_total"
	MetricBackgroundWrites  = "offline_worker_background_writes_total"
	MetricDiscardedFailures = "offline_worker_discarded_failures_total"
	MetricFetchSeconds      = "offline_worker_fetch_seconds"

	// Lifecycle metrics.
	MetricInstalls           = "offline_worker_installs_total"
	MetricInstallFailures    = "offline_worker_install_failures_total"
	MetricActivations        = "offline_worker_activations_total"
	MetricDeletedGenerations = "offline_worker_deleted_generations_total"
	MetricGenerations        = "offline_worker_generations"

	// Background metrics.
	MetricPeriodicRefreshes = "offline_worker_periodic_refreshes_total"
	MetricNotifications     = "offline_worker_notifications_total"

	// Control channel metrics.
	MetricClients = "offline_worker_clients"
)

// ResponsesBySource returns the response counter name for a response source.
// Dashes in the source become underscores.
func ResponsesBySource(source string) string {
	return "offline_worker_responses_" + strings.ReplaceAll(source, "-", "_") + "_total"
}

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
