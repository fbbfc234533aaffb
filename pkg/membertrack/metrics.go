package membertrack

import "time"

// Metrics defines the interface for tracking ingestion and store operations.
type Metrics interface {
	// RecordIngest records one ingestion attempt with its outcome
	// ("inserted", "duplicate", "skipped" or "error").
	RecordIngest(result string)

	// RecordNotification records one processed transition notification.
	RecordNotification(kind string)

	// RecordScanPage records one fetched page and the observations it held.
	RecordScanPage(observations int)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordIngest(result string)                                          {}
func (n *NoopMetrics) RecordNotification(kind string)                                      {}
func (n *NoopMetrics) RecordScanPage(observations int)                                     {}
func (n *NoopMetrics) RecordStorageOperation(operation string, d time.Duration, err error) {}
