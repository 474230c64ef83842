// Package tenantmetrics reads per-tenant usage counters from the externally
// owned metrics store. This subsystem never writes metrics; the ingest
// pipeline that populates them is out of scope.
package tenantmetrics

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no metrics exist for a tenant
	ErrNotFound = errors.New("tenant metrics not found")

	// ErrMetricsUnavailable is returned on metrics store I/O failure. Callers
	// degrade to a default load weight instead of aborting.
	ErrMetricsUnavailable = errors.New("metrics store unavailable")
)

// Metrics holds the raw usage counters for one tenant
type Metrics struct {
	APICallsPerHour int64
	ActiveJobs      int
	DataSizeMB      float64
}

// Store provides read access to tenant usage metrics
type Store interface {
	// Get returns the metrics for a tenant, ErrNotFound if none exist, or an
	// error wrapping ErrMetricsUnavailable on I/O failure
	Get(ctx context.Context, tenantID string) (Metrics, error)

	// Close releases store resources
	Close() error
}
