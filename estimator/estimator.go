// Package estimator converts raw tenant usage metrics into a single scalar
// load weight used for bin-packing decisions.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/printmesh/placement/tenantmetrics"
)

// DefaultWeight is the load weight used for tenants without metrics, and the
// fallback when the metrics store is unreachable.
const DefaultWeight int64 = 10

// Estimator computes tenant load weights from usage metrics
type Estimator struct {
	metrics tenantmetrics.Store
}

// New creates an Estimator reading from the given metrics store
func New(metrics tenantmetrics.Store) *Estimator {
	return &Estimator{metrics: metrics}
}

// Estimate returns the tenant's load weight:
//
//	round(apiCallsPerHour/100 + activeJobs*2 + dataSizeMB/1000)
//
// floored to 1. Tenants without metrics get DefaultWeight. On metrics store
// I/O failure it returns DefaultWeight together with an error wrapping
// tenantmetrics.ErrMetricsUnavailable; callers should log the error and use
// the weight rather than abort.
func (e *Estimator) Estimate(ctx context.Context, tenantID string) (int64, error) {
	m, err := e.metrics.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenantmetrics.ErrNotFound) {
			return DefaultWeight, nil
		}
		return DefaultWeight, fmt.Errorf("estimating tenant %s: %w", tenantID, err)
	}

	raw := float64(m.APICallsPerHour)/100 + float64(m.ActiveJobs)*2 + m.DataSizeMB/1000
	weight := int64(math.Round(raw))
	if weight < 1 {
		weight = 1
	}
	return weight, nil
}
