package estimator

import (
	"context"
	"errors"
	"testing"

	"github.com/printmesh/placement/tenantmetrics"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name    string
		metrics tenantmetrics.Metrics
		want    int64
	}{
		{
			name:    "api calls only",
			metrics: tenantmetrics.Metrics{APICallsPerHour: 1000},
			want:    10,
		},
		{
			name:    "active jobs only",
			metrics: tenantmetrics.Metrics{ActiveJobs: 3},
			want:    6,
		},
		{
			name:    "data size only",
			metrics: tenantmetrics.Metrics{DataSizeMB: 5000},
			want:    5,
		},
		{
			name: "combined",
			metrics: tenantmetrics.Metrics{
				APICallsPerHour: 250,
				ActiveJobs:      2,
				DataSizeMB:      1500,
			},
			want: 8, // round(2.5 + 4 + 1.5)
		},
		{
			name:    "rounds to nearest",
			metrics: tenantmetrics.Metrics{APICallsPerHour: 140},
			want:    1, // round(1.4)
		},
		{
			name:    "floored to one",
			metrics: tenantmetrics.Metrics{APICallsPerHour: 10},
			want:    1,
		},
		{
			name:    "zero usage floored to one",
			metrics: tenantmetrics.Metrics{},
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tenantmetrics.NewMemoryStore()
			store.Set("tenant-1", tt.metrics)

			got, err := New(store).Estimate(context.Background(), "tenant-1")
			if err != nil {
				t.Fatalf("Estimate() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Estimate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimateNoMetrics(t *testing.T) {
	store := tenantmetrics.NewMemoryStore()

	got, err := New(store).Estimate(context.Background(), "tenant-unknown")
	if err != nil {
		t.Fatalf("Estimate() unexpected error: %v", err)
	}
	if got != DefaultWeight {
		t.Errorf("Estimate() = %d, want default weight %d", got, DefaultWeight)
	}
}

func TestEstimateMetricsUnavailable(t *testing.T) {
	store := tenantmetrics.NewMemoryStore()
	store.FailNext = true

	got, err := New(store).Estimate(context.Background(), "tenant-1")
	if !errors.Is(err, tenantmetrics.ErrMetricsUnavailable) {
		t.Errorf("Estimate() error = %v, want ErrMetricsUnavailable", err)
	}
	if got != DefaultWeight {
		t.Errorf("Estimate() = %d on store failure, want default weight %d", got, DefaultWeight)
	}
}
