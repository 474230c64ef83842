package tenantmetrics

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process metrics store for tests and for deployments
// that run without a metrics database (every tenant then gets the default
// weight).
type MemoryStore struct {
	mu      sync.RWMutex
	metrics map[string]Metrics

	// FailNext forces the next Get to fail with ErrMetricsUnavailable, for
	// exercising the degraded path in tests.
	FailNext bool
}

// NewMemoryStore creates an empty in-memory metrics store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metrics: make(map[string]Metrics),
	}
}

// Set records metrics for a tenant
func (s *MemoryStore) Set(tenantID string, m Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[tenantID] = m
}

// Get returns the metrics for a tenant
func (s *MemoryStore) Get(ctx context.Context, tenantID string) (Metrics, error) {
	s.mu.Lock()
	if s.FailNext {
		s.FailNext = false
		s.mu.Unlock()
		return Metrics{}, fmt.Errorf("tenant %s: %w", tenantID, ErrMetricsUnavailable)
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[tenantID]
	if !ok {
		return Metrics{}, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	return m, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
