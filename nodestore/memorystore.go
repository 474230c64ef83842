package nodestore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used by tests and single-process
// deployments. It enforces the same version compare-and-swap contract as
// EtcdStore with a per-store revision counter.
type MemoryStore struct {
	mu          sync.RWMutex
	revision    int64
	nodes       map[string]*ServiceNode
	assignments map[string]string

	failSaves  map[string]error
	failAssign error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:       make(map[string]*ServiceNode),
		assignments: make(map[string]string),
		failSaves:   make(map[string]error),
	}
}

// FailNextSave makes the next Save of the given node return err without
// touching the record, for exercising compensation paths in tests.
func (s *MemoryStore) FailNextSave(nodeID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves[nodeID] = err
}

// FailNextSetAssignment makes the next SetAssignment return err without
// recording the assignment.
func (s *MemoryStore) FailNextSetAssignment(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAssign = err
}

// Register upserts a node record
func (s *MemoryStore) Register(ctx context.Context, node *ServiceNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nodes[node.ID]; ok {
		if existing.Host != node.Host || existing.Port != node.Port {
			return fmt.Errorf("node %s is %s:%d, refusing %s:%d: %w",
				node.ID, existing.Host, existing.Port, node.Host, node.Port, ErrNodeConflict)
		}
		node.Version = existing.Version
		return nil
	}

	if node.AssignedTenants == nil {
		node.AssignedTenants = make(map[string]int64)
	}
	s.revision++
	node.Version = s.revision
	s.nodes[node.ID] = node.Clone()
	return nil
}

// Get returns a copy of the node or ErrNodeNotFound
func (s *MemoryStore) Get(ctx context.Context, nodeID string) (*ServiceNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNodeNotFound)
	}
	return node.Clone(), nil
}

// List returns copies of all nodes, optionally filtered by health
func (s *MemoryStore) List(ctx context.Context, health ...NodeHealth) ([]*ServiceNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*ServiceNode, 0, len(s.nodes))
	for _, node := range s.nodes {
		if len(health) > 0 && !healthMatches(node.Health, health) {
			continue
		}
		nodes = append(nodes, node.Clone())
	}
	return nodes, nil
}

// Save persists mutated node state via version compare-and-swap
func (s *MemoryStore) Save(ctx context.Context, node *ServiceNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failSaves[node.ID]; ok {
		delete(s.failSaves, node.ID)
		return err
	}

	existing, ok := s.nodes[node.ID]
	if !ok {
		return fmt.Errorf("node %s: %w", node.ID, ErrNodeNotFound)
	}
	if existing.Version != node.Version {
		return fmt.Errorf("node %s was modified concurrently: %w", node.ID, ErrVersionConflict)
	}

	s.revision++
	node.Version = s.revision
	s.nodes[node.ID] = node.Clone()
	return nil
}

// Delete removes an empty node record
func (s *MemoryStore) Delete(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, ErrNodeNotFound)
	}
	if len(node.AssignedTenants) > 0 {
		return fmt.Errorf("node %s has %d tenants: %w", nodeID, len(node.AssignedTenants), ErrNodeNotEmpty)
	}
	delete(s.nodes, nodeID)
	return nil
}

// GetAssignment returns the node ID a tenant is assigned to
func (s *MemoryStore) GetAssignment(ctx context.Context, tenantID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodeID, ok := s.assignments[tenantID]
	if !ok {
		return "", fmt.Errorf("tenant %s: %w", tenantID, ErrAssignmentNotFound)
	}
	return nodeID, nil
}

// SetAssignment records the tenant to node assignment
func (s *MemoryStore) SetAssignment(ctx context.Context, tenantID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAssign != nil {
		err := s.failAssign
		s.failAssign = nil
		return err
	}
	s.assignments[tenantID] = nodeID
	return nil
}

// DeleteAssignment removes a tenant's assignment
func (s *MemoryStore) DeleteAssignment(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, tenantID)
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
