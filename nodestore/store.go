package nodestore

import (
	"context"
	"errors"
)

var (
	// ErrNodeConflict is returned when registering a node ID that already
	// exists with a different host or port
	ErrNodeConflict = errors.New("node already registered with different address")

	// ErrNodeNotFound is returned when the requested node does not exist
	ErrNodeNotFound = errors.New("node not found")

	// ErrVersionConflict is returned by Save when the node was modified since
	// it was read. The caller should re-read and retry.
	ErrVersionConflict = errors.New("node version conflict")

	// ErrAssignmentNotFound is returned when a tenant has no assignment
	ErrAssignmentNotFound = errors.New("tenant assignment not found")

	// ErrNodeNotEmpty is returned when deleting a node that still has
	// assigned tenants
	ErrNodeNotEmpty = errors.New("node still has assigned tenants")
)

// Store is the durable record of known service nodes and the tenant to node
// assignment map. Save is a compare-and-swap on the node's Version; callers
// that hold per-node locks will not normally see ErrVersionConflict, but the
// store enforces it regardless so that concurrent writers cannot lose updates.
type Store interface {
	// Register upserts a node. Registering an existing ID with the same
	// host and port is a no-op; a different address returns ErrNodeConflict.
	Register(ctx context.Context, node *ServiceNode) error

	// Get returns a copy of the node or ErrNodeNotFound
	Get(ctx context.Context, nodeID string) (*ServiceNode, error)

	// List returns copies of all nodes, optionally filtered by health
	List(ctx context.Context, health ...NodeHealth) ([]*ServiceNode, error)

	// Save persists mutated node state. Fails with ErrVersionConflict if the
	// stored version differs from node.Version. On success node.Version is
	// updated to the new revision.
	Save(ctx context.Context, node *ServiceNode) error

	// Delete removes a node. Fails with ErrNodeNotEmpty if tenants are still
	// assigned to it.
	Delete(ctx context.Context, nodeID string) error

	// GetAssignment returns the node ID a tenant is assigned to, or
	// ErrAssignmentNotFound
	GetAssignment(ctx context.Context, tenantID string) (string, error)

	// SetAssignment records the tenant to node assignment, overwriting any
	// previous one
	SetAssignment(ctx context.Context, tenantID, nodeID string) error

	// DeleteAssignment removes a tenant's assignment
	DeleteAssignment(ctx context.Context, tenantID string) error

	// Close releases store resources
	Close() error
}
