package nodestore

import (
	"fmt"
	"sort"
)

// NodeHealth represents the health state of a service node
type NodeHealth string

const (
	Healthy   NodeHealth = "healthy"
	Unhealthy NodeHealth = "unhealthy"
	Draining  NodeHealth = "draining"
)

// ServiceNode is the durable record of a backend service node. Capacity and
// CurrentLoad are both load-weight units: a node may never carry more load
// weight than its capacity. AssignedTenants maps each tenant to the weight it
// was admitted with, so CurrentLoad always equals the sum of the map values
// at rest.
type ServiceNode struct {
	ID              string           `json:"id"`
	Host            string           `json:"host"`
	Port            int              `json:"port"`
	Capacity        int64            `json:"capacity"`
	CurrentLoad     int64            `json:"current_load"`
	Health          NodeHealth       `json:"health"`
	AssignedTenants map[string]int64 `json:"assigned_tenants"`

	// Version is the store revision of this record, used for compare-and-swap
	// on Save. Not part of the persisted value.
	Version int64 `json:"-"`
}

func (n *ServiceNode) String() string {
	return fmt.Sprintf("ServiceNode<%s %s:%d load=%d/%d %s>", n.ID, n.Host, n.Port, n.CurrentLoad, n.Capacity, n.Health)
}

// RemainingCapacity returns the load weight the node can still accept
func (n *ServiceNode) RemainingCapacity() int64 {
	return n.Capacity - n.CurrentLoad
}

// HasTenant reports whether the tenant is assigned to this node
func (n *ServiceNode) HasTenant(tenantID string) bool {
	_, ok := n.AssignedTenants[tenantID]
	return ok
}

// AddTenant records a tenant with the given weight and adds it to the load.
// Returns an error if the node would exceed its capacity or already holds the
// tenant.
func (n *ServiceNode) AddTenant(tenantID string, weight int64) error {
	if n.HasTenant(tenantID) {
		return fmt.Errorf("tenant %s already assigned to node %s", tenantID, n.ID)
	}
	if n.CurrentLoad+weight > n.Capacity {
		return fmt.Errorf("node %s cannot accept weight %d (load %d/%d)", n.ID, weight, n.CurrentLoad, n.Capacity)
	}
	if n.AssignedTenants == nil {
		n.AssignedTenants = make(map[string]int64)
	}
	n.AssignedTenants[tenantID] = weight
	n.CurrentLoad += weight
	return nil
}

// RemoveTenant removes a tenant and subtracts its recorded weight from the
// load. Removing an unknown tenant is a no-op.
func (n *ServiceNode) RemoveTenant(tenantID string) {
	weight, ok := n.AssignedTenants[tenantID]
	if !ok {
		return
	}
	delete(n.AssignedTenants, tenantID)
	n.CurrentLoad -= weight
	if n.CurrentLoad < 0 {
		n.CurrentLoad = 0
	}
}

// TenantIDs returns the assigned tenant IDs sorted ascending for deterministic
// iteration.
func (n *ServiceNode) TenantIDs() []string {
	ids := make([]string, 0, len(n.AssignedTenants))
	for id := range n.AssignedTenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the node
func (n *ServiceNode) Clone() *ServiceNode {
	clone := *n
	clone.AssignedTenants = make(map[string]int64, len(n.AssignedTenants))
	for id, w := range n.AssignedTenants {
		clone.AssignedTenants[id] = w
	}
	return &clone
}
