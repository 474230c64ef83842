// Package placement owns tenant-to-node placement: assignment of new tenants
// to the best-fit node, lookup of existing assignments, migration of tenants
// between nodes, and periodic rebalancing of load across the fleet.
package placement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/printmesh/placement/estimator"
	"github.com/printmesh/placement/events"
	"github.com/printmesh/placement/nodestore"
	"github.com/printmesh/placement/util/backoff"
	"github.com/printmesh/placement/util/logger"
	"github.com/printmesh/placement/util/metrics"
)

var (
	// ErrNoCapacity is returned when no healthy node can accept the tenant.
	// Non-fatal: the caller is expected to scale up and retry.
	ErrNoCapacity = errors.New("no node with sufficient capacity")

	// ErrNotAssigned is returned by Lookup for tenants without an assignment
	ErrNotAssigned = nodestore.ErrAssignmentNotFound

	// ErrMigration wraps partial failures while moving a tenant. The next
	// rebalance cycle retries.
	ErrMigration = errors.New("migration failed")
)

const (
	// OverloadFactor marks a node overloaded when its load exceeds this
	// multiple of the fleet target load
	OverloadFactor = 1.2

	// UnderloadFactor marks a node underloaded when its load is below this
	// multiple of the fleet target load
	UnderloadFactor = 0.8
)

// Controller decides which node serves each tenant. All node mutations run
// under a per-node lock on top of the store's compare-and-swap, so concurrent
// operations on different nodes proceed in parallel while operations on the
// same node are serialized. Operations on one tenant additionally run under a
// per-tenant lock, which keeps duplicate concurrent assigns from placing the
// same tenant twice. Tenant locks are always taken before node locks.
type Controller struct {
	store     nodestore.Store
	estimator *estimator.Estimator
	publisher events.Publisher
	logger    *logger.Logger

	nodeLocks   *keyLock
	tenantLocks *keyLock
	cache       sync.Map // tenantID -> nodeID
}

// NewController creates a placement controller
func NewController(store nodestore.Store, est *estimator.Estimator, publisher events.Publisher) *Controller {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Controller{
		store:       store,
		estimator:   est,
		publisher:   publisher,
		logger:      logger.NewLogger("Placement"),
		nodeLocks:   newKeyLock(),
		tenantLocks: newKeyLock(),
	}
}

// errNodeIneligible signals that a candidate stopped being eligible between
// scoring and locking; Assign moves on to the next candidate.
var errNodeIneligible = errors.New("node no longer eligible")

// Assign places a tenant on the healthy node minimizing (load+weight)/capacity,
// ties broken by lowest node ID. Idempotent: an already assigned tenant keeps
// its node. Returns ErrNoCapacity when no eligible node exists.
func (c *Controller) Assign(ctx context.Context, tenantID string) (string, error) {
	// The lookup and the placement must be one atomic step per tenant, or two
	// concurrent assigns both miss the lookup and each reserve a node.
	unlock := c.tenantLocks.Lock(tenantID)
	defer unlock()

	if nodeID, err := c.Lookup(ctx, tenantID); err == nil {
		return nodeID, nil
	} else if !errors.Is(err, ErrNotAssigned) {
		return "", err
	}

	weight, err := c.estimator.Estimate(ctx, tenantID)
	if err != nil {
		c.logger.Warnf("Using degraded weight %d for tenant %s: %v", weight, tenantID, err)
	}

	nodes, err := c.store.List(ctx, nodestore.Healthy)
	if err != nil {
		return "", fmt.Errorf("failed to list nodes: %w", err)
	}

	candidates := rankCandidates(nodes, weight)
	for _, candidate := range candidates {
		nodeID, err := c.tryAssign(ctx, tenantID, candidate.ID, weight)
		if errors.Is(err, errNodeIneligible) {
			continue
		}
		if err != nil {
			return "", err
		}
		return nodeID, nil
	}

	return "", fmt.Errorf("no healthy node can accept tenant %s (weight %d): %w", tenantID, weight, ErrNoCapacity)
}

// rankCandidates returns the nodes that can accept the weight, ordered by
// ascending score then ascending node ID for determinism
func rankCandidates(nodes []*nodestore.ServiceNode, weight int64) []*nodestore.ServiceNode {
	eligible := make([]*nodestore.ServiceNode, 0, len(nodes))
	for _, node := range nodes {
		if node.Health != nodestore.Healthy {
			continue
		}
		if node.Capacity <= 0 || node.CurrentLoad+weight > node.Capacity {
			continue
		}
		eligible = append(eligible, node)
	}

	sort.Slice(eligible, func(i, j int) bool {
		si := float64(eligible[i].CurrentLoad+weight) / float64(eligible[i].Capacity)
		sj := float64(eligible[j].CurrentLoad+weight) / float64(eligible[j].Capacity)
		if si != sj {
			return si < sj
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible
}

// reserveAttempts bounds the CAS retries when reserving capacity on a node.
// Conflicts under the in-process lock come from out-of-process writers, so a
// short retry with backoff usually resolves them.
const reserveAttempts = 3

// tryAssign reserves capacity on one node and persists the assignment,
// compensating the node record if the assignment write fails
func (c *Controller) tryAssign(ctx context.Context, tenantID, nodeID string, weight int64) (string, error) {
	unlock := c.nodeLocks.Lock(nodeID)
	defer unlock()

	node, err := c.reserve(ctx, tenantID, nodeID, weight)
	if err != nil {
		return "", err
	}

	if err := c.store.SetAssignment(ctx, tenantID, nodeID); err != nil {
		// Roll back the reservation so load stays consistent with assignments
		node.RemoveTenant(tenantID)
		if serr := c.store.Save(context.WithoutCancel(ctx), node); serr != nil {
			c.logger.Errorf("Failed to roll back reservation for tenant %s on node %s: %v", tenantID, nodeID, serr)
		}
		return "", fmt.Errorf("failed to persist assignment for tenant %s: %w", tenantID, err)
	}

	c.cache.Store(tenantID, nodeID)
	metrics.RecordAssignment(nodeID)
	metrics.SetNodeLoad(nodeID, float64(node.CurrentLoad), float64(node.Capacity))
	c.logger.Infof("Assigned tenant %s (weight %d) to node %s (load %d/%d)",
		tenantID, weight, nodeID, node.CurrentLoad, node.Capacity)
	return nodeID, nil
}

// reserve adds the tenant to the node record and saves it, re-reading and
// retrying with backoff when an out-of-process writer bumped the node's
// version between the read and the compare-and-swap write. Must be called
// with the node's lock held.
func (c *Controller) reserve(ctx context.Context, tenantID, nodeID string, weight int64) (*nodestore.ServiceNode, error) {
	retry := backoff.New(10*time.Millisecond, 100*time.Millisecond, 2.0)

	for attempt := 1; ; attempt++ {
		node, err := c.store.Get(ctx, nodeID)
		if err != nil {
			if errors.Is(err, nodestore.ErrNodeNotFound) {
				return nil, errNodeIneligible
			}
			return nil, err
		}

		// Re-check under the lock; the scoring snapshot may be stale
		if node.Health != nodestore.Healthy || node.CurrentLoad+weight > node.Capacity {
			return nil, errNodeIneligible
		}
		if err := node.AddTenant(tenantID, weight); err != nil {
			return nil, errNodeIneligible
		}

		err = c.store.Save(ctx, node)
		if err == nil {
			return node, nil
		}
		if !errors.Is(err, nodestore.ErrVersionConflict) || attempt >= reserveAttempts {
			return nil, fmt.Errorf("failed to reserve capacity on node %s: %w", nodeID, err)
		}
		c.logger.Debugf("Version conflict saving node %s (attempt %d), retrying", nodeID, attempt)
		if werr := retry.Wait(ctx); werr != nil {
			return nil, werr
		}
	}
}

// Lookup returns the node a tenant is assigned to, reading the in-process
// cache first and falling back to the store. Repeated calls return the same
// node absent an intervening migration.
func (c *Controller) Lookup(ctx context.Context, tenantID string) (string, error) {
	if cached, ok := c.cache.Load(tenantID); ok {
		return cached.(string), nil
	}

	nodeID, err := c.store.GetAssignment(ctx, tenantID)
	if err != nil {
		return "", err
	}
	c.cache.Store(tenantID, nodeID)
	return nodeID, nil
}

// Migrate moves a tenant from one node to another. The destination is
// persisted first, then the source, then the assignment; any failure after
// the destination write compensates so the system is left in the
// pre-migration state. A committed migration whose event publish fails is
// still a success: event delivery is at-most-once and the store is the truth.
func (c *Controller) Migrate(ctx context.Context, tenantID, fromNodeID, toNodeID string) error {
	if fromNodeID == toNodeID {
		return fmt.Errorf("tenant %s: source and destination are both %s: %w", tenantID, fromNodeID, ErrMigration)
	}

	unlockTenant := c.tenantLocks.Lock(tenantID)
	defer unlockTenant()

	current, err := c.store.GetAssignment(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("tenant %s has no assignment: %w", tenantID, ErrMigration)
	}
	if current != fromNodeID {
		return fmt.Errorf("tenant %s is on %s, not %s: %w", tenantID, current, fromNodeID, ErrMigration)
	}

	weight, err := c.estimator.Estimate(ctx, tenantID)
	if err != nil {
		c.logger.Warnf("Using degraded weight %d for tenant %s: %v", weight, tenantID, err)
	}

	unlock := c.nodeLocks.LockAll(fromNodeID, toNodeID)
	defer unlock()

	from, err := c.store.Get(ctx, fromNodeID)
	if err != nil {
		return fmt.Errorf("source node %s: %w: %v", fromNodeID, ErrMigration, err)
	}
	to, err := c.store.Get(ctx, toNodeID)
	if err != nil {
		return fmt.Errorf("destination node %s: %w: %v", toNodeID, ErrMigration, err)
	}

	if !from.HasTenant(tenantID) {
		return fmt.Errorf("tenant %s not present on node %s: %w", tenantID, fromNodeID, ErrMigration)
	}
	if err := to.AddTenant(tenantID, weight); err != nil {
		return fmt.Errorf("destination node %s cannot accept tenant %s: %w: %v", toNodeID, tenantID, ErrMigration, err)
	}

	if err := c.store.Save(ctx, to); err != nil {
		return fmt.Errorf("failed to persist destination node %s: %w: %v", toNodeID, ErrMigration, err)
	}

	from.RemoveTenant(tenantID)
	if err := c.store.Save(ctx, from); err != nil {
		c.compensateDestination(ctx, to, tenantID)
		return fmt.Errorf("failed to persist source node %s: %w: %v", fromNodeID, ErrMigration, err)
	}

	if err := c.store.SetAssignment(ctx, tenantID, toNodeID); err != nil {
		// Restore the pre-migration state on both sides
		restoreCtx := context.WithoutCancel(ctx)
		if aerr := from.AddTenant(tenantID, weight); aerr == nil {
			if serr := c.store.Save(restoreCtx, from); serr != nil {
				c.logger.Errorf("Failed to restore source node %s: %v", fromNodeID, serr)
			}
		}
		c.compensateDestination(ctx, to, tenantID)
		return fmt.Errorf("failed to persist assignment for tenant %s: %w: %v", tenantID, ErrMigration, err)
	}

	c.cache.Store(tenantID, toNodeID)
	metrics.RecordMigration(fromNodeID, toNodeID)
	metrics.SetNodeLoad(fromNodeID, float64(from.CurrentLoad), float64(from.Capacity))
	metrics.SetNodeLoad(toNodeID, float64(to.CurrentLoad), float64(to.Capacity))
	c.logger.Infof("Migrated tenant %s (weight %d) from %s to %s", tenantID, weight, fromNodeID, toNodeID)

	event := events.MigrationEvent{
		TenantID: tenantID,
		NewNode: events.NodeRef{
			ID:   to.ID,
			Host: to.Host,
			Port: to.Port,
		},
		Timestamp: time.Now().UTC(),
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		metrics.RecordEventPublishFailure()
		c.logger.Errorf("Migration of tenant %s committed but event publish failed: %v", tenantID, err)
	}

	return nil
}

// compensateDestination removes a tenant reserved on the destination after a
// later step of the migration failed
func (c *Controller) compensateDestination(ctx context.Context, to *nodestore.ServiceNode, tenantID string) {
	to.RemoveTenant(tenantID)
	if err := c.store.Save(context.WithoutCancel(ctx), to); err != nil {
		c.logger.Errorf("Failed to roll back destination node %s for tenant %s: %v", to.ID, tenantID, err)
	}
}

// Unassign removes a tenant's assignment and releases its capacity, used when
// a tenant is deleted upstream
func (c *Controller) Unassign(ctx context.Context, tenantID string) error {
	unlockTenant := c.tenantLocks.Lock(tenantID)
	defer unlockTenant()

	nodeID, err := c.store.GetAssignment(ctx, tenantID)
	if err != nil {
		return err
	}

	unlock := c.nodeLocks.Lock(nodeID)
	defer unlock()

	node, err := c.store.Get(ctx, nodeID)
	if err != nil {
		return err
	}
	node.RemoveTenant(tenantID)
	if err := c.store.Save(ctx, node); err != nil {
		return fmt.Errorf("failed to release capacity on node %s: %w", nodeID, err)
	}
	if err := c.store.DeleteAssignment(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to delete assignment for tenant %s: %w", tenantID, err)
	}

	c.cache.Delete(tenantID)
	metrics.SetNodeLoad(nodeID, float64(node.CurrentLoad), float64(node.Capacity))
	c.logger.Infof("Unassigned tenant %s from node %s", tenantID, nodeID)
	return nil
}

// Rebalance flattens load across healthy nodes. A node is overloaded when its
// load exceeds OverloadFactor times the fleet target (total load / node
// count) and underloaded below UnderloadFactor times the target. Overloaded
// nodes shed their smallest tenants first, which minimizes the number of
// tenants disturbed per unit of load moved. Per-tenant failures are logged
// and the pass continues; the next cycle self-corrects.
func (c *Controller) Rebalance(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveRebalanceDuration(time.Since(start).Seconds())
	}()

	nodes, err := c.store.List(ctx, nodestore.Healthy)
	if err != nil {
		return 0, fmt.Errorf("failed to list nodes: %w", err)
	}
	if len(nodes) < 2 {
		return 0, nil
	}

	var totalLoad int64
	byID := make(map[string]*nodestore.ServiceNode, len(nodes))
	for _, node := range nodes {
		totalLoad += node.CurrentLoad
		byID[node.ID] = node
	}
	target := float64(totalLoad) / float64(len(nodes))

	overloaded := make([]*nodestore.ServiceNode, 0)
	for _, node := range nodes {
		if float64(node.CurrentLoad) > OverloadFactor*target {
			overloaded = append(overloaded, node)
		}
	}
	sort.Slice(overloaded, func(i, j int) bool { return overloaded[i].ID < overloaded[j].ID })

	moved := 0
	for _, source := range overloaded {
		moved += c.drainExcess(ctx, source, byID, target)
	}

	if moved > 0 {
		metrics.RecordRebalanceMoves(moved)
		c.logger.Infof("Rebalance moved %d tenants (target load %.1f)", moved, target)
	}
	return moved, nil
}

// drainExcess migrates the smallest tenants off an overloaded node into
// underloaded nodes until the excess over the target is shed or no eligible
// destination remains. Local copies in byID track load changes within the
// pass.
func (c *Controller) drainExcess(ctx context.Context, source *nodestore.ServiceNode, byID map[string]*nodestore.ServiceNode, target float64) int {
	type tenantWeight struct {
		tenantID string
		weight   int64
	}

	tenants := make([]tenantWeight, 0, len(source.AssignedTenants))
	for _, tenantID := range source.TenantIDs() {
		tenants = append(tenants, tenantWeight{tenantID, source.AssignedTenants[tenantID]})
	}
	sort.Slice(tenants, func(i, j int) bool {
		if tenants[i].weight != tenants[j].weight {
			return tenants[i].weight < tenants[j].weight
		}
		return tenants[i].tenantID < tenants[j].tenantID
	})

	moved := 0
	excess := float64(source.CurrentLoad) - target

	for _, tw := range tenants {
		if excess <= 0 {
			break
		}

		dest := pickUnderloaded(byID, source.ID, tw.weight, target)
		if dest == nil {
			c.logger.Debugf("No underloaded destination for tenant %s (weight %d) on node %s",
				tw.tenantID, tw.weight, source.ID)
			break
		}

		if err := c.Migrate(ctx, tw.tenantID, source.ID, dest.ID); err != nil {
			c.logger.Errorf("Rebalance: failed to migrate tenant %s from %s to %s: %v",
				tw.tenantID, source.ID, dest.ID, err)
			continue
		}

		source.CurrentLoad -= tw.weight
		dest.CurrentLoad += tw.weight
		excess -= float64(tw.weight)
		moved++
	}

	return moved
}

// pickUnderloaded returns the least-loaded underloaded node that can accept
// the weight, or nil
func pickUnderloaded(byID map[string]*nodestore.ServiceNode, excludeID string, weight int64, target float64) *nodestore.ServiceNode {
	var best *nodestore.ServiceNode
	for _, node := range byID {
		if node.ID == excludeID {
			continue
		}
		if float64(node.CurrentLoad) >= UnderloadFactor*target {
			continue
		}
		if node.CurrentLoad+weight > node.Capacity {
			continue
		}
		if best == nil || node.CurrentLoad < best.CurrentLoad ||
			(node.CurrentLoad == best.CurrentLoad && node.ID < best.ID) {
			best = node
		}
	}
	return best
}

// InvalidateCache clears the lookup cache, forcing store reads on next access
func (c *Controller) InvalidateCache() {
	c.cache.Range(func(key, value any) bool {
		c.cache.Delete(key)
		return true
	})
	c.logger.Debugf("Lookup cache invalidated")
}
