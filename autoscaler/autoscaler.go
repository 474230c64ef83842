// Package autoscaler grows and shrinks the node fleet in response to
// aggregate utilization, delegating tenant evacuation to the placement
// controller before a node is removed.
package autoscaler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/printmesh/placement/nodestore"
	"github.com/printmesh/placement/placement"
	"github.com/printmesh/placement/util/logger"
	"github.com/printmesh/placement/util/metrics"
)

// ErrProvisioner wraps provisioner failures. The cooldown is still stamped so
// a broken provisioner cannot cause scaling thrash.
var ErrProvisioner = errors.New("provisioner operation failed")

// ErrCooldown is returned when a scaling operation is requested while its
// direction is still cooling down
var ErrCooldown = errors.New("scaling direction in cooldown")

const (
	// DefaultCooldown is the minimum time between scaling operations in the
	// same direction
	DefaultCooldown = 300 * time.Second

	// DefaultScaleUpThreshold triggers scale-up above this fleet utilization
	DefaultScaleUpThreshold = 0.80

	// DefaultScaleDownThreshold triggers scale-down below this fleet
	// utilization
	DefaultScaleDownThreshold = 0.20

	// DefaultNodeCapacity is the load-weight capacity given to newly
	// launched nodes
	DefaultNodeCapacity int64 = 100
)

// Provisioner launches and terminates compute for service nodes. Launch
// blocks until the new instance reports healthy (it may take minutes) and is
// cancelled through the context. Both operations are black boxes: the
// controller manages no infrastructure beyond these two calls.
type Provisioner interface {
	Launch(ctx context.Context) (host string, port int, err error)
	Terminate(ctx context.Context, nodeID string) error
}

// Config holds autoscaler tunables; zero values fall back to the defaults
type Config struct {
	Cooldown           time.Duration
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	NodeCapacity       int64
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.ScaleUpThreshold <= 0 {
		c.ScaleUpThreshold = DefaultScaleUpThreshold
	}
	if c.ScaleDownThreshold <= 0 {
		c.ScaleDownThreshold = DefaultScaleDownThreshold
	}
	if c.NodeCapacity <= 0 {
		c.NodeCapacity = DefaultNodeCapacity
	}
	return c
}

// AutoScaler drives node addition and removal. Cooldowns are tracked
// independently per direction.
type AutoScaler struct {
	store       nodestore.Store
	placement   *placement.Controller
	provisioner Provisioner
	config      Config
	logger      *logger.Logger

	mu            sync.Mutex
	lastScaleUp   time.Time
	lastScaleDown time.Time

	// now is swappable for tests
	now func() time.Time
}

// New creates an autoscaler
func New(store nodestore.Store, pc *placement.Controller, provisioner Provisioner, config Config) *AutoScaler {
	return &AutoScaler{
		store:       store,
		placement:   pc,
		provisioner: provisioner,
		config:      config.withDefaults(),
		logger:      logger.NewLogger("AutoScaler"),
		now:         time.Now,
	}
}

// CheckScalingNeeds inspects fleet utilization over healthy nodes and
// triggers at most one scaling operation. Errors from the operation itself
// are returned for logging but the next cycle proceeds regardless.
func (a *AutoScaler) CheckScalingNeeds(ctx context.Context) error {
	nodes, err := a.store.List(ctx, nodestore.Healthy)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil
	}

	var totalLoad, totalCapacity int64
	for _, node := range nodes {
		totalLoad += node.CurrentLoad
		totalCapacity += node.Capacity
	}
	if totalCapacity == 0 {
		return nil
	}

	utilization := float64(totalLoad) / float64(totalCapacity)
	metrics.SetFleetUtilization(utilization)
	a.logger.Debugf("Fleet utilization %.2f over %d nodes (load %d / capacity %d)",
		utilization, len(nodes), totalLoad, totalCapacity)

	switch {
	case utilization > a.config.ScaleUpThreshold:
		err := a.ScaleUp(ctx)
		if errors.Is(err, ErrCooldown) {
			a.logger.Debugf("Scale-up needed but in cooldown")
			return nil
		}
		return err
	case utilization < a.config.ScaleDownThreshold && len(nodes) > 1:
		err := a.ScaleDown(ctx)
		if errors.Is(err, ErrCooldown) {
			a.logger.Debugf("Scale-down needed but in cooldown")
			return nil
		}
		return err
	}
	return nil
}

// beginScale stamps the cooldown for a direction, returning ErrCooldown if it
// has not elapsed. Stamping happens on attempt, not success, so a failing
// provisioner does not get hammered every cycle.
func (a *AutoScaler) beginScale(up bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if up {
		if now.Sub(a.lastScaleUp) <= a.config.Cooldown {
			return ErrCooldown
		}
		a.lastScaleUp = now
	} else {
		if now.Sub(a.lastScaleDown) <= a.config.Cooldown {
			return ErrCooldown
		}
		a.lastScaleDown = now
	}
	return nil
}

// ScaleUp launches a new node through the provisioner and registers it once
// it reports healthy
func (a *AutoScaler) ScaleUp(ctx context.Context) error {
	if err := a.beginScale(true); err != nil {
		return err
	}

	a.logger.Infof("Scaling up: launching new node")
	host, port, err := a.provisioner.Launch(ctx)
	if err != nil {
		metrics.RecordScaleOperation("up", "error")
		return fmt.Errorf("launch failed: %w: %v", ErrProvisioner, err)
	}

	node := &nodestore.ServiceNode{
		ID:              fmt.Sprintf("node-%s-%d", host, port),
		Host:            host,
		Port:            port,
		Capacity:        a.config.NodeCapacity,
		Health:          nodestore.Healthy,
		AssignedTenants: make(map[string]int64),
	}
	if err := a.store.Register(ctx, node); err != nil {
		metrics.RecordScaleOperation("up", "error")
		return fmt.Errorf("failed to register launched node %s: %w", node.ID, err)
	}

	metrics.RecordScaleOperation("up", "success")
	metrics.SetNodeLoad(node.ID, 0, float64(node.Capacity))
	a.logger.Infof("Scaled up: node %s (%s:%d, capacity %d) joined the fleet",
		node.ID, host, port, node.Capacity)
	return nil
}

// ScaleDown evacuates the least-loaded healthy node and removes it. The node
// is marked draining first so new assignments skip it; if any tenant cannot
// be placed elsewhere the node is restored to healthy and the scale-down
// fails as a whole.
func (a *AutoScaler) ScaleDown(ctx context.Context) error {
	if err := a.beginScale(false); err != nil {
		return err
	}

	nodes, err := a.store.List(ctx, nodestore.Healthy)
	if err != nil {
		metrics.RecordScaleOperation("down", "error")
		return fmt.Errorf("failed to list nodes: %w", err)
	}
	if len(nodes) <= 1 {
		metrics.RecordScaleOperation("down", "skipped")
		return fmt.Errorf("refusing to scale down below one node")
	}

	victim := pickVictim(nodes)
	a.logger.Infof("Scaling down: draining node %s (load %d/%d, %d tenants)",
		victim.ID, victim.CurrentLoad, victim.Capacity, len(victim.AssignedTenants))

	victim.Health = nodestore.Draining
	if err := a.store.Save(ctx, victim); err != nil {
		metrics.RecordScaleOperation("down", "error")
		return fmt.Errorf("failed to mark node %s draining: %w", victim.ID, err)
	}

	if err := a.evacuate(ctx, victim); err != nil {
		a.restoreHealthy(ctx, victim.ID)
		metrics.RecordScaleOperation("down", "error")
		return err
	}

	if err := a.store.Delete(ctx, victim.ID); err != nil {
		a.restoreHealthy(ctx, victim.ID)
		metrics.RecordScaleOperation("down", "error")
		return fmt.Errorf("failed to deregister node %s: %w", victim.ID, err)
	}

	if err := a.provisioner.Terminate(ctx, victim.ID); err != nil {
		// The node is already out of the fleet; surface but do not restore
		metrics.RecordScaleOperation("down", "error")
		return fmt.Errorf("terminate of node %s failed: %w: %v", victim.ID, ErrProvisioner, err)
	}

	metrics.RecordScaleOperation("down", "success")
	metrics.RemoveNode(victim.ID)
	a.logger.Infof("Scaled down: node %s left the fleet", victim.ID)
	return nil
}

// pickVictim returns the healthy node with the lowest load, ties broken by
// lowest node ID
func pickVictim(nodes []*nodestore.ServiceNode) *nodestore.ServiceNode {
	sorted := make([]*nodestore.ServiceNode, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CurrentLoad != sorted[j].CurrentLoad {
			return sorted[i].CurrentLoad < sorted[j].CurrentLoad
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}

// evacuate migrates every tenant off the draining node to the least-loaded
// healthy node with room. Any tenant that cannot be placed fails the whole
// evacuation.
func (a *AutoScaler) evacuate(ctx context.Context, victim *nodestore.ServiceNode) error {
	for _, tenantID := range victim.TenantIDs() {
		weight := victim.AssignedTenants[tenantID]

		others, err := a.store.List(ctx, nodestore.Healthy)
		if err != nil {
			return fmt.Errorf("failed to list destinations: %w", err)
		}

		dest := pickDestination(others, victim.ID, weight)
		if dest == nil {
			return fmt.Errorf("no destination for tenant %s (weight %d) while draining node %s: %w",
				tenantID, weight, victim.ID, placement.ErrNoCapacity)
		}

		if err := a.placement.Migrate(ctx, tenantID, victim.ID, dest.ID); err != nil {
			return fmt.Errorf("failed to evacuate tenant %s from node %s: %w", tenantID, victim.ID, err)
		}
	}
	return nil
}

// pickDestination returns the least-loaded healthy node that can accept the
// weight, or nil
func pickDestination(nodes []*nodestore.ServiceNode, excludeID string, weight int64) *nodestore.ServiceNode {
	var best *nodestore.ServiceNode
	for _, node := range nodes {
		if node.ID == excludeID || node.Health != nodestore.Healthy {
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

// restoreHealthy flips a draining node back to healthy after a failed
// scale-down
func (a *AutoScaler) restoreHealthy(ctx context.Context, nodeID string) {
	restoreCtx := context.WithoutCancel(ctx)
	node, err := a.store.Get(restoreCtx, nodeID)
	if err != nil {
		a.logger.Errorf("Failed to reload node %s for restore: %v", nodeID, err)
		return
	}
	node.Health = nodestore.Healthy
	if err := a.store.Save(restoreCtx, node); err != nil {
		a.logger.Errorf("Failed to restore node %s to healthy: %v", nodeID, err)
	}
}
