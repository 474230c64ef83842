// Package controller runs the periodic control loop: each tick rebalances
// tenant placement and then checks whether the fleet needs to scale.
package controller

import (
	"context"
	"time"

	"github.com/printmesh/placement/autoscaler"
	"github.com/printmesh/placement/placement"
	"github.com/printmesh/placement/util/logger"
)

// DefaultInterval is the default period between control loop ticks
const DefaultInterval = 60 * time.Second

// Controller ties the placement controller and the autoscaler together into
// one periodic loop
type Controller struct {
	placement *placement.Controller
	scaler    *autoscaler.AutoScaler
	interval  time.Duration
	logger    *logger.Logger
}

// New creates a controller; a non-positive interval uses DefaultInterval
func New(pc *placement.Controller, scaler *autoscaler.AutoScaler, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{
		placement: pc,
		scaler:    scaler,
		interval:  interval,
		logger:    logger.NewLogger("Controller"),
	}
}

// Run drives the control loop until the context is cancelled. Component
// errors are logged and the loop continues; a single bad cycle must never
// stop the controller.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Infof("Control loop started (interval %v)", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Infof("Control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single control cycle: rebalance, then scaling check
func (c *Controller) RunOnce(ctx context.Context) {
	if moved, err := c.placement.Rebalance(ctx); err != nil {
		c.logger.Errorf("Rebalance failed: %v", err)
	} else if moved > 0 {
		c.logger.Infof("Rebalance moved %d tenants", moved)
	}

	if err := c.scaler.CheckScalingNeeds(ctx); err != nil {
		c.logger.Errorf("Scaling check failed: %v", err)
	}
}
