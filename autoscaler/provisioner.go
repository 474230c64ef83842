package autoscaler

import (
	"context"
	"fmt"
)

// DisabledProvisioner rejects every operation, for deployments where the
// fleet is managed by hand. Scaling checks still run and log, they just
// cannot act.
type DisabledProvisioner struct{}

// Launch always fails
func (DisabledProvisioner) Launch(ctx context.Context) (string, int, error) {
	return "", 0, fmt.Errorf("provisioner is disabled")
}

// Terminate always fails
func (DisabledProvisioner) Terminate(ctx context.Context, nodeID string) error {
	return fmt.Errorf("provisioner is disabled")
}
