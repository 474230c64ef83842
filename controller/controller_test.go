package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/printmesh/placement/autoscaler"
	"github.com/printmesh/placement/estimator"
	"github.com/printmesh/placement/nodestore"
	"github.com/printmesh/placement/placement"
	"github.com/printmesh/placement/tenantmetrics"
)

type noopProvisioner struct{}

func (noopProvisioner) Launch(ctx context.Context) (string, int, error) {
	return "", 0, fmt.Errorf("not implemented")
}

func (noopProvisioner) Terminate(ctx context.Context, nodeID string) error {
	return nil
}

func newTestController(t *testing.T) (*Controller, *nodestore.MemoryStore) {
	t.Helper()
	store := nodestore.NewMemoryStore()
	pc := placement.NewController(store, estimator.New(tenantmetrics.NewMemoryStore()), nil)
	scaler := autoscaler.New(store, pc, noopProvisioner{}, autoscaler.Config{})
	return New(pc, scaler, 10*time.Millisecond), store
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctrl, _ := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run() did not stop after context cancellation")
	}
}

func TestRunOnceSurvivesComponentErrors(t *testing.T) {
	// An empty fleet makes the scaling check a no-op and rebalance trivially
	// succeeds; RunOnce must never panic or abort the loop regardless.
	ctrl, store := newTestController(t)
	ctx := context.Background()

	ctrl.RunOnce(ctx)

	// Seed an unbalanced fleet and verify a cycle moves load
	for _, spec := range []struct {
		id   string
		load int64
	}{
		{"node-a", 40},
		{"node-b", 0},
	} {
		node := &nodestore.ServiceNode{
			ID:       spec.id,
			Host:     "localhost",
			Port:     9000,
			Capacity: 100,
			Health:   nodestore.Healthy,
		}
		if err := store.Register(ctx, node); err != nil {
			t.Fatalf("Register(%s) failed: %v", spec.id, err)
		}
		for i := int64(0); i < spec.load/10; i++ {
			tenantID := fmt.Sprintf("%s-tenant-%d", spec.id, i)
			loaded, err := store.Get(ctx, spec.id)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if err := loaded.AddTenant(tenantID, 10); err != nil {
				t.Fatalf("AddTenant() failed: %v", err)
			}
			if err := store.Save(ctx, loaded); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
			if err := store.SetAssignment(ctx, tenantID, spec.id); err != nil {
				t.Fatalf("SetAssignment() failed: %v", err)
			}
		}
	}

	ctrl.RunOnce(ctx)

	nodeB, err := store.Get(ctx, "node-b")
	if err != nil {
		t.Fatalf("Get(node-b) failed: %v", err)
	}
	if nodeB.CurrentLoad == 0 {
		t.Errorf("RunOnce() did not rebalance load onto node-b")
	}
}
