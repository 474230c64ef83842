package nodestore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreRegister(t *testing.T) {
	tests := []struct {
		name    string
		first   *ServiceNode
		second  *ServiceNode
		wantErr error
	}{
		{
			name:   "idempotent re-register",
			first:  &ServiceNode{ID: "node-1", Host: "localhost", Port: 9000, Capacity: 50},
			second: &ServiceNode{ID: "node-1", Host: "localhost", Port: 9000, Capacity: 50},
		},
		{
			name:    "conflicting host",
			first:   &ServiceNode{ID: "node-1", Host: "localhost", Port: 9000, Capacity: 50},
			second:  &ServiceNode{ID: "node-1", Host: "otherhost", Port: 9000, Capacity: 50},
			wantErr: ErrNodeConflict,
		},
		{
			name:    "conflicting port",
			first:   &ServiceNode{ID: "node-1", Host: "localhost", Port: 9000, Capacity: 50},
			second:  &ServiceNode{ID: "node-1", Host: "localhost", Port: 9001, Capacity: 50},
			wantErr: ErrNodeConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			ctx := context.Background()

			if err := store.Register(ctx, tt.first); err != nil {
				t.Fatalf("first Register() failed: %v", err)
			}
			err := store.Register(ctx, tt.second)
			if tt.wantErr == nil && err != nil {
				t.Errorf("second Register() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("second Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Get() error = %v, want ErrNodeNotFound", err)
	}
}

func TestMemoryStoreSaveVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	node := &ServiceNode{ID: "node-1", Host: "localhost", Port: 9000, Capacity: 50}
	if err := store.Register(ctx, node); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	// Two readers take the same snapshot
	first, err := store.Get(ctx, "node-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	second, err := store.Get(ctx, "node-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	if err := first.AddTenant("tenant-1", 10); err != nil {
		t.Fatalf("AddTenant() failed: %v", err)
	}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}

	// The stale snapshot must not overwrite the first write
	if err := second.AddTenant("tenant-2", 10); err != nil {
		t.Fatalf("AddTenant() failed: %v", err)
	}
	if err := store.Save(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale Save() error = %v, want ErrVersionConflict", err)
	}

	// A fresh read carries the new version and saves cleanly
	fresh, err := store.Get(ctx, "node-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if err := fresh.AddTenant("tenant-2", 10); err != nil {
		t.Fatalf("AddTenant() failed: %v", err)
	}
	if err := store.Save(ctx, fresh); err != nil {
		t.Errorf("fresh Save() failed: %v", err)
	}
}

func TestMemoryStoreDeleteNonEmpty(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	node := &ServiceNode{ID: "node-1", Host: "localhost", Port: 9000, Capacity: 50}
	if err := store.Register(ctx, node); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	loaded, err := store.Get(ctx, "node-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if err := loaded.AddTenant("tenant-1", 10); err != nil {
		t.Fatalf("AddTenant() failed: %v", err)
	}
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := store.Delete(ctx, "node-1"); !errors.Is(err, ErrNodeNotEmpty) {
		t.Errorf("Delete() error = %v, want ErrNodeNotEmpty", err)
	}

	// Empty the node and delete again
	loaded, err = store.Get(ctx, "node-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	loaded.RemoveTenant("tenant-1")
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := store.Delete(ctx, "node-1"); err != nil {
		t.Errorf("Delete() of empty node failed: %v", err)
	}
	if _, err := store.Get(ctx, "node-1"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNodeNotFound", err)
	}
}

func TestMemoryStoreAssignments(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetAssignment(ctx, "tenant-1"); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("GetAssignment() error = %v, want ErrAssignmentNotFound", err)
	}

	if err := store.SetAssignment(ctx, "tenant-1", "node-1"); err != nil {
		t.Fatalf("SetAssignment() failed: %v", err)
	}
	nodeID, err := store.GetAssignment(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("GetAssignment() failed: %v", err)
	}
	if nodeID != "node-1" {
		t.Errorf("GetAssignment() = %s, want node-1", nodeID)
	}

	// Overwrite on migrate
	if err := store.SetAssignment(ctx, "tenant-1", "node-2"); err != nil {
		t.Fatalf("SetAssignment() failed: %v", err)
	}
	nodeID, err = store.GetAssignment(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("GetAssignment() failed: %v", err)
	}
	if nodeID != "node-2" {
		t.Errorf("GetAssignment() after overwrite = %s, want node-2", nodeID)
	}

	if err := store.DeleteAssignment(ctx, "tenant-1"); err != nil {
		t.Fatalf("DeleteAssignment() failed: %v", err)
	}
	if _, err := store.GetAssignment(ctx, "tenant-1"); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("GetAssignment() after delete error = %v, want ErrAssignmentNotFound", err)
	}
}

func TestMemoryStoreListHealthFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	nodes := []*ServiceNode{
		{ID: "node-1", Host: "h1", Port: 1, Capacity: 50, Health: Healthy},
		{ID: "node-2", Host: "h2", Port: 2, Capacity: 50, Health: Draining},
		{ID: "node-3", Host: "h3", Port: 3, Capacity: 50, Health: Unhealthy},
	}
	for _, n := range nodes {
		if err := store.Register(ctx, n); err != nil {
			t.Fatalf("Register(%s) failed: %v", n.ID, err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List() returned %d nodes, want 3", len(all))
	}

	healthy, err := store.List(ctx, Healthy)
	if err != nil {
		t.Fatalf("List(Healthy) failed: %v", err)
	}
	if len(healthy) != 1 || healthy[0].ID != "node-1" {
		t.Errorf("List(Healthy) = %v, want only node-1", healthy)
	}
}
