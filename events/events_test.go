package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMigrationEventJSON(t *testing.T) {
	event := MigrationEvent{
		TenantID: "tenant-1",
		NewNode: NodeRef{
			ID:   "node-b",
			Host: "10.0.0.2",
			Port: 9001,
		},
		Timestamp: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	// The router consumes this payload; the field names are part of the
	// contract
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if decoded["tenant_id"] != "tenant-1" {
		t.Errorf("tenant_id = %v, want tenant-1", decoded["tenant_id"])
	}
	newNode, ok := decoded["new_node"].(map[string]any)
	if !ok {
		t.Fatalf("new_node missing or wrong shape: %v", decoded["new_node"])
	}
	if newNode["id"] != "node-b" || newNode["host"] != "10.0.0.2" {
		t.Errorf("new_node = %v, want id node-b host 10.0.0.2", newNode)
	}
	if _, ok := decoded["timestamp"]; !ok {
		t.Errorf("timestamp missing from payload")
	}
}

func TestNopPublisher(t *testing.T) {
	var p NopPublisher
	if err := p.Publish(context.Background(), MigrationEvent{TenantID: "tenant-1"}); err != nil {
		t.Errorf("Publish() failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}
