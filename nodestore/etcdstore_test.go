package nodestore

import (
	"encoding/json"
	"testing"
)

func TestEtcdStoreKeyLayout(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		wantNode   string
		wantAssign string
	}{
		{
			name:       "default prefix",
			prefix:     "",
			wantNode:   "/placement/nodes/node-1",
			wantAssign: "/placement/assignments/tenant-1",
		},
		{
			name:       "custom prefix",
			prefix:     "/staging",
			wantNode:   "/staging/nodes/node-1",
			wantAssign: "/staging/assignments/tenant-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewEtcdStore([]string{"localhost:2379"}, tt.prefix)
			if got := store.nodeKey("node-1"); got != tt.wantNode {
				t.Errorf("nodeKey() = %s, want %s", got, tt.wantNode)
			}
			if got := store.assignmentKey("tenant-1"); got != tt.wantAssign {
				t.Errorf("assignmentKey() = %s, want %s", got, tt.wantAssign)
			}
		})
	}
}

func TestDecodeNode(t *testing.T) {
	value := []byte(`{"id":"node-1","host":"localhost","port":9000,"capacity":50,"current_load":20,"health":"healthy","assigned_tenants":{"tenant-1":20}}`)

	node, err := decodeNode(value, 42)
	if err != nil {
		t.Fatalf("decodeNode() failed: %v", err)
	}
	if node.ID != "node-1" || node.Capacity != 50 || node.CurrentLoad != 20 {
		t.Errorf("decodeNode() = %+v, wrong fields", node)
	}
	if node.Version != 42 {
		t.Errorf("Version = %d, want ModRevision 42", node.Version)
	}
	if node.AssignedTenants["tenant-1"] != 20 {
		t.Errorf("AssignedTenants = %v, want tenant-1:20", node.AssignedTenants)
	}
}

func TestDecodeNodeNilTenantMap(t *testing.T) {
	value := []byte(`{"id":"node-1","host":"localhost","port":9000,"capacity":50,"health":"healthy"}`)

	node, err := decodeNode(value, 1)
	if err != nil {
		t.Fatalf("decodeNode() failed: %v", err)
	}
	if node.AssignedTenants == nil {
		t.Errorf("AssignedTenants is nil, want empty map")
	}
}

func TestDecodeNodeInvalid(t *testing.T) {
	if _, err := decodeNode([]byte("not json"), 1); err == nil {
		t.Errorf("decodeNode() succeeded on garbage, want error")
	}
}

func TestServiceNodeVersionNotSerialized(t *testing.T) {
	node := &ServiceNode{ID: "node-1", Version: 99}
	data, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if _, ok := raw["Version"]; ok {
		t.Errorf("Version leaked into the persisted value")
	}
	if _, ok := raw["version"]; ok {
		t.Errorf("version leaked into the persisted value")
	}
}
