package nodestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/printmesh/placement/util/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// DefaultPrefix is the root path for all etcd keys when none is configured
	DefaultPrefix = "/placement"

	dialTimeout = 5 * time.Second
)

// EtcdStore is a Store backed by etcd. Nodes live under <prefix>/nodes/<id>
// as JSON values and assignments under <prefix>/assignments/<tenantID> as the
// plain node ID. Node writes are transactions compared on the key's
// ModRevision, which gives per-node compare-and-swap semantics across
// concurrent writers.
type EtcdStore struct {
	client    *clientv3.Client
	endpoints []string
	prefix    string
	logger    *logger.Logger
}

// NewEtcdStore creates a new etcd-backed store. The optional prefix sets the
// root path for all keys; DefaultPrefix is used when it is empty, so multiple
// environments can share one etcd instance.
func NewEtcdStore(endpoints []string, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EtcdStore{
		endpoints: endpoints,
		prefix:    prefix,
		logger:    logger.NewLogger("EtcdStore"),
	}
}

// Connect establishes the connection to etcd
func (s *EtcdStore) Connect(ctx context.Context) error {
	s.logger.Infof("Connecting to etcd at %v", s.endpoints)

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   s.endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}
	s.client = cli

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := cli.Get(checkCtx, s.prefix); err != nil {
		s.logger.Warnf("etcd connection test failed: %v", err)
	}

	return nil
}

// Close closes the etcd connection
func (s *EtcdStore) Close() error {
	if s.client != nil {
		s.logger.Infof("Closing etcd connection")
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

func (s *EtcdStore) nodeKey(nodeID string) string {
	return s.prefix + "/nodes/" + nodeID
}

func (s *EtcdStore) nodesPrefix() string {
	return s.prefix + "/nodes/"
}

func (s *EtcdStore) assignmentKey(tenantID string) string {
	return s.prefix + "/assignments/" + tenantID
}

func (s *EtcdStore) ready() error {
	if s.client == nil {
		return fmt.Errorf("etcd client not connected")
	}
	return nil
}

func decodeNode(value []byte, modRevision int64) (*ServiceNode, error) {
	var node ServiceNode
	if err := json.Unmarshal(value, &node); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node: %w", err)
	}
	if node.AssignedTenants == nil {
		node.AssignedTenants = make(map[string]int64)
	}
	node.Version = modRevision
	return &node, nil
}

// Register upserts a node record. A create races through a transaction on
// CreateRevision so two concurrent registrations of the same ID cannot both
// win.
func (s *EtcdStore) Register(ctx context.Context, node *ServiceNode) error {
	if err := s.ready(); err != nil {
		return err
	}

	key := s.nodeKey(node.ID)
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get node %s: %w", node.ID, err)
	}

	if len(resp.Kvs) > 0 {
		existing, err := decodeNode(resp.Kvs[0].Value, resp.Kvs[0].ModRevision)
		if err != nil {
			return err
		}
		if existing.Host != node.Host || existing.Port != node.Port {
			return fmt.Errorf("node %s is %s:%d, refusing %s:%d: %w",
				node.ID, existing.Host, existing.Port, node.Host, node.Port, ErrNodeConflict)
		}
		node.Version = existing.Version
		s.logger.Debugf("Node %s already registered", node.ID)
		return nil
	}

	if node.AssignedTenants == nil {
		node.AssignedTenants = make(map[string]int64)
	}
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node %s: %w", node.ID, err)
	}

	txn, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to register node %s: %w", node.ID, err)
	}
	if !txn.Succeeded {
		// Lost the create race; re-check against the winner.
		return s.Register(ctx, node)
	}

	node.Version = txn.Header.Revision
	s.logger.Infof("Registered node %s (%s:%d, capacity %d)", node.ID, node.Host, node.Port, node.Capacity)
	return nil
}

// Get returns the node record or ErrNodeNotFound
func (s *EtcdStore) Get(ctx context.Context, nodeID string) (*ServiceNode, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	resp, err := s.client.Get(ctx, s.nodeKey(nodeID))
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", nodeID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNodeNotFound)
	}
	return decodeNode(resp.Kvs[0].Value, resp.Kvs[0].ModRevision)
}

// List returns all nodes, optionally filtered by health
func (s *EtcdStore) List(ctx context.Context, health ...NodeHealth) ([]*ServiceNode, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	resp, err := s.client.Get(ctx, s.nodesPrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make([]*ServiceNode, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		node, err := decodeNode(kv.Value, kv.ModRevision)
		if err != nil {
			s.logger.Errorf("Skipping undecodable node record %s: %v", string(kv.Key), err)
			continue
		}
		if len(health) > 0 && !healthMatches(node.Health, health) {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func healthMatches(h NodeHealth, filter []NodeHealth) bool {
	for _, f := range filter {
		if h == f {
			return true
		}
	}
	return false
}

// Save persists a mutated node via compare-and-swap on its ModRevision
func (s *EtcdStore) Save(ctx context.Context, node *ServiceNode) error {
	if err := s.ready(); err != nil {
		return err
	}

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node %s: %w", node.ID, err)
	}

	key := s.nodeKey(node.ID)
	txn, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", node.Version)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to save node %s: %w", node.ID, err)
	}
	if !txn.Succeeded {
		return fmt.Errorf("node %s was modified concurrently: %w", node.ID, ErrVersionConflict)
	}

	node.Version = txn.Header.Revision
	s.logger.Debugf("Saved node %s (load %d/%d, version %d)", node.ID, node.CurrentLoad, node.Capacity, node.Version)
	return nil
}

// Delete removes an empty node record
func (s *EtcdStore) Delete(ctx context.Context, nodeID string) error {
	if err := s.ready(); err != nil {
		return err
	}

	node, err := s.Get(ctx, nodeID)
	if err != nil {
		return err
	}
	if len(node.AssignedTenants) > 0 {
		return fmt.Errorf("node %s has %d tenants: %w", nodeID, len(node.AssignedTenants), ErrNodeNotEmpty)
	}

	key := s.nodeKey(nodeID)
	txn, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", node.Version)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", nodeID, err)
	}
	if !txn.Succeeded {
		return fmt.Errorf("node %s was modified concurrently: %w", nodeID, ErrVersionConflict)
	}

	s.logger.Infof("Deleted node %s", nodeID)
	return nil
}

// GetAssignment returns the node ID a tenant is assigned to
func (s *EtcdStore) GetAssignment(ctx context.Context, tenantID string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	resp, err := s.client.Get(ctx, s.assignmentKey(tenantID))
	if err != nil {
		return "", fmt.Errorf("failed to get assignment for tenant %s: %w", tenantID, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("tenant %s: %w", tenantID, ErrAssignmentNotFound)
	}
	return strings.TrimSpace(string(resp.Kvs[0].Value)), nil
}

// SetAssignment records the tenant to node assignment
func (s *EtcdStore) SetAssignment(ctx context.Context, tenantID, nodeID string) error {
	if err := s.ready(); err != nil {
		return err
	}

	if _, err := s.client.Put(ctx, s.assignmentKey(tenantID), nodeID); err != nil {
		return fmt.Errorf("failed to set assignment %s -> %s: %w", tenantID, nodeID, err)
	}
	s.logger.Debugf("Assignment %s -> %s", tenantID, nodeID)
	return nil
}

// DeleteAssignment removes a tenant's assignment
func (s *EtcdStore) DeleteAssignment(ctx context.Context, tenantID string) error {
	if err := s.ready(); err != nil {
		return err
	}

	if _, err := s.client.Delete(ctx, s.assignmentKey(tenantID)); err != nil {
		return fmt.Errorf("failed to delete assignment for tenant %s: %w", tenantID, err)
	}
	return nil
}
