// Package events carries migration notifications to the external request
// router. Delivery is at-most-once: the node store is the source of truth for
// placement, events only let the router refresh its cache promptly.
package events

import (
	"context"
	"time"
)

// DefaultSubject is the well-known subject migration events are published on
const DefaultSubject = "placement.migrations"

// NodeRef identifies the destination node of a migration
type NodeRef struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MigrationEvent is emitted on every successful tenant migration
type MigrationEvent struct {
	TenantID  string    `json:"tenant_id"`
	NewNode   NodeRef   `json:"new_node"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes migration events for the request router to consume
type Publisher interface {
	Publish(ctx context.Context, event MigrationEvent) error
	Close() error
}

// NopPublisher discards events, for deployments without a notification channel
type NopPublisher struct{}

// Publish discards the event
func (NopPublisher) Publish(ctx context.Context, event MigrationEvent) error {
	return nil
}

// Close is a no-op
func (NopPublisher) Close() error {
	return nil
}
