package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/printmesh/placement/util/logger"
)

// NATSPublisher publishes migration events to a NATS subject as JSON
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *logger.Logger
}

// NewNATSPublisher connects to the NATS server and returns a publisher for
// the given subject. An empty subject uses DefaultSubject.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("placement-controller"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	log := logger.NewLogger("NATSPublisher")
	log.Infof("Connected to NATS at %s, publishing on %s", url, subject)

	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  log,
	}, nil
}

// Publish sends the event to the configured subject
func (p *NATSPublisher) Publish(ctx context.Context, event MigrationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal migration event: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish migration event for tenant %s: %w", event.TenantID, err)
	}

	p.logger.Debugf("Published migration event: tenant %s -> node %s", event.TenantID, event.NewNode.ID)
	return nil
}

// Close drains and closes the NATS connection
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
			return err
		}
	}
	return nil
}
