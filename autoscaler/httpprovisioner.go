package autoscaler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/printmesh/placement/util/logger"
)

// HTTPProvisioner talks to an external provisioner service over JSON HTTP:
// POST <base>/launch returns {"host": ..., "port": ...} once the instance is
// healthy, POST <base>/terminate with {"node_id": ...} stops it.
type HTTPProvisioner struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewHTTPProvisioner creates a provisioner client for the given base URL.
// Launch calls carry no client-side timeout beyond the caller's context,
// since provisioning may take minutes.
func NewHTTPProvisioner(baseURL string) *HTTPProvisioner {
	return &HTTPProvisioner{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  logger.NewLogger("Provisioner"),
	}
}

type launchResponse struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type terminateRequest struct {
	NodeID string `json:"node_id"`
}

// Launch requests a new node and blocks until the provisioner reports it
// healthy
func (p *HTTPProvisioner) Launch(ctx context.Context) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/launch", nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build launch request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("launch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("launch returned status %d", resp.StatusCode)
	}

	var launched launchResponse
	if err := json.NewDecoder(resp.Body).Decode(&launched); err != nil {
		return "", 0, fmt.Errorf("failed to decode launch response: %w", err)
	}

	p.logger.Infof("Launched node %s:%d in %v", launched.Host, launched.Port, time.Since(start))
	return launched.Host, launched.Port, nil
}

// Terminate instructs the provisioner to stop a node's compute
func (p *HTTPProvisioner) Terminate(ctx context.Context, nodeID string) error {
	body, err := json.Marshal(terminateRequest{NodeID: nodeID})
	if err != nil {
		return fmt.Errorf("failed to marshal terminate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/terminate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build terminate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("terminate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("terminate returned status %d", resp.StatusCode)
	}

	p.logger.Infof("Terminated node %s", nodeID)
	return nil
}
