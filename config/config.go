package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/printmesh/placement/tenantmetrics"
)

// EtcdConfig holds etcd-specific configuration
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

// NatsConfig holds the migration notification channel configuration.
// An empty URL disables event publishing.
type NatsConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ControllerConfig holds control loop and autoscaler tunables
type ControllerConfig struct {
	RebalanceIntervalSeconds int     `yaml:"rebalance_interval_seconds"`
	ScaleCooldownSeconds     int     `yaml:"scale_cooldown_seconds"`
	ScaleUpThreshold         float64 `yaml:"scale_up_threshold"`
	ScaleDownThreshold       float64 `yaml:"scale_down_threshold"`
	DefaultNodeCapacity      int64   `yaml:"default_node_capacity"`
	MetricsAddr              string  `yaml:"metrics_addr"` // Prometheus HTTP listen address, e.g. ":9090"
}

// Config is the root configuration structure
type Config struct {
	Etcd       EtcdConfig                    `yaml:"etcd"`
	Postgres   *tenantmetrics.PostgresConfig `yaml:"postgres"` // optional; nil disables the metrics store
	Nats       NatsConfig                    `yaml:"nats"`
	Controller ControllerConfig              `yaml:"controller"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Controller.RebalanceIntervalSeconds == 0 {
		c.Controller.RebalanceIntervalSeconds = 60
	}
	if c.Controller.ScaleCooldownSeconds == 0 {
		c.Controller.ScaleCooldownSeconds = 300
	}
	if c.Controller.ScaleUpThreshold == 0 {
		c.Controller.ScaleUpThreshold = 0.80
	}
	if c.Controller.ScaleDownThreshold == 0 {
		c.Controller.ScaleDownThreshold = 0.20
	}
	if c.Controller.DefaultNodeCapacity == 0 {
		c.Controller.DefaultNodeCapacity = 100
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("etcd endpoints are required")
	}
	if c.Controller.RebalanceIntervalSeconds <= 0 {
		return fmt.Errorf("rebalance interval must be positive")
	}
	if c.Controller.ScaleCooldownSeconds <= 0 {
		return fmt.Errorf("scale cooldown must be positive")
	}
	if c.Controller.ScaleUpThreshold <= 0 || c.Controller.ScaleUpThreshold > 1 {
		return fmt.Errorf("scale up threshold must be in (0, 1]")
	}
	if c.Controller.ScaleDownThreshold < 0 || c.Controller.ScaleDownThreshold >= 1 {
		return fmt.Errorf("scale down threshold must be in [0, 1)")
	}
	if c.Controller.ScaleDownThreshold >= c.Controller.ScaleUpThreshold {
		return fmt.Errorf("scale down threshold must be below scale up threshold")
	}
	if c.Controller.DefaultNodeCapacity <= 0 {
		return fmt.Errorf("default node capacity must be positive")
	}
	if c.Postgres != nil {
		if err := c.Postgres.Validate(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// RebalanceInterval returns the control loop tick interval
func (c *Config) RebalanceInterval() time.Duration {
	return time.Duration(c.Controller.RebalanceIntervalSeconds) * time.Second
}

// ScaleCooldown returns the per-direction scaling cooldown
func (c *Config) ScaleCooldown() time.Duration {
	return time.Duration(c.Controller.ScaleCooldownSeconds) * time.Second
}
