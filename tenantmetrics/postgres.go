package tenantmetrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/printmesh/placement/util/logger"
)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"` // Use "require" in production
}

// Validate checks that the required connection fields are set
func (c *PostgresConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("postgres host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("postgres port must be positive")
	}
	if c.User == "" {
		return fmt.Errorf("postgres user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("postgres database is required")
	}
	return nil
}

// ConnectionString builds the lib/pq connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresStore reads tenant metrics from the tenant_metrics table
type PostgresStore struct {
	conn   *sql.DB
	logger *logger.Logger
}

// NewPostgresStore opens a connection to the metrics database
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	conn, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		conn:   conn,
		logger: logger.NewLogger("TenantMetrics"),
	}, nil
}

// Ping checks if the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// InitSchema creates the tenant_metrics table if it does not exist. The ingest
// pipeline owns the data; this exists so a fresh environment comes up clean.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenant_metrics (
		tenant_id VARCHAR(255) PRIMARY KEY,
		api_calls_per_hour BIGINT NOT NULL DEFAULT 0,
		active_jobs INTEGER NOT NULL DEFAULT 0,
		data_size_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tenant_metrics_updated_at ON tenant_metrics(updated_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize tenant_metrics schema: %w", err)
	}

	s.logger.Infof("Tenant metrics schema initialized")
	return nil
}

// Get returns the metrics for a tenant
func (s *PostgresStore) Get(ctx context.Context, tenantID string) (Metrics, error) {
	var m Metrics
	row := s.conn.QueryRowContext(ctx,
		`SELECT api_calls_per_hour, active_jobs, data_size_mb FROM tenant_metrics WHERE tenant_id = $1`,
		tenantID)

	err := row.Scan(&m.APICallsPerHour, &m.ActiveJobs, &m.DataSizeMB)
	if errors.Is(err, sql.ErrNoRows) {
		return Metrics{}, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to query metrics for tenant %s: %w: %v", tenantID, ErrMetricsUnavailable, err)
	}
	return m, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
