// Package store implements the Postgres-backed persistence layer: the API
// key registry, the append-only event store, and the aggregate issue store.
//
// There is no ClickHouse or other columnar engine in this deployment; event
// and issue storage are both modeled as Postgres tables. Inserts use
// INSERT ... ON CONFLICT DO NOTHING, and issue merges are written back as
// full-row UPDATEs computed by the caller.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

const (
	postgresDriver = "postgres"
	pingTimeout    = 5 * time.Second

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

// ErrDatabaseURLEmpty is returned when Config.DatabaseURL is blank.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds Postgres connection configuration.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Validate checks that the configuration has a usable database URL.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// withDefaults fills zero-value pool settings with production defaults.
func (c *Config) withDefaults() *Config {
	out := *c

	if out.MaxOpenConns == 0 {
		out.MaxOpenConns = defaultMaxOpenConns
	}

	if out.MaxIdleConns == 0 {
		out.MaxIdleConns = defaultMaxIdleConns
	}

	if out.ConnMaxLifetime == 0 {
		out.ConnMaxLifetime = defaultConnMaxLifetime
	}

	if out.ConnMaxIdleTime == 0 {
		out.ConnMaxIdleTime = defaultConnMaxIdleTime
	}

	return &out
}

// Connection wraps a pooled *sql.DB to the Postgres-compatible backend
// shared by KeyRegistry, EventStore, and IssueStore.
type Connection struct {
	*sql.DB
}

// NewConnection opens a pooled connection and verifies it with an immediate
// health check.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()

	db, err := sql.Open(postgresDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	return &Connection{db}, nil
}

// HealthCheck pings the backend with a bounded timeout, used by the
// readiness route (C9) and background monitoring.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
	}

	return c.PingContext(ctx)
}
