package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/errly-io/errly/internal/apikey"
)

// KeyRegistry looks up API keys by their SHA-256 hash and records
// last-used timestamps. Implements the C4 contract.
type KeyRegistry interface {
	GetByHash(ctx context.Context, hash string) (*apikey.Key, error)
	// TouchLastUsed is best-effort: callers must not fail a request on its
	// error, only log it.
	TouchLastUsed(ctx context.Context, id string) error
}

// PostgresKeyRegistry is the production KeyRegistry backed by the api_keys table.
type PostgresKeyRegistry struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPostgresKeyRegistry constructs a PostgresKeyRegistry.
func NewPostgresKeyRegistry(conn *Connection, logger *slog.Logger) *PostgresKeyRegistry {
	return &PostgresKeyRegistry{conn: conn, logger: logger}
}

var _ KeyRegistry = (*PostgresKeyRegistry)(nil)

// GetByHash performs the single-row lookup by hash. A miss
// returns (nil, nil); only unexpected backend errors are returned as err.
func (r *PostgresKeyRegistry) GetByHash(ctx context.Context, hash string) (*apikey.Key, error) {
	const query = `
		SELECT id, key_hash, key_prefix, project_id, scopes, expires_at, last_used_at
		FROM api_keys
		WHERE key_hash = $1
		LIMIT 1
	`

	var (
		key       apikey.Key
		scopes    []string
		expiresAt sql.NullTime
		lastUsed  sql.NullTime
	)

	err := r.conn.QueryRowContext(ctx, query, hash).Scan(
		&key.ID,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.ProjectID,
		pq.Array(&scopes),
		&expiresAt,
		&lastUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	key.Scopes = make([]apikey.Scope, len(scopes))
	for i, s := range scopes {
		key.Scopes[i] = apikey.Scope(s)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		key.ExpiresAt = &t
	}

	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsedAt = &t
	}

	return &key, nil
}

// TouchLastUsed updates last_used_at to now. Errors are the caller's
// responsibility to log, never to propagate as a request failure.
func (r *PostgresKeyRegistry) TouchLastUsed(ctx context.Context, id string) error {
	const query = `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`

	if _, err := r.conn.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("touching last_used_at: %w", err)
	}

	return nil
}
