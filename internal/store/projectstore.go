package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/errly-io/errly/internal/errly"
)

// ProjectStore resolves a project by id. The core treats Project as
// read-only: rows are created and updated by an external admin surface.
type ProjectStore interface {
	GetByID(ctx context.Context, id string) (*errly.Project, error)
}

// PostgresProjectStore is the production ProjectStore backed by the
// projects table.
type PostgresProjectStore struct {
	conn *Connection
}

// NewPostgresProjectStore constructs a PostgresProjectStore.
func NewPostgresProjectStore(conn *Connection) *PostgresProjectStore {
	return &PostgresProjectStore{conn: conn}
}

var _ ProjectStore = (*PostgresProjectStore)(nil)

// GetByID returns the project for id, or (nil, nil) on a miss.
func (s *PostgresProjectStore) GetByID(ctx context.Context, id string) (*errly.Project, error) {
	const query = `SELECT id, slug, platform FROM projects WHERE id = $1 LIMIT 1`

	var project errly.Project

	err := s.conn.QueryRowContext(ctx, query, id).Scan(&project.ID, &project.Slug, &project.Platform)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("looking up project: %w", err)
	}

	return &project, nil
}
