package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/errly-io/errly/internal/errly"
)

// IssueStore upserts and merges aggregated issues keyed by
// (project_id, fingerprint). Implements the C3 contract: the hardest one,
// since merges must be monotonic and tolerant of the replacing engine
// serving a stale generation mid-merge.
type IssueStore interface {
	Lookup(ctx context.Context, projectID, fingerprint string) (*errly.Issue, error)
	Insert(ctx context.Context, issue *errly.Issue) error
	Update(ctx context.Context, issue *errly.Issue) error
	SetStatus(ctx context.Context, id string, status errly.IssueStatus) error
}

// PostgresIssueStore is the production IssueStore. It is modeled on a
// "replacing" engine keyed on (project_id, id) with updated_at as the
// tiebreaker: Update always writes a full row, and the unique constraint on
// (project_id, fingerprint) guarantees at most one issue per pair even if
// two concurrent inserts race (the loser observes a conflict and the caller
// retries as an Update after a fresh Lookup).
type PostgresIssueStore struct {
	conn *Connection
}

// NewPostgresIssueStore constructs a PostgresIssueStore.
func NewPostgresIssueStore(conn *Connection) *PostgresIssueStore {
	return &PostgresIssueStore{conn: conn}
}

var _ IssueStore = (*PostgresIssueStore)(nil)

// Lookup returns the current issue for (project_id, fingerprint), or nil if
// none exists yet.
func (s *PostgresIssueStore) Lookup(ctx context.Context, projectID, fingerprint string) (*errly.Issue, error) {
	const query = `
		SELECT id, project_id, fingerprint, message, level, status,
			first_seen, last_seen, event_count, user_count, environments, tags, updated_at
		FROM issues
		WHERE project_id = $1 AND fingerprint = $2
		LIMIT 1
	`

	issue, err := scanIssue(s.conn.QueryRowContext(ctx, query, projectID, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("looking up issue: %w", err)
	}

	return issue, nil
}

// Insert creates a new aggregate. A conflict on (project_id, fingerprint)
// means a concurrent batch won the race to create this issue; the caller
// must re-lookup and fall back to Update rather than treating this as a
// hard failure (see IngestService's per-fingerprint retry).
func (s *PostgresIssueStore) Insert(ctx context.Context, issue *errly.Issue) error {
	const query = `
		INSERT INTO issues (
			id, project_id, fingerprint, message, level, status,
			first_seen, last_seen, event_count, user_count, environments, tags, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (project_id, fingerprint) DO NOTHING
	`

	tagsJSON, err := json.Marshal(issue.Tags)
	if err != nil {
		return fmt.Errorf("marshaling issue tags: %w", err)
	}

	result, err := s.conn.ExecContext(ctx, query,
		issue.ID, issue.ProjectID, issue.Fingerprint, issue.Message, string(issue.Level), string(issue.Status),
		issue.FirstSeen, issue.LastSeen, issue.EventCount, issue.UserCount,
		pq.Array(issue.Environments), tagsJSON, issue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting issue: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading insert result: %w", err)
	}

	if rows == 0 {
		return ErrIssueConflict
	}

	return nil
}

// ErrIssueConflict is returned by Insert when a concurrent batch already
// created the issue for this (project_id, fingerprint); the caller should
// re-lookup and merge as an Update instead.
var ErrIssueConflict = errors.New("issue already exists for project and fingerprint")

// Update replaces the aggregate with a full row write. Callers are
// responsible for having computed a monotonic merge (event_count only
// grows, first_seen only shrinks, last_seen only grows, environments only
// grows) before calling Update; this method performs no merge itself.
func (s *PostgresIssueStore) Update(ctx context.Context, issue *errly.Issue) error {
	const query = `
		UPDATE issues SET
			message = $3, level = $4, status = $5,
			first_seen = $6, last_seen = $7, event_count = $8, user_count = $9,
			environments = $10, tags = $11, updated_at = $12
		WHERE project_id = $1 AND fingerprint = $2
	`

	tagsJSON, err := json.Marshal(issue.Tags)
	if err != nil {
		return fmt.Errorf("marshaling issue tags: %w", err)
	}

	if _, err := s.conn.ExecContext(ctx, query,
		issue.ProjectID, issue.Fingerprint, issue.Message, string(issue.Level), string(issue.Status),
		issue.FirstSeen, issue.LastSeen, issue.EventCount, issue.UserCount,
		pq.Array(issue.Environments), tagsJSON, issue.UpdatedAt,
	); err != nil {
		return fmt.Errorf("updating issue: %w", err)
	}

	return nil
}

// SetStatus is used by the admin query path only; the ingest core never
// calls it.
func (s *PostgresIssueStore) SetStatus(ctx context.Context, id string, status errly.IssueStatus) error {
	const query = `UPDATE issues SET status = $2 WHERE id = $1`

	if _, err := s.conn.ExecContext(ctx, query, id, string(status)); err != nil {
		return fmt.Errorf("setting issue status: %w", err)
	}

	return nil
}

func scanIssue(row rowScanner) (*errly.Issue, error) {
	var (
		issue       errly.Issue
		level       string
		status      string
		environments []string
		tagsJSON    []byte
	)

	if err := row.Scan(
		&issue.ID, &issue.ProjectID, &issue.Fingerprint, &issue.Message, &level, &status,
		&issue.FirstSeen, &issue.LastSeen, &issue.EventCount, &issue.UserCount,
		pq.Array(&environments), &tagsJSON, &issue.UpdatedAt,
	); err != nil {
		return nil, err
	}

	issue.Level = errly.Level(level)
	issue.Status = errly.IssueStatus(status)
	issue.Environments = environments

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &issue.Tags); err != nil {
			return nil, fmt.Errorf("unmarshaling issue tags: %w", err)
		}
	}

	return &issue, nil
}
