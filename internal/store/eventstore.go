package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/errly-io/errly/internal/errly"
)

// eventColumnCount is the number of placeholders each event binds in
// InsertBatch; it must match the column list written out in that query
// (QueryEvents and scanEvent spell the same columns out separately).
const eventColumnCount = 18

// EventFilter narrows QueryEvents to a project, optionally an issue
// (fingerprint) and a time window.
type EventFilter struct {
	ProjectID   string
	Fingerprint string
	From        time.Time
	To          time.Time
}

// Page is a simple offset/limit page request; Limit is clamped by the
// caller to the wire-level batch bound.
type Page struct {
	Limit  int
	Offset int
}

// TimeSeriesPoint is one bucket of a time_series query.
type TimeSeriesPoint struct {
	BucketStart time.Time
	Count       int64
}

// EventStore is the append-only batch writer and reader for raw events.
// Implements the C2 contract.
type EventStore interface {
	InsertBatch(ctx context.Context, events []*errly.ErrorEvent) error
	QueryEvents(ctx context.Context, filter EventFilter, page Page) ([]*errly.ErrorEvent, error)
	TimeSeries(ctx context.Context, projectID, fingerprint string, from, to time.Time, bucket time.Duration) ([]TimeSeriesPoint, error)
}

// PostgresEventStore is the production EventStore, emulating a columnar
// append-only table with ON CONFLICT (id) DO NOTHING for idempotent
// replays of uuid-keyed events.
type PostgresEventStore struct {
	conn *Connection
}

// NewPostgresEventStore constructs a PostgresEventStore.
func NewPostgresEventStore(conn *Connection) *PostgresEventStore {
	return &PostgresEventStore{conn: conn}
}

var _ EventStore = (*PostgresEventStore)(nil)

// InsertBatch prepares a single bulk statement covering the whole batch, so
// the insert path costs one round trip regardless of batch size. Duplicate
// event ids (replays) are silently dropped via ON CONFLICT.
func (s *PostgresEventStore) InsertBatch(ctx context.Context, events []*errly.ErrorEvent) error {
	if len(events) == 0 {
		return nil
	}

	var (
		placeholders = make([]string, 0, len(events))
		args         = make([]interface{}, 0, len(events)*eventColumnCount)
	)

	for i, e := range events {
		tagsJSON, err := json.Marshal(e.Tags)
		if err != nil {
			return fmt.Errorf("marshaling tags for event %s: %w", e.ID, err)
		}

		extraJSON, err := json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("marshaling extra for event %s: %w", e.ID, err)
		}

		base := i * eventColumnCount
		ph := make([]string, eventColumnCount)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")

		args = append(args,
			e.ID, e.ProjectID, e.Timestamp, e.Message, e.StackTrace, e.Environment,
			e.ReleaseVersion, e.UserID, e.UserEmail, e.UserIP, e.Browser, e.OS, e.URL,
			tagsJSON, extraJSON, e.Fingerprint, string(e.Level), e.CreatedAt,
		)
	}

	query := `
		INSERT INTO error_events (
			id, project_id, occurred_at, message, stack_trace, environment,
			release_version, user_id, user_email, user_ip, browser, os, url,
			tags, extra, fingerprint, level, created_at
		)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting event batch: %w", err)
	}

	return nil
}

// QueryEvents performs a paged scan by project, optionally narrowed to a
// single fingerprint and/or time window, ordered newest-first.
func (s *PostgresEventStore) QueryEvents(ctx context.Context, filter EventFilter, page Page) ([]*errly.ErrorEvent, error) {
	var (
		conditions = []string{"project_id = $1"}
		args       = []interface{}{filter.ProjectID}
	)

	if filter.Fingerprint != "" {
		args = append(args, filter.Fingerprint)
		conditions = append(conditions, fmt.Sprintf("fingerprint = $%d", len(args)))
	}

	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}

	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}

	args = append(args, limit, page.Offset)

	query := fmt.Sprintf(`
		SELECT id, project_id, occurred_at, message, stack_trace, environment,
			release_version, user_id, user_email, user_ip, browser, os, url,
			tags, extra, fingerprint, level, created_at
		FROM error_events
		WHERE %s
		ORDER BY occurred_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := make([]*errly.ErrorEvent, 0, limit)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// TimeSeries returns bucketed event counts for a single issue, used by the
// query side's per-issue chart.
func (s *PostgresEventStore) TimeSeries(
	ctx context.Context,
	projectID, fingerprint string,
	from, to time.Time,
	bucket time.Duration,
) ([]TimeSeriesPoint, error) {
	const query = `
		SELECT date_trunc('hour', occurred_at) AS bucket, count(*)
		FROM error_events
		WHERE project_id = $1 AND fingerprint = $2 AND occurred_at BETWEEN $3 AND $4
		GROUP BY bucket
		ORDER BY bucket ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, projectID, fingerprint, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying time series: %w", err)
	}
	defer rows.Close()

	var points []TimeSeriesPoint

	for rows.Next() {
		var p TimeSeriesPoint
		if err := rows.Scan(&p.BucketStart, &p.Count); err != nil {
			return nil, fmt.Errorf("scanning time series row: %w", err)
		}

		points = append(points, p)
	}

	return points, rows.Err()
}

// rowScanner is satisfied by both *sql.Rows and *sql.Row.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*errly.ErrorEvent, error) {
	var (
		e         errly.ErrorEvent
		level     string
		tagsJSON  []byte
		extraJSON []byte
	)

	if err := row.Scan(
		&e.ID, &e.ProjectID, &e.Timestamp, &e.Message, &e.StackTrace, &e.Environment,
		&e.ReleaseVersion, &e.UserID, &e.UserEmail, &e.UserIP, &e.Browser, &e.OS, &e.URL,
		&tagsJSON, &extraJSON, &e.Fingerprint, &level, &e.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	e.Level = errly.Level(level)

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &e.Tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
	}

	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &e.Extra); err != nil {
			return nil, fmt.Errorf("unmarshaling extra: %w", err)
		}
	}

	return &e, nil
}
