package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/errly-io/errly/internal/errly"
	"github.com/errly-io/errly/internal/fingerprint"
	"github.com/errly-io/errly/internal/store"
)

// ErrIngestFailed wraps any store failure during process, surfaced to the
// handler as the INGEST_FAILED symbolic code.
var ErrIngestFailed = errors.New("ingest failed")

const (
	eventStoreTimeout = 30 * time.Second
	issueStoreTimeout = 30 * time.Second
)

// Service is the C7 orchestrator: normalize, fingerprint, persist events,
// then upsert the per-fingerprint issue aggregate.
type Service struct {
	events EventStore
	issues IssueStore
	logger *slog.Logger
}

// EventStore is the subset of store.EventStore the orchestrator needs.
type EventStore interface {
	InsertBatch(ctx context.Context, events []*errly.ErrorEvent) error
}

// IssueStore is the subset of store.IssueStore the orchestrator needs.
type IssueStore interface {
	Lookup(ctx context.Context, projectID, fingerprint string) (*errly.Issue, error)
	Insert(ctx context.Context, issue *errly.Issue) error
	Update(ctx context.Context, issue *errly.Issue) error
}

// NewService constructs a Service.
func NewService(events EventStore, issues IssueStore, logger *slog.Logger) *Service {
	return &Service{events: events, issues: issues, logger: logger}
}

// group is a per-fingerprint slice of normalized events from one batch,
// preserving first-seen order so first_event semantics are well-defined.
type group struct {
	fingerprint string
	events      []*errly.ErrorEvent
}

// Process runs the normalize, fingerprint, store, and upsert pipeline against one inbound batch.
// Returns the number of events accepted for insertion (len(requests)) on
// success. A failure at any step aborts the whole batch; no partial
// success is reported even if some events already reached the store.
func (s *Service) Process(ctx context.Context, projectID string, requests []EventRequest) (int, error) {
	now := time.Now().UTC()

	events := normalize(projectID, requests, now)
	groups := groupByFingerprint(events)

	insertCtx, cancel := context.WithTimeout(ctx, eventStoreTimeout)
	defer cancel()

	if err := s.events.InsertBatch(insertCtx, events); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIngestFailed, err)
	}

	for _, g := range groups {
		if err := s.upsertIssue(ctx, projectID, g, now); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrIngestFailed, err)
		}
	}

	return len(events), nil
}

// normalize assigns server-side identity and timestamp fields and fills
// missing tag/extra mappings.
func normalize(projectID string, requests []EventRequest, now time.Time) []*errly.ErrorEvent {
	events := make([]*errly.ErrorEvent, 0, len(requests))

	for _, r := range requests {
		timestamp := now
		if r.Timestamp.Set {
			timestamp = r.Timestamp.Value
		}

		level := errly.Level(r.Level)
		if level == "" {
			level = errly.LevelError
		}

		tags := r.Tags
		if tags == nil {
			tags = map[string]string{}
		}

		extra := r.Extra
		if extra == nil {
			extra = map[string]interface{}{}
		}

		event := &errly.ErrorEvent{
			ID:             uuid.NewString(),
			ProjectID:      projectID,
			Timestamp:      timestamp,
			Message:        r.Message,
			StackTrace:     r.StackTrace,
			Environment:    r.Environment,
			ReleaseVersion: r.ReleaseVersion,
			UserID:         r.UserID,
			UserEmail:      r.UserEmail,
			UserIP:         r.UserIP,
			Browser:        r.Browser,
			OS:             r.OS,
			URL:            r.URL,
			Tags:           tags,
			Extra:          extra,
			Level:          level,
			CreatedAt:      now,
		}
		event.Fingerprint = fingerprint.Compute(event)

		events = append(events, event)
	}

	return events
}

// groupByFingerprint buckets normalized events, preserving the order in
// which each fingerprint was first observed in the batch.
func groupByFingerprint(events []*errly.ErrorEvent) []group {
	index := make(map[string]int, len(events))
	groups := make([]group, 0, len(events))

	for _, e := range events {
		if i, ok := index[e.Fingerprint]; ok {
			groups[i].events = append(groups[i].events, e)
			continue
		}

		index[e.Fingerprint] = len(groups)
		groups = append(groups, group{fingerprint: e.Fingerprint, events: []*errly.ErrorEvent{e}})
	}

	return groups
}

// upsertIssue handles a single fingerprint group: create a
// new aggregate, or merge into the existing one. A conflicting concurrent
// Insert (another request created the issue first) is resolved by
// re-reading and retrying as a merge, since the aggregate is commutative.
func (s *Service) upsertIssue(ctx context.Context, projectID string, g group, now time.Time) error {
	storeCtx, cancel := context.WithTimeout(ctx, issueStoreTimeout)
	defer cancel()

	existing, err := s.issues.Lookup(storeCtx, projectID, g.fingerprint)
	if err != nil {
		return fmt.Errorf("looking up issue: %w", err)
	}

	if existing == nil {
		issue := newIssue(projectID, g, now)

		if err := s.issues.Insert(storeCtx, issue); err != nil {
			if !errors.Is(err, store.ErrIssueConflict) {
				return fmt.Errorf("inserting issue: %w", err)
			}

			existing, err = s.issues.Lookup(storeCtx, projectID, g.fingerprint)
			if err != nil {
				return fmt.Errorf("re-looking up issue after conflict: %w", err)
			}

			if existing == nil {
				return fmt.Errorf("issue conflict reported but lookup found nothing")
			}
		} else {
			return nil
		}
	}

	merged := mergeIssue(existing, g, now)

	if err := s.issues.Update(storeCtx, merged); err != nil {
		return fmt.Errorf("updating issue: %w", err)
	}

	return nil
}

func newIssue(projectID string, g group, now time.Time) *errly.Issue {
	first := g.events[0]

	firstSeen, lastSeen := first.Timestamp, first.Timestamp
	environments := map[string]struct{}{}
	users := map[string]struct{}{}

	for _, e := range g.events {
		if e.Timestamp.Before(firstSeen) {
			firstSeen = e.Timestamp
		}

		if e.Timestamp.After(lastSeen) {
			lastSeen = e.Timestamp
		}

		environments[e.Environment] = struct{}{}

		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
	}

	return &errly.Issue{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Fingerprint:  g.fingerprint,
		Message:      first.Message,
		Level:        first.Level,
		Status:       errly.IssueStatusUnresolved,
		FirstSeen:    firstSeen,
		LastSeen:     lastSeen,
		EventCount:   int64(len(g.events)),
		UserCount:    int64(len(users)),
		Environments: setToSlice(environments),
		Tags:         first.Tags,
		UpdatedAt:    now,
	}
}

func mergeIssue(existing *errly.Issue, g group, now time.Time) *errly.Issue {
	firstSeen, lastSeen := existing.FirstSeen, existing.LastSeen
	environments := make(map[string]struct{}, len(existing.Environments))

	for _, env := range existing.Environments {
		environments[env] = struct{}{}
	}

	distinctUsers := 0
	users := map[string]struct{}{}

	for _, e := range g.events {
		if e.Timestamp.Before(firstSeen) {
			firstSeen = e.Timestamp
		}

		if e.Timestamp.After(lastSeen) {
			lastSeen = e.Timestamp
		}

		environments[e.Environment] = struct{}{}

		if e.UserID != "" {
			if _, seen := users[e.UserID]; !seen {
				users[e.UserID] = struct{}{}
				distinctUsers++
			}
		}
	}

	merged := *existing
	merged.FirstSeen = firstSeen
	merged.LastSeen = lastSeen
	merged.EventCount = existing.EventCount + int64(len(g.events))
	merged.UserCount = existing.UserCount + int64(distinctUsers)
	merged.Environments = setToSlice(environments)
	merged.UpdatedAt = now

	return &merged
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	return out
}
