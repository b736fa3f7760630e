package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errly-io/errly/internal/errly"
	"github.com/errly-io/errly/internal/store"
)

// fakeEventStore and fakeIssueStore are in-memory stand-ins for the narrow
// EventStore/IssueStore interfaces Service depends on, keeping these tests
// free of any real backend.
type fakeEventStore struct {
	mu        sync.Mutex
	inserted  []*errly.ErrorEvent
	insertErr error
}

func (f *fakeEventStore) InsertBatch(_ context.Context, events []*errly.ErrorEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, events...)

	return nil
}

type fakeIssueStore struct {
	mu           sync.Mutex
	byKey        map[string]*errly.Issue
	insertedOnce map[string]bool
}

func newFakeIssueStore() *fakeIssueStore {
	return &fakeIssueStore{byKey: map[string]*errly.Issue{}, insertedOnce: map[string]bool{}}
}

func key(projectID, fingerprint string) string { return projectID + "|" + fingerprint }

func (f *fakeIssueStore) Lookup(_ context.Context, projectID, fingerprint string) (*errly.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	issue, ok := f.byKey[key(projectID, fingerprint)]
	if !ok {
		return nil, nil
	}

	cp := *issue

	return &cp, nil
}

func (f *fakeIssueStore) Insert(_ context.Context, issue *errly.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(issue.ProjectID, issue.Fingerprint)
	if f.insertedOnce[k] {
		return store.ErrIssueConflict
	}

	f.insertedOnce[k] = true
	cp := *issue
	f.byKey[k] = &cp

	return nil
}

func (f *fakeIssueStore) Update(_ context.Context, issue *errly.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *issue
	f.byKey[key(issue.ProjectID, issue.Fingerprint)] = &cp

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRequest() EventRequest {
	return EventRequest{Message: "boom", Environment: "prod", Level: "error"}
}

func TestServiceProcessCreatesIssueOnFirstBatch(t *testing.T) {
	events := &fakeEventStore{}
	issues := newFakeIssueStore()
	svc := NewService(events, issues, testLogger())

	n, err := svc.Process(context.Background(), "proj-1", []EventRequest{sampleRequest(), sampleRequest()})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, events.inserted, 2)

	issue, err := issues.Lookup(context.Background(), "proj-1", events.inserted[0].Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, int64(2), issue.EventCount)
	assert.Equal(t, errly.IssueStatusUnresolved, issue.Status)
}

func TestServiceProcessMergesAcrossBatches(t *testing.T) {
	events := &fakeEventStore{}
	issues := newFakeIssueStore()
	svc := NewService(events, issues, testLogger())

	_, err := svc.Process(context.Background(), "proj-1", []EventRequest{sampleRequest()})
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), "proj-1", []EventRequest{sampleRequest(), sampleRequest()})
	require.NoError(t, err)

	issue, err := issues.Lookup(context.Background(), "proj-1", events.inserted[0].Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, int64(3), issue.EventCount, "counter monotonicity across batches")
}

func TestServiceProcessGroupsByFingerprintWithinBatch(t *testing.T) {
	events := &fakeEventStore{}
	issues := newFakeIssueStore()
	svc := NewService(events, issues, testLogger())

	distinct := sampleRequest()
	distinct.Message = "different failure"

	_, err := svc.Process(context.Background(), "proj-1", []EventRequest{sampleRequest(), distinct})
	require.NoError(t, err)

	assert.NotEqual(t, events.inserted[0].Fingerprint, events.inserted[1].Fingerprint)
}

func TestServiceProcessAbortsIssueWorkOnInsertFailure(t *testing.T) {
	events := &fakeEventStore{insertErr: errors.New("connection refused")}
	issues := newFakeIssueStore()
	svc := NewService(events, issues, testLogger())

	_, err := svc.Process(context.Background(), "proj-1", []EventRequest{sampleRequest()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngestFailed)
	assert.Empty(t, issues.byKey, "no issue work should happen when event insert fails")
}
