// Package ingest implements the IngestService orchestrator (C7) and the
// wire-level request shapes IngestHandler (C8) decodes into.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for request validation. The HTTP layer maps these to the
// BAD_REQUEST symbolic code.
var (
	ErrEmptyBatch        = errors.New("events must contain at least one item")
	ErrBatchTooLarge     = errors.New("events must contain at most 100 items")
	ErrMissingMessage    = errors.New("message is required")
	ErrMissingEnvironment = errors.New("environment is required")
	ErrInvalidLevel      = errors.New("level must be one of error, warning, info, debug")
	ErrInvalidTimestamp  = errors.New("timestamp could not be parsed")
)

const (
	minBatchSize = 1
	maxBatchSize = 100
)

// timestampLayouts are tried in order: RFC3339 with fractional seconds,
// plain RFC3339, and the same two shapes without a timezone (treated as
// UTC, matching the payloads client SDKs without tz-aware clocks send).
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// FlexTime decodes a timestamp string in any of the accepted layouts. An
// omitted, null or empty timestamp leaves Set false; a present but
// unparseable one is a decode error wrapping ErrInvalidTimestamp.
type FlexTime struct {
	Value time.Time
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *FlexTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}

	if raw == "" {
		return nil
	}

	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Value = parsed.UTC()
			t.Set = true

			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}

// EventRequest is the wire shape of one element of the ingest batch.
type EventRequest struct {
	Message        string                 `json:"message"`
	Environment    string                 `json:"environment"`
	Level          string                 `json:"level"`
	Timestamp      FlexTime               `json:"timestamp"`
	StackTrace     string                 `json:"stack_trace"`
	ReleaseVersion string                 `json:"release_version"`
	UserID         string                 `json:"user_id"`
	UserEmail      string                 `json:"user_email"`
	UserIP         string                 `json:"user_ip"`
	Browser        string                 `json:"browser"`
	OS             string                 `json:"os"`
	URL            string                 `json:"url"`
	Tags           map[string]string      `json:"tags"`
	Extra          map[string]interface{} `json:"extra"`
}

// BatchRequest is the decoded POST /api/v1/ingest body.
type BatchRequest struct {
	Events []EventRequest `json:"events"`
}

// Validate enforces the batch-size and per-event field constraints.
// Timestamp parsing failures already surface as UnmarshalJSON errors during
// decode, before Validate is ever reached.
func (b *BatchRequest) Validate() error {
	if len(b.Events) < minBatchSize {
		return ErrEmptyBatch
	}

	if len(b.Events) > maxBatchSize {
		return ErrBatchTooLarge
	}

	for i := range b.Events {
		e := &b.Events[i]

		if e.Message == "" {
			return fmt.Errorf("event %d: %w", i, ErrMissingMessage)
		}

		if e.Environment == "" {
			return fmt.Errorf("event %d: %w", i, ErrMissingEnvironment)
		}

		if e.Level != "" && !isValidLevel(e.Level) {
			return fmt.Errorf("event %d: %w", i, ErrInvalidLevel)
		}
	}

	return nil
}

func isValidLevel(s string) bool {
	switch s {
	case "error", "warning", "info", "debug":
		return true
	default:
		return false
	}
}
