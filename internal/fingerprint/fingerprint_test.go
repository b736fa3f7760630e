package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/errly-io/errly/internal/errly"
)

func baseEvent() *errly.ErrorEvent {
	return &errly.ErrorEvent{
		ProjectID:   "proj-1",
		Message:     "nil pointer dereference",
		Environment: "prod",
		Level:       errly.LevelError,
		StackTrace:  "at handler (app.js:42)\nat main (app.js:10)",
	}
}

func TestComputeStability(t *testing.T) {
	a := baseEvent()
	b := baseEvent()

	assert.Equal(t, Compute(a), Compute(b))
}

func TestComputeIgnoresIncidentalFields(t *testing.T) {
	a := baseEvent()
	b := baseEvent()

	b.UserID = "user-123"
	b.UserIP = "10.0.0.1"
	b.URL = "https://example.com/checkout"
	b.Extra = map[string]interface{}{"anything": true}
	b.Timestamp = a.Timestamp.AddDate(0, 0, 1)

	assert.Equal(t, Compute(a), Compute(b), "incidental fields must not change the fingerprint")
}

func TestComputeDiffersOnParticipatingFields(t *testing.T) {
	base := Compute(baseEvent())

	withDiffMessage := baseEvent()
	withDiffMessage.Message = "different error"
	assert.NotEqual(t, base, Compute(withDiffMessage))

	withDiffEnv := baseEvent()
	withDiffEnv.Environment = "staging"
	assert.NotEqual(t, base, Compute(withDiffEnv))

	withDiffLevel := baseEvent()
	withDiffLevel.Level = errly.LevelWarning
	assert.NotEqual(t, base, Compute(withDiffLevel))

	withDiffStack := baseEvent()
	withDiffStack.StackTrace = "at other (app.js:99)"
	assert.NotEqual(t, base, Compute(withDiffStack))
}

func TestComputeFieldBoundaryDoesNotCollide(t *testing.T) {
	a := baseEvent()
	a.Message = "ab"
	a.Environment = "c"

	b := baseEvent()
	b.Message = "a"
	b.Environment = "bc"

	assert.NotEqual(t, Compute(a), Compute(b))
}

func TestNormalizeStackTraceStripsAddresses(t *testing.T) {
	raw := "at handler (app.js:42) 0xdeadbeef"
	got := NormalizeStackTrace(raw)

	assert.Equal(t, "handler@app.js:42", got)
}

func TestNormalizeStackTraceEmpty(t *testing.T) {
	assert.Equal(t, "", NormalizeStackTrace(""))
}
