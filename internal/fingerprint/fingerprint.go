// Package fingerprint computes the deterministic content hash that groups
// related error occurrences into one issue.
//
// Fingerprint is a pure, total function: two events describing "the same
// defect" must collide; events differing only in incidental fields
// (timestamp, user identity, IP, extra) must not affect it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/errly-io/errly/internal/errly"
)

// fieldSeparator delimits canonical fields before hashing. It must never
// appear inside a raw field value's encoding, so each field is length
// prefixed rather than relying on the separator alone.
const fieldSeparator = "\x1f"

// Compute returns the stable fingerprint for an event.
//
// Formula: SHA256(project_id + message + environment + level + normalized_stack_trace),
// each field canonically ordered and length-prefixed to prevent field-boundary
// collisions (e.g. message="ab"+environment="c" vs message="a"+environment="bc").
//
// Fields that do NOT participate: timestamp, user_id, user_email, user_ip,
// browser, os, url, tags, extra, release_version.
func Compute(event *errly.ErrorEvent) string {
	normalizedStack := NormalizeStackTrace(event.StackTrace)

	input := canonicalize(
		event.ProjectID,
		event.Message,
		event.Environment,
		string(event.Level),
		normalizedStack,
	)

	sum := sha256.Sum256([]byte(input))

	return hex.EncodeToString(sum[:])
}

// canonicalize builds a field-ordered, length-prefixed byte representation
// so that differing field boundaries never produce colliding input strings.
func canonicalize(fields ...string) string {
	out := make([]byte, 0, 128)

	for _, f := range fields {
		out = append(out, []byte(lengthPrefix(len(f)))...)
		out = append(out, f...)
		out = append(out, fieldSeparator...)
	}

	return string(out)
}

// lengthPrefix renders an integer length as a decimal string followed by a
// colon, e.g. "12:".
func lengthPrefix(n int) string {
	if n == 0 {
		return "0:"
	}

	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}

	return string(digits) + ":"
}
