// Package apikey provides the ApiKey domain model, token format, and the
// SHA-256 based hashing scheme used by the key registry (C4) and the
// authentication gate (C6).
//
// The raw token has the textual shape errly_<4 lowercase alnum>_<64 hex>.
// The store holds only the SHA-256 hex digest of the whole token — there is
// no reversible or bcrypt-verified form, per the data model's explicit
// storage contract.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	tokenPrefix    = "errly_"
	randomPartLen  = 4 // lowercase alnum segment, e.g. "a1b2"
	keyPrefixChars = len(tokenPrefix) + randomPartLen // "errly_" + 4 chars, shown for display
)

// tokenPattern matches errly_<4 lowercase alnum>_<64 hex>, case-sensitive.
var tokenPattern = regexp.MustCompile(`^errly_[a-z0-9]{4}_[a-f0-9]{64}$`)

// Sentinel errors for token parsing and key validation.
var (
	ErrEmptyToken       = errors.New("token cannot be empty")
	ErrInvalidFormat    = errors.New("token does not match the expected errly_<prefix>_<hex> format")
	ErrKeyNotFound      = errors.New("API key not found")
	ErrKeyExpired       = errors.New("API key expired")
	ErrInsufficientScope = errors.New("API key lacks the required scope")
)

// Scope is a named capability attached to an API key.
type Scope string

const (
	ScopeIngest Scope = "ingest"
	ScopeRead   Scope = "read"
	ScopeAdmin  Scope = "admin"
)

// IsValid reports whether s is one of the enumerated scopes.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeIngest, ScopeRead, ScopeAdmin:
		return true
	default:
		return false
	}
}

// Key is the storage domain model for an API key. Key holds only the
// SHA-256 hex digest of the raw token; the plaintext token is never
// persisted or logged.
type Key struct {
	ID         string
	KeyHash    string // sha256 hex of the raw token
	KeyPrefix  string // first len("errly_")+4 chars of the raw token, for display
	ProjectID  string
	Scopes     []Scope
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
}

// HasScope reports whether the key carries the given scope.
func (k *Key) HasScope(scope Scope) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}

	return false
}

// IsExpired reports whether the key has passed its expiry time as of now.
func (k *Key) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// GenerateToken creates a new raw API token in the errly_<4 alnum>_<64 hex> shape.
func GenerateToken() (string, error) {
	randomPart, err := randomAlnum(randomPartLen)
	if err != nil {
		return "", fmt.Errorf("failed to generate token prefix: %w", err)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}

	return tokenPrefix + randomPart + "_" + hex.EncodeToString(secretBytes), nil
}

// randomAlnum returns n lowercase alphanumeric characters drawn from a
// cryptographically random source.
func randomAlnum(n int) (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	buf := make([]byte, n)
	raw := make([]byte, n)

	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	for i, b := range raw {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}

	return string(buf), nil
}

// ParseToken validates a candidate token string against the errly token
// format. Returns the token unchanged if valid.
func ParseToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}

	if !ValidToken(token) {
		return "", ErrInvalidFormat
	}

	return token, nil
}

// ValidToken reports whether s matches the errly_<4 lowercase alnum>_<64 hex> format.
func ValidToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// HashToken computes the SHA-256 hex digest of a raw token for storage/lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}

// Prefix returns the display-safe prefix of a raw token (e.g. "errly_a1b2").
func Prefix(token string) string {
	if len(token) < keyPrefixChars {
		return token
	}

	return token[:keyPrefixChars]
}

// SecureCompare performs constant-time comparison of two strings to prevent
// timing attacks during hash lookups.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
