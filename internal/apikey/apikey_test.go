package apikey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenMatchesFormat(t *testing.T) {
	token, err := GenerateToken()
	require.NoError(t, err)
	assert.True(t, ValidToken(token), "generated token %q must match the token format", token)
}

func TestValidToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"valid token", "errly_a1b2_" + fixedHex(), true},
		{"uppercase random part rejected", "errly_A1B2_" + fixedHex(), false},
		{"short hex rejected", "errly_a1b2_abcd", false},
		{"missing prefix rejected", "a1b2_" + fixedHex(), false},
		{"empty string rejected", "", false},
		{"bearer-prefixed rejected (not stripped here)", "Bearer errly_a1b2_" + fixedHex(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidToken(tt.token))
		})
	}
}

func TestParseToken(t *testing.T) {
	_, err := ParseToken("")
	assert.ErrorIs(t, err, ErrEmptyToken)

	_, err = ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidFormat)

	valid := "errly_a1b2_" + fixedHex()
	parsed, err := ParseToken(valid)
	require.NoError(t, err)
	assert.Equal(t, valid, parsed)
}

func TestHashTokenStability(t *testing.T) {
	token := "errly_a1b2_" + fixedHex()
	assert.Equal(t, HashToken(token), HashToken(token))
	assert.Len(t, HashToken(token), 64)
}

func TestPrefix(t *testing.T) {
	token := "errly_a1b2_" + fixedHex()
	assert.Equal(t, "errly_a1b2", Prefix(token))
	assert.Equal(t, "short", Prefix("short"))
}

func TestKeyHasScope(t *testing.T) {
	key := &Key{Scopes: []Scope{ScopeIngest, ScopeRead}}
	assert.True(t, key.HasScope(ScopeIngest))
	assert.False(t, key.HasScope(ScopeAdmin))
}

func TestKeyIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.False(t, (&Key{}).IsExpired(now), "nil expiry never expires")
	assert.True(t, (&Key{ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&Key{ExpiresAt: &future}).IsExpired(now))
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("abc", "abc"))
	assert.False(t, SecureCompare("abc", "abd"))
	assert.False(t, SecureCompare("abc", "abcd"))
}

func fixedHex() string {
	h := ""
	for i := 0; i < 64; i++ {
		h += "a"
	}

	return h
}
