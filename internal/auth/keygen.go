// Package auth issues, parses and verifies API keys and carries the
// authenticated key through request contexts.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// API keys look like ck_live_7a9f3b_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b:
// scheme, environment, a 6-hex lookup prefix and a 32-hex secret.
const (
	KeyScheme = "ck"

	prefixBytes = 3
	secretBytes = 16
)

// Key environments.
const (
	EnvLive = "live"
	EnvTest = "test"
)

// ErrInvalidKeyFormat is returned for strings that are not API keys.
var ErrInvalidKeyFormat = errors.New("invalid API key format")

// GeneratedKey is a freshly issued key. Plaintext is shown to the caller
// once; only Hash and Prefix are persisted.
type GeneratedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// GenerateAPIKey issues a key for env. Unknown environments issue live keys.
func GenerateAPIKey(env string) (*GeneratedKey, error) {
	if env != EnvTest {
		env = EnvLive
	}

	buf := make([]byte, prefixBytes+secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read key material: %w", err)
	}
	pk := ParsedKey{
		Env:    env,
		Prefix: hex.EncodeToString(buf[:prefixBytes]),
		Secret: hex.EncodeToString(buf[prefixBytes:]),
	}

	plaintext := pk.String()
	hash, err := HashKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}
	return &GeneratedKey{Plaintext: plaintext, Hash: hash, Prefix: pk.Prefix}, nil
}

// ParsedKey is an API key split into its parts.
type ParsedKey struct {
	Env    string
	Prefix string
	Secret string
}

// String reassembles the plaintext key.
func (k ParsedKey) String() string {
	return strings.Join([]string{KeyScheme, k.Env, k.Prefix, k.Secret}, "_")
}

// Redacted is the key with its secret masked, safe for logs.
func (k ParsedKey) Redacted() string {
	return strings.Join([]string{KeyScheme, k.Env, k.Prefix, "****"}, "_")
}

// ParseAPIKey splits a plaintext key. Hex parts must be lowercase.
func ParseAPIKey(key string) (*ParsedKey, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 4 || parts[0] != KeyScheme {
		return nil, ErrInvalidKeyFormat
	}
	if parts[1] != EnvLive && parts[1] != EnvTest {
		return nil, ErrInvalidKeyFormat
	}
	if !isLowerHex(parts[2], prefixBytes*2) || !isLowerHex(parts[3], secretBytes*2) {
		return nil, ErrInvalidKeyFormat
	}
	return &ParsedKey{Env: parts[1], Prefix: parts[2], Secret: parts[3]}, nil
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ValidateKeyFormat reports whether key parses.
func ValidateKeyFormat(key string) bool {
	_, err := ParseAPIKey(key)
	return err == nil
}

// Redact masks the secret of key, or returns "[invalid]" when key does not parse.
func Redact(key string) string {
	pk, err := ParseAPIKey(key)
	if err != nil {
		return "[invalid]"
	}
	return pk.Redacted()
}
