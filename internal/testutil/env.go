// Package testutil holds helpers shared by the integration tests: service
// discovery from the environment, schema resets and model fixtures.
package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/clockdesk/clockdesk/internal/secret"
)

// SealingKey is a fixed credential sealing key for tests.
const SealingKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// RequireEnv returns the value of key, skipping the test when it is unset.
// Integration tests find Postgres and Redis through DATABASE_URL and REDIS_URL.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

// ProjectRoot is the module root, resolved from this file's location.
func ProjectRoot() (string, error) {
	_, here, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("testutil: cannot locate source file")
	}
	return filepath.Join(filepath.Dir(here), "..", ".."), nil
}

// NewSealer returns a Sealer built from SealingKey.
func NewSealer(t testing.TB) *secret.Sealer {
	t.Helper()
	s, err := secret.NewSealer(SealingKey)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	return s
}
