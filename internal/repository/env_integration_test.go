//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/clockdesk/clockdesk/internal/testutil"
)

// newTestRepo returns a repository on DATABASE_URL holding the shared
// schema lock, with the given migrations freshly applied.
func newTestRepo(t *testing.T, migrations ...string) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	repo, err := New(ctx, testutil.RequireEnv(t, "DATABASE_URL"), testutil.NewSealer(t))
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("AcquireDBLock: %v", err)
	}
	t.Cleanup(func() { _ = unlock() })

	if err := testutil.ResetSchema(ctx, repo.Pool(), migrations...); err != nil {
		t.Fatalf("ResetSchema: %v", err)
	}
	return ctx, repo
}
