//go:build integration

package repository

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/clockdesk/clockdesk/internal/model"
	"github.com/clockdesk/clockdesk/internal/testutil"
)

func newAPIKeyTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	return newTestRepo(t, testutil.MigrationAPIKeys)
}

func mustCreateKey(t *testing.T, ctx context.Context, repo *Repository, key *model.APIKey) {
	t.Helper()
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey(%s): %v", key.ID, err)
	}
}

func TestIntegrationAPIKeyRepository_RoundTrip(t *testing.T) {
	ctx, repo := newAPIKeyTestEnv(t)

	tests := []struct {
		name   string
		tier   string
		scopes []string
		tenant string
	}{
		{"operator free", model.TierFree, []string{model.ScopeRead, model.ScopeWrite}, ""},
		{"tenant pro", model.TierPro, []string{model.ScopeRead}, "loc-scoped"},
		{"unlimited admin", model.TierUnlimited, []string{model.ScopeAdmin}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := testutil.NewTestAPIKey(t, testutil.UniqueID("owner"))
			key.RateLimitTier = tt.tier
			key.Scopes = tt.scopes
			key.TenantScope = tt.tenant
			mustCreateKey(t, ctx, repo, key)

			got, err := repo.GetAPIKeyByID(ctx, key.ID)
			if err != nil {
				t.Fatalf("GetAPIKeyByID: %v", err)
			}
			if got.OwnerID != key.OwnerID || got.KeyHash != key.KeyHash || got.KeyPrefix != key.KeyPrefix {
				t.Errorf("identity columns = %+v, want %+v", got, key)
			}
			if got.RateLimitTier != tt.tier || got.Limits() != model.LimitsForTier(tt.tier) {
				t.Errorf("tier = %q", got.RateLimitTier)
			}
			if !slices.Equal(got.Scopes, tt.scopes) || got.TenantScope != tt.tenant {
				t.Errorf("scopes %v tenant %q, want %v %q", got.Scopes, got.TenantScope, tt.scopes, tt.tenant)
			}
			if !got.CreatedAt.Equal(key.CreatedAt) {
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, key.CreatedAt)
			}
			if got.RevokedAt != nil || got.LastUsedAt != nil {
				t.Errorf("new key has revoked_at %v last_used_at %v", got.RevokedAt, got.LastUsedAt)
			}
		})
	}

	if _, err := repo.GetAPIKeyByID(ctx, "missing"); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("GetAPIKeyByID(missing) error = %v, want ErrAPIKeyNotFound", err)
	}
}

func TestIntegrationAPIKeyRepository_PrefixLookupSkipsRevoked(t *testing.T) {
	ctx, repo := newAPIKeyTestEnv(t)

	owner := testutil.UniqueID("owner")
	active := testutil.NewTestAPIKey(t, owner)
	revoked := testutil.NewTestAPIKey(t, owner)
	other := testutil.NewTestAPIKey(t, owner)
	other.KeyPrefix = "ffffff"
	for _, k := range []*model.APIKey{active, revoked, other} {
		mustCreateKey(t, ctx, repo, k)
	}
	if err := repo.RevokeAPIKey(ctx, revoked.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	keys, err := repo.GetAPIKeysByPrefix(ctx, active.KeyPrefix)
	if err != nil {
		t.Fatalf("GetAPIKeysByPrefix: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != active.ID {
		t.Errorf("prefix lookup = %v, want only %s", keys, active.ID)
	}

	none, err := repo.GetAPIKeysByPrefix(ctx, "000000")
	if err != nil || len(none) != 0 {
		t.Errorf("unknown prefix = %v, %v", none, err)
	}
}

func TestIntegrationAPIKeyRepository_ListByOwner(t *testing.T) {
	ctx, repo := newAPIKeyTestEnv(t)

	owner := testutil.UniqueID("owner")
	var ids []string
	for i := 0; i < 3; i++ {
		k := testutil.NewTestAPIKey(t, owner)
		k.CreatedAt = k.CreatedAt.Add(time.Duration(i) * time.Second)
		mustCreateKey(t, ctx, repo, k)
		ids = append(ids, k.ID)
	}
	mustCreateKey(t, ctx, repo, testutil.NewTestAPIKey(t, testutil.UniqueID("stranger")))

	keys, err := repo.ListAPIKeysByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListAPIKeysByOwner: %v", err)
	}
	got := make([]string, 0, len(keys))
	for _, k := range keys {
		got = append(got, k.ID)
	}
	slices.Reverse(ids)
	if !slices.Equal(got, ids) {
		t.Errorf("keys = %v, want newest first %v", got, ids)
	}
}

func TestIntegrationAPIKeyRepository_Revoke(t *testing.T) {
	ctx, repo := newAPIKeyTestEnv(t)

	key := testutil.NewTestAPIKey(t, testutil.UniqueID("owner"))
	mustCreateKey(t, ctx, repo, key)

	if err := repo.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	got, err := repo.GetAPIKeyByID(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKeyByID: %v", err)
	}
	if !got.IsRevoked() {
		t.Error("key not revoked")
	}

	for _, id := range []string{key.ID, "missing"} {
		if err := repo.RevokeAPIKey(ctx, id); !errors.Is(err, ErrAPIKeyNotFound) {
			t.Errorf("RevokeAPIKey(%s) error = %v, want ErrAPIKeyNotFound", id, err)
		}
	}
}

func TestIntegrationAPIKeyRepository_Rotate(t *testing.T) {
	ctx, repo := newAPIKeyTestEnv(t)

	owner := testutil.UniqueID("owner")
	old := testutil.NewTestAPIKey(t, owner)
	mustCreateKey(t, ctx, repo, old)

	replacement := testutil.NewTestAPIKey(t, owner)
	replacement.KeyPrefix = "d4e5f6"
	if err := repo.RotateAPIKey(ctx, old.ID, replacement); err != nil {
		t.Fatalf("RotateAPIKey: %v", err)
	}

	gotOld, _ := repo.GetAPIKeyByID(ctx, old.ID)
	if gotOld == nil || !gotOld.IsRevoked() {
		t.Errorf("old key after rotation = %+v, want revoked", gotOld)
	}
	if _, err := repo.GetAPIKeyByID(ctx, replacement.ID); err != nil {
		t.Errorf("replacement not stored: %v", err)
	}

	// Rotating a revoked key changes nothing.
	again := testutil.NewTestAPIKey(t, owner)
	if err := repo.RotateAPIKey(ctx, old.ID, again); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("second rotation error = %v, want ErrAPIKeyNotFound", err)
	}
	if _, err := repo.GetAPIKeyByID(ctx, again.ID); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("replacement of a revoked key was stored: %v", err)
	}
}

func TestIntegrationAPIKeyRepository_RotateRollsBack(t *testing.T) {
	ctx, repo := newAPIKeyTestEnv(t)

	owner := testutil.UniqueID("owner")
	old := testutil.NewTestAPIKey(t, owner)
	mustCreateKey(t, ctx, repo, old)

	bad := testutil.NewTestAPIKey(t, owner)
	bad.RateLimitTier = "platinum"
	if err := repo.RotateAPIKey(ctx, old.ID, bad); err == nil {
		t.Fatal("rotation to an invalid tier succeeded")
	}

	got, err := repo.GetAPIKeyByID(ctx, old.ID)
	if err != nil {
		t.Fatalf("GetAPIKeyByID: %v", err)
	}
	if got.IsRevoked() {
		t.Error("failed rotation revoked the old key")
	}
}

func TestIntegrationAPIKeyRepository_UpdateLastUsed(t *testing.T) {
	ctx, repo := newAPIKeyTestEnv(t)

	key := testutil.NewTestAPIKey(t, testutil.UniqueID("owner"))
	mustCreateKey(t, ctx, repo, key)

	if err := repo.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed: %v", err)
	}
	got, err := repo.GetAPIKeyByID(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKeyByID: %v", err)
	}
	if got.LastUsedAt == nil || time.Since(*got.LastUsedAt) > time.Minute {
		t.Errorf("LastUsedAt = %v, want now", got.LastUsedAt)
	}
}
