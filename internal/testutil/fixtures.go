package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clockdesk/clockdesk/internal/model"
)

// UniqueID returns prefix-<ulid>, unique across parallel tests.
func UniqueID(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}

// dbNow is the current time at Postgres timestamp precision, so values
// survive a round trip unchanged.
func dbNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewTestIdentity returns a plain user identity in tenantScope.
func NewTestIdentity(t testing.TB, id, tenantScope string) *model.Identity {
	t.Helper()
	now := dbNow()
	return &model.Identity{
		ID:          id,
		DisplayName: "Test " + id,
		Email:       id + "@example.com",
		Role:        model.RoleUser,
		TenantScope: tenantScope,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTestAPIKey returns an operator read/write key on the free tier. The
// hash is a placeholder; tests that authenticate mint real keys instead.
func NewTestAPIKey(t testing.TB, ownerID string) *model.APIKey {
	t.Helper()
	return &model.APIKey{
		ID:            ulid.Make().String(),
		OwnerID:       ownerID,
		KeyHash:       UniqueID("hash"),
		KeyPrefix:     "a1b2c3",
		Scopes:        []string{model.ScopeRead, model.ScopeWrite},
		RateLimitTier: model.TierFree,
		Name:          "Test Key",
		CreatedAt:     dbNow(),
	}
}
