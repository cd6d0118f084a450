package model

import (
	"slices"
	"time"
)

// Scopes. Admin implies the other two.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// ValidScopes lists every scope a key may hold.
var ValidScopes = []string{ScopeRead, ScopeWrite, ScopeAdmin}

// ValidScope reports whether s is a known scope.
func ValidScope(s string) bool {
	return slices.Contains(ValidScopes, s)
}

func grants(held []string, scope string) bool {
	return slices.Contains(held, ScopeAdmin) || slices.Contains(held, scope)
}

// Rate limit tiers.
const (
	TierFree      = "free"
	TierPro       = "pro"
	TierUnlimited = "unlimited"
)

// RateLimitConfig is the per-key token bucket for a tier.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// Unlimited reports whether the tier skips rate limiting.
func (c RateLimitConfig) Unlimited() bool {
	return c.RequestsPerMinute == 0
}

var tierLimits = map[string]RateLimitConfig{
	TierFree:      {RequestsPerMinute: 60, Burst: 10},
	TierPro:       {RequestsPerMinute: 600, Burst: 50},
	TierUnlimited: {},
}

// ValidTier reports whether tier is a known rate limit tier.
func ValidTier(tier string) bool {
	_, ok := tierLimits[tier]
	return ok
}

// LimitsForTier returns the limits of tier. Unknown tiers get the free tier.
func LimitsForTier(tier string) RateLimitConfig {
	if c, ok := tierLimits[tier]; ok {
		return c
	}
	return tierLimits[TierFree]
}

// APIKey authenticates a tenant install or an operator. Only the argon2id
// hash of the key is stored; KeyPrefix narrows the lookup.
type APIKey struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	TenantScope   string     `json:"tenant_scope,omitempty"` // empty: operator key
	KeyHash       string     `json:"-"`
	KeyPrefix     string     `json:"key_prefix"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	Name          string     `json:"name,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (k *APIKey) IsRevoked() bool { return k.RevokedAt != nil }

func (k *APIKey) HasScope(scope string) bool { return grants(k.Scopes, scope) }

// Limits returns the key's rate limit.
func (k *APIKey) Limits() RateLimitConfig { return LimitsForTier(k.RateLimitTier) }

// AuthContext is what the auth middleware knows about the calling key.
type AuthContext struct {
	KeyID         string
	KeyPrefix     string
	OwnerID       string
	TenantScope   string
	Scopes        []string
	RateLimitTier string
}

func (a *AuthContext) HasScope(scope string) bool { return grants(a.Scopes, scope) }

// Limits returns the caller's rate limit.
func (a *AuthContext) Limits() RateLimitConfig { return LimitsForTier(a.RateLimitTier) }

// IsOperator reports whether the key is unscoped, i.e. not bound to a tenant.
func (a *AuthContext) IsOperator() bool { return a.TenantScope == "" }

// AllowsTenant reports whether the key may act on the tenant id. Operator
// keys may act on any tenant.
func (a *AuthContext) AllowsTenant(id string) bool {
	return a.IsOperator() || (id != "" && id == a.TenantScope)
}

// AllowsTenantPair reports whether the key may act on a request naming
// locationID and companyID, either of which may be empty. storedCompany is
// the company recorded for locationID. Both ids must belong to the key's
// tenant: a location key names a company only when it is the one stored
// for that location, and a company key names a location only when that
// location is stored under the company.
func (a *AuthContext) AllowsTenantPair(locationID, companyID, storedCompany string) bool {
	if a.IsOperator() {
		return true
	}
	scope := a.TenantScope
	switch {
	case locationID == "":
		return companyID == scope
	case locationID == scope:
		return companyID == "" || companyID == storedCompany
	default:
		return storedCompany == scope && (companyID == "" || companyID == scope)
	}
}

// NeedsStoredCompany reports whether AllowsTenantPair depends on the
// company stored for locationID.
func (a *AuthContext) NeedsStoredCompany(locationID, companyID string) bool {
	if a.IsOperator() || locationID == "" {
		return false
	}
	return locationID != a.TenantScope || companyID != ""
}

// APIKeyCreateRequest is the body of POST /api/v1/api-keys.
type APIKeyCreateRequest struct {
	Name        string   `json:"name,omitempty"`
	TenantScope string   `json:"tenant_scope,omitempty"`
	Scopes      []string `json:"scopes"`
}

// APIKeyResponse is the listing view of a key.
type APIKeyResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	TenantScope   string     `json:"tenant_scope,omitempty"`
	KeyPrefix     string     `json:"key_prefix"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	Revoked       bool       `json:"revoked"`
}

func (k *APIKey) ToResponse() APIKeyResponse {
	return APIKeyResponse{
		ID:            k.ID,
		Name:          k.Name,
		TenantScope:   k.TenantScope,
		KeyPrefix:     k.KeyPrefix,
		Scopes:        k.Scopes,
		RateLimitTier: k.RateLimitTier,
		CreatedAt:     k.CreatedAt,
		LastUsedAt:    k.LastUsedAt,
		Revoked:       k.IsRevoked(),
	}
}

// APIKeyCreateResponse adds the plaintext key, shown only once.
type APIKeyCreateResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// APIKeyRotateResponse is returned when a key is replaced.
type APIKeyRotateResponse struct {
	OldKeyID        string               `json:"old_key_id"`
	OldKeyRevokedAt time.Time            `json:"old_key_revoked_at"`
	NewKey          APIKeyCreateResponse `json:"new_key"`
}
