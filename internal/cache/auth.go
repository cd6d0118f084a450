package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clockdesk/clockdesk/internal/model"
)

// Verified keys are cached under auth:ctx:<cache key> and indexed per key
// ID under auth:key:<id>, so revocation can drop them without the plaintext.
const (
	authCachePrefix    = "auth:ctx:"
	authKeyIndexPrefix = "auth:key:"
	authCacheTTL       = 5 * time.Minute
)

// cachedAuth is the stored form of model.AuthContext.
type cachedAuth struct {
	KeyID         string   `json:"key_id"`
	KeyPrefix     string   `json:"key_prefix"`
	OwnerID       string   `json:"owner_id"`
	TenantScope   string   `json:"tenant_scope,omitempty"`
	Scopes        []string `json:"scopes"`
	RateLimitTier string   `json:"rate_limit_tier"`
}

func (c cachedAuth) model() *model.AuthContext {
	a := model.AuthContext(c)
	return &a
}

// GetAuthContext returns the cached context, or nil on a miss. Unreadable
// entries count as misses.
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, authCachePrefix+cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auth context: %w", err)
	}

	var entry cachedAuth
	if json.Unmarshal(data, &entry) != nil || entry.KeyID == "" {
		return nil, nil
	}
	return entry.model(), nil
}

// SetAuthContext caches a verified context and indexes it under its key ID.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, a *model.AuthContext) error {
	data, err := json.Marshal(cachedAuth(*a))
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	index := authKeyIndexPrefix + a.KeyID
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, authCachePrefix+cacheKey, data, authCacheTTL)
		pipe.SAdd(ctx, index, cacheKey)
		pipe.Expire(ctx, index, authCacheTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set auth context: %w", err)
	}
	return nil
}

// InvalidateAuthContexts drops every cached context of keyID. Revoke and
// rotate call it so a revoked key stops working before the TTL runs out.
func (c *Cache) InvalidateAuthContexts(ctx context.Context, keyID string) error {
	index := authKeyIndexPrefix + keyID

	members, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("read auth index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, authCachePrefix+m)
	}
	keys = append(keys, index)

	return c.client.Del(ctx, keys...).Err()
}
