package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/clockdesk/clockdesk/internal/model"
)

// statusKeyPrefix prefixes cached credential status entries.
const statusKeyPrefix = "credstatus:"

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// statusKey builds the cache key for one (location, company) lookup.
// ':' in identifiers is escaped so keys stay unambiguous for invalidation.
func statusKey(locationID, companyID string) string {
	return statusKeyPrefix + escapeKeyPart(locationID) + ":" + escapeKeyPart(companyID)
}

func escapeKeyPart(s string) string {
	r := strings.NewReplacer(`\`, `\\`, ":", `\:`, "*", `\*`, "?", `\?`, "[", `\[`)
	return r.Replace(s)
}

// GetCredentialStatus returns a cached status or ErrCacheMiss.
func (c *Cache) GetCredentialStatus(ctx context.Context, locationID, companyID string) (model.CredentialStatus, error) {
	data, err := c.client.Get(ctx, statusKey(locationID, companyID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.CredentialStatus{}, ErrCacheMiss
		}
		return model.CredentialStatus{}, fmt.Errorf("redis get failed: %w", err)
	}

	var status model.CredentialStatus
	if err := json.Unmarshal(data, &status); err != nil {
		// Corrupted cache entry - treat as miss
		return model.CredentialStatus{}, ErrCacheMiss
	}
	return status, nil
}

// SetCredentialStatus caches a status for the configured TTL.
func (c *Cache) SetCredentialStatus(ctx context.Context, locationID, companyID string, status model.CredentialStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal credential status: %w", err)
	}

	if err := c.client.Set(ctx, statusKey(locationID, companyID), data, c.statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache credential status: %w", err)
	}
	return nil
}

// InvalidateCredentialStatus drops every cached status that may have been
// answered from a record with this location or company id.
// This scans keys; it only runs when credentials are saved.
func (c *Cache) InvalidateCredentialStatus(ctx context.Context, locationID, companyID string) error {
	var patterns []string
	if locationID != "" {
		patterns = append(patterns, statusKeyPrefix+escapeKeyPart(locationID)+":*")
	}
	if companyID != "" {
		patterns = append(patterns, statusKeyPrefix+"*:"+escapeKeyPart(companyID))
	}

	for _, pattern := range patterns {
		keys, err := c.scanKeys(ctx, pattern)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			continue
		}
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete credential status: %w", err)
		}
	}
	return nil
}

// scanKeys collects all keys matching pattern.
func (c *Cache) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		var scanKeys []string
		var err error

		scanKeys, cursor, err = c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, scanKeys...)

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}
