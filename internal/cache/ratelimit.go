package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bucket describes one family of token buckets, keyed by caller.
type Bucket struct {
	Name  string  // key segment, "ratelimit:<Name>:<id>"
	Rate  float64 // tokens per second
	Burst int
	// Idle is how long an untouched bucket lives. It must exceed the time
	// to refill from empty, or idle callers get a fresh burst early.
	Idle time.Duration
	// HashID stores a digest of the caller instead of the raw value.
	HashID bool
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time // when the bucket is full again
	RetryAfter time.Duration
}

// takeScript refills and takes one token atomically. Times are in
// milliseconds. Returns {allowed, retry_ms, remaining, full_ms}.
var takeScript = redis.NewScript(`
local rate  = tonumber(ARGV[1]) / 1000
local burst = tonumber(ARGV[2])
local now   = tonumber(ARGV[3])
local idle  = tonumber(ARGV[4])

local state  = redis.call('HMGET', KEYS[1], 't', 'ts')
local tokens = tonumber(state[1]) or burst
local ts     = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) * rate)
end

local allowed, retry = 0, 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil((1 - tokens) / rate)
end

redis.call('HSET', KEYS[1], 't', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], idle)
return {allowed, retry, math.floor(tokens), math.ceil((burst - tokens) / rate)}
`)

func (b Bucket) key(id string) string {
	if b.HashID {
		sum := sha256.Sum256([]byte(id))
		id = hex.EncodeToString(sum[:8])
	}
	return "ratelimit:" + b.Name + ":" + id
}

// Take spends one token from id's bucket. A non-positive rate never limits.
func (c *Cache) Take(ctx context.Context, b Bucket, id string) (*RateLimitResult, error) {
	now := time.Now()
	if b.Rate <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: int64(b.Burst), ResetAt: now}, nil
	}

	res, err := takeScript.Run(ctx, c.client, []string{b.key(id)},
		b.Rate, b.Burst, now.UnixMilli(), b.Idle.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("take %s token: %w", b.Name, err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("take %s token: unexpected reply %v", b.Name, res)
	}

	return &RateLimitResult{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Remaining:  res[2],
		ResetAt:    now.Add(time.Duration(res[3]) * time.Millisecond),
	}, nil
}

// CheckAPIRateLimit limits one API key.
func (c *Cache) CheckAPIRateLimit(ctx context.Context, keyID string, ratePerMinute, burst int) (*RateLimitResult, error) {
	return c.Take(ctx, Bucket{
		Name:  "apikey",
		Rate:  float64(ratePerMinute) / 60,
		Burst: burst,
		Idle:  2 * time.Minute,
	}, keyID)
}

// CheckIPRateLimit limits unauthenticated traffic by client IP. Only a
// digest of the address is stored.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	return c.Take(ctx, Bucket{
		Name:   "ip",
		Rate:   float64(ratePerSecond),
		Burst:  burst,
		Idle:   10 * time.Second,
		HashID: true,
	}, ip)
}

// CheckSyncRateLimit limits how often one tenant may trigger a directory sync.
func (c *Cache) CheckSyncRateLimit(ctx context.Context, tenantKey string, perMinute, burst int) (*RateLimitResult, error) {
	return c.Take(ctx, Bucket{
		Name:  "sync",
		Rate:  float64(perMinute) / 60,
		Burst: burst,
		Idle:  10 * time.Minute,
	}, tenantKey)
}
