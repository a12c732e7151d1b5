package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed token bucket keyed per account, shared by every
// API replica.
type TokenBucket struct {
	client   redis.Cmdable
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket constructs a bucket with the provided capacity/refill.
func NewTokenBucket(client redis.Cmdable, capacity int, refillPerSecond float64) *TokenBucket {
	ttl := time.Minute
	if refillPerSecond > 0 {
		ttl = time.Duration(float64(capacity)/refillPerSecond*float64(time.Second)) + time.Minute
	}
	return &TokenBucket{
		client:   client,
		prefix:   "ratelimit:generate:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock replaces the time source, which is passed into the script.
func (b *TokenBucket) WithClock(now func() time.Time) *TokenBucket {
	b.now = now
	return b
}

// Allow consumes a single token from the account's bucket if one is available.
func (b *TokenBucket) Allow(ctx context.Context, accountID string) (Decision, error) {
	nowMS := b.now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + accountID},
		b.capacity, b.refill, nowMS, b.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", accountID, err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected script result %T", accountID, res)
	}
	allowed, _ := arr[0].(int64)
	// Lua numbers come back truncated to integers, so tokens are scaled by 1000.
	milli, _ := arr[1].(int64)
	d := Decision{Allowed: allowed == 1, Remaining: float64(milli) / 1000}
	if !d.Allowed && b.refill > 0 {
		missing := 1 - d.Remaining
		d.RetryAfter = time.Duration(math.Ceil(missing / b.refill * float64(time.Second)))
	}
	return d, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, math.floor(tokens * 1000)}
`)
