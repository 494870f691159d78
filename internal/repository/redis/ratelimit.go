package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "ratelimit:"

// tokenBucket refills KEYS[1] by one token per ARGV[2] ms up to ARGV[1]
// tokens, then spends one if available. State is a hash of the token count
// and the time the last token was credited.
// Returns {allowed, tokens left, ms timestamp of the next refill}.
var tokenBucket = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local credited = math.floor((now - ts) / interval)
if credited > 0 then
  tokens = math.min(capacity, tokens + credited)
  ts = ts + credited * interval
end
if tokens >= capacity then
  ts = now
end

local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], (capacity + 1) * interval)
return {allowed, tokens, ts + interval}
`)

// RateLimiter is a token bucket per key: one token is credited every
// minute/requestsPerMinute and at most burst tokens are held.
type RateLimiter struct {
	client   *Client
	capacity int
	interval time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter. A burst of zero or less holds a
// full minute's worth of requests.
func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if burst <= 0 {
		burst = requestsPerMinute
	}
	interval := time.Minute / time.Duration(requestsPerMinute)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return &RateLimiter{
		client:   client,
		capacity: burst,
		interval: interval,
		now:      time.Now,
	}
}

// Allow spends one token for key.
// Returns (allowed, remaining, next refill time, error)
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	res, err := tokenBucket.Run(ctx, r.client.rdb,
		[]string{rateLimitPrefix + key},
		r.capacity,
		r.interval.Milliseconds(),
		r.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected rate limit reply: %v", res)
	}

	return res[0] == 1, int(res[1]), time.UnixMilli(res[2]), nil
}
