package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a distributed token bucket shared across every explorer
// instance pulling from the same queue, so a fleet of workers agrees on one
// outbound-request ceiling instead of each enforcing its own local limit.
// WebRetrier's in-process golang.org/x/time/rate limiter handles the
// single-process case; RateLimiter is for when several processes share one
// budget against the same remote endpoint.
type RateLimiter struct {
	client *redis.Client
	key    string
	rate   float64 // tokens per second
	burst  int
}

// NewRateLimiter builds a RateLimiter keyed by key (typically the target
// host), allowing burst tokens refilling at ratePerSecond.
func NewRateLimiter(client *redis.Client, key string, ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{client: client, key: fmt.Sprintf("retry:limiter:%s", key), rate: ratePerSecond, burst: burst}
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// Allow reports whether one token is available, consuming it if so.
func (l *RateLimiter) Allow(ctx context.Context) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.key}, l.rate, l.burst, 1, now).Int64()
	if err != nil {
		return false, fmt.Errorf("retry: rate limiter: %w", err)
	}
	return res == 1, nil
}

// Wait blocks, polling at a fraction of the refill interval, until a token
// is available or ctx is cancelled.
func (l *RateLimiter) Wait(ctx context.Context) error {
	interval := time.Second
	if l.rate > 0 {
		interval = time.Duration(float64(time.Second) / l.rate / 4)
		if interval < time.Millisecond {
			interval = time.Millisecond
		}
	}
	for {
		ok, err := l.Allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
