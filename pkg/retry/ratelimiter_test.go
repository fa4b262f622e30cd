package retry

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// TestRateLimiterIntegration requires a running Redis; it is skipped if one
// is not reachable on localhost.
func TestRateLimiterIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("skipping rate limiter integration test: redis not available")
	}

	limiter := NewRateLimiter(client, "test-host", 1, 1)

	allowed, err := limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Errorf("expected first call to be allowed")
	}

	allowed, err = limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Errorf("expected second immediate call to be rate limited")
	}
}
