package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testOAuthServer(t *testing.T, resp TokenResponse) *EWSOAuth {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	o := NewEWSOAuth("tenant-1", "client-1", "secret-1")
	o.httpClient = srv.Client()
	o.endpointOverride = srv.URL
	return o
}

func TestTokenCacheSeedServesCachedToken(t *testing.T) {
	c := NewTokenCache(nil, RotationPolicy{})
	lease := c.Seed("mailbox@example.com", "access-1", "refresh-1", time.Now().Add(time.Hour))

	if lease.Generation != 1 {
		t.Fatalf("Generation = %d, want 1", lease.Generation)
	}

	tok, err := c.Token(context.Background(), "mailbox@example.com")
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "access-1" {
		t.Errorf("Token = %q, want %q", tok, "access-1")
	}
}

func TestTokenCacheUnknownMailboxErrors(t *testing.T) {
	c := NewTokenCache(nil, RotationPolicy{})
	if _, err := c.Token(context.Background(), "nobody@example.com"); err == nil {
		t.Fatal("expected error for unseeded mailbox")
	}
}

func TestTokenCacheRotateBumpsGeneration(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	oauth := testOAuthServer(t, TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600})
	c := NewTokenCache(oauth, RotationPolicy{}).WithClock(func() time.Time { return now })

	c.Seed("mailbox@example.com", "access-1", "refresh-1", now.Add(-time.Minute))

	lease, err := c.Rotate(context.Background(), "mailbox@example.com", "refresh-1")
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if lease.Generation != 2 {
		t.Fatalf("Generation = %d, want 2", lease.Generation)
	}
	if lease.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want %q", lease.AccessToken, "access-2")
	}
	if !lease.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", lease.ExpiresAt, now.Add(time.Hour))
	}
}

func TestTokenCacheAutoRotateOnStaleToken(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	oauth := testOAuthServer(t, TokenResponse{AccessToken: "access-fresh", RefreshToken: "refresh-fresh", ExpiresIn: 3600})
	c := NewTokenCache(oauth, RotationPolicy{GracePeriod: 10 * time.Minute, AutoRotate: true}).
		WithClock(func() time.Time { return now })

	c.Seed("mailbox@example.com", "access-stale", "refresh-1", now.Add(5*time.Minute))

	tok, err := c.Token(context.Background(), "mailbox@example.com")
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "access-fresh" {
		t.Errorf("Token = %q, want auto-rotated %q", tok, "access-fresh")
	}
}

func TestTokenCacheRotateWithoutOAuthFails(t *testing.T) {
	c := NewTokenCache(nil, RotationPolicy{})
	c.Seed("mailbox@example.com", "access-1", "refresh-1", time.Now().Add(time.Hour))

	if _, err := c.Rotate(context.Background(), "mailbox@example.com", "refresh-1"); err == nil {
		t.Fatal("expected error rotating with no OAuth handler configured")
	}
}

func TestTokenCacheRevokeInvalidatesLease(t *testing.T) {
	c := NewTokenCache(nil, RotationPolicy{})
	c.Seed("mailbox@example.com", "access-1", "refresh-1", time.Now().Add(time.Hour))
	c.Revoke("mailbox@example.com")

	if _, err := c.Token(context.Background(), "mailbox@example.com"); err == nil {
		t.Fatal("expected error after revocation")
	}
}
