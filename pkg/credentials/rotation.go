// Lease-based lifecycle for EWS bearer tokens: a mailbox's access token is
// cached in memory between scans, refreshed proactively once it enters its
// policy's grace period before expiry, and rotated into a new lease and
// generation counter so a refresh in flight never hands out a half-updated
// token to a concurrent source open.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LeaseState tracks a mailbox's cached bearer token through its lifecycle.
type LeaseState string

const (
	LeaseActive  LeaseState = "active"
	LeaseStale   LeaseState = "stale"
	LeaseRevoked LeaseState = "revoked"
)

// MailboxLease is one mailbox's cached bearer token and how it got there.
type MailboxLease struct {
	Mailbox      string
	AccessToken  string
	RefreshToken string
	State        LeaseState
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RotatedAt    *time.Time
	Generation   int
}

// RotationPolicy controls when a lease is refreshed ahead of its expiry.
type RotationPolicy struct {
	GracePeriod time.Duration
	AutoRotate  bool
}

// TokenCache holds one MailboxLease per mailbox for the lifetime of a
// process, so opening the same mailbox twice in one scan doesn't trigger
// two refreshes against the identity platform.
type TokenCache struct {
	mu     sync.Mutex
	leases map[string]*MailboxLease
	policy RotationPolicy
	oauth  *EWSOAuth
	clock  func() time.Time
}

// NewTokenCache creates a cache that refreshes leases through oauth
// according to policy. oauth may be nil if leases are only ever seeded
// with tokens that are refreshed out of band.
func NewTokenCache(oauth *EWSOAuth, policy RotationPolicy) *TokenCache {
	return &TokenCache{
		leases: make(map[string]*MailboxLease),
		policy: policy,
		oauth:  oauth,
		clock:  time.Now,
	}
}

// WithClock overrides the cache's clock, for tests.
func (c *TokenCache) WithClock(clock func() time.Time) *TokenCache {
	c.clock = clock
	return c
}

// Seed installs a mailbox's initial lease, generation 1, typically right
// after loading its Credential row from the Store.
func (c *TokenCache) Seed(mailbox, accessToken, refreshToken string, expiresAt time.Time) *MailboxLease {
	c.mu.Lock()
	defer c.mu.Unlock()

	lease := &MailboxLease{
		Mailbox:      mailbox,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		State:        LeaseActive,
		IssuedAt:     c.clock(),
		ExpiresAt:    expiresAt,
		Generation:   1,
	}
	c.leases[mailbox] = lease
	return lease
}

// needsRefresh reports whether lease is within its policy's grace period of
// expiry, or already past it. A lease with no expiry never needs refresh.
func (c *TokenCache) needsRefresh(lease *MailboxLease) bool {
	if lease.ExpiresAt.IsZero() {
		return false
	}
	return !c.clock().Add(c.policy.GracePeriod).Before(lease.ExpiresAt)
}

// Token returns mailbox's current access token. If AutoRotate is set and
// the lease is within its grace period of expiry, it refreshes first. A
// refresh failure is not fatal here: the stale token is served back.
// Nothing refreshes it again or retries the request when it later draws a
// 401 from EWS.
func (c *TokenCache) Token(ctx context.Context, mailbox string) (string, error) {
	c.mu.Lock()
	lease, ok := c.leases[mailbox]
	c.mu.Unlock()
	if !ok || lease.State == LeaseRevoked {
		return "", fmt.Errorf("credentials: no lease for mailbox %q", mailbox)
	}

	if c.policy.AutoRotate && c.needsRefresh(lease) {
		if refreshed, err := c.Rotate(ctx, mailbox, lease.RefreshToken); err == nil {
			return refreshed.AccessToken, nil
		}
	}

	return lease.AccessToken, nil
}

// Rotate exchanges refreshToken for a new access token through oauth,
// bumps the mailbox's lease generation, and caches the result.
func (c *TokenCache) Rotate(ctx context.Context, mailbox, refreshToken string) (*MailboxLease, error) {
	if c.oauth == nil {
		return nil, fmt.Errorf("credentials: no OAuth handler configured for mailbox %q", mailbox)
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("credentials: no refresh token cached for mailbox %q", mailbox)
	}

	resp, err := c.oauth.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("credentials: refreshing mailbox %q: %w", mailbox, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	gen := 1
	if prev, ok := c.leases[mailbox]; ok {
		gen = prev.Generation + 1
	}

	next := resp.RefreshToken
	if next == "" {
		next = refreshToken
	}

	now := c.clock()
	var expiresAt time.Time
	if resp.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	lease := &MailboxLease{
		Mailbox:      mailbox,
		AccessToken:  resp.AccessToken,
		RefreshToken: next,
		State:        LeaseActive,
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
		RotatedAt:    &now,
		Generation:   gen,
	}
	c.leases[mailbox] = lease
	return lease, nil
}

// Revoke marks a mailbox's lease invalid, e.g. after its credential row is
// deleted from the Store. A revoked lease's cached token is never served
// again; Token returns an error until the mailbox is Seed-ed afresh.
func (c *TokenCache) Revoke(mailbox string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lease, ok := c.leases[mailbox]; ok {
		lease.State = LeaseRevoked
	}
}
