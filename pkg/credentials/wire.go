package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
)

func init() {
	model.EWSTokenProvider = provideToken
}

var (
	wireMu sync.RWMutex
	store  *Store
	cache  *TokenCache
)

// Configure wires a credential store and an OAuth-backed token cache into
// model.EWSTokenProvider. A stage binary that opens EWS sources calls this
// once during bootstrap, after opening the database store persists
// credentials in; a binary that never touches mail sources can skip it,
// and EWSTokenProvider then reports mailboxes as unconfigured instead of
// ever dereferencing a nil store.
func Configure(s *Store, oauth *EWSOAuth, policy RotationPolicy) {
	wireMu.Lock()
	defer wireMu.Unlock()
	store = s
	cache = NewTokenCache(oauth, policy)
}

// provideToken backs model.EWSTokenProvider. It seeds the mailbox's token
// cache from its stored credential on first use (refreshing it immediately
// if the stored token is already within its grace period), then serves
// cached, auto-rotated tokens on every call after that.
func provideToken(ctx context.Context, mailbox string) (string, error) {
	wireMu.RLock()
	s, c := store, cache
	wireMu.RUnlock()

	if s == nil || c == nil {
		return "", fmt.Errorf("credentials: not configured for mailbox %q", mailbox)
	}

	if tok, err := c.Token(ctx, mailbox); err == nil {
		return tok, nil
	}

	cred, err := s.GetCredential(ctx, mailbox, SourceEWS)
	if err != nil {
		return "", fmt.Errorf("credentials: loading mailbox %q: %w", mailbox, err)
	}
	if cred == nil || cred.AccessToken == "" {
		return "", fmt.Errorf("credentials: no EWS credential stored for mailbox %q", mailbox)
	}

	var expiresAt time.Time
	if cred.ExpiresAt != nil {
		expiresAt = *cred.ExpiresAt
	}

	c.Seed(mailbox, cred.AccessToken, cred.RefreshToken, expiresAt)
	return c.Token(ctx, mailbox)
}
