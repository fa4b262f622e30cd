// Package sourcemanager caches the cookies a Source needs opened once and
// shared by every Handle that follows from it, and tears them down in the
// reverse order they were opened — so a derived source's cookie (e.g. an
// archive reader) is always closed before the cookie of the Source it was
// opened from.
package sourcemanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/AsgerHL/Bachelor-POC/pkg/canonicalize"
	"github.com/AsgerHL/Bachelor-POC/pkg/model"
)

type entry struct {
	key      string
	cookie   any
	teardown func() error
}

// Manager is a stack-ordered cookie cache: Open opens and memoises a
// Source's cookie on first request, and Clear tears every still-open
// cookie down in the reverse order it was opened in. It is not safe for
// concurrent use — each pipeline worker owns its own Manager, matching the
// single-threaded, reentrant contract a scan walks its source tree under.
type Manager struct {
	mu      sync.Mutex
	cookies map[string]*entry
	stack   []*entry
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{cookies: make(map[string]*entry)}
}

func cacheKey(s model.Source) (string, error) {
	props := map[string]any{"type": s.Type(), "properties": s.EqualityProperties()}
	digest, err := canonicalize.CanonicalHash(props)
	if err != nil {
		return "", fmt.Errorf("sourcemanager: computing cache key: %w", err)
	}
	return digest, nil
}

// Open returns the cookie for s, opening and caching it on first request.
// Subsequent calls for a Source with the same EqualityProperties return the
// same cookie without reopening it.
func (m *Manager) Open(ctx context.Context, s model.Source) (any, error) {
	key, err := cacheKey(s)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if e, ok := m.cookies[key]; ok {
		m.mu.Unlock()
		return e.cookie, nil
	}
	m.mu.Unlock()

	opener, ok := model.OpenerFor(s.Type())
	if !ok {
		return nil, &model.MalformedError{Where: s.Type(), Err: fmt.Errorf("no opener registered for source type %q", s.Type())}
	}
	cookie, teardown, err := opener(ctx, s, m)
	if err != nil {
		return nil, err
	}

	e := &entry{key: key, cookie: cookie, teardown: teardown}
	m.mu.Lock()
	if existing, ok := m.cookies[key]; ok {
		// Lost a race with a reentrant Open for the same key; keep the
		// first winner and tear down the one we just opened.
		m.mu.Unlock()
		if teardown != nil {
			teardown()
		}
		return existing.cookie, nil
	}
	m.cookies[key] = e
	m.stack = append(m.stack, e)
	m.mu.Unlock()

	return cookie, nil
}

// Clear tears down every cookie currently held, in the reverse order they
// were opened, collecting (not stopping on) individual teardown failures.
func (m *Manager) Clear() []error {
	m.mu.Lock()
	stack := m.stack
	m.stack = nil
	m.cookies = make(map[string]*entry)
	m.mu.Unlock()

	var errs []error
	for i := len(stack) - 1; i >= 0; i-- {
		e := stack[i]
		if e.teardown == nil {
			continue
		}
		if err := e.teardown(); err != nil {
			errs = append(errs, fmt.Errorf("sourcemanager: tearing down %s: %w", e.key, err))
		}
	}
	return errs
}

// Len reports how many cookies are currently cached, chiefly for tests.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}
