package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
)

// sourceRegistry is the process-wide, build-time lookup table mapping a
// Source's stable type label to the constructor that can rebuild it from
// JSON, the URL scheme(s) it answers to, and (separately) the MIME-pattern
// dispatch table used by Source.FromHandle. It is populated by each source
// implementation's init() function and is treated as read-only once the
// pipeline stages start consuming messages: Freeze prevents further
// registration and is called once by cmd/* after every package has had a
// chance to register itself via blank import.
type sourceRegistry struct {
	mu        sync.RWMutex
	byLabel   map[string]func([]byte) (Source, error)
	byScheme  map[string]func(*url.URL) (Source, error)
	handleLbl map[string]func([]byte) (Handle, error)
	frozen    bool
}

var registry = &sourceRegistry{
	byLabel:   make(map[string]func([]byte) (Source, error)),
	byScheme:  make(map[string]func(*url.URL) (Source, error)),
	handleLbl: make(map[string]func([]byte) (Handle, error)),
}

// RegisterSourceType registers the JSON constructor for a Source type label.
// Intended to be called from init().
func RegisterSourceType(label string, ctor func([]byte) (Source, error)) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.frozen {
		panic("model: RegisterSourceType called after Freeze: " + label)
	}
	if _, exists := registry.byLabel[label]; exists {
		panic("model: duplicate source type label: " + label)
	}
	registry.byLabel[label] = ctor
}

// RegisterURLScheme registers the URL decoder for a scheme (e.g. "file",
// "smb", "https").
func RegisterURLScheme(scheme string, ctor func(*url.URL) (Source, error)) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.frozen {
		panic("model: RegisterURLScheme called after Freeze: " + scheme)
	}
	registry.byScheme[scheme] = ctor
}

// RegisterHandleType registers the JSON constructor for a Handle type label.
func RegisterHandleType(label string, ctor func([]byte) (Handle, error)) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.frozen {
		panic("model: RegisterHandleType called after Freeze: " + label)
	}
	if _, exists := registry.handleLbl[label]; exists {
		panic("model: duplicate handle type label: " + label)
	}
	registry.handleLbl[label] = ctor
}

// Freeze stops any further registration. Call it once, after every source
// package has registered itself (typically via blank import in cmd/main.go),
// and before any pipeline stage starts consuming messages.
func Freeze() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.frozen = true
}

// FromJSONObject decodes a Source from its {"type": ..., ...} JSON form.
func FromJSONObject(data []byte) (Source, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DeserialisationError{TypeLabel: "<source>", Err: err}
	}
	if env.Type == "" {
		return nil, &DeserialisationError{TypeLabel: "<source>", Field: "type", Err: fmt.Errorf("missing type label")}
	}

	registry.mu.RLock()
	ctor, ok := registry.byLabel[env.Type]
	registry.mu.RUnlock()
	if !ok {
		return nil, &DeserialisationError{TypeLabel: env.Type, Err: fmt.Errorf("no registered source type")}
	}
	src, err := ctor(data)
	if err != nil {
		return nil, &DeserialisationError{TypeLabel: env.Type, Err: err}
	}
	return src, nil
}

// HandleFromJSONObject decodes a Handle from its {"type": ..., ...} JSON form.
func HandleFromJSONObject(data []byte) (Handle, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DeserialisationError{TypeLabel: "<handle>", Err: err}
	}
	if env.Type == "" {
		return nil, &DeserialisationError{TypeLabel: "<handle>", Field: "type", Err: fmt.Errorf("missing type label")}
	}

	registry.mu.RLock()
	ctor, ok := registry.handleLbl[env.Type]
	registry.mu.RUnlock()
	if !ok {
		return nil, &DeserialisationError{TypeLabel: env.Type, Err: fmt.Errorf("no registered handle type")}
	}
	h, err := ctor(data)
	if err != nil {
		return nil, &DeserialisationError{TypeLabel: env.Type, Err: err}
	}
	return h, nil
}

// OpenFunc opens the cookie a Source's Handles need to be followed: an
// authenticated client, a mounted share, a decompressor. teardown is nil if
// nothing needs releasing. sm is the same SourceManager the cookie is being
// opened for, passed through so a derived source's opener (e.g. a zip
// archive) can Follow its parent Handle to get at the bytes it unpacks.
type OpenFunc func(ctx context.Context, s Source, sm SourceManager) (cookie any, teardown func() error, err error)

var (
	openerMu sync.RWMutex
	openers  = map[string]OpenFunc{}
)

// RegisterOpener registers how to open the cookie for every Source of the
// given type label. Intended to be called from init().
func RegisterOpener(typeLabel string, fn OpenFunc) {
	openerMu.Lock()
	defer openerMu.Unlock()
	openers[typeLabel] = fn
}

// OpenerFor returns the registered OpenFunc for typeLabel, if any.
func OpenerFor(typeLabel string) (OpenFunc, bool) {
	openerMu.RLock()
	defer openerMu.RUnlock()
	fn, ok := openers[typeLabel]
	return fn, ok
}

// DerivedSourceFunc builds the Source that opens the container h names
// (an archive, a mailbox) so its members can be explored as Handles in
// their own right.
type DerivedSourceFunc func(h Handle) Source

type derivedRegistration struct {
	mimePattern string
	ctor        DerivedSourceFunc
}

var (
	derivedMu    sync.RWMutex
	derivedTypes []derivedRegistration
)

// RegisterDerivedSource registers ctor as the way to open a container
// Handle whose MIME type matches mimePattern (the same glob dialect as
// MimeMatches: exact, "type/*", or "*") as a new Source. Intended to be
// called from init().
func RegisterDerivedSource(mimePattern string, ctor DerivedSourceFunc) {
	derivedMu.Lock()
	defer derivedMu.Unlock()
	derivedTypes = append(derivedTypes, derivedRegistration{mimePattern, ctor})
}

// FromHandle returns the derived Source that opens h as a container, if any
// registered mime pattern matches mimeType. ok is false when h's content
// type has no registered derived source (an ordinary leaf object).
func FromHandle(h Handle, mimeType string) (src Source, ok bool) {
	derivedMu.RLock()
	defer derivedMu.RUnlock()

	bestSpecificity := -1
	for _, reg := range derivedTypes {
		if !MimeMatches(reg.mimePattern, mimeType) {
			continue
		}
		if s := MimeSpecificity(reg.mimePattern); s > bestSpecificity {
			bestSpecificity = s
			src = reg.ctor(h)
			ok = true
		}
	}
	return src, ok
}

// FromURL decodes a Source from a URL string, dispatching on its scheme.
func FromURL(raw string) (Source, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &MalformedError{Where: raw, Err: err}
	}
	registry.mu.RLock()
	ctor, ok := registry.byScheme[u.Scheme]
	registry.mu.RUnlock()
	if !ok {
		return nil, &UnknownSchemeError{Scheme: u.Scheme}
	}
	return ctor(u)
}
