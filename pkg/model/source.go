package model

import (
	"context"
	"encoding/json"
	"iter"
	"reflect"
)

// SourceManager is the minimal capability a Source needs from the cookie
// cache to open itself: given a Source, hand back whatever long-lived state
// (an SMB mount, an authenticated HTTP client, a decompressor) its Handles
// need to be followed, opening it on first use and sharing it with every
// other Source that declares itself equal. The concrete cache lives in
// pkg/sourcemanager; Source only depends on this narrow interface to avoid
// an import cycle.
type SourceManager interface {
	Open(ctx context.Context, s Source) (any, error)
}

// Source describes a place that contains things: a directory, an SMB share,
// a mailbox, the inside of an archive. It is immutable and JSON-serialisable,
// and two Sources that describe the same place must compare Equal even if
// they are different Go values.
type Source interface {
	// Type is the stable, lower-case type label used as the JSON "type"
	// discriminator and recorded in metrics and logs.
	Type() string

	// EqualityProperties returns the subset of fields that determine
	// whether two Sources refer to the same place. SourceManager uses it
	// as a cache key; credentials are deliberately excluded so that two
	// Sources differing only in a refreshed token still share a cookie.
	EqualityProperties() map[string]any

	// Censor returns a copy of this Source with every credential or
	// secret replaced by a placeholder, safe to log or to embed in a
	// problem message.
	Censor() Source

	// YieldsIndependentSources reports whether the objects found while
	// exploring this Source may themselves need to be explored as
	// first-class Sources (true for e.g. an SMB share containing nested
	// shares) rather than merely as Handles of this one.
	YieldsIndependentSources() bool

	// Handles lazily enumerates every Handle directly inside this
	// Source. Iteration stops and yields a non-nil error if exploration
	// fails partway through; the caller decides whether to treat that as
	// a problem for the whole Source or merely truncated results.
	Handles(ctx context.Context, sm SourceManager) iter.Seq2[Handle, error]

	// ToJSON renders this Source as its canonical {"type": ..., ...}
	// form.
	ToJSON() (json.RawMessage, error)
}

// Equal reports whether two Sources describe the same place, by comparing
// type labels and equality properties rather than requiring a specific Go
// equality implementation per Source type.
func Equal(a, b Source) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}
	pa, pb := a.EqualityProperties(), b.EqualityProperties()
	if len(pa) != len(pb) {
		return false
	}
	for k, va := range pa {
		vb, ok := pb[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(va, vb) {
			return false
		}
	}
	return true
}
