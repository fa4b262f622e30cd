package model

import (
	"context"
	"encoding/json"

	"github.com/AsgerHL/Bachelor-POC/pkg/canonicalize"
)

// Handle names one specific object inside a Source: a file in a directory, a
// message in a mailbox, a member of an archive. Like Source it is immutable
// and JSON-serialisable, and carries no open resource of its own — Follow is
// the only way to get one.
type Handle interface {
	// Source returns the Source this Handle names an object within.
	Source() Source

	// RelativePath is the object's path relative to its Source, using
	// "/" as the separator regardless of host OS.
	RelativePath() string

	// Presentation is a human-readable rendering of this Handle, suitable
	// for logs and for display in a match report.
	Presentation() string

	// PresentationURL renders this Handle as a URL a person could follow
	// to reach the object (e.g. a browser- or Explorer-openable link),
	// or "" if no such URL exists.
	PresentationURL() string

	// Censor returns a copy of this Handle with its Source censored.
	Censor() Handle

	// SortKey returns a key that sorts Handles from the same Source in a
	// stable, human-meaningful order (path segments, not byte order).
	SortKey() string

	// Crunch renders a compact, deterministic fingerprint of this Handle
	// suitable as a cache or dedup key. When hash is true the
	// fingerprint is a cryptographic digest of the canonical JSON form;
	// when false it is the canonical JSON form itself, useful for
	// debugging.
	Crunch(hash bool) ([]byte, error)

	// Follow opens this Handle's Resource using whatever cookie sm holds
	// (or newly opens) for this Handle's Source.
	Follow(ctx context.Context, sm SourceManager) (Resource, error)

	// ToJSON renders this Handle as its canonical {"type": ..., ...}
	// form, embedding its Source's own JSON form under "source".
	ToJSON() (json.RawMessage, error)
}

// Base is the common Handle state every concrete Handle embeds: the owning
// Source and the relative path beneath it. Concrete Handles embed Base and
// add their own Follow/ToJSON.
type Base struct {
	source       Source
	relativePath string
}

// NewBase constructs the embeddable Handle state shared by every concrete
// Handle implementation.
func NewBase(source Source, relativePath string) Base {
	return Base{source: source, relativePath: relativePath}
}

func (b Base) Source() Source { return b.source }

func (b Base) RelativePath() string { return b.relativePath }

// Presentation renders the relative path alone; concrete Handles may
// override this for a richer rendering (e.g. an EWS Handle rendering
// "mailbox#item-id", or a web Handle rendering its URL).
func (b Base) Presentation() string {
	return b.relativePath
}

func (b Base) SortKey() string { return b.relativePath }

// Crunch renders h's canonical JSON form, optionally hashing it, using the
// module's standard JCS canonicalizer. Concrete Handle implementations call
// this from their own Crunch method once ToJSON is implemented.
func Crunch(h Handle, hash bool) ([]byte, error) {
	raw, err := h.ToJSON()
	if err != nil {
		return nil, err
	}
	if !hash {
		return canonicalize.CanonicalizeJSON(raw)
	}
	digest, err := canonicalize.HashJSON(raw)
	if err != nil {
		return nil, err
	}
	return []byte(digest), nil
}
