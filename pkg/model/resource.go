package model

import (
	"io"
	"time"
)

// Resource is the live, opened form of a Handle: whatever a SourceManager's
// cookie for the owning Source lets a caller actually read. It exists only
// for the lifetime of the cookie it was opened against.
type Resource interface {
	Handle() Handle

	// LastModified returns the object's modification time, if the
	// underlying store tracks one.
	LastModified() (time.Time, error)

	// MimeType returns the resource's best-known MIME type, derived from
	// the handle's name and, where available, content sniffing.
	MimeType() (string, error)
}

// FileResource is a Resource that can also be read as a byte stream, either
// directly or by materialising a temporary file (for libraries that require
// a filesystem path rather than an io.Reader).
type FileResource interface {
	Resource

	// Open returns a fresh reader positioned at the start of the
	// resource's content. Callers must close it.
	Open() (io.ReadCloser, error)

	// Size returns the resource's size in bytes, if known without
	// reading the full content.
	Size() (int64, error)
}
