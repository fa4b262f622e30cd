package model

import (
	"net/url"
	"strings"
)

// EscapePath percent-encodes path the same way net/url encodes a URL path
// segment, except "/" is preserved so a RelativePath round-trips through a
// PresentationURL without its directory structure collapsing into a single
// opaque segment.
func EscapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// UnescapePath is the inverse of EscapePath.
func UnescapePath(escaped string) (string, error) {
	segments := strings.Split(escaped, "/")
	for i, seg := range segments {
		unesc, err := url.PathUnescape(seg)
		if err != nil {
			return "", err
		}
		segments[i] = unesc
	}
	return strings.Join(segments, "/"), nil
}

// JoinFragment builds a URL of the form base#fragment, percent-encoding the
// fragment the way the rest of this package expects — used by derived
// sources (archive members, mail attachments) whose Presentation URL nests
// a path inside a containing Source's own URL.
func JoinFragment(base, fragment string) string {
	if fragment == "" {
		return base
	}
	return base + "#" + EscapePath(fragment)
}
