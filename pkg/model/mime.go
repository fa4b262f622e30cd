package model

import (
	"mime"
	"path/filepath"
	"strings"
)

// mimeFromExtension maps a file name to a MIME type by extension, falling
// back to the generic octet-stream type when the extension is unknown.
// Content-sniffing converters may refine this later in the pipeline; this is
// only ever the cheap first guess used for conversion dispatch.
func mimeFromExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}

// MimeFromName is mimeFromExtension exported for derived-source packages
// (archive, mail) that need the same cheap by-extension guess for their own
// Resource.MimeType implementations.
func MimeFromName(name string) string { return mimeFromExtension(name) }

// MimeMatches reports whether pattern matches mime. A pattern is either an
// exact MIME type ("text/plain"), a subtype wildcard ("text/*"), or the
// universal wildcard ("*"); this is the same glob dialect the derived-source
// and conversion registries use to dispatch on content type.
func MimeMatches(pattern, mime string) bool {
	if pattern == "*" {
		return true
	}
	pt, ps, pok := strings.Cut(pattern, "/")
	mt, ms, mok := strings.Cut(mime, "/")
	if !pok || !mok {
		return pattern == mime
	}
	if pt != mt {
		return false
	}
	return ps == "*" || ps == ms
}

// MimeSpecificity orders patterns from least to most specific, so a
// registry can prefer "text/plain" over "text/*" over "*" when more than one
// registered pattern matches the same MIME type.
func MimeSpecificity(pattern string) int {
	switch {
	case pattern == "*":
		return 0
	case strings.HasSuffix(pattern, "/*"):
		return 1
	default:
		return 2
	}
}
