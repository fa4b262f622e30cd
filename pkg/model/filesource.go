package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

func init() {
	RegisterSourceType("file", fileSourceFromJSON)
	RegisterURLScheme("file", fileSourceFromURL)
	RegisterHandleType("file", fileHandleFromJSON)
	RegisterOpener("file", func(ctx context.Context, s Source, sm SourceManager) (any, func() error, error) {
		return nil, nil, nil
	})
}

// FileSource describes a directory on the local filesystem (or a mounted
// network share presented as one — the Handle doesn't know or care).
type FileSource struct {
	path string
}

// NewFileSource builds a FileSource rooted at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: filepath.Clean(path)}
}

func (s *FileSource) Type() string { return "file" }

func (s *FileSource) EqualityProperties() map[string]any {
	return map[string]any{"path": s.path}
}

func (s *FileSource) Censor() Source { return s }

func (s *FileSource) YieldsIndependentSources() bool { return false }

func (s *FileSource) Handles(ctx context.Context, sm SourceManager) iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		err := filepath.WalkDir(s.path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(s.path, p)
			if relErr != nil {
				return relErr
			}
			h := &FileHandle{Base: NewBase(s, filepath.ToSlash(rel))}
			if !yield(h, nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && err != filepath.SkipAll {
			yield(nil, NewUnavailableError(fmt.Sprintf("file:%s", s.path), err))
		}
	}
}

func (s *FileSource) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Path string `json:"path"`
	}{Type: s.Type(), Path: s.path})
}

func fileSourceFromJSON(data []byte) (Source, error) {
	var v struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v.Path == "" {
		return nil, &DeserialisationError{TypeLabel: "file", Field: "path", Err: fmt.Errorf("empty path")}
	}
	return NewFileSource(v.Path), nil
}

func fileSourceFromURL(u *url.URL) (Source, error) {
	p := u.Path
	if p == "" {
		return nil, &MalformedError{Where: u.String(), Err: fmt.Errorf("file URL has no path")}
	}
	return NewFileSource(p), nil
}

// FileHandle names one file beneath a FileSource.
type FileHandle struct {
	Base
}

func (h *FileHandle) PresentationURL() string {
	fs, ok := h.Source().(*FileSource)
	if !ok {
		return ""
	}
	return "file://" + EscapePath(filepath.ToSlash(filepath.Join(fs.path, h.RelativePath())))
}

func (h *FileHandle) Censor() Handle {
	return &FileHandle{Base: NewBase(h.Source().Censor(), h.RelativePath())}
}

func (h *FileHandle) Crunch(hash bool) ([]byte, error) { return Crunch(h, hash) }

func (h *FileHandle) Follow(ctx context.Context, sm SourceManager) (Resource, error) {
	if _, err := sm.Open(ctx, h.Source()); err != nil {
		return nil, err
	}
	fs, ok := h.Source().(*FileSource)
	if !ok {
		return nil, &MalformedError{Where: h.Presentation(), Err: fmt.Errorf("handle's source is not a FileSource")}
	}
	return &fileResource{handle: h, fullPath: filepath.Join(fs.path, filepath.FromSlash(h.RelativePath()))}, nil
}

func (h *FileHandle) ToJSON() (json.RawMessage, error) {
	srcJSON, err := h.Source().ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type         string          `json:"type"`
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"path"`
	}{Type: "file", Source: srcJSON, RelativePath: h.RelativePath()})
}

func fileHandleFromJSON(data []byte) (Handle, error) {
	var v struct {
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"path"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	src, err := FromJSONObject(v.Source)
	if err != nil {
		return nil, err
	}
	return &FileHandle{Base: NewBase(src, v.RelativePath)}, nil
}

type fileResource struct {
	handle   *FileHandle
	fullPath string
}

func (r *fileResource) Handle() Handle { return r.handle }

func (r *fileResource) LastModified() (time.Time, error) {
	st, err := os.Stat(r.fullPath)
	if err != nil {
		return time.Time{}, NewUnavailableError(r.fullPath, err)
	}
	return st.ModTime(), nil
}

func (r *fileResource) MimeType() (string, error) {
	return mimeFromExtension(r.fullPath), nil
}

func (r *fileResource) Open() (io.ReadCloser, error) {
	f, err := os.Open(r.fullPath)
	if err != nil {
		return nil, NewUnavailableError(r.fullPath, err)
	}
	return f, nil
}

func (r *fileResource) Size() (int64, error) {
	st, err := os.Stat(r.fullPath)
	if err != nil {
		return 0, NewUnavailableError(r.fullPath, err)
	}
	return st.Size(), nil
}
