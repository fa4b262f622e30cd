package archive

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
)

func init() {
	model.RegisterSourceType("tar", tarSourceFromJSON)
	model.RegisterHandleType("tar", tarHandleFromJSON)
	model.RegisterDerivedSource("application/x-tar", func(h model.Handle) model.Source {
		return NewTarSource(h)
	})
	model.RegisterOpener("tar", openTarCookie)
}

// TarSource is the contents of the tar archive named by parent.
type TarSource struct {
	parent model.Handle
}

// NewTarSource wraps parent (a Handle whose content is a tar archive) as
// the Source containing its members.
func NewTarSource(parent model.Handle) *TarSource {
	return &TarSource{parent: parent}
}

func (s *TarSource) Type() string { return "tar" }

func (s *TarSource) EqualityProperties() map[string]any {
	return map[string]any{"parent": s.parent.Presentation()}
}

func (s *TarSource) Censor() model.Source { return &TarSource{parent: s.parent.Censor()} }

func (s *TarSource) YieldsIndependentSources() bool { return false }

func (s *TarSource) Handles(ctx context.Context, sm model.SourceManager) iter.Seq2[model.Handle, error] {
	return func(yield func(model.Handle, error) bool) {
		cookie, err := sm.Open(ctx, s)
		if err != nil {
			yield(nil, err)
			return
		}
		members, ok := cookie.(*tarCookie)
		if !ok {
			yield(nil, fmt.Errorf("archive: tar cookie has unexpected type %T", cookie))
			return
		}
		for _, hdr := range members.headers {
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			default:
			}
			h := &TarHandle{Base: model.NewBase(s, hdr.Name)}
			if !yield(h, nil) {
				return
			}
		}
	}
}

func (s *TarSource) ToJSON() (json.RawMessage, error) {
	parentJSON, err := s.parent.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type   string          `json:"type"`
		Handle json.RawMessage `json:"handle"`
	}{Type: s.Type(), Handle: parentJSON})
}

func tarSourceFromJSON(data []byte) (model.Source, error) {
	var v struct {
		Handle json.RawMessage `json:"handle"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	h, err := model.HandleFromJSONObject(v.Handle)
	if err != nil {
		return nil, fmt.Errorf("archive: tar source handle: %w", err)
	}
	return NewTarSource(h), nil
}

// TarHandle names one member of a TarSource.
type TarHandle struct {
	model.Base
}

func (h *TarHandle) PresentationURL() string { return "" }

func (h *TarHandle) Censor() model.Handle {
	return &TarHandle{Base: model.NewBase(h.Source().Censor(), h.RelativePath())}
}

func (h *TarHandle) Crunch(hash bool) ([]byte, error) { return model.Crunch(h, hash) }

func (h *TarHandle) Follow(ctx context.Context, sm model.SourceManager) (model.Resource, error) {
	cookie, err := sm.Open(ctx, h.Source())
	if err != nil {
		return nil, err
	}
	members, ok := cookie.(*tarCookie)
	if !ok {
		return nil, fmt.Errorf("archive: tar cookie has unexpected type %T", cookie)
	}
	for i, hdr := range members.headers {
		if hdr.Name == h.RelativePath() {
			return &tarResource{handle: h, header: hdr, path: members.path, index: i}, nil
		}
	}
	return nil, model.NewUnavailableError(h.Presentation(), fmt.Errorf("member not found in archive"))
}

func (h *TarHandle) ToJSON() (json.RawMessage, error) {
	srcJSON, err := h.Source().ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type         string          `json:"type"`
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"relative_path"`
	}{Type: "tar", Source: srcJSON, RelativePath: h.RelativePath()})
}

func tarHandleFromJSON(data []byte) (model.Handle, error) {
	var v struct {
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"relative_path"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	src, err := model.FromJSONObject(v.Source)
	if err != nil {
		return nil, fmt.Errorf("archive: tar handle source: %w", err)
	}
	return &TarHandle{Base: model.NewBase(src, v.RelativePath)}, nil
}

type tarResource struct {
	handle *TarHandle
	header *tar.Header
	path   string
	index  int
}

func (r *tarResource) Handle() model.Handle { return r.handle }

func (r *tarResource) LastModified() (time.Time, error) { return r.header.ModTime, nil }

func (r *tarResource) MimeType() (string, error) { return model.MimeFromName(r.header.Name), nil }

// Open re-reads the archive from its materialised temp path and seeks
// forward to this member by index: archive/tar is a forward-only stream,
// so random member access means replaying from the start.
func (r *tarResource) Open() (io.ReadCloser, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, model.NewUnavailableError(r.path, err)
	}
	tr := tar.NewReader(f)
	for i := 0; i <= r.index; i++ {
		if _, err := tr.Next(); err != nil {
			f.Close()
			return nil, fmt.Errorf("archive: seeking to tar member %d: %w", r.index, err)
		}
	}
	return &tarMemberReader{f: f, r: tr}, nil
}

func (r *tarResource) Size() (int64, error) { return r.header.Size, nil }

type tarMemberReader struct {
	f *os.File
	r *tar.Reader
}

func (t *tarMemberReader) Read(p []byte) (int, error) { return t.r.Read(p) }
func (t *tarMemberReader) Close() error               { return t.f.Close() }

type tarCookie struct {
	path    string
	headers []*tar.Header
}

// openTarCookie materialises the parent handle's content to a private
// temporary file and indexes its member headers once, the same
// materialise-then-open pattern zip.go uses — tar.Reader has no random
// access, so every later Open() replays the stream from this same path.
func openTarCookie(ctx context.Context, src model.Source, sm model.SourceManager) (any, func() error, error) {
	ts, ok := src.(*TarSource)
	if !ok {
		return nil, nil, fmt.Errorf("archive: openTarCookie called with non-tar source %T", src)
	}

	res, err := ts.parent.Follow(ctx, sm)
	if err != nil {
		return nil, nil, err
	}
	fr, ok := res.(model.FileResource)
	if !ok {
		return nil, nil, fmt.Errorf("archive: tar parent handle did not yield a FileResource")
	}

	tmp, err := os.CreateTemp("", "os2ds-tar-*")
	if err != nil {
		return nil, nil, fmt.Errorf("archive: creating temp file for tar: %w", err)
	}
	teardown := func() error { return os.Remove(tmp.Name()) }

	rc, err := fr.Open()
	if err != nil {
		teardown()
		return nil, nil, err
	}
	_, copyErr := io.Copy(tmp, rc)
	rc.Close()
	closeErr := tmp.Close()
	if copyErr != nil {
		teardown()
		return nil, nil, fmt.Errorf("archive: materialising tar content: %w", copyErr)
	}
	if closeErr != nil {
		teardown()
		return nil, nil, closeErr
	}

	f, err := os.Open(tmp.Name())
	if err != nil {
		teardown()
		return nil, nil, err
	}
	defer f.Close()

	var headers []*tar.Header
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			teardown()
			return nil, nil, fmt.Errorf("archive: indexing tar members: %w", err)
		}
		headers = append(headers, hdr)
	}

	return &tarCookie{path: tmp.Name(), headers: headers}, teardown, nil
}
