// Package archive implements the derived sources that open zip and tar
// containers found while exploring another Source: each archive member
// becomes its own Handle, explored the same way as any other object.
package archive

import (
	"archive/zip"
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
	model.RegisterSourceType("zip", zipSourceFromJSON)
	model.RegisterHandleType("zip", zipHandleFromJSON)
	model.RegisterDerivedSource("application/zip", func(h model.Handle) model.Source {
		return NewZipSource(h)
	})
	model.RegisterOpener("zip", openZipCookie)
}

// ZipSource is the contents of the zip archive named by parent.
type ZipSource struct {
	parent model.Handle
}

// NewZipSource wraps parent (a Handle whose content is a zip archive) as
// the Source containing its members.
func NewZipSource(parent model.Handle) *ZipSource {
	return &ZipSource{parent: parent}
}

func (s *ZipSource) Type() string { return "zip" }

func (s *ZipSource) EqualityProperties() map[string]any {
	return map[string]any{"parent": s.parent.Presentation()}
}

func (s *ZipSource) Censor() model.Source { return &ZipSource{parent: s.parent.Censor()} }

func (s *ZipSource) YieldsIndependentSources() bool { return false }

func (s *ZipSource) Handles(ctx context.Context, sm model.SourceManager) iter.Seq2[model.Handle, error] {
	return func(yield func(model.Handle, error) bool) {
		cookie, err := sm.Open(ctx, s)
		if err != nil {
			yield(nil, err)
			return
		}
		zr, ok := cookie.(*zip.Reader)
		if !ok {
			yield(nil, fmt.Errorf("archive: zip cookie has unexpected type %T", cookie))
			return
		}
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			default:
			}
			h := &ZipHandle{Base: model.NewBase(s, f.Name)}
			if !yield(h, nil) {
				return
			}
		}
	}
}

func (s *ZipSource) ToJSON() (json.RawMessage, error) {
	parentJSON, err := s.parent.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type   string          `json:"type"`
		Handle json.RawMessage `json:"handle"`
	}{Type: s.Type(), Handle: parentJSON})
}

func zipSourceFromJSON(data []byte) (model.Source, error) {
	var v struct {
		Handle json.RawMessage `json:"handle"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	h, err := model.HandleFromJSONObject(v.Handle)
	if err != nil {
		return nil, fmt.Errorf("archive: zip source handle: %w", err)
	}
	return NewZipSource(h), nil
}

// ZipHandle names one member of a ZipSource.
type ZipHandle struct {
	model.Base
}

func (h *ZipHandle) PresentationURL() string { return "" }

func (h *ZipHandle) Censor() model.Handle {
	return &ZipHandle{Base: model.NewBase(h.Source().Censor(), h.RelativePath())}
}

func (h *ZipHandle) Crunch(hash bool) ([]byte, error) { return model.Crunch(h, hash) }

func (h *ZipHandle) Follow(ctx context.Context, sm model.SourceManager) (model.Resource, error) {
	cookie, err := sm.Open(ctx, h.Source())
	if err != nil {
		return nil, err
	}
	zr, ok := cookie.(*zip.Reader)
	if !ok {
		return nil, fmt.Errorf("archive: zip cookie has unexpected type %T", cookie)
	}
	for _, f := range zr.File {
		if f.Name == h.RelativePath() {
			return &zipResource{handle: h, file: f}, nil
		}
	}
	return nil, model.NewUnavailableError(h.Presentation(), fmt.Errorf("member not found in archive"))
}

func (h *ZipHandle) ToJSON() (json.RawMessage, error) {
	srcJSON, err := h.Source().ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type         string          `json:"type"`
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"relative_path"`
	}{Type: "zip", Source: srcJSON, RelativePath: h.RelativePath()})
}

func zipHandleFromJSON(data []byte) (model.Handle, error) {
	var v struct {
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"relative_path"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	src, err := model.FromJSONObject(v.Source)
	if err != nil {
		return nil, fmt.Errorf("archive: zip handle source: %w", err)
	}
	return &ZipHandle{Base: model.NewBase(src, v.RelativePath)}, nil
}

type zipResource struct {
	handle *ZipHandle
	file   *zip.File
}

func (r *zipResource) Handle() model.Handle { return r.handle }

func (r *zipResource) LastModified() (time.Time, error) {
	return r.file.Modified, nil
}

func (r *zipResource) MimeType() (string, error) {
	return model.MimeFromName(r.file.Name), nil
}

func (r *zipResource) Open() (io.ReadCloser, error) {
	return r.file.Open()
}

func (r *zipResource) Size() (int64, error) {
	return int64(r.file.UncompressedSize64), nil
}

// openZipCookie materialises the parent handle's content to a private
// temporary file (archive/zip needs io.ReaderAt, which a live network
// stream doesn't give us) and opens it as a zip.Reader, mirroring the
// "make_path then ZipFile(path)" pattern the container-source family uses
// throughout.
func openZipCookie(ctx context.Context, src model.Source, sm model.SourceManager) (any, func() error, error) {
	zs, ok := src.(*ZipSource)
	if !ok {
		return nil, nil, fmt.Errorf("archive: openZipCookie called with non-zip source %T", src)
	}

	res, err := zs.parent.Follow(ctx, sm)
	if err != nil {
		return nil, nil, err
	}
	fr, ok := res.(model.FileResource)
	if !ok {
		return nil, nil, fmt.Errorf("archive: zip parent handle did not yield a FileResource")
	}

	tmp, err := os.CreateTemp("", "os2ds-zip-*")
	if err != nil {
		return nil, nil, fmt.Errorf("archive: creating temp file for zip: %w", err)
	}
	teardown := func() error {
		return os.Remove(tmp.Name())
	}

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
		return nil, nil, fmt.Errorf("archive: materialising zip content: %w", copyErr)
	}
	if closeErr != nil {
		teardown()
		return nil, nil, closeErr
	}

	info, err := os.Stat(tmp.Name())
	if err != nil {
		teardown()
		return nil, nil, err
	}
	f, err := os.Open(tmp.Name())
	if err != nil {
		teardown()
		return nil, nil, err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		teardown()
		return nil, nil, fmt.Errorf("archive: opening zip reader: %w", err)
	}
	return zr, func() error {
		f.Close()
		return teardown()
	}, nil
}
