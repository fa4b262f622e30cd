package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

func init() {
	RegisterSourceType("gcs", gcsSourceFromJSON)
	RegisterHandleType("gcs", gcsHandleFromJSON)
	RegisterOpener("gcs", func(ctx context.Context, s Source, sm SourceManager) (any, func() error, error) {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, NewUnavailableError("gcs", err)
		}
		return client, client.Close, nil
	})
}

// GCSSource describes one Google Cloud Storage bucket, optionally
// restricted to an object-name prefix.
type GCSSource struct {
	Bucket string
	Prefix string
}

// NewGCSSource builds a GCSSource for the given bucket and object prefix.
func NewGCSSource(bucket, prefix string) *GCSSource {
	return &GCSSource{Bucket: bucket, Prefix: prefix}
}

func (s *GCSSource) Type() string { return "gcs" }

func (s *GCSSource) EqualityProperties() map[string]any {
	return map[string]any{"bucket": s.Bucket}
}

func (s *GCSSource) Censor() Source { return s }

func (s *GCSSource) YieldsIndependentSources() bool { return false }

func (s *GCSSource) Handles(ctx context.Context, sm SourceManager) iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		cookie, err := sm.Open(ctx, s)
		if err != nil {
			yield(nil, err)
			return
		}
		client, ok := cookie.(*storage.Client)
		if !ok {
			yield(nil, &MalformedError{Where: s.Bucket, Err: fmt.Errorf("cookie is not a gcs client")})
			return
		}
		it := client.Bucket(s.Bucket).Objects(ctx, &storage.Query{Prefix: s.Prefix})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				yield(nil, NewUnavailableError(s.Bucket, err))
				return
			}
			h := &GCSHandle{Base: NewBase(s, attrs.Name)}
			if !yield(h, nil) {
				return
			}
		}
	}
}

func (s *GCSSource) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Bucket string `json:"bucket"`
		Prefix string `json:"prefix,omitempty"`
	}{Type: s.Type(), Bucket: s.Bucket, Prefix: s.Prefix})
}

func gcsSourceFromJSON(data []byte) (Source, error) {
	var v struct {
		Bucket string `json:"bucket"`
		Prefix string `json:"prefix"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v.Bucket == "" {
		return nil, &DeserialisationError{TypeLabel: "gcs", Field: "bucket", Err: fmt.Errorf("empty bucket")}
	}
	return NewGCSSource(v.Bucket, v.Prefix), nil
}

// GCSHandle names one object within a GCSSource's bucket.
type GCSHandle struct {
	Base
}

func (h *GCSHandle) Presentation() string { return h.PresentationURL() }

func (h *GCSHandle) PresentationURL() string {
	src, ok := h.Source().(*GCSSource)
	if !ok {
		return ""
	}
	return fmt.Sprintf("gs://%s/%s", src.Bucket, EscapePath(h.RelativePath()))
}

func (h *GCSHandle) Censor() Handle {
	return &GCSHandle{Base: NewBase(h.Source().Censor(), h.RelativePath())}
}

func (h *GCSHandle) Crunch(hash bool) ([]byte, error) { return Crunch(h, hash) }

func (h *GCSHandle) Follow(ctx context.Context, sm SourceManager) (Resource, error) {
	cookie, err := sm.Open(ctx, h.Source())
	if err != nil {
		return nil, err
	}
	client, ok := cookie.(*storage.Client)
	if !ok {
		return nil, &MalformedError{Where: h.Presentation(), Err: fmt.Errorf("cookie is not a gcs client")}
	}
	src := h.Source().(*GCSSource)
	return &gcsResource{handle: h, client: client, bucket: src.Bucket, object: h.RelativePath()}, nil
}

func (h *GCSHandle) ToJSON() (json.RawMessage, error) {
	srcJSON, err := h.Source().ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type   string          `json:"type"`
		Source json.RawMessage `json:"source"`
		Object string          `json:"object"`
	}{Type: "gcs", Source: srcJSON, Object: h.RelativePath()})
}

func gcsHandleFromJSON(data []byte) (Handle, error) {
	var v struct {
		Source json.RawMessage `json:"source"`
		Object string          `json:"object"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	src, err := FromJSONObject(v.Source)
	if err != nil {
		return nil, err
	}
	return &GCSHandle{Base: NewBase(src, v.Object)}, nil
}

type gcsResource struct {
	handle *GCSHandle
	client *storage.Client
	bucket string
	object string

	attrs *storage.ObjectAttrs
}

func (r *gcsResource) Handle() Handle { return r.handle }

func (r *gcsResource) objectAttrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	if r.attrs != nil {
		return r.attrs, nil
	}
	attrs, err := r.client.Bucket(r.bucket).Object(r.object).Attrs(ctx)
	if err != nil {
		return nil, NewUnavailableError(r.object, err)
	}
	r.attrs = attrs
	return attrs, nil
}

func (r *gcsResource) LastModified() (time.Time, error) {
	attrs, err := r.objectAttrs(context.Background())
	if err != nil {
		return time.Time{}, err
	}
	return attrs.Updated, nil
}

func (r *gcsResource) MimeType() (string, error) {
	attrs, err := r.objectAttrs(context.Background())
	if err != nil {
		return "", err
	}
	if attrs.ContentType != "" {
		return attrs.ContentType, nil
	}
	return mimeFromExtension(r.object), nil
}

func (r *gcsResource) Open() (io.ReadCloser, error) {
	rd, err := r.client.Bucket(r.bucket).Object(r.object).NewReader(context.Background())
	if err != nil {
		return nil, NewUnavailableError(r.object, err)
	}
	return rd, nil
}

func (r *gcsResource) Size() (int64, error) {
	attrs, err := r.objectAttrs(context.Background())
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}
