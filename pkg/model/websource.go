package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"
)

func init() {
	RegisterSourceType("web", webSourceFromJSON)
	RegisterURLScheme("http", webSourceFromURL)
	RegisterURLScheme("https", webSourceFromURL)
	RegisterHandleType("web", webHandleFromJSON)
	RegisterOpener("web", func(ctx context.Context, s Source, sm SourceManager) (any, func() error, error) {
		return &http.Client{Timeout: 30 * time.Second}, nil, nil
	})
}

// WebSource names a single fetchable web page. It YieldsIndependentSources:
// the Links conversion over its one Handle discovers further URLs, and each
// becomes its own WebSource fed back into exploration, rather than a nested
// Handle of this one — a page does not "contain" the pages it links to.
type WebSource struct {
	url string
}

// NewWebSource builds a WebSource for the given absolute URL.
func NewWebSource(rawURL string) *WebSource {
	return &WebSource{url: rawURL}
}

func (s *WebSource) Type() string { return "web" }

func (s *WebSource) EqualityProperties() map[string]any {
	return map[string]any{"url": s.url}
}

func (s *WebSource) Censor() Source { return s }

func (s *WebSource) YieldsIndependentSources() bool { return true }

func (s *WebSource) Handles(ctx context.Context, sm SourceManager) iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		yield(&WebHandle{Base: NewBase(s, "")}, nil)
	}
}

func (s *WebSource) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}{Type: s.Type(), URL: s.url})
}

func webSourceFromJSON(data []byte) (Source, error) {
	var v struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v.URL == "" {
		return nil, &DeserialisationError{TypeLabel: "web", Field: "url", Err: fmt.Errorf("empty url")}
	}
	return NewWebSource(v.URL), nil
}

func webSourceFromURL(u *url.URL) (Source, error) {
	return NewWebSource(u.String()), nil
}

// WebHandle names the single page a WebSource describes. Its RelativePath
// is always empty: a web page has no internal addressing beyond its URL.
type WebHandle struct {
	Base
}

func (h *WebHandle) PresentationURL() string {
	src, ok := h.Source().(*WebSource)
	if !ok {
		return ""
	}
	return src.url
}

func (h *WebHandle) Presentation() string { return h.PresentationURL() }

func (h *WebHandle) Censor() Handle {
	return &WebHandle{Base: NewBase(h.Source().Censor(), "")}
}

func (h *WebHandle) Crunch(hash bool) ([]byte, error) { return Crunch(h, hash) }

func (h *WebHandle) Follow(ctx context.Context, sm SourceManager) (Resource, error) {
	cookie, err := sm.Open(ctx, h.Source())
	if err != nil {
		return nil, err
	}
	client, _ := cookie.(*http.Client)
	if client == nil {
		client = http.DefaultClient
	}
	src, ok := h.Source().(*WebSource)
	if !ok {
		return nil, &MalformedError{Where: h.Presentation(), Err: fmt.Errorf("handle's source is not a WebSource")}
	}
	return &webResource{handle: h, client: client, url: src.url}, nil
}

func (h *WebHandle) ToJSON() (json.RawMessage, error) {
	srcJSON, err := h.Source().ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type   string          `json:"type"`
		Source json.RawMessage `json:"source"`
	}{Type: "web", Source: srcJSON})
}

func webHandleFromJSON(data []byte) (Handle, error) {
	var v struct {
		Source json.RawMessage `json:"source"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	src, err := FromJSONObject(v.Source)
	if err != nil {
		return nil, err
	}
	return &WebHandle{Base: NewBase(src, "")}, nil
}

type webResource struct {
	handle *WebHandle
	client *http.Client
	url    string

	cachedHeader http.Header
}

func (r *webResource) Handle() Handle { return r.handle }

func (r *webResource) head(ctx context.Context) (http.Header, error) {
	if r.cachedHeader != nil {
		return r.cachedHeader, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.url, nil)
	if err != nil {
		return nil, &MalformedError{Where: r.url, Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, NewUnavailableError(r.url, err)
	}
	defer resp.Body.Close()
	r.cachedHeader = resp.Header
	return resp.Header, nil
}

func (r *webResource) LastModified() (time.Time, error) {
	hdr, err := r.head(context.Background())
	if err != nil {
		return time.Time{}, err
	}
	lm := hdr.Get("Last-Modified")
	if lm == "" {
		return time.Time{}, nil
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (r *webResource) MimeType() (string, error) {
	hdr, err := r.head(context.Background())
	if err != nil {
		return "", err
	}
	ct := hdr.Get("Content-Type")
	if ct == "" {
		return "application/octet-stream", nil
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct, nil
}

func (r *webResource) Open() (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, r.url, nil)
	if err != nil {
		return nil, &MalformedError{Where: r.url, Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, NewUnavailableError(r.url, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, NewUnavailableError(r.url, fmt.Errorf("http status %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func (r *webResource) Size() (int64, error) {
	hdr, err := r.head(context.Background())
	if err != nil {
		return 0, err
	}
	cl := hdr.Get("Content-Length")
	if cl == "" {
		return -1, nil
	}
	var n int64
	if _, err := fmt.Sscanf(cl, "%d", &n); err != nil {
		return -1, nil
	}
	return n, nil
}
