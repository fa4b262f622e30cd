package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"
)

func init() {
	RegisterSourceType("ews", ewsSourceFromJSON)
	RegisterHandleType("ews", ewsHandleFromJSON)
	RegisterOpener("ews", func(ctx context.Context, s Source, sm SourceManager) (any, func() error, error) {
		src, ok := s.(*EWSSource)
		if !ok {
			return nil, nil, fmt.Errorf("not an EWSSource")
		}
		token := ""
		if EWSTokenProvider != nil {
			t, err := EWSTokenProvider(ctx, src.Mailbox)
			if err != nil {
				return nil, nil, NewUnavailableError(src.Mailbox, err)
			}
			token = t
		}
		return &ewsClient{endpoint: src.Endpoint, mailbox: src.Mailbox, token: token}, nil, nil
	})
}

// EWSTokenProvider supplies the bearer token for an EWS mailbox. It is nil
// until a credential-handling package (pkg/credentials) sets it during its
// own init(), keeping this package free of a dependency on how tokens are
// minted or refreshed.
var EWSTokenProvider func(ctx context.Context, mailbox string) (string, error)

// ewsClient is the minimal cookie the EWS opener hands out: enough to list
// and fetch messages over bearer-authenticated HTTP. Its token is the one
// EWSTokenProvider returned when the source was opened. Any status of 400
// or above, 401 included, comes back as a plain error (Handles wraps a
// failed listing as an UnavailableError); the token is not refreshed and
// the request is not retried.
type ewsClient struct {
	endpoint string
	mailbox  string
	token    string
}

func (c *ewsClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *ewsClient) ListMessageIDs(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/Mailboxes/"+c.mailbox+"/messages", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ews list: http status %d", resp.StatusCode)
	}
	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *ewsClient) FetchMessage(ctx context.Context, id string) (io.ReadCloser, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/Mailboxes/"+c.mailbox+"/messages/"+id, nil)
	if err != nil {
		return nil, nil, err
	}
	c.authorize(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("ews fetch: http status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header, nil
}

// EWSSource describes one Exchange mailbox reached over Exchange Web
// Services. Its cookie is an *ewsClient carrying the bearer token that
// EWSTokenProvider returned when the SourceManager opened the source. The
// token is not refreshed for the life of the cookie: a request that comes
// back 401 fails like any other HTTP error.
type EWSSource struct {
	Endpoint string
	Mailbox  string
}

// NewEWSSource builds an EWSSource for the given EWS endpoint and mailbox
// address.
func NewEWSSource(endpoint, mailbox string) *EWSSource {
	return &EWSSource{Endpoint: endpoint, Mailbox: mailbox}
}

func (s *EWSSource) Type() string { return "ews" }

func (s *EWSSource) EqualityProperties() map[string]any {
	return map[string]any{"endpoint": s.Endpoint, "mailbox": s.Mailbox}
}

func (s *EWSSource) Censor() Source { return s }

func (s *EWSSource) YieldsIndependentSources() bool { return false }

// Handles enumerates every message in the mailbox by asking the opened
// cookie for its message IDs. This package owns addressing and a minimal
// REST listing/fetching client, not a full EWS client; a failed listing,
// 401 included, is yielded as an UnavailableError without a retry.
func (s *EWSSource) Handles(ctx context.Context, sm SourceManager) iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		cookie, err := sm.Open(ctx, s)
		if err != nil {
			yield(nil, err)
			return
		}
		lister, ok := cookie.(interface {
			ListMessageIDs(ctx context.Context) ([]string, error)
		})
		if !ok {
			yield(nil, &MalformedError{Where: s.Mailbox, Err: fmt.Errorf("cookie does not support listing messages")})
			return
		}
		ids, err := lister.ListMessageIDs(ctx)
		if err != nil {
			yield(nil, NewUnavailableError(s.Mailbox, err))
			return
		}
		for _, id := range ids {
			if !yield(&EWSHandle{Base: NewBase(s, id)}, nil) {
				return
			}
		}
	}
}

func (s *EWSSource) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Endpoint string `json:"endpoint"`
		Mailbox  string `json:"mailbox"`
	}{Type: s.Type(), Endpoint: s.Endpoint, Mailbox: s.Mailbox})
}

func ewsSourceFromJSON(data []byte) (Source, error) {
	var v struct {
		Endpoint string `json:"endpoint"`
		Mailbox  string `json:"mailbox"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v.Mailbox == "" {
		return nil, &DeserialisationError{TypeLabel: "ews", Field: "mailbox", Err: fmt.Errorf("empty mailbox")}
	}
	return NewEWSSource(v.Endpoint, v.Mailbox), nil
}

// EWSHandle names one message in an EWSSource's mailbox by its item ID.
type EWSHandle struct {
	Base
}

func (h *EWSHandle) PresentationURL() string { return "" }

func (h *EWSHandle) Presentation() string {
	src, ok := h.Source().(*EWSSource)
	if !ok {
		return h.RelativePath()
	}
	return fmt.Sprintf("%s#%s", src.Mailbox, h.RelativePath())
}

func (h *EWSHandle) Censor() Handle {
	return &EWSHandle{Base: NewBase(h.Source().Censor(), h.RelativePath())}
}

func (h *EWSHandle) Crunch(hash bool) ([]byte, error) { return Crunch(h, hash) }

func (h *EWSHandle) Follow(ctx context.Context, sm SourceManager) (Resource, error) {
	cookie, err := sm.Open(ctx, h.Source())
	if err != nil {
		return nil, err
	}
	fetcher, ok := cookie.(interface {
		FetchMessage(ctx context.Context, id string) (io.ReadCloser, http.Header, error)
	})
	if !ok {
		return nil, &MalformedError{Where: h.Presentation(), Err: fmt.Errorf("cookie does not support fetching messages")}
	}
	return &ewsResource{ctx: ctx, handle: h, fetcher: fetcher}, nil
}

func (h *EWSHandle) ToJSON() (json.RawMessage, error) {
	srcJSON, err := h.Source().ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type   string          `json:"type"`
		Source json.RawMessage `json:"source"`
		ID     string          `json:"id"`
	}{Type: "ews", Source: srcJSON, ID: h.RelativePath()})
}

func ewsHandleFromJSON(data []byte) (Handle, error) {
	var v struct {
		Source json.RawMessage `json:"source"`
		ID     string          `json:"id"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	src, err := FromJSONObject(v.Source)
	if err != nil {
		return nil, err
	}
	return &EWSHandle{Base: NewBase(src, v.ID)}, nil
}

type ewsResource struct {
	ctx     context.Context
	handle  *EWSHandle
	fetcher interface {
		FetchMessage(ctx context.Context, id string) (io.ReadCloser, http.Header, error)
	}

	header http.Header
}

func (r *ewsResource) Handle() Handle { return r.handle }

func (r *ewsResource) ensureHeader() (http.Header, error) {
	if r.header != nil {
		return r.header, nil
	}
	body, header, err := r.fetcher.FetchMessage(r.ctx, r.handle.RelativePath())
	if err != nil {
		return nil, NewUnavailableError(r.handle.Presentation(), err)
	}
	body.Close()
	r.header = header
	return header, nil
}

func (r *ewsResource) LastModified() (time.Time, error) {
	hdr, err := r.ensureHeader()
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

func (r *ewsResource) MimeType() (string, error) { return "message/rfc822", nil }

func (r *ewsResource) Open() (io.ReadCloser, error) {
	body, _, err := r.fetcher.FetchMessage(r.ctx, r.handle.RelativePath())
	if err != nil {
		return nil, NewUnavailableError(r.handle.Presentation(), err)
	}
	return body, nil
}

func (r *ewsResource) Size() (int64, error) { return -1, nil }
