// Package mail implements the mbox derived source: each message inside an
// mbox-format file becomes its own Handle, the same way zip/tar treat
// archive members.
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
)

func init() {
	model.RegisterSourceType("mbox", mboxSourceFromJSON)
	model.RegisterHandleType("mbox", mboxHandleFromJSON)
	model.RegisterDerivedSource("application/mbox", func(h model.Handle) model.Source {
		return NewMboxSource(h)
	})
	model.RegisterOpener("mbox", openMboxCookie)
}

// MboxSource is the messages inside the mbox-format file named by parent.
type MboxSource struct {
	parent model.Handle
}

// NewMboxSource wraps parent (a Handle whose content is an mbox file) as
// the Source containing its messages.
func NewMboxSource(parent model.Handle) *MboxSource {
	return &MboxSource{parent: parent}
}

func (s *MboxSource) Type() string { return "mbox" }

func (s *MboxSource) EqualityProperties() map[string]any {
	return map[string]any{"parent": s.parent.Presentation()}
}

func (s *MboxSource) Censor() model.Source { return &MboxSource{parent: s.parent.Censor()} }

func (s *MboxSource) YieldsIndependentSources() bool { return false }

func (s *MboxSource) Handles(ctx context.Context, sm model.SourceManager) iter.Seq2[model.Handle, error] {
	return func(yield func(model.Handle, error) bool) {
		cookie, err := sm.Open(ctx, s)
		if err != nil {
			yield(nil, err)
			return
		}
		mc, ok := cookie.(*mboxCookie)
		if !ok {
			yield(nil, fmt.Errorf("mail: mbox cookie has unexpected type %T", cookie))
			return
		}
		for i := range mc.offsets {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			default:
			}
			h := &MboxHandle{Base: model.NewBase(s, strconv.Itoa(i))}
			if !yield(h, nil) {
				return
			}
		}
	}
}

func (s *MboxSource) ToJSON() (json.RawMessage, error) {
	parentJSON, err := s.parent.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type   string          `json:"type"`
		Handle json.RawMessage `json:"handle"`
	}{Type: s.Type(), Handle: parentJSON})
}

func mboxSourceFromJSON(data []byte) (model.Source, error) {
	var v struct {
		Handle json.RawMessage `json:"handle"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	h, err := model.HandleFromJSONObject(v.Handle)
	if err != nil {
		return nil, fmt.Errorf("mail: mbox source handle: %w", err)
	}
	return NewMboxSource(h), nil
}

// MboxHandle names one message inside an MboxSource, by its 0-based
// position in file order.
type MboxHandle struct {
	model.Base
}

func (h *MboxHandle) PresentationURL() string { return "" }

func (h *MboxHandle) Censor() model.Handle {
	return &MboxHandle{Base: model.NewBase(h.Source().Censor(), h.RelativePath())}
}

func (h *MboxHandle) Crunch(hash bool) ([]byte, error) { return model.Crunch(h, hash) }

func (h *MboxHandle) Follow(ctx context.Context, sm model.SourceManager) (model.Resource, error) {
	cookie, err := sm.Open(ctx, h.Source())
	if err != nil {
		return nil, err
	}
	mc, ok := cookie.(*mboxCookie)
	if !ok {
		return nil, fmt.Errorf("mail: mbox cookie has unexpected type %T", cookie)
	}
	idx, err := strconv.Atoi(h.RelativePath())
	if err != nil || idx < 0 || idx >= len(mc.offsets) {
		return nil, model.NewUnavailableError(h.Presentation(), fmt.Errorf("message index out of range"))
	}
	return &mboxResource{handle: h, cookie: mc, index: idx}, nil
}

func (h *MboxHandle) ToJSON() (json.RawMessage, error) {
	srcJSON, err := h.Source().ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type         string          `json:"type"`
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"relative_path"`
	}{Type: "mbox", Source: srcJSON, RelativePath: h.RelativePath()})
}

func mboxHandleFromJSON(data []byte) (model.Handle, error) {
	var v struct {
		Source       json.RawMessage `json:"source"`
		RelativePath string          `json:"relative_path"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	src, err := model.FromJSONObject(v.Source)
	if err != nil {
		return nil, fmt.Errorf("mail: mbox handle source: %w", err)
	}
	return &MboxHandle{Base: model.NewBase(src, v.RelativePath)}, nil
}

type mboxResource struct {
	handle *MboxHandle
	cookie *mboxCookie
	index  int
}

func (r *mboxResource) Handle() model.Handle { return r.handle }

func (r *mboxResource) LastModified() (time.Time, error) {
	msg, err := r.parsedMessage()
	if err != nil {
		return time.Time{}, err
	}
	if d, err := msg.Header.Date(); err == nil {
		return d, nil
	}
	return time.Time{}, nil
}

func (r *mboxResource) MimeType() (string, error) { return "message/rfc822", nil }

func (r *mboxResource) Open() (io.ReadCloser, error) {
	raw, err := r.rawMessage()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(raw)), nil
}

func (r *mboxResource) Size() (int64, error) {
	raw, err := r.rawMessage()
	if err != nil {
		return 0, err
	}
	return int64(len(raw)), nil
}

func (r *mboxResource) rawMessage() (string, error) {
	off := r.cookie.offsets[r.index]
	end := len(r.cookie.content)
	if r.index+1 < len(r.cookie.offsets) {
		end = r.cookie.offsets[r.index+1]
	}
	return r.cookie.content[off:end], nil
}

func (r *mboxResource) parsedMessage() (*mail.Message, error) {
	raw, err := r.rawMessage()
	if err != nil {
		return nil, err
	}
	// Strip the mbox "From " separator line before handing the rest to
	// net/mail, which only understands RFC 5322 headers+body.
	if idx := strings.Index(raw, "\n"); idx >= 0 && strings.HasPrefix(raw, "From ") {
		raw = raw[idx+1:]
	}
	return mail.ReadMessage(strings.NewReader(raw))
}

type mboxCookie struct {
	content string
	offsets []int
}

// openMboxCookie materialises the parent handle's content in full and
// indexes the byte offset of every "From " separator line, the cheapest
// possible member index for a format with no directory of its own.
func openMboxCookie(ctx context.Context, src model.Source, sm model.SourceManager) (any, func() error, error) {
	ms, ok := src.(*MboxSource)
	if !ok {
		return nil, nil, fmt.Errorf("mail: openMboxCookie called with non-mbox source %T", src)
	}

	res, err := ms.parent.Follow(ctx, sm)
	if err != nil {
		return nil, nil, err
	}
	fr, ok := res.(model.FileResource)
	if !ok {
		return nil, nil, fmt.Errorf("mail: mbox parent handle did not yield a FileResource")
	}
	rc, err := fr.Open()
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("mail: reading mbox content: %w", err)
	}

	var offsets []int
	pos := 0
	for _, line := range strings.SplitAfter(string(content), "\n") {
		if strings.HasPrefix(line, "From ") {
			offsets = append(offsets, pos)
		}
		pos += len(line)
	}
	if len(offsets) == 0 && len(content) > 0 {
		offsets = append(offsets, 0)
	}

	return &mboxCookie{content: string(content), offsets: offsets}, nil, nil
}
