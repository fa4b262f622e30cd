// Package web implements the "web" derived source Component C names: an
// HTML page's outbound links become fresh, independent WebSources fed back
// into exploration, rather than Handles nested under the page that found
// them — a page does not contain the pages it links to.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/AsgerHL/Bachelor-POC/pkg/conversions"
	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	model.RegisterSourceType("weblinks", linksSourceFromJSON)
	model.RegisterDerivedSource("text/html", func(h model.Handle) model.Source {
		return NewLinksSource(h)
	})
	model.RegisterOpener("weblinks", openLinksCookie)
}

// LinksSource is the set of pages linked from the HTML page named by
// parent. Its Handles are not members of parent in any nested sense: each
// is a complete, independent model.WebHandle rooted at its own freshly
// built model.WebSource, which is exactly why YieldsIndependentSources
// reports true.
type LinksSource struct {
	parent model.Handle
}

// NewLinksSource wraps parent (a Handle whose content is an HTML page) as
// the Source containing the pages it links to.
func NewLinksSource(parent model.Handle) *LinksSource {
	return &LinksSource{parent: parent}
}

func (s *LinksSource) Type() string { return "weblinks" }

func (s *LinksSource) EqualityProperties() map[string]any {
	return map[string]any{"parent": s.parent.Presentation()}
}

func (s *LinksSource) Censor() model.Source { return &LinksSource{parent: s.parent.Censor()} }

func (s *LinksSource) YieldsIndependentSources() bool { return true }

func (s *LinksSource) Handles(ctx context.Context, sm model.SourceManager) iter.Seq2[model.Handle, error] {
	return func(yield func(model.Handle, error) bool) {
		cookie, err := sm.Open(ctx, s)
		if err != nil {
			yield(nil, err)
			return
		}
		urls, ok := cookie.([]string)
		if !ok {
			yield(nil, fmt.Errorf("web: weblinks cookie has unexpected type %T", cookie))
			return
		}
		for _, u := range urls {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			default:
			}
			h := &model.WebHandle{Base: model.NewBase(model.NewWebSource(u), "")}
			if !yield(h, nil) {
				return
			}
		}
	}
}

func (s *LinksSource) ToJSON() (json.RawMessage, error) {
	parentJSON, err := s.parent.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type   string          `json:"type"`
		Handle json.RawMessage `json:"handle"`
	}{Type: s.Type(), Handle: parentJSON})
}

func linksSourceFromJSON(data []byte) (model.Source, error) {
	var v struct {
		Handle json.RawMessage `json:"handle"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	h, err := model.HandleFromJSONObject(v.Handle)
	if err != nil {
		return nil, fmt.Errorf("web: weblinks source handle: %w", err)
	}
	return NewLinksSource(h), nil
}

// openLinksCookie follows the parent handle once and runs the Links
// conversion eagerly, caching the resulting URL list as the cookie: unlike
// the archive/mail derived sources there is no container cursor to keep
// open, so the cookie is just the already-computed result.
func openLinksCookie(ctx context.Context, src model.Source, sm model.SourceManager) (any, func() error, error) {
	ls, ok := src.(*LinksSource)
	if !ok {
		return nil, nil, fmt.Errorf("web: openLinksCookie called with non-weblinks source %T", src)
	}

	res, err := ls.parent.Follow(ctx, sm)
	if err != nil {
		return nil, nil, err
	}
	value, err := conversions.Convert(ctx, rule.Links, res)
	if err != nil {
		return nil, nil, err
	}
	urls, ok := value.([]string)
	if !ok {
		return nil, nil, fmt.Errorf("web: links conversion returned unexpected type %T", value)
	}
	return urls, nil, nil
}
