package conversions

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	Register(rule.Links, "text/html", convertLinks)
}

// hrefPattern and srcPattern extract href/src attribute values from <a> and
// <img> tags respectively, mirroring the reference extractor's
// absolute+relative href/src pull with base-URL resolution, without
// depending on a full HTML parser for a task this narrow.
var (
	hrefPattern = regexp.MustCompile(`(?is)<a\b[^>]*?\bhref\s*=\s*["']([^"']+)["']`)
	srcPattern  = regexp.MustCompile(`(?is)<img\b[^>]*?\bsrc\s*=\s*["']([^"']+)["']`)
)

func convertLinks(ctx context.Context, res model.Resource) (any, error) {
	fr, ok := res.(model.FileResource)
	if !ok {
		return nil, fmt.Errorf("conversions: links requires a FileResource, got %T", res)
	}
	rc, err := fr.Open()
	if err != nil {
		return nil, fmt.Errorf("conversions: opening resource: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("conversions: reading html: %w", err)
	}

	base, _ := url.Parse(res.Handle().PresentationURL())

	var links []string
	seen := map[string]bool{}
	collect := func(pattern *regexp.Regexp) {
		for _, m := range pattern.FindAllStringSubmatch(string(content), -1) {
			raw := strings.TrimSpace(m[1])
			if raw == "" {
				continue
			}
			resolved := raw
			if u, err := url.Parse(raw); err == nil && base != nil {
				resolved = base.ResolveReference(u).String()
			}
			if !strings.HasPrefix(resolved, "http") {
				continue
			}
			if !seen[resolved] {
				seen[resolved] = true
				links = append(links, resolved)
			}
		}
	}
	collect(hrefPattern)
	collect(srcPattern)
	return links, nil
}
