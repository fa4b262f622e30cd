package conversions

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

func init() {
	Register(rule.Text, "text/plain", convertPlainText)
	Register(rule.Text, "text/html", convertPlainText)
}

// pageSize bounds how much text MultipleResults.Next hands back at once, so
// a rule evaluating against a multi-gigabyte text file never has to hold
// the whole decoded string in memory at once.
const pageSize = 1 << 16

// MultipleResults lazily paginates a large text conversion, matching the
// "partial, lazy pagination where the backing format supports it" Text
// values are specified to use. Next returns "", false once exhausted.
type MultipleResults struct {
	r   io.Reader
	buf []byte
}

// NewMultipleResults wraps r (already transcoded to UTF-8) as a paginated
// Text value.
func NewMultipleResults(r io.Reader) *MultipleResults {
	return &MultipleResults{r: r, buf: make([]byte, pageSize)}
}

// Next returns the next page of decoded text, or ok=false when the
// underlying reader is exhausted.
func (m *MultipleResults) Next() (page string, ok bool, err error) {
	if m.r == nil {
		return "", false, nil
	}
	n, err := io.ReadFull(m.r, m.buf)
	if n > 0 {
		page = string(m.buf[:n])
		ok = true
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		m.r = nil
		return page, ok, nil
	}
	if err != nil {
		return "", false, err
	}
	return page, true, nil
}

// All drains every remaining page and concatenates them; a rule evaluator
// that doesn't need streaming (e.g. a short regex scan) can call this
// instead of paging manually.
func (m *MultipleResults) All() (string, error) {
	var out bytes.Buffer
	for {
		page, ok, err := m.Next()
		if err != nil {
			return "", err
		}
		out.WriteString(page)
		if !ok {
			break
		}
	}
	return out.String(), nil
}

func convertPlainText(ctx context.Context, res model.Resource) (any, error) {
	fr, ok := res.(model.FileResource)
	if !ok {
		return nil, fmt.Errorf("conversions: text requires a FileResource, got %T", res)
	}
	rc, err := fr.Open()
	if err != nil {
		return nil, fmt.Errorf("conversions: opening resource: %w", err)
	}
	decoded := transform.NewReader(rc, utf8Decoder())
	return &closingMultipleResults{MultipleResults: NewMultipleResults(decoded), closer: rc}, nil
}

// closingMultipleResults closes the underlying resource stream once
// exhausted, so callers that only ever call Next/All don't leak the open
// handle from Resource.Open.
type closingMultipleResults struct {
	*MultipleResults
	closer io.Closer
	closed bool
}

func (c *closingMultipleResults) Next() (string, bool, error) {
	page, ok, err := c.MultipleResults.Next()
	if (!ok || err != nil) && !c.closed {
		c.closed = true
		c.closer.Close()
	}
	return page, ok, err
}

func (c *closingMultipleResults) All() (string, error) {
	all, err := c.MultipleResults.All()
	if !c.closed {
		c.closed = true
		c.closer.Close()
	}
	return all, err
}

func utf8Decoder() transform.Transformer {
	// BOM-aware UTF-8 passthrough: most scanned text is already UTF-8;
	// this normalises a leading BOM and leaves everything else alone
	// rather than guessing at legacy encodings.
	return unicode.BOMOverride(encoding.Nop.NewDecoder())
}
