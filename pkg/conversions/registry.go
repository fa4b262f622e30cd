// Package conversions computes the OutputType values a Rule evaluation
// needs from a model.Resource: text, links, image dimensions, last
// modified time. Converters are dispatched by OutputType and MIME glob,
// mirroring the way pkg/model dispatches derived sources, so a new
// converter is added by registering it rather than by editing a switch.
package conversions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

// Converter computes one OutputType's value from an opened resource.
type Converter func(ctx context.Context, res model.Resource) (any, error)

type registration struct {
	mimePattern string
	convert     Converter
}

var (
	mu       sync.RWMutex
	registry = map[rule.OutputType][]registration{}
)

// Register adds convert as the converter for outputType on resources whose
// MIME type matches mimePattern (model.MimeMatches dialect: exact,
// "type/*", or "*"). The most specific matching pattern wins when more
// than one is registered for the same OutputType.
func Register(outputType rule.OutputType, mimePattern string, convert Converter) {
	mu.Lock()
	defer mu.Unlock()
	registry[outputType] = append(registry[outputType], registration{mimePattern, convert})
}

// ErrNoConverter is wrapped into the error returned when no converter is
// registered for an OutputType/MIME combination.
type ErrNoConverter struct {
	OutputType rule.OutputType
	Mime       string
}

func (e *ErrNoConverter) Error() string {
	return fmt.Sprintf("conversions: no converter for %s on mime %q", e.OutputType, e.Mime)
}

// Convert computes outputType for res, picking the most specific
// registered converter whose MIME pattern matches res's MIME type.
func Convert(ctx context.Context, outputType rule.OutputType, res model.Resource) (any, error) {
	mimeType, err := res.MimeType()
	if err != nil {
		return nil, fmt.Errorf("conversions: resolving mime type: %w", err)
	}

	mu.RLock()
	candidates := append([]registration(nil), registry[outputType]...)
	mu.RUnlock()

	var matches []registration
	for _, c := range candidates {
		if model.MimeMatches(c.mimePattern, mimeType) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return nil, &ErrNoConverter{OutputType: outputType, Mime: mimeType}
	}
	sort.Slice(matches, func(i, j int) bool {
		return model.MimeSpecificity(matches[i].mimePattern) > model.MimeSpecificity(matches[j].mimePattern)
	})
	return matches[0].convert(ctx, res)
}
