package conversions

import (
	"context"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	Register(rule.ImageDimensions, "image/*", convertImageDimensions)
}

func convertImageDimensions(ctx context.Context, res model.Resource) (any, error) {
	fr, ok := res.(model.FileResource)
	if !ok {
		return nil, fmt.Errorf("conversions: image-dimensions requires a FileResource, got %T", res)
	}
	rc, err := fr.Open()
	if err != nil {
		return nil, fmt.Errorf("conversions: opening resource: %w", err)
	}
	defer rc.Close()

	cfg, _, err := image.DecodeConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("conversions: decoding image header: %w", err)
	}
	return rule.ImageSize{Width: cfg.Width, Height: cfg.Height}, nil
}
