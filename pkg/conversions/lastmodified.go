package conversions

import (
	"context"
	"fmt"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	Register(rule.LastModified, "*", convertLastModified)
}

func convertLastModified(ctx context.Context, res model.Resource) (any, error) {
	t, err := res.LastModified()
	if err != nil {
		return nil, fmt.Errorf("conversions: last-modified: %w", err)
	}
	return t, nil
}
