package leaf

import (
	"encoding/json"
	"fmt"

	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	rule.RegisterType("dimensions", dimensionsFromJSON)
}

// DimensionsRule matches an image whose pixel dimensions clear every one
// of its configured thresholds: MinWidth, MinHeight and
// MinWidthTimesHeight. A zero threshold is not checked.
type DimensionsRule struct {
	MinWidth           int
	MinHeight          int
	MinWidthTimesHeight int

	sensitivity rule.Sensitivity
	name        string
}

// NewDimensionsRule builds a DimensionsRule. Pass 0 for any threshold that
// should not be checked.
func NewDimensionsRule(minWidth, minHeight, minWidthTimesHeight int, sensitivity rule.Sensitivity) *DimensionsRule {
	return &DimensionsRule{
		MinWidth:            minWidth,
		MinHeight:           minHeight,
		MinWidthTimesHeight: minWidthTimesHeight,
		sensitivity:         sensitivity,
	}
}

func (r *DimensionsRule) Sensitivity() rule.Sensitivity { return r.sensitivity }
func (r *DimensionsRule) Name() string                  { return r.name }
func (r *DimensionsRule) OperatesOn() rule.OutputType    { return rule.ImageDimensions }

func (r *DimensionsRule) Split() (rule.SimpleRule, rule.Residue, rule.Residue) {
	return rule.SimpleSplit(r)
}

func (r *DimensionsRule) Match(content any) ([]rule.MatchFragment, error) {
	dims, ok := content.(rule.ImageSize)
	if !ok {
		return nil, fmt.Errorf("leaf: DimensionsRule requires rule.ImageSize content, got %T", content)
	}

	if r.MinWidth > 0 && dims.Width < r.MinWidth {
		return nil, nil
	}
	if r.MinHeight > 0 && dims.Height < r.MinHeight {
		return nil, nil
	}
	if r.MinWidthTimesHeight > 0 && dims.Width*dims.Height < r.MinWidthTimesHeight {
		return nil, nil
	}

	return []rule.MatchFragment{{
		Match:       fmt.Sprintf("%dx%d", dims.Width, dims.Height),
		Probability: 1.0,
		Sensitivity: r.sensitivity,
	}}, nil
}

func (r *DimensionsRule) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type                string `json:"type"`
		Sensitivity         string `json:"sensitivity,omitempty"`
		Name                string `json:"name,omitempty"`
		MinWidth            int    `json:"min_width,omitempty"`
		MinHeight           int    `json:"min_height,omitempty"`
		MinWidthTimesHeight int    `json:"min_width_times_height,omitempty"`
	}{
		Type:                "dimensions",
		Sensitivity:         r.sensitivity.String(),
		Name:                r.name,
		MinWidth:            r.MinWidth,
		MinHeight:           r.MinHeight,
		MinWidthTimesHeight: r.MinWidthTimesHeight,
	})
}

func dimensionsFromJSON(data []byte) (rule.Rule, error) {
	var v struct {
		Sensitivity         string `json:"sensitivity"`
		Name                string `json:"name"`
		MinWidth            int    `json:"min_width"`
		MinHeight           int    `json:"min_height"`
		MinWidthTimesHeight int    `json:"min_width_times_height"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	s, err := sensitivityFromString(v.Sensitivity)
	if err != nil {
		return nil, err
	}
	r := NewDimensionsRule(v.MinWidth, v.MinHeight, v.MinWidthTimesHeight, s)
	r.name = v.Name
	return r, nil
}
