package leaf

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	rule.RegisterType("last-modified", lastModifiedFromJSON)
}

// LastModifiedRule matches when the LastModified conversion value is
// strictly after Threshold: the usual way to restrict a scan to content
// changed since a previous run.
type LastModifiedRule struct {
	Threshold   time.Time
	sensitivity rule.Sensitivity
	name        string
}

// NewLastModifiedRule matches content last modified after threshold.
func NewLastModifiedRule(threshold time.Time, sensitivity rule.Sensitivity) *LastModifiedRule {
	return &LastModifiedRule{Threshold: threshold, sensitivity: sensitivity}
}

func (r *LastModifiedRule) Sensitivity() rule.Sensitivity { return r.sensitivity }
func (r *LastModifiedRule) Name() string                  { return r.name }
func (r *LastModifiedRule) OperatesOn() rule.OutputType    { return rule.LastModified }

func (r *LastModifiedRule) Split() (rule.SimpleRule, rule.Residue, rule.Residue) {
	return rule.SimpleSplit(r)
}

func (r *LastModifiedRule) Match(content any) ([]rule.MatchFragment, error) {
	t, ok := content.(time.Time)
	if !ok {
		return nil, fmt.Errorf("leaf: LastModifiedRule requires time.Time content, got %T", content)
	}
	if !t.After(r.Threshold) {
		return nil, nil
	}
	return []rule.MatchFragment{{
		Match:       t.Format(time.RFC3339),
		Probability: 1.0,
		Sensitivity: r.sensitivity,
	}}, nil
}

func (r *LastModifiedRule) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type        string    `json:"type"`
		Sensitivity string    `json:"sensitivity,omitempty"`
		Name        string    `json:"name,omitempty"`
		Threshold   time.Time `json:"threshold"`
	}{Type: "last-modified", Sensitivity: r.sensitivity.String(), Name: r.name, Threshold: r.Threshold})
}

func lastModifiedFromJSON(data []byte) (rule.Rule, error) {
	var v struct {
		Sensitivity string    `json:"sensitivity"`
		Name        string    `json:"name"`
		Threshold   time.Time `json:"threshold"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	s, err := sensitivityFromString(v.Sensitivity)
	if err != nil {
		return nil, err
	}
	r := NewLastModifiedRule(v.Threshold, s)
	r.name = v.Name
	return r, nil
}
