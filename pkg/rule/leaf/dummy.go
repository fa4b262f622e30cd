package leaf

import (
	"encoding/json"
	"fmt"

	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	rule.RegisterType("always-matches", alwaysMatchesFromJSON)
	rule.RegisterType("never-matches", neverMatchesFromJSON)
	rule.RegisterType("buggy", buggyFromJSON)
}

// AlwaysMatchesRule matches every piece of content unconditionally. It
// operates on AlwaysTrue, the output type every pipeline guarantees a
// trivial conversion for, so it never needs to touch real content.
type AlwaysMatchesRule struct {
	sensitivity rule.Sensitivity
	name        string
}

func NewAlwaysMatchesRule(sensitivity rule.Sensitivity) *AlwaysMatchesRule {
	return &AlwaysMatchesRule{sensitivity: sensitivity}
}

func (r *AlwaysMatchesRule) Sensitivity() rule.Sensitivity { return r.sensitivity }
func (r *AlwaysMatchesRule) Name() string                  { return r.name }
func (r *AlwaysMatchesRule) OperatesOn() rule.OutputType    { return rule.AlwaysTrue }
func (r *AlwaysMatchesRule) Split() (rule.SimpleRule, rule.Residue, rule.Residue) {
	return rule.SimpleSplit(r)
}
func (r *AlwaysMatchesRule) Match(content any) ([]rule.MatchFragment, error) {
	return []rule.MatchFragment{{Match: "always", Probability: 1.0, Sensitivity: r.sensitivity}}, nil
}
func (r *AlwaysMatchesRule) ToJSON() (json.RawMessage, error) {
	return marshalDummy("always-matches", r.sensitivity, r.name)
}
func alwaysMatchesFromJSON(data []byte) (rule.Rule, error) {
	s, name, err := unmarshalDummy(data)
	if err != nil {
		return nil, err
	}
	return &AlwaysMatchesRule{sensitivity: s, name: name}, nil
}

// NeverMatchesRule never matches. It operates on NoConversions, the output
// type no conversion is ever produced for, so fetch is expected to hand it
// an empty/zero value rather than real content.
type NeverMatchesRule struct {
	sensitivity rule.Sensitivity
	name        string
}

func NewNeverMatchesRule(sensitivity rule.Sensitivity) *NeverMatchesRule {
	return &NeverMatchesRule{sensitivity: sensitivity}
}

func (r *NeverMatchesRule) Sensitivity() rule.Sensitivity { return r.sensitivity }
func (r *NeverMatchesRule) Name() string                  { return r.name }
func (r *NeverMatchesRule) OperatesOn() rule.OutputType    { return rule.NoConversions }
func (r *NeverMatchesRule) Split() (rule.SimpleRule, rule.Residue, rule.Residue) {
	return rule.SimpleSplit(r)
}
func (r *NeverMatchesRule) Match(content any) ([]rule.MatchFragment, error) {
	return nil, nil
}
func (r *NeverMatchesRule) ToJSON() (json.RawMessage, error) {
	return marshalDummy("never-matches", r.sensitivity, r.name)
}
func neverMatchesFromJSON(data []byte) (rule.Rule, error) {
	s, name, err := unmarshalDummy(data)
	if err != nil {
		return nil, err
	}
	return &NeverMatchesRule{sensitivity: s, name: name}, nil
}

// BuggyRule always fails its Match, for exercising the evaluation loop's
// error path.
type BuggyRule struct {
	sensitivity rule.Sensitivity
	name        string
}

func NewBuggyRule(sensitivity rule.Sensitivity) *BuggyRule {
	return &BuggyRule{sensitivity: sensitivity}
}

func (r *BuggyRule) Sensitivity() rule.Sensitivity { return r.sensitivity }
func (r *BuggyRule) Name() string                  { return r.name }
func (r *BuggyRule) OperatesOn() rule.OutputType    { return rule.AlwaysTrue }
func (r *BuggyRule) Split() (rule.SimpleRule, rule.Residue, rule.Residue) {
	return rule.SimpleSplit(r)
}
func (r *BuggyRule) Match(content any) ([]rule.MatchFragment, error) {
	return nil, fmt.Errorf("leaf: BuggyRule always fails")
}
func (r *BuggyRule) ToJSON() (json.RawMessage, error) {
	return marshalDummy("buggy", r.sensitivity, r.name)
}
func buggyFromJSON(data []byte) (rule.Rule, error) {
	s, name, err := unmarshalDummy(data)
	if err != nil {
		return nil, err
	}
	return &BuggyRule{sensitivity: s, name: name}, nil
}

func marshalDummy(typeLabel string, sensitivity rule.Sensitivity, name string) (json.RawMessage, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		Sensitivity string `json:"sensitivity,omitempty"`
		Name        string `json:"name,omitempty"`
	}{Type: typeLabel, Sensitivity: sensitivity.String(), Name: name})
}

func unmarshalDummy(data []byte) (rule.Sensitivity, string, error) {
	var v struct {
		Sensitivity string `json:"sensitivity"`
		Name        string `json:"name"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, "", err
	}
	s, err := sensitivityFromString(v.Sensitivity)
	if err != nil {
		return 0, "", err
	}
	return s, v.Name, nil
}
