package leaf

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	rule.RegisterType("regex", regexFromJSON)
}

// RegexRule matches a compiled regular expression against Text content,
// reporting one MatchFragment per non-overlapping hit.
type RegexRule struct {
	pattern     string
	re          *regexp.Regexp
	sensitivity rule.Sensitivity
	name        string
}

// NewRegexRule compiles pattern and returns a rule matching it against Text.
func NewRegexRule(pattern string, sensitivity rule.Sensitivity) (*RegexRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("leaf: invalid regex %q: %w", pattern, err)
	}
	return &RegexRule{pattern: pattern, re: re, sensitivity: sensitivity}, nil
}

func (r *RegexRule) Sensitivity() rule.Sensitivity { return r.sensitivity }
func (r *RegexRule) Name() string                  { return r.name }
func (r *RegexRule) OperatesOn() rule.OutputType    { return rule.Text }

func (r *RegexRule) Split() (rule.SimpleRule, rule.Residue, rule.Residue) {
	return rule.SimpleSplit(r)
}

func (r *RegexRule) Match(content any) ([]rule.MatchFragment, error) {
	text, ok := content.(string)
	if !ok {
		return nil, fmt.Errorf("leaf: RegexRule requires string content, got %T", content)
	}
	locs := r.re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil, nil
	}
	fragments := make([]rule.MatchFragment, 0, len(locs))
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		ctxStart := start - 20
		if ctxStart < 0 {
			ctxStart = 0
		}
		ctxEnd := end + 20
		if ctxEnd > len(text) {
			ctxEnd = len(text)
		}
		fragments = append(fragments, rule.MatchFragment{
			Match:       text[start:end],
			Offset:      start,
			Context:     text[ctxStart:ctxEnd],
			Probability: 1.0,
			Sensitivity: r.sensitivity,
		})
	}
	return fragments, nil
}

func (r *RegexRule) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		Sensitivity string `json:"sensitivity,omitempty"`
		Name        string `json:"name,omitempty"`
		Pattern     string `json:"pattern"`
	}{Type: "regex", Sensitivity: r.sensitivity.String(), Name: r.name, Pattern: r.pattern})
}

func regexFromJSON(data []byte) (rule.Rule, error) {
	var v struct {
		Sensitivity string `json:"sensitivity"`
		Name        string `json:"name"`
		Pattern     string `json:"pattern"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	s, err := sensitivityFromString(v.Sensitivity)
	if err != nil {
		return nil, err
	}
	r, err := NewRegexRule(v.Pattern, s)
	if err != nil {
		return nil, err
	}
	r.name = v.Name
	return r, nil
}
