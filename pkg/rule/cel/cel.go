// Package cel implements a SimpleRule leaf backed by a compiled CEL
// expression, for sites that need matching logic more flexible than a
// regular expression without shipping Go code.
package cel

import (
	"encoding/json"
	"fmt"
	"sync"

	celgo "github.com/google/cel-go/cel"

	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	rule.RegisterType("cel", celRuleFromJSON)
}

var sharedEnv = sync.OnceValues(func() (*celgo.Env, error) {
	return celgo.NewEnv(
		celgo.Variable("text", celgo.StringType),
	)
})

// CELRule matches when a compiled CEL expression evaluates to true over the
// Text conversion, exposed to the expression as the variable "text".
type CELRule struct {
	expression  string
	program     celgo.Program
	operatesOn  rule.OutputType
	sensitivity rule.Sensitivity
	name        string
}

// NewCELRule compiles expression and binds it to operate on Text content.
func NewCELRule(expression string, sensitivity rule.Sensitivity) (*CELRule, error) {
	env, err := sharedEnv()
	if err != nil {
		return nil, fmt.Errorf("cel: building environment: %w", err)
	}
	// Determinism is checked against the bare parse tree, before the type
	// checker runs: a banned construct like now() is rejected the same way
	// whether or not the shared environment happens to declare it.
	parsed, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: parsing %q: %w", expression, issues.Err())
	}
	if err := checkDeterministic(parsed); err != nil {
		return nil, fmt.Errorf("cel: %q: %w", expression, err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compiling %q: %w", expression, issues.Err())
	}
	if outType := ast.OutputType(); outType != celgo.BoolType {
		return nil, fmt.Errorf("cel: expression %q must evaluate to bool, got %s", expression, outType)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel: constructing program for %q: %w", expression, err)
	}
	return &CELRule{
		expression:  expression,
		program:     prg,
		operatesOn:  rule.Text,
		sensitivity: sensitivity,
	}, nil
}

func (r *CELRule) Sensitivity() rule.Sensitivity { return r.sensitivity }
func (r *CELRule) Name() string                  { return r.name }
func (r *CELRule) OperatesOn() rule.OutputType    { return r.operatesOn }

func (r *CELRule) Split() (rule.SimpleRule, rule.Residue, rule.Residue) {
	return rule.SimpleSplit(r)
}

func (r *CELRule) Match(content any) ([]rule.MatchFragment, error) {
	text, ok := content.(string)
	if !ok {
		return nil, fmt.Errorf("cel: CELRule requires string content, got %T", content)
	}
	out, _, err := r.program.Eval(map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("cel: evaluating %q: %w", r.expression, err)
	}
	matched, ok := out.Value().(bool)
	if !ok || !matched {
		return nil, nil
	}
	return []rule.MatchFragment{{
		Match:       r.expression,
		Probability: 1.0,
		Sensitivity: r.sensitivity,
	}}, nil
}

func (r *CELRule) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		Sensitivity string `json:"sensitivity,omitempty"`
		Name        string `json:"name,omitempty"`
		Expression  string `json:"expression"`
	}{Type: "cel", Sensitivity: r.sensitivity.String(), Name: r.name, Expression: r.expression})
}

func celRuleFromJSON(data []byte) (rule.Rule, error) {
	var v struct {
		Sensitivity string `json:"sensitivity"`
		Name        string `json:"name"`
		Expression  string `json:"expression"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	s, err := sensitivityFromString(v.Sensitivity)
	if err != nil {
		return nil, err
	}
	r, err := NewCELRule(v.Expression, s)
	if err != nil {
		return nil, err
	}
	r.name = v.Name
	return r, nil
}

func sensitivityFromString(s string) (rule.Sensitivity, error) {
	switch s {
	case "", "notification":
		return rule.Notification, nil
	case "warning":
		return rule.Warning, nil
	case "problem":
		return rule.Problem, nil
	case "critical":
		return rule.Critical, nil
	default:
		return rule.Notification, fmt.Errorf("cel: unknown sensitivity %q", s)
	}
}
