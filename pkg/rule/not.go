package rule

import "encoding/json"

func init() {
	RegisterType("not", notFromJSON)
}

// Not negates a single component rule. Its Split negates both of the
// component's residues rather than swapping their positions: a terminal
// boolean is flipped in place, and a non-terminal residue is re-wrapped in
// a fresh Not so that following either edge to its own terminal always
// yields the logical negation of what the un-negated rule would have
// produced along the same edge.
type Not struct {
	component   Rule
	sensitivity Sensitivity
	name        string
}

// NewNot negates component.
func NewNot(component Rule) *Not {
	return &Not{component: component, sensitivity: component.Sensitivity()}
}

// NewNotWithOverride negates component, reporting sensitivity/name
// regardless of what the component would otherwise report.
func NewNotWithOverride(sensitivity Sensitivity, name string, component Rule) *Not {
	return &Not{component: component, sensitivity: sensitivity, name: name}
}

func (r *Not) Sensitivity() Sensitivity { return r.sensitivity }
func (r *Not) Name() string             { return r.name }

func (r *Not) Split() (SimpleRule, Residue, Residue) {
	head, pve, nve := r.component.Split()
	return head, negate(pve), negate(nve)
}

func (r *Not) ToJSON() (json.RawMessage, error) {
	inner, err := r.component.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type        string          `json:"type"`
		Sensitivity string          `json:"sensitivity,omitempty"`
		Name        string          `json:"name,omitempty"`
		Component   json.RawMessage `json:"component"`
	}{Type: "not", Sensitivity: sensitivityToJSON(r.sensitivity), Name: r.name, Component: inner})
}

func notFromJSON(data []byte) (Rule, error) {
	var v struct {
		Sensitivity string          `json:"sensitivity"`
		Name        string          `json:"name"`
		Component   json.RawMessage `json:"component"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	inner, err := FromJSONObject(v.Component)
	if err != nil {
		return nil, err
	}
	s, err := sensitivityFromJSON(v.Sensitivity)
	if err != nil {
		return nil, err
	}
	return &Not{component: inner, sensitivity: s, name: v.Name}, nil
}
