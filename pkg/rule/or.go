package rule

import "encoding/json"

func init() {
	RegisterType("or", orFromJSON)
}

// Or matches iff any component rule matches, short-circuiting to True as
// soon as one component succeeds.
type Or struct {
	components  []Rule
	sensitivity Sensitivity
	name        string
}

// NewOr builds a disjunction of components.
func NewOr(components ...Rule) *Or {
	return &Or{components: components, sensitivity: maxSensitivity(components)}
}

// NewOrWithOverride builds a disjunction that reports sensitivity/name
// regardless of what its components would otherwise report.
func NewOrWithOverride(sensitivity Sensitivity, name string, components ...Rule) *Or {
	return &Or{components: components, sensitivity: sensitivity, name: name}
}

func (r *Or) Sensitivity() Sensitivity { return r.sensitivity }
func (r *Or) Name() string             { return r.name }

// Split is the dual of And.Split: a match short-circuits to True, and a
// non-match grafts the remaining components to keep trying.
func (r *Or) Split() (SimpleRule, Residue, Residue) {
	first, rest := r.components[0], r.components[1:]
	head, pve, nve := first.Split()

	var newPve Residue
	if pve.IsBoolean() && pve.Bool() {
		newPve = True()
	} else {
		newPve = graftOr(pve, rest)
	}

	newNve := graftOr(nve, rest)

	return head, newPve, newNve
}

func graftOr(residue Residue, rest []Rule) Residue {
	if residue.IsBoolean() && residue.Bool() {
		return True()
	}
	if len(rest) == 0 {
		return residue
	}
	if residue.IsBoolean() && !residue.Bool() {
		if len(rest) == 1 {
			return FromRule(rest[0])
		}
		return FromRule(NewOr(rest...))
	}
	components := append([]Rule{residue.Rule()}, rest...)
	return FromRule(NewOr(components...))
}

func (r *Or) ToJSON() (json.RawMessage, error) {
	return marshalCompound("or", r.sensitivity, r.name, r.components)
}

func orFromJSON(data []byte) (Rule, error) {
	sensitivity, name, components, err := unmarshalCompound(data)
	if err != nil {
		return nil, err
	}
	return &Or{components: components, sensitivity: sensitivity, name: name}, nil
}
