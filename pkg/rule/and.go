package rule

import "encoding/json"

func init() {
	RegisterType("and", andFromJSON)
}

// And matches iff every component rule matches, short-circuiting to False
// as soon as one component fails — no later component is ever evaluated.
type And struct {
	components []Rule
	sensitivity Sensitivity
	name        string
}

// NewAnd builds a conjunction of components. Its sensitivity is the
// highest of its components' and its name is empty; see
// NewAndWithOverride to set either.
func NewAnd(components ...Rule) *And {
	return &And{components: components, sensitivity: maxSensitivity(components)}
}

// NewAndWithOverride builds a conjunction that reports sensitivity/name
// regardless of what its components would otherwise report.
func NewAndWithOverride(sensitivity Sensitivity, name string, components ...Rule) *And {
	return &And{components: components, sensitivity: sensitivity, name: name}
}

func (r *And) Sensitivity() Sensitivity { return r.sensitivity }
func (r *And) Name() string             { return r.name }

// Split implements the list-grafting short-circuit described by the rule
// algebra: split the first component, graft the remaining components onto
// both residues, and collapse a non-match straight to False without ever
// constructing (let alone evaluating) the rest of the list.
func (r *And) Split() (SimpleRule, Residue, Residue) {
	first, rest := r.components[0], r.components[1:]
	head, pve, nve := first.Split()

	newPve := graftAnd(pve, rest)

	var newNve Residue
	if nve.IsBoolean() && !nve.Bool() {
		newNve = False()
	} else {
		newNve = graftAnd(nve, rest)
	}

	return head, newPve, newNve
}

// graftAnd builds the residue for "residue AND rest", collapsing the
// trivial cases (residue already False; rest empty; residue already True)
// instead of growing an ever-larger And node across repeated splits.
func graftAnd(residue Residue, rest []Rule) Residue {
	if residue.IsBoolean() && !residue.Bool() {
		return False()
	}
	if len(rest) == 0 {
		return residue
	}
	if residue.IsBoolean() && residue.Bool() {
		if len(rest) == 1 {
			return FromRule(rest[0])
		}
		return FromRule(NewAnd(rest...))
	}
	components := append([]Rule{residue.Rule()}, rest...)
	return FromRule(NewAnd(components...))
}

func (r *And) ToJSON() (json.RawMessage, error) {
	return marshalCompound("and", r.sensitivity, r.name, r.components)
}

func andFromJSON(data []byte) (Rule, error) {
	sensitivity, name, components, err := unmarshalCompound(data)
	if err != nil {
		return nil, err
	}
	return &And{components: components, sensitivity: sensitivity, name: name}, nil
}

func maxSensitivity(components []Rule) Sensitivity {
	var max Sensitivity
	for _, c := range components {
		if c.Sensitivity() > max {
			max = c.Sensitivity()
		}
	}
	return max
}
