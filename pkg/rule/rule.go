// Package rule implements the composable rule algebra: an algebraic
// expression tree of And/Or/Not nodes over leaf SimpleRules, evaluated by
// repeatedly peeling off one leaf at a time via Split and following the
// residue that matches the observed outcome.
package rule

import (
	"encoding/json"
	"fmt"
)

// Sensitivity classifies how serious a match is, ordered from least to
// most severe. A compound rule's effective sensitivity is the maximum of
// its children's unless it declares its own override.
type Sensitivity int

const (
	Notification Sensitivity = iota
	Warning
	Problem
	Critical
)

func (s Sensitivity) String() string {
	switch s {
	case Notification:
		return "notification"
	case Warning:
		return "warning"
	case Problem:
		return "problem"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// OutputType names the closed set of representation kinds a SimpleRule can
// demand a conversion for.
type OutputType string

const (
	Text            OutputType = "text"
	Links           OutputType = "links"
	ImageDimensions OutputType = "image-dimensions"
	LastModified    OutputType = "last-modified"
	MRZ             OutputType = "mrz"
	AlwaysTrue      OutputType = "always-true"
	NoConversions   OutputType = "no-conversions"
)

// ImageSize is the conversion value produced for ImageDimensions: the pixel
// dimensions of an image resource.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MatchFragment is one hit produced by a SimpleRule's Match.
type MatchFragment struct {
	Match       string      `json:"match"`
	Offset      int         `json:"offset,omitempty"`
	Context     string      `json:"context,omitempty"`
	Probability float64     `json:"probability,omitempty"`
	Sensitivity Sensitivity `json:"-"`
}

// Rule is an algebraic expression tree node: a leaf SimpleRule or a
// compound And/Or/Not. Rules are immutable; Split always returns fresh
// subtrees rather than mutating the receiver.
type Rule interface {
	// Sensitivity is this rule's own severity, or the severity it
	// imposes on its children when it overrides them.
	Sensitivity() Sensitivity

	// Name is an optional human-readable label; "" if unset.
	Name() string

	// Split peels off the next SimpleRule to evaluate and the two
	// residues to continue with depending on whether it matches.
	Split() (head SimpleRule, pve, nve Residue)

	// ToJSON renders this rule as its canonical {"type": ..., ...} form.
	ToJSON() (json.RawMessage, error)
}

// SimpleRule is a leaf Rule: it names the OutputType it needs and knows how
// to test a conversion of that type directly, without further splitting.
type SimpleRule interface {
	Rule

	// OperatesOn is the OutputType this rule needs a conversion for.
	OperatesOn() OutputType

	// Match tests content (the conversion value produced for
	// OperatesOn()) and returns zero or more match fragments. No
	// fragments means the rule did not match.
	Match(content any) ([]MatchFragment, error)
}

// Residue is the next state of an in-progress rule evaluation: either a
// terminal boolean outcome or another Rule to continue splitting.
type Residue struct {
	isBoolean bool
	boolean   bool
	rule      Rule
}

// True is the terminal "matched" residue.
func True() Residue { return Residue{isBoolean: true, boolean: true} }

// False is the terminal "did not match" residue.
func False() Residue { return Residue{isBoolean: true, boolean: false} }

// FromRule wraps a non-terminal Rule as a residue.
func FromRule(r Rule) Residue {
	if r == nil {
		return False()
	}
	return Residue{rule: r}
}

// IsBoolean reports whether this residue is terminal.
func (r Residue) IsBoolean() bool { return r.isBoolean }

// Bool returns the terminal value; only meaningful when IsBoolean is true.
func (r Residue) Bool() bool { return r.boolean }

// Rule returns the non-terminal rule this residue carries; only meaningful
// when IsBoolean is false.
func (r Residue) Rule() Rule { return r.rule }

// negate returns the residue that represents the logical negation of r:
// flipping a terminal boolean, or wrapping a non-terminal rule in Not, so
// that following the negated residue down to its own terminal always
// yields the opposite of following r.
func negate(r Residue) Residue {
	if r.IsBoolean() {
		if r.Bool() {
			return False()
		}
		return True()
	}
	return FromRule(NewNot(r.Rule()))
}

// SimpleSplit is the Split implementation every SimpleRule shares: a leaf
// always splits to itself with the canonical boolean residues.
func SimpleSplit(self SimpleRule) (SimpleRule, Residue, Residue) {
	return self, True(), False()
}

// Evaluate runs the full split/match loop described by the rule algebra:
// starting from r, repeatedly split, fetch the content the resulting head
// needs via fetch, and follow pve or nve depending on whether it matched.
// It stops and returns an error if fetch or Match fails, or if r never
// reaches a terminal boolean within maxSteps splits (a defence against a
// malformed rule tree that cycles).
func Evaluate(r Rule, maxSteps int, fetch func(OutputType) (any, error)) (bool, []MatchFragment, error) {
	var fragments []MatchFragment
	current := FromRule(r)
	for step := 0; ; step++ {
		if current.IsBoolean() {
			return current.Bool(), fragments, nil
		}
		if step >= maxSteps {
			return false, fragments, fmt.Errorf("rule: split() did not terminate within %d steps", maxSteps)
		}
		head, pve, nve := current.Rule().Split()
		content, err := fetch(head.OperatesOn())
		if err != nil {
			return false, fragments, err
		}
		matches, err := head.Match(content)
		if err != nil {
			return false, fragments, fmt.Errorf("rule: %T.Match: %w", head, err)
		}
		fragments = append(fragments, matches...)
		if len(matches) > 0 {
			current = pve
		} else {
			current = nve
		}
	}
}
