//go:build property
// +build property

package canonicalize

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestJCSDeterminism verifies JCS(v) == JCS(v) for any map built from
// arbitrary key/value pairs, regardless of Go's randomised map iteration
// order.
func TestJCSDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("JCS is deterministic across repeated calls", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			if len(obj) == 0 {
				return true
			}

			b1, err1 := JCS(obj)
			b2, err2 := JCS(obj)
			if err1 != nil && err2 != nil {
				return true
			}
			if err1 != nil || err2 != nil {
				return false
			}
			return string(b1) == string(b2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestJCSKeyOrderIndependence verifies two maps built from the same
// key/value pairs in different insertion orders canonicalize identically.
// RFC 8785 requires this: key order in the source must not leak into the
// output.
func TestJCSKeyOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("key insertion order does not affect the canonical form", prop.ForAll(
		func(a, b, c string) bool {
			forward := map[string]any{"a": a, "b": b, "c": c}
			reversed := map[string]any{"c": c, "b": b, "a": a}

			bf, errf := JCS(forward)
			br, errr := JCS(reversed)
			if errf != nil || errr != nil {
				return errf != nil && errr != nil
			}
			return string(bf) == string(br)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestCanonicalHashMatchesJCS verifies CanonicalHash(v) is always the
// SHA-256 digest of JCS(v), never diverging from it under repeated or
// differently-ordered input.
func TestCanonicalHashMatchesJCS(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("CanonicalHash tracks JCS output", prop.ForAll(
		func(a, b string) bool {
			obj := map[string]any{"a": a, "b": b}

			canonical, err := JCS(obj)
			if err != nil {
				return true
			}
			want := HashBytes(canonical)

			got, err := CanonicalHash(obj)
			if err != nil {
				return false
			}
			return got == want
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
