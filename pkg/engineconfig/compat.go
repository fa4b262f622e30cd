package engineconfig

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CompatibilityGate checks a scan spec's configuration.schema_version
// constraint against the running engine's version before the Explorer
// accepts the spec. A scan spec produced by an older or newer control
// plane can declare the engine versions it was validated against, so a
// rolling upgrade never silently mismatches a scan spec's assumptions
// about rule/message shapes.
type CompatibilityGate struct {
	engineVersion *semver.Version
}

// NewCompatibilityGate builds a gate bound to the given engine version
// (engineVersion is typically engineconfig.EngineVersion).
func NewCompatibilityGate(engineVersion string) (*CompatibilityGate, error) {
	v, err := semver.NewVersion(engineVersion)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: invalid engine version %q: %w", engineVersion, err)
	}
	return &CompatibilityGate{engineVersion: v}, nil
}

// SchemaVersionKey is the messages.ScanSpec.Configuration key a scan spec
// uses to declare its engine-version compatibility constraint.
const SchemaVersionKey = "schema_version"

// SchemaVersionFromConfiguration extracts the schema_version constraint
// from a scan spec's Configuration map, if present.
func SchemaVersionFromConfiguration(configuration map[string]any) string {
	v, ok := configuration[SchemaVersionKey]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Check reports whether the engine version satisfies schemaVersion, a
// semver constraint such as ">= 1.0.0, < 2.0.0". An empty constraint is
// always satisfied, since most scan specs don't declare one.
func (g *CompatibilityGate) Check(schemaVersion string) (bool, error) {
	if schemaVersion == "" {
		return true, nil
	}
	constraint, err := semver.NewConstraint(schemaVersion)
	if err != nil {
		return false, fmt.Errorf("engineconfig: invalid schema_version constraint %q: %w", schemaVersion, err)
	}
	return constraint.Check(g.engineVersion), nil
}
