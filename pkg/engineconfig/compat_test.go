package engineconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompatibilityGateCheck(t *testing.T) {
	gate, err := NewCompatibilityGate("1.2.0")
	require.NoError(t, err)

	ok, err := gate.Check(">= 1.0.0, < 2.0.0")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gate.Check(">= 2.0.0")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompatibilityGateEmptyConstraintAlwaysPasses(t *testing.T) {
	gate, err := NewCompatibilityGate(EngineVersion)
	require.NoError(t, err)

	ok, err := gate.Check("")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewCompatibilityGateRejectsInvalidVersion(t *testing.T) {
	_, err := NewCompatibilityGate("not-a-version")
	require.Error(t, err)
}

func TestSchemaVersionFromConfiguration(t *testing.T) {
	require.Equal(t, ">= 1.0.0", SchemaVersionFromConfiguration(map[string]any{"schema_version": ">= 1.0.0"}))
	require.Empty(t, SchemaVersionFromConfiguration(map[string]any{}))
	require.Empty(t, SchemaVersionFromConfiguration(map[string]any{"schema_version": 42}))
}
