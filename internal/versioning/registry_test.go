package versioning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterRejectsMalformedVersion(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Register(VersionSpec{WorkflowType: "order", Version: [3]int32{0, 0, 0}}, SchemaDiff{})
	require.Error(t, err)
}

func TestRegistry_RegisterRequiresWorkflowType(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Register(VersionSpec{Version: [3]int32{1, 0, 0}}, SchemaDiff{})
	require.Error(t, err)
}

func TestRegistry_ComputeCompatibility(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	compat, err := r.Register(VersionSpec{WorkflowType: "order", Version: [3]int32{1, 1, 0}}, SchemaDiff{SchemaChanges: 2})
	require.NoError(t, err)
	require.Equal(t, CompatibilityBackward, compat)

	compat, err = r.Register(VersionSpec{WorkflowType: "order", Version: [3]int32{2, 0, 0}}, SchemaDiff{BreakingChanges: 1})
	require.NoError(t, err)
	require.Equal(t, CompatibilityForward, compat)

	compat, err = r.Register(VersionSpec{WorkflowType: "order", Version: [3]int32{3, 0, 0}}, SchemaDiff{BreakingChanges: 1, DataTransformations: 1})
	require.NoError(t, err)
	require.Equal(t, CompatibilityNone, compat)
}

func TestRegistry_LookupMiss(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, ok := r.Lookup("order", [3]int32{1, 0, 0})
	require.False(t, ok)
}

func TestRegistry_DeprecateAndRefuseNewStarts(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Register(VersionSpec{WorkflowType: "order", Version: [3]int32{1, 0, 0}}, SchemaDiff{})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, r.Deprecate("order", [3]int32{1, 0, 0}, now, now.Add(time.Hour)))

	require.False(t, r.RefuseNewStarts("order", [3]int32{1, 0, 0}, now))
	require.True(t, r.RefuseNewStarts("order", [3]int32{1, 0, 0}, now.Add(2*time.Hour)))
}

func TestRegistry_DeprecateUnregisteredFails(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	err := r.Deprecate("order", [3]int32{1, 0, 0}, time.Now(), time.Now())
	require.Error(t, err)
}

func TestPinRegistry_PinGetUnpin(t *testing.T) {
	t.Parallel()
	p := NewPinRegistry()

	_, _, ok := p.Get("exec-1")
	require.False(t, ok)

	p.Pin("exec-1", "order", [3]int32{1, 2, 0})
	wfType, version, ok := p.Get("exec-1")
	require.True(t, ok)
	require.Equal(t, "order", wfType)
	require.Equal(t, [3]int32{1, 2, 0}, version)

	p.Unpin("exec-1")
	_, _, ok = p.Get("exec-1")
	require.False(t, ok)
}
