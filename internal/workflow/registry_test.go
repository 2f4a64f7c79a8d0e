package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	tv := TypeVersion{Name: "echo_workflow", Version: [3]int32{1, 0, 0}}
	r.Register(tv, Registration{Definition: echoActivityWorkflow})

	reg, ok := r.Lookup(tv)
	require.True(t, ok)
	require.NotNil(t, reg.Definition)
}

func TestRegistry_LookupMiss(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, ok := r.Lookup(TypeVersion{Name: "missing"})
	require.False(t, ok)
}

func TestRegistry_RegisterAfterFreezePanics(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Freeze()
	require.Panics(t, func() {
		r.Register(TypeVersion{Name: "late"}, Registration{Definition: echoActivityWorkflow})
	})
}

func TestRegistry_RegisterNilDefinitionPanics(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.Panics(t, func() {
		r.Register(TypeVersion{Name: "bad"}, Registration{})
	})
}

func TestTypeVersion_String(t *testing.T) {
	t.Parallel()
	tv := TypeVersion{Name: "echo_workflow", Version: [3]int32{1, 2, 3}}
	require.Equal(t, "echo_workflow@1.2.3", tv.String())
}
