package activity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	tv := TypeVersion{Name: "send_email", Version: [3]int32{1, 0, 0}}
	r.Register(tv, Registration{Handler: func(ctx context.Context, input []byte) ([]byte, error) {
		return input, nil
	}})

	reg, ok := r.Lookup(tv)
	require.True(t, ok)
	require.NotNil(t, reg.Handler)
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
		r.Register(TypeVersion{Name: "late"}, Registration{Handler: func(context.Context, []byte) ([]byte, error) { return nil, nil }})
	})
}

func TestRegistry_RegisterNilHandlerPanics(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.Panics(t, func() {
		r.Register(TypeVersion{Name: "bad"}, Registration{})
	})
}

func TestTypeVersion_String(t *testing.T) {
	t.Parallel()
	tv := TypeVersion{Name: "send_email", Version: [3]int32{1, 2, 3}}
	require.Equal(t, "send_email@1.2.3", tv.String())
}
