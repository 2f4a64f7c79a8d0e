package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcher_RunsUntilFirstYield(t *testing.T) {
	t.Parallel()
	var progress []string
	d := NewDispatcher(func(d *Dispatcher) {
		progress = append(progress, "a")
		d.Yield()
		progress = append(progress, "b")
		d.Yield()
		progress = append(progress, "c")
	})

	d.ExecuteUntilBlocked()
	require.Equal(t, []string{"a"}, progress)
	require.False(t, d.IsDone())

	d.ExecuteUntilBlocked()
	require.Equal(t, []string{"a", "b"}, progress)
	require.False(t, d.IsDone())

	d.ExecuteUntilBlocked()
	require.Equal(t, []string{"a", "b", "c"}, progress)
	require.True(t, d.IsDone())
}

func TestDispatcher_CompletesWithoutYielding(t *testing.T) {
	t.Parallel()
	ran := false
	d := NewDispatcher(func(d *Dispatcher) {
		ran = true
	})
	d.ExecuteUntilBlocked()
	require.True(t, ran)
	require.True(t, d.IsDone())
}

func TestDispatcher_PropagatesPanic(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(func(d *Dispatcher) {
		panic("boom")
	})
	require.PanicsWithValue(t, "boom", func() {
		d.ExecuteUntilBlocked()
	})
	require.True(t, d.IsDone())
}
