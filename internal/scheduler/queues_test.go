package scheduler

import (
	"testing"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestTenantQueue_FairRoundRobinAcrossTenants(t *testing.T) {
	t.Parallel()
	q := NewTenantQueue(TaskKindActivity, 0)

	require.NoError(t, q.Enqueue(Task{TenantID: "t1", Payload: "t1-a"}))
	require.NoError(t, q.Enqueue(Task{TenantID: "t1", Payload: "t1-b"}))
	require.NoError(t, q.Enqueue(Task{TenantID: "t2", Payload: "t2-a"}))

	first, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, "t1", first.TenantID)

	second, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, "t2", second.TenantID, "round robin must give t2 a turn before t1's second task")

	third, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, "t1", third.TenantID)

	_, ok = q.TryDequeue()
	require.False(t, ok)
}

func TestTenantQueue_BackpressureAtHighWaterMark(t *testing.T) {
	t.Parallel()
	q := NewTenantQueue(TaskKindWorkflow, 2)

	require.NoError(t, q.Enqueue(Task{TenantID: "t1"}))
	require.NoError(t, q.Enqueue(Task{TenantID: "t1"}))

	err := q.Enqueue(Task{TenantID: "t1"})
	require.Error(t, err)
	require.True(t, coreerrors.IsBackpressured(err))
}

func TestTenantQueue_DepthTracksDequeue(t *testing.T) {
	t.Parallel()
	q := NewTenantQueue(TaskKindActivity, 0)
	require.NoError(t, q.Enqueue(Task{TenantID: "t1"}))
	require.Equal(t, 1, q.Depth())
	_, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 0, q.Depth())
}
