package history

import (
	"context"
	"testing"
	"time"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendAndRead(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	key := ExecutionKey{TenantID: "t1", ExecutionID: "e1"}
	ctx := context.Background()

	err := s.Append(ctx, key, []Event{
		{EventType: EventWorkflowStarted, EventTime: time.Now(), Attributes: WorkflowStartedAttributes{WorkflowTypeName: "wf.v1"}},
	}, 1)
	require.NoError(t, err)

	next, err := s.NextEventID(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(2), next)

	events, err := s.Read(ctx, key, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(1), events[0].EventID)
}

func TestMemoryStore_AppendConflict(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	key := ExecutionKey{TenantID: "t1", ExecutionID: "e1"}
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, key, []Event{
		{EventType: EventWorkflowStarted, EventTime: time.Now(), Attributes: WorkflowStartedAttributes{}},
	}, 1))

	err := s.Append(ctx, key, []Event{
		{EventType: EventActivityScheduled, EventTime: time.Now(), Attributes: ActivityScheduledAttributes{}},
	}, 1)
	require.Error(t, err)
	require.True(t, coreerrors.IsConflict(err))
}

func TestMemoryStore_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	key := ExecutionKey{TenantID: "t1", ExecutionID: "e1"}
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, key, []Event{
		{EventType: EventWorkflowStarted, EventTime: time.Now(), Attributes: WorkflowStartedAttributes{}},
	}, 1))

	require.NoError(t, s.WriteSnapshot(ctx, key, Snapshot{Blob: []byte("state"), UpToEvent: 1}))

	snap, ok, err := s.LatestSnapshot(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("state"), snap.Blob)
}

func TestMemoryStore_ListExecutionsFiltersByTenantAndState(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, ExecutionKey{TenantID: "t1", ExecutionID: "e1"}, []Event{
		{EventType: EventWorkflowStarted, EventTime: time.Now(), Attributes: WorkflowStartedAttributes{WorkflowTypeName: "wf.a"}},
	}, 1))
	require.NoError(t, s.Append(ctx, ExecutionKey{TenantID: "t2", ExecutionID: "e2"}, []Event{
		{EventType: EventWorkflowStarted, EventTime: time.Now(), Attributes: WorkflowStartedAttributes{WorkflowTypeName: "wf.b"}},
	}, 1))

	summaries, _, err := s.ListExecutions(ctx, "t1", ListFilter{}, Page{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "wf.a", summaries[0].WorkflowType)
}

func TestMemoryStore_DeleteExecutionRemovesHistory(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	key := ExecutionKey{TenantID: "t1", ExecutionID: "e1"}
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, key, []Event{
		{EventType: EventWorkflowStarted, EventTime: time.Now(), Attributes: WorkflowStartedAttributes{}},
	}, 1))
	require.NoError(t, s.DeleteExecution(ctx, key))

	_, err := s.Read(ctx, key, 1, 0)
	require.Error(t, err)
}
