package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRetentionSweeper_DeletesOnlyClosedExpiredExecutions(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	expired := ExecutionKey{TenantID: "t1", ExecutionID: "expired"}
	require.NoError(t, store.Append(ctx, expired, []Event{
		{EventType: EventWorkflowStarted, EventTime: now.Add(-48 * time.Hour), Attributes: WorkflowStartedAttributes{WorkflowTypeName: "wf"}},
		{EventType: EventWorkflowCompleted, EventTime: now.Add(-30 * time.Hour), Attributes: WorkflowCompletedAttributes{}},
	}, 1))

	stillOpen := ExecutionKey{TenantID: "t1", ExecutionID: "open"}
	require.NoError(t, store.Append(ctx, stillOpen, []Event{
		{EventType: EventWorkflowStarted, EventTime: now.Add(-48 * time.Hour), Attributes: WorkflowStartedAttributes{WorkflowTypeName: "wf"}},
	}, 1))

	recentlyClosed := ExecutionKey{TenantID: "t1", ExecutionID: "recent"}
	require.NoError(t, store.Append(ctx, recentlyClosed, []Event{
		{EventType: EventWorkflowStarted, EventTime: now.Add(-1 * time.Hour), Attributes: WorkflowStartedAttributes{WorkflowTypeName: "wf"}},
		{EventType: EventWorkflowCompleted, EventTime: now.Add(-30 * time.Minute), Attributes: WorkflowCompletedAttributes{}},
	}, 1))

	sweeper := NewRetentionSweeper(store, zap.NewNop(), func(string) time.Duration {
		return 24 * time.Hour
	}, WithClock(func() time.Time { return now }))

	sweeper.sweepOnce(ctx, []string{"t1"})

	_, err := store.Read(ctx, expired, 1, 0)
	require.Error(t, err, "expired+closed execution should have been deleted")

	_, err = store.Read(ctx, stillOpen, 1, 0)
	require.NoError(t, err, "still-running execution must survive the sweep")

	_, err = store.Read(ctx, recentlyClosed, 1, 0)
	require.NoError(t, err, "recently closed execution is within the retention window")
}
