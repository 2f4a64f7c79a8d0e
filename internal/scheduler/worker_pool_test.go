package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ProcessesEnqueuedTasks(t *testing.T) {
	t.Parallel()
	workflowQueue := NewTenantQueue(TaskKindWorkflow, 0)
	activityQueue := NewTenantQueue(TaskKindActivity, 0)
	limiters := NewLimiterRegistry(func(string) (float64, int64) { return 1000, 1000 })

	var mu sync.Mutex
	var processed []string

	pool := NewWorkerPool(2, workflowQueue, activityQueue, limiters,
		func(ctx context.Context, task Task) {
			mu.Lock()
			processed = append(processed, "workflow:"+task.TenantID)
			mu.Unlock()
		},
		func(ctx context.Context, task Task) {
			mu.Lock()
			processed = append(processed, "activity:"+task.TenantID)
			mu.Unlock()
		},
		nil, nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, workflowQueue.Enqueue(Task{TenantID: "t1", Kind: TaskKindWorkflow}))
	require.NoError(t, activityQueue.Enqueue(Task{TenantID: "t2", Kind: TaskKindActivity}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 2
	}, time.Second, time.Millisecond)
}

func TestWorkerPool_ShutdownDrainsInFlight(t *testing.T) {
	t.Parallel()
	workflowQueue := NewTenantQueue(TaskKindWorkflow, 0)
	activityQueue := NewTenantQueue(TaskKindActivity, 0)
	limiters := NewLimiterRegistry(func(string) (float64, int64) { return 1000, 1000 })

	started := make(chan struct{})
	release := make(chan struct{})
	pool := NewWorkerPool(1, workflowQueue, activityQueue, limiters,
		func(ctx context.Context, task Task) {
			close(started)
			<-release
		},
		func(ctx context.Context, task Task) {},
		nil, nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, workflowQueue.Enqueue(Task{TenantID: "t1", Kind: TaskKindWorkflow}))
	<-started

	done := make(chan bool)
	go func() { done <- pool.Shutdown(200 * time.Millisecond) }()

	select {
	case ok := <-done:
		t.Fatalf("shutdown returned %v before the in-flight task released", ok)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.True(t, <-done)
}
