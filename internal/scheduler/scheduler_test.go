package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
)

func TestScheduler_EnqueueAndProcessWorkflowTask(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()

	var mu sync.Mutex
	var handled []string

	s := New(
		Config{WorkerPoolSize: 2, TimerWheelSlots: 64, TimerWheelTick: time.Millisecond},
		mock,
		func(string) (float64, int64) { return 1000, 1000 },
		func(ctx context.Context, task Task) {
			mu.Lock()
			handled = append(handled, task.TenantID)
			mu.Unlock()
		},
		func(ctx context.Context, task Task) {},
		func(fired TimerFired) {},
		nil, nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown()

	require.NoError(t, s.EnqueueWorkflowTask("t1", "payload"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, time.Second, time.Millisecond)
}

func TestScheduler_BackpressureRejectsBeyondHighWaterMark(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	s := New(
		Config{WorkerPoolSize: 1, QueueHighWaterMark: 1, TimerWheelSlots: 64, TimerWheelTick: time.Millisecond},
		mock,
		func(string) (float64, int64) { return 1000, 1000 },
		func(ctx context.Context, task Task) { time.Sleep(time.Hour) },
		func(ctx context.Context, task Task) {},
		func(fired TimerFired) {},
		nil, nil,
	)

	require.NoError(t, s.EnqueueWorkflowTask("t1", nil))
	err := s.EnqueueWorkflowTask("t1", nil)
	require.Error(t, err)
	require.True(t, coreerrors.IsBackpressured(err))
}

func TestScheduler_TimerFiredInvokesCallback(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()

	fired := make(chan TimerFired, 1)
	s := New(
		Config{WorkerPoolSize: 1, TimerWheelSlots: 64, TimerWheelTick: time.Millisecond},
		mock,
		func(string) (float64, int64) { return 1000, 1000 },
		func(ctx context.Context, task Task) {},
		func(ctx context.Context, task Task) {},
		func(f TimerFired) { fired <- f },
		nil, nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown()

	s.ScheduleTimer("t1", "exec-1", "cooldown", 5*time.Millisecond)
	mock.Add(5 * time.Millisecond)

	select {
	case f := <-fired:
		require.Equal(t, "cooldown", f.TimerID)
	case <-time.After(time.Second):
		t.Fatal("scheduler never invoked timerToWorkflow callback")
	}
}
