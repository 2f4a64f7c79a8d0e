package activity

import (
	"context"
	"testing"
	"time"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/duraflow/core/internal/history"
	"github.com/duraflow/core/internal/payload"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dispatcherForHandler(t *testing.T, tv TypeVersion, handler Handler) *Dispatcher {
	t.Helper()
	r := NewRegistry()
	r.Register(tv, Registration{Handler: handler})
	r.Freeze()
	return NewDispatcher(r, zap.NewNop(), nil)
}

func TestDispatch_Success(t *testing.T) {
	t.Parallel()
	tv := TypeVersion{Name: "echo"}
	d := dispatcherForHandler(t, tv, func(_ context.Context, input []byte) ([]byte, error) {
		return input, nil
	})

	ps, err := payload.Default.ToPayloads([]byte("hi"))
	require.NoError(t, err)

	outcome, err := d.Dispatch(context.Background(), Task{
		ActivityType: tv,
		Input:        ps,
		RetryPolicy:  history.RetryPolicySnapshot{MaxAttempts: 3},
	})
	require.NoError(t, err)
	require.Equal(t, history.EventActivityCompleted, outcome.EventType)
	require.False(t, outcome.Retry)
}

func TestDispatch_UnknownActivityType(t *testing.T) {
	t.Parallel()
	d := dispatcherForHandler(t, TypeVersion{Name: "known"}, func(context.Context, []byte) ([]byte, error) { return nil, nil })

	outcome, err := d.Dispatch(context.Background(), Task{ActivityType: TypeVersion{Name: "unknown"}})
	require.NoError(t, err)
	require.Equal(t, history.EventActivityFailed, outcome.EventType)
	attrs := outcome.Attributes.(history.ActivityFailedAttributes)
	require.Equal(t, string(coreerrors.ActivityNonRetryable), attrs.FailureKind)
}

func TestDispatch_RetryableFailureSchedulesRetry(t *testing.T) {
	t.Parallel()
	tv := TypeVersion{Name: "flaky"}
	d := dispatcherForHandler(t, tv, func(context.Context, []byte) ([]byte, error) {
		return nil, coreerrors.NewActivityError(tv.Name, 1, 0, coreerrors.ActivityRetryable, context.DeadlineExceeded)
	})

	outcome, err := d.Dispatch(context.Background(), Task{
		ActivityType: tv,
		Attempt:      0,
		RetryPolicy:  history.RetryPolicySnapshot{MaxAttempts: 3, InitialInterval: time.Second, BackoffMultiplier: 2},
	})
	require.NoError(t, err)
	require.True(t, outcome.Retry)
	require.Equal(t, time.Second, outcome.RetryAfter)
}

func TestDispatch_NonRetryableFailureFailsImmediately(t *testing.T) {
	t.Parallel()
	tv := TypeVersion{Name: "broken"}
	d := dispatcherForHandler(t, tv, func(context.Context, []byte) ([]byte, error) {
		return nil, coreerrors.NewActivityError(tv.Name, 1, 0, coreerrors.ActivityNonRetryable, nil)
	})

	outcome, err := d.Dispatch(context.Background(), Task{
		ActivityType: tv,
		RetryPolicy:  history.RetryPolicySnapshot{MaxAttempts: 3},
	})
	require.NoError(t, err)
	require.False(t, outcome.Retry)
	require.Equal(t, history.EventActivityFailed, outcome.EventType)
}

func TestDispatch_MaxAttemptsExhausted(t *testing.T) {
	t.Parallel()
	tv := TypeVersion{Name: "always-fails"}
	d := dispatcherForHandler(t, tv, func(context.Context, []byte) ([]byte, error) {
		return nil, coreerrors.NewActivityError(tv.Name, 1, 2, coreerrors.ActivityRetryable, nil)
	})

	outcome, err := d.Dispatch(context.Background(), Task{
		ActivityType: tv,
		Attempt:      2,
		RetryPolicy:  history.RetryPolicySnapshot{MaxAttempts: 3},
	})
	require.NoError(t, err)
	require.False(t, outcome.Retry)
	require.Equal(t, history.EventActivityFailed, outcome.EventType)
}

func TestDispatch_StartToCloseTimeout(t *testing.T) {
	t.Parallel()
	tv := TypeVersion{Name: "slow"}
	d := dispatcherForHandler(t, tv, func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	outcome, err := d.Dispatch(context.Background(), Task{
		ActivityType:         tv,
		StartToCloseDeadline: time.Now().Add(10 * time.Millisecond),
		RetryPolicy:          history.RetryPolicySnapshot{MaxAttempts: 1},
	})
	require.NoError(t, err)
	require.Equal(t, history.EventActivityTimedOut, outcome.EventType)
	attrs := outcome.Attributes.(history.ActivityTimedOutAttributes)
	require.Equal(t, "StartToClose", attrs.TimeoutType)
}

func TestDispatch_HeartbeatTimeout(t *testing.T) {
	t.Parallel()
	tv := TypeVersion{Name: "no-heartbeat"}
	d := dispatcherForHandler(t, tv, func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	outcome, err := d.Dispatch(context.Background(), Task{
		ActivityType:     tv,
		HeartbeatTimeout: 10 * time.Millisecond,
		RetryPolicy:      history.RetryPolicySnapshot{MaxAttempts: 1},
	})
	require.NoError(t, err)
	require.Equal(t, history.EventActivityTimedOut, outcome.EventType)
	attrs := outcome.Attributes.(history.ActivityTimedOutAttributes)
	require.Equal(t, "Heartbeat", attrs.TimeoutType)
}

func TestDispatch_HeartbeatKeepsAliveUntilSuccess(t *testing.T) {
	t.Parallel()
	tv := TypeVersion{Name: "heartbeats"}
	d := dispatcherForHandler(t, tv, func(ctx context.Context, _ []byte) ([]byte, error) {
		hb := HeartbeatFromContext(ctx)
		require.NotNil(t, hb)
		for i := 0; i < 3; i++ {
			time.Sleep(5 * time.Millisecond)
			require.NoError(t, hb(ctx, nil))
		}
		return []byte("done"), nil
	})

	outcome, err := d.Dispatch(context.Background(), Task{
		ActivityType:     tv,
		HeartbeatTimeout: 50 * time.Millisecond,
		RetryPolicy:      history.RetryPolicySnapshot{MaxAttempts: 1},
	})
	require.NoError(t, err)
	require.Equal(t, history.EventActivityCompleted, outcome.EventType)
}

func TestBackoffDuration_CapsAtMaxInterval(t *testing.T) {
	t.Parallel()
	d := backoffDuration(history.RetryPolicySnapshot{
		InitialInterval:   time.Second,
		BackoffMultiplier: 10,
		MaxInterval:       5 * time.Second,
	}, 3)
	require.Equal(t, 5*time.Second, d)
}
