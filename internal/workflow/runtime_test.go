package workflow

import (
	"testing"
	"time"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/duraflow/core/internal/history"
	"github.com/duraflow/core/internal/payload"
	"github.com/stretchr/testify/require"
)

func echoActivityWorkflow(ctx *Context, input []*payload.Payload) ([]*payload.Payload, error) {
	f := ctx.ScheduleActivity("echo", input, ActivityOptions{StartToCloseTimeout: time.Second})
	result, err := f.Get()
	if err != nil {
		return nil, err
	}
	return result, nil
}

func startedEvent(input []*payload.Payload) history.Event {
	return history.Event{
		EventID:   1,
		EventType: history.EventWorkflowStarted,
		EventTime: time.Unix(1000, 0),
		Attributes: history.WorkflowStartedAttributes{
			WorkflowTypeName: "echo_workflow",
			Input:            input,
		},
	}
}

func TestRuntime_Replay_FirstCallEmitsScheduleActivityCommand(t *testing.T) {
	t.Parallel()
	input, err := payload.Default.ToPayloads("hi")
	require.NoError(t, err)

	rt := NewRuntime(echoActivityWorkflow)
	out, err := rt.Replay("exec-1", []history.Event{startedEvent(input)})
	require.NoError(t, err)
	require.False(t, out.Completed)
	require.False(t, out.Failed)
	require.Len(t, out.Commands, 1)
	require.Equal(t, CommandScheduleActivity, out.Commands[0].Type)
	require.Equal(t, "echo", out.Commands[0].ActivityType)
}

func TestRuntime_Replay_CompletesAfterActivityCompleted(t *testing.T) {
	t.Parallel()
	input, err := payload.Default.ToPayloads("hi")
	require.NoError(t, err)
	result, err := payload.Default.ToPayloads("hi")
	require.NoError(t, err)

	events := []history.Event{
		startedEvent(input),
		{
			EventID:   2,
			EventType: history.EventActivityScheduled,
			EventTime: time.Unix(1001, 0),
			Attributes: history.ActivityScheduledAttributes{
				ActivityType: "echo",
				Input:        input,
			},
		},
		{
			EventID:   3,
			EventType: history.EventActivityCompleted,
			EventTime: time.Unix(1002, 0),
			Attributes: history.ActivityCompletedAttributes{
				ScheduledEventID: 2,
				Result:           result,
			},
		},
	}

	rt := NewRuntime(echoActivityWorkflow)
	out, err := rt.Replay("exec-1", events)
	require.NoError(t, err)
	require.True(t, out.Completed)
	require.Equal(t, result, out.Result)
}

func TestRuntime_Replay_ActivityFailurePropagatesAsWorkflowFailure(t *testing.T) {
	t.Parallel()
	input, err := payload.Default.ToPayloads("hi")
	require.NoError(t, err)

	events := []history.Event{
		startedEvent(input),
		{
			EventID:    2,
			EventType:  history.EventActivityScheduled,
			EventTime:  time.Unix(1001, 0),
			Attributes: history.ActivityScheduledAttributes{ActivityType: "echo", Input: input},
		},
		{
			EventID:   3,
			EventType: history.EventActivityFailed,
			EventTime: time.Unix(1002, 0),
			Attributes: history.ActivityFailedAttributes{
				ScheduledEventID: 2,
				FailureKind:      "NonRetryable",
				Reason:           "boom",
			},
		},
	}

	rt := NewRuntime(echoActivityWorkflow)
	out, err := rt.Replay("exec-1", events)
	require.NoError(t, err)
	require.True(t, out.Failed)
	require.Contains(t, out.FailureReason, "boom")
}

func timerWorkflow(ctx *Context, _ []*payload.Payload) ([]*payload.Payload, error) {
	f := ctx.StartTimer("cooldown", 30*time.Second)
	if _, err := f.Get(); err != nil {
		return nil, err
	}
	return payload.Default.ToPayloads("fired")
}

func TestRuntime_Replay_TimerFiredCompletesWorkflow(t *testing.T) {
	t.Parallel()
	events := []history.Event{
		startedEvent(nil),
		{
			EventID:    2,
			EventType:  history.EventTimerStarted,
			EventTime:  time.Unix(1001, 0),
			Attributes: history.TimerStartedAttributes{TimerID: "cooldown", Duration: 30 * time.Second},
		},
		{
			EventID:    3,
			EventType:  history.EventTimerFired,
			EventTime:  time.Unix(1031, 0),
			Attributes: history.TimerFiredAttributes{StartedEventID: 2, TimerID: "cooldown"},
		},
	}

	rt := NewRuntime(timerWorkflow)
	out, err := rt.Replay("exec-2", events)
	require.NoError(t, err)
	require.True(t, out.Completed)
}

func signalWorkflow(ctx *Context, _ []*payload.Payload) ([]*payload.Payload, error) {
	f := ctx.AwaitSignal("approve")
	result, err := f.Get()
	if err != nil {
		return nil, err
	}
	return result, nil
}

func TestRuntime_Replay_SignalResolvesAwait(t *testing.T) {
	t.Parallel()
	signalPayload, err := payload.Default.ToPayloads("approved")
	require.NoError(t, err)

	events := []history.Event{
		startedEvent(nil),
		{
			EventID:   2,
			EventType: history.EventSignalReceived,
			EventTime: time.Unix(1001, 0),
			Attributes: history.SignalReceivedAttributes{
				SignalName: "approve",
				Payload:    signalPayload,
			},
		},
	}

	rt := NewRuntime(signalWorkflow)
	out, err := rt.Replay("exec-3", events)
	require.NoError(t, err)
	require.True(t, out.Completed)
	require.Equal(t, signalPayload, out.Result)
}

func TestRuntime_Replay_RejectsMissingWorkflowStarted(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(echoActivityWorkflow)
	_, err := rt.Replay("exec-4", nil)
	require.Error(t, err)
}

func TestRuntime_Replay_FatalOnActivityCompletedForUnissuedCommand(t *testing.T) {
	t.Parallel()
	input, err := payload.Default.ToPayloads("hi")
	require.NoError(t, err)
	result, err := payload.Default.ToPayloads("hi")
	require.NoError(t, err)

	// No ActivityScheduled/ScheduleActivity command was ever issued for
	// scheduledEventID 2 — this is exactly the determinism violation
	// §4.4 forbids silently converting into anything else.
	events := []history.Event{
		startedEvent(input),
		{
			EventID:   2,
			EventType: history.EventActivityCompleted,
			EventTime: time.Unix(1001, 0),
			Attributes: history.ActivityCompletedAttributes{
				ScheduledEventID: 2,
				Result:           result,
			},
		},
	}

	rt := NewRuntime(echoActivityWorkflow)
	_, err = rt.Replay("exec-5", events)
	require.Error(t, err)
	require.True(t, coreerrors.IsFatal(err))
}
