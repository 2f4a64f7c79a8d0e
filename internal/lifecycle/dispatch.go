package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/pborman/uuid"
	"go.uber.org/zap"

	"github.com/duraflow/core/internal/activity"
	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/duraflow/core/internal/history"
	"github.com/duraflow/core/internal/payload"
	"github.com/duraflow/core/internal/scheduler"
	"github.com/duraflow/core/internal/workflow"
)

func zapErr(err error) zap.Field { return zap.Error(err) }

const activityRetryTimerPrefix = "activity-retry:"

// BindScheduler completes construction for the circular dependency
// between Manager and Scheduler: the Scheduler needs Manager's
// dispatch methods as callbacks, but those methods need a Scheduler
// to enqueue onward work, so callers build Manager first (with sched
// left unset), build the Scheduler with m.DispatchWorkflowTask /
// m.DispatchActivityTask / m.TimerFired, and then call BindScheduler.
func (m *Manager) BindScheduler(sched *scheduler.Scheduler) {
	m.scheduler = sched
}

// DispatchWorkflowTask resumes one execution's workflow task: it
// replays the history prefix, then turns whatever the workflow body
// just issued into new history events and onward scheduler work. A
// paused execution is skipped entirely (§4.5 "scheduler skips paused
// executions").
func (m *Manager) DispatchWorkflowTask(ctx context.Context, task scheduler.Task) {
	p, ok := task.Payload.(workflowTaskPayload)
	if !ok {
		m.logger.Error("dispatchWorkflowTask: unexpected payload type")
		return
	}
	key := history.ExecutionKey{TenantID: p.TenantID, ExecutionID: p.ExecutionID}

	events, err := m.store.Read(ctx, key, 1, 0)
	if err != nil {
		m.logger.Error("dispatchWorkflowTask: read history", zapErr(err))
		return
	}
	if len(events) == 0 {
		return
	}
	if lastNonTerminalState(events) == "Paused" {
		return
	}

	started, ok := events[0].Attributes.(history.WorkflowStartedAttributes)
	if !ok {
		m.logger.Error("dispatchWorkflowTask: first event is not WorkflowStarted")
		return
	}

	version := started.WorkflowTypeVersion
	if pinnedType, pinnedVersion, ok := m.versionPins.Get(p.ExecutionID); ok && pinnedType == started.WorkflowTypeName {
		version = pinnedVersion
	}
	reg, ok := m.workflows.Lookup(workflow.TypeVersion{Name: started.WorkflowTypeName, Version: version})
	if !ok {
		m.logger.Error("dispatchWorkflowTask: unregistered workflow type")
		return
	}

	rt := workflow.NewRuntime(reg.Definition)
	outcome, err := rt.Replay(p.ExecutionID, events)
	if err != nil {
		if coreerrors.IsFatal(err) {
			m.quarantine(ctx, key, err)
			return
		}
		m.logger.Error("dispatchWorkflowTask: replay failed", zapErr(err))
		return
	}

	switch {
	case outcome.Completed:
		_, _ = m.appendWithRetry(ctx, key, func(int64) history.Event {
			return history.Event{EventType: history.EventWorkflowCompleted, EventTime: m.now(), Attributes: history.WorkflowCompletedAttributes{Result: outcome.Result}}
		})
	case outcome.Failed:
		_, _ = m.appendWithRetry(ctx, key, func(int64) history.Event {
			return history.Event{EventType: history.EventWorkflowFailed, EventTime: m.now(), Attributes: history.WorkflowFailedAttributes{
				Reason:       outcome.FailureReason,
				NonRetryable: outcome.NonRetryable,
				Details:      outcome.FailureDetails,
			}}
		})
	default:
		m.applyCommands(ctx, p.TenantID, p.ExecutionID, outcome.Commands)
	}

	if m.snapshotEveryNEvents > 0 {
		var lastUpTo int64
		if snap, ok, err := m.store.LatestSnapshot(ctx, key); err == nil && ok && snap != nil {
			lastUpTo = snap.UpToEvent
		}
		if int64(len(events))-lastUpTo >= m.snapshotEveryNEvents {
			// Advisory only; removing every snapshot must not change replay's
			// outcome, so a best-effort write is enough here.
			_ = m.store.WriteSnapshot(ctx, key, history.Snapshot{UpToEvent: int64(len(events))})
		}
	}
}

// quarantine records a Fatal replay error as a terminal WorkflowFailed
// event: a determinism violation (§4.4, §7) is never silently
// converted into anything else, and once the event lands future
// DispatchWorkflowTask calls hit the terminal case in applyEvent
// before ever reaching the workflow body again, refusing further
// scheduling.
func (m *Manager) quarantine(ctx context.Context, key history.ExecutionKey, cause error) {
	m.logger.Error("dispatchWorkflowTask: quarantining execution after fatal replay error", zapErr(cause), zap.String("execution_id", key.ExecutionID))
	_, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
		return history.Event{EventType: history.EventWorkflowFailed, EventTime: m.now(), Attributes: history.WorkflowFailedAttributes{
			Reason:       cause.Error(),
			NonRetryable: true,
		}}
	})
	if err != nil {
		m.logger.Error("quarantine: append WorkflowFailed", zapErr(err))
	}
}

// applyCommands appends one history event per pending command and
// schedules whatever onward work it implies.
func (m *Manager) applyCommands(ctx context.Context, tenantID, executionID string, commands []*workflow.Command) {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	for _, cmd := range commands {
		switch cmd.Type {
		case workflow.CommandScheduleActivity:
			scheduledEventID, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
				return history.Event{
					EventType: history.EventActivityScheduled,
					EventTime: m.now(),
					Attributes: history.ActivityScheduledAttributes{
						ActivityType:           cmd.ActivityType,
						ActivityTypeVersion:    cmd.ActivityVersion,
						Input:                  cmd.Input,
						ScheduleToCloseTimeout: cmd.ScheduleToClose,
						StartToCloseTimeout:    cmd.StartToClose,
						HeartbeatTimeout:       cmd.HeartbeatTimeout,
					},
				}
			})
			if err != nil {
				m.logger.Error("applyCommands: append ActivityScheduled", zapErr(err))
				continue
			}
			m.enqueueActivity(tenantID, executionID, scheduledEventID, cmd, 0)

		case workflow.CommandStartTimer:
			if _, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
				return history.Event{EventType: history.EventTimerStarted, EventTime: m.now(), Attributes: history.TimerStartedAttributes{TimerID: cmd.TimerID, Duration: cmd.TimerDuration}}
			}); err != nil {
				m.logger.Error("applyCommands: append TimerStarted", zapErr(err))
				continue
			}
			m.scheduler.ScheduleTimer(tenantID, executionID, cmd.TimerID, cmd.TimerDuration)

		case workflow.CommandStartChildWorkflow:
			childExecutionID := uuid.New()
			if _, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
				return history.Event{EventType: history.EventSubWorkflowScheduled, EventTime: m.now(), Attributes: history.SubWorkflowScheduledAttributes{
					ChildExecutionID: childExecutionID,
					WorkflowTypeName: cmd.ChildWorkflowType,
					Input:            cmd.ChildInput,
					Memo:             cmd.ChildMemo,
				}}
			}); err != nil {
				m.logger.Error("applyCommands: append SubWorkflowScheduled", zapErr(err))
				continue
			}
			if err := m.startChild(ctx, tenantID, childExecutionID, cmd.ChildWorkflowType, cmd.ChildInput, cmd.ChildMemo); err != nil {
				m.logger.Error("applyCommands: start child workflow", zapErr(err))
			}

		case workflow.CommandUpsertSearchAttributes:
			if err := m.store.IndexSearchAttributes(ctx, key, cmd.SearchAttributes); err != nil {
				m.logger.Error("applyCommands: index search attributes", zapErr(err))
			}

		case workflow.CommandCancelTimer:
			if _, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
				return history.Event{EventType: history.EventTimerCancelled, EventTime: m.now(), Attributes: history.TimerCancelledAttributes{TimerID: cmd.TimerID}}
			}); err != nil {
				m.logger.Error("applyCommands: append TimerCancelled", zapErr(err))
				continue
			}
			m.scheduler.CancelTimer(tenantID, executionID, cmd.TimerID)

		case workflow.CommandRecordVersionMarker:
			if _, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
				return history.Event{EventType: history.EventVersionMarker, EventTime: m.now(), Attributes: history.VersionMarkerAttributes{
					ToVersion:   cmd.ToVersion,
					FromVersion: cmd.FromVersion,
					MigrationID: cmd.MigrationID,
				}}
			}); err != nil {
				m.logger.Error("applyCommands: append VersionMarker", zapErr(err))
			}
		}
	}
}

// startChild starts a child execution under a caller-chosen execution
// id so it matches the SubWorkflowScheduled event already appended to
// the parent's history, bypassing Start's own id generation.
func (m *Manager) startChild(ctx context.Context, tenantID, executionID, workflowType string, input []*payload.Payload, memo map[string][]byte) error {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	event := history.Event{
		EventType: history.EventWorkflowStarted,
		EventTime: m.now(),
		Attributes: history.WorkflowStartedAttributes{
			WorkflowTypeName: workflowType,
			TenantID:         tenantID,
			Input:            input,
			Memo:             memo,
		},
	}
	if err := m.store.Append(ctx, key, []history.Event{event}, 1); err != nil {
		return err
	}
	return m.scheduler.EnqueueWorkflowTask(tenantID, workflowTaskPayload{TenantID: tenantID, ExecutionID: executionID})
}

func (m *Manager) enqueueActivity(tenantID, executionID string, scheduledEventID int64, cmd *workflow.Command, attempt int32) {
	now := m.now()
	task := activity.Task{
		TenantID:                tenantID,
		ExecutionID:             executionID,
		ScheduledEventID:        scheduledEventID,
		ActivityType:            activity.TypeVersion{Name: cmd.ActivityType, Version: cmd.ActivityVersion},
		Input:                   cmd.Input,
		Attempt:                 attempt,
		ScheduleToCloseDeadline: now.Add(cmd.ScheduleToClose),
		StartToCloseDeadline:    now.Add(cmd.StartToClose),
		HeartbeatTimeout:        cmd.HeartbeatTimeout,
	}
	if err := m.scheduler.EnqueueActivityTask(tenantID, activityTaskPayload{TenantID: tenantID, ExecutionID: executionID, ScheduledEventID: scheduledEventID, Task: task}); err != nil {
		m.logger.Error("enqueueActivity: enqueue", zapErr(err))
	}
}

// DispatchActivityTask runs one activity attempt and records its
// outcome, re-enqueueing a retry after backoff rather than failing the
// activity immediately when the Dispatcher says to (§4.3).
func (m *Manager) DispatchActivityTask(ctx context.Context, task scheduler.Task) {
	p, ok := task.Payload.(activityTaskPayload)
	if !ok {
		m.logger.Error("dispatchActivityTask: unexpected payload type")
		return
	}

	outcome, err := m.dispatcher.Dispatch(ctx, p.Task)
	if err != nil {
		m.logger.Error("dispatchActivityTask: dispatch", zapErr(err))
		return
	}

	if outcome.Retry {
		retryID := fmt.Sprintf("%s%s:%d", activityRetryTimerPrefix, uuid.New(), p.Task.Attempt+1)
		m.pendingRetries.Store(retryID, activityTaskPayload{
			TenantID:         p.TenantID,
			ExecutionID:      p.ExecutionID,
			ScheduledEventID: p.ScheduledEventID,
			Task:             nextAttempt(p.Task),
		})
		m.scheduler.ScheduleTimer(p.TenantID, p.ExecutionID, retryID, outcome.RetryAfter)
		return
	}

	key := history.ExecutionKey{TenantID: p.TenantID, ExecutionID: p.ExecutionID}
	if _, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
		return history.Event{EventType: outcome.EventType, EventTime: m.now(), Attributes: outcome.Attributes}
	}); err != nil {
		m.logger.Error("dispatchActivityTask: append outcome", zapErr(err))
		return
	}
	if err := m.scheduler.EnqueueWorkflowTask(p.TenantID, workflowTaskPayload{TenantID: p.TenantID, ExecutionID: p.ExecutionID}); err != nil {
		m.logger.Error("dispatchActivityTask: enqueue workflow task", zapErr(err))
	}
}

func nextAttempt(t activity.Task) activity.Task {
	t.Attempt++
	return t
}

// TimerFired handles every timer the Scheduler's wheel fires: a
// workflow timer appends TimerFired and resumes the workflow task, an
// activity-retry timer re-enqueues the activity at its next attempt
// (§5 "Timeouts").
func (m *Manager) TimerFired(fired scheduler.TimerFired) {
	if strings.HasPrefix(fired.TimerID, activityRetryTimerPrefix) {
		v, ok := m.pendingRetries.LoadAndDelete(fired.TimerID)
		if !ok {
			return
		}
		retry := v.(activityTaskPayload)
		if err := m.scheduler.EnqueueActivityTask(retry.TenantID, retry); err != nil {
			m.logger.Error("timerFired: re-enqueue activity retry", zapErr(err))
		}
		return
	}

	key := history.ExecutionKey{TenantID: fired.TenantID, ExecutionID: fired.ExecutionID}
	if _, err := m.appendWithRetry(context.Background(), key, func(int64) history.Event {
		return history.Event{EventType: history.EventTimerFired, EventTime: m.now(), Attributes: history.TimerFiredAttributes{TimerID: fired.TimerID}}
	}); err != nil {
		m.logger.Error("timerFired: append TimerFired", zapErr(err))
		return
	}
	if err := m.scheduler.EnqueueWorkflowTask(fired.TenantID, workflowTaskPayload{TenantID: fired.TenantID, ExecutionID: fired.ExecutionID}); err != nil {
		m.logger.Error("timerFired: enqueue workflow task", zapErr(err))
	}
}

func lastNonTerminalState(events []history.Event) string {
	state := "Running"
	for _, ev := range events {
		switch ev.Attributes.(type) {
		case history.WorkflowPausedAttributes:
			state = "Paused"
		case history.WorkflowResumedAttributes:
			state = "Running"
		}
	}
	return state
}
