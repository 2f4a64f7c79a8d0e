package workflow

import (
	"fmt"
	"math/rand"
	"time"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/duraflow/core/internal/history"
	"github.com/duraflow/core/internal/payload"
)

// Definition is a workflow body: a pure function of its Context and
// starting input, satisfying §4.4's determinism requirement. It
// must only observe the world through ctx.
type Definition func(ctx *Context, input []*payload.Payload) ([]*payload.Payload, error)

// ActivityOptions configures one ScheduleActivity call.
type ActivityOptions struct {
	Version               [3]int32
	ScheduleToCloseTimeout time.Duration
	StartToCloseTimeout    time.Duration
	HeartbeatTimeout       time.Duration
	// RetryPolicy is not copied into the ScheduleActivity command, so it
	// does not reach the dispatched activity task; retries follow the
	// activity registration's DefaultRetryPolicy.
	RetryPolicy            history.RetryPolicySnapshot
}

// ChildWorkflowOptions configures one StartChildWorkflow call.
type ChildWorkflowOptions struct {
	Memo map[string][]byte
}

// Future is the handle a workflow body awaits to observe the outcome
// of a ScheduleActivity/StartTimer/AwaitSignal/StartChildWorkflow
// call. It never blocks a goroutine on a channel: Get spins on the
// coroutine dispatcher's Yield, so the replay loop stays in control of
// exactly when the workflow body makes progress.
type Future struct {
	ctx      *Context
	resolved bool
	result   []*payload.Payload
	err      error
}

// Get blocks (from the workflow body's point of view) until the
// future resolves, returning its result or the failure it observed.
func (f *Future) Get() ([]*payload.Payload, error) {
	for !f.resolved {
		f.ctx.dispatcher.Yield()
	}
	return f.result, f.err
}

// IsReady reports whether the future has already resolved, without
// blocking — used for selector-style workflow logic.
func (f *Future) IsReady() bool {
	return f.resolved
}

// Context is the one surface a workflow body is allowed to touch. It
// exists only within a single replay/progress call and must never
// outlive it.
type Context struct {
	dispatcher *Dispatcher
	tracker    *commandTracker

	executionID string
	now         time.Time
	rng         *rand.Rand

	signalInbox map[string][][]*payload.Payload
	awaiting    map[string]*Future // signal name -> future waiting on it, if any

	cancelRequested bool

	pendingFutures map[int64]*Future // command.ID -> future

	childExecutionIDToScheduledEventID map[string]int64

	finalResult []*payload.Payload
	finalErr    error
}

func newContext(executionID string) *Context {
	return &Context{
		tracker:                            newCommandTracker(),
		executionID:                        executionID,
		rng:                                rand.New(rand.NewSource(seedFromExecutionID(executionID))),
		signalInbox:                        make(map[string][][]*payload.Payload),
		awaiting:                           make(map[string]*Future),
		pendingFutures:                     make(map[int64]*Future),
		childExecutionIDToScheduledEventID: make(map[string]int64),
	}
}

func seedFromExecutionID(id string) int64 {
	var h int64 = 14695981039346656037 % (1 << 62)
	for i := 0; i < len(id); i++ {
		h = (h ^ int64(id[i])) * 1099511628211
		if h < 0 {
			h = -h
		}
	}
	if h == 0 {
		h = 1
	}
	return h
}

// Now returns the instant of the last history event observed, never
// wall-clock time (§4.4: now() is resolved from the last observed
// event time).
func (c *Context) Now() time.Time {
	return c.now
}

// Random returns the execution-seeded random source. Every replay of
// the same execution produces the same sequence.
func (c *Context) Random() *rand.Rand {
	return c.rng
}

// CancelRequested reports whether a cancellation has been recorded
// against this execution (§4.4 state machine's cancellation
// scope).
func (c *Context) CancelRequested() bool {
	return c.cancelRequested
}

// ScheduleActivity issues a ScheduleActivity command and returns a
// future for its outcome.
func (c *Context) ScheduleActivity(activityType string, input []*payload.Payload, opts ActivityOptions) *Future {
	cmd := &Command{
		Type:             CommandScheduleActivity,
		ActivityType:     activityType,
		ActivityVersion:  opts.Version,
		Input:            input,
		ScheduleToClose:  opts.ScheduleToCloseTimeout,
		StartToClose:     opts.StartToCloseTimeout,
		HeartbeatTimeout: opts.HeartbeatTimeout,
	}
	c.tracker.track(cmd)
	f := &Future{ctx: c}
	c.pendingFutures[cmd.ID] = f
	return f
}

// StartTimer issues a StartTimer command and returns a future that
// resolves when the timer fires.
func (c *Context) StartTimer(timerID string, d time.Duration) *Future {
	cmd := &Command{
		Type:          CommandStartTimer,
		TimerID:       timerID,
		TimerDuration: d,
	}
	c.tracker.track(cmd)
	f := &Future{ctx: c}
	c.pendingFutures[cmd.ID] = f
	return f
}

// AwaitSignal returns a future that resolves the next time a signal
// with the given name is recorded. If one is already queued (arrived
// before the workflow body asked for it), it resolves immediately.
func (c *Context) AwaitSignal(name string) *Future {
	cmd := &Command{
		Type:       CommandAwaitSignal,
		SignalName: name,
	}
	c.tracker.track(cmd)
	f := &Future{ctx: c}
	c.pendingFutures[cmd.ID] = f

	if queue := c.signalInbox[name]; len(queue) > 0 {
		f.resolved = true
		f.result = queue[0]
		c.signalInbox[name] = queue[1:]
		return f
	}
	c.awaiting[name] = f
	return f
}

// StartChildWorkflow issues a StartChildWorkflow command and returns a
// future for the child's terminal outcome.
func (c *Context) StartChildWorkflow(workflowType string, input []*payload.Payload, opts ChildWorkflowOptions) *Future {
	cmd := &Command{
		Type:              CommandStartChildWorkflow,
		ChildWorkflowType: workflowType,
		ChildInput:        input,
		ChildMemo:         opts.Memo,
	}
	c.tracker.track(cmd)
	f := &Future{ctx: c}
	c.pendingFutures[cmd.ID] = f
	return f
}

// CancelTimer issues a best-effort CancelTimer command against an
// outstanding StartTimer call; it never blocks and has no future. A
// timer that has already fired is unaffected.
func (c *Context) CancelTimer(timerID string) {
	cmd := &Command{
		Type:    CommandCancelTimer,
		TimerID: timerID,
	}
	c.tracker.track(cmd)
}

// UpsertSearchAttributes issues a best-effort UpsertSearchAttributes
// command; it never blocks and has no future.
func (c *Context) UpsertSearchAttributes(attrs map[string]string) {
	cmd := &Command{
		Type:             CommandUpsertSearchAttributes,
		SearchAttributes: attrs,
	}
	c.tracker.track(cmd)
}

// Runtime replays a Definition against an execution's history,
// producing the commands newly issued since the last recorded
// progress (§4.4 replay loop).
type Runtime struct {
	def Definition
}

// NewRuntime binds a workflow Definition to a Runtime. One Runtime
// replays exactly one definition; the Lifecycle Manager holds one per
// (workflow type, version_pin).
func NewRuntime(def Definition) *Runtime {
	return &Runtime{def: def}
}

// Outcome is the result of one Replay call: either new commands ready
// to append as events (progress), or a terminal result/failure.
type Outcome struct {
	Commands []*Command

	Completed bool
	Result    []*payload.Payload

	Failed        bool
	FailureReason string
	NonRetryable  bool
	FailureDetails []*payload.Payload
}

// Replay rebuilds runtime state from the given event prefix (spec
// §4.4 step 2), resumes the workflow function (step 3), and returns
// either the newly emitted commands or the execution's terminal
// outcome. events must start with WorkflowStarted and be contiguous;
// the caller is responsible for snapshot + tail loading (C1).
func (rt *Runtime) Replay(executionID string, events []history.Event) (*Outcome, error) {
	_, outcome, err := rt.replay(executionID, events)
	return outcome, err
}

// ReplayForQuery rebuilds runtime state exactly like Replay but also
// returns the live Context, so a query handler can inspect it without
// the Lifecycle Manager ever writing back to history (§4.6:
// "Queries use an isolated, ephemeral replay; their result is not
// written back").
func (rt *Runtime) ReplayForQuery(executionID string, events []history.Event) (*Context, *Outcome, error) {
	return rt.replay(executionID, events)
}

func (rt *Runtime) replay(executionID string, events []history.Event) (*Context, *Outcome, error) {
	if len(events) == 0 {
		return nil, nil, fmt.Errorf("workflow: replay requires at least the WorkflowStarted event")
	}
	started, ok := events[0].Attributes.(history.WorkflowStartedAttributes)
	if !ok || events[0].EventType != history.EventWorkflowStarted {
		return nil, nil, fmt.Errorf("workflow: first event must be WorkflowStarted")
	}

	ctx := newContext(executionID)
	ctx.now = events[0].EventTime

	disp := NewDispatcher(func(d *Dispatcher) {
		result, err := rt.def(ctx, started.Input)
		ctx.finalResult, ctx.finalErr = result, err
	})
	ctx.dispatcher = disp
	disp.ExecuteUntilBlocked()

	for _, ev := range events[1:] {
		ctx.now = ev.EventTime
		terminal, out, err := applyEvent(ctx, ev)
		if err != nil {
			return ctx, nil, coreerrors.NewFatalError(executionID, err.Error())
		}
		if terminal {
			return ctx, out, nil
		}
		if !disp.IsDone() {
			disp.ExecuteUntilBlocked()
		}
	}

	if disp.IsDone() {
		if ctx.finalErr != nil {
			return ctx, &Outcome{Failed: true, FailureReason: ctx.finalErr.Error()}, nil
		}
		return ctx, &Outcome{Completed: true, Result: ctx.finalResult}, nil
	}

	return ctx, &Outcome{Commands: ctx.tracker.pending()}, nil
}

// applyEvent folds one history event into ctx, resolving or binding
// the command it corresponds to. terminal is true once a
// WorkflowCompleted/Failed/Terminated/TimedOut event is observed, at
// which point out is the final Outcome and the caller should stop.
// err is non-nil when the event completes a command the tracker never
// issued — replay has diverged from the history it's replaying
// against, the violation §4.4 calls out as forbidden.
func applyEvent(ctx *Context, ev history.Event) (terminal bool, out *Outcome, err error) {
	switch ev.EventType {
	case history.EventActivityScheduled:
		if id, _, ok := ctx.tracker.firstUnboundOfType(CommandScheduleActivity); ok {
			ctx.tracker.bindScheduledEventID(id, ev.EventID)
		}
	case history.EventActivityCompleted:
		attrs := ev.Attributes.(history.ActivityCompletedAttributes)
		cmd, ok := ctx.tracker.resolveByScheduledEventID(attrs.ScheduledEventID)
		if !ok {
			return false, nil, &errNonDeterministic{message: fmt.Sprintf("ActivityCompleted for scheduledEventID=%d matches no outstanding ScheduleActivity command", attrs.ScheduledEventID)}
		}
		if f, ok := ctx.pendingFutures[cmd.ID]; ok {
			f.resolved = true
			f.result = attrs.Result
			delete(ctx.pendingFutures, cmd.ID)
		}
	case history.EventActivityFailed:
		attrs := ev.Attributes.(history.ActivityFailedAttributes)
		cmd, ok := ctx.tracker.resolveByScheduledEventID(attrs.ScheduledEventID)
		if !ok {
			return false, nil, &errNonDeterministic{message: fmt.Sprintf("ActivityFailed for scheduledEventID=%d matches no outstanding ScheduleActivity command", attrs.ScheduledEventID)}
		}
		if f, ok := ctx.pendingFutures[cmd.ID]; ok {
			f.resolved = true
			f.err = fmt.Errorf("activity failed: %s", attrs.Reason)
			delete(ctx.pendingFutures, cmd.ID)
		}
	case history.EventActivityTimedOut:
		attrs := ev.Attributes.(history.ActivityTimedOutAttributes)
		cmd, ok := ctx.tracker.resolveByScheduledEventID(attrs.ScheduledEventID)
		if !ok {
			return false, nil, &errNonDeterministic{message: fmt.Sprintf("ActivityTimedOut for scheduledEventID=%d matches no outstanding ScheduleActivity command", attrs.ScheduledEventID)}
		}
		if f, ok := ctx.pendingFutures[cmd.ID]; ok {
			f.resolved = true
			f.err = fmt.Errorf("activity timed out: %s", attrs.TimeoutType)
			delete(ctx.pendingFutures, cmd.ID)
		}
	case history.EventActivityCancelled:
		attrs := ev.Attributes.(history.ActivityCancelledAttributes)
		cmd, ok := ctx.tracker.resolveByScheduledEventID(attrs.ScheduledEventID)
		if !ok {
			return false, nil, &errNonDeterministic{message: fmt.Sprintf("ActivityCancelled for scheduledEventID=%d matches no outstanding ScheduleActivity command", attrs.ScheduledEventID)}
		}
		if f, ok := ctx.pendingFutures[cmd.ID]; ok {
			f.resolved = true
			f.err = fmt.Errorf("activity cancelled")
			delete(ctx.pendingFutures, cmd.ID)
		}
	case history.EventTimerStarted:
		if id, _, ok := ctx.tracker.firstUnboundOfType(CommandStartTimer); ok {
			ctx.tracker.bindScheduledEventID(id, ev.EventID)
		}
	case history.EventTimerFired:
		attrs := ev.Attributes.(history.TimerFiredAttributes)
		cmd, ok := ctx.tracker.resolveByID(CommandStartTimer, attrs.TimerID)
		if !ok {
			return false, nil, &errNonDeterministic{message: fmt.Sprintf("TimerFired for timerID=%s matches no outstanding StartTimer command", attrs.TimerID)}
		}
		if f, ok := ctx.pendingFutures[cmd.ID]; ok {
			f.resolved = true
			delete(ctx.pendingFutures, cmd.ID)
		}
	case history.EventTimerCancelled:
		attrs := ev.Attributes.(history.TimerCancelledAttributes)
		cmd, ok := ctx.tracker.resolveByID(CommandStartTimer, attrs.TimerID)
		if !ok {
			return false, nil, &errNonDeterministic{message: fmt.Sprintf("TimerCancelled for timerID=%s matches no outstanding StartTimer command", attrs.TimerID)}
		}
		if f, ok := ctx.pendingFutures[cmd.ID]; ok {
			f.resolved = true
			f.err = fmt.Errorf("timer cancelled")
			delete(ctx.pendingFutures, cmd.ID)
		}
	case history.EventSignalReceived:
		attrs := ev.Attributes.(history.SignalReceivedAttributes)
		if f, ok := ctx.awaiting[attrs.SignalName]; ok {
			delete(ctx.awaiting, attrs.SignalName)
			if cmd, ok := ctx.tracker.resolveByID(CommandAwaitSignal, attrs.SignalName); ok {
				delete(ctx.pendingFutures, cmd.ID)
			}
			f.resolved = true
			f.result = attrs.Payload
		} else {
			ctx.signalInbox[attrs.SignalName] = append(ctx.signalInbox[attrs.SignalName], attrs.Payload)
		}
	case history.EventSubWorkflowScheduled:
		attrs := ev.Attributes.(history.SubWorkflowScheduledAttributes)
		if id, _, ok := ctx.tracker.firstUnboundOfType(CommandStartChildWorkflow); ok {
			ctx.tracker.bindScheduledEventID(id, ev.EventID)
			ctx.childExecutionIDToScheduledEventID[attrs.ChildExecutionID] = ev.EventID
		}
	case history.EventSubWorkflowCompleted:
		attrs := ev.Attributes.(history.SubWorkflowCompletedAttributes)
		// Sub-workflows are matched by the scheduled event id recorded
		// against their child execution id at scheduling time, not by
		// issue order — children may complete out of order.
		if scheduledEventID, ok := ctx.childExecutionIDToScheduledEventID[attrs.ChildExecutionID]; ok {
			cmd, ok := ctx.tracker.resolveByScheduledEventID(scheduledEventID)
			if !ok {
				return false, nil, &errNonDeterministic{message: fmt.Sprintf("SubWorkflowCompleted for childExecutionID=%s matches no outstanding StartChildWorkflow command", attrs.ChildExecutionID)}
			}
			if f, ok := ctx.pendingFutures[cmd.ID]; ok {
				f.resolved = true
				if attrs.Failed {
					f.err = fmt.Errorf("child workflow failed")
				} else {
					f.result = attrs.Result
				}
				delete(ctx.pendingFutures, cmd.ID)
			}
			delete(ctx.childExecutionIDToScheduledEventID, attrs.ChildExecutionID)
		}
	case history.EventWorkflowCancelRequested:
		ctx.cancelRequested = true
	case history.EventVersionMarker:
		// Version pinning is resolved before Replay is invoked (the
		// caller selects the Definition); the marker is retained in
		// history purely as an audit trail (§4.7).
	case history.EventWorkflowCompleted:
		attrs := ev.Attributes.(history.WorkflowCompletedAttributes)
		return true, &Outcome{Completed: true, Result: attrs.Result}, nil
	case history.EventWorkflowFailed:
		attrs := ev.Attributes.(history.WorkflowFailedAttributes)
		return true, &Outcome{Failed: true, FailureReason: attrs.Reason, NonRetryable: attrs.NonRetryable, FailureDetails: attrs.Details}, nil
	case history.EventWorkflowTerminated:
		attrs := ev.Attributes.(history.WorkflowTerminatedAttributes)
		return true, &Outcome{Failed: true, FailureReason: attrs.Reason, NonRetryable: true}, nil
	case history.EventWorkflowTimedOut:
		attrs := ev.Attributes.(history.WorkflowTimedOutAttributes)
		return true, &Outcome{Failed: true, FailureReason: "timed out: " + attrs.TimeoutType, NonRetryable: true}, nil
	}
	return false, nil, nil
}
