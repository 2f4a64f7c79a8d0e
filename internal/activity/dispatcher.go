package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/duraflow/core/internal/common/backoff"
	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/duraflow/core/internal/history"
	"github.com/duraflow/core/internal/payload"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Task is the unit of work the Scheduler hands the Dispatcher,
// mirroring §3's ActivityTask.
type Task struct {
	TenantID                string
	ExecutionID              string
	ScheduledEventID         int64
	ActivityType             TypeVersion
	Input                    []*payload.Payload
	Attempt                  int32
	ScheduleToCloseDeadline  time.Time
	StartToCloseDeadline     time.Time
	HeartbeatTimeout         time.Duration // 0 = no heartbeat requirement
	RetryPolicy              history.RetryPolicySnapshot
}

// HeartbeatFunc lets a running handler extend its own heartbeat
// deadline. The Dispatcher passes one into context via
// ContextWithHeartbeat; handlers that perform long-running I/O should
// call it periodically.
type HeartbeatFunc func(ctx context.Context, details []byte) error

type heartbeatKey struct{}

// ContextWithHeartbeat attaches a HeartbeatFunc to ctx for handlers to
// retrieve with HeartbeatFromContext.
func ContextWithHeartbeat(ctx context.Context, fn HeartbeatFunc) context.Context {
	return context.WithValue(ctx, heartbeatKey{}, fn)
}

// HeartbeatFromContext retrieves the HeartbeatFunc attached by the
// Dispatcher, or nil if the activity was not invoked through one
// (e.g. in a unit test calling the handler directly).
func HeartbeatFromContext(ctx context.Context) HeartbeatFunc {
	fn, _ := ctx.Value(heartbeatKey{}).(HeartbeatFunc)
	return fn
}

// Outcome is what Dispatch returns once an attempt concludes, either
// as a terminal history event to append or as a retry instruction.
type Outcome struct {
	// Attributes is one of ActivityCompletedAttributes,
	// ActivityFailedAttributes, ActivityTimedOutAttributes, or
	// ActivityCancelledAttributes, valid only when Retry is false.
	EventType  history.EventType
	Attributes interface{}
	// Retry is set when a recoverable failure should be retried after
	// backoff rather than recorded as ActivityFailed immediately. The
	// Scheduler re-enqueues the task at Attempt+1 after RetryAfter.
	Retry      bool
	RetryAfter time.Duration
}

// Dispatcher resolves an ActivityTask against the Registry and
// enforces schedule-to-close/start-to-close/heartbeat deadlines plus
// the task's retry policy (§4.3).
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
	scope    tally.Scope
	clock    backoff.Clock

	mu         sync.Mutex
	heartbeats map[int64]time.Time // scheduled_event_id -> last heartbeat
}

// NewDispatcher builds a Dispatcher over registry. Result recording
// into the history store is the caller's responsibility (the
// Scheduler owns the CAS-retry loop described in §4.3 "Result
// recording"), so Dispatch returns an Outcome rather than writing
// history itself.
func NewDispatcher(registry *Registry, logger *zap.Logger, scope tally.Scope) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		logger:     logger,
		scope:      scope,
		clock:      backoff.SystemClock,
		heartbeats: make(map[int64]time.Time),
	}
}

// Dispatch resolves task's handler, enforces its deadlines, and runs
// one attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) (Outcome, error) {
	reg, ok := d.registry.Lookup(task.ActivityType)
	if !ok {
		return Outcome{
			EventType: history.EventActivityFailed,
			Attributes: history.ActivityFailedAttributes{
				ScheduledEventID: task.ScheduledEventID,
				Attempt:          task.Attempt,
				FailureKind:      string(coreerrors.ActivityNonRetryable),
				Reason:           "no handler registered for " + task.ActivityType.String(),
			},
		}, nil
	}
	if p := task.RetryPolicy; p.MaxAttempts == 0 && p.InitialInterval == 0 && p.MaxInterval == 0 && p.BackoffMultiplier == 0 && len(p.NonRetryableErrorKinds) == 0 {
		task.RetryPolicy = reg.DefaultRetryPolicy
	}

	deadline := task.StartToCloseDeadline
	if !task.ScheduleToCloseDeadline.IsZero() && task.ScheduleToCloseDeadline.Before(deadline) {
		deadline = task.ScheduleToCloseDeadline
	}
	attemptCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		attemptCtx, cancel = context.WithDeadline(ctx, deadline)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var heartbeatTimedOut atomic.Bool
	if task.HeartbeatTimeout > 0 {
		attemptCtx = ContextWithHeartbeat(attemptCtx, d.heartbeatFunc(task.ScheduledEventID))
		stop := d.watchHeartbeat(attemptCtx, task, func() {
			heartbeatTimedOut.Store(true)
			cancel()
		})
		defer stop()
	}

	scope := d.scope
	if scope != nil {
		scope = scope.Tagged(map[string]string{"activity_type": task.ActivityType.Name})
	}
	start := d.clock.Now()

	var rawInput []byte
	if len(task.Input) > 0 {
		rawInput = task.Input[0].Data
	}

	result, handlerErr := reg.Handler(attemptCtx, rawInput)

	if scope != nil {
		scope.Timer("activity_attempt_latency").Record(d.clock.Now().Sub(start))
	}

	d.mu.Lock()
	delete(d.heartbeats, task.ScheduledEventID)
	d.mu.Unlock()

	if handlerErr == nil {
		resultPayloads, err := payload.Encode(payload.Default, result)
		if err != nil {
			return Outcome{}, coreerrors.NewFatalError(task.ExecutionID, "encode activity result: "+err.Error())
		}
		return Outcome{
			EventType: history.EventActivityCompleted,
			Attributes: history.ActivityCompletedAttributes{
				ScheduledEventID: task.ScheduledEventID,
				Result:           resultPayloads,
			},
		}, nil
	}

	if heartbeatTimedOut.Load() {
		return Outcome{
			EventType: history.EventActivityTimedOut,
			Attributes: history.ActivityTimedOutAttributes{
				ScheduledEventID: task.ScheduledEventID,
				TimeoutType:      "Heartbeat",
			},
		}, nil
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		timeoutType := "StartToClose"
		if !task.ScheduleToCloseDeadline.IsZero() && !d.clock.Now().Before(task.ScheduleToCloseDeadline) {
			timeoutType = "ScheduleToClose"
		}
		return Outcome{
			EventType: history.EventActivityTimedOut,
			Attributes: history.ActivityTimedOutAttributes{
				ScheduledEventID: task.ScheduledEventID,
				TimeoutType:      timeoutType,
			},
		}, nil
	}

	if ctx.Err() != nil {
		// Cancellation came from the caller (task context), not our
		// own deadline/heartbeat watchdog: §4.3 "best-effort
		// cancellation" — record completed if the handler still
		// managed to return a result despite observing cancellation.
		return Outcome{
			EventType:  history.EventActivityCancelled,
			Attributes: history.ActivityCancelledAttributes{ScheduledEventID: task.ScheduledEventID},
		}, nil
	}

	kind := classifyFailure(handlerErr)
	for _, nonRetryable := range task.RetryPolicy.NonRetryableErrorKinds {
		if nonRetryable == string(kind) {
			kind = coreerrors.ActivityNonRetryable
		}
	}

	if kind != coreerrors.ActivityNonRetryable && d.attemptBelowMax(task) {
		return Outcome{
			Retry:      true,
			RetryAfter: backoffDuration(task.RetryPolicy, task.Attempt),
		}, nil
	}

	return Outcome{
		EventType: history.EventActivityFailed,
		Attributes: history.ActivityFailedAttributes{
			ScheduledEventID: task.ScheduledEventID,
			Attempt:          task.Attempt,
			FailureKind:      string(kind),
			Reason:           handlerErr.Error(),
		},
	}, nil
}

// classifyFailure inspects handlerErr for a *coreerrors.ActivityError
// (a handler that wants to control its own retryability) and defaults
// to Retryable otherwise, per §4.3's "on recoverable failure"
// language: unclassified errors are assumed transient.
func classifyFailure(handlerErr error) coreerrors.ActivityFailureKind {
	var actErr *coreerrors.ActivityError
	if errors.As(handlerErr, &actErr) {
		return actErr.FailureKind
	}
	return coreerrors.ActivityRetryable
}

// attemptBelowMax counts attempts from 0: Attempt n is try number n+1.
func (d *Dispatcher) attemptBelowMax(task Task) bool {
	return task.RetryPolicy.MaxAttempts <= 0 || task.Attempt+1 < task.RetryPolicy.MaxAttempts
}

func backoffDuration(policy history.RetryPolicySnapshot, attempt int32) time.Duration {
	interval := policy.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	scaled := float64(interval)
	for i := int32(0); i < attempt; i++ {
		scaled *= multiplier
	}
	out := time.Duration(scaled)
	if policy.MaxInterval > 0 && out > policy.MaxInterval {
		out = policy.MaxInterval
	}
	return out
}

func (d *Dispatcher) heartbeatFunc(scheduledEventID int64) HeartbeatFunc {
	return func(_ context.Context, _ []byte) error {
		d.mu.Lock()
		d.heartbeats[scheduledEventID] = d.clock.Now()
		d.mu.Unlock()
		return nil
	}
}

// watchHeartbeat polls for a missed heartbeat deadline and invokes
// onTimeout exactly once when one is detected. It stops when the
// returned func is called.
func (d *Dispatcher) watchHeartbeat(ctx context.Context, task Task, onTimeout func()) func() {
	pollInterval := task.HeartbeatTimeout / 4
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	done := make(chan struct{})

	d.mu.Lock()
	d.heartbeats[task.ScheduledEventID] = d.clock.Now()
	d.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.mu.Lock()
				last := d.heartbeats[task.ScheduledEventID]
				d.mu.Unlock()
				if d.clock.Now().Sub(last) > task.HeartbeatTimeout {
					onTimeout()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
