package scheduler

import (
	"context"
	"time"

	"github.com/facebookgo/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// Config bundles the tunables a Scheduler is built from (§4.5).
type Config struct {
	WorkerPoolSize      int
	QueueHighWaterMark  int
	TimerWheelSlots     int
	TimerWheelTick      time.Duration
	DrainDeadline       time.Duration
}

// Scheduler is the Scheduler / Worker Loop (C5): it owns the
// workflow/activity task queues, the timer wheel, and the worker pool
// that drains them, wired together the way §4.5 describes.
type Scheduler struct {
	cfg Config

	workflowQueue *TenantQueue
	activityQueue *TenantQueue
	wheel         *TimerWheel
	limiters      *LimiterRegistry
	pool          *WorkerPool

	logger *zap.Logger
	scope  tally.Scope

	timerToWorkflow func(fired TimerFired)
}

// New builds a Scheduler. quotas resolves a tenant's declared
// activity rate and workflow concurrency (§4.2 Quotas), and
// timerToWorkflow is invoked whenever the wheel fires a timer — the
// caller's job is to translate that into an EnqueueWorkflowTask call
// after appending the corresponding TimerFired history event through
// C1, so the two stay consistent.
func New(
	cfg Config,
	clk clock.Clock,
	quotas func(tenantID string) (activityRatePerSec float64, maxConcurrentWorkflows int64),
	handleWorkflow WorkflowHandler,
	handleActivity ActivityHandler,
	timerToWorkflow func(fired TimerFired),
	logger *zap.Logger,
	scope tally.Scope,
) *Scheduler {
	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 8
	}
	if cfg.TimerWheelTick <= 0 {
		cfg.TimerWheelTick = time.Millisecond
	}
	if cfg.DrainDeadline <= 0 {
		cfg.DrainDeadline = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if scope == nil {
		scope = tally.NoopScope
	}

	workflowQueue := NewTenantQueue(TaskKindWorkflow, cfg.QueueHighWaterMark)
	activityQueue := NewTenantQueue(TaskKindActivity, cfg.QueueHighWaterMark)
	limiters := NewLimiterRegistry(quotas)
	pool := NewWorkerPool(cfg.WorkerPoolSize, workflowQueue, activityQueue, limiters, handleWorkflow, handleActivity, logger, scope)

	return &Scheduler{
		cfg:             cfg,
		workflowQueue:   workflowQueue,
		activityQueue:   activityQueue,
		wheel:           NewTimerWheel(clk, cfg.TimerWheelSlots, cfg.TimerWheelTick),
		limiters:        limiters,
		pool:            pool,
		logger:          logger,
		scope:           scope,
		timerToWorkflow: timerToWorkflow,
	}
}

// Start runs the worker pool and the timer wheel until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.pool.Start(ctx)
	go s.wheel.Run()
	go s.drainFired(ctx)
}

func (s *Scheduler) drainFired(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fired := <-s.wheel.Fired():
			if s.timerToWorkflow != nil {
				s.timerToWorkflow(fired)
			}
		}
	}
}

// EnqueueWorkflowTask submits a workflow task for tenantID/execution.
// Returns a BackpressureError (§4.5) once the workflow queue's
// high-water mark is crossed.
func (s *Scheduler) EnqueueWorkflowTask(tenantID string, payload interface{}) error {
	return s.workflowQueue.Enqueue(Task{TenantID: tenantID, Kind: TaskKindWorkflow, Payload: payload})
}

// EnqueueActivityTask submits an activity task for tenantID.
func (s *Scheduler) EnqueueActivityTask(tenantID string, payload interface{}) error {
	return s.activityQueue.Enqueue(Task{TenantID: tenantID, Kind: TaskKindActivity, Payload: payload})
}

// ScheduleTimer arms a workflow timer on the wheel.
func (s *Scheduler) ScheduleTimer(tenantID, executionID, timerID string, d time.Duration) {
	s.wheel.Schedule(tenantID, executionID, timerID, d)
}

// CancelTimer disarms a previously scheduled workflow timer.
func (s *Scheduler) CancelTimer(tenantID, executionID, timerID string) {
	s.wheel.Cancel(tenantID, executionID, timerID)
}

// QueueDepth reports the given kind's current total depth, exposed
// for operators checking how close a tenant is to Backpressured.
func (s *Scheduler) QueueDepth(kind TaskKind) int {
	if kind == TaskKindActivity {
		return s.activityQueue.Depth()
	}
	return s.workflowQueue.Depth()
}

// Shutdown stops the wheel and cooperatively drains the worker pool
// up to the configured drain deadline (§4.5).
func (s *Scheduler) Shutdown() bool {
	s.wheel.Stop()
	return s.pool.Shutdown(s.cfg.DrainDeadline)
}
