package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// WorkflowHandler resumes a workflow task to completion or its next
// yield point.
type WorkflowHandler func(ctx context.Context, task Task)

// ActivityHandler dispatches one activity task attempt.
type ActivityHandler func(ctx context.Context, task Task)

// WorkerPool runs a fixed number of OS threads, each a cooperative
// task executor (§4.5: "Parallel threads, each running a
// cooperative task executor... the executor is not preemptive — tasks
// voluntarily yield"). Selection across tenants is delegated to the
// TenantQueues' own round robin; the pool's job is purely to
// keep `size` workers pulling as long as there is capacity and ready
// work.
type WorkerPool struct {
	size int

	workflowQueue *TenantQueue
	activityQueue *TenantQueue
	limiters      *LimiterRegistry

	handleWorkflow WorkflowHandler
	handleActivity ActivityHandler

	logger *zap.Logger
	scope  tally.Scope

	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

// NewWorkerPool wires a bounded pool of size workers over the given
// queues and per-tenant limiters.
func NewWorkerPool(
	size int,
	workflowQueue, activityQueue *TenantQueue,
	limiters *LimiterRegistry,
	handleWorkflow WorkflowHandler,
	handleActivity ActivityHandler,
	logger *zap.Logger,
	scope tally.Scope,
) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	return &WorkerPool{
		size:           size,
		workflowQueue:  workflowQueue,
		activityQueue:  activityQueue,
		limiters:       limiters,
		handleWorkflow: handleWorkflow,
		handleActivity: handleActivity,
		logger:         logger,
		scope:          scope,
		stopCh:         make(chan struct{}),
	}
}

// Start spawns the pool's worker goroutines. Each runs until ctx is
// cancelled or Stop/Shutdown is called.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

func (p *WorkerPool) loop(ctx context.Context) {
	defer p.wg.Done()
	idleBackoff := time.Millisecond
	const maxIdleBackoff = 50 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		if p.runOneTask(ctx) {
			idleBackoff = time.Millisecond
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-p.workflowQueue.Notify():
		case <-p.activityQueue.Notify():
		case <-time.After(idleBackoff):
			if idleBackoff < maxIdleBackoff {
				idleBackoff *= 2
			}
		}
	}
}

// runOneTask dequeues and runs at most one task, trying the activity
// queue first and the workflow queue after it. It reports whether it
// made progress, so the
// caller can skip the idle backoff when there's more work queued.
func (p *WorkerPool) runOneTask(ctx context.Context) bool {
	if task, ok := p.activityQueue.TryDequeue(); ok {
		limiter := p.limiters.Get(task.TenantID)
		if limiter != nil && !limiter.AllowActivity() {
			// Tenant burst exhausted: put the task back at the tail so
			// others get a turn, rather than block the worker on it.
			_ = p.activityQueue.Enqueue(task)
			p.scope.Tagged(map[string]string{"tenant_id": task.TenantID}).Counter("activity_rate_limited").Inc(1)
		} else {
			p.handleActivity(ctx, task)
			return true
		}
	}

	if task, ok := p.workflowQueue.TryDequeue(); ok {
		limiter := p.limiters.Get(task.TenantID)
		if limiter != nil && !limiter.TryAcquireWorkflowSlot() {
			_ = p.workflowQueue.Enqueue(task)
			p.scope.Tagged(map[string]string{"tenant_id": task.TenantID}).Counter("workflow_concurrency_limited").Inc(1)
			return false
		}
		func() {
			if limiter != nil {
				defer limiter.ReleaseWorkflowSlot()
			}
			p.handleWorkflow(ctx, task)
		}()
		return true
	}

	return false
}

// Stop halts all workers immediately, without waiting for in-flight
// tasks.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
}

// Shutdown stops accepting new iterations and waits up to
// drainDeadline for in-flight tasks to finish naturally (§4.5:
// "Shutdown is cooperative: the scheduler stops accepting new tasks,
// drains in-flight up to a drain deadline"). It returns false if the
// deadline elapsed with workers still running.
func (p *WorkerPool) Shutdown(drainDeadline time.Duration) bool {
	p.Stop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(drainDeadline):
		p.logger.Warn("worker pool drain deadline elapsed with workers still running")
		return false
	}
}
