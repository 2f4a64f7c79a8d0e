// Package scheduler implements the Scheduler / Worker Loop (spec
// §4.5): tenant-partitioned task queues, a cooperative worker pool, a
// hashed timer wheel, and per-tenant rate/concurrency fairness.
package scheduler

import (
	"container/list"
	"sync"

	coreerrors "github.com/duraflow/core/internal/errors"
)

// TaskKind partitions the queue space by task kind rather than by a
// user-chosen queue name.
type TaskKind int32

const (
	TaskKindWorkflow TaskKind = iota
	TaskKindActivity
)

func (k TaskKind) String() string {
	switch k {
	case TaskKindWorkflow:
		return "workflow-task-queue"
	case TaskKindActivity:
		return "activity-task-queue"
	default:
		return "unknown-task-queue"
	}
}

// Task is one unit of schedulable work: a workflow task (resume a
// replay) or an activity task (dispatch one attempt). The scheduler
// never inspects Payload; it only enqueues/dequeues/counts.
type Task struct {
	TenantID string
	Kind     TaskKind
	Payload  interface{}
}

// tenantQueue is a single tenant's FIFO backlog for one task kind.
type tenantQueue struct {
	tenantID string
	tasks    *list.List // of Task
}

// TenantQueue is a multi-tenant, kind-partitioned queue with
// round-robin selection across tenants that have ready work, so one
// tenant's burst cannot starve another (§4.5 "Per-tenant fairness").
// Tenants carry no weights: each tenant with ready work gets one task
// per turn. HighWaterMark bounds total depth per kind; Enqueue
// beyond it returns a BackpressureError while existing queued tasks
// keep draining.
type TenantQueue struct {
	mu            sync.Mutex
	kind          TaskKind
	highWaterMark int
	depth         int
	order         []string // tenant ids in round-robin order
	cursor        int
	byTenant      map[string]*tenantQueue

	notify chan struct{}
}

// NewTenantQueue creates an empty queue for one task kind.
func NewTenantQueue(kind TaskKind, highWaterMark int) *TenantQueue {
	return &TenantQueue{
		kind:          kind,
		highWaterMark: highWaterMark,
		byTenant:      make(map[string]*tenantQueue),
		notify:        make(chan struct{}, 1),
	}
}

// Depth returns the total number of queued (not yet dequeued) tasks.
func (q *TenantQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Enqueue appends a task to its tenant's backlog. It rejects with
// BackpressureError once the queue's total depth has crossed
// highWaterMark; the caller (Lifecycle Manager's start_workflow) maps
// that straight into a Backpressured response.
func (q *TenantQueue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.highWaterMark > 0 && q.depth >= q.highWaterMark {
		return coreerrors.NewBackpressureError(q.kind.String(), q.depth, q.highWaterMark)
	}

	tq, ok := q.byTenant[task.TenantID]
	if !ok {
		tq = &tenantQueue{tenantID: task.TenantID, tasks: list.New()}
		q.byTenant[task.TenantID] = tq
		q.order = append(q.order, task.TenantID)
	}
	tq.tasks.PushBack(task)
	q.depth++

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// TryDequeue pops the next task using unweighted round-robin across
// tenants with ready work, advancing the cursor so the next call
// starts from the following tenant. ok is false if the queue is
// empty.
func (q *TenantQueue) TryDequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tryDequeueLocked()
}

func (q *TenantQueue) tryDequeueLocked() (Task, bool) {
	n := len(q.order)
	for i := 0; i < n; i++ {
		idx := (q.cursor + i) % n
		tenantID := q.order[idx]
		tq := q.byTenant[tenantID]
		if tq == nil || tq.tasks.Len() == 0 {
			continue
		}
		el := tq.tasks.Front()
		tq.tasks.Remove(el)
		q.depth--
		q.cursor = (idx + 1) % n
		return el.Value.(Task), true
	}
	return Task{}, false
}

// Notify returns a channel a waiting consumer can select on: it is
// signalled (non-blocking, best-effort) whenever Enqueue adds work, so
// a worker can block without busy-polling an empty queue.
func (q *TenantQueue) Notify() <-chan struct{} {
	return q.notify
}
