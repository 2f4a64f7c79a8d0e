package workflow

import (
	"fmt"
	"sync"
)

// coroutineState is the cooperative-scheduling primitive the Runtime
// uses to run a workflow function: the function body runs on its own
// goroutine but only ever makes progress while explicitly resumed by
// the dispatcher, and always blocks before returning control so the
// dispatcher decides exactly when it runs. The unblocked-one-at-a-time
// channel handoff below is the standard Go substitute for the
// stackful coroutines other SDKs use.
type coroutineState struct {
	name     string
	resume   chan struct{}
	yield    chan struct{}
	done     bool
	panicErr interface{}
}

// Dispatcher runs a single workflow function's goroutine to
// completion one "turn" at a time: each call to ExecuteUntilBlocked
// resumes the coroutine and blocks until it yields back (by calling an
// await point) or returns.
type Dispatcher struct {
	mu    sync.Mutex
	main  *coroutineState
	closed bool
}

// NewDispatcher starts fn on its own goroutine, immediately blocked
// until the first ExecuteUntilBlocked call.
func NewDispatcher(fn func(*Dispatcher)) *Dispatcher {
	d := &Dispatcher{
		main: &coroutineState{
			name:   "main",
			resume: make(chan struct{}),
			yield:  make(chan struct{}),
		},
	}
	go d.run(fn)
	return d
}

func (d *Dispatcher) run(fn func(*Dispatcher)) {
	<-d.main.resume
	defer func() {
		if r := recover(); r != nil {
			d.main.panicErr = r
		}
		d.main.done = true
		d.main.yield <- struct{}{}
	}()
	fn(d)
	d.main.done = true
	d.main.yield <- struct{}{}
}

// ExecuteUntilBlocked resumes the coroutine and waits for it to
// yield (via Yield) or return. It panics with the coroutine's own
// panic value if the workflow function panicked, so the Runtime can
// turn that into a WorkflowFailed outcome.
func (d *Dispatcher) ExecuteUntilBlocked() {
	d.main.resume <- struct{}{}
	<-d.main.yield
	if d.main.panicErr != nil {
		p := d.main.panicErr
		d.main.panicErr = nil
		panic(p)
	}
}

// IsDone reports whether the workflow function has returned.
func (d *Dispatcher) IsDone() bool {
	return d.main.done
}

// Yield suspends the calling coroutine until the next
// ExecuteUntilBlocked call. Called by the runtime context's await
// points (ScheduleActivity, StartTimer, AwaitSignal,
// StartChildWorkflow) — never by workflow bodies directly.
func (d *Dispatcher) Yield() {
	d.main.yield <- struct{}{}
	<-d.main.resume
}

// Close marks the dispatcher closed. It does not stop or release the
// coroutine's goroutine: a workflow function blocked in Yield stays
// blocked after Close.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.main.done {
		return
	}
	d.closed = true
}

// errNonDeterministic is raised when replay produces a different
// command sequence than the history it's replaying against, the
// violation §4.4 calls out as forbidden.
type errNonDeterministic struct {
	message string
}

func (e *errNonDeterministic) Error() string {
	return fmt.Sprintf("workflow: non-deterministic replay: %s", e.message)
}
