// Package activity implements the Activity Registry & Dispatcher
// (§4.3): a process-wide mapping of activity_type to handler,
// and dispatch of ActivityTask with retry/timeout/heartbeat
// enforcement.
package activity

import (
	"context"
	"fmt"
	"sync"

	"github.com/duraflow/core/internal/history"
)

// Handler executes one activity attempt. It receives the task context
// (cancelled on timeout or cooperative cancellation) and the decoded
// input, and returns the result to be encoded into ActivityCompleted,
// or an error that classifyFailure maps to an ActivityFailureKind.
type Handler func(ctx context.Context, input []byte) ([]byte, error)

// TypeVersion identifies one registered activity definition. Activities
// are versioned by (name, version) the same way WorkflowType is (spec
// §3).
type TypeVersion struct {
	Name    string
	Version [3]int32
}

func (t TypeVersion) String() string {
	return fmt.Sprintf("%s@%d.%d.%d", t.Name, t.Version[0], t.Version[1], t.Version[2])
}

// Registration is everything the registry stores about an activity
// type: its handler and its defaults. Dispatch uses DefaultRetryPolicy
// when a task carries a zero RetryPolicy; the default timeouts are not
// read by Dispatch, which enforces only the deadlines the task carries.
type Registration struct {
	Handler                Handler
	DefaultScheduleToClose  int64 // nanoseconds, 0 = no default
	DefaultStartToClose     int64
	DefaultHeartbeatTimeout int64
	DefaultRetryPolicy      history.RetryPolicySnapshot
}

// Registry maps activity_type to a Registration. Registration is
// process-wide and expected to happen at worker startup, before
// Freeze; Register panics on an attempt to register after Freeze so a
// coding error surfaces immediately instead of racing dispatch.
type Registry struct {
	mu     sync.RWMutex
	byType map[TypeVersion]Registration
	frozen bool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[TypeVersion]Registration)}
}

// Register binds an activity type+version to a handler. It is not
// safe to call concurrently with Lookup/Dispatch once Freeze has been
// called.
func (r *Registry) Register(tv TypeVersion, reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("activity: Register called after Freeze for " + tv.String())
	}
	if reg.Handler == nil {
		panic("activity: nil handler for " + tv.String())
	}
	r.byType[tv] = reg
}

// Freeze marks the registry read-only. Workers call this once, after
// all activities have registered and before polling begins.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup resolves a registered activity type. ok is false if no
// handler was registered for tv.
func (r *Registry) Lookup(tv TypeVersion) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byType[tv]
	return reg, ok
}
