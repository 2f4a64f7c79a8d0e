package workflow

import (
	"fmt"
	"sync"

	"github.com/duraflow/core/internal/payload"
)

// TypeVersion identifies a registered workflow definition the same
// way activity.TypeVersion identifies an activity handler.
type TypeVersion struct {
	Name    string
	Version [3]int32
}

func (tv TypeVersion) String() string {
	return fmt.Sprintf("%s@%d.%d.%d", tv.Name, tv.Version[0], tv.Version[1], tv.Version[2])
}

// QueryHandler answers one named query against a replayed,
// read-only Context — it must never issue commands.
type QueryHandler func(ctx *Context, args []*payload.Payload) ([]*payload.Payload, error)

// Registration binds one workflow type+version to its Definition and
// the named queries it answers.
type Registration struct {
	Definition    Definition
	QueryHandlers map[string]QueryHandler
}

// Registry is the Lifecycle Manager's lookup from (type, version_pin)
// to the Definition that must be used to replay an execution pinned
// to that version (§4.4 "Versioning at replay").
type Registry struct {
	mu     sync.RWMutex
	byType map[TypeVersion]Registration
	frozen bool
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[TypeVersion]Registration)}
}

// Register adds a workflow definition. Panics if called after Freeze
// or with a nil Definition.
func (r *Registry) Register(tv TypeVersion, reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("workflow: cannot register %s after Freeze", tv))
	}
	if reg.Definition == nil {
		panic(fmt.Sprintf("workflow: nil Definition for %s", tv))
	}
	r.byType[tv] = reg
}

// Freeze forbids further registration, the same lifecycle gate
// activity.Registry uses: once workers are dispatching tasks, the
// registered type set must not change underneath them.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup resolves a workflow type+version to its Registration.
func (r *Registry) Lookup(tv TypeVersion) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byType[tv]
	return reg, ok
}
