// Package versioning implements the Version & Migration Engine (spec
// §4.7): registering workflow type versions, computing compatibility,
// planning and executing migrations, pinning executions to the
// version their replay must use, and enforcing deprecation/sunset.
package versioning

import (
	"fmt"
	"sync"
	"time"

	coreerrors "github.com/duraflow/core/internal/errors"
)

// Compatibility classifies how a new version relates to its
// predecessor's history, per §4.7.
type Compatibility string

const (
	CompatibilityBackward Compatibility = "Backward"
	CompatibilityForward  Compatibility = "Forward"
	CompatibilityNone     Compatibility = "None"
)

// SchemaDiff is the declared shape of a (from, to) version pair's
// change — counts the migration-plan complexity formula consumes.
type SchemaDiff struct {
	SchemaChanges      int
	BreakingChanges    int
	DataTransformations int
}

// VersionSpec is what register_version accepts (§4.7).
type VersionSpec struct {
	WorkflowType    string
	Version         [3]int32
	Schema          map[string]string
	BreakingChanges []string
	MigrationNotes  string

	DeprecatedAt *time.Time
	SunsetAt     *time.Time
}

func (v VersionSpec) key() versionKey {
	return versionKey{workflowType: v.WorkflowType, version: v.Version}
}

type versionKey struct {
	workflowType string
	version      [3]int32
}

func validVersion(v [3]int32) bool {
	return v[0] >= 0 && v[1] >= 0 && v[2] >= 0 && (v[0] > 0 || v[1] > 0 || v[2] > 0)
}

// Registry tracks every registered (workflow_type, version), per §4.7.
// Execution pins are kept by PinRegistry, not here.
type Registry struct {
	mu       sync.RWMutex
	versions map[versionKey]VersionSpec
	pins     map[string]versionKey // execution id -> pinned version
}

// NewRegistry creates an empty version registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[versionKey]VersionSpec),
		pins:     make(map[string]versionKey),
	}
}

// Register records a new version. It rejects a malformed version
// (§4.7 "Rejects malformed versions") and returns the Compatibility
// computed from diff, the caller's declared change against the
// preceding version; no registered version is consulted.
func (r *Registry) Register(spec VersionSpec, diff SchemaDiff) (Compatibility, error) {
	if !validVersion(spec.Version) {
		return "", coreerrors.NewValidationError("version", fmt.Sprintf("malformed version %v", spec.Version))
	}
	if spec.WorkflowType == "" {
		return "", coreerrors.NewValidationError("workflow_type", "workflow_type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[spec.key()] = spec

	return computeCompatibility(diff), nil
}

// computeCompatibility derives Backward/Forward/None from the
// declared schema diff the way §4.7 describes: any breaking
// change declared against the prior version rules out Backward
// compatibility (Forward, or None when data transformations are also
// declared); otherwise schema-only additions are Backward compatible
// (old history still replays under the new definition), and a diff
// with no changes at all is reported as Backward too.
func computeCompatibility(diff SchemaDiff) Compatibility {
	if diff.BreakingChanges > 0 {
		if diff.DataTransformations > 0 {
			return CompatibilityNone
		}
		return CompatibilityForward
	}
	return CompatibilityBackward
}

// Lookup returns a registered version's spec.
func (r *Registry) Lookup(workflowType string, version [3]int32) (VersionSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.versions[versionKey{workflowType: workflowType, version: version}]
	return spec, ok
}

// Deprecate marks a version deprecated/sunset (§4.7
// "Deprecation"): new starts are refused after sunsetAt; in-flight
// executions continue until migrated or naturally completed.
func (r *Registry) Deprecate(workflowType string, version [3]int32, deprecatedAt, sunsetAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := versionKey{workflowType: workflowType, version: version}
	spec, ok := r.versions[key]
	if !ok {
		return coreerrors.NewValidationError("version", "cannot deprecate an unregistered version")
	}
	spec.DeprecatedAt = &deprecatedAt
	spec.SunsetAt = &sunsetAt
	r.versions[key] = spec
	return nil
}

// RefuseNewStarts reports whether workflowType@version has sunset as
// of now, and new start_workflow calls against it must be refused.
func (r *Registry) RefuseNewStarts(workflowType string, version [3]int32, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.versions[versionKey{workflowType: workflowType, version: version}]
	if !ok || spec.SunsetAt == nil {
		return false
	}
	return !now.Before(*spec.SunsetAt)
}

// PinRegistry tracks which version an execution's replay must use
// (§4.4 "Versioning at replay"). It is intentionally a separate
// type from Registry: pins are per-execution runtime state, not part
// of the version catalogue itself.
type PinRegistry struct {
	mu   sync.RWMutex
	pins map[string]pinnedVersion
}

type pinnedVersion struct {
	workflowType string
	version      [3]int32
}

// NewPinRegistry creates an empty pin tracker.
func NewPinRegistry() *PinRegistry {
	return &PinRegistry{pins: make(map[string]pinnedVersion)}
}

// Pin records the version an execution was started with (or most
// recently migrated to).
func (p *PinRegistry) Pin(executionID, workflowType string, version [3]int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pins[executionID] = pinnedVersion{workflowType: workflowType, version: version}
}

// Get returns an execution's pinned version.
func (p *PinRegistry) Get(executionID string) (workflowType string, version [3]int32, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pv, found := p.pins[executionID]
	if !found {
		return "", [3]int32{}, false
	}
	return pv.workflowType, pv.version, true
}

// Unpin drops an execution's pin, e.g. once it reaches a terminal
// state and its replay state no longer matters.
func (p *PinRegistry) Unpin(executionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pins, executionID)
}
