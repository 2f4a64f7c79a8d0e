package versioning

import (
	"context"
	"fmt"
	"time"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/duraflow/core/internal/history"
)

// Complexity buckets a MigrationPlan by its weighted step count (§4.7).
type Complexity string

const (
	ComplexityLow      Complexity = "Low"
	ComplexityMedium   Complexity = "Medium"
	ComplexityHigh     Complexity = "High"
	ComplexityCritical Complexity = "Critical"
)

func bucketComplexity(weight int) Complexity {
	switch {
	case weight <= 5:
		return ComplexityLow
	case weight <= 15:
		return ComplexityMedium
	case weight <= 30:
		return ComplexityHigh
	default:
		return ComplexityCritical
	}
}

// MigrationStep is one ordered action a MigrationPlan enumerates.
type MigrationStep struct {
	Description       string
	RollbackSupported bool
}

// MigrationPlan is the ordered step list and derived complexity for a
// (from, to) version pair (§4.7 "Migration plan").
type MigrationPlan struct {
	WorkflowType string
	FromVersion  [3]int32
	ToVersion    [3]int32
	Steps        []MigrationStep
	Weight       int
	Complexity   Complexity
}

// rollbackSupported reports whether every step of the plan declared
// rollback support; Rollback refuses to run otherwise (§4.7).
func (p MigrationPlan) rollbackSupported() bool {
	for _, s := range p.Steps {
		if !s.RollbackSupported {
			return false
		}
	}
	return true
}

// Plan builds the migration plan for (from, to) from their declared
// schema diff. Weights: schema changes 2, breaking changes 5, data
// transformations 3 (§4.7).
func (r *Registry) Plan(workflowType string, from, to [3]int32, diff SchemaDiff) (MigrationPlan, error) {
	fromSpec, ok := r.Lookup(workflowType, from)
	if !ok {
		return MigrationPlan{}, coreerrors.NewValidationError("from_version", "unregistered source version")
	}
	toSpec, ok := r.Lookup(workflowType, to)
	if !ok {
		return MigrationPlan{}, coreerrors.NewValidationError("to_version", "unregistered target version")
	}

	var steps []MigrationStep
	for field := range toSpec.Schema {
		if fromSpec.Schema[field] != toSpec.Schema[field] {
			steps = append(steps, MigrationStep{
				Description:       fmt.Sprintf("adapt schema field %q", field),
				RollbackSupported: true,
			})
		}
	}
	for _, bc := range toSpec.BreakingChanges {
		steps = append(steps, MigrationStep{
			Description:       fmt.Sprintf("breaking change: %s", bc),
			RollbackSupported: false,
		})
	}
	for i := 0; i < diff.DataTransformations; i++ {
		steps = append(steps, MigrationStep{
			Description:       fmt.Sprintf("data transformation %d/%d", i+1, diff.DataTransformations),
			RollbackSupported: true,
		})
	}

	weight := diff.SchemaChanges*2 + diff.BreakingChanges*5 + diff.DataTransformations*3

	return MigrationPlan{
		WorkflowType: workflowType,
		FromVersion:  from,
		ToVersion:    to,
		Steps:        steps,
		Weight:       weight,
		Complexity:   bucketComplexity(weight),
	}, nil
}

// MigrationOutcome is one execution's result within a batch migration
// run, recorded per-execution so a batch failure is never all-or-
// nothing (§4.7 "Failures within a batch are isolated").
type MigrationOutcome struct {
	ExecutionID string
	Err         error
	Rolled      bool
}

// Migrator drives batch migration and rollback of in-flight
// executions between workflow versions, appending a VersionMarker
// event under the same CAS discipline the Lifecycle Manager's own
// progress commits use.
type Migrator struct {
	store history.Store
	pins  *PinRegistry
	now   func() time.Time
}

// NewMigrator wires a Migrator over the History Store and the pin
// tracker that replay consults to choose a definition.
func NewMigrator(store history.Store, pins *PinRegistry) *Migrator {
	return &Migrator{store: store, pins: pins, now: time.Now}
}

// Run selects in-flight executions of workflowType pinned to
// fromVersion, in tenant-sized batches, and appends VersionMarker(to)
// to each under CAS (§4.7 "Execution of a migration"). It returns one
// MigrationOutcome per execution attempted; a single execution's
// Conflict or store error never aborts the others.
func (m *Migrator) Run(ctx context.Context, tenantID, workflowType string, fromVersion, toVersion [3]int32, migrationID string, batchSize int) ([]MigrationOutcome, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	candidates, err := m.selectCandidates(ctx, tenantID, workflowType, fromVersion, batchSize)
	if err != nil {
		return nil, err
	}

	outcomes := make([]MigrationOutcome, 0, len(candidates))
	for _, executionID := range candidates {
		err := m.markVersion(ctx, tenantID, executionID, fromVersion, toVersion, migrationID)
		if err == nil {
			m.pins.Pin(executionID, workflowType, toVersion)
		}
		outcomes = append(outcomes, MigrationOutcome{ExecutionID: executionID, Err: err})
	}
	return outcomes, nil
}

// Rollback appends VersionMarker(from) for each execution in
// executionIDs, but only if plan declares every step rollback_supported
// — otherwise it records a NotRollbackable outcome for all of them
// without touching history (§4.7 "Rollback ... otherwise rollback
// fails with a NotRollbactable outcome").
func (m *Migrator) Rollback(ctx context.Context, tenantID, workflowType string, plan MigrationPlan, executionIDs []string, migrationID string) []MigrationOutcome {
	outcomes := make([]MigrationOutcome, len(executionIDs))
	if !plan.rollbackSupported() {
		for i, id := range executionIDs {
			outcomes[i] = MigrationOutcome{
				ExecutionID: id,
				Err:         coreerrors.NewValidationError("rollback", "NotRollbackable: not every migration step declared rollback support"),
			}
		}
		return outcomes
	}
	for i, executionID := range executionIDs {
		err := m.markVersion(ctx, tenantID, executionID, plan.ToVersion, plan.FromVersion, migrationID)
		if err == nil {
			m.pins.Pin(executionID, workflowType, plan.FromVersion)
		}
		outcomes[i] = MigrationOutcome{ExecutionID: executionID, Err: err, Rolled: err == nil}
	}
	return outcomes
}

func (m *Migrator) markVersion(ctx context.Context, tenantID, executionID string, from, to [3]int32, migrationID string) error {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	for {
		nextID, err := m.store.NextEventID(ctx, key)
		if err != nil {
			return err
		}
		ev := history.Event{
			EventType: history.EventVersionMarker,
			EventTime: m.now(),
			Attributes: history.VersionMarkerAttributes{
				FromVersion: from,
				ToVersion:   to,
				MigrationID: migrationID,
			},
		}
		err = m.store.Append(ctx, key, []history.Event{ev}, nextID)
		if err == nil {
			return nil
		}
		if coreerrors.IsConflict(err) {
			continue
		}
		return err
	}
}

// selectCandidates lists running executions of workflowType and keeps
// only those whose WorkflowStarted event recorded fromVersion — the
// listing surface itself (§6 list_executions) does not carry version,
// so candidacy is confirmed from each execution's own history.
func (m *Migrator) selectCandidates(ctx context.Context, tenantID, workflowType string, fromVersion [3]int32, batchSize int) ([]string, error) {
	summaries, _, err := m.store.ListExecutions(ctx, tenantID, history.ListFilter{
		WorkflowTypeName: workflowType,
		State:            "Running",
	}, history.Page{PageSize: batchSize})
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, s := range summaries {
		key := history.ExecutionKey{TenantID: tenantID, ExecutionID: s.ExecutionID}
		events, err := m.store.Read(ctx, key, 1, 2)
		if err != nil || len(events) == 0 {
			continue
		}
		started, ok := events[0].Attributes.(history.WorkflowStartedAttributes)
		if !ok || started.WorkflowTypeVersion != fromVersion {
			continue
		}
		matched = append(matched, s.ExecutionID)
	}
	return matched, nil
}
