package versioning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duraflow/core/internal/history"
	"github.com/duraflow/core/internal/payload"
)

func startWorkflow(t *testing.T, store history.Store, key history.ExecutionKey, workflowType string, version [3]int32) {
	t.Helper()
	input, err := payload.Default.ToPayloads("seed")
	require.NoError(t, err)
	err = store.Append(context.Background(), key, []history.Event{{
		EventType: history.EventWorkflowStarted,
		EventTime: time.Now(),
		Attributes: history.WorkflowStartedAttributes{
			WorkflowTypeName:    workflowType,
			WorkflowTypeVersion: version,
			TenantID:            key.TenantID,
			Input:               input,
		},
	}}, 1)
	require.NoError(t, err)
}

func TestRegistry_Plan_BucketsComplexity(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Register(VersionSpec{WorkflowType: "order", Version: [3]int32{1, 0, 0}, Schema: map[string]string{"amount": "int"}}, SchemaDiff{})
	require.NoError(t, err)
	_, err = r.Register(VersionSpec{WorkflowType: "order", Version: [3]int32{2, 0, 0}, Schema: map[string]string{"amount": "decimal"}, BreakingChanges: []string{"amount type changed"}}, SchemaDiff{})
	require.NoError(t, err)

	plan, err := r.Plan("order", [3]int32{1, 0, 0}, [3]int32{2, 0, 0}, SchemaDiff{SchemaChanges: 1, BreakingChanges: 1})
	require.NoError(t, err)
	require.Equal(t, 7, plan.Weight) // 1*2 + 1*5
	require.Equal(t, ComplexityMedium, plan.Complexity)
	require.Len(t, plan.Steps, 2) // one schema diff step, one breaking-change step
}

func TestRegistry_Plan_UnregisteredVersionFails(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Plan("order", [3]int32{1, 0, 0}, [3]int32{2, 0, 0}, SchemaDiff{})
	require.Error(t, err)
}

func TestMigrator_Run_MarksCandidatesAndPins(t *testing.T) {
	t.Parallel()
	store := history.NewMemoryStore()
	pins := NewPinRegistry()
	m := NewMigrator(store, pins)

	key := history.ExecutionKey{TenantID: "acme", ExecutionID: "exec-1"}
	startWorkflow(t, store, key, "order", [3]int32{1, 0, 0})

	other := history.ExecutionKey{TenantID: "acme", ExecutionID: "exec-2"}
	startWorkflow(t, store, other, "order", [3]int32{2, 0, 0})

	outcomes, err := m.Run(context.Background(), "acme", "order", [3]int32{1, 0, 0}, [3]int32{2, 0, 0}, "mig-1", 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, "exec-1", outcomes[0].ExecutionID)
	require.NoError(t, outcomes[0].Err)

	wfType, version, ok := pins.Get("exec-1")
	require.True(t, ok)
	require.Equal(t, "order", wfType)
	require.Equal(t, [3]int32{2, 0, 0}, version)

	events, err := store.Read(context.Background(), key, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, history.EventVersionMarker, events[1].EventType)
}

func TestMigrator_Rollback_RefusesWithoutFullSupport(t *testing.T) {
	t.Parallel()
	store := history.NewMemoryStore()
	pins := NewPinRegistry()
	m := NewMigrator(store, pins)

	plan := MigrationPlan{
		WorkflowType: "order",
		FromVersion:  [3]int32{1, 0, 0},
		ToVersion:    [3]int32{2, 0, 0},
		Steps: []MigrationStep{
			{Description: "schema", RollbackSupported: true},
			{Description: "breaking", RollbackSupported: false},
		},
	}

	outcomes := m.Rollback(context.Background(), "acme", "order", plan, []string{"exec-1"}, "mig-1")
	require.Len(t, outcomes, 1)
	require.Error(t, outcomes[0].Err)
	require.False(t, outcomes[0].Rolled)
}

func TestMigrator_Rollback_AppendsVersionMarkerWhenSupported(t *testing.T) {
	t.Parallel()
	store := history.NewMemoryStore()
	pins := NewPinRegistry()
	m := NewMigrator(store, pins)

	key := history.ExecutionKey{TenantID: "acme", ExecutionID: "exec-1"}
	startWorkflow(t, store, key, "order", [3]int32{2, 0, 0})

	plan := MigrationPlan{
		WorkflowType: "order",
		FromVersion:  [3]int32{1, 0, 0},
		ToVersion:    [3]int32{2, 0, 0},
		Steps: []MigrationStep{
			{Description: "schema", RollbackSupported: true},
		},
	}

	outcomes := m.Rollback(context.Background(), "acme", "order", plan, []string{"exec-1"}, "mig-1")
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	require.True(t, outcomes[0].Rolled)

	wfType, version, ok := pins.Get("exec-1")
	require.True(t, ok)
	require.Equal(t, "order", wfType)
	require.Equal(t, [3]int32{1, 0, 0}, version)
}
