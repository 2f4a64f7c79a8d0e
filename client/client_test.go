package client

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"

	"github.com/duraflow/core/internal/activity"
	"github.com/duraflow/core/internal/history"
	"github.com/duraflow/core/internal/lifecycle"
	"github.com/duraflow/core/internal/payload"
	"github.com/duraflow/core/internal/scheduler"
	"github.com/duraflow/core/internal/tenant"
	"github.com/duraflow/core/internal/versioning"
	"github.com/duraflow/core/internal/workflow"
)

type staticDirectory struct{}

func (staticDirectory) Lookup(context.Context, string) (tenant.Record, bool, error) {
	return tenant.Record{TenantID: "acme", Active: true, Quotas: tenant.Quotas{MaxConcurrentWorkflows: 100, MaxActivityRatePerSec: 100}}, true, nil
}

type zeroUsage struct{}

func (zeroUsage) ConcurrentWorkflows(context.Context, string) (int64, error)   { return 0, nil }
func (zeroUsage) ActivityRatePerSec(context.Context, string) (float64, error) { return 0, nil }

func newTestClient(t *testing.T) *Client {
	t.Helper()
	store := history.NewMemoryStore()
	workflows := workflow.NewRegistry()
	workflows.Register(workflow.TypeVersion{Name: "echo", Version: [3]int32{1, 0, 0}}, workflow.Registration{
		Definition: func(ctx *workflow.Context, input []*payload.Payload) ([]*payload.Payload, error) {
			return input, nil
		},
	})
	activities := activity.NewRegistry()
	pins := versioning.NewPinRegistry()

	sched := scheduler.New(
		scheduler.Config{},
		clock.NewMock(),
		func(string) (float64, int64) { return 100, 10 },
		func(context.Context, scheduler.Task) {},
		func(context.Context, scheduler.Task) {},
		func(scheduler.TimerFired) {},
		nil, nil,
	)

	policy := tenant.NewPolicy(staticDirectory{}, zeroUsage{})
	manager := lifecycle.NewManager(store, policy, sched, workflows, activities, pins, nil, nil)
	return New(manager)
}

func TestClient_StartWorkflow_ThenGetStatus(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)

	input, err := payload.Default.ToPayloads("hello")
	require.NoError(t, err)

	executionID, err := c.StartWorkflow(context.Background(), Principal{ID: "user-1"}, "acme", "echo", input, StartWorkflowOptions{
		Version: [3]int32{1, 0, 0},
	})
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	status, err := c.GetStatus(context.Background(), "acme", executionID)
	require.NoError(t, err)
	require.Equal(t, "Running", status.State)
}

func TestClient_StartWorkflow_UnregisteredTypeFails(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	_, err := c.StartWorkflow(context.Background(), Principal{ID: "user-1"}, "acme", "missing", nil, StartWorkflowOptions{})
	require.Error(t, err)
}

func TestClient_PauseThenResume(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	executionID, err := c.StartWorkflow(context.Background(), Principal{ID: "user-1"}, "acme", "echo", nil, StartWorkflowOptions{Version: [3]int32{1, 0, 0}})
	require.NoError(t, err)

	require.NoError(t, c.Pause(context.Background(), "acme", executionID, "maintenance"))
	status, err := c.GetStatus(context.Background(), "acme", executionID)
	require.NoError(t, err)
	require.Equal(t, "Paused", status.State)

	require.NoError(t, c.Resume(context.Background(), "acme", executionID))
	status, err = c.GetStatus(context.Background(), "acme", executionID)
	require.NoError(t, err)
	require.Equal(t, "Running", status.State)
}

func TestClient_Bulk_IsolatesPerExecutionFailure(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	executionID, err := c.StartWorkflow(context.Background(), Principal{ID: "user-1"}, "acme", "echo", nil, StartWorkflowOptions{Version: [3]int32{1, 0, 0}})
	require.NoError(t, err)

	results := c.Bulk(context.Background(), "acme", lifecycle.BulkPause, []string{executionID, "does-not-exist"}, "bulk pause")
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
}

func TestClient_RegisterVersion_ThenDeprecateRefusesStart(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	versions := versioning.NewRegistry()
	c.WithVersioning(versions, versioning.NewMigrator(history.NewMemoryStore(), versioning.NewPinRegistry()))

	compat, err := versions.Register(versioning.VersionSpec{WorkflowType: "echo", Version: [3]int32{1, 0, 0}}, versioning.SchemaDiff{})
	require.NoError(t, err)
	require.Equal(t, versioning.CompatibilityBackward, compat)

	now := time.Now()
	require.NoError(t, c.DeprecateVersion("echo", [3]int32{1, 0, 0}, now.Add(-time.Hour), now.Add(-time.Minute)))
	require.True(t, versions.RefuseNewStarts("echo", [3]int32{1, 0, 0}, now))
}

func TestClient_PlanMigration_BucketsComplexity(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	versions := versioning.NewRegistry()
	c.WithVersioning(versions, versioning.NewMigrator(history.NewMemoryStore(), versioning.NewPinRegistry()))

	_, err := versions.Register(versioning.VersionSpec{WorkflowType: "echo", Version: [3]int32{1, 0, 0}}, versioning.SchemaDiff{})
	require.NoError(t, err)
	_, err = versions.Register(versioning.VersionSpec{WorkflowType: "echo", Version: [3]int32{2, 0, 0}}, versioning.SchemaDiff{})
	require.NoError(t, err)

	plan, err := c.PlanMigration("echo", [3]int32{1, 0, 0}, [3]int32{2, 0, 0}, versioning.SchemaDiff{SchemaChanges: 1, BreakingChanges: 1})
	require.NoError(t, err)
	require.Equal(t, versioning.ComplexityMedium, plan.Complexity)
}

func TestClient_EngineVersion_IsNonEmpty(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	require.NotEmpty(t, c.EngineVersion())
}

func TestClient_GetHistory_ReturnsStartedEvent(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)
	executionID, err := c.StartWorkflow(context.Background(), Principal{ID: "user-1"}, "acme", "echo", nil, StartWorkflowOptions{
		Version:          [3]int32{1, 0, 0},
		ExecutionTimeout: time.Minute,
	})
	require.NoError(t, err)

	events, err := c.GetHistory(context.Background(), "acme", executionID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, history.EventWorkflowStarted, events[0].EventType)
}
