// Package client exposes the control-plane API (§6) that HTTP
// handlers and other callers use to start, signal, query, and manage
// workflow executions. It is a thin facade over the Lifecycle
// Manager: it adds nothing but request/response shaping and the
// principal identity a transport layer has already authenticated.
package client

import (
	"context"
	"time"

	"github.com/duraflow/core/internal/history"
	"github.com/duraflow/core/internal/lifecycle"
	"github.com/duraflow/core/internal/payload"
	"github.com/duraflow/core/internal/version"
	"github.com/duraflow/core/internal/versioning"
)

// Principal is the caller identity a transport layer has already
// authenticated, carried into every Client call so the Lifecycle
// Manager's tenant checks (§4.2) have something to check.
type Principal struct {
	ID       string
	Roles    []string
	IsSystem bool
}

// StartWorkflowOptions mirrors lifecycle.StartOptions at the public
// boundary, plus the version pin a caller may request.
type StartWorkflowOptions struct {
	Version          [3]int32
	TaskQueue        string
	Memo             map[string][]byte
	SearchAttributes map[string]string
	CronSchedule     string
	ExecutionTimeout time.Duration
}

// Client is the handle application code uses to drive executions. It
// wraps a *lifecycle.Manager; construct one with New.
type Client struct {
	manager  *lifecycle.Manager
	versions *versioning.Registry
	migrator *versioning.Migrator
}

// New wraps a Lifecycle Manager as a Client.
func New(manager *lifecycle.Manager) *Client {
	return &Client{manager: manager}
}

// WithVersioning attaches the Version & Migration Engine's catalogue
// and migrator, enabling RegisterVersion/Deprecate/PlanMigration/
// Migrate/Rollback. Without it those calls return an error.
func (c *Client) WithVersioning(registry *versioning.Registry, migrator *versioning.Migrator) *Client {
	c.versions = registry
	c.migrator = migrator
	return c
}

// RegisterVersion records a workflow type's version in the catalogue
// and reports the compatibility its SchemaDiff implies.
func (c *Client) RegisterVersion(spec versioning.VersionSpec, diff versioning.SchemaDiff) (versioning.Compatibility, error) {
	return c.versions.Register(spec, diff)
}

// DeprecateVersion marks a version deprecated and, from sunsetAt
// onward, refuses new starts against it (checked by start() on every
// call, not just here).
func (c *Client) DeprecateVersion(workflowType string, version [3]int32, deprecatedAt, sunsetAt time.Time) error {
	return c.versions.Deprecate(workflowType, version, deprecatedAt, sunsetAt)
}

// PlanMigration computes a migration's weighted complexity and step
// list without executing it.
func (c *Client) PlanMigration(workflowType string, from, to [3]int32, diff versioning.SchemaDiff) (versioning.MigrationPlan, error) {
	return c.versions.Plan(workflowType, from, to, diff)
}

// Migrate runs a batch migration of running executions from one
// version to another; failures are isolated per execution.
func (c *Client) Migrate(ctx context.Context, tenantID, workflowType string, from, to [3]int32, migrationID string, batchSize int) ([]versioning.MigrationOutcome, error) {
	return c.migrator.Run(ctx, tenantID, workflowType, from, to, migrationID, batchSize)
}

// Rollback reverts a prior migration's executions to its source
// version, refusing if any of the plan's steps lacks rollback
// support.
func (c *Client) Rollback(ctx context.Context, tenantID, workflowType string, plan versioning.MigrationPlan, executionIDs []string, migrationID string) []versioning.MigrationOutcome {
	return c.migrator.Rollback(ctx, tenantID, workflowType, plan, executionIDs, migrationID)
}

// StartWorkflow begins a new execution and returns its execution id.
func (c *Client) StartWorkflow(ctx context.Context, principal Principal, tenantID, workflowType string, input []*payload.Payload, opts StartWorkflowOptions) (string, error) {
	return c.manager.Start(ctx, principal.ID, principal.Roles, principal.IsSystem, tenantID, workflowType, opts.Version, input, lifecycle.StartOptions{
		TaskQueue:        opts.TaskQueue,
		Memo:             opts.Memo,
		SearchAttributes: opts.SearchAttributes,
		CronSchedule:     opts.CronSchedule,
		ExecutionTimeout: opts.ExecutionTimeout,
	})
}

// GetStatus reports an execution's current lifecycle state.
func (c *Client) GetStatus(ctx context.Context, tenantID, executionID string) (lifecycle.ExecutionStatus, error) {
	return c.manager.GetStatus(ctx, tenantID, executionID)
}

// ListWorkflows pages through a tenant's executions.
func (c *Client) ListWorkflows(ctx context.Context, tenantID string, filter history.ListFilter, page history.Page) ([]history.ExecutionSummary, []byte, error) {
	return c.manager.ListWorkflows(ctx, tenantID, filter, page)
}

// Signal delivers a named signal to a running execution.
func (c *Client) Signal(ctx context.Context, tenantID, executionID, name string, args []*payload.Payload) error {
	return c.manager.Signal(ctx, tenantID, executionID, name, args)
}

// Query evaluates a named query against an execution's current state.
func (c *Client) Query(ctx context.Context, tenantID, executionID, queryName string, args []*payload.Payload) ([]*payload.Payload, error) {
	return c.manager.Query(ctx, tenantID, executionID, queryName, args)
}

// Cancel requests cooperative cancellation of an execution.
func (c *Client) Cancel(ctx context.Context, tenantID, executionID, reason string) error {
	return c.manager.Cancel(ctx, tenantID, executionID, reason)
}

// Terminate forcibly ends an execution.
func (c *Client) Terminate(ctx context.Context, tenantID, executionID, reason string) error {
	return c.manager.Terminate(ctx, tenantID, executionID, reason)
}

// Pause suspends scheduling of an execution's workflow tasks.
func (c *Client) Pause(ctx context.Context, tenantID, executionID, reason string) error {
	return c.manager.Pause(ctx, tenantID, executionID, reason)
}

// Resume re-enables scheduling of a paused execution.
func (c *Client) Resume(ctx context.Context, tenantID, executionID string) error {
	return c.manager.Resume(ctx, tenantID, executionID)
}

// Retry starts a new run from a failed execution's original input.
func (c *Client) Retry(ctx context.Context, tenantID, executionID string) (string, error) {
	return c.manager.RetryFailed(ctx, tenantID, executionID)
}

// Bulk fans operation out across executionIDs; one failure never
// aborts the rest (§4.6).
func (c *Client) Bulk(ctx context.Context, tenantID string, operation lifecycle.BulkOperation, executionIDs []string, reason string) []lifecycle.BulkResult {
	return c.manager.Bulk(ctx, tenantID, operation, executionIDs, reason)
}

// GetHistory returns a page of an execution's raw history events.
func (c *Client) GetHistory(ctx context.Context, tenantID, executionID string, from int64, pageSize int) ([]history.Event, error) {
	return c.manager.GetHistory(ctx, tenantID, executionID, from, pageSize)
}

// EngineVersion reports this build's own schema/feature version, for
// callers reconciling against a history written by a different build.
func (c *Client) EngineVersion() string {
	return version.EngineVersion
}
