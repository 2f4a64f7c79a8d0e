// Package lifecycle implements the Lifecycle Manager (§4.6): the
// tenant-scoped operations (start/signal/query/pause/resume/cancel/
// terminate/bulk/retry_failed) that mediate every execution through
// the History Store, policy checks, and the Scheduler.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/duraflow/core/internal/activity"
	"github.com/duraflow/core/internal/common/metrics"
	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/duraflow/core/internal/history"
	"github.com/duraflow/core/internal/payload"
	"github.com/duraflow/core/internal/scheduler"
	"github.com/duraflow/core/internal/tenant"
	"github.com/duraflow/core/internal/versioning"
	"github.com/duraflow/core/internal/workflow"
)

// StartOptions configures one start() call.
type StartOptions struct {
	TaskQueue        string
	Memo             map[string][]byte
	SearchAttributes map[string]string
	CronSchedule     string
	ExecutionTimeout time.Duration
}

// BulkResult is one execution's outcome within a bulk() fan-out; bulk
// is never all-or-nothing (§4.6).
type BulkResult struct {
	ExecutionID string
	Err         error
}

// workflowTaskPayload is what the Scheduler hands back to
// dispatchWorkflowTask; it never leaves this package.
type workflowTaskPayload struct {
	TenantID    string
	ExecutionID string
}

type activityTaskPayload struct {
	TenantID         string
	ExecutionID      string
	ScheduledEventID int64
	Task             activity.Task
}

// Manager is the Lifecycle Manager (C6). It owns no state of its own
// beyond registries and caches: the History Store (C1) is the
// execution's single source of truth.
type Manager struct {
	store       history.Store
	policy      *tenant.Policy
	scheduler   *scheduler.Scheduler
	workflows   *workflow.Registry
	activities  *activity.Registry
	dispatcher  *activity.Dispatcher
	versionPins *versioning.PinRegistry
	versions    *versioning.Registry

	logger *zap.Logger
	scope  tally.Scope

	now func() time.Time

	snapshotEveryNEvents int64

	// pendingRetries holds activity-retry tasks keyed by the timer id
	// their backoff was armed under, until TimerFired re-enqueues them.
	pendingRetries sync.Map

	cronMu   sync.Mutex
	cronJobs []*cronJob
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithClock overrides the wall-clock source used to timestamp
// manager-originated events (tests only; replay never uses this).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithVersionRegistry attaches the Version & Migration Engine's
// catalogue so start() can refuse new starts of a sunset workflow
// version (§4.7's "Deprecation" rule, checked on every start).
func WithVersionRegistry(r *versioning.Registry) Option {
	return func(m *Manager) { m.versions = r }
}

// WithSnapshotThreshold sets how many events may accumulate since the
// last snapshot before the Manager writes a new one (§4.4 step
// 5). 0 disables snapshotting.
func WithSnapshotThreshold(n int64) Option {
	return func(m *Manager) { m.snapshotEveryNEvents = n }
}

// NewManager wires a Lifecycle Manager over its dependencies.
func NewManager(
	store history.Store,
	policy *tenant.Policy,
	sched *scheduler.Scheduler,
	workflows *workflow.Registry,
	activities *activity.Registry,
	versionPins *versioning.PinRegistry,
	logger *zap.Logger,
	scope tally.Scope,
	opts ...Option,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	m := &Manager{
		store:                store,
		policy:               policy,
		scheduler:            sched,
		workflows:            workflows,
		activities:           activities,
		dispatcher:           activity.NewDispatcher(activities, logger, scope),
		versionPins:          versionPins,
		logger:               logger,
		scope:                scope,
		now:                  time.Now,
		snapshotEveryNEvents: 200,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) resolve(ctx context.Context, req tenant.Request) (*tenant.Context, error) {
	return m.policy.Resolve(ctx, req)
}

// Start writes WorkflowStarted and enqueues the execution's first
// workflow task.
func (m *Manager) Start(
	ctx context.Context,
	principalID string,
	principalRoles []string,
	isSystemPrincipal bool,
	tenantID string,
	workflowType string,
	workflowVersion [3]int32,
	input []*payload.Payload,
	opts StartOptions,
) (string, error) {
	metrics.OperationScope(m.scope, tenantID, "start").Counter("requests").Inc(1)

	if _, err := m.resolve(ctx, tenant.Request{
		TenantID:          tenantID,
		PrincipalID:       principalID,
		PrincipalRoles:    principalRoles,
		IsSystemPrincipal: isSystemPrincipal,
		ResourceTenantID:  tenantID,
		QuotaResource:     "concurrent_workflows",
		QuotaRequested:    1,
	}); err != nil {
		return "", err
	}

	if _, ok := m.workflows.Lookup(workflow.TypeVersion{Name: workflowType, Version: workflowVersion}); !ok {
		return "", coreerrors.NewValidationError("workflow_type", fmt.Sprintf("unregistered workflow type %s", workflowType))
	}

	if m.versions != nil && m.versions.RefuseNewStarts(workflowType, workflowVersion, m.now()) {
		return "", coreerrors.NewValidationError("workflow_version", fmt.Sprintf("%s is past its sunset date and refuses new starts", workflowType))
	}

	if opts.CronSchedule != "" {
		return m.startCron(ctx, principalID, principalRoles, isSystemPrincipal, tenantID, workflowType, workflowVersion, input, opts)
	}

	executionID := uuid.New()
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}

	event := history.Event{
		EventType: history.EventWorkflowStarted,
		EventTime: m.now(),
		Attributes: history.WorkflowStartedAttributes{
			WorkflowTypeName:    workflowType,
			WorkflowTypeVersion: workflowVersion,
			TenantID:            tenantID,
			StartedByUserID:     principalID,
			TaskQueue:           opts.TaskQueue,
			Input:               input,
			Memo:                opts.Memo,
			SearchAttributes:    opts.SearchAttributes,
			CronSchedule:        opts.CronSchedule,
			ExecutionTimeout:    opts.ExecutionTimeout,
		},
	}
	if err := m.store.Append(ctx, key, []history.Event{event}, 1); err != nil {
		return "", err
	}
	m.versionPins.Pin(executionID, workflowType, workflowVersion)

	if err := m.scheduler.EnqueueWorkflowTask(tenantID, workflowTaskPayload{TenantID: tenantID, ExecutionID: executionID}); err != nil {
		return executionID, err
	}
	return executionID, nil
}

// Signal appends SignalReceived and enqueues a workflow task.
func (m *Manager) Signal(ctx context.Context, tenantID, executionID, name string, args []*payload.Payload) error {
	if err := tenant.Revalidate(tenant.FromContext(ctx), tenantID); err != nil {
		return err
	}
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	if _, err := m.appendWithRetry(ctx, key, func(nextID int64) history.Event {
		return history.Event{
			EventType:  history.EventSignalReceived,
			EventTime:  m.now(),
			Attributes: history.SignalReceivedAttributes{SignalName: name, Payload: args},
		}
	}); err != nil {
		return err
	}
	return m.scheduler.EnqueueWorkflowTask(tenantID, workflowTaskPayload{TenantID: tenantID, ExecutionID: executionID})
}

// Query evaluates a named query against an isolated, ephemeral replay
// and never writes back (§4.6).
func (m *Manager) Query(ctx context.Context, tenantID, executionID, queryName string, args []*payload.Payload) ([]*payload.Payload, error) {
	if err := tenant.Revalidate(tenant.FromContext(ctx), tenantID); err != nil {
		return nil, err
	}
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	events, err := m.store.Read(ctx, key, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, coreerrors.NewValidationError("execution_id", "unknown execution")
	}
	started := events[0].Attributes.(history.WorkflowStartedAttributes)
	reg, ok := m.workflows.Lookup(workflow.TypeVersion{Name: started.WorkflowTypeName, Version: started.WorkflowTypeVersion})
	if !ok {
		return nil, coreerrors.NewValidationError("workflow_type", "unregistered workflow type")
	}
	handler, ok := reg.QueryHandlers[queryName]
	if !ok {
		return nil, coreerrors.NewValidationError("query_name", fmt.Sprintf("unknown query %s", queryName))
	}

	rt := workflow.NewRuntime(reg.Definition)
	replayCtx, _, err := rt.ReplayForQuery(executionID, events)
	if err != nil {
		return nil, err
	}
	return handler(replayCtx, args)
}

// Pause appends WorkflowPaused; dispatchWorkflowTask skips paused
// executions (§4.5: "scheduler skips paused executions").
func (m *Manager) Pause(ctx context.Context, tenantID, executionID, reason string) error {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	_, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
		return history.Event{EventType: history.EventWorkflowPaused, EventTime: m.now(), Attributes: history.WorkflowPausedAttributes{Reason: reason}}
	})
	return err
}

// Resume appends WorkflowResumed and re-enqueues a workflow task.
func (m *Manager) Resume(ctx context.Context, tenantID, executionID string) error {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	if _, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
		return history.Event{EventType: history.EventWorkflowResumed, EventTime: m.now(), Attributes: history.WorkflowResumedAttributes{}}
	}); err != nil {
		return err
	}
	return m.scheduler.EnqueueWorkflowTask(tenantID, workflowTaskPayload{TenantID: tenantID, ExecutionID: executionID})
}

// Cancel requests cooperative cancellation: the workflow body
// observes CancelRequested() at its next await (§4.5).
func (m *Manager) Cancel(ctx context.Context, tenantID, executionID, reason string) error {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	if _, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
		return history.Event{EventType: history.EventWorkflowCancelRequested, EventTime: m.now(), Attributes: history.WorkflowCancelRequestedAttributes{Reason: reason}}
	}); err != nil {
		return err
	}
	return m.scheduler.EnqueueWorkflowTask(tenantID, workflowTaskPayload{TenantID: tenantID, ExecutionID: executionID})
}

// Terminate forcibly ends an execution: no further commands are
// accepted once WorkflowTerminated is recorded.
func (m *Manager) Terminate(ctx context.Context, tenantID, executionID, reason string) error {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	_, err := m.appendWithRetry(ctx, key, func(int64) history.Event {
		return history.Event{EventType: history.EventWorkflowTerminated, EventTime: m.now(), Attributes: history.WorkflowTerminatedAttributes{Reason: reason}}
	})
	return err
}

// BulkOperation names one of the per-execution operations bulk() can
// fan out.
type BulkOperation string

const (
	BulkPause     BulkOperation = "pause"
	BulkResume    BulkOperation = "resume"
	BulkCancel    BulkOperation = "cancel"
	BulkTerminate BulkOperation = "terminate"
)

// Bulk fans operation out across executionIDs, collecting a
// per-execution result; one execution's failure never aborts the
// others (§4.6: "never all-or-nothing").
func (m *Manager) Bulk(ctx context.Context, tenantID string, operation BulkOperation, executionIDs []string, reason string) []BulkResult {
	metrics.OperationScope(m.scope, tenantID, "bulk_"+string(operation)).Counter("requests").Inc(int64(len(executionIDs)))

	results := make([]BulkResult, len(executionIDs))
	for i, id := range executionIDs {
		var err error
		switch operation {
		case BulkPause:
			err = m.Pause(ctx, tenantID, id, reason)
		case BulkResume:
			err = m.Resume(ctx, tenantID, id)
		case BulkCancel:
			err = m.Cancel(ctx, tenantID, id, reason)
		case BulkTerminate:
			err = m.Terminate(ctx, tenantID, id, reason)
		default:
			err = coreerrors.NewValidationError("operation", fmt.Sprintf("unknown bulk operation %s", operation))
		}
		results[i] = BulkResult{ExecutionID: id, Err: err}
	}
	return results
}

// RetryFailed starts a new run from the original input; prior runs
// are preserved untouched (§4.6).
func (m *Manager) RetryFailed(ctx context.Context, tenantID, executionID string) (string, error) {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	events, err := m.store.Read(ctx, key, 1, 2)
	if err != nil {
		return "", err
	}
	if len(events) == 0 || events[0].EventType != history.EventWorkflowStarted {
		return "", coreerrors.NewValidationError("execution_id", "unknown execution")
	}
	started := events[0].Attributes.(history.WorkflowStartedAttributes)

	return m.Start(ctx, started.StartedByUserID, nil, false, tenantID, started.WorkflowTypeName, started.WorkflowTypeVersion, started.Input, StartOptions{
		TaskQueue:        started.TaskQueue,
		Memo:             started.Memo,
		SearchAttributes: started.SearchAttributes,
		ExecutionTimeout: started.ExecutionTimeout,
	})
}

// ExecutionStatus is the outcome of get_status (§6): the derived state
// of an execution without requiring the caller to walk its history.
type ExecutionStatus struct {
	State      string
	StartedAt  time.Time
	ClosedAt   time.Time
	Result     []*payload.Payload
	Failure    string
	Children   []string
}

// GetStatus derives an execution's current state from its history tail,
// without replaying the workflow body (§6 get_status).
func (m *Manager) GetStatus(ctx context.Context, tenantID, executionID string) (ExecutionStatus, error) {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	events, err := m.store.Read(ctx, key, 1, 0)
	if err != nil {
		return ExecutionStatus{}, err
	}
	if len(events) == 0 {
		return ExecutionStatus{}, coreerrors.NewValidationError("execution_id", "unknown execution")
	}

	status := ExecutionStatus{State: "Running"}
	var children []string
	for _, ev := range events {
		switch attrs := ev.Attributes.(type) {
		case history.WorkflowStartedAttributes:
			status.StartedAt = ev.EventTime
		case history.WorkflowCompletedAttributes:
			status.State = "Completed"
			status.ClosedAt = ev.EventTime
			status.Result = attrs.Result
		case history.WorkflowFailedAttributes:
			status.State = "Failed"
			status.ClosedAt = ev.EventTime
			status.Failure = attrs.Reason
		case history.WorkflowTerminatedAttributes:
			status.State = "Terminated"
			status.ClosedAt = ev.EventTime
		case history.WorkflowTimedOutAttributes:
			status.State = "TimedOut"
			status.ClosedAt = ev.EventTime
		case history.WorkflowPausedAttributes:
			status.State = "Paused"
		case history.WorkflowResumedAttributes:
			status.State = "Running"
		case history.SubWorkflowScheduledAttributes:
			children = append(children, attrs.ChildExecutionID)
		}
	}
	status.Children = children
	return status, nil
}

// ListWorkflows pages through an execution listing filtered per §6
// list_workflows, delegating directly to the Persistence SPI.
func (m *Manager) ListWorkflows(ctx context.Context, tenantID string, filter history.ListFilter, page history.Page) ([]history.ExecutionSummary, []byte, error) {
	return m.store.ListExecutions(ctx, tenantID, filter, page)
}

// GetHistory returns a page of raw history events (§6 get_history).
func (m *Manager) GetHistory(ctx context.Context, tenantID, executionID string, from int64, pageSize int) ([]history.Event, error) {
	key := history.ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
	if from <= 0 {
		from = 1
	}
	to := int64(0)
	if pageSize > 0 {
		to = from + int64(pageSize)
	}
	return m.store.Read(ctx, key, from, to)
}

// RecoverInFlight scans tenantID's Running executions and re-enqueues
// a workflow task for each one, the crash-recovery bootstrap the
// PURPOSE section calls out as one of the two hard parts: history is
// the only source of truth for an execution's state, so bringing a
// worker process back up after a crash never depends on in-memory
// state that died with it, only on re-reading what's already durable.
// It returns the number of executions it re-enqueued.
func (m *Manager) RecoverInFlight(ctx context.Context, tenantID string) (int, error) {
	recovered := 0
	var token []byte
	for {
		summaries, next, err := m.store.ListExecutions(ctx, tenantID, history.ListFilter{State: "Running"}, history.Page{Token: token, PageSize: 200})
		if err != nil {
			return recovered, err
		}
		for _, summary := range summaries {
			if err := m.scheduler.EnqueueWorkflowTask(tenantID, workflowTaskPayload{TenantID: tenantID, ExecutionID: summary.ExecutionID}); err != nil {
				m.logger.Error("recoverInFlight: enqueue workflow task", zapErr(err), zap.String("execution_id", summary.ExecutionID))
				continue
			}
			recovered++
		}
		if len(next) == 0 {
			break
		}
		token = next
	}
	return recovered, nil
}

// appendWithRetry appends a single manager-originated event, reloading
// and retrying on Conflict the way §4.4 step 4 describes for the
// Workflow Runtime's own progress commits. It returns the event id the
// append actually assigned, since a caller that re-queries
// NextEventID afterward can race a concurrent append on the same
// execution and bind to the wrong event. An execution with no history
// is rejected as unknown rather than created.
func (m *Manager) appendWithRetry(ctx context.Context, key history.ExecutionKey, build func(nextEventID int64) history.Event) (int64, error) {
	for {
		nextID, err := m.store.NextEventID(ctx, key)
		if err != nil {
			return 0, err
		}
		if nextID == 1 {
			return 0, coreerrors.NewValidationError("execution_id", "unknown execution")
		}
		ev := build(nextID)
		err = m.store.Append(ctx, key, []history.Event{ev}, nextID)
		if err == nil {
			return nextID, nil
		}
		if coreerrors.IsConflict(err) {
			continue
		}
		return 0, err
	}
}
