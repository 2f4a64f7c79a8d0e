package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/duraflow/core/internal/payload"
)

// cronJob is one registered recurring start, driven by TickCron rather
// than started immediately by start().
type cronJob struct {
	tenantID          string
	principalID       string
	principalRoles    []string
	isSystemPrincipal bool
	workflowType      string
	workflowVersion   [3]int32
	input             []*payload.Payload
	opts              StartOptions

	schedule cron.Schedule
	next     time.Time
}

// startCron parses opts.CronSchedule (standard five-field cron syntax,
// the same format original_source's workflow-service templates.rs
// accepted) and registers a recurring job instead of starting an
// execution inline. It returns an empty execution id: the concrete
// executions it spawns get their own ids at fire time.
func (m *Manager) startCron(
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
	schedule, err := cron.ParseStandard(opts.CronSchedule)
	if err != nil {
		return "", coreerrors.NewValidationError("cron_schedule", fmt.Sprintf("invalid cron schedule %q: %v", opts.CronSchedule, err))
	}
	job := &cronJob{
		tenantID:          tenantID,
		principalID:       principalID,
		principalRoles:    principalRoles,
		isSystemPrincipal: isSystemPrincipal,
		workflowType:      workflowType,
		workflowVersion:   workflowVersion,
		input:             input,
		opts:              opts,
		schedule:          schedule,
		next:              schedule.Next(m.now()),
	}
	m.cronMu.Lock()
	m.cronJobs = append(m.cronJobs, job)
	m.cronMu.Unlock()
	return "", nil
}

// TickCron starts a new execution for every registered cron job whose
// next fire time has elapsed as of now, and advances its schedule.
// The caller (worker.Run, typically on a minute ticker) drives this;
// it is never on the hot dispatch path.
func (m *Manager) TickCron(ctx context.Context, now time.Time) {
	m.cronMu.Lock()
	due := make([]*cronJob, 0)
	for _, job := range m.cronJobs {
		if !job.next.After(now) {
			due = append(due, job)
			job.next = job.schedule.Next(now)
		}
	}
	m.cronMu.Unlock()

	for _, job := range due {
		opts := job.opts
		opts.CronSchedule = ""
		if _, err := m.Start(ctx, job.principalID, job.principalRoles, job.isSystemPrincipal, job.tenantID, job.workflowType, job.workflowVersion, job.input, opts); err != nil {
			m.logger.Error("tickCron: start recurring execution", zapErr(err), zap.String("workflow_type", job.workflowType))
		}
	}
}
