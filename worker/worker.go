// Package worker manages the lifecycle of the process that hosts
// workflow and activity executions: it registers definitions, starts
// the Scheduler's worker pool and timer wheel, and drains them on
// shutdown.
package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/duraflow/core/internal/activity"
	"github.com/duraflow/core/internal/scheduler"
	"github.com/duraflow/core/internal/workflow"
)

// CronTicker is implemented by *lifecycle.Manager; a worker that hosts
// cron-scheduled workflows drives it on CronTickInterval so recurring
// starts fire without a separate process.
type CronTicker interface {
	TickCron(ctx context.Context, now time.Time)
}

// Recoverer is implemented by *lifecycle.Manager; a worker that hosts
// it runs a crash-recovery pass on Start that re-enqueues a workflow
// task for every Running execution found in history, so a restarted
// process resumes in-flight executions without relying on any
// in-memory state that died with the old one.
type Recoverer interface {
	RecoverInFlight(ctx context.Context, tenantID string) (int, error)
}

// Worker represents objects that can be started and stopped.
type Worker interface {
	// Start starts the worker in a non-blocking fashion.
	Start(ctx context.Context) error
	// Run is a blocking start; it returns once an interrupt signal is
	// received and the drain deadline has elapsed.
	Run(ctx context.Context) error
	// Stop drains in-flight tasks and shuts the worker down.
	Stop() bool
}

// Options configures a Worker instance.
type Options struct {
	Logger *zap.Logger

	// CronTicker, if set, is driven every CronTickInterval (default
	// one minute) for as long as the worker is running.
	CronTicker       CronTicker
	CronTickInterval time.Duration

	// Recoverer, if set, runs a crash-recovery pass during Start over
	// the tenants TenantIDs returns.
	Recoverer Recoverer
	TenantIDs func() []string
}

type worker struct {
	workflows  *workflow.Registry
	activities *activity.Registry
	scheduler  *scheduler.Scheduler
	logger     *zap.Logger

	cronTicker       CronTicker
	cronTickInterval time.Duration
	stopCron         chan struct{}

	recoverer Recoverer
	tenantIDs func() []string
}

// New creates a Worker hosting workflows and activities is registered
// against, dispatched by sched.
func New(workflows *workflow.Registry, activities *activity.Registry, sched *scheduler.Scheduler, opts Options) Worker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.CronTickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &worker{
		workflows:        workflows,
		activities:       activities,
		scheduler:        sched,
		logger:           logger,
		cronTicker:       opts.CronTicker,
		cronTickInterval: interval,
		stopCron:         make(chan struct{}),
		recoverer:        opts.Recoverer,
		tenantIDs:        opts.TenantIDs,
	}
}

// RegisterWorkflow binds a workflow type+version to its definition.
// Must be called before Start; the registries freeze once a worker is
// dispatching tasks.
func RegisterWorkflow(workflows *workflow.Registry, name string, version [3]int32, def workflow.Definition, queries map[string]workflow.QueryHandler) {
	workflows.Register(workflow.TypeVersion{Name: name, Version: version}, workflow.Registration{
		Definition:    def,
		QueryHandlers: queries,
	})
}

// RegisterActivity binds an activity type+version to its handler.
func RegisterActivity(activities *activity.Registry, name string, version [3]int32, handler activity.Handler) {
	activities.Register(activity.TypeVersion{Name: name, Version: version}, activity.Registration{Handler: handler})
}

func (w *worker) Start(ctx context.Context) error {
	w.workflows.Freeze()
	w.activities.Freeze()
	w.scheduler.Start(ctx)
	if w.recoverer != nil && w.tenantIDs != nil {
		for _, tenantID := range w.tenantIDs() {
			recovered, err := w.recoverer.RecoverInFlight(ctx, tenantID)
			if err != nil {
				w.logger.Error("worker recovery pass failed", zap.String("tenant_id", tenantID), zap.Error(err))
				continue
			}
			if recovered > 0 {
				w.logger.Info("worker recovered in-flight executions", zap.String("tenant_id", tenantID), zap.Int("count", recovered))
			}
		}
	}
	if w.cronTicker != nil {
		go w.runCron(ctx)
	}
	w.logger.Info("worker started")
	return nil
}

func (w *worker) runCron(ctx context.Context) {
	ticker := time.NewTicker(w.cronTickInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			w.cronTicker.TickCron(ctx, now)
		case <-w.stopCron:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	w.Stop()
	return nil
}

func (w *worker) Stop() bool {
	w.logger.Info("worker draining")
	if w.cronTicker != nil {
		close(w.stopCron)
	}
	return w.scheduler.Shutdown()
}
