package history

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetentionSweeper periodically deletes executions that closed before
// their tenant's retention window, the way spec Lifecycles describes
// ("retained for a tenant-configurable retention window before
// deletion"). It is deliberately decoupled from Store: any Store
// implementation that can list and delete executions can be swept.
type RetentionSweeper struct {
	store         Store
	logger        *zap.Logger
	interval      time.Duration
	tenantWindows func(tenantID string) time.Duration
	now           func() time.Time
}

// RetentionSweeperOption configures a RetentionSweeper beyond its
// required constructor arguments.
type RetentionSweeperOption func(*RetentionSweeper)

// WithSweepInterval overrides the default 10 minute sweep cadence.
func WithSweepInterval(d time.Duration) RetentionSweeperOption {
	return func(s *RetentionSweeper) { s.interval = d }
}

// WithClock lets tests substitute a deterministic time source.
func WithClock(now func() time.Time) RetentionSweeperOption {
	return func(s *RetentionSweeper) { s.now = now }
}

// NewRetentionSweeper builds a sweeper. tenantWindows returns the
// retention window configured for a tenant; a zero duration disables
// sweeping for that tenant.
func NewRetentionSweeper(store Store, logger *zap.Logger, tenantWindows func(tenantID string) time.Duration, opts ...RetentionSweeperOption) *RetentionSweeper {
	s := &RetentionSweeper{
		store:         store,
		logger:        logger,
		interval:      10 * time.Minute,
		tenantWindows: tenantWindows,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once per interval until ctx is cancelled. Callers run it
// in its own goroutine, mirroring how the worker pool runs its
// background loops.
func (s *RetentionSweeper) Run(ctx context.Context, tenantIDs func() []string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx, tenantIDs())
		}
	}
}

func (s *RetentionSweeper) sweepOnce(ctx context.Context, tenantIDs []string) {
	for _, tenantID := range tenantIDs {
		window := s.tenantWindows(tenantID)
		if window <= 0 {
			continue
		}
		cutoff := s.now().Add(-window).UnixNano()

		var token []byte
		for {
			summaries, next, err := s.store.ListExecutions(ctx, tenantID, ListFilter{StartedBefore: cutoff}, Page{Token: token, PageSize: 200})
			if err != nil {
				s.logger.Warn("retention sweep: list failed", zap.String("tenant_id", tenantID), zap.Error(err))
				break
			}
			for _, summary := range summaries {
				if !isClosed(summary.State) || summary.CloseTime == 0 || summary.CloseTime >= cutoff {
					continue
				}
				key := ExecutionKey{TenantID: tenantID, ExecutionID: summary.ExecutionID}
				if err := s.store.DeleteExecution(ctx, key); err != nil {
					s.logger.Warn("retention sweep: delete failed", zap.String("execution_id", summary.ExecutionID), zap.Error(err))
					continue
				}
				s.logger.Info("retention sweep: deleted execution", zap.String("tenant_id", tenantID), zap.String("execution_id", summary.ExecutionID))
			}
			if len(next) == 0 {
				break
			}
			token = next
		}
	}
}

func isClosed(state string) bool {
	switch state {
	case "Completed", "Failed", "Terminated", "TimedOut":
		return true
	default:
		return false
	}
}
