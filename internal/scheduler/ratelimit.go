package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// TenantLimiter holds the two per-tenant fairness primitives spec
// §4.5 calls for: a token bucket gating activity dispatch rate, and a
// semaphore bounding concurrent workflow tasks.
type TenantLimiter struct {
	activityRate    *rate.Limiter
	workflowConcurrency *semaphore.Weighted
}

// NewTenantLimiter builds a limiter pair for one tenant's declared
// quotas (§4.2 Quotas.MaxActivityRatePerSec /
// MaxConcurrentWorkflows).
func NewTenantLimiter(activityRatePerSec float64, maxConcurrentWorkflows int64) *TenantLimiter {
	burst := int(activityRatePerSec)
	if burst < 1 {
		burst = 1
	}
	if maxConcurrentWorkflows < 1 {
		maxConcurrentWorkflows = 1
	}
	return &TenantLimiter{
		activityRate:        rate.NewLimiter(rate.Limit(activityRatePerSec), burst),
		workflowConcurrency: semaphore.NewWeighted(maxConcurrentWorkflows),
	}
}

// AllowActivity reports whether a new activity dispatch may proceed
// right now without blocking — used by the worker pool's selection
// loop to skip a tenant that has exhausted its burst this tick rather
// than stall the whole pool on one tenant.
func (l *TenantLimiter) AllowActivity() bool {
	return l.activityRate.Allow()
}

// AcquireWorkflowSlot blocks (respecting ctx) until a concurrent
// workflow-task slot is available for this tenant, or returns ctx's
// error.
func (l *TenantLimiter) AcquireWorkflowSlot(ctx context.Context) error {
	return l.workflowConcurrency.Acquire(ctx, 1)
}

// ReleaseWorkflowSlot returns a previously acquired slot.
func (l *TenantLimiter) ReleaseWorkflowSlot() {
	l.workflowConcurrency.Release(1)
}

// TryAcquireWorkflowSlot is the non-blocking form, used by the
// selection loop to skip a tenant at capacity instead of parking a
// worker goroutine on it.
func (l *TenantLimiter) TryAcquireWorkflowSlot() bool {
	return l.workflowConcurrency.TryAcquire(1)
}

// LimiterRegistry lazily creates and caches one TenantLimiter per
// tenant, sourcing quotas from a callback so it stays in sync with
// the tenant Directory (internal/tenant) without duplicating it.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*TenantLimiter
	quotas   func(tenantID string) (activityRatePerSec float64, maxConcurrentWorkflows int64)
}

// NewLimiterRegistry builds a registry that resolves a tenant's
// quotas on first use via quotas.
func NewLimiterRegistry(quotas func(tenantID string) (float64, int64)) *LimiterRegistry {
	return &LimiterRegistry{
		limiters: make(map[string]*TenantLimiter),
		quotas:   quotas,
	}
}

// Get returns the tenant's limiter, creating it on first use.
func (r *LimiterRegistry) Get(tenantID string) *TenantLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[tenantID]; ok {
		return l
	}
	ratePerSec, maxConcurrent := r.quotas(tenantID)
	l := NewTenantLimiter(ratePerSec, maxConcurrent)
	r.limiters[tenantID] = l
	return l
}

// Forget drops a tenant's cached limiter, e.g. after a quota update —
// the next Get rebuilds it from the current quotas.
func (r *LimiterRegistry) Forget(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, tenantID)
}
