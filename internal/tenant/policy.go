package tenant

import (
	"context"

	coreerrors "github.com/duraflow/core/internal/errors"
)

// Record is what a Directory returns for a tenant id: the durable
// facts Policy.Resolve turns into a Context.
type Record struct {
	TenantID  string
	Active    bool
	Features  map[string]bool
	Quotas    Quotas
	Isolation IsolationLevel
}

// Directory looks up tenant records. Backed by whatever store holds
// tenant configuration; kept separate from history.Store since tenant
// records change far less often and on a different lifecycle.
type Directory interface {
	Lookup(ctx context.Context, tenantID string) (Record, bool, error)
}

// UsageSource reports a tenant's current resource consumption so
// Policy can enforce quotas without owning the scheduler or history
// store itself.
type UsageSource interface {
	ConcurrentWorkflows(ctx context.Context, tenantID string) (int64, error)
	ActivityRatePerSec(ctx context.Context, tenantID string) (float64, error)
}

// Request is the ingress-time information Policy.Resolve needs: who
// is asking, on behalf of which tenant, to do what, and (for check 4)
// against which resource's tenant.
type Request struct {
	TenantID           string
	PrincipalID        string
	PrincipalRoles     []string
	IsSystemPrincipal  bool
	RequiredFeature    string
	RequiredRole       string
	ResourceTenantID   string // empty when the operation creates a new resource
	QuotaResource      string // "concurrent_workflows" | "activity_rate" | "" (no quota check)
	QuotaRequested     int64
}

// Policy implements §4.2: resolve(request) -> Context |
// Rejected{reason}, running the five checks in order and
// short-circuiting on the first failure.
type Policy struct {
	directory Directory
	usage     UsageSource
}

// NewPolicy builds a Policy against a tenant Directory and a usage
// source for quota checks.
func NewPolicy(directory Directory, usage UsageSource) *Policy {
	return &Policy{directory: directory, usage: usage}
}

// Resolve runs checks 1-5 of §4.2 and returns a validated
// Context, or a typed *errors.AuthorizationError / *errors.QuotaError
// identifying which check failed.
func (p *Policy) Resolve(ctx context.Context, req Request) (*Context, error) {
	record, ok, err := p.directory.Lookup(ctx, req.TenantID)
	if err != nil {
		return nil, coreerrors.NewUnavailableError("tenant directory lookup", err)
	}
	// Check 1: tenant exists and is active.
	if !ok || !record.Active {
		return nil, coreerrors.NewAuthorizationError(coreerrors.ReasonTenantInactive, "tenant "+req.TenantID+" is not active")
	}

	// Check 2: required feature flag enabled.
	if req.RequiredFeature != "" && !record.Features[req.RequiredFeature] {
		return nil, coreerrors.NewAuthorizationError(coreerrors.ReasonFeatureDisabled, "feature "+req.RequiredFeature+" is disabled for tenant "+req.TenantID)
	}

	roles := make(map[string]bool, len(req.PrincipalRoles))
	for _, r := range req.PrincipalRoles {
		roles[r] = true
	}
	tctx := &Context{
		TenantID:       record.TenantID,
		Active:         record.Active,
		Features:       record.Features,
		Quotas:         record.Quotas,
		Isolation:      record.Isolation,
		PrincipalID:    req.PrincipalID,
		PrincipalRoles: roles,
		IsSystem:       req.IsSystemPrincipal,
	}

	// Check 3: principal has the required role, or is the system
	// principal.
	if req.RequiredRole != "" && !tctx.HasRole(req.RequiredRole) {
		return nil, coreerrors.NewAuthorizationError(coreerrors.ReasonUnauthorized, "principal "+req.PrincipalID+" lacks role "+req.RequiredRole)
	}

	// Check 4: target resource's tenant matches the context tenant.
	if req.ResourceTenantID != "" && req.ResourceTenantID != record.TenantID {
		return nil, coreerrors.NewAuthorizationError(coreerrors.ReasonCrossTenant, "resource belongs to a different tenant")
	}

	// Check 5: quota.
	if req.QuotaResource != "" {
		if err := p.checkQuota(ctx, tctx, req); err != nil {
			return nil, err
		}
	}

	return tctx, nil
}

func (p *Policy) checkQuota(ctx context.Context, tctx *Context, req Request) error {
	switch req.QuotaResource {
	case "concurrent_workflows":
		if tctx.Quotas.MaxConcurrentWorkflows <= 0 {
			return nil
		}
		used, err := p.usage.ConcurrentWorkflows(ctx, tctx.TenantID)
		if err != nil {
			return coreerrors.NewUnavailableError("read concurrent workflow usage", err)
		}
		if used+req.QuotaRequested > tctx.Quotas.MaxConcurrentWorkflows {
			return coreerrors.NewQuotaError(req.QuotaResource, used, tctx.Quotas.MaxConcurrentWorkflows, req.QuotaRequested)
		}
	case "activity_rate":
		if tctx.Quotas.MaxActivityRatePerSec <= 0 {
			return nil
		}
		rate, err := p.usage.ActivityRatePerSec(ctx, tctx.TenantID)
		if err != nil {
			return coreerrors.NewUnavailableError("read activity rate usage", err)
		}
		if rate > tctx.Quotas.MaxActivityRatePerSec {
			return coreerrors.NewQuotaError(req.QuotaResource, int64(rate), int64(tctx.Quotas.MaxActivityRatePerSec), req.QuotaRequested)
		}
	}
	return nil
}

// Revalidate re-runs check 4 for an already-resolved Context against a
// different resource's tenant id. Every component that accepts a
// tenant-bearing argument after the initial resolve must call this
// before acting on it (§4.2 "Why it is central").
func Revalidate(tctx *Context, resourceTenantID string) error {
	if tctx == nil {
		return coreerrors.NewAuthorizationError(coreerrors.ReasonUnauthorized, "no tenant context")
	}
	if resourceTenantID != tctx.TenantID {
		return coreerrors.NewAuthorizationError(coreerrors.ReasonCrossTenant, "resource belongs to a different tenant")
	}
	return nil
}
