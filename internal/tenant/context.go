// Package tenant resolves tenant identity, feature flags, quotas, and
// isolation level for every operation (§4.2), and re-validates
// that resolved context against the target entity on every downstream
// call.
package tenant

import "context"

// IsolationLevel is how strictly a tenant's data is partitioned from
// others in the backing store.
type IsolationLevel string

const (
	IsolationShared       IsolationLevel = "shared"
	IsolationSchemaScoped IsolationLevel = "schema-scoped"
	IsolationDedicated    IsolationLevel = "dedicated"
)

// Quotas bounds a tenant's resource consumption.
type Quotas struct {
	MaxConcurrentWorkflows int64
	MaxActivityRatePerSec  float64
	MaxMemoryPerWorkflow   int64
	MaxUsers               int64
}

// Context is the opaque, immutable-per-request tenant identity that
// every downstream operation carries (§3 TenantContext). It is
// resolved fresh at request ingress and never cached across requests
// without revalidation.
type Context struct {
	TenantID       string
	Active         bool
	Features       map[string]bool
	Quotas         Quotas
	Isolation      IsolationLevel
	PrincipalID    string
	PrincipalRoles map[string]bool
	IsSystem       bool
}

// HasFeature reports whether a feature flag is enabled for this
// tenant.
func (c *Context) HasFeature(name string) bool {
	if c == nil {
		return false
	}
	return c.Features[name]
}

// HasRole reports whether the requesting principal holds role, or is
// the distinguished system principal (§4.2 check 3).
func (c *Context) HasRole(role string) bool {
	if c == nil {
		return false
	}
	if c.IsSystem {
		return true
	}
	return c.PrincipalRoles[role]
}

type contextKey struct{}

// NewContext attaches a resolved tenant Context to a context.Context,
// so it can ride along through the call stack after Policy.Resolve
// runs at request ingress.
func NewContext(ctx context.Context, tctx *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tctx)
}

// FromContext retrieves a tenant Context attached by NewContext, or
// nil if none was attached — callers should treat nil the same as an
// inactive/unauthorized tenant via Revalidate's nil-safety.
func FromContext(ctx context.Context) *Context {
	tctx, _ := ctx.Value(contextKey{}).(*Context)
	return tctx
}
