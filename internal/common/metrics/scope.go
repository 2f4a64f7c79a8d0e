// The MIT License
//
// Copyright (c) 2020 Temporal Technologies Inc.  All rights reserved.
//
// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package metrics centralizes the tally.Scope tagging conventions used
// across the engine, so every component reports under the same tag
// names instead of inventing its own.
package metrics

import "github.com/uber-go/tally"

// Tag names shared by every component that tags a scope.
const (
	TagTenant    = "tenant_id"
	TagWorkflow  = "workflow_type"
	TagActivity  = "activity_type"
	TagOperation = "operation"
	TagTaskQueue = "task_queue"
)

var safeCharacters = []rune{'_'}

// SanitizeOptions makes metric names/tags safe for Prometheus-style
// reporters.
var SanitizeOptions = tally.SanitizeOptions{
	NameCharacters: tally.ValidCharacters{
		Ranges:     tally.AlphanumericRange,
		Characters: safeCharacters,
	},
	KeyCharacters: tally.ValidCharacters{
		Ranges:     tally.AlphanumericRange,
		Characters: safeCharacters,
	},
	ValueCharacters: tally.ValidCharacters{
		Ranges:     tally.AlphanumericRange,
		Characters: safeCharacters,
	},
	ReplacementCharacter: tally.DefaultReplacementCharacter,
}

// NoopScope is used whenever a component is constructed without a
// MetricsScope: the default is no metrics, not a panic.
func NoopScope() tally.Scope {
	scope, _ := tally.NewRootScope(tally.ScopeOptions{Reporter: tally.NullStatsReporter}, 0)
	return scope
}

// TenantScope tags scope with the tenant that an operation is running
// on behalf of. Every per-tenant counter in the observability surface
// (§6) flows through this so dashboards can slice by tenant.
func TenantScope(scope tally.Scope, tenantID string) tally.Scope {
	if scope == nil {
		scope = NoopScope()
	}
	return scope.Tagged(map[string]string{TagTenant: tenantID})
}

// OperationScope further tags a tenant scope with the control-plane
// operation name (start/signal/query/...).
func OperationScope(scope tally.Scope, tenantID, operation string) tally.Scope {
	return TenantScope(scope, tenantID).Tagged(map[string]string{TagOperation: operation})
}
