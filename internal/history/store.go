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

package history

import "context"

// ExecutionKey identifies one workflow execution's history. The
// tenant is part of the key, never inferred (§4.1).
type ExecutionKey struct {
	TenantID    string
	ExecutionID string
}

// Snapshot is an advisory, opaque checkpoint of runtime state. Removing
// all snapshots for an execution must not change replay's outcome
// (§4.1).
type Snapshot struct {
	Blob      []byte
	UpToEvent int64
}

// ListFilter narrows list_executions / list_workflows (§6).
type ListFilter struct {
	WorkflowTypeName string
	State            string
	StartedAfter     int64 // unix nanos, 0 = unbounded
	StartedBefore    int64
	SearchAttributes map[string]string
}

// Page requests one page of a paginated read.
type Page struct {
	Token    []byte
	PageSize int
}

// ExecutionSummary is what list/query operations return per execution,
// without materializing the full history.
type ExecutionSummary struct {
	TenantID     string
	ExecutionID  string
	RunID        string
	WorkflowType string
	State        string
	StartTime    int64
	CloseTime    int64
}

// Store is the persistence SPI of §4.1 / §6: an append-only,
// CAS-guarded event log plus advisory snapshots and a listing surface.
// Implementations: MemoryStore (default, in-process), PostgresStore,
// RedisStore.
type Store interface {
	// Append is atomic and compare-and-swap on expectedNextEventID: if
	// the store's current next-event-id for this execution does not
	// match, it returns *errors.ConflictError and writes nothing.
	Append(ctx context.Context, key ExecutionKey, events []Event, expectedNextEventID int64) error

	// Read returns events in [from, to) (to==0 means "through the
	// current tail").
	Read(ctx context.Context, key ExecutionKey, from, to int64) ([]Event, error)

	// NextEventID returns the next_event_id a caller must pass to
	// Append to avoid a Conflict, i.e. 1 + the id of the last event.
	NextEventID(ctx context.Context, key ExecutionKey) (int64, error)

	WriteSnapshot(ctx context.Context, key ExecutionKey, snap Snapshot) error
	LatestSnapshot(ctx context.Context, key ExecutionKey) (*Snapshot, bool, error)

	ListExecutions(ctx context.Context, tenantID string, filter ListFilter, page Page) ([]ExecutionSummary, []byte, error)
	IndexSearchAttributes(ctx context.Context, key ExecutionKey, attrs map[string]string) error

	// DeleteExecution removes an execution's history and snapshots. Used
	// only by the retention sweep (spec Lifecycles: "retained for a
	// tenant-configurable retention window before deletion").
	DeleteExecution(ctx context.Context, key ExecutionKey) error
}
