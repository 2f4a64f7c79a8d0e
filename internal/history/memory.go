package history

import (
	"context"
	"sort"
	"sync"

	coreerrors "github.com/duraflow/core/internal/errors"
)

// MemoryStore is the default, in-process Store. It is the engine's
// "SQLite equivalent" (§4.1 default binding): useful for tests,
// single-node deployments, and as the reference implementation the
// durable adapters (PostgresStore, RedisStore) are checked against.
type MemoryStore struct {
	mu         sync.Mutex
	executions map[ExecutionKey]*executionRecord
}

type executionRecord struct {
	events     []Event
	snapshot   *Snapshot
	summary    ExecutionSummary
	searchAttr map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[ExecutionKey]*executionRecord),
	}
}

func (s *MemoryStore) Append(_ context.Context, key ExecutionKey, events []Event, expectedNextEventID int64) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[key]
	nextID := int64(1)
	if ok {
		nextID = int64(len(rec.events)) + 1
	}
	if nextID != expectedNextEventID {
		return coreerrors.NewConflictError(key.ExecutionID, expectedNextEventID, nextID)
	}

	if !ok {
		rec = &executionRecord{summary: ExecutionSummary{
			TenantID:    key.TenantID,
			ExecutionID: key.ExecutionID,
		}}
		s.executions[key] = rec
	}
	for i := range events {
		events[i].EventID = nextID
		nextID++
		rec.events = append(rec.events, events[i])
		applyExecutionSummary(&rec.summary, events[i])
	}
	return nil
}

func applyExecutionSummary(summary *ExecutionSummary, ev Event) {
	switch attrs := ev.Attributes.(type) {
	case WorkflowStartedAttributes:
		summary.WorkflowType = attrs.WorkflowTypeName
		summary.State = "Running"
		summary.StartTime = ev.EventTime.UnixNano()
	case WorkflowCompletedAttributes:
		summary.State = "Completed"
		summary.CloseTime = ev.EventTime.UnixNano()
	case WorkflowFailedAttributes:
		summary.State = "Failed"
		summary.CloseTime = ev.EventTime.UnixNano()
	case WorkflowTerminatedAttributes:
		summary.State = "Terminated"
		summary.CloseTime = ev.EventTime.UnixNano()
	case WorkflowTimedOutAttributes:
		summary.State = "TimedOut"
		summary.CloseTime = ev.EventTime.UnixNano()
	case WorkflowPausedAttributes:
		summary.State = "Paused"
	case WorkflowResumedAttributes:
		summary.State = "Running"
	}
}

func (s *MemoryStore) Read(_ context.Context, key ExecutionKey, from, to int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[key]
	if !ok {
		return nil, coreerrors.NewUnavailableError("no history for execution", nil)
	}
	if to == 0 || to > int64(len(rec.events))+1 {
		to = int64(len(rec.events)) + 1
	}
	if from < 1 {
		from = 1
	}
	if from >= to {
		return nil, nil
	}
	out := make([]Event, to-from)
	copy(out, rec.events[from-1:to-1])
	return out, nil
}

func (s *MemoryStore) NextEventID(_ context.Context, key ExecutionKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[key]
	if !ok {
		return 1, nil
	}
	return int64(len(rec.events)) + 1, nil
}

func (s *MemoryStore) WriteSnapshot(_ context.Context, key ExecutionKey, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[key]
	if !ok {
		return coreerrors.NewUnavailableError("no history for execution", nil)
	}
	cp := snap
	rec.snapshot = &cp
	return nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context, key ExecutionKey) (*Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[key]
	if !ok || rec.snapshot == nil {
		return nil, false, nil
	}
	cp := *rec.snapshot
	return &cp, true, nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, tenantID string, filter ListFilter, page Page) ([]ExecutionSummary, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []ExecutionSummary
	for key, rec := range s.executions {
		if key.TenantID != tenantID {
			continue
		}
		if filter.WorkflowTypeName != "" && rec.summary.WorkflowType != filter.WorkflowTypeName {
			continue
		}
		if filter.State != "" && rec.summary.State != filter.State {
			continue
		}
		if filter.StartedAfter != 0 && rec.summary.StartTime < filter.StartedAfter {
			continue
		}
		if filter.StartedBefore != 0 && rec.summary.StartTime > filter.StartedBefore {
			continue
		}
		if !matchesSearchAttributes(rec.searchAttr, filter.SearchAttributes) {
			continue
		}
		matches = append(matches, rec.summary)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].StartTime < matches[j].StartTime })

	pageSize := page.PageSize
	if pageSize <= 0 || pageSize > len(matches) {
		pageSize = len(matches)
	}
	start := 0
	if len(page.Token) > 0 {
		start = int(page.Token[0])
	}
	if start > len(matches) {
		start = len(matches)
	}
	end := start + pageSize
	if end > len(matches) {
		end = len(matches)
	}

	var nextToken []byte
	if end < len(matches) {
		nextToken = []byte{byte(end)}
	}
	return matches[start:end], nextToken, nil
}

func matchesSearchAttributes(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func (s *MemoryStore) IndexSearchAttributes(_ context.Context, key ExecutionKey, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[key]
	if !ok {
		return coreerrors.NewUnavailableError("no history for execution", nil)
	}
	if rec.searchAttr == nil {
		rec.searchAttr = make(map[string]string, len(attrs))
	}
	for k, v := range attrs {
		rec.searchAttr[k] = v
	}
	return nil
}

func (s *MemoryStore) DeleteExecution(_ context.Context, key ExecutionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.executions, key)
	return nil
}

var _ Store = (*MemoryStore)(nil)
