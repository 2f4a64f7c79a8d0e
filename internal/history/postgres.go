package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the event log to Postgres. It is the durable
// binding named in §4.1 as a realistic alternative to the
// in-process default, grounded in the same append-only-log-plus-CAS
// shape as MemoryStore but backed by a row in history_executions
// carrying the authoritative next_event_id.
//
// Schema (created out of band, by migration tooling, not by this
// package):
//
//	history_executions(tenant_id, execution_id, next_event_id, snapshot,
//	                    snapshot_upto, workflow_type, state,
//	                    start_time, close_time)
//	history_events(tenant_id, execution_id, event_id, event_type,
//	               event_time, attributes_json)
//	history_search_attributes(tenant_id, execution_id, attr_key, attr_value)
type PostgresStore struct {
	pool            *pgxpool.Pool
	queryTimeout    time.Duration
}

// NewPostgresStore wraps an already-connected pool. Callers own the
// pool's lifecycle (pgxpool.New/Close).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, queryTimeout: 5 * time.Second}
}

func (s *PostgresStore) Append(ctx context.Context, key ExecutionKey, events []Event, expectedNextEventID int64) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return coreerrors.NewUnavailableError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var currentNext int64
	err = tx.QueryRow(ctx,
		`SELECT next_event_id FROM history_executions WHERE tenant_id = $1 AND execution_id = $2 FOR UPDATE`,
		key.TenantID, key.ExecutionID).Scan(&currentNext)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if expectedNextEventID != 1 {
			return coreerrors.NewConflictError(key.ExecutionID, expectedNextEventID, 1)
		}
		currentNext = 1
		if _, err := tx.Exec(ctx,
			`INSERT INTO history_executions (tenant_id, execution_id, next_event_id) VALUES ($1, $2, 1)`,
			key.TenantID, key.ExecutionID); err != nil {
			return coreerrors.NewUnavailableError("insert execution row", err)
		}
	case err != nil:
		return coreerrors.NewUnavailableError("lock execution row", err)
	default:
		if currentNext != expectedNextEventID {
			return coreerrors.NewConflictError(key.ExecutionID, expectedNextEventID, currentNext)
		}
	}

	nextID := currentNext
	for i := range events {
		events[i].EventID = nextID
		attrJSON, err := json.Marshal(events[i].Attributes)
		if err != nil {
			return coreerrors.NewFatalError(key.ExecutionID, "marshal event attributes: "+err.Error())
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO history_events (tenant_id, execution_id, event_id, event_type, event_time, attributes_json)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			key.TenantID, key.ExecutionID, nextID, string(events[i].EventType), events[i].EventTime, attrJSON); err != nil {
			return coreerrors.NewUnavailableError("insert event", err)
		}
		applySummaryUpdate(tx, ctx, key, events[i])
		nextID++
	}

	if _, err := tx.Exec(ctx,
		`UPDATE history_executions SET next_event_id = $1 WHERE tenant_id = $2 AND execution_id = $3`,
		nextID, key.TenantID, key.ExecutionID); err != nil {
		return coreerrors.NewUnavailableError("advance next_event_id", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return coreerrors.NewUnavailableError("commit append", err)
	}
	return nil
}

// applySummaryUpdate keeps history_executions.state/workflow_type in
// sync so ListExecutions never has to replay history_events. Errors
// are swallowed here deliberately: summary projection is advisory, the
// event row itself is the source of truth, and the caller already
// holds the row lock for the remainder of the transaction.
func applySummaryUpdate(tx pgx.Tx, ctx context.Context, key ExecutionKey, ev Event) {
	var setClause string
	var arg interface{}
	switch a := ev.Attributes.(type) {
	case WorkflowStartedAttributes:
		setClause = "workflow_type = $1, state = 'Running', start_time = $2"
		arg = a.WorkflowTypeName
	case WorkflowCompletedAttributes:
		setClause = "state = 'Completed', close_time = $1"
	case WorkflowFailedAttributes:
		setClause = "state = 'Failed', close_time = $1"
	case WorkflowTerminatedAttributes:
		setClause = "state = 'Terminated', close_time = $1"
	case WorkflowTimedOutAttributes:
		setClause = "state = 'TimedOut', close_time = $1"
	case WorkflowPausedAttributes:
		setClause = "state = 'Paused'"
	case WorkflowResumedAttributes:
		setClause = "state = 'Running'"
	default:
		return
	}
	if arg != nil {
		tx.Exec(ctx, `UPDATE history_executions SET `+setClause+` WHERE tenant_id = $3 AND execution_id = $4`,
			arg, ev.EventTime, key.TenantID, key.ExecutionID)
	} else {
		tx.Exec(ctx, `UPDATE history_executions SET `+setClause+` WHERE tenant_id = $2 AND execution_id = $3`,
			ev.EventTime, key.TenantID, key.ExecutionID)
	}
}

func (s *PostgresStore) Read(ctx context.Context, key ExecutionKey, from, to int64) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var rows pgx.Rows
	var err error
	if to == 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT event_id, event_type, event_time, attributes_json FROM history_events
			 WHERE tenant_id = $1 AND execution_id = $2 AND event_id >= $3 ORDER BY event_id`,
			key.TenantID, key.ExecutionID, from)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT event_id, event_type, event_time, attributes_json FROM history_events
			 WHERE tenant_id = $1 AND execution_id = $2 AND event_id >= $3 AND event_id < $4 ORDER BY event_id`,
			key.TenantID, key.ExecutionID, from, to)
	}
	if err != nil {
		return nil, coreerrors.NewUnavailableError("query history_events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var eventType string
		var attrJSON []byte
		if err := rows.Scan(&ev.EventID, &eventType, &ev.EventTime, &attrJSON); err != nil {
			return nil, coreerrors.NewUnavailableError("scan history_events row", err)
		}
		ev.EventType = EventType(eventType)
		attrs, err := decodeAttributes(ev.EventType, attrJSON)
		if err != nil {
			return nil, coreerrors.NewFatalError(key.ExecutionID, "decode event attributes: "+err.Error())
		}
		ev.Attributes = attrs
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) NextEventID(ctx context.Context, key ExecutionKey) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var next int64
	err := s.pool.QueryRow(ctx,
		`SELECT next_event_id FROM history_executions WHERE tenant_id = $1 AND execution_id = $2`,
		key.TenantID, key.ExecutionID).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, coreerrors.NewUnavailableError("query next_event_id", err)
	}
	return next, nil
}

func (s *PostgresStore) WriteSnapshot(ctx context.Context, key ExecutionKey, snap Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`UPDATE history_executions SET snapshot = $1, snapshot_upto = $2 WHERE tenant_id = $3 AND execution_id = $4`,
		snap.Blob, snap.UpToEvent, key.TenantID, key.ExecutionID)
	if err != nil {
		return coreerrors.NewUnavailableError("write snapshot", err)
	}
	return nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, key ExecutionKey) (*Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var blob []byte
	var upto int64
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot, snapshot_upto FROM history_executions WHERE tenant_id = $1 AND execution_id = $2`,
		key.TenantID, key.ExecutionID).Scan(&blob, &upto)
	if errors.Is(err, pgx.ErrNoRows) || blob == nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coreerrors.NewUnavailableError("query snapshot", err)
	}
	return &Snapshot{Blob: blob, UpToEvent: upto}, true, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, tenantID string, filter ListFilter, page Page) ([]ExecutionSummary, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	pageSize := page.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	offset := int64(0)
	if len(page.Token) == 8 {
		offset = int64(bigEndianToInt64(page.Token))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, execution_id, workflow_type, state, start_time, close_time FROM history_executions
		 WHERE tenant_id = $1
		   AND ($2 = '' OR workflow_type = $2)
		   AND ($3 = '' OR state = $3)
		 ORDER BY start_time
		 OFFSET $4 LIMIT $5`,
		tenantID, filter.WorkflowTypeName, filter.State, offset, pageSize+1)
	if err != nil {
		return nil, nil, coreerrors.NewUnavailableError("query history_executions", err)
	}
	defer rows.Close()

	var out []ExecutionSummary
	for rows.Next() {
		var summary ExecutionSummary
		if err := rows.Scan(&summary.TenantID, &summary.ExecutionID, &summary.WorkflowType, &summary.State,
			&summary.StartTime, &summary.CloseTime); err != nil {
			return nil, nil, coreerrors.NewUnavailableError("scan history_executions row", err)
		}
		out = append(out, summary)
	}

	var nextToken []byte
	if len(out) > pageSize {
		out = out[:pageSize]
		nextToken = int64ToBigEndian(offset + int64(pageSize))
	}
	return out, nextToken, rows.Err()
}

func (s *PostgresStore) IndexSearchAttributes(ctx context.Context, key ExecutionKey, attrs map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	for k, v := range attrs {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO history_search_attributes (tenant_id, execution_id, attr_key, attr_value)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (tenant_id, execution_id, attr_key) DO UPDATE SET attr_value = EXCLUDED.attr_value`,
			key.TenantID, key.ExecutionID, k, v); err != nil {
			return coreerrors.NewUnavailableError("index search attribute", err)
		}
	}
	return nil
}

func (s *PostgresStore) DeleteExecution(ctx context.Context, key ExecutionKey) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return coreerrors.NewUnavailableError("begin delete transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"history_events", "history_search_attributes", "history_executions"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE tenant_id = $1 AND execution_id = $2`,
			key.TenantID, key.ExecutionID); err != nil {
			return coreerrors.NewUnavailableError("delete from "+table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return coreerrors.NewUnavailableError("commit delete", err)
	}
	return nil
}

// decodeAttributes unmarshals the stored JSON into the value-typed
// Attributes variant matching eventType, so a row read back from
// Postgres type-switches identically to one just appended in-process
// (see applyExecutionSummary / applySummaryUpdate).
func decodeAttributes(eventType EventType, data []byte) (interface{}, error) {
	switch eventType {
	case EventWorkflowStarted:
		var a WorkflowStartedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventWorkflowCompleted:
		var a WorkflowCompletedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventWorkflowFailed:
		var a WorkflowFailedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventActivityScheduled:
		var a ActivityScheduledAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventActivityStarted:
		var a ActivityStartedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventActivityCompleted:
		var a ActivityCompletedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventActivityFailed:
		var a ActivityFailedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventActivityTimedOut:
		var a ActivityTimedOutAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventActivityCancelled:
		var a ActivityCancelledAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventTimerStarted:
		var a TimerStartedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventTimerFired:
		var a TimerFiredAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventTimerCancelled:
		var a TimerCancelledAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventSignalReceived:
		var a SignalReceivedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventQueryReceived:
		var a QueryReceivedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventWorkflowPaused:
		var a WorkflowPausedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventWorkflowResumed:
		var a WorkflowResumedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventVersionMarker:
		var a VersionMarkerAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventSubWorkflowScheduled:
		var a SubWorkflowScheduledAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventSubWorkflowCompleted:
		var a SubWorkflowCompletedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventWorkflowCancelRequested:
		var a WorkflowCancelRequestedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventWorkflowTerminated:
		var a WorkflowTerminatedAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case EventWorkflowTimedOut:
		var a WorkflowTimedOutAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, errUnknownEventType(eventType)
	}
}

type errUnknownEventType EventType

func (e errUnknownEventType) Error() string {
	return "history: unknown event type " + string(e)
}

func int64ToBigEndian(v int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func bigEndianToInt64(b []byte) int64 {
	var v int64
	for i := 0; i < 8; i++ {
		v = v<<8 | int64(b[i])
	}
	return v
}

var _ Store = (*PostgresStore)(nil)
