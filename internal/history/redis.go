package history

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	coreerrors "github.com/duraflow/core/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists the event log in Redis: each execution gets a
// counter key holding next_event_id, a list holding serialized events,
// a string key holding the latest snapshot, and a set per tenant for
// listing. The counter is the CAS pivot, enforced with WATCH/MULTI the
// way the redis backends in the pack do it for their own instance
// state (see the next_event_id check against expectedNextEventID
// below, mirroring their per-instance lock-then-read-then-write loop).
type RedisStore struct {
	rdb            *redis.Client
	commandTimeout time.Duration
}

// NewRedisStore wraps an already-connected client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, commandTimeout: 5 * time.Second}
}

func eventsKey(key ExecutionKey) string    { return "history:events:" + key.TenantID + ":" + key.ExecutionID }
func counterKey(key ExecutionKey) string    { return "history:next:" + key.TenantID + ":" + key.ExecutionID }
func snapshotKey(key ExecutionKey) string   { return "history:snapshot:" + key.TenantID + ":" + key.ExecutionID }
func summaryKey(key ExecutionKey) string    { return "history:summary:" + key.TenantID + ":" + key.ExecutionID }
func tenantIndexKey(tenantID string) string { return "history:tenant-index:" + tenantID }
func searchAttrKey(key ExecutionKey) string { return "history:search:" + key.TenantID + ":" + key.ExecutionID }

type wireEvent struct {
	EventID    int64           `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	EventTime  time.Time       `json:"event_time"`
	Attributes json.RawMessage `json:"attributes"`
}

func (s *RedisStore) Append(ctx context.Context, key ExecutionKey, events []Event, expectedNextEventID int64) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	txf := func(tx *redis.Tx) error {
		currentNextStr, err := tx.Get(ctx, counterKey(key)).Result()
		currentNext := int64(1)
		if err == nil {
			currentNext, err = strconv.ParseInt(currentNextStr, 10, 64)
			if err != nil {
				return coreerrors.NewFatalError(key.ExecutionID, "corrupt next_event_id counter")
			}
		} else if err != redis.Nil {
			return coreerrors.NewUnavailableError("read next_event_id", err)
		}

		if currentNext != expectedNextEventID {
			return coreerrors.NewConflictError(key.ExecutionID, expectedNextEventID, currentNext)
		}

		nextID := currentNext
		wireEvents := make([]interface{}, 0, len(events))
		for i := range events {
			events[i].EventID = nextID
			attrJSON, err := json.Marshal(events[i].Attributes)
			if err != nil {
				return coreerrors.NewFatalError(key.ExecutionID, "marshal event attributes: "+err.Error())
			}
			w := wireEvent{EventID: nextID, EventType: events[i].EventType, EventTime: events[i].EventTime, Attributes: attrJSON}
			raw, err := json.Marshal(w)
			if err != nil {
				return coreerrors.NewFatalError(key.ExecutionID, "marshal event envelope: "+err.Error())
			}
			wireEvents = append(wireEvents, raw)
			nextID++
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, eventsKey(key), wireEvents...)
			p.Set(ctx, counterKey(key), nextID, 0)
			p.SAdd(ctx, tenantIndexKey(key.TenantID), key.ExecutionID)
			applyRedisSummaryUpdate(ctx, p, key, events)
			return nil
		})
		if err != nil {
			return coreerrors.NewUnavailableError("append events pipeline", err)
		}
		return nil
	}

	return s.rdb.Watch(ctx, txf, counterKey(key))
}

func applyRedisSummaryUpdate(ctx context.Context, p redis.Pipeliner, key ExecutionKey, events []Event) {
	fields := map[string]interface{}{}
	for _, ev := range events {
		switch a := ev.Attributes.(type) {
		case WorkflowStartedAttributes:
			fields["workflow_type"] = a.WorkflowTypeName
			fields["state"] = "Running"
			fields["start_time"] = ev.EventTime.UnixNano()
		case WorkflowCompletedAttributes:
			fields["state"] = "Completed"
			fields["close_time"] = ev.EventTime.UnixNano()
		case WorkflowFailedAttributes:
			fields["state"] = "Failed"
			fields["close_time"] = ev.EventTime.UnixNano()
		case WorkflowTerminatedAttributes:
			fields["state"] = "Terminated"
			fields["close_time"] = ev.EventTime.UnixNano()
		case WorkflowTimedOutAttributes:
			fields["state"] = "TimedOut"
			fields["close_time"] = ev.EventTime.UnixNano()
		case WorkflowPausedAttributes:
			fields["state"] = "Paused"
		case WorkflowResumedAttributes:
			fields["state"] = "Running"
		}
	}
	if len(fields) > 0 {
		p.HSet(ctx, summaryKey(key), fields)
	}
}

func (s *RedisStore) Read(ctx context.Context, key ExecutionKey, from, to int64) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	raws, err := s.rdb.LRange(ctx, eventsKey(key), 0, -1).Result()
	if err != nil {
		return nil, coreerrors.NewUnavailableError("read events list", err)
	}

	var out []Event
	for _, raw := range raws {
		var w wireEvent
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, coreerrors.NewFatalError(key.ExecutionID, "decode event envelope: "+err.Error())
		}
		if w.EventID < from {
			continue
		}
		if to != 0 && w.EventID >= to {
			continue
		}
		attrs, err := decodeAttributes(w.EventType, w.Attributes)
		if err != nil {
			return nil, coreerrors.NewFatalError(key.ExecutionID, "decode event attributes: "+err.Error())
		}
		out = append(out, Event{EventID: w.EventID, EventType: w.EventType, EventTime: w.EventTime, Attributes: attrs})
	}
	return out, nil
}

func (s *RedisStore) NextEventID(ctx context.Context, key ExecutionKey) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	v, err := s.rdb.Get(ctx, counterKey(key)).Result()
	if err == redis.Nil {
		return 1, nil
	}
	if err != nil {
		return 0, coreerrors.NewUnavailableError("read next_event_id", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, coreerrors.NewFatalError(key.ExecutionID, "corrupt next_event_id counter")
	}
	return n, nil
}

func (s *RedisStore) WriteSnapshot(ctx context.Context, key ExecutionKey, snap Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	raw, err := json.Marshal(snap)
	if err != nil {
		return coreerrors.NewFatalError(key.ExecutionID, "marshal snapshot: "+err.Error())
	}
	if err := s.rdb.Set(ctx, snapshotKey(key), raw, 0).Err(); err != nil {
		return coreerrors.NewUnavailableError("write snapshot", err)
	}
	return nil
}

func (s *RedisStore) LatestSnapshot(ctx context.Context, key ExecutionKey) (*Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	raw, err := s.rdb.Get(ctx, snapshotKey(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coreerrors.NewUnavailableError("read snapshot", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, false, coreerrors.NewFatalError(key.ExecutionID, "decode snapshot: "+err.Error())
	}
	return &snap, true, nil
}

func (s *RedisStore) ListExecutions(ctx context.Context, tenantID string, filter ListFilter, page Page) ([]ExecutionSummary, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	executionIDs, err := s.rdb.SMembers(ctx, tenantIndexKey(tenantID)).Result()
	if err != nil {
		return nil, nil, coreerrors.NewUnavailableError("read tenant index", err)
	}

	var out []ExecutionSummary
	for _, executionID := range executionIDs {
		key := ExecutionKey{TenantID: tenantID, ExecutionID: executionID}
		fields, err := s.rdb.HGetAll(ctx, summaryKey(key)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		summary := ExecutionSummary{TenantID: tenantID, ExecutionID: executionID, WorkflowType: fields["workflow_type"], State: fields["state"]}
		if v, err := strconv.ParseInt(fields["start_time"], 10, 64); err == nil {
			summary.StartTime = v
		}
		if v, err := strconv.ParseInt(fields["close_time"], 10, 64); err == nil {
			summary.CloseTime = v
		}
		if filter.WorkflowTypeName != "" && summary.WorkflowType != filter.WorkflowTypeName {
			continue
		}
		if filter.State != "" && summary.State != filter.State {
			continue
		}
		out = append(out, summary)
	}

	pageSize := page.PageSize
	if pageSize <= 0 || pageSize > len(out) {
		pageSize = len(out)
	}
	return out[:pageSize], nil, nil
}

func (s *RedisStore) IndexSearchAttributes(ctx context.Context, key ExecutionKey, attrs map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	if len(attrs) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		fields[k] = v
	}
	if err := s.rdb.HSet(ctx, searchAttrKey(key), fields).Err(); err != nil {
		return coreerrors.NewUnavailableError("index search attributes", err)
	}
	return nil
}

func (s *RedisStore) DeleteExecution(ctx context.Context, key ExecutionKey) error {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, eventsKey(key), counterKey(key), snapshotKey(key), summaryKey(key), searchAttrKey(key))
	pipe.SRem(ctx, tenantIndexKey(key.TenantID), key.ExecutionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return coreerrors.NewUnavailableError("delete execution", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
