// Package history implements the append-only per-execution event log
// (§3 HistoryEvent, §4.1 History Store) that is the single source
// of truth for a workflow execution's state.
package history

import (
	"time"

	"github.com/duraflow/core/internal/payload"
)

// EventType enumerates the HistoryEvent variants of §3.
type EventType string

const (
	EventWorkflowStarted        EventType = "WorkflowStarted"
	EventWorkflowCompleted      EventType = "WorkflowCompleted"
	EventWorkflowFailed         EventType = "WorkflowFailed"
	EventActivityScheduled      EventType = "ActivityScheduled"
	EventActivityStarted        EventType = "ActivityStarted"
	EventActivityCompleted      EventType = "ActivityCompleted"
	EventActivityFailed         EventType = "ActivityFailed"
	EventActivityTimedOut       EventType = "ActivityTimedOut"
	EventActivityCancelled      EventType = "ActivityCancelled"
	EventTimerStarted           EventType = "TimerStarted"
	EventTimerFired             EventType = "TimerFired"
	EventTimerCancelled         EventType = "TimerCancelled"
	EventSignalReceived         EventType = "SignalReceived"
	EventQueryReceived          EventType = "QueryReceived"
	EventWorkflowPaused         EventType = "WorkflowPaused"
	EventWorkflowResumed        EventType = "WorkflowResumed"
	EventVersionMarker          EventType = "VersionMarker"
	EventSubWorkflowScheduled   EventType = "SubWorkflowScheduled"
	EventSubWorkflowCompleted   EventType = "SubWorkflowCompleted"
	EventWorkflowCancelRequested EventType = "WorkflowCancelRequested"
	EventWorkflowTerminated     EventType = "WorkflowTerminated"
	EventWorkflowTimedOut       EventType = "WorkflowTimedOut"
)

// Event is a single, monotonically numbered, append-only entry in an
// execution's history. EventID is 1-based and contiguous (§3
// invariant). Attributes holds the variant-specific payload as one of
// the typed *Attributes structs below.
type Event struct {
	EventID    int64
	EventType  EventType
	EventTime  time.Time
	Attributes interface{}
}

// WorkflowStartedAttributes is the payload of EventWorkflowStarted.
type WorkflowStartedAttributes struct {
	WorkflowTypeName    string
	WorkflowTypeVersion [3]int32 // major, minor, patch
	TenantID            string
	StartedByUserID     string
	TaskQueue           string
	Input               []*payload.Payload
	Memo                map[string][]byte
	SearchAttributes    map[string]string
	ParentExecutionID   string
	CronSchedule        string
	ExecutionTimeout    time.Duration
}

// WorkflowCompletedAttributes is the payload of EventWorkflowCompleted.
type WorkflowCompletedAttributes struct {
	Result []*payload.Payload
}

// WorkflowFailedAttributes is the payload of EventWorkflowFailed.
type WorkflowFailedAttributes struct {
	Reason         string
	NonRetryable   bool
	Details        []*payload.Payload
}

// ActivityScheduledAttributes is the payload of EventActivityScheduled.
type ActivityScheduledAttributes struct {
	ActivityType          string
	ActivityTypeVersion   [3]int32
	Input                 []*payload.Payload
	ScheduleToCloseTimeout time.Duration
	StartToCloseTimeout   time.Duration
	HeartbeatTimeout       time.Duration
	RetryPolicy            RetryPolicySnapshot
	TaskQueue              string
}

// RetryPolicySnapshot is the durable form of §3's RetryPolicy.
type RetryPolicySnapshot struct {
	MaxAttempts              int32
	InitialInterval          time.Duration
	MaxInterval              time.Duration
	BackoffMultiplier        float64
	NonRetryableErrorKinds   []string
}

// ActivityStartedAttributes is the payload of EventActivityStarted.
type ActivityStartedAttributes struct {
	ScheduledEventID int64
	Attempt          int32
	Identity         string
}

// ActivityCompletedAttributes is the payload of EventActivityCompleted.
type ActivityCompletedAttributes struct {
	ScheduledEventID int64
	Result           []*payload.Payload
}

// ActivityFailedAttributes is the payload of EventActivityFailed.
type ActivityFailedAttributes struct {
	ScheduledEventID int64
	Attempt          int32
	FailureKind      string
	Reason           string
	Details          []*payload.Payload
}

// ActivityTimedOutAttributes is the payload of EventActivityTimedOut.
type ActivityTimedOutAttributes struct {
	ScheduledEventID int64
	TimeoutType      string // ScheduleToClose | StartToClose | Heartbeat
}

// ActivityCancelledAttributes is the payload of EventActivityCancelled.
type ActivityCancelledAttributes struct {
	ScheduledEventID int64
}

// TimerStartedAttributes is the payload of EventTimerStarted.
type TimerStartedAttributes struct {
	TimerID  string
	Duration time.Duration
}

// TimerFiredAttributes is the payload of EventTimerFired.
type TimerFiredAttributes struct {
	StartedEventID int64
	TimerID        string
}

// TimerCancelledAttributes is the payload of EventTimerCancelled.
type TimerCancelledAttributes struct {
	StartedEventID int64
	TimerID        string
}

// SignalReceivedAttributes is the payload of EventSignalReceived.
type SignalReceivedAttributes struct {
	SignalName string
	Payload    []*payload.Payload
}

// QueryReceivedAttributes is the payload of EventQueryReceived. Queries
// are evaluated against an isolated replay and never written back
// (§4.6); this variant exists for completeness of the taxonomy
// and for tooling that wants to audit query traffic out of band.
type QueryReceivedAttributes struct {
	QueryName string
	Args      []*payload.Payload
}

// VersionMarkerAttributes is the payload of EventVersionMarker.
type VersionMarkerAttributes struct {
	ToVersion   [3]int32
	FromVersion [3]int32
	MigrationID string
}

// SubWorkflowScheduledAttributes is the payload of
// EventSubWorkflowScheduled.
type SubWorkflowScheduledAttributes struct {
	ChildExecutionID string
	WorkflowTypeName string
	Input            []*payload.Payload
	Memo             map[string][]byte
}

// SubWorkflowCompletedAttributes is the payload of
// EventSubWorkflowCompleted.
type SubWorkflowCompletedAttributes struct {
	ChildExecutionID string
	Result           []*payload.Payload
	Failed           bool
}

// WorkflowCancelRequestedAttributes is the payload of
// EventWorkflowCancelRequested.
type WorkflowCancelRequestedAttributes struct {
	Reason string
}

// WorkflowTerminatedAttributes is the payload of
// EventWorkflowTerminated.
type WorkflowTerminatedAttributes struct {
	Reason string
}

// WorkflowPausedAttributes is the payload of EventWorkflowPaused.
type WorkflowPausedAttributes struct {
	Reason string
}

// WorkflowResumedAttributes is the payload of EventWorkflowResumed.
type WorkflowResumedAttributes struct{}

// WorkflowTimedOutAttributes is the payload of EventWorkflowTimedOut.
type WorkflowTimedOutAttributes struct {
	TimeoutType string // ExecutionTimeout | RunTimeout
}
