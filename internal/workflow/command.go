// Package workflow implements the Workflow Runtime (§4.4): the
// deterministic replay engine that turns a history prefix into a
// resumed workflow function, and the function's emitted commands back
// into new history events.
package workflow

import (
	"time"

	"github.com/duraflow/core/internal/payload"
)

// CommandType enumerates what a workflow body can ask the runtime to
// do at each await point (§4.4's runtime API).
type CommandType int32

const (
	CommandScheduleActivity CommandType = iota
	CommandStartTimer
	CommandAwaitSignal
	CommandStartChildWorkflow
	CommandCompleteWorkflow
	CommandFailWorkflow
	CommandCancelTimer
	CommandUpsertSearchAttributes
	CommandRecordVersionMarker
)

func (c CommandType) String() string {
	switch c {
	case CommandScheduleActivity:
		return "ScheduleActivity"
	case CommandStartTimer:
		return "StartTimer"
	case CommandAwaitSignal:
		return "AwaitSignal"
	case CommandStartChildWorkflow:
		return "StartChildWorkflow"
	case CommandCompleteWorkflow:
		return "CompleteWorkflow"
	case CommandFailWorkflow:
		return "FailWorkflow"
	case CommandCancelTimer:
		return "CancelTimer"
	case CommandUpsertSearchAttributes:
		return "UpsertSearchAttributes"
	case CommandRecordVersionMarker:
		return "RecordVersionMarker"
	default:
		return "Unknown"
	}
}

// CommandState tracks one command's lifecycle: Created when the
// workflow function first issues it, Sent once batched for append,
// Resolved once the matching completion/failure event is seen on
// replay.
type CommandState int32

const (
	CommandCreated CommandState = iota
	CommandSent
	CommandResolved
)

// Command is one outstanding interaction a workflow function has
// issued with the runtime API. ID discriminates commands of the same
// type issued in the same decision batch (e.g. two ScheduleActivity
// calls).
type Command struct {
	ID      int64
	Type    CommandType
	State   CommandState

	ActivityType     string
	ActivityVersion  [3]int32
	Input            []*payload.Payload
	ScheduleToClose  time.Duration
	StartToClose     time.Duration
	HeartbeatTimeout time.Duration

	TimerDuration time.Duration
	TimerID       string

	SignalName string

	ChildWorkflowType string
	ChildInput        []*payload.Payload
	ChildMemo         map[string][]byte

	Result           []*payload.Payload
	FailureReason    string
	FailureDetails   []*payload.Payload
	NonRetryable     bool

	SearchAttributes map[string]string
	ToVersion        [3]int32
	FromVersion      [3]int32
	MigrationID      string

	// ScheduledEventID is filled in once the command is appended as a
	// history event, so its eventual completion event can be matched
	// back to it.
	ScheduledEventID int64
}
