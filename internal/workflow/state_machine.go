package workflow

import (
	"container/list"
	"strconv"
)

// commandID discriminates same-type commands issued within one
// workflow (commandType, id).
type commandID struct {
	commandType CommandType
	id          string
}

// commandTracker is an ordered list of outstanding commands plus the
// lookups needed to match an incoming history event
// (ActivityCompleted, TimerFired, ...) back to the command that issued
// it, keyed on the same scheduled_event_id the event itself carries.
type commandTracker struct {
	nextCommandID int64
	ordered       *list.List
	byID          map[commandID]*list.Element

	scheduledEventIDToCommandID map[int64]commandID
}

func newCommandTracker() *commandTracker {
	return &commandTracker{
		ordered:                     list.New(),
		byID:                        make(map[commandID]*list.Element),
		scheduledEventIDToCommandID: make(map[int64]commandID),
	}
}

// track registers a freshly issued command (CommandCreated state) and
// assigns it a tracker-local ID.
func (t *commandTracker) track(cmd *Command) commandID {
	t.nextCommandID++
	cmd.ID = t.nextCommandID
	id := commandID{commandType: cmd.Type, id: idOf(cmd)}
	el := t.ordered.PushBack(cmd)
	t.byID[id] = el
	return id
}

func idOf(cmd *Command) string {
	switch cmd.Type {
	case CommandStartTimer, CommandCancelTimer:
		return cmd.TimerID
	case CommandAwaitSignal:
		return cmd.SignalName
	default:
		return strconv.FormatInt(cmd.ID, 10)
	}
}

// bindScheduledEventID records that a tracked command was just
// appended as a history event with the given id, so a later
// completion event can be matched back to it via
// resolveByScheduledEventID.
func (t *commandTracker) bindScheduledEventID(id commandID, scheduledEventID int64) {
	if el, ok := t.byID[id]; ok {
		cmd := el.Value.(*Command)
		cmd.ScheduledEventID = scheduledEventID
		cmd.State = CommandSent
	}
	t.scheduledEventIDToCommandID[scheduledEventID] = id
}

// resolveByScheduledEventID marks the command matching
// scheduledEventID as resolved and returns it. ok is false if replay
// is observing a completion for a command never issued — a
// determinism violation (§4.4).
func (t *commandTracker) resolveByScheduledEventID(scheduledEventID int64) (*Command, bool) {
	id, ok := t.scheduledEventIDToCommandID[scheduledEventID]
	if !ok {
		return nil, false
	}
	el, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	cmd := el.Value.(*Command)
	cmd.State = CommandResolved
	t.ordered.Remove(el)
	delete(t.byID, id)
	delete(t.scheduledEventIDToCommandID, scheduledEventID)
	return cmd, true
}

// resolveByID marks the command matching (commandType, id) as
// resolved — used for TimerFired/TimerCancelled and SignalReceived,
// which key off TimerID/SignalName rather than a scheduled event id.
func (t *commandTracker) resolveByID(commandType CommandType, id string) (*Command, bool) {
	key := commandID{commandType: commandType, id: id}
	el, ok := t.byID[key]
	if !ok {
		return nil, false
	}
	cmd := el.Value.(*Command)
	cmd.State = CommandResolved
	t.ordered.Remove(el)
	delete(t.byID, key)
	return cmd, true
}

// firstUnboundOfType returns the oldest Created-state command of the
// given type that has not yet been bound to a scheduled event id.
// Determinism guarantees replay issues commands in the same order as
// the original run, so the next unbound command of a type is always
// the one a newly observed *Scheduled history event corresponds to.
func (t *commandTracker) firstUnboundOfType(commandType CommandType) (commandID, *Command, bool) {
	for el := t.ordered.Front(); el != nil; el = el.Next() {
		cmd := el.Value.(*Command)
		if cmd.Type == commandType && cmd.State == CommandCreated {
			return commandID{commandType: commandType, id: idOf(cmd)}, cmd, true
		}
	}
	return commandID{}, nil, false
}

// pending returns commands still in the Created state (not yet bound to
// a history event), in the order they were issued — the batch the
// runtime appends as new history
// events on progress (§4.4 replay loop step 4).
func (t *commandTracker) pending() []*Command {
	out := make([]*Command, 0, t.ordered.Len())
	for el := t.ordered.Front(); el != nil; el = el.Next() {
		cmd := el.Value.(*Command)
		if cmd.State == CommandCreated {
			out = append(out, cmd)
		}
	}
	return out
}
