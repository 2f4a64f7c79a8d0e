package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandTracker_TrackAndResolveByScheduledEventID(t *testing.T) {
	t.Parallel()
	tr := newCommandTracker()

	cmd := &Command{Type: CommandScheduleActivity, ActivityType: "send_email"}
	id := tr.track(cmd)
	require.Equal(t, int64(1), cmd.ID)
	require.Equal(t, CommandCreated, cmd.State)

	require.Len(t, tr.pending(), 1)

	tr.bindScheduledEventID(id, 5)
	require.Equal(t, CommandSent, cmd.State)
	require.Equal(t, int64(5), cmd.ScheduledEventID)
	require.Empty(t, tr.pending(), "a Sent command is no longer Created, so it drops out of pending")

	resolved, ok := tr.resolveByScheduledEventID(5)
	require.True(t, ok)
	require.Same(t, cmd, resolved)
	require.Equal(t, CommandResolved, resolved.State)

	_, ok = tr.resolveByScheduledEventID(5)
	require.False(t, ok, "resolving twice must fail: the tracker has already forgotten it")
}

func TestCommandTracker_ResolveByID_Timer(t *testing.T) {
	t.Parallel()
	tr := newCommandTracker()

	cmd := &Command{Type: CommandStartTimer, TimerID: "retry-backoff"}
	tr.track(cmd)

	resolved, ok := tr.resolveByID(CommandStartTimer, "retry-backoff")
	require.True(t, ok)
	require.Same(t, cmd, resolved)
	require.Equal(t, CommandResolved, resolved.State)
}

func TestCommandTracker_ResolveByID_Miss(t *testing.T) {
	t.Parallel()
	tr := newCommandTracker()
	_, ok := tr.resolveByID(CommandStartTimer, "never-issued")
	require.False(t, ok)
}

func TestCommandTracker_FirstUnboundOfType_MatchesIssueOrder(t *testing.T) {
	t.Parallel()
	tr := newCommandTracker()

	first := &Command{Type: CommandScheduleActivity, ActivityType: "a"}
	second := &Command{Type: CommandScheduleActivity, ActivityType: "b"}
	tr.track(first)
	tr.track(second)

	id, cmd, ok := tr.firstUnboundOfType(CommandScheduleActivity)
	require.True(t, ok)
	require.Same(t, first, cmd)

	tr.bindScheduledEventID(id, 1)

	_, cmd2, ok := tr.firstUnboundOfType(CommandScheduleActivity)
	require.True(t, ok)
	require.Same(t, second, cmd2)
}

func TestCommandTracker_PendingPreservesIssueOrder(t *testing.T) {
	t.Parallel()
	tr := newCommandTracker()

	a := &Command{Type: CommandStartTimer, TimerID: "t1"}
	b := &Command{Type: CommandScheduleActivity, ActivityType: "x"}
	c := &Command{Type: CommandStartTimer, TimerID: "t2"}
	tr.track(a)
	tr.track(b)
	tr.track(c)

	pending := tr.pending()
	require.Len(t, pending, 3)
	require.Same(t, a, pending[0])
	require.Same(t, b, pending[1])
	require.Same(t, c, pending[2])
}
