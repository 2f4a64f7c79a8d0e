package scheduler

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
)

func TestTimerWheel_FiresAfterDuration(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	w := NewTimerWheel(mock, 64, time.Millisecond)
	go w.Run()
	defer w.Stop()

	w.Schedule("t1", "exec-1", "cooldown", 10*time.Millisecond)

	mock.Add(10 * time.Millisecond)

	select {
	case fired := <-w.Fired():
		require.Equal(t, "t1", fired.TenantID)
		require.Equal(t, "exec-1", fired.ExecutionID)
		require.Equal(t, "cooldown", fired.TimerID)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerWheel_CancelPreventsFire(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	w := NewTimerWheel(mock, 64, time.Millisecond)
	go w.Run()
	defer w.Stop()

	w.Schedule("t1", "exec-1", "cooldown", 10*time.Millisecond)
	w.Cancel("t1", "exec-1", "cooldown")

	mock.Add(20 * time.Millisecond)

	select {
	case fired := <-w.Fired():
		t.Fatalf("cancelled timer fired anyway: %+v", fired)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerWheel_ReschedulingReplacesPriorEntry(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	w := NewTimerWheel(mock, 64, time.Millisecond)
	go w.Run()
	defer w.Stop()

	w.Schedule("t1", "exec-1", "cooldown", 10*time.Millisecond)
	w.Schedule("t1", "exec-1", "cooldown", 20*time.Millisecond)

	mock.Add(10 * time.Millisecond)
	select {
	case fired := <-w.Fired():
		t.Fatalf("rescheduled timer fired at the old deadline: %+v", fired)
	case <-time.After(30 * time.Millisecond):
	}

	mock.Add(10 * time.Millisecond)
	select {
	case fired := <-w.Fired():
		require.Equal(t, "cooldown", fired.TimerID)
	case <-time.After(time.Second):
		t.Fatal("rescheduled timer never fired")
	}
}
