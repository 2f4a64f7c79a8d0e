package scheduler

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain guards the worker pool and timer wheel tests against leaked
// goroutines: a Scheduler that doesn't drain its pool or stop its
// ticker on Shutdown would otherwise fail silently.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
