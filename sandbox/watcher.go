package sandbox

import (
	"context"
	"sync/atomic"
	"time"
)

// epochDeadline is the number of epoch ticks after which a session is
// interrupted. The watcher signals one more tick than this.
const epochDeadline uint64 = 1

// epoch is a session-local interruption counter. Once it reaches its deadline
// it cancels the session context, and wazero traps the guest at its next
// function entry or loop back-edge.
type epoch struct {
	current   atomic.Uint64
	deadline  uint64
	interrupt context.CancelFunc
}

func newEpoch(deadline uint64, interrupt context.CancelFunc) *epoch {
	return &epoch{deadline: deadline, interrupt: interrupt}
}

func (e *epoch) increment() {
	if e.current.Add(1) >= e.deadline {
		e.interrupt()
	}
}

// timeoutWatcher enforces the wall-clock budget of one session. It never
// touches another session's state.
type timeoutWatcher struct {
	timer    *time.Timer
	timedOut atomic.Bool
}

func startWatcher(d time.Duration, ep *epoch) *timeoutWatcher {
	w := &timeoutWatcher{}
	w.timer = time.AfterFunc(d, func() {
		w.timedOut.Store(true)
		for i := uint64(0); i <= ep.deadline; i++ {
			ep.increment()
		}
	})
	return w
}

// TimedOut reports whether the watcher fired. Only meaningful after the
// guest call has returned.
func (w *timeoutWatcher) TimedOut() bool {
	return w.timedOut.Load()
}

func (w *timeoutWatcher) Stop() {
	w.timer.Stop()
}
