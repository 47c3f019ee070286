package toggle

import (
	"sync"
	"time"
)

// Timer runs a callback at a point in time. Scheduling again replaces any
// pending callback.
type Timer interface {
	ScheduleAt(at time.Time, fn func())
}

// AfterFuncTimer is a Timer backed by time.AfterFunc. Callbacks run on
// their own goroutine.
type AfterFuncTimer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// NewAfterFuncTimer returns an idle AfterFuncTimer.
func NewAfterFuncTimer() *AfterFuncTimer {
	return &AfterFuncTimer{}
}

// ScheduleAt cancels the pending callback, if any, and runs fn at at.
// A time in the past fires immediately. After Stop it does nothing.
func (a *AfterFuncTimer) ScheduleAt(at time.Time, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if a.t != nil {
		a.t.Stop()
	}
	a.t = time.AfterFunc(time.Until(at), fn)
}

// Stop cancels the pending callback and rejects further schedules.
func (a *AfterFuncTimer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.t != nil {
		a.t.Stop()
		a.t = nil
	}
}
