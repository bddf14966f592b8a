package timer

import (
	"sync"
	"time"

	"github.com/mohamedkhairy/market-rules/internal/models"
)

// Timer fires a callback when its clock reaches the scheduled time.
// It is driven only by clock ticks, so it behaves the same on live and
// simulated clocks. The callback runs on the ticking goroutine, outside
// the timer lock, and may reschedule or stop the timer.
type Timer struct {
	clock    models.Clock
	callback func()

	mu       sync.Mutex
	due      time.Time
	period   time.Duration
	started  bool
	disposed bool
	cancel   func()
}

// New creates an unscheduled timer
func New(clock models.Clock, callback func()) *Timer {
	if clock == nil {
		panic("clock cannot be nil")
	}
	if callback == nil {
		panic("callback cannot be nil")
	}

	return &Timer{clock: clock, callback: callback}
}

// Interval makes the timer periodic, first firing d from now
func (t *Timer) Interval(d time.Duration) *Timer {
	return t.Every(t.clock.Now().Add(d), d)
}

// Every makes the timer periodic, first firing at first
func (t *Timer) Every(first time.Time, period time.Duration) *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.due = first
	t.period = period
	return t
}

// At makes the timer fire once at at
func (t *Timer) At(at time.Time) *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.due = at
	t.period = 0
	return t
}

// Start arms the timer
func (t *Timer) Start() *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return t
	}
	t.started = true
	if t.cancel == nil {
		t.cancel = t.clock.OnTick(t.onTick)
	}
	return t
}

// Stop disarms the timer without releasing its clock subscription
func (t *Timer) Stop() *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = false
	return t
}

// Dispose stops the timer and releases its clock subscription
func (t *Timer) Dispose() {
	t.mu.Lock()
	t.started = false
	t.disposed = true
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// IsStarted reports whether the timer is armed
func (t *Timer) IsStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Due returns the next scheduled fire time
func (t *Timer) Due() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.due
}

func (t *Timer) onTick(now time.Time) {
	t.mu.Lock()
	if !t.started || t.disposed || now.Before(t.due) {
		t.mu.Unlock()
		return
	}

	if t.period > 0 {
		// a coarse tick that skipped whole periods fires once
		skipped := now.Sub(t.due)/t.period + 1
		t.due = t.due.Add(skipped * t.period)
	} else {
		t.started = false
	}
	t.mu.Unlock()

	t.callback()
}
