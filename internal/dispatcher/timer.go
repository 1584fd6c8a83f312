package dispatcher

import (
	"sync"
	"time"
)

// Mode selects whether a Timer fires once or keeps firing.
type Mode uint8

const (
	// ModeOnce fires a single time.
	ModeOnce Mode = iota
	// ModeRepeat fires until cancelled.
	ModeRepeat
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeOnce:
		return "once"
	case ModeRepeat:
		return "repeat"
	default:
		return "unknown"
	}
}

// IntervalFunc returns the delay before fire number count (0-based).
type IntervalFunc func(count int) time.Duration

// FixedBackoff fires immediately the first time and after interval every
// time after that.
func FixedBackoff(interval time.Duration) IntervalFunc {
	return func(count int) time.Duration {
		if count == 0 {
			return 0
		}
		return interval
	}
}

// Timer fires a callback on a Queue on a schedule computed from the number of
// prior fires. Once cancelled it never fires again and cannot be restarted.
type Timer struct {
	queue    *Queue
	interval IntervalFunc
	mode     Mode
	fn       func()

	mu        sync.Mutex
	count     int
	cancelled bool
}

// NewTimer creates a timer and schedules its first fire.
func NewTimer(q *Queue, interval IntervalFunc, mode Mode, fn func()) *Timer {
	t := &Timer{
		queue:    q,
		interval: interval,
		mode:     mode,
		fn:       fn,
	}
	t.mu.Lock()
	t.scheduleLocked()
	t.mu.Unlock()
	return t
}

// Cancel stops all future fires. It is safe to call from the timer callback
// and from any goroutine.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

// Cancelled reports whether Cancel has been called.
func (t *Timer) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Count returns the number of fires so far.
func (t *Timer) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *Timer) scheduleLocked() {
	if !t.queue.EnqueueAfter(t.interval(t.count), t.fire) {
		t.cancelled = true
	}
}

func (t *Timer) fire() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.count++
	t.mu.Unlock()

	t.fn()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	if t.mode != ModeRepeat {
		t.cancelled = true
		return
	}
	t.scheduleLocked()
}
