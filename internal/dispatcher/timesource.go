package dispatcher

import (
	"sync"
	"time"
)

// TimeSource drives the due times of scheduled tasks.
type TimeSource interface {
	Now() time.Time
	// Alarm returns a channel that receives once d has elapsed, and a stop
	// function that releases the alarm if it is no longer wanted.
	Alarm(d time.Duration) (<-chan time.Time, func())
}

// HardwareTimeSource reads the system clock.
type HardwareTimeSource struct{}

// Now returns time.Now, which carries a monotonic reading.
func (HardwareTimeSource) Now() time.Time { return time.Now() }

// Alarm wraps time.NewTimer.
func (HardwareTimeSource) Alarm(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// ManualTimeSource only moves when told to. Tests use it to step queues and
// timers through exact delays.
type ManualTimeSource struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*manualWaiter
}

type manualWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewManualTimeSource returns a source frozen at start.
func NewManualTimeSource(start time.Time) *ManualTimeSource {
	return &ManualTimeSource{now: start}
}

// Now returns the current manual time.
func (m *ManualTimeSource) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Alarm returns a channel that receives once the manual time reaches now+d.
// Stopping the alarm forgets it.
func (m *ManualTimeSource) Alarm(d time.Duration) (<-chan time.Time, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.now
		return ch, func() {}
	}
	w := &manualWaiter{deadline: m.now.Add(d), ch: ch}
	m.waiters = append(m.waiters, w)
	return ch, func() { m.stop(w) }
}

func (m *ManualTimeSource) stop(target *manualWaiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiters {
		if w == target {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d and releases every waiter whose
// deadline has been reached.
func (m *ManualTimeSource) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(m.now.Add(d))
}

// Set moves the clock to t. Moving backwards releases nothing.
func (m *ManualTimeSource) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(t)
}

func (m *ManualTimeSource) setLocked(t time.Time) {
	m.now = t
	pending := m.waiters[:0]
	for _, w := range m.waiters {
		if w.deadline.After(t) {
			pending = append(pending, w)
			continue
		}
		w.ch <- t
	}
	m.waiters = pending
}
