// Package dispatcher provides per-object serial task queues and the timers
// that run on them.
//
// A Queue owns one goroutine. Tasks run one at a time, ordered by due time
// and then by submission order, so state touched only from tasks of a single
// queue needs no locking. Detach shuts a queue down: it stops accepting work,
// drops what is still pending, waits for the task in flight and then runs a
// final cleanup task on the queue goroutine before returning.
package dispatcher

import (
	"container/heap"
	"sync"
	"time"
)

// Queue is a serial task queue bound to a TimeSource.
type Queue struct {
	ts TimeSource

	mu       sync.Mutex
	tasks    taskHeap
	seq      uint64
	detached bool
	final    func()

	wake chan struct{}
	done chan struct{}
}

// NewQueue starts a queue goroutine driven by ts.
func NewQueue(ts TimeSource) *Queue {
	if ts == nil {
		ts = HardwareTimeSource{}
	}
	q := &Queue{
		ts:   ts,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue schedules fn to run as soon as possible. It returns false if the
// queue is detached and fn will never run.
func (q *Queue) Enqueue(fn func()) bool {
	return q.EnqueueAt(q.ts.Now(), fn)
}

// EnqueueAfter schedules fn to run once d has elapsed on the time source.
func (q *Queue) EnqueueAfter(d time.Duration, fn func()) bool {
	return q.EnqueueAt(q.ts.Now().Add(d), fn)
}

// EnqueueAt schedules fn to run at when. Tasks with equal due times run in
// submission order.
func (q *Queue) EnqueueAt(when time.Time, fn func()) bool {
	q.mu.Lock()
	if q.detached {
		q.mu.Unlock()
		return false
	}
	q.seq++
	heap.Push(&q.tasks, &task{when: when, seq: q.seq, fn: fn})
	q.mu.Unlock()

	q.notify()
	return true
}

// Sync runs fn on the queue and waits for it to finish. It returns false
// without running fn if the queue is detached. Calling Sync from a task of
// the same queue deadlocks.
func (q *Queue) Sync(fn func()) bool {
	ran := make(chan struct{})
	ok := q.Enqueue(func() {
		defer close(ran)
		if fn != nil {
			fn()
		}
	})
	if !ok {
		return false
	}
	select {
	case <-ran:
		return true
	case <-q.done:
		// Dropped by a concurrent Detach.
		return false
	}
}

// Detach stops the queue. Pending tasks are discarded, the task in flight (if
// any) finishes, then final runs on the queue goroutine. Detach returns once
// the goroutine has exited. Later calls wait for the first one to complete.
// Calling Detach from a task of the same queue deadlocks.
func (q *Queue) Detach(final func()) {
	q.mu.Lock()
	if q.detached {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.detached = true
	q.final = final
	q.tasks = nil
	q.mu.Unlock()

	q.notify()
	<-q.done
}

// Detached reports whether Detach has been requested.
func (q *Queue) Detached() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.detached
}

// Done is closed after the queue goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		if q.detached {
			final := q.final
			q.final = nil
			q.mu.Unlock()
			if final != nil {
				final()
			}
			return
		}

		var (
			wait <-chan time.Time
			stop func()
		)
		if len(q.tasks) > 0 {
			next := q.tasks[0]
			now := q.ts.Now()
			if !next.when.After(now) {
				heap.Pop(&q.tasks)
				q.mu.Unlock()
				next.fn()
				continue
			}
			wait, stop = q.ts.Alarm(next.when.Sub(now))
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-wait:
		}
		if stop != nil {
			stop()
		}
	}
}

type task struct {
	when time.Time
	seq  uint64
	fn   func()
}

// taskHeap orders tasks by due time, then submission order.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
