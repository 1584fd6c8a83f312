// Package signal implements typed notifications with individually revocable
// subscriptions.
//
// A Signal does not decide which goroutine its slots run on; they run on
// whatever goroutine calls Emit. Publishers in this module emit from their own
// dispatcher queue, and subscribers that need to stop receiving calls before
// releasing their state must disconnect on that same queue (see
// hid.Device.Revoke).
package signal

import "sync"

// Signal delivers values of type T to connected slots in connection order.
// The zero value is ready to use.
type Signal[T any] struct {
	mu    sync.Mutex
	slots []*slot[T]
}

type slot[T any] struct {
	fn   func(T)
	conn *Connection
}

// Connect subscribes fn and returns the connection that revokes it.
func (s *Signal[T]) Connect(fn func(T)) *Connection {
	c := newConnection()
	sl := &slot[T]{fn: fn, conn: c}
	c.disconnect = func() { s.remove(sl) }

	s.mu.Lock()
	s.slots = append(s.slots, sl)
	s.mu.Unlock()
	return c
}

// Emit calls every connected slot with v. Slots disconnected while Emit runs
// are skipped.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	slots := make([]*slot[T], len(s.slots))
	copy(slots, s.slots)
	s.mu.Unlock()

	for _, sl := range slots {
		if !sl.conn.Connected() {
			continue
		}
		sl.fn(v)
	}
}

// Len returns the number of connected slots.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Signal[T]) remove(target *slot[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sl := range s.slots {
		if sl == target {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return
		}
	}
}

// Connection is one subscription to a Signal.
type Connection struct {
	mu         sync.Mutex
	connected  bool
	disconnect func()
	done       chan struct{}
}

func newConnection() *Connection {
	return &Connection{connected: true, done: make(chan struct{})}
}

// Disconnect revokes the subscription. It is idempotent.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	disconnect := c.disconnect
	c.mu.Unlock()

	if disconnect != nil {
		disconnect()
	}
	close(c.done)
}

// Connected reports whether the subscription is still active.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Done is closed once Disconnect has completed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}
