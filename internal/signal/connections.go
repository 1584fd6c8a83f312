package signal

import "sync"

// Connections collects subscriptions that are revoked together. The zero
// value is ready to use.
type Connections struct {
	mu    sync.Mutex
	conns []*Connection
}

// Add tracks c.
func (cs *Connections) Add(c *Connection) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.conns = append(cs.conns, c)
}

// Len returns the number of tracked connections, connected or not.
func (cs *Connections) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

// DisconnectAll revokes every tracked connection.
func (cs *Connections) DisconnectAll() {
	for _, c := range cs.snapshot() {
		c.Disconnect()
	}
}

// WaitDisconnectAll blocks until every tracked connection has been revoked,
// typically by a DisconnectAll scheduled on another goroutine.
func (cs *Connections) WaitDisconnectAll() {
	for _, c := range cs.snapshot() {
		<-c.Done()
	}
}

func (cs *Connections) snapshot() []*Connection {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*Connection, len(cs.conns))
	copy(out, cs.conns)
	return out
}
