package hid

import (
	"time"

	evdev "github.com/holoplot/go-evdev"
)

// Event is one input event read from a device.
type Event struct {
	Time  time.Time
	Type  evdev.EvType
	Code  evdev.EvCode
	Value int32
}

// IsKey reports whether e is a key press, release or repeat.
func (e Event) IsKey() bool {
	return e.Type == evdev.EV_KEY
}

// Backend performs the blocking device I/O behind a Device. A Device only
// calls it from its run loop.
type Backend interface {
	Open() error
	Close() error

	// StartQueue starts reading input. deliver receives one frame per
	// SYN_REPORT; fail is called once if reading stops with an error. Both
	// are called from a reader goroutine.
	StartQueue(deliver func([]Event), fail func(error)) error
	StopQueue() error

	Name() string
}
