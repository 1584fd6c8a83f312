package hid

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	evdev "github.com/holoplot/go-evdev"
)

// EvdevBackend reads a /dev/input/event* node.
type EvdevBackend struct {
	path string
	grab bool

	mu   sync.Mutex
	dev  *evdev.InputDevice
	name string
	stop chan struct{}
}

// NewEvdevBackend returns a backend for path. With grab set, an open device
// is grabbed exclusively so its input reaches no other reader.
func NewEvdevBackend(path string, grab bool) *EvdevBackend {
	return &EvdevBackend{path: path, grab: grab}
}

// Open opens (and optionally grabs) the device node.
func (b *EvdevBackend) Open() error {
	dev, err := evdev.Open(b.path)
	if err != nil {
		return err
	}
	if b.grab {
		if err := dev.Grab(); err != nil {
			dev.Close()
			return fmt.Errorf("grab: %w", err)
		}
	}
	name, _ := dev.Name()

	b.mu.Lock()
	b.dev = dev
	if name != "" {
		b.name = name
	}
	b.mu.Unlock()
	return nil
}

// Close stops reading and closes the node.
func (b *EvdevBackend) Close() error {
	b.mu.Lock()
	dev := b.dev
	b.dev = nil
	b.stopLocked()
	b.mu.Unlock()

	if dev == nil {
		return ErrNotOpened
	}
	if b.grab {
		dev.Ungrab()
	}
	return dev.Close()
}

// StartQueue starts a reader goroutine.
func (b *EvdevBackend) StartQueue(deliver func([]Event), fail func(error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dev == nil {
		return ErrNotOpened
	}
	b.stopLocked()
	stop := make(chan struct{})
	b.stop = stop

	go b.read(b.dev, stop, deliver, fail)
	return nil
}

// StopQueue tells the reader goroutine to discard input and exit. A reader
// blocked in a read exits with the next event or when the node is closed.
func (b *EvdevBackend) StopQueue() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	return nil
}

// Name returns the kernel device name once known, else the node's base name.
func (b *EvdevBackend) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.name != "" {
		return b.name
	}
	return filepath.Base(b.path)
}

func (b *EvdevBackend) stopLocked() {
	if b.stop != nil {
		close(b.stop)
		b.stop = nil
	}
}

func (b *EvdevBackend) read(dev *evdev.InputDevice, stop <-chan struct{}, deliver func([]Event), fail func(error)) {
	var frame []Event
	for {
		ev, err := dev.ReadOne()

		select {
		case <-stop:
			return
		default:
		}

		if err != nil {
			fail(err)
			return
		}

		sec, nsec := ev.Time.Unix()
		frame = append(frame, Event{
			Time:  time.Unix(sec, nsec),
			Type:  ev.Type,
			Code:  ev.Code,
			Value: ev.Value,
		})
		if ev.Type == evdev.EV_SYN && ev.Code == evdev.SYN_REPORT {
			deliver(frame)
			frame = nil
		}
	}
}
