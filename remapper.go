package main

import (
	"log/slog"
	"sync"

	evdev "github.com/holoplot/go-evdev"

	"github.com/andresousadotpt/hidwatch/internal/hid"
	"github.com/andresousadotpt/hidwatch/internal/signal"
)

// KeySink receives remapped key transitions. uinput.Keyboard satisfies it.
type KeySink interface {
	KeyDown(key int) error
	KeyUp(key int) error
}

// Remapper forwards key input of observed devices through a remap table to a
// virtual keyboard. It implements manager.Pipeline.
//
// Without a sink the Remapper only logs key input at debug level; devices
// are then not grabbed and their input reaches the system unchanged.
type Remapper struct {
	sink   KeySink
	logger *slog.Logger

	mu       sync.Mutex
	table    RemapTable
	attached map[*hid.Device]*attachment
}

type attachment struct {
	conns signal.Connections
	// held maps a pressed source key to the key posted for it, so the
	// release matches the press even if the table changed in between.
	held map[evdev.EvCode]evdev.EvCode
}

// NewRemapper creates a Remapper. sink may be nil.
func NewRemapper(table RemapTable, sink KeySink, logger *slog.Logger) *Remapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remapper{
		sink:     sink,
		logger:   logger,
		table:    table,
		attached: make(map[*hid.Device]*attachment),
	}
}

// SetTable replaces the remap table. Keys already held keep their mapping
// until released.
func (r *Remapper) SetTable(table RemapTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = table
}

// Attach starts forwarding input from dev.
func (r *Remapper) Attach(dev *hid.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.attached[dev]; ok {
		return
	}
	a := &attachment{held: make(map[evdev.EvCode]evdev.EvCode)}
	a.conns.Add(dev.Values.Connect(func(events []hid.Event) {
		r.handle(dev, a, events)
	}))
	r.attached[dev] = a
}

// Detach stops forwarding input from dev and releases every key still held
// on it.
func (r *Remapper) Detach(dev *hid.Device) {
	r.mu.Lock()
	a, ok := r.attached[dev]
	delete(r.attached, dev)
	r.mu.Unlock()
	if !ok {
		return
	}

	dev.Revoke(&a.conns)

	r.mu.Lock()
	defer r.mu.Unlock()
	for src, dst := range a.held {
		r.keyUp(dst)
		delete(a.held, src)
	}
}

// Attached returns the number of devices being forwarded.
func (r *Remapper) Attached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attached)
}

func (r *Remapper) handle(dev *hid.Device, a *attachment, events []hid.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ev := range events {
		if !ev.IsKey() {
			continue
		}
		switch ev.Value {
		case 1:
			if _, down := a.held[ev.Code]; down {
				continue
			}
			dst := r.table.Lookup(ev.Code)
			a.held[ev.Code] = dst
			r.logger.Debug("key down", "device", dev.NameForLog(), "code", uint16(ev.Code), "posted", uint16(dst))
			r.keyDown(dst)
		case 0:
			dst, down := a.held[ev.Code]
			if !down {
				continue
			}
			delete(a.held, ev.Code)
			r.logger.Debug("key up", "device", dev.NameForLog(), "code", uint16(ev.Code), "posted", uint16(dst))
			r.keyUp(dst)
		}
		// Autorepeat (2) is generated by the virtual keyboard itself.
	}
}

func (r *Remapper) keyDown(code evdev.EvCode) {
	if r.sink == nil {
		return
	}
	if err := r.sink.KeyDown(int(code)); err != nil {
		r.logger.Warn("virtual key down failed", "code", uint16(code), "error", err)
	}
}

func (r *Remapper) keyUp(code evdev.EvCode) {
	if r.sink == nil {
		return
	}
	if err := r.sink.KeyUp(int(code)); err != nil {
		r.logger.Warn("virtual key up failed", "code", uint16(code), "error", err)
	}
}
