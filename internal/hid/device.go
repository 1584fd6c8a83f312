// Package hid models one input device and its open/close/queue lifecycle.
//
// Every request on a Device is asynchronous: it is queued on the device's own
// run loop and its outcome is reported through the lifecycle signals, which
// are emitted from that run loop.
package hid

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/andresousadotpt/hidwatch/internal/dispatcher"
	"github.com/andresousadotpt/hidwatch/internal/logfilter"
	"github.com/andresousadotpt/hidwatch/internal/signal"
)

// Device is one physical or virtual input device.
type Device struct {
	// Opened fires after a successful open.
	Opened signal.Signal[struct{}]
	// OpenFailed fires when an open attempt fails.
	OpenFailed signal.Signal[error]
	// Closed fires after a successful close.
	Closed signal.Signal[struct{}]
	// CloseFailed fires when closing reports an error. The device is
	// considered closed anyway.
	CloseFailed signal.Signal[error]
	// Values delivers input frames while the device is scheduled.
	Values signal.Signal[[]Event]

	path    string
	backend Backend
	runLoop *dispatcher.Queue
	logger  *slog.Logger
	// readLog keeps a device that fails the same way on every reopen to
	// one line per distinct failure.
	readLog *logfilter.Unique

	removed atomic.Bool

	// Owned by the run loop.
	opened       bool
	queueStarted bool
	scheduled    bool
	// readers counts StartQueue calls so that a late error from a stopped
	// reader is ignored.
	readers uint64
}

// NewDevice creates a device for the node at path and starts its run loop.
func NewDevice(ts dispatcher.TimeSource, path string, backend Backend, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("path", path)
	return &Device{
		path:    path,
		backend: backend,
		runLoop: dispatcher.NewQueue(ts),
		logger:  logger,
		readLog: logfilter.NewUnique(logger),
	}
}

// Path returns the device node path.
func (d *Device) Path() string {
	return d.path
}

// NameForLog returns a display name that identifies the device in log lines.
func (d *Device) NameForLog() string {
	name := d.backend.Name()
	if name == "" || name == filepath.Base(d.path) {
		return d.path
	}
	return fmt.Sprintf("%s (%s)", name, d.path)
}

// Removed reports whether the device has been unplugged.
func (d *Device) Removed() bool {
	return d.removed.Load()
}

// SetRemoved marks the device as unplugged.
func (d *Device) SetRemoved() {
	d.removed.Store(true)
}

// RunLoop returns the queue the device's signals are emitted from.
func (d *Device) RunLoop() *dispatcher.Queue {
	return d.runLoop
}

// AsyncOpen opens the device. Opening an opened device does nothing.
func (d *Device) AsyncOpen() {
	d.runLoop.Enqueue(func() {
		if d.opened {
			return
		}
		if d.Removed() {
			d.OpenFailed.Emit(ErrRemoved)
			return
		}
		if err := d.backend.Open(); err != nil {
			d.OpenFailed.Emit(err)
			return
		}
		d.opened = true
		d.Opened.Emit(struct{}{})
	})
}

// AsyncClose stops input and closes the device. Closing a device that is not
// open does nothing, so no Closed fires without a preceding Opened.
func (d *Device) AsyncClose() {
	d.runLoop.Enqueue(d.close)
}

// AsyncQueueStart starts reading input from an open device.
func (d *Device) AsyncQueueStart() {
	d.runLoop.Enqueue(func() {
		if !d.opened || d.queueStarted {
			return
		}
		d.readers++
		reader := d.readers
		fail := func(err error) { d.fail(reader, err) }
		if err := d.backend.StartQueue(d.deliver, fail); err != nil {
			d.logger.Error("queue start failed", "error", err)
			return
		}
		d.queueStarted = true
	})
}

// AsyncQueueStop stops reading input.
func (d *Device) AsyncQueueStop() {
	d.runLoop.Enqueue(func() {
		d.stopQueue()
	})
}

// AsyncSchedule starts emitting Values for queued input.
func (d *Device) AsyncSchedule() {
	d.runLoop.Enqueue(func() {
		if !d.opened {
			return
		}
		d.scheduled = true
	})
}

// AsyncUnschedule stops emitting Values.
func (d *Device) AsyncUnschedule() {
	d.runLoop.Enqueue(func() {
		d.scheduled = false
	})
}

// Revoke disconnects cs on the run loop, so that no slot in cs is running or
// will run once Revoke returns. If the run loop has already stopped, cs is
// disconnected directly. Revoke must not be called from the run loop.
func (d *Device) Revoke(cs *signal.Connections) {
	if !d.runLoop.Sync(cs.DisconnectAll) {
		<-d.runLoop.Done()
		cs.DisconnectAll()
	}
}

// Terminate releases the device and stops its run loop. Pending requests are
// dropped and no further signals fire.
func (d *Device) Terminate() {
	d.runLoop.Detach(func() {
		if !d.opened {
			return
		}
		if err := d.release(); err != nil {
			d.logger.Warn("close on terminate failed", "error", err)
		}
	})
}

// release unschedules, stops queueing and closes the backend. The device
// counts as closed afterwards even when the backend reports an error: the
// descriptor is gone either way.
func (d *Device) release() error {
	d.scheduled = false
	d.stopQueue()
	d.opened = false
	return d.backend.Close()
}

func (d *Device) stopQueue() {
	if !d.queueStarted {
		return
	}
	d.queueStarted = false
	if err := d.backend.StopQueue(); err != nil {
		d.logger.Warn("queue stop failed", "error", err)
	}
}

func (d *Device) deliver(events []Event) {
	d.runLoop.Enqueue(func() {
		if !d.scheduled {
			return
		}
		d.Values.Emit(events)
	})
}

// fail handles a reader that stopped with err. The device is closed so that
// its observer sees it go away and, unless it was unplugged, reopens it.
func (d *Device) fail(reader uint64, err error) {
	d.runLoop.Enqueue(func() {
		if reader != d.readers || !d.queueStarted {
			return
		}
		d.queueStarted = false
		if IsRemovedError(err) {
			d.SetRemoved()
			d.readLog.Info("device disappeared while reading")
		} else {
			d.readLog.Warn(fmt.Sprintf("read failed: %v", err))
		}
		d.close()
	})
}

func (d *Device) close() {
	if !d.opened {
		return
	}
	if err := d.release(); err != nil {
		d.CloseFailed.Emit(err)
		return
	}
	d.Closed.Emit(struct{}{})
}
