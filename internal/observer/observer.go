// Package observer keeps one input device open for as long as it is
// wanted.
//
// An Observer retries opening its device until it succeeds, the device goes
// away or observation is cancelled, then starts input and reports the device
// as observed. Everything the Observer does runs on its own serial queue;
// device callbacks, which arrive on the device's run loop, are re-queued
// before they touch Observer state.
//
// Observation states:
//
//	Idle       no retry timer
//	Observing  retry timer opening the device every RetryInterval
//	Observed   device open and scheduled; the timer stays armed but idle
//
// Close is the release operation: it cancels observation, releases the
// device and revokes every device subscription before returning.
package observer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/andresousadotpt/hidwatch/internal/dispatcher"
	"github.com/andresousadotpt/hidwatch/internal/hid"
	"github.com/andresousadotpt/hidwatch/internal/logfilter"
	"github.com/andresousadotpt/hidwatch/internal/signal"
)

// DefaultRetryInterval is the delay between open attempts after the first.
const DefaultRetryInterval = 3000 * time.Millisecond

// Observer drives one device through open retries and reports whether it is
// usable.
type Observer struct {
	// DeviceObserved fires on the transition into the observed state.
	DeviceObserved signal.Signal[struct{}]
	// DeviceUnobserved fires whenever the device reports it closed, whether
	// or not it was observed. Consumers must tolerate repeats.
	DeviceUnobserved signal.Signal[struct{}]

	queue       *dispatcher.Queue
	device      hid.Ref
	connections signal.Connections
	logger      *slog.Logger
	interval    time.Duration

	// Owned by queue.
	observed bool
	filter   *logfilter.Unique
	timer    *dispatcher.Timer
}

// Option configures an Observer.
type Option func(*Observer)

// WithRetryInterval sets the delay between open attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLogger sets the logger for open and close failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an Observer for the device behind ref and subscribes to its
// lifecycle signals. Observation starts with Observe.
func New(ts dispatcher.TimeSource, ref hid.Ref, opts ...Option) *Observer {
	o := &Observer{
		queue:    dispatcher.NewQueue(ts),
		device:   ref,
		logger:   slog.Default(),
		interval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.filter = logfilter.NewUnique(o.logger)

	if dev, ok := ref.Lock(); ok {
		o.connections.Add(dev.Opened.Connect(func(struct{}) {
			o.queue.Enqueue(o.handleOpened)
		}))
		o.connections.Add(dev.OpenFailed.Connect(func(err error) {
			o.queue.Enqueue(func() { o.handleOpenFailed(err) })
		}))
		o.connections.Add(dev.Closed.Connect(func(struct{}) {
			o.queue.Enqueue(o.handleClosed)
		}))
		o.connections.Add(dev.CloseFailed.Connect(func(err error) {
			o.queue.Enqueue(func() { o.handleCloseFailed(err) })
		}))
	}

	return o
}

// Device returns the reference the Observer was created with.
func (o *Observer) Device() hid.Ref {
	return o.device
}

// Observe starts an observation session. It does nothing while a session is
// active.
func (o *Observer) Observe() {
	o.queue.Enqueue(func() {
		if o.timer != nil {
			return
		}
		o.filter.Reset()
		o.timer = dispatcher.NewTimer(o.queue, dispatcher.FixedBackoff(o.interval), dispatcher.ModeRepeat, o.retry)
	})
}

// Unobserve ends the observation session, releasing the device if it was
// observed.
func (o *Observer) Unobserve() {
	o.queue.Enqueue(o.unobserve)
}

// Close ends observation and revokes the device subscriptions. No device
// callback runs once Close has returned. Close must not be called from a
// DeviceObserved or DeviceUnobserved slot.
func (o *Observer) Close() {
	o.queue.Detach(o.unobserve)

	if dev, ok := o.device.Lock(); ok {
		dev.Revoke(&o.connections)
	} else {
		// The device is gone, so nothing can emit any more.
		o.connections.DisconnectAll()
	}
	o.connections.WaitDisconnectAll()
}

func (o *Observer) retry() {
	if o.observed {
		return
	}
	if dev, ok := o.device.Lock(); ok && !dev.Removed() {
		dev.AsyncOpen()
		return
	}
	// The device is gone. Its removal will destroy this Observer.
	o.timer.Cancel()
}

func (o *Observer) unobserve() {
	if o.timer == nil {
		return
	}
	o.timer.Cancel()
	o.timer = nil

	if o.observed {
		if dev, ok := o.device.Lock(); ok {
			dev.AsyncUnschedule()
			dev.AsyncQueueStop()
			dev.AsyncClose()
		}
		o.observed = false
	}
}

func (o *Observer) handleOpened() {
	dev, ok := o.device.Lock()
	if !ok {
		return
	}
	if o.timer == nil {
		// Opened after the session ended; hand the device back.
		dev.AsyncClose()
		return
	}
	if o.observed {
		return
	}

	o.observed = true
	o.DeviceObserved.Emit(struct{}{})

	dev.AsyncQueueStart()
	dev.AsyncSchedule()
}

func (o *Observer) handleOpenFailed(err error) {
	dev, ok := o.device.Lock()
	if !ok {
		return
	}
	o.filter.Error(fmt.Sprintf("device open error: %s (%d) %s", hid.ErrorName(err), hid.ErrorCode(err), dev.NameForLog()))
}

func (o *Observer) handleClosed() {
	if _, ok := o.device.Lock(); !ok {
		return
	}
	o.observed = false
	o.DeviceUnobserved.Emit(struct{}{})
}

func (o *Observer) handleCloseFailed(err error) {
	dev, ok := o.device.Lock()
	if !ok {
		return
	}
	o.filter.Error(fmt.Sprintf("device close error: %s (%d) %s", hid.ErrorName(err), hid.ErrorCode(err), dev.NameForLog()))

	o.observed = false
	o.DeviceUnobserved.Emit(struct{}{})
}
