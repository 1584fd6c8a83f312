// Package manager owns one observer per matched input device.
package manager

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/andresousadotpt/hidwatch/internal/dispatcher"
	"github.com/andresousadotpt/hidwatch/internal/hid"
	"github.com/andresousadotpt/hidwatch/internal/observer"
	"github.com/andresousadotpt/hidwatch/internal/signal"
)

// Pipeline consumes devices while they are usable.
type Pipeline interface {
	// Attach is called when dev becomes observed.
	Attach(dev *hid.Device)
	// Detach is called whenever dev stops being usable. It may be called
	// for a device that was never attached, or more than once.
	Detach(dev *hid.Device)
}

// BackendFunc builds the backend for the device node at path.
type BackendFunc func(path string) hid.Backend

// Options configure a Manager.
type Options struct {
	NewBackend    BackendFunc
	Pipeline      Pipeline
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// DeviceInfo describes a managed device.
type DeviceInfo struct {
	ID       uuid.UUID
	Path     string
	Name     string
	Observed bool
}

type entry struct {
	id       uuid.UUID
	name     string
	device   *hid.Device
	observer *observer.Observer
	conns    signal.Connections
	observed bool
}

// Manager creates an Observer for every matched device and destroys it when
// the device is terminated. All bookkeeping runs on the manager's queue.
type Manager struct {
	ts       dispatcher.TimeSource
	queue    *dispatcher.Queue
	registry *hid.Registry
	opts     Options
	logger   *slog.Logger

	// Owned by queue.
	entries map[string]*entry
}

// New creates a manager.
func New(ts dispatcher.TimeSource, opts Options) *Manager {
	if ts == nil {
		ts = dispatcher.HardwareTimeSource{}
	}
	if opts.NewBackend == nil {
		opts.NewBackend = func(path string) hid.Backend {
			return hid.NewEvdevBackend(path, false)
		}
	}
	if opts.Pipeline == nil {
		opts.Pipeline = nopPipeline{}
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = observer.DefaultRetryInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		ts:       ts,
		queue:    dispatcher.NewQueue(ts),
		registry: hid.NewRegistry(),
		opts:     opts,
		logger:   logger,
		entries:  make(map[string]*entry),
	}
}

// DeviceMatched starts observing the device at path. Paths already managed
// are ignored.
func (m *Manager) DeviceMatched(path, name string) {
	m.queue.Enqueue(func() {
		if _, ok := m.entries[path]; ok {
			return
		}

		dev := hid.NewDevice(m.ts, path, m.opts.NewBackend(path), m.logger)
		id := m.registry.Add(dev)
		obs := observer.New(m.ts, m.registry.Ref(id),
			observer.WithRetryInterval(m.opts.RetryInterval),
			observer.WithLogger(m.logger.With("device", name)),
		)

		e := &entry{id: id, name: name, device: dev, observer: obs}
		e.conns.Add(obs.DeviceObserved.Connect(func(struct{}) {
			m.queue.Enqueue(func() { m.handleObserved(path, e) })
		}))
		e.conns.Add(obs.DeviceUnobserved.Connect(func(struct{}) {
			m.queue.Enqueue(func() { m.handleUnobserved(path, e) })
		}))
		m.entries[path] = e

		m.logger.Info("device matched", "path", path, "device", name)
		obs.Observe()
	})
}

// DeviceTerminated stops observing the device at path and releases it.
func (m *Manager) DeviceTerminated(path string) {
	m.queue.Enqueue(func() {
		e, ok := m.entries[path]
		if !ok {
			return
		}
		delete(m.entries, path)
		e.device.SetRemoved()
		m.teardown(e)
		m.logger.Info("device terminated", "path", path, "device", e.name)
	})
}

// Devices returns the managed devices sorted by path.
func (m *Manager) Devices() []DeviceInfo {
	var out []DeviceInfo
	m.queue.Sync(func() {
		for path, e := range m.entries {
			out = append(out, DeviceInfo{ID: e.id, Path: path, Name: e.name, Observed: e.observed})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Close releases every device and stops the manager.
func (m *Manager) Close() {
	m.queue.Detach(func() {
		paths := make([]string, 0, len(m.entries))
		for path := range m.entries {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			m.teardown(m.entries[path])
			delete(m.entries, path)
		}
	})
}

func (m *Manager) handleObserved(path string, e *entry) {
	if m.entries[path] != e || e.observed {
		return
	}
	e.observed = true
	m.logger.Info("device observed", "device", e.device.NameForLog())
	m.opts.Pipeline.Attach(e.device)
}

func (m *Manager) handleUnobserved(path string, e *entry) {
	if m.entries[path] != e {
		return
	}
	if e.observed {
		m.logger.Info("device unobserved", "device", e.device.NameForLog())
	}
	e.observed = false
	m.opts.Pipeline.Detach(e.device)
}

// teardown destroys the observer before the device so that the observer
// releases the device while it still resolves.
func (m *Manager) teardown(e *entry) {
	e.conns.DisconnectAll()
	e.observer.Close()
	m.opts.Pipeline.Detach(e.device)
	m.registry.Remove(e.id)
	e.device.Terminate()
}

type nopPipeline struct{}

func (nopPipeline) Attach(*hid.Device) {}
func (nopPipeline) Detach(*hid.Device) {}
