package hid

import (
	"sync"

	"github.com/google/uuid"
)

// Registry owns the live devices. Everything else holds a Ref, which stops
// resolving as soon as the device is removed from the registry.
type Registry struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]*Device
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[uuid.UUID]*Device)}
}

// Add registers d under a fresh id.
func (r *Registry) Add(d *Device) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	r.devices[id] = d
	r.mu.Unlock()
	return id
}

// Remove unregisters the device with id and returns it, or nil if it was not
// registered.
func (r *Registry) Remove(id uuid.UUID) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.devices[id]
	delete(r.devices, id)
	return d
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Ref returns a non-owning reference to the device with id.
func (r *Registry) Ref(id uuid.UUID) Ref {
	return Ref{registry: r, id: id}
}

func (r *Registry) lookup(id uuid.UUID) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Ref refers to a registered device without keeping it alive. The zero Ref
// never resolves.
type Ref struct {
	registry *Registry
	id       uuid.UUID
}

// ID returns the registry id the reference points at.
func (r Ref) ID() uuid.UUID {
	return r.id
}

// Lock resolves the reference. It must be called on every access: a device
// resolved once may be unregistered at any time afterwards.
func (r Ref) Lock() (*Device, bool) {
	if r.registry == nil {
		return nil, false
	}
	return r.registry.lookup(r.id)
}
