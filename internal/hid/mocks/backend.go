// Package mocks provides testify mocks for the hid package.
package mocks

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/andresousadotpt/hidwatch/internal/hid"
)

// Backend is a mock hid.Backend. Name is answered without recording a call.
// StartQueue keeps the callbacks so tests can push input or read errors.
type Backend struct {
	mock.Mock

	name string

	mu      sync.Mutex
	deliver func([]hid.Event)
	fail    func(error)
}

// NewBackend creates a mock backend named name and asserts its expectations
// when the test ends.
func NewBackend(t interface {
	mock.TestingT
	Cleanup(func())
}, name string) *Backend {
	m := &Backend{name: name}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Open provides a mock function.
func (m *Backend) Open() error {
	return m.Called().Error(0)
}

// Close provides a mock function.
func (m *Backend) Close() error {
	return m.Called().Error(0)
}

// StartQueue provides a mock function.
func (m *Backend) StartQueue(deliver func([]hid.Event), fail func(error)) error {
	err := m.Called().Error(0)
	if err == nil {
		m.mu.Lock()
		m.deliver = deliver
		m.fail = fail
		m.mu.Unlock()
	}
	return err
}

// StopQueue provides a mock function.
func (m *Backend) StopQueue() error {
	return m.Called().Error(0)
}

// Name returns the configured name.
func (m *Backend) Name() string {
	return m.name
}

// Deliver pushes a frame through the callback from the last StartQueue. It
// reports false if the queue was never started.
func (m *Backend) Deliver(events []hid.Event) bool {
	m.mu.Lock()
	deliver := m.deliver
	m.mu.Unlock()
	if deliver == nil {
		return false
	}
	deliver(events)
	return true
}

// Fail reports a read error through the callback from the last StartQueue.
func (m *Backend) Fail(err error) bool {
	m.mu.Lock()
	fail := m.fail
	m.mu.Unlock()
	if fail == nil {
		return false
	}
	fail(err)
	return true
}

var _ hid.Backend = (*Backend)(nil)
