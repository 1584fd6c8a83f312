package hid

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// Device errors.
var (
	// ErrNotOpened indicates an operation that needs an open device.
	ErrNotOpened = errors.New("device not opened")

	// ErrRemoved indicates the device has been unplugged.
	ErrRemoved = errors.New("device removed")
)

// ErrorName returns the symbolic errno name of err (EACCES, EBUSY, ...) or,
// when err carries no errno, its message.
func ErrorName(err error) string {
	if err == nil {
		return ""
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name := unix.ErrnoName(errno); name != "" {
			return name
		}
	}
	return err.Error()
}

// ErrorCode returns the raw errno value of err, or -1 when it has none.
func ErrorCode(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return -1
}

// IsRemovedError reports whether err means the device node is gone.
func IsRemovedError(err error) bool {
	return errors.Is(err, ErrRemoved) ||
		errors.Is(err, syscall.ENODEV) ||
		errors.Is(err, syscall.ENOENT)
}
