package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// errAlreadyRunning is returned by lockSingleInstance when another process
// holds the pid file.
var errAlreadyRunning = errors.New("another process is running")

// pidLock is a held pid file.
type pidLock struct {
	f *os.File
}

// lockSingleInstance takes an exclusive lock on path and writes the current
// pid to it. The lock is held until Release or process exit.
func lockSingleInstance(path string) (*pidLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errAlreadyRunning
		}
		return nil, fmt.Errorf("lock pid file: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &pidLock{f: f}, nil
}

// Release unlocks and removes the pid file.
func (l *pidLock) Release() error {
	name := l.f.Name()
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if err := l.f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

// pidDirectory is /run for root and $XDG_RUNTIME_DIR otherwise.
func pidDirectory() string {
	if unix.Getuid() != 0 {
		if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
			return filepath.Join(d, "hidwatch")
		}
	}
	return "/run/hidwatch"
}
