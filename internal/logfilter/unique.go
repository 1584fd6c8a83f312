// Package logfilter suppresses repeated log lines from retry loops.
package logfilter

import (
	"context"
	"log/slog"
	"sync"
)

// Unique drops a message identical to the previous one it logged, at any
// level, until Reset is called. It keeps a retry loop that fails the same
// way every few seconds down to one line per session.
type Unique struct {
	logger *slog.Logger

	mu   sync.Mutex
	last string
	seen bool
}

// NewUnique returns a filter writing to logger, or to slog.Default when
// logger is nil.
func NewUnique(logger *slog.Logger) *Unique {
	if logger == nil {
		logger = slog.Default()
	}
	return &Unique{logger: logger}
}

// Error logs msg at error level unless it repeats the previous message.
func (u *Unique) Error(msg string, args ...any) {
	u.log(slog.LevelError, msg, args...)
}

// Warn logs msg at warn level unless it repeats the previous message.
func (u *Unique) Warn(msg string, args ...any) {
	u.log(slog.LevelWarn, msg, args...)
}

// Info logs msg at info level unless it repeats the previous message.
func (u *Unique) Info(msg string, args ...any) {
	u.log(slog.LevelInfo, msg, args...)
}

// Reset forgets the previous message so the next one is always logged.
func (u *Unique) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.last = ""
	u.seen = false
}

// Only msg takes part in the comparison; args are attached to the line.
func (u *Unique) log(level slog.Level, msg string, args ...any) {
	u.mu.Lock()
	if u.seen && u.last == msg {
		u.mu.Unlock()
		return
	}
	u.last = msg
	u.seen = true
	u.mu.Unlock()

	u.logger.Log(context.Background(), level, msg, args...)
}
