package settings

import (
	"time"

	"github.com/google/uuid"
)

// Logger receives the editor's and the stores' diagnostics. args are
// slog-style key/value pairs such as "role", roleID.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NewNopLogger returns a Logger that drops everything.
func NewNopLogger() Logger { return nopLogger{} }

// Clock stamps role and operation timestamps.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator names new roles and change records.
type IDGenerator interface {
	New() string
}

// UUIDGenerator hands out random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
