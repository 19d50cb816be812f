// Package tag provides standardized tag functions for structured logging.
//
// Use these functions instead of raw strings to ensure consistent and
// type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// String creates a tag with an arbitrary key.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Group creates a tag for sync group names.
func Group(name string) slog.Attr {
	return slog.String("group", name)
}

// Tick creates a tag for tick sequence numbers.
func Tick(n int64) slog.Attr {
	return slog.Int64("tick", n)
}

// Action creates a tag for action ids.
func Action(id string) slog.Attr {
	return slog.String("action", id)
}

// Worker creates a tag for worker ids.
func Worker(id string) slog.Attr {
	return slog.String("worker", id)
}

// Status creates a tag for action status values.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Duration creates a tag for measured durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Interval creates a tag for configured intervals.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// Count creates a tag for row/item counts.
func Count(n int64) slog.Attr {
	return slog.Int64("count", n)
}

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// Addr creates a tag for network addresses.
func Addr(addr string) slog.Attr {
	return slog.String("addr", addr)
}
