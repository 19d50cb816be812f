// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"time"

	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

// Config is the fully resolved service configuration.
type Config struct {
	Global    Global
	Server    Server
	Database  Database
	Scheduler Scheduler
	Groups    []models.SyncGroup

	// ConfigUsed is the path of the configuration file that was read, if any.
	ConfigUsed string
	// Warnings collected while resolving the configuration.
	Warnings []string
}

// Global holds process-wide settings.
type Global struct {
	Debug     bool
	LogFormat string // "text" or "json"
	Quiet     bool
}

// Server holds the introspection HTTP server settings. The surface is meant
// for local or trusted callers, so the default bind address is loopback.
type Server struct {
	Host string
	Port int
}

// Database selects and configures the persistence engine.
type Database struct {
	// Driver is "postgres" or "memory".
	Driver string
	// DSN is the postgres connection string; ignored by the memory driver.
	DSN string
}

// Scheduler holds settings shared by every group's tick loop.
type Scheduler struct {
	// CaptureRetryInterval is the constant backoff applied after a failed
	// capture before the next attempt.
	CaptureRetryInterval time.Duration
}

// Defaults applied to group definitions that omit a field.
const (
	DefaultTickInterval      = 500 * time.Millisecond
	DefaultSnapshotRetention = time.Hour
	DefaultAbandonAfter      = 5 * time.Second
	DefaultHistoryKeep       = 100
	DefaultSweepInterval     = 30 * time.Second

	DefaultCaptureRetryInterval = 500 * time.Millisecond
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	seen := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("sync group with empty name")
		}
		if _, dup := seen[g.Name]; dup {
			return fmt.Errorf("duplicate sync group %q", g.Name)
		}
		seen[g.Name] = struct{}{}
		if g.TickInterval <= 0 {
			return fmt.Errorf("sync group %q: tick interval must be positive", g.Name)
		}
		if g.SweepInterval <= 0 {
			return fmt.Errorf("sync group %q: sweep interval must be positive", g.Name)
		}
		if g.AbandonAfter <= 0 {
			return fmt.Errorf("sync group %q: abandon threshold must be positive", g.Name)
		}
		if g.HistoryKeep < 0 {
			return fmt.Errorf("sync group %q: history keep must not be negative", g.Name)
		}
	}
	return nil
}
