// Package models defines the domain types shared across the service and
// the store interfaces the persistence implementations satisfy.
package models

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced across store implementations.
var (
	// ErrGroupNotFound is returned when an unknown sync group is referenced.
	ErrGroupNotFound = errors.New("sync group not found")
	// ErrLostLease is returned when a heartbeat or terminal transition is
	// attempted against an action the caller no longer owns. The caller must
	// abort its current unit of work.
	ErrLostLease = errors.New("action lease no longer held")
)

// SyncGroup is an independently scheduled partition of world state with its
// own tick cadence and retention parameters. Groups are loaded once at
// startup and are read-only for the process lifetime.
type SyncGroup struct {
	// Name uniquely identifies the group.
	Name string `json:"name"`
	// TickInterval is the cadence at which state captures run.
	TickInterval time.Duration `json:"tickInterval"`
	// SnapshotRetention is how long captured ticks and entity states are kept.
	SnapshotRetention time.Duration `json:"snapshotRetention"`
	// AbandonAfter is the heartbeat staleness threshold beyond which an
	// in-progress action is considered abandoned.
	AbandonAfter time.Duration `json:"abandonAfter"`
	// HistoryKeep is the number of most-recent actions retained per terminal
	// status.
	HistoryKeep int `json:"historyKeep"`
	// SweepInterval is the cadence of retention sweeps and expiry sweeps.
	SweepInterval time.Duration `json:"sweepInterval"`
}

// GroupStore persists the set of sync groups.
type GroupStore interface {
	// PutGroup inserts or updates a group definition.
	PutGroup(ctx context.Context, group SyncGroup) error
	// ListGroups returns all group definitions.
	ListGroups(ctx context.Context) ([]SyncGroup, error)
}
