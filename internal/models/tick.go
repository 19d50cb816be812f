package models

import (
	"context"
	"time"
)

// Tick is one discrete, sequence-numbered capture of a sync group's state.
// A tick row is written exactly once by the capture transaction; the
// scheduler appends its own timing fields after the transaction commits.
type Tick struct {
	Group     string        `json:"group"`
	Number    int64         `json:"number"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Duration  time.Duration `json:"duration"`

	// Counts of records processed by the capture transaction.
	EntityCount int `json:"entityCount"`
	ScriptCount int `json:"scriptCount"`
	AssetCount  int `json:"assetCount"`

	// EngineDelayed is computed by the persistence engine: the capture
	// transaction took longer than the group's tick interval.
	EngineDelayed bool `json:"engineDelayed"`

	// LocalDuration and LocalDelayed are computed by the scheduler from
	// wall-clock time around the whole capture round trip, including
	// network and queueing cost. They are diagnostics independent of the
	// engine-reported duration: an engine-side delay means the snapshot is
	// slow, a local delay means the group is falling behind the clock.
	LocalDuration time.Duration `json:"localDuration"`
	LocalDelayed  bool          `json:"localDelayed"`
}

// Delayed reports whether either delay signal fired. Both underlying flags
// remain exposed individually.
func (t *Tick) Delayed() bool {
	return t.EngineDelayed || t.LocalDelayed
}

// TickNotice is the payload of a capture-completion notification published
// by the persistence engine after the capture transaction commits.
type TickNotice struct {
	Group  string `json:"group"`
	Number int64  `json:"number"`
}

// TickStore is the boundary to the persistence engine's tick ledger. Capture
// is the atomic snapshot operation; everything else reads or trims the
// ledger it produces.
type TickStore interface {
	// Capture atomically snapshots the group's current world state into the
	// ledger as the next tick. Executed as a single transaction; completion
	// is additionally announced on the notifier channel.
	Capture(ctx context.Context, group string) (*Tick, error)

	// AppendLocalTiming records the scheduler-side duration and delay flag
	// on an already-committed tick row.
	AppendLocalTiming(ctx context.Context, group string, number int64, d time.Duration, delayed bool) error

	// LatestTick returns the most recent tick for the group, or nil if the
	// group has never been captured.
	LatestTick(ctx context.Context, group string) (*Tick, error)

	// LastTickBefore returns the number of the last tick whose capture
	// started strictly before t. ok is false when no such tick exists.
	LastTickBefore(ctx context.Context, group string, t time.Time) (number int64, ok bool, err error)

	// DeleteTicksBefore removes ticks whose capture started before the
	// cutoff, returning the number of rows removed.
	DeleteTicksBefore(ctx context.Context, group string, cutoff time.Time) (int64, error)
}

// TickNotifier delivers capture-completion notices. The channel is closed
// when the subscription ends; the returned func cancels the subscription.
type TickNotifier interface {
	Subscribe(ctx context.Context) (<-chan TickNotice, func(), error)
}
