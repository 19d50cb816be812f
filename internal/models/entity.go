package models

import (
	"context"
	"encoding/json"
	"time"
)

// EntityState is a snapshot of one entity's externally visible fields,
// tagged with the tick it belongs to. Immutable once written; removed only
// by retention sweeping.
type EntityState struct {
	Group      string          `json:"group"`
	EntityID   string          `json:"entityId"`
	TickNumber int64           `json:"tickNumber"`
	State      json.RawMessage `json:"state"`
}

// ChangeOp classifies a change event.
type ChangeOp string

const (
	ChangeCreated ChangeOp = "CREATED"
	ChangeUpdated ChangeOp = "UPDATED"
	ChangeDeleted ChangeOp = "DELETED"
)

// ChangeEvent is a derived, never-persisted entity-level change scoped to a
// half-open time window. State carries the entity's final state inside the
// window; it is nil for DELETED events.
type ChangeEvent struct {
	Op       ChangeOp        `json:"op"`
	EntityID string          `json:"entityId"`
	State    json.RawMessage `json:"state,omitempty"`
}

// EntityStore reads and trims the entity-state ledger written by captures.
type EntityStore interface {
	// StatesAt returns the full entity-state set recorded at the given tick,
	// keyed by entity id.
	StatesAt(ctx context.Context, group string, tick int64) (map[string]json.RawMessage, error)

	// DeleteStatesBefore removes entity states belonging to ticks whose
	// capture started before the cutoff, returning the number of rows removed.
	DeleteStatesBefore(ctx context.Context, group string, cutoff time.Time) (int64, error)
}
