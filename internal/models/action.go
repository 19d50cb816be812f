package models

import (
	"context"
	"encoding/json"
	"time"
)

// ActionStatus is the lifecycle status of a queued action.
type ActionStatus string

const (
	ActionPending    ActionStatus = "PENDING"
	ActionInProgress ActionStatus = "IN_PROGRESS"
	ActionCompleted  ActionStatus = "COMPLETED"
	ActionFailed     ActionStatus = "FAILED"
	ActionRejected   ActionStatus = "REJECTED"
	ActionExpired    ActionStatus = "EXPIRED"
)

// Terminal reports whether the status is a terminal one.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionCompleted, ActionFailed, ActionRejected, ActionExpired:
		return true
	default:
		return false
	}
}

// TerminalStatuses returns all terminal statuses, in a fixed order.
func TerminalStatuses() []ActionStatus {
	return []ActionStatus{ActionCompleted, ActionFailed, ActionRejected, ActionExpired}
}

// Action is a discrete unit of work owned by at most one worker at a time.
// The payload is opaque to this core. Status and claimant are mutated only
// through the lease queue; producers insert PENDING actions and nothing else.
type Action struct {
	ID          string          `json:"id"`
	Group       string          `json:"group"`
	Status      ActionStatus    `json:"status"`
	Claimant    string          `json:"claimant,omitempty"`
	HeartbeatAt *time.Time      `json:"heartbeatAt,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ActionStore persists actions and implements the atomic conditional
// updates leases depend on. Claim, heartbeat and terminal transitions must
// be check-and-set on (status, claimant) so that two workers can never both
// believe they hold the same lease.
type ActionStore interface {
	// EnqueueAction inserts a new PENDING action.
	EnqueueAction(ctx context.Context, action Action) error

	// ClaimAction atomically claims the oldest PENDING action for the
	// worker, transitioning it to IN_PROGRESS with a fresh heartbeat.
	// Returns (nil, nil) when no action is eligible; that is not an error.
	ClaimAction(ctx context.Context, group, workerID string) (*Action, error)

	// HeartbeatAction refreshes the heartbeat of an IN_PROGRESS action
	// still claimed by workerID. Returns ErrLostLease otherwise.
	HeartbeatAction(ctx context.Context, actionID, workerID string) error

	// FinishAction transitions an IN_PROGRESS action still claimed by
	// workerID to the given terminal status. Returns ErrLostLease when the
	// ownership check fails.
	FinishAction(ctx context.Context, actionID, workerID string, status ActionStatus) error

	// ExpireActions transitions every IN_PROGRESS action whose heartbeat is
	// older than the cutoff to EXPIRED, clearing the claimant. Returns the
	// number of actions expired.
	ExpireActions(ctx context.Context, group string, cutoff time.Time) (int64, error)

	// PruneActions keeps only the most recently created keep actions with
	// the given terminal status and deletes the remainder, returning the
	// number deleted.
	PruneActions(ctx context.Context, group string, status ActionStatus, keep int) (int64, error)

	// ActionCounts returns the number of actions per status for the group.
	ActionCounts(ctx context.Context, group string) (map[ActionStatus]int64, error)
}
