// Package lease implements the action queue: exclusive, time-bounded
// ownership of discrete units of work, maintained via heartbeats and
// reclaimed automatically when a worker goes quiet.
package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vircadia/vircadia-world-sub011/internal/logger"
	"github.com/vircadia/vircadia-world-sub011/internal/logger/tag"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

// Queue grants and reclaims action leases. The atomicity of claim,
// heartbeat and terminal transitions lives in the ActionStore; the queue
// adds the expiry sweep loops and validation on top.
type Queue struct {
	store models.ActionStore

	mu      sync.Mutex
	stopped chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a lease queue over the given store.
func New(store models.ActionStore) *Queue {
	return &Queue{
		store:   store,
		stopped: make(chan struct{}),
	}
}

// Enqueue inserts a new PENDING action with an opaque payload. The producer
// cannot set status, claimant or heartbeat.
func (q *Queue) Enqueue(ctx context.Context, group string, payload json.RawMessage) (models.Action, error) {
	action := models.Action{
		ID:        uuid.NewString(),
		Group:     group,
		Status:    models.ActionPending,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := q.store.EnqueueAction(ctx, action); err != nil {
		return models.Action{}, fmt.Errorf("failed to enqueue action: %w", err)
	}
	logger.Debug(ctx, "Action enqueued",
		tag.Group(group),
		tag.Action(action.ID))
	return action, nil
}

// Claim takes exclusive ownership of the oldest PENDING action in the
// group. Returns (nil, nil) when the queue is empty; that is not an error.
func (q *Queue) Claim(ctx context.Context, group, workerID string) (*models.Action, error) {
	action, err := q.store.ClaimAction(ctx, group, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim action: %w", err)
	}
	if action != nil {
		logger.Debug(ctx, "Action claimed",
			tag.Group(group),
			tag.Action(action.ID),
			tag.Worker(workerID))
	}
	return action, nil
}

// Heartbeat refreshes the caller's lease. A models.ErrLostLease return is
// fatal for the caller's current unit of work: the claim was reassigned or
// expired underneath it, and it must stop mutating shared state.
func (q *Queue) Heartbeat(ctx context.Context, actionID, workerID string) error {
	return q.store.HeartbeatAction(ctx, actionID, workerID)
}

// Complete transitions the caller's action to COMPLETED.
func (q *Queue) Complete(ctx context.Context, actionID, workerID string) error {
	return q.finish(ctx, actionID, workerID, models.ActionCompleted)
}

// Fail transitions the caller's action to FAILED.
func (q *Queue) Fail(ctx context.Context, actionID, workerID string) error {
	return q.finish(ctx, actionID, workerID, models.ActionFailed)
}

// Reject transitions the caller's action to REJECTED.
func (q *Queue) Reject(ctx context.Context, actionID, workerID string) error {
	return q.finish(ctx, actionID, workerID, models.ActionRejected)
}

func (q *Queue) finish(ctx context.Context, actionID, workerID string, status models.ActionStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	if err := q.store.FinishAction(ctx, actionID, workerID, status); err != nil {
		return err
	}
	logger.Debug(ctx, "Action finished",
		tag.Action(actionID),
		tag.Worker(workerID),
		tag.Status(string(status)))
	return nil
}

// SweepExpired reclaims every IN_PROGRESS action in the group whose
// heartbeat is older than the group's abandonment threshold. This is the
// self-healing path for crashed or partitioned workers; no explicit release
// call exists or is needed.
func (q *Queue) SweepExpired(ctx context.Context, group models.SyncGroup) (int64, error) {
	cutoff := time.Now().Add(-group.AbandonAfter)
	expired, err := q.store.ExpireActions(ctx, group.Name, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale actions for %s: %w", group.Name, err)
	}
	if expired > 0 {
		logger.Info(ctx, "Expired abandoned actions",
			tag.Group(group.Name),
			tag.Count(expired))
	}
	return expired, nil
}

// PruneHistory trims terminal-status actions down to the group's configured
// retention count, independently per status, newest kept.
func (q *Queue) PruneHistory(ctx context.Context, group models.SyncGroup) (int64, error) {
	var total int64
	for _, status := range models.TerminalStatuses() {
		removed, err := q.store.PruneActions(ctx, group.Name, status, group.HistoryKeep)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s actions for %s: %w", status, group.Name, err)
		}
		total += removed
	}
	if total > 0 {
		logger.Debug(ctx, "Pruned action history",
			tag.Group(group.Name),
			tag.Count(total))
	}
	return total, nil
}

// Counts returns the number of actions per status for the group.
func (q *Queue) Counts(ctx context.Context, group string) (map[models.ActionStatus]int64, error) {
	return q.store.ActionCounts(ctx, group)
}

// Start launches one expiry sweep loop per group on the group's sweep
// interval. Sweep failures are logged and retried next cycle, never fatal.
func (q *Queue) Start(ctx context.Context, groups []models.SyncGroup) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for _, group := range groups {
		q.wg.Add(1)
		go func(group models.SyncGroup) {
			defer q.wg.Done()
			q.sweepLoop(ctx, group)
		}(group)
	}
}

// Stop terminates the sweep loops and waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	select {
	case <-q.stopped:
	default:
		close(q.stopped)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) sweepLoop(ctx context.Context, group models.SyncGroup) {
	ticker := time.NewTicker(group.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopped:
			return
		case <-ticker.C:
			if _, err := q.SweepExpired(ctx, group); err != nil {
				logger.Warn(ctx, "Expiry sweep failed",
					tag.Group(group.Name),
					tag.Error(err))
			}
		}
	}
}
