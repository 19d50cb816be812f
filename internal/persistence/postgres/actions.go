package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

const actionColumns = `id, group_name, status, COALESCE(claimant, ''), heartbeat_at, payload, created_at`

// EnqueueAction implements models.ActionStore. Status, claimant and
// heartbeat are forced server-side; producers only supply the payload.
func (s *Store) EnqueueAction(ctx context.Context, action models.Action) error {
	createdAt := action.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO world_actions (id, group_name, status, payload, created_at)
		VALUES ($1, $2, 'PENDING', $3, $4)`,
		action.ID, action.Group, action.Payload, createdAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue action %s: %w", action.ID, err)
	}
	return nil
}

// ClaimAction implements models.ActionStore. SKIP LOCKED makes concurrent
// claimants pick distinct rows instead of blocking or double-claiming.
func (s *Store) ClaimAction(ctx context.Context, group, workerID string) (*models.Action, error) {
	action := &models.Action{}
	err := s.pool.QueryRow(ctx, `
		UPDATE world_actions
		SET status = 'IN_PROGRESS', claimant = $2, heartbeat_at = now()
		WHERE id = (
			SELECT id FROM world_actions
			WHERE group_name = $1 AND status = 'PENDING'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+actionColumns, group, workerID).Scan(
		&action.ID,
		&action.Group,
		&action.Status,
		&action.Claimant,
		&action.HeartbeatAt,
		&action.Payload,
		&action.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Empty queue is a normal outcome, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim action for %s: %w", group, err)
	}
	return action, nil
}

// HeartbeatAction implements models.ActionStore.
func (s *Store) HeartbeatAction(ctx context.Context, actionID, workerID string) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE world_actions
		SET heartbeat_at = now()
		WHERE id = $1 AND claimant = $2 AND status = 'IN_PROGRESS'`,
		actionID, workerID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat action %s: %w", actionID, err)
	}
	if res.RowsAffected() == 0 {
		return models.ErrLostLease
	}
	return nil
}

// FinishAction implements models.ActionStore.
func (s *Store) FinishAction(ctx context.Context, actionID, workerID string, status models.ActionStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	res, err := s.pool.Exec(ctx, `
		UPDATE world_actions
		SET status = $3
		WHERE id = $1 AND claimant = $2 AND status = 'IN_PROGRESS'`,
		actionID, workerID, string(status))
	if err != nil {
		return fmt.Errorf("failed to finish action %s: %w", actionID, err)
	}
	if res.RowsAffected() == 0 {
		return models.ErrLostLease
	}
	return nil
}

// ExpireActions implements models.ActionStore.
func (s *Store) ExpireActions(ctx context.Context, group string, cutoff time.Time) (int64, error) {
	res, err := s.pool.Exec(ctx, `
		UPDATE world_actions
		SET status = 'EXPIRED', claimant = NULL
		WHERE group_name = $1
		  AND status = 'IN_PROGRESS'
		  AND (heartbeat_at IS NULL OR heartbeat_at < $2)`,
		group, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire actions for %s: %w", group, err)
	}
	return res.RowsAffected(), nil
}

// PruneActions implements models.ActionStore.
func (s *Store) PruneActions(ctx context.Context, group string, status models.ActionStatus, keep int) (int64, error) {
	res, err := s.pool.Exec(ctx, `
		DELETE FROM world_actions
		WHERE id IN (
			SELECT id FROM world_actions
			WHERE group_name = $1 AND status = $2
			ORDER BY created_at DESC, id
			OFFSET $3
		)`, group, string(status), keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune %s actions for %s: %w", status, group, err)
	}
	return res.RowsAffected(), nil
}

// ActionCounts implements models.ActionStore.
func (s *Store) ActionCounts(ctx context.Context, group string) (map[models.ActionStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*)
		FROM world_actions
		WHERE group_name = $1
		GROUP BY status`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions for %s: %w", group, err)
	}
	defer rows.Close()

	counts := make(map[models.ActionStatus]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		counts[models.ActionStatus(status)] = count
	}
	return counts, rows.Err()
}
