// Package postgres is the production persistence engine. The capture
// operation is a single stored function call, lease operations are atomic
// conditional updates, and completion notices arrive over LISTEN/NOTIFY.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

var (
	_ models.GroupStore  = (*Store)(nil)
	_ models.TickStore   = (*Store)(nil)
	_ models.EntityStore = (*Store)(nil)
	_ models.ActionStore = (*Store)(nil)
)

// Store implements every store interface over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// PutGroup implements models.GroupStore.
func (s *Store) PutGroup(ctx context.Context, group models.SyncGroup) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_groups (name, tick_interval_ms, snapshot_retention_ms,
			abandon_after_ms, history_keep, sweep_interval_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			tick_interval_ms = EXCLUDED.tick_interval_ms,
			snapshot_retention_ms = EXCLUDED.snapshot_retention_ms,
			abandon_after_ms = EXCLUDED.abandon_after_ms,
			history_keep = EXCLUDED.history_keep,
			sweep_interval_ms = EXCLUDED.sweep_interval_ms`,
		group.Name,
		group.TickInterval.Milliseconds(),
		group.SnapshotRetention.Milliseconds(),
		group.AbandonAfter.Milliseconds(),
		group.HistoryKeep,
		group.SweepInterval.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync group %s: %w", group.Name, err)
	}
	return nil
}

// ListGroups implements models.GroupStore.
func (s *Store) ListGroups(ctx context.Context) ([]models.SyncGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, tick_interval_ms, snapshot_retention_ms,
			abandon_after_ms, history_keep, sweep_interval_ms
		FROM sync_groups
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync groups: %w", err)
	}
	defer rows.Close()

	var groups []models.SyncGroup
	for rows.Next() {
		var g models.SyncGroup
		var tickMS, retainMS, abandonMS, sweepMS int64
		if err := rows.Scan(&g.Name, &tickMS, &retainMS, &abandonMS, &g.HistoryKeep, &sweepMS); err != nil {
			return nil, fmt.Errorf("failed to scan sync group: %w", err)
		}
		g.TickInterval = msToDuration(tickMS)
		g.SnapshotRetention = msToDuration(retainMS)
		g.AbandonAfter = msToDuration(abandonMS)
		g.SweepInterval = msToDuration(sweepMS)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
