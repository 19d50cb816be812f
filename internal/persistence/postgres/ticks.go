package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func msFloatToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// Capture implements models.TickStore. The stored function snapshots the
// group's live entities into the ledger as the next tick in one
// transaction, and raises a pg_notify on the tick channel that is delivered
// once that transaction commits.
func (s *Store) Capture(ctx context.Context, group string) (*models.Tick, error) {
	tick := &models.Tick{Group: group}
	var durationMS float64

	err := s.pool.QueryRow(ctx, `
		SELECT number, started_at, ended_at, duration_ms,
			entity_count, script_count, asset_count, engine_delayed
		FROM capture_tick_state($1)`, group).Scan(
		&tick.Number,
		&tick.StartedAt,
		&tick.EndedAt,
		&durationMS,
		&tick.EntityCount,
		&tick.ScriptCount,
		&tick.AssetCount,
		&tick.EngineDelayed,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// P0001: raise_exception from the stored function (unknown group).
		if errors.As(err, &pgErr) && pgErr.Code == "P0001" {
			return nil, fmt.Errorf("%w: %s", models.ErrGroupNotFound, group)
		}
		return nil, fmt.Errorf("capture failed for %s: %w", group, err)
	}

	tick.Duration = msFloatToDuration(durationMS)
	return tick, nil
}

// AppendLocalTiming implements models.TickStore.
func (s *Store) AppendLocalTiming(ctx context.Context, group string, number int64, d time.Duration, delayed bool) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE ticks
		SET local_duration_ms = $3, local_delayed = $4
		WHERE group_name = $1 AND number = $2`,
		group, number, float64(d)/float64(time.Millisecond), delayed)
	if err != nil {
		return fmt.Errorf("failed to record local timing for %s tick %d: %w", group, number, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("tick %d not found for group %s", number, group)
	}
	return nil
}

// LatestTick implements models.TickStore.
func (s *Store) LatestTick(ctx context.Context, group string) (*models.Tick, error) {
	tick := &models.Tick{Group: group}
	var (
		durationMS      float64
		localDurationMS *float64
		localDelayed    *bool
	)
	err := s.pool.QueryRow(ctx, `
		SELECT number, started_at, ended_at, duration_ms,
			entity_count, script_count, asset_count, engine_delayed,
			local_duration_ms, local_delayed
		FROM ticks
		WHERE group_name = $1
		ORDER BY number DESC
		LIMIT 1`, group).Scan(
		&tick.Number,
		&tick.StartedAt,
		&tick.EndedAt,
		&durationMS,
		&tick.EntityCount,
		&tick.ScriptCount,
		&tick.AssetCount,
		&tick.EngineDelayed,
		&localDurationMS,
		&localDelayed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest tick for %s: %w", group, err)
	}

	tick.Duration = msFloatToDuration(durationMS)
	if localDurationMS != nil {
		tick.LocalDuration = msFloatToDuration(*localDurationMS)
	}
	if localDelayed != nil {
		tick.LocalDelayed = *localDelayed
	}
	return tick, nil
}

// LastTickBefore implements models.TickStore.
func (s *Store) LastTickBefore(ctx context.Context, group string, t time.Time) (int64, bool, error) {
	var number int64
	err := s.pool.QueryRow(ctx, `
		SELECT number FROM ticks
		WHERE group_name = $1 AND started_at < $2
		ORDER BY number DESC
		LIMIT 1`, group, t).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve tick boundary for %s: %w", group, err)
	}
	return number, true, nil
}

// DeleteTicksBefore implements models.TickStore.
func (s *Store) DeleteTicksBefore(ctx context.Context, group string, cutoff time.Time) (int64, error) {
	res, err := s.pool.Exec(ctx, `
		DELETE FROM ticks
		WHERE group_name = $1 AND started_at < $2`, group, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to trim ticks for %s: %w", group, err)
	}
	return res.RowsAffected(), nil
}
