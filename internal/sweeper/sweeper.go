// Package sweeper trims the historical ledgers: entity states and ticks
// older than each group's snapshot retention window, and terminal action
// history beyond the configured per-status count. Pure housekeeping;
// failures are logged and retried on the next cycle.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/vircadia/vircadia-world-sub011/internal/lease"
	"github.com/vircadia/vircadia-world-sub011/internal/logger"
	"github.com/vircadia/vircadia-world-sub011/internal/logger/tag"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

// Sweeper runs one retention loop per sync group.
type Sweeper struct {
	ticks    models.TickStore
	entities models.EntityStore
	queue    *lease.Queue

	mu      sync.Mutex
	stopped chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a sweeper over the snapshot ledger and the lease queue.
func New(ticks models.TickStore, entities models.EntityStore, queue *lease.Queue) *Sweeper {
	return &Sweeper{
		ticks:    ticks,
		entities: entities,
		queue:    queue,
		stopped:  make(chan struct{}),
	}
}

// Start launches the retention loops. Each runs on its group's sweep
// interval until Stop or context cancellation.
func (s *Sweeper) Start(ctx context.Context, groups []models.SyncGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, group := range groups {
		s.wg.Add(1)
		go func(group models.SyncGroup) {
			defer s.wg.Done()
			s.sweepLoop(ctx, group)
		}(group)
	}
}

// Stop terminates the loops and waits for them to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sweeper) sweepLoop(ctx context.Context, group models.SyncGroup) {
	ticker := time.NewTicker(group.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-ticker.C:
			s.SweepOnce(ctx, group)
		}
	}
}

// SweepOnce performs one retention pass for the group. Errors are logged
// at warn level and left for the next cycle.
func (s *Sweeper) SweepOnce(ctx context.Context, group models.SyncGroup) {
	cutoff := time.Now().Add(-group.SnapshotRetention)

	states, err := s.entities.DeleteStatesBefore(ctx, group.Name, cutoff)
	if err != nil {
		logger.Warn(ctx, "Failed to trim entity states",
			tag.Group(group.Name),
			tag.Error(err))
	} else if states > 0 {
		logger.Debug(ctx, "Trimmed entity states",
			tag.Group(group.Name),
			tag.Count(states))
	}

	ticks, err := s.ticks.DeleteTicksBefore(ctx, group.Name, cutoff)
	if err != nil {
		logger.Warn(ctx, "Failed to trim tick history",
			tag.Group(group.Name),
			tag.Error(err))
	} else if ticks > 0 {
		logger.Debug(ctx, "Trimmed tick history",
			tag.Group(group.Name),
			tag.Count(ticks))
	}

	if _, err := s.queue.PruneHistory(ctx, group); err != nil {
		logger.Warn(ctx, "Failed to prune action history",
			tag.Group(group.Name),
			tag.Error(err))
	}
}
