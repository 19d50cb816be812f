package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vircadia/vircadia-world-sub011/internal/lease"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
	"github.com/vircadia/vircadia-world-sub011/internal/persistence/memory"
	"github.com/vircadia/vircadia-world-sub011/internal/sweeper"
)

func TestSweepOnceTrimsRetentionWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// The engine clock is steered relative to wall time so the cutoff, which
	// is computed from time.Now, lands between the two ticks.
	now := time.Now().Add(-2 * time.Hour)
	engine := memory.NewEngine(memory.WithNowFunc(func() time.Time { return now }))
	defer engine.Close()

	group := models.SyncGroup{
		Name:              "g",
		TickInterval:      time.Second,
		SnapshotRetention: time.Hour,
		HistoryKeep:       100,
	}
	require.NoError(t, engine.PutGroup(ctx, group))

	engine.PutEntity(ctx, "g", "A", []byte(`{"v":1}`))
	_, err := engine.Capture(ctx, "g") // tick 1, two hours old
	require.NoError(t, err)

	now = time.Now().Add(-10 * time.Minute)
	_, err = engine.Capture(ctx, "g") // tick 2, inside the window
	require.NoError(t, err)

	queue := lease.New(engine)
	s := sweeper.New(engine, engine, queue)
	s.SweepOnce(ctx, group)

	ticks := engine.Ticks(ctx, "g")
	require.Len(t, ticks, 1)
	require.Equal(t, int64(2), ticks[0].Number)

	// Tick 1's snapshot is gone, tick 2's survives.
	states, err := engine.StatesAt(ctx, "g", 1)
	require.NoError(t, err)
	require.Empty(t, states)
	states, err = engine.StatesAt(ctx, "g", 2)
	require.NoError(t, err)
	require.Len(t, states, 1)
}

func TestSweepOnceIncludesActionHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine := memory.NewEngine()
	defer engine.Close()
	queue := lease.New(engine)

	group := models.SyncGroup{
		Name:              "g",
		SnapshotRetention: time.Hour,
		HistoryKeep:       1,
	}

	for n := 0; n < 3; n++ {
		_, err := queue.Enqueue(ctx, "g", []byte(`{}`))
		require.NoError(t, err)
		claimed, err := queue.Claim(ctx, "g", "w")
		require.NoError(t, err)
		require.NoError(t, queue.Complete(ctx, claimed.ID, "w"))
	}

	s := sweeper.New(engine, engine, queue)
	s.SweepOnce(ctx, group)

	counts, err := queue.Counts(ctx, "g")
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[models.ActionCompleted])
}
