package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vircadia/vircadia-world-sub011/internal/models"
	"github.com/vircadia/vircadia-world-sub011/internal/persistence/memory"
)

func newTestEngine(t *testing.T, opts ...memory.Option) *memory.Engine {
	t.Helper()
	engine := memory.NewEngine(opts...)
	t.Cleanup(engine.Close)
	require.NoError(t, engine.PutGroup(context.Background(), models.SyncGroup{
		Name:         "g",
		TickInterval: time.Second,
	}))
	return engine
}

func TestCaptureUnknownGroup(t *testing.T) {
	t.Parallel()
	engine := memory.NewEngine()
	defer engine.Close()

	_, err := engine.Capture(context.Background(), "nope")
	require.ErrorIs(t, err, models.ErrGroupNotFound)
}

func TestCaptureSnapshotIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := newTestEngine(t)

	engine.PutEntity(ctx, "g", "A", []byte(`{"v":1}`))
	tick, err := engine.Capture(ctx, "g")
	require.NoError(t, err)
	require.Equal(t, int64(1), tick.Number)
	require.Equal(t, 1, tick.EntityCount)

	// Later writes to the live table must not leak into the captured
	// snapshot.
	engine.PutEntity(ctx, "g", "A", []byte(`{"v":2}`))
	engine.PutEntity(ctx, "g", "B", []byte(`{"v":3}`))

	states, err := engine.StatesAt(ctx, "g", 1)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.JSONEq(t, `{"v":1}`, string(states["A"]))

	// Mutating a returned state must not corrupt the ledger either.
	states["A"][0] = 'x'
	states, err = engine.StatesAt(ctx, "g", 1)
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(states["A"]))
}

func TestCaptureNumbersAreSequential(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := newTestEngine(t)

	for want := int64(1); want <= 4; want++ {
		tick, err := engine.Capture(ctx, "g")
		require.NoError(t, err)
		require.Equal(t, want, tick.Number)
	}

	latest, err := engine.LatestTick(ctx, "g")
	require.NoError(t, err)
	require.Equal(t, int64(4), latest.Number)
}

func TestLastTickBeforeIsStrict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	now := base
	engine := newTestEngine(t, memory.WithNowFunc(func() time.Time { return now }))

	_, err := engine.Capture(ctx, "g") // tick 1 at base
	require.NoError(t, err)
	now = base.Add(time.Second)
	_, err = engine.Capture(ctx, "g") // tick 2 at base+1s
	require.NoError(t, err)

	// Exactly at a tick's start time the tick is excluded.
	_, found, err := engine.LastTickBefore(ctx, "g", base)
	require.NoError(t, err)
	require.False(t, found)

	number, found, err := engine.LastTickBefore(ctx, "g", base.Add(time.Second))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1), number)

	number, found, err = engine.LastTickBefore(ctx, "g", base.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(2), number)
}

func TestSubscribeReceivesCaptureNotices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := newTestEngine(t)

	ch, cancel, err := engine.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	_, err = engine.Capture(ctx, "g")
	require.NoError(t, err)
	_, err = engine.Capture(ctx, "g")
	require.NoError(t, err)

	for want := int64(1); want <= 2; want++ {
		select {
		case notice := <-ch:
			require.Equal(t, models.TickNotice{Group: "g", Number: want}, notice)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for tick notice")
		}
	}

	// Cancel closes the channel; further captures must not panic.
	cancel()
	_, err = engine.Capture(ctx, "g")
	require.NoError(t, err)
}
