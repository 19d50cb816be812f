package lease_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vircadia/vircadia-world-sub011/internal/lease"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
	"github.com/vircadia/vircadia-world-sub011/internal/persistence/memory"
)

func TestQueueLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := memory.NewEngine()
	defer engine.Close()
	queue := lease.New(engine)

	action, err := queue.Enqueue(ctx, "g", json.RawMessage(`{"op":"spawn"}`))
	require.NoError(t, err)
	require.NotEmpty(t, action.ID)
	require.Equal(t, models.ActionPending, action.Status)

	claimed, err := queue.Claim(ctx, "g", "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, action.ID, claimed.ID)
	require.Equal(t, models.ActionInProgress, claimed.Status)
	require.Equal(t, "w1", claimed.Claimant)
	require.NotNil(t, claimed.HeartbeatAt)

	require.NoError(t, queue.Heartbeat(ctx, claimed.ID, "w1"))
	require.NoError(t, queue.Complete(ctx, claimed.ID, "w1"))

	stored, ok := engine.GetAction(ctx, claimed.ID)
	require.True(t, ok)
	require.Equal(t, models.ActionCompleted, stored.Status)

	// An empty queue is not an error.
	claimed, err = queue.Claim(ctx, "g", "w1")
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestQueueClaimIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := memory.NewEngine()
	defer engine.Close()
	queue := lease.New(engine)

	const total = 50
	for n := 0; n < total; n++ {
		_, err := queue.Enqueue(ctx, "g", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]string)
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			workerID := string(rune('a' + worker))
			for {
				action, err := queue.Claim(ctx, "g", workerID)
				require.NoError(t, err)
				if action == nil {
					return
				}
				mu.Lock()
				_, dup := claimed[action.ID]
				claimed[action.ID] = workerID
				mu.Unlock()
				require.False(t, dup, "action %s granted twice", action.ID)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, claimed, total)
}

func TestQueueClaimOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	engine := memory.NewEngine(memory.WithNowFunc(func() time.Time { return now }))
	defer engine.Close()
	queue := lease.New(engine)

	// Enqueue directly with explicit creation times, oldest last.
	for i := 3; i >= 1; i-- {
		require.NoError(t, engine.EnqueueAction(ctx, models.Action{
			ID:        string(rune('0' + i)),
			Group:     "g",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	for _, want := range []string{"1", "2", "3"} {
		action, err := queue.Claim(ctx, "g", "w")
		require.NoError(t, err)
		require.NotNil(t, action)
		require.Equal(t, want, action.ID)
	}
}

func TestQueueExpirySweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// The engine clock sits 10s in the past, so the claim's heartbeat is
	// already past the 5s abandonment threshold measured from wall time.
	stale := time.Now().Add(-10 * time.Second)
	engine := memory.NewEngine(memory.WithNowFunc(func() time.Time { return stale }))
	defer engine.Close()
	queue := lease.New(engine)

	group := models.SyncGroup{Name: "g", AbandonAfter: 5 * time.Second}

	_, err := queue.Enqueue(ctx, "g", json.RawMessage(`{}`))
	require.NoError(t, err)
	action, err := queue.Claim(ctx, "g", "w1")
	require.NoError(t, err)
	require.NotNil(t, action)

	expired, err := queue.SweepExpired(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(1), expired)

	stored, ok := engine.GetAction(ctx, action.ID)
	require.True(t, ok)
	require.Equal(t, models.ActionExpired, stored.Status)
	require.Empty(t, stored.Claimant)

	// The original claimant's lease is gone for good.
	require.ErrorIs(t, queue.Heartbeat(ctx, action.ID, "w1"), models.ErrLostLease)
	require.ErrorIs(t, queue.Complete(ctx, action.ID, "w1"), models.ErrLostLease)

	// Nothing left to expire on the next pass.
	expired, err = queue.SweepExpired(ctx, group)
	require.NoError(t, err)
	require.Zero(t, expired)
}

func TestQueueFinishValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := memory.NewEngine()
	defer engine.Close()
	queue := lease.New(engine)

	_, err := queue.Enqueue(ctx, "g", json.RawMessage(`{}`))
	require.NoError(t, err)
	action, err := queue.Claim(ctx, "g", "w1")
	require.NoError(t, err)
	require.NotNil(t, action)

	// Only the claimant may finish.
	require.ErrorIs(t, queue.Fail(ctx, action.ID, "imposter"), models.ErrLostLease)
	require.NoError(t, queue.Fail(ctx, action.ID, "w1"))

	// Terminal states are final.
	require.ErrorIs(t, queue.Complete(ctx, action.ID, "w1"), models.ErrLostLease)
}

func TestQueuePruneHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	engine := memory.NewEngine(memory.WithNowFunc(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	defer engine.Close()
	queue := lease.New(engine)

	group := models.SyncGroup{Name: "g", HistoryKeep: 2}

	var ids []string
	for n := 0; n < 5; n++ {
		action, err := queue.Enqueue(ctx, "g", json.RawMessage(`{}`))
		require.NoError(t, err)
		claimed, err := queue.Claim(ctx, "g", "w1")
		require.NoError(t, err)
		require.NoError(t, queue.Complete(ctx, claimed.ID, "w1"))
		ids = append(ids, action.ID)
	}

	removed, err := queue.PruneHistory(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)

	// The two newest survive; the three oldest are gone.
	for _, id := range ids[:3] {
		_, ok := engine.GetAction(ctx, id)
		require.False(t, ok)
	}
	for _, id := range ids[3:] {
		stored, ok := engine.GetAction(ctx, id)
		require.True(t, ok)
		require.Equal(t, models.ActionCompleted, stored.Status)
	}

	counts, err := queue.Counts(ctx, "g")
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[models.ActionCompleted])
}
