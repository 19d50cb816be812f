package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

// fakeClock drives the loop timers manually.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

// Advance moves the clock forward and fires every due timer.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.f()
	}
}

// stubTickStore controls capture timing from the test.
type stubTickStore struct {
	mu       sync.Mutex
	next     int64
	failures int

	started chan struct{} // receives one token per capture entry
	proceed chan struct{} // captures block here until released
	calls   int
}

func newStubTickStore() *stubTickStore {
	return &stubTickStore{
		started: make(chan struct{}, 64),
		proceed: make(chan struct{}),
	}
}

func (s *stubTickStore) Capture(_ context.Context, group string) (*models.Tick, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	s.started <- struct{}{}
	<-s.proceed

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("capture exploded")
	}
	s.next++
	now := time.Now()
	return &models.Tick{
		Group:     group,
		Number:    s.next,
		StartedAt: now,
		EndedAt:   now,
		Duration:  time.Millisecond,
	}, nil
}

func (s *stubTickStore) captureCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubTickStore) AppendLocalTiming(context.Context, string, int64, time.Duration, bool) error {
	return nil
}

func (s *stubTickStore) LatestTick(context.Context, string) (*models.Tick, error) {
	return nil, nil
}

func (s *stubTickStore) LastTickBefore(context.Context, string, time.Time) (int64, bool, error) {
	return 0, false, nil
}

func (s *stubTickStore) DeleteTicksBefore(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func testGroup() models.SyncGroup {
	return models.SyncGroup{
		Name:         "g",
		TickInterval: 100 * time.Millisecond,
	}
}

func waitForState(t *testing.T, loop *groupLoop, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return loop.status().State == want.String()
	}, time.Second, time.Millisecond)
}

func TestGroupLoopCoalescing(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newStubTickStore()
	loop := newGroupLoop(testGroup(), store, clock, 50*time.Millisecond)
	defer loop.stop()

	ctx := context.Background()
	loop.arm(ctx, 100*time.Millisecond)
	require.Equal(t, StateScheduled.String(), loop.status().State)

	clock.Advance(100 * time.Millisecond)
	<-store.started
	require.True(t, loop.status().Capturing)

	// Three more deadlines elapse while the capture is in flight.
	clock.Advance(100 * time.Millisecond)
	clock.Advance(100 * time.Millisecond)
	clock.Advance(100 * time.Millisecond)
	require.True(t, loop.status().PendingFollowUp)

	// Completing the slow capture triggers exactly one follow-up.
	store.proceed <- struct{}{}
	<-store.started
	store.proceed <- struct{}{}

	waitForState(t, loop, StateScheduled)
	require.Equal(t, 2, store.captureCalls())
}

func TestGroupLoopSingleCaptureInFlight(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newStubTickStore()
	loop := newGroupLoop(testGroup(), store, clock, 50*time.Millisecond)
	defer loop.stop()

	ctx := context.Background()
	loop.arm(ctx, 100*time.Millisecond)
	clock.Advance(100 * time.Millisecond)
	<-store.started

	// Hammer the timer path concurrently while the capture is stuck.
	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.timerFired(ctx)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, store.captureCalls())
	require.True(t, loop.status().PendingFollowUp)

	store.proceed <- struct{}{}
	<-store.started
	store.proceed <- struct{}{}

	waitForState(t, loop, StateScheduled)
	require.Equal(t, 2, store.captureCalls())
}

func TestGroupLoopNotificationWinsRace(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newStubTickStore()
	loop := newGroupLoop(testGroup(), store, clock, 50*time.Millisecond)
	defer loop.stop()

	ctx := context.Background()
	loop.arm(ctx, 100*time.Millisecond)
	clock.Advance(100 * time.Millisecond)
	<-store.started

	// The engine's notification arrives before the synchronous return.
	loop.completeFromNotice(ctx, models.TickNotice{Group: "g", Number: 1})
	require.Equal(t, StateScheduled.String(), loop.status().State)

	// The synchronous return is now the second, stale signal; it must not
	// double-schedule, but it still records the tick for introspection
	// since only the return value carries the timing fields.
	store.proceed <- struct{}{}
	waitForState(t, loop, StateScheduled)
	require.Equal(t, 1, store.captureCalls())
	require.Eventually(t, func() bool {
		status := loop.status()
		return status.LastTick != nil && status.LastTick.Number == 1
	}, time.Second, time.Millisecond)

	// A replayed notification for an already-completed tick is a no-op.
	loop.completeFromNotice(ctx, models.TickNotice{Group: "g", Number: 1})
	require.Equal(t, StateScheduled.String(), loop.status().State)
}

func TestGroupLoopRetriesOnConstantBackoff(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newStubTickStore()
	store.failures = 1
	loop := newGroupLoop(testGroup(), store, clock, 50*time.Millisecond)
	defer loop.stop()

	ctx := context.Background()
	loop.arm(ctx, 100*time.Millisecond)
	clock.Advance(100 * time.Millisecond)
	<-store.started
	store.proceed <- struct{}{}

	// The failed capture returns the loop to Scheduled with a retry timer.
	waitForState(t, loop, StateScheduled)
	require.Equal(t, 1, store.captureCalls())

	// The retry deadline (50ms) comes before the next cadence deadline.
	clock.Advance(50 * time.Millisecond)
	<-store.started
	store.proceed <- struct{}{}

	waitForState(t, loop, StateScheduled)
	require.Equal(t, 2, store.captureCalls())
	require.Equal(t, int64(1), loop.status().LastTick.Number)
}

func TestGroupLoopRetryKeepsSingleCadence(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newStubTickStore()
	store.failures = 1
	loop := newGroupLoop(testGroup(), store, clock, 50*time.Millisecond)
	defer loop.stop()

	ctx := context.Background()
	loop.arm(ctx, 100*time.Millisecond)

	clock.Advance(100 * time.Millisecond)
	<-store.started
	store.proceed <- struct{}{} // fails
	waitForState(t, loop, StateScheduled)

	clock.Advance(50 * time.Millisecond) // retry deadline
	<-store.started
	store.proceed <- struct{}{}
	waitForState(t, loop, StateScheduled)
	require.Equal(t, 2, store.captureCalls())

	// The retry must not leave a second timer chain behind: three more
	// cadence intervals yield exactly one capture each.
	for n := 0; n < 3; n++ {
		clock.Advance(100 * time.Millisecond)
		<-store.started
		store.proceed <- struct{}{}
		waitForState(t, loop, StateScheduled)
	}
	require.Equal(t, 5, store.captureCalls())
}

func TestGroupLoopMonotonicGaplessNumbers(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newStubTickStore()
	loop := newGroupLoop(testGroup(), store, clock, 50*time.Millisecond)
	defer loop.stop()

	ctx := context.Background()
	loop.arm(ctx, 100*time.Millisecond)

	for want := int64(1); want <= 5; want++ {
		clock.Advance(100 * time.Millisecond)
		<-store.started
		store.proceed <- struct{}{}
		require.Eventually(t, func() bool {
			status := loop.status()
			return status.LastTick != nil && status.LastTick.Number == want
		}, time.Second, time.Millisecond)
	}
	require.Equal(t, 5, store.captureCalls())
}
