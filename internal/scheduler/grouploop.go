package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/vircadia/vircadia-world-sub011/internal/backoff"
	"github.com/vircadia/vircadia-world-sub011/internal/logger"
	"github.com/vircadia/vircadia-world-sub011/internal/logger/tag"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

// groupLoop is the per-group state machine. All transitions happen under
// mu. The cadence timer re-arms itself at every deadline, so deadlines keep
// elapsing while a capture is slow; firings that land during an in-flight
// capture coalesce into a single pending follow-up.
//
// Completion is idempotent: the synchronous capture return and the
// out-of-band notification both funnel into guarded transitions keyed by
// the generation counter and the last completed tick number, so whichever
// signal arrives first wins and the other is a no-op.
type groupLoop struct {
	group   models.SyncGroup
	ticks   models.TickStore
	clock   Clock
	retrier backoff.Retrier

	mu         sync.Mutex
	state      State
	gen        uint64
	timer      Timer // cadence timer, re-armed at each deadline
	retryTimer Timer // one-shot, armed after a failed capture
	stopped    bool
	lastNumber int64
	lastTick   *models.Tick
}

func newGroupLoop(group models.SyncGroup, ticks models.TickStore, clock Clock, retryInterval time.Duration) *groupLoop {
	return &groupLoop{
		group:   group,
		ticks:   ticks,
		clock:   clock,
		retrier: backoff.NewRetrier(backoff.NewConstantBackoffPolicy(retryInterval)),
		state:   StateIdle,
	}
}

// arm transitions Idle into Scheduled with the first cadence deadline.
func (l *groupLoop) arm(ctx context.Context, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.state = StateScheduled
	l.timer = l.clock.AfterFunc(d, func() {
		l.timerFired(ctx)
	})
}

// timerFired handles a cadence deadline. The next deadline is armed first,
// keeping the cadence anchored to the clock rather than to capture
// completion times. If a capture is already outstanding the firing is
// coalesced; otherwise a new capture begins.
func (l *groupLoop) timerFired(ctx context.Context) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}

	l.timer = l.clock.AfterFunc(l.group.TickInterval, func() {
		l.timerFired(ctx)
	})

	switch l.state {
	case StateCapturing, StatePendingFollowUp:
		// Coalescing rule: any number of deadlines behind an in-flight
		// capture collapse into exactly one follow-up.
		l.state = StatePendingFollowUp
		l.mu.Unlock()
		return
	default:
	}

	l.state = StateCapturing
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	go l.capture(ctx, gen)
}

// capture performs one capture round trip and completes the state machine.
func (l *groupLoop) capture(ctx context.Context, gen uint64) {
	started := l.clock.Now()

	tick, err := l.ticks.Capture(ctx, l.group.Name)
	if err != nil {
		logger.Warn(ctx, "Tick capture failed",
			tag.Group(l.group.Name),
			tag.Error(err))
		l.retryLater(ctx, gen, err)
		return
	}

	// Scheduler-side timing covers the whole round trip, including network
	// and queueing cost, and is independent of the engine-reported duration.
	localDuration := l.clock.Now().Sub(started)
	localDelayed := localDuration > l.group.TickInterval
	tick.LocalDuration = localDuration
	tick.LocalDelayed = localDelayed

	if err := l.ticks.AppendLocalTiming(ctx, l.group.Name, tick.Number, localDuration, localDelayed); err != nil {
		logger.Warn(ctx, "Failed to record local tick timing",
			tag.Group(l.group.Name),
			tag.Tick(tick.Number),
			tag.Error(err))
	}

	if localDelayed || tick.EngineDelayed {
		logger.Warn(ctx, "Tick delayed",
			tag.Group(l.group.Name),
			tag.Tick(tick.Number),
			tag.Duration(tick.Duration),
			tag.Interval(l.group.TickInterval))
	}

	l.complete(ctx, gen, tick)
}

// retryLater clears the in-flight marker and arms a one-shot retry, with
// the delay computed by the constant backoff policy. The cadence timer
// stays armed and untouched: whichever deadline arrives first starts the
// next capture, and the other firing is dropped or coalesced.
func (l *groupLoop) retryLater(ctx context.Context, gen uint64, captureErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || gen != l.gen {
		return
	}
	if l.state != StateCapturing && l.state != StatePendingFollowUp {
		return
	}
	l.state = StateScheduled

	interval, err := l.retrier.Next(captureErr)
	if err != nil {
		// No retries left; the next cadence deadline takes over.
		return
	}
	l.retryTimer = l.clock.AfterFunc(interval, func() {
		l.retryFired(ctx)
	})
}

// retryFired handles a retry deadline. Unlike a cadence firing it never arms
// another timer; if a cadence deadline already started a capture, the retry
// is redundant and dropped.
func (l *groupLoop) retryFired(ctx context.Context) {
	l.mu.Lock()
	if l.stopped || l.state != StateScheduled {
		l.mu.Unlock()
		return
	}
	l.state = StateCapturing
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	go l.capture(ctx, gen)
}

// complete is the transition out of Capturing driven by the synchronous
// capture return. Only the return value carries the timing fields, so the
// tick is recorded for introspection even when the notification already
// drove the state transition.
func (l *groupLoop) complete(ctx context.Context, gen uint64, tick *models.Tick) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	if tick.Number >= l.lastNumber {
		l.lastTick = tick
	}
	if gen != l.gen {
		return
	}
	if l.state != StateCapturing && l.state != StatePendingFollowUp {
		// The notification got here first; nothing left to transition.
		return
	}

	l.observeLocked(ctx, tick.Number)
	l.finishLocked(ctx)
}

// completeFromNotice is the transition out of Capturing driven by the
// engine's publish/subscribe notification. Stale notices (at or below the
// last completed number) are ignored.
func (l *groupLoop) completeFromNotice(ctx context.Context, notice models.TickNotice) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || notice.Number <= l.lastNumber {
		return
	}
	if l.state != StateCapturing && l.state != StatePendingFollowUp {
		return
	}

	l.observeLocked(ctx, notice.Number)
	l.finishLocked(ctx)
}

// observeLocked records a completed tick number and flags sequence gaps.
func (l *groupLoop) observeLocked(ctx context.Context, number int64) {
	if l.lastNumber != 0 && number != l.lastNumber+1 {
		// A gap means a capture failed irrecoverably; surface it rather
		// than silently renumbering.
		logger.Error(ctx, "Tick sequence gap detected",
			tag.Group(l.group.Name),
			tag.Tick(number),
			tag.Count(l.lastNumber))
	}
	if number > l.lastNumber {
		l.lastNumber = number
	}
}

// finishLocked leaves Capturing: either launch the coalesced follow-up
// immediately (catch-up) or return to Scheduled until the next cadence
// deadline.
func (l *groupLoop) finishLocked(ctx context.Context) {
	l.retrier.Reset()
	if l.state == StatePendingFollowUp {
		l.state = StateCapturing
		l.gen++
		gen := l.gen
		go l.capture(ctx, gen)
		return
	}
	l.state = StateScheduled
}

func (l *groupLoop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	if l.timer != nil {
		l.timer.Stop()
	}
	if l.retryTimer != nil {
		l.retryTimer.Stop()
	}
}

func (l *groupLoop) status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lastTick *models.Tick
	if l.lastTick != nil {
		copied := *l.lastTick
		lastTick = &copied
	}
	return Status{
		Group:           l.group.Name,
		State:           l.state.String(),
		Capturing:       l.state == StateCapturing || l.state == StatePendingFollowUp,
		PendingFollowUp: l.state == StatePendingFollowUp,
		LastTick:        lastTick,
	}
}
