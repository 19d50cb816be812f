// Package scheduler runs one tick loop per sync group, invoking the
// persistence engine's atomic capture on each group's cadence. Each loop is
// a small state machine that guarantees at most one capture in flight and
// at most one coalesced follow-up per group, no matter how many timer
// deadlines elapse during a slow capture.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vircadia/vircadia-world-sub011/internal/logger"
	"github.com/vircadia/vircadia-world-sub011/internal/logger/tag"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

// State is the scheduling state of one group's loop.
type State int

const (
	// StateIdle means the loop has not been started.
	StateIdle State = iota
	// StateScheduled means a timer is armed and waiting for its deadline.
	StateScheduled
	// StateCapturing means a capture call is outstanding.
	StateCapturing
	// StatePendingFollowUp means a capture is outstanding and at least one
	// timer deadline elapsed behind it; exactly one follow-up capture will
	// run when it completes.
	StatePendingFollowUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScheduled:
		return "Scheduled"
	case StateCapturing:
		return "Capturing"
	case StatePendingFollowUp:
		return "PendingFollowUp"
	default:
		return "Unknown"
	}
}

// Status is a read-only snapshot of one group's loop for introspection.
type Status struct {
	Group           string       `json:"group"`
	State           string       `json:"state"`
	Capturing       bool         `json:"capturing"`
	PendingFollowUp bool         `json:"pendingFollowUp"`
	LastTick        *models.Tick `json:"lastTick,omitempty"`
}

// Scheduler owns the tick loops for all configured groups. Groups are fully
// independent; the only shared state is the notification subscription.
type Scheduler struct {
	ticks    models.TickStore
	notifier models.TickNotifier

	clock         Clock
	retryInterval time.Duration

	mu        sync.Mutex
	loops     map[string]*groupLoop
	cancelSub func()
	started   bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the scheduler clock; used by tests.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithRetryInterval sets the constant backoff applied after a failed
// capture. Ticks are cheap and frequent, so the backoff is deliberately
// constant rather than exponential.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.retryInterval = d
	}
}

// New creates a scheduler over the given capture boundary and completion
// notifier.
func New(ticks models.TickStore, notifier models.TickNotifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		ticks:         ticks,
		notifier:      notifier,
		clock:         NewRealClock(),
		retryInterval: 500 * time.Millisecond,
		loops:         make(map[string]*groupLoop),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms a tick loop for every group and begins consuming completion
// notifications. It returns immediately; loops run on timers until Stop.
func (s *Scheduler) Start(ctx context.Context, groups []models.SyncGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	if s.notifier != nil {
		notices, cancel, err := s.notifier.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to tick notifications: %w", err)
		}
		s.cancelSub = cancel
		go s.consumeNotices(ctx, notices)
	}

	for _, group := range groups {
		loop := newGroupLoop(group, s.ticks, s.clock, s.retryInterval)
		s.loops[group.Name] = loop
		loop.arm(ctx, group.TickInterval)
		logger.Info(ctx, "Tick loop started",
			tag.Group(group.Name),
			tag.Interval(group.TickInterval))
	}

	return nil
}

// Stop cancels the notification subscription and clears every armed timer.
// There is no mid-capture cancellation; an outstanding capture call simply
// has its completion ignored.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelSub != nil {
		s.cancelSub()
		s.cancelSub = nil
	}
	for _, loop := range s.loops {
		loop.stop()
	}
	logger.Info(ctx, "Scheduler stopped")
}

func (s *Scheduler) consumeNotices(ctx context.Context, notices <-chan models.TickNotice) {
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-notices:
			if !ok {
				return
			}
			s.mu.Lock()
			loop := s.loops[notice.Group]
			s.mu.Unlock()
			if loop == nil {
				logger.Warn(ctx, "Tick notification for unknown group",
					tag.Group(notice.Group),
					tag.Tick(notice.Number))
				continue
			}
			loop.completeFromNotice(ctx, notice)
		}
	}
}

// Status returns the loop snapshot for one group.
func (s *Scheduler) Status(group string) (Status, bool) {
	s.mu.Lock()
	loop := s.loops[group]
	s.mu.Unlock()
	if loop == nil {
		return Status{}, false
	}
	return loop.status(), true
}

// StatusAll returns loop snapshots for every group, ordered by name.
func (s *Scheduler) StatusAll() []Status {
	s.mu.Lock()
	loops := make([]*groupLoop, 0, len(s.loops))
	for _, loop := range s.loops {
		loops = append(loops, loop)
	}
	s.mu.Unlock()

	statuses := make([]Status, 0, len(loops))
	for _, loop := range loops {
		statuses = append(statuses, loop.status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Group < statuses[j].Group })
	return statuses
}
