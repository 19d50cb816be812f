// Package memory provides an in-memory persistence engine. It implements
// every store interface the service depends on and serves as the
// development driver and the test fixture. The postgres package is the
// production implementation.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

var (
	_ models.GroupStore   = (*Engine)(nil)
	_ models.TickStore    = (*Engine)(nil)
	_ models.EntityStore  = (*Engine)(nil)
	_ models.ActionStore  = (*Engine)(nil)
	_ models.TickNotifier = (*Engine)(nil)
)

// Engine is an in-memory persistence engine. All operations are guarded by
// a single mutex, which gives each of them the same atomicity the postgres
// implementation gets from transactions.
type Engine struct {
	mu sync.Mutex

	now func() time.Time

	groups map[string]models.SyncGroup

	// live is the mutable world state captures snapshot from:
	// group -> entity id -> state.
	live map[string]map[string]json.RawMessage

	// ticks and states form the immutable historical ledger.
	ticks  map[string][]*models.Tick
	states map[string]map[int64]map[string]json.RawMessage

	actions   map[string]*models.Action
	actionSeq map[string]int64 // claim/prune tie-break on equal creation times
	seq       int64

	subs   map[int64]chan models.TickNotice
	subSeq int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithNowFunc overrides the engine clock; used by tests.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an empty in-memory engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:       time.Now,
		groups:    make(map[string]models.SyncGroup),
		live:      make(map[string]map[string]json.RawMessage),
		ticks:     make(map[string][]*models.Tick),
		states:    make(map[string]map[int64]map[string]json.RawMessage),
		actions:   make(map[string]*models.Action),
		actionSeq: make(map[string]int64),
		subs:      make(map[int64]chan models.TickNotice),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close releases all notification subscriptions.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}

// PutGroup implements models.GroupStore.
func (e *Engine) PutGroup(_ context.Context, group models.SyncGroup) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groups[group.Name] = group
	return nil
}

// ListGroups implements models.GroupStore.
func (e *Engine) ListGroups(_ context.Context) ([]models.SyncGroup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	groups := make([]models.SyncGroup, 0, len(e.groups))
	for _, g := range e.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// PutEntity writes the current state of an entity into the mutable world
// table. This is the write side the out-of-scope world server uses; it does
// not touch the ledger until the next capture.
func (e *Engine) PutEntity(_ context.Context, group, entityID string, state json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live[group] == nil {
		e.live[group] = make(map[string]json.RawMessage)
	}
	e.live[group][entityID] = append(json.RawMessage(nil), state...)
}

// RemoveEntity removes an entity from the mutable world table.
func (e *Engine) RemoveEntity(_ context.Context, group, entityID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.live[group], entityID)
}

// Capture implements models.TickStore. The whole snapshot happens under the
// engine mutex, mirroring the single-transaction guarantee of the postgres
// stored function.
func (e *Engine) Capture(_ context.Context, group string) (*models.Tick, error) {
	e.mu.Lock()

	g, ok := e.groups[group]
	if !ok {
		e.mu.Unlock()
		return nil, models.ErrGroupNotFound
	}

	started := e.now()

	var number int64 = 1
	if ticks := e.ticks[group]; len(ticks) > 0 {
		number = ticks[len(ticks)-1].Number + 1
	}

	snapshot := make(map[string]json.RawMessage, len(e.live[group]))
	for id, state := range e.live[group] {
		snapshot[id] = append(json.RawMessage(nil), state...)
	}
	if e.states[group] == nil {
		e.states[group] = make(map[int64]map[string]json.RawMessage)
	}
	e.states[group][number] = snapshot

	ended := e.now()
	tick := &models.Tick{
		Group:         group,
		Number:        number,
		StartedAt:     started,
		EndedAt:       ended,
		Duration:      ended.Sub(started),
		EntityCount:   len(snapshot),
		EngineDelayed: ended.Sub(started) > g.TickInterval,
	}
	e.ticks[group] = append(e.ticks[group], tick)

	// Non-blocking fan-out under the lock: a subscriber with a full buffer
	// drops the notice rather than stalling captures. The synchronous return
	// value is the primary completion signal.
	notice := models.TickNotice{Group: group, Number: number}
	for _, ch := range e.subs {
		select {
		case ch <- notice:
		default:
		}
	}
	e.mu.Unlock()

	out := *tick
	return &out, nil
}

// AppendLocalTiming implements models.TickStore.
func (e *Engine) AppendLocalTiming(_ context.Context, group string, number int64, d time.Duration, delayed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tick := range e.ticks[group] {
		if tick.Number == number {
			tick.LocalDuration = d
			tick.LocalDelayed = delayed
			return nil
		}
	}
	return models.ErrGroupNotFound
}

// LatestTick implements models.TickStore.
func (e *Engine) LatestTick(_ context.Context, group string) (*models.Tick, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ticks := e.ticks[group]
	if len(ticks) == 0 {
		return nil, nil
	}
	out := *ticks[len(ticks)-1]
	return &out, nil
}

// LastTickBefore implements models.TickStore.
func (e *Engine) LastTickBefore(_ context.Context, group string, t time.Time) (int64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		number int64
		found  bool
	)
	for _, tick := range e.ticks[group] {
		if tick.StartedAt.Before(t) {
			number = tick.Number
			found = true
		}
	}
	return number, found, nil
}

// DeleteTicksBefore implements models.TickStore.
func (e *Engine) DeleteTicksBefore(_ context.Context, group string, cutoff time.Time) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ticks := e.ticks[group]
	var kept []*models.Tick
	var removed int64
	for _, tick := range ticks {
		if tick.StartedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, tick)
	}
	e.ticks[group] = kept
	return removed, nil
}

// Ticks returns a copy of the group's full tick history, oldest first.
func (e *Engine) Ticks(_ context.Context, group string) []models.Tick {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Tick, 0, len(e.ticks[group]))
	for _, tick := range e.ticks[group] {
		out = append(out, *tick)
	}
	return out
}

// GetAction returns a copy of one action, if it exists.
func (e *Engine) GetAction(_ context.Context, actionID string) (*models.Action, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	action, ok := e.actions[actionID]
	if !ok {
		return nil, false
	}
	out := *action
	return &out, true
}

// StatesAt implements models.EntityStore.
func (e *Engine) StatesAt(_ context.Context, group string, tick int64) (map[string]json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	states := e.states[group][tick]
	out := make(map[string]json.RawMessage, len(states))
	for id, state := range states {
		out[id] = append(json.RawMessage(nil), state...)
	}
	return out, nil
}

// DeleteStatesBefore implements models.EntityStore.
func (e *Engine) DeleteStatesBefore(_ context.Context, group string, cutoff time.Time) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var removed int64
	for _, tick := range e.ticks[group] {
		if !tick.StartedAt.Before(cutoff) {
			continue
		}
		if states, ok := e.states[group][tick.Number]; ok {
			removed += int64(len(states))
			delete(e.states[group], tick.Number)
		}
	}
	return removed, nil
}

// Subscribe implements models.TickNotifier.
func (e *Engine) Subscribe(_ context.Context) (<-chan models.TickNotice, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subSeq++
	id := e.subSeq
	ch := make(chan models.TickNotice, 64)
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			close(sub)
			delete(e.subs, id)
		}
	}
	return ch, cancel, nil
}

// EnqueueAction implements models.ActionStore.
func (e *Engine) EnqueueAction(_ context.Context, action models.Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = e.now()
	}
	// Producers insert PENDING actions and nothing else.
	action.Status = models.ActionPending
	action.Claimant = ""
	action.HeartbeatAt = nil

	e.seq++
	e.actionSeq[action.ID] = e.seq
	e.actions[action.ID] = &action
	return nil
}

// ClaimAction implements models.ActionStore.
func (e *Engine) ClaimAction(_ context.Context, group, workerID string) (*models.Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var oldest *models.Action
	for _, action := range e.actions {
		if action.Group != group || action.Status != models.ActionPending {
			continue
		}
		if oldest == nil || e.olderThan(action, oldest) {
			oldest = action
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := e.now()
	oldest.Status = models.ActionInProgress
	oldest.Claimant = workerID
	oldest.HeartbeatAt = &now

	out := *oldest
	return &out, nil
}

func (e *Engine) olderThan(a, b *models.Action) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return e.actionSeq[a.ID] < e.actionSeq[b.ID]
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// HeartbeatAction implements models.ActionStore.
func (e *Engine) HeartbeatAction(_ context.Context, actionID, workerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	action, ok := e.actions[actionID]
	if !ok || action.Status != models.ActionInProgress || action.Claimant != workerID {
		return models.ErrLostLease
	}
	now := e.now()
	action.HeartbeatAt = &now
	return nil
}

// FinishAction implements models.ActionStore.
func (e *Engine) FinishAction(_ context.Context, actionID, workerID string, status models.ActionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	action, ok := e.actions[actionID]
	if !ok || action.Status != models.ActionInProgress || action.Claimant != workerID {
		return models.ErrLostLease
	}
	action.Status = status
	return nil
}

// ExpireActions implements models.ActionStore.
func (e *Engine) ExpireActions(_ context.Context, group string, cutoff time.Time) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired int64
	for _, action := range e.actions {
		if action.Group != group || action.Status != models.ActionInProgress {
			continue
		}
		if action.HeartbeatAt == nil || action.HeartbeatAt.Before(cutoff) {
			action.Status = models.ActionExpired
			action.Claimant = ""
			expired++
		}
	}
	return expired, nil
}

// PruneActions implements models.ActionStore.
func (e *Engine) PruneActions(_ context.Context, group string, status models.ActionStatus, keep int) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var matching []*models.Action
	for _, action := range e.actions {
		if action.Group == group && action.Status == status {
			matching = append(matching, action)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		// Most recent first.
		return e.olderThan(matching[j], matching[i])
	})

	var removed int64
	for i := keep; i < len(matching); i++ {
		delete(e.actions, matching[i].ID)
		delete(e.actionSeq, matching[i].ID)
		removed++
	}
	return removed, nil
}

// ActionCounts implements models.ActionStore.
func (e *Engine) ActionCounts(_ context.Context, group string) (map[models.ActionStatus]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[models.ActionStatus]int64)
	for _, action := range e.actions {
		if action.Group == group {
			counts[action.Status]++
		}
	}
	return counts, nil
}
