// Package registry loads the set of sync groups at startup and serves
// read-only lookups for the scheduler, lease queue and sweeper.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

// Registry holds the sync group definitions. Loaded once at startup;
// read-shared thereafter. Reload replaces the whole set atomically.
type Registry struct {
	store models.GroupStore

	mu     sync.RWMutex
	groups map[string]models.SyncGroup
}

// New creates an empty registry over the given group store.
func New(store models.GroupStore) *Registry {
	return &Registry{
		store:  store,
		groups: make(map[string]models.SyncGroup),
	}
}

// Load upserts the configured groups into the store and then reads the full
// set back, so groups created by other tooling are scheduled too.
func (r *Registry) Load(ctx context.Context, configured []models.SyncGroup) error {
	for _, group := range configured {
		if err := r.store.PutGroup(ctx, group); err != nil {
			return fmt.Errorf("failed to store sync group %q: %w", group.Name, err)
		}
	}
	return r.Reload(ctx)
}

// Reload re-reads the group set from the store.
func (r *Registry) Reload(ctx context.Context) error {
	groups, err := r.store.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sync groups: %w", err)
	}

	next := make(map[string]models.SyncGroup, len(groups))
	for _, group := range groups {
		next[group.Name] = group
	}

	r.mu.Lock()
	r.groups = next
	r.mu.Unlock()
	return nil
}

// Get returns one group definition, or models.ErrGroupNotFound.
func (r *Registry) Get(name string) (models.SyncGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, ok := r.groups[name]
	if !ok {
		return models.SyncGroup{}, fmt.Errorf("%w: %s", models.ErrGroupNotFound, name)
	}
	return group, nil
}

// All returns every group definition, ordered by name.
func (r *Registry) All() []models.SyncGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := make([]models.SyncGroup, 0, len(r.groups))
	for _, group := range r.groups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}
