package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StatesAt implements models.EntityStore.
func (s *Store) StatesAt(ctx context.Context, group string, tick int64) (map[string]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, state
		FROM entity_states
		WHERE group_name = $1 AND tick_number = $2`, group, tick)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity states for %s tick %d: %w", group, tick, err)
	}
	defer rows.Close()

	states := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			id    string
			state json.RawMessage
		)
		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("failed to scan entity state: %w", err)
		}
		states[id] = state
	}
	return states, rows.Err()
}

// DeleteStatesBefore implements models.EntityStore.
func (s *Store) DeleteStatesBefore(ctx context.Context, group string, cutoff time.Time) (int64, error) {
	res, err := s.pool.Exec(ctx, `
		DELETE FROM entity_states es
		USING ticks t
		WHERE es.group_name = t.group_name
		  AND es.tick_number = t.number
		  AND t.group_name = $1
		  AND t.started_at < $2`, group, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to trim entity states for %s: %w", group, err)
	}
	return res.RowsAffected(), nil
}
