package storage

import (
	"context"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	"github.com/driftcloud/agentcore/internal/db/dialect"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// ContextEventRepository stores context-window threshold crossings and
// compaction/reset events.
type ContextEventRepository struct {
	pool   *db.Pool
	driver string
}

// Insert records a context event. The controller decides when to call
// this (the 10%-bucket downward-crossing rule lives in the controller,
// not here — this repository only persists what it's told).
func (r *ContextEventRepository) Insert(ctx context.Context, e *v1.ContextEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO context_events (id, agent_id, kind, used_percent, remaining_percent, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.AgentID, e.Kind, e.UsedPercent, e.RemainingPercent, e.TotalTokens, e.CreatedAt)
	return err
}

// ListForAgent returns context events for an agent, most recent first.
func (r *ContextEventRepository) ListForAgent(ctx context.Context, agentID string, limit int) ([]*v1.ContextEvent, error) {
	rows, err := r.pool.Reader().QueryxContext(ctx, r.pool.Reader().Rebind(`
		SELECT id, agent_id, kind, used_percent, remaining_percent, total_tokens, created_at
		FROM context_events
		WHERE agent_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*v1.ContextEvent
	for rows.Next() {
		e := &v1.ContextEvent{}
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Kind, &e.UsedPercent, &e.RemainingPercent, &e.TotalTokens, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneOlderThanDays deletes context events older than the given retention
// window and reports how many rows were removed. Called periodically by
// the poller so a long-lived agent's event history doesn't grow without
// bound.
func (r *ContextEventRepository) PruneOlderThanDays(ctx context.Context, days int) (int64, error) {
	query := `DELETE FROM context_events WHERE created_at < ` + dialect.DateNowMinusDays(r.driver, "?")
	res, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(query), days)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
