package storage

import (
	"context"

	"github.com/driftcloud/agentcore/internal/db"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// AccessGrantRepository stores which users may act on which agents.
type AccessGrantRepository struct {
	pool   *db.Pool
	driver string
}

// ListForAgent returns every grant on an agent.
func (r *AccessGrantRepository) ListForAgent(ctx context.Context, agentID string) ([]*v1.AccessGrant, error) {
	rows, err := r.pool.Reader().QueryxContext(ctx, r.pool.Reader().Rebind(`
		SELECT id, agent_id, user_id, role, granted_at FROM access_grants WHERE agent_id = ?
	`), agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*v1.AccessGrant
	for rows.Next() {
		g := &v1.AccessGrant{}
		if err := rows.Scan(&g.ID, &g.AgentID, &g.UserID, &g.Role, &g.GrantedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// HasAccess reports whether a user holds any grant on an agent.
func (r *AccessGrantRepository) HasAccess(ctx context.Context, agentID, userID string) (bool, error) {
	var count int
	err := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT COUNT(*) FROM access_grants WHERE agent_id = ? AND user_id = ?`),
		agentID, userID).Scan(&count)
	return count > 0, err
}
