package storage

import (
	"context"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// PromptRepository stores the FIFO-per-agent prompt queue. Invariant:
// at most one prompt per agent may be `running` at a time.
type PromptRepository struct {
	pool   *db.Pool
	driver string
}

// Enqueue inserts a new prompt in `queued` status.
func (r *PromptRepository) Enqueue(ctx context.Context, p *v1.Prompt) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = v1.PromptStatusQueued
	}
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO agent_prompts (id, agent_id, prompt, model, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), p.ID, p.AgentID, p.Prompt, p.Model, p.Status, p.CreatedAt)
	return err
}

// Head returns the oldest `queued` prompt for an agent, or nil if none.
func (r *PromptRepository) Head(ctx context.Context, agentID string) (*v1.Prompt, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(`
		SELECT id, agent_id, prompt, model, status, created_at
		FROM agent_prompts
		WHERE agent_id = ? AND status = ?
		ORDER BY created_at ASC
		LIMIT 1
	`), agentID, v1.PromptStatusQueued)

	p := &v1.Prompt{}
	if err := row.Scan(&p.ID, &p.AgentID, &p.Prompt, &p.Model, &p.Status, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// Get fetches a prompt by id.
func (r *PromptRepository) Get(ctx context.Context, id string) (*v1.Prompt, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(`
		SELECT id, agent_id, prompt, model, status, created_at
		FROM agent_prompts WHERE id = ?
	`), id)
	p := &v1.Prompt{}
	if err := row.Scan(&p.ID, &p.AgentID, &p.Prompt, &p.Model, &p.Status, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// MarkRunning transitions a prompt to `running`. Called before the prompt
// is sent to the worker so the next poll tick cannot double-dispatch it.
func (r *PromptRepository) MarkRunning(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, v1.PromptStatusRunning)
}

// MarkFinished transitions a prompt to `finished`.
func (r *PromptRepository) MarkFinished(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, v1.PromptStatusFinished)
}

// MarkFailed transitions a prompt to `failed`.
func (r *PromptRepository) MarkFailed(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, v1.PromptStatusFailed)
}

func (r *PromptRepository) setStatus(ctx context.Context, id string, status v1.PromptStatus) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(
		`UPDATE agent_prompts SET status = ? WHERE id = ?`), status, id)
	return err
}

// FailActive marks every `queued` or `running` prompt for an agent as
// `failed`. Used by ghost-agent and machine-death detection.
func (r *PromptRepository) FailActive(ctx context.Context, agentID string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE agent_prompts SET status = ?
		WHERE agent_id = ? AND status IN (?, ?)
	`), v1.PromptStatusFailed, agentID, v1.PromptStatusQueued, v1.PromptStatusRunning)
	return err
}

// FinishRunning transitions every `running` prompt for an agent to
// `finished`. Called at the tail of the checkpoint algorithm.
func (r *PromptRepository) FinishRunning(ctx context.Context, agentID string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE agent_prompts SET status = ?
		WHERE agent_id = ? AND status = ?
	`), v1.PromptStatusFinished, agentID, v1.PromptStatusRunning)
	return err
}

// RunningCount reports how many prompts are `running` for an agent; the
// controller's invariant caps this at 1.
func (r *PromptRepository) RunningCount(ctx context.Context, agentID string) (int, error) {
	var count int
	err := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT COUNT(*) FROM agent_prompts WHERE agent_id = ? AND status = ?`),
		agentID, v1.PromptStatusRunning).Scan(&count)
	return count, err
}
