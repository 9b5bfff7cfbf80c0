package storage

import (
	"context"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// AutomationEventRepository stores individual automation executions.
type AutomationEventRepository struct {
	pool   *db.Pool
	driver string
}

const automationEventColumns = `id, automation_id, agent_id, status, output, exit_code, started_at, finished_at`

func scanAutomationEvent(row interface{ Scan(dest ...any) error }) (*v1.AutomationEvent, error) {
	e := &v1.AutomationEvent{}
	err := row.Scan(&e.ID, &e.AutomationID, &e.AgentID, &e.Status, &e.Output, &e.ExitCode,
		&e.StartedAt, &e.FinishedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetRunning returns the current `running` event for an automation, if
// any — the row a new `running` observation would kill, or a
// finished/failed/killed observation would finalize.
func (r *AutomationEventRepository) GetRunning(ctx context.Context, automationID string) (*v1.AutomationEvent, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(`
		SELECT `+automationEventColumns+` FROM automation_events
		WHERE automation_id = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1
	`), automationID, v1.AutomationEventRunning)
	return scanAutomationEvent(row)
}

// StartRunning kills any previous running event for the same automation
// (marking it `killed`) and inserts a fresh `running` row.
func (r *AutomationEventRepository) StartRunning(ctx context.Context, e *v1.AutomationEvent) error {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	if prev, err := r.GetRunning(ctx, e.AutomationID); err == nil && prev != nil {
		if err := r.Finish(ctx, prev.ID, v1.AutomationEventKilled, prev.Output, prev.ExitCode); err != nil {
			return err
		}
	}
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO automation_events (`+automationEventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.AutomationID, e.AgentID, v1.AutomationEventRunning, e.Output, e.ExitCode, e.StartedAt, e.FinishedAt)
	return err
}

// Finish transitions an event to a terminal status, stamping finishedAt.
func (r *AutomationEventRepository) Finish(ctx context.Context, id string, status v1.AutomationEventStatus, output string, exitCode *int) error {
	now := time.Now().UTC()
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE automation_events SET status = ?, output = ?, exit_code = ?, finished_at = ?
		WHERE id = ?
	`), status, output, exitCode, now, id)
	return err
}

// InsertCompleted records a fast execution that never passed through a
// `running` observation.
func (r *AutomationEventRepository) InsertCompleted(ctx context.Context, e *v1.AutomationEvent) error {
	now := time.Now().UTC()
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}
	if e.FinishedAt == nil {
		e.FinishedAt = &now
	}
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO automation_events (`+automationEventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.AutomationID, e.AgentID, e.Status, e.Output, e.ExitCode, e.StartedAt, e.FinishedAt)
	return err
}

// HasRunSinceCommit reports whether an automation has a finished event
// since the agent's last commit timestamp — backs the on_before_commit
// dedup rule ("already ran since the last commit").
func (r *AutomationEventRepository) HasRunSinceCommit(ctx context.Context, automationID string, since time.Time) (bool, error) {
	var count int
	err := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(`
		SELECT COUNT(*) FROM automation_events
		WHERE automation_id = ? AND status = ? AND started_at >= ?
	`), automationID, v1.AutomationEventFinished, since).Scan(&count)
	return count > 0, err
}
