package storage

import (
	"context"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	"github.com/driftcloud/agentcore/internal/db/dialect"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// AutomationRepository stores user-defined scripts bound to lifecycle
// trigger types.
type AutomationRepository struct {
	pool   *db.Pool
	driver string
}

const automationColumns = `
	id, project_id, user_id, name, trigger_type, trigger_glob, trigger_regex,
	trigger_automation_id, script_language, script_content, blocking, feed_output, created_at`

func scanAutomation(row interface{ Scan(dest ...any) error }) (*v1.Automation, error) {
	a := &v1.Automation{}
	var blocking, feedOutput int
	err := row.Scan(&a.ID, &a.ProjectID, &a.UserID, &a.Name, &a.TriggerType, &a.TriggerGlob, &a.TriggerRegex,
		&a.TriggerAutoID, &a.ScriptLanguage, &a.ScriptContent, &blocking, &feedOutput, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Blocking = blocking != 0
	a.FeedOutput = feedOutput != 0
	return a, nil
}

// Create inserts a new automation.
func (r *AutomationRepository) Create(ctx context.Context, a *v1.Automation) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO automations (`+automationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.ProjectID, a.UserID, a.Name, a.TriggerType, a.TriggerGlob, a.TriggerRegex,
		a.TriggerAutoID, a.ScriptLanguage, a.ScriptContent, dialect.BoolToInt(a.Blocking),
		dialect.BoolToInt(a.FeedOutput), a.CreatedAt)
	return err
}

// ListByProjectAndTrigger returns every automation bound to a trigger
// type for a project — the candidate set the hook engine filters and
// dedupes from.
func (r *AutomationRepository) ListByProjectAndTrigger(ctx context.Context, projectID string, trigger v1.AutomationTriggerType) ([]*v1.Automation, error) {
	rows, err := r.pool.Reader().QueryxContext(ctx, r.pool.Reader().Rebind(`
		SELECT `+automationColumns+` FROM automations
		WHERE project_id = ? AND trigger_type = ?
	`), projectID, trigger)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*v1.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get fetches an automation by id.
func (r *AutomationRepository) Get(ctx context.Context, id string) (*v1.Automation, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT `+automationColumns+` FROM automations WHERE id = ?`), id)
	return scanAutomation(row)
}
