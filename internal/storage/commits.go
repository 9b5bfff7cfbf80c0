package storage

import (
	"context"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	"github.com/driftcloud/agentcore/internal/db/dialect"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// CommitRepository stores git commits observed on the worker. Invariant:
// once isDeleted is true it is never reset to false.
type CommitRepository struct {
	pool   *db.Pool
	driver string
}

const commitColumns = `
	id, agent_id, commit_sha, branch_name, commit_message, task_id,
	files_changed, additions, deletions, pushed, commit_patch, is_deleted,
	authored_at, created_at`

func scanCommit(row interface{ Scan(dest ...any) error }) (*v1.Commit, error) {
	c := &v1.Commit{}
	var pushed, isDeleted int
	err := row.Scan(&c.ID, &c.AgentID, &c.CommitSha, &c.BranchName, &c.CommitMessage, &c.TaskID,
		&c.FilesChanged, &c.Additions, &c.Deletions, &pushed, &c.CommitPatch, &isDeleted,
		&c.AuthoredAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Pushed = pushed != 0
	c.IsDeleted = isDeleted != 0
	return c, nil
}

// GetBySha looks up a commit by (agentId, commitSha) — the stable
// identifier commit upserts are keyed on.
func (r *CommitRepository) GetBySha(ctx context.Context, agentID, sha string) (*v1.Commit, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT `+commitColumns+` FROM agent_commits WHERE agent_id = ? AND commit_sha = ?`),
		agentID, sha)
	return scanCommit(row)
}

// GetByAuthoredAt finds a not-yet-deleted commit by agent and exact
// author timestamp — how amended-commit detection matches an old SHA to
// its replacement.
func (r *CommitRepository) GetByAuthoredAt(ctx context.Context, agentID string, authoredAt time.Time) (*v1.Commit, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(`
		SELECT `+commitColumns+` FROM agent_commits
		WHERE agent_id = ? AND authored_at = ? AND is_deleted = 0
		LIMIT 1
	`), agentID, authoredAt)
	return scanCommit(row)
}

// Upsert inserts a commit, or updates an existing row for the same
// (agentId, commitSha) in place — idempotent ingestion.
func (r *CommitRepository) Upsert(ctx context.Context, c *v1.Commit) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	existing, err := r.GetBySha(ctx, c.AgentID, c.CommitSha)
	if err == nil && existing != nil {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
			UPDATE agent_commits SET
				branch_name = ?, commit_message = ?, task_id = ?,
				files_changed = ?, additions = ?, deletions = ?, pushed = ?, commit_patch = ?
			WHERE id = ?
		`), c.BranchName, c.CommitMessage, c.TaskID, c.FilesChanged, c.Additions, c.Deletions,
			dialect.BoolToInt(c.Pushed), c.CommitPatch, c.ID)
		return err
	}

	_, err = r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO agent_commits (`+commitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), c.ID, c.AgentID, c.CommitSha, c.BranchName, c.CommitMessage, c.TaskID,
		c.FilesChanged, c.Additions, c.Deletions, dialect.BoolToInt(c.Pushed), c.CommitPatch,
		dialect.BoolToInt(c.IsDeleted), c.AuthoredAt, c.CreatedAt)
	return err
}

// ReplaceAmended moves the pre-amend commit's history onto the new SHA:
// marks the old row deleted and upserts the new one, leaving exactly one
// live commit for the amended change.
func (r *CommitRepository) ReplaceAmended(ctx context.Context, oldID string, replacement *v1.Commit) error {
	if err := r.MarkDeleted(ctx, oldID); err != nil {
		return err
	}
	return r.Upsert(ctx, replacement)
}

// MarkDeleted sets isDeleted; callers must never clear it afterward.
func (r *CommitRepository) MarkDeleted(ctx context.Context, id string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(
		`UPDATE agent_commits SET is_deleted = 1 WHERE id = ?`), id)
	return err
}

// MarkDeletedUnpushedBefore marks unpushed commits for an agent deleted
// when a full git-history fetch no longer returns them. Partial fetches
// must not call this — only a full resync is entitled to delete rows it
// didn't see.
func (r *CommitRepository) MarkDeletedUnpushedBefore(ctx context.Context, agentID string, seenShas []string) error {
	if len(seenShas) == 0 {
		_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
			UPDATE agent_commits SET is_deleted = 1
			WHERE agent_id = ? AND pushed = 0 AND is_deleted = 0
		`), agentID)
		return err
	}

	query, args, err := sqlxIn(`
		UPDATE agent_commits SET is_deleted = 1
		WHERE agent_id = ? AND pushed = 0 AND is_deleted = 0 AND commit_sha NOT IN (?)
	`, agentID, seenShas)
	if err != nil {
		return err
	}
	_, err = r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(query), args...)
	return err
}

// CountToday counts non-deleted commits authored on the current calendar
// date, for the per-agent activity summary shown alongside lifetime stats.
func (r *CommitRepository) CountToday(ctx context.Context, agentID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM agent_commits
		WHERE agent_id = ? AND is_deleted = 0 AND ` +
		dialect.DateOf(r.driver, "authored_at") + ` = ` + dialect.CurrentDate(r.driver)

	var count int
	err := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(query), agentID).Scan(&count)
	return count, err
}

// AverageTurnaroundMs returns the average milliseconds between a prompt's
// creation and the next commit authored for the same agent, over the
// agent's last limit commits. Returns 0 with no error if the agent has no
// commits yet.
func (r *CommitRepository) AverageTurnaroundMs(ctx context.Context, agentID string, limit int) (float64, error) {
	query := `
		SELECT AVG(duration_ms) FROM (
			SELECT ` + dialect.DurationMs(r.driver, "c.authored_at", "p.created_at") + ` AS duration_ms
			FROM agent_commits c
			JOIN agent_prompts p ON p.id = c.task_id
			WHERE c.agent_id = ? AND c.is_deleted = 0
			ORDER BY c.authored_at DESC
			LIMIT ?
		) recent
	`
	var avg *float64
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(query), agentID, limit)
	if err := row.Scan(&avg); err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// LatestPromptIDAtOrBefore assigns taskId by chronology: the most
// recently created prompt whose createdAt <= the commit's createdAt.
func (r *CommitRepository) LatestPromptIDAtOrBefore(ctx context.Context, agentID string, at time.Time) (string, error) {
	var id string
	err := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(`
		SELECT id FROM agent_prompts
		WHERE agent_id = ? AND created_at <= ?
		ORDER BY created_at DESC
		LIMIT 1
	`), agentID, at).Scan(&id)
	return id, err
}
