package storage

import (
	"context"
	"time"

	"github.com/driftcloud/agentcore/internal/db"
	"github.com/driftcloud/agentcore/internal/db/dialect"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// AgentRepository is the single writer of agent.state and lifecycle
// fields; every other repository only mutates side-data tables.
type AgentRepository struct {
	pool   *db.Pool
	driver string
}

const agentColumns = `
	id, user_id, project_id, name, repo_full_name, branch_name, task_summary,
	machine_id, machine_type, machine_address, machine_shared_key, service_preview_token,
	state, is_trashed, provisioned_at, lifetime_units,
	current_task_id, pending_commit_triggered, pending_push_pr_triggered,
	last_commit_sha, last_commit_url, last_commit_at, git_history_last_pushed_commit_sha,
	start_commit_sha, pr_number, pr_state, pr_base_branch, pr_last_synced_at,
	in_slop_mode_until, slop_mode_custom_prompt, in_ralph_mode,
	error_message, created_at, updated_at`

func scanAgent(row interface {
	Scan(dest ...any) error
}) (*v1.Agent, error) {
	a := &v1.Agent{}
	var isTrashed, pendingCommit, pendingPush, inRalph int
	err := row.Scan(
		&a.ID, &a.UserID, &a.ProjectID, &a.Name, &a.RepoFullName, &a.BranchName, &a.TaskSummary,
		&a.MachineID, &a.MachineType, &a.MachineAddress, &a.MachineSharedKey, &a.ServicePreviewToken,
		&a.State, &isTrashed, &a.ProvisionedAt, &a.LifetimeUnits,
		&a.CurrentTaskID, &pendingCommit, &pendingPush,
		&a.LastCommitSha, &a.LastCommitURL, &a.LastCommitAt, &a.GitHistoryLastPushedCommitSha,
		&a.StartCommitSha, &a.PRNumber, &a.PRState, &a.PRBaseBranch, &a.PRLastSyncedAt,
		&a.InSlopModeUntil, &a.SlopModeCustomPrompt, &inRalph,
		&a.ErrorMessage, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.IsTrashed = isTrashed != 0
	a.PendingCommitTriggered = pendingCommit != 0
	a.PendingPushPrTriggered = pendingPush != 0
	a.InRalphMode = inRalph != 0
	return a, nil
}

// Create inserts a new agent row. PROVISIONING is the caller's
// responsibility to set before calling Create.
func (r *AgentRepository) Create(ctx context.Context, a *v1.Agent) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		a.ID, a.UserID, a.ProjectID, a.Name, a.RepoFullName, a.BranchName, a.TaskSummary,
		a.MachineID, a.MachineType, a.MachineAddress, a.MachineSharedKey, a.ServicePreviewToken,
		a.State, dialect.BoolToInt(a.IsTrashed), a.ProvisionedAt, a.LifetimeUnits,
		a.CurrentTaskID, dialect.BoolToInt(a.PendingCommitTriggered), dialect.BoolToInt(a.PendingPushPrTriggered),
		a.LastCommitSha, a.LastCommitURL, a.LastCommitAt, a.GitHistoryLastPushedCommitSha,
		a.StartCommitSha, a.PRNumber, a.PRState, a.PRBaseBranch, a.PRLastSyncedAt,
		a.InSlopModeUntil, a.SlopModeCustomPrompt, dialect.BoolToInt(a.InRalphMode),
		a.ErrorMessage, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// Get fetches an agent by id from the reader pool.
func (r *AgentRepository) Get(ctx context.Context, id string) (*v1.Agent, error) {
	row := r.pool.Reader().QueryRowxContext(ctx, r.pool.Reader().Rebind(
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id)
	return scanAgent(row)
}

// ListPollable returns every agent eligible for the poll cycle:
// READY/IDLE/RUNNING and not trashed.
func (r *AgentRepository) ListPollable(ctx context.Context) ([]*v1.Agent, error) {
	rows, err := r.pool.Reader().QueryxContext(ctx, r.pool.Reader().Rebind(`
		SELECT `+agentColumns+` FROM agents
		WHERE is_trashed = 0 AND state IN (?, ?, ?)
	`), v1.AgentStateReady, v1.AgentStateIdle, v1.AgentStateRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*v1.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Update persists the full agent row, including the state field. The
// controller is the only caller permitted to change `state`.
func (r *AgentRepository) Update(ctx context.Context, a *v1.Agent) error {
	a.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE agents SET
			name = ?, repo_full_name = ?, branch_name = ?, task_summary = ?,
			machine_id = ?, machine_type = ?, machine_address = ?, machine_shared_key = ?, service_preview_token = ?,
			state = ?, is_trashed = ?, provisioned_at = ?, lifetime_units = ?,
			current_task_id = ?, pending_commit_triggered = ?, pending_push_pr_triggered = ?,
			last_commit_sha = ?, last_commit_url = ?, last_commit_at = ?, git_history_last_pushed_commit_sha = ?,
			start_commit_sha = ?, pr_number = ?, pr_state = ?, pr_base_branch = ?, pr_last_synced_at = ?,
			in_slop_mode_until = ?, slop_mode_custom_prompt = ?, in_ralph_mode = ?,
			error_message = ?, updated_at = ?
		WHERE id = ?
	`),
		a.Name, a.RepoFullName, a.BranchName, a.TaskSummary,
		a.MachineID, a.MachineType, a.MachineAddress, a.MachineSharedKey, a.ServicePreviewToken,
		a.State, dialect.BoolToInt(a.IsTrashed), a.ProvisionedAt, a.LifetimeUnits,
		a.CurrentTaskID, dialect.BoolToInt(a.PendingCommitTriggered), dialect.BoolToInt(a.PendingPushPrTriggered),
		a.LastCommitSha, a.LastCommitURL, a.LastCommitAt, a.GitHistoryLastPushedCommitSha,
		a.StartCommitSha, a.PRNumber, a.PRState, a.PRBaseBranch, a.PRLastSyncedAt,
		a.InSlopModeUntil, a.SlopModeCustomPrompt, dialect.BoolToInt(a.InRalphMode),
		a.ErrorMessage, a.UpdatedAt,
		a.ID,
	)
	return err
}

// SetState transitions state (plus an optional error message) without
// requiring the caller to have the full row in hand. Used by detection
// paths (ghost agent, machine death) that only know the agent id.
func (r *AgentRepository) SetState(ctx context.Context, id string, state v1.AgentState, errorMessage string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE agents SET state = ?, error_message = ?, updated_at = ? WHERE id = ?
	`), state, errorMessage, time.Now().UTC(), id)
	return err
}

// UpdatePRState writes only the pull-request side-data columns, so the
// poller's PR sync never contends with the controller's full-row writes
// to `state` and the other lifecycle fields.
func (r *AgentRepository) UpdatePRState(ctx context.Context, id string, prState *v1.PRState, syncedAt time.Time) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE agents SET pr_state = ?, pr_last_synced_at = ? WHERE id = ?
	`), prState, syncedAt, id)
	return err
}

// SetPRNumber records the PR detected for an agent's branch, the first
// time findLatestPRForBranch locates one.
func (r *AgentRepository) SetPRNumber(ctx context.Context, id string, prNumber int, baseBranch string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE agents SET pr_number = ?, pr_base_branch = ? WHERE id = ?
	`), prNumber, baseBranch, id)
	return err
}

// Trash marks an agent trashed without altering its state; the
// controller's poll/tick loops must then skip it per the "any → trash"
// transition rule.
func (r *AgentRepository) Trash(ctx context.Context, id string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(
		`UPDATE agents SET is_trashed = 1, updated_at = ? WHERE id = ?`), time.Now().UTC(), id)
	return err
}

// Untrash clears the trashed flag, re-admitting the agent to the poll set.
func (r *AgentRepository) Untrash(ctx context.Context, id string) error {
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(
		`UPDATE agents SET is_trashed = 0, updated_at = ? WHERE id = ?`), time.Now().UTC(), id)
	return err
}

// SearchByName returns non-trashed agents owned by userID whose name
// contains the query substring, case-insensitively, most recently updated
// first. Used by list/search views over a user's agent fleet.
func (r *AgentRepository) SearchByName(ctx context.Context, userID, query string) ([]*v1.Agent, error) {
	like := dialect.Like(r.driver)
	rows, err := r.pool.Reader().QueryxContext(ctx, r.pool.Reader().Rebind(`
		SELECT `+agentColumns+` FROM agents
		WHERE user_id = ? AND is_trashed = 0 AND name `+like+` ?
		ORDER BY updated_at DESC
	`), userID, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*v1.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// GrantAccess inserts or no-ops an access grant; used by create() to give
// the creating user an "owner" grant.
func (r *AgentRepository) GrantAccess(ctx context.Context, grant *v1.AccessGrant) error {
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now().UTC()
	}
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		INSERT INTO access_grants (id, agent_id, user_id, role, granted_at)
		VALUES (?, ?, ?, ?, ?)
	`), grant.ID, grant.AgentID, grant.UserID, grant.Role, grant.GrantedAt)
	return err
}
