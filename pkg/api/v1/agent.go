// Package v1 holds the wire-level types shared between the control plane
// and its collaborators: agent state, prompt/commit/automation records,
// and the machine-pool reservation types.
package v1

import "time"

// AgentState is the lifecycle state of an agent's per-agent state machine.
type AgentState string

const (
	AgentStateProvisioning AgentState = "PROVISIONING"
	AgentStateProvisioned  AgentState = "PROVISIONED"
	AgentStateCloning      AgentState = "CLONING"
	AgentStateReady        AgentState = "READY"
	AgentStateIdle         AgentState = "IDLE"
	AgentStateRunning      AgentState = "RUNNING"
	AgentStateError        AgentState = "ERROR"
	AgentStateArchiving    AgentState = "ARCHIVING"
	AgentStateArchived     AgentState = "ARCHIVED"
)

// MachineType selects whether an agent runs on a pooled, pre-warmed
// machine or a user-registered custom machine.
type MachineType string

const (
	MachineTypePool   MachineType = "pool"
	MachineTypeCustom MachineType = "custom"
)

// PRState mirrors the remote pull request's lifecycle state.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// Agent is the unit of work the controller owns end to end.
type Agent struct {
	ID          string `db:"id" json:"id"`
	UserID      string `db:"user_id" json:"userId"`
	ProjectID   string `db:"project_id" json:"projectId"`
	Name         string `db:"name" json:"name"`
	RepoFullName string `db:"repo_full_name" json:"repoFullName"`
	BranchName   string `db:"branch_name" json:"branchName"`
	TaskSummary  string `db:"task_summary" json:"taskSummary,omitempty"`

	MachineID           string      `db:"machine_id" json:"machineId,omitempty"`
	MachineType         MachineType `db:"machine_type" json:"machineType"`
	MachineAddress      string      `db:"machine_address" json:"machineAddress,omitempty"`
	MachineSharedKey    string      `db:"machine_shared_key" json:"-"`
	ServicePreviewToken string      `db:"service_preview_token" json:"-"`

	State         AgentState `db:"state" json:"state"`
	IsTrashed     bool       `db:"is_trashed" json:"isTrashed"`
	ProvisionedAt *time.Time `db:"provisioned_at" json:"provisionedAt,omitempty"`
	LifetimeUnits int        `db:"lifetime_units" json:"lifetimeUnits"`

	CurrentTaskID          string `db:"current_task_id" json:"currentTaskId,omitempty"`
	PendingCommitTriggered bool   `db:"pending_commit_triggered" json:"pendingCommitTriggered"`
	PendingPushPrTriggered bool   `db:"pending_push_pr_triggered" json:"pendingPushPrTriggered"`

	LastCommitSha                 string     `db:"last_commit_sha" json:"lastCommitSha,omitempty"`
	LastCommitURL                 string     `db:"last_commit_url" json:"lastCommitUrl,omitempty"`
	LastCommitAt                  *time.Time `db:"last_commit_at" json:"lastCommitAt,omitempty"`
	GitHistoryLastPushedCommitSha string     `db:"git_history_last_pushed_commit_sha" json:"gitHistoryLastPushedCommitSha,omitempty"`
	StartCommitSha                string     `db:"start_commit_sha" json:"startCommitSha,omitempty"`
	PRNumber                      int        `db:"pr_number" json:"prNumber,omitempty"`
	PRState                       *PRState   `db:"pr_state" json:"prState,omitempty"`
	PRBaseBranch                  string     `db:"pr_base_branch" json:"prBaseBranch,omitempty"`
	PRLastSyncedAt                *time.Time `db:"pr_last_synced_at" json:"prLastSyncedAt,omitempty"`

	InSlopModeUntil      *time.Time `db:"in_slop_mode_until" json:"inSlopModeUntil,omitempty"`
	SlopModeCustomPrompt string     `db:"slop_mode_custom_prompt" json:"slopModeCustomPrompt,omitempty"`
	InRalphMode          bool       `db:"in_ralph_mode" json:"inRalphMode"`

	ErrorMessage string `db:"error_message" json:"errorMessage,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Pollable reports whether the agent is a candidate for the poll cycle:
// operational and not trashed.
func (a *Agent) Pollable() bool {
	if a.IsTrashed {
		return false
	}
	switch a.State {
	case AgentStateReady, AgentStateIdle, AgentStateRunning:
		return true
	default:
		return false
	}
}

// AccessGrant records that a user may act on an agent. Backs create()'s
// access-grant step; no ACL evaluation is implemented here, authorization
// stays upstream.
type AccessGrant struct {
	ID        string    `db:"id" json:"id"`
	AgentID   string    `db:"agent_id" json:"agentId"`
	UserID    string    `db:"user_id" json:"userId"`
	Role      string    `db:"role" json:"role"` // owner, collaborator
	GrantedAt time.Time `db:"granted_at" json:"grantedAt"`
}

const (
	AccessGrantRoleOwner        = "owner"
	AccessGrantRoleCollaborator = "collaborator"
)
