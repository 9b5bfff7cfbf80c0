package workerrpc

// ClaudeState is the worker's self-reported readiness snapshot, returned
// by /claude-state.
type ClaudeState struct {
	IsReady               bool     `json:"isReady"`
	HasBlockingAutomation bool     `json:"hasBlockingAutomation"`
	BlockingAutomationIDs []string `json:"blockingAutomationIds,omitempty"`
	ContextUsage          *ContextUsage `json:"contextUsage,omitempty"`
}

// ContextUsage mirrors the context-window figures the worker reports
// alongside ClaudeState.
type ContextUsage struct {
	UsedPercent      float64 `json:"usedPercent"`
	RemainingPercent float64 `json:"remainingPercent"`
	TotalTokens      int     `json:"totalTokens"`
}

// ConversationMessage is one entry in the /conversations response — the
// wire shape the poller's message-ingestion algorithm consumes.
type ConversationMessage struct {
	SourceUUID  string            `json:"sourceUuid,omitempty"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Model       string            `json:"model,omitempty"`
	Timestamp   string            `json:"timestamp"`
	IsStreaming bool              `json:"isStreaming"`
	Tools       []ConversationTool `json:"tools,omitempty"`
}

// ConversationTool is one tool invocation embedded in a message.
type ConversationTool struct {
	Name   string `json:"name"`
	Input  string `json:"input,omitempty"`
	Result string `json:"result,omitempty"`
}

// GitCommit is one commit entry in the /git-history response.
type GitCommit struct {
	CommitSha     string `json:"commitSha"`
	CommitMessage string `json:"commitMessage"`
	BranchName    string `json:"branchName"`
	FilesChanged  int    `json:"filesChanged"`
	Additions     int    `json:"additions"`
	Deletions     int    `json:"deletions"`
	Pushed        bool   `json:"pushed"`
	AuthoredAt    string `json:"authoredAt"`
}

// GitHistoryResponse is the full payload from /git-history: the commit
// list since a cutoff SHA, plus uncommitted-change state. FullFetch
// indicates the worker walked the entire branch (entitled to drive
// deletions); a partial fetch must not.
type GitHistoryResponse struct {
	Commits           []GitCommit `json:"commits"`
	UncommittedPatch  string      `json:"uncommittedPatch,omitempty"`
	TotalDiff         string      `json:"totalDiff,omitempty"`
	CurrentBranch     string      `json:"currentBranch"`
	FullFetch         bool        `json:"fullFetch"`
}

// GitStatusResponse is the /git-status response: whether the worktree
// has uncommitted changes, consulted by the checkpoint algorithm.
type GitStatusResponse struct {
	HasUncommittedChanges bool `json:"hasUncommittedChanges"`
}

// GitCommitResponse is the /git-commit-and-return response.
type GitCommitResponse struct {
	CommitSha     string `json:"commitSha"`
	CommitMessage string `json:"commitMessage"`
	FilesChanged  int    `json:"filesChanged"`
	Additions     int    `json:"additions"`
	Deletions     int    `json:"deletions"`
	AuthoredAt    string `json:"authoredAt"`
}

// AutomationEventWire is one entry in /poll-automation-events.
type AutomationEventWire struct {
	AutomationID string `json:"automationId"`
	Status       string `json:"status"` // running, finished, failed, killed
	Output       string `json:"output,omitempty"`
	ExitCode     *int   `json:"exitCode,omitempty"`
}

// AutomationActionWire is one worker-requested side effect from
// /poll-automation-actions.
type AutomationActionWire struct {
	Type   string `json:"type"` // stop_agent, queue_prompt
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model,omitempty"`
}

// ContextEventWire is one entry in /poll-context-events.
type ContextEventWire struct {
	Kind             string  `json:"kind"` // compaction, reset
	UsedPercent      float64 `json:"usedPercent"`
	RemainingPercent float64 `json:"remainingPercent"`
	TotalTokens      int     `json:"totalTokens"`
}

// CredentialEnvironment is the {K -> V} environment pushed to
// /update-credentials, built per the active auth method (see §4.5).
type CredentialEnvironment map[string]string

// executeAutomationsResult is the /execute-automations response: the
// subset of requested automation ids the worker actually ran.
type executeAutomationsResult struct {
	ExecutedAutomationIDs []string `json:"executedAutomationIds"`
}

// result is the generic {success, error} envelope most push endpoints
// return, grounded on the worker client's StatusResponse-style contract.
type result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
