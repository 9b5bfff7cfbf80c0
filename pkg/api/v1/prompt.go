package v1

import "time"

// PromptStatus is the lifecycle of a queued unit of work for an agent.
type PromptStatus string

const (
	PromptStatusQueued   PromptStatus = "queued"
	PromptStatusRunning  PromptStatus = "running"
	PromptStatusFinished PromptStatus = "finished"
	PromptStatusFailed   PromptStatus = "failed"
)

// PromptModel is the model tier requested for a prompt.
type PromptModel string

const (
	PromptModelOpus   PromptModel = "opus"
	PromptModelSonnet PromptModel = "sonnet"
	PromptModelHaiku  PromptModel = "haiku"
)

// Prompt is a queued unit of work for an agent, FIFO by CreatedAt within
// an agent.
type Prompt struct {
	ID        string       `db:"id" json:"id"`
	AgentID   string       `db:"agent_id" json:"agentId"`
	Prompt    string       `db:"prompt" json:"prompt"`
	Model     PromptModel  `db:"model" json:"model"`
	Status    PromptStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}

// ToolUse is one tool invocation and its (possibly absent, if still
// in flight) result, embedded in a Message.
type ToolUse struct {
	Name   string `json:"name"`
	Input  string `json:"input,omitempty"`
	Result string `json:"result,omitempty"`
}

// MessageRole distinguishes conversational turns.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is a conversation turn ingested from the worker. A streaming
// message is a mutable placeholder later replaced in place by its
// finalized form.
type Message struct {
	ID           string      `db:"id" json:"id"`
	AgentID      string      `db:"agent_id" json:"agentId"`
	Role         MessageRole `db:"role" json:"role"`
	Content      string      `db:"content" json:"content"`
	Model        string      `db:"model" json:"model,omitempty"`
	Timestamp    time.Time   `db:"timestamp" json:"timestamp"`
	TaskID       string      `db:"task_id" json:"taskId,omitempty"`
	Tools        []ToolUse   `db:"-" json:"tools,omitempty"`
	ToolsJSON    string      `db:"tools" json:"-"`
	IsStreaming  bool        `db:"is_streaming" json:"isStreaming"`
	SourceUUID   string      `db:"source_uuid" json:"sourceUuid,omitempty"`
}

// Commit is a git commit observed on the worker. Never deleted from
// storage — marked IsDeleted instead.
type Commit struct {
	ID            string    `db:"id" json:"id"`
	AgentID       string    `db:"agent_id" json:"agentId"`
	CommitSha     string    `db:"commit_sha" json:"commitSha"`
	BranchName    string    `db:"branch_name" json:"branchName"`
	CommitMessage string    `db:"commit_message" json:"commitMessage"`
	TaskID        string    `db:"task_id" json:"taskId,omitempty"`
	FilesChanged  int       `db:"files_changed" json:"filesChanged"`
	Additions     int       `db:"additions" json:"additions"`
	Deletions     int       `db:"deletions" json:"deletions"`
	Pushed        bool      `db:"pushed" json:"pushed"`
	CommitPatch   string    `db:"commit_patch" json:"commitPatch,omitempty"`
	IsDeleted     bool      `db:"is_deleted" json:"isDeleted"`
	AuthoredAt    time.Time `db:"authored_at" json:"authoredAt"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// AutomationTriggerType enumerates the lifecycle hooks an automation can
// bind to.
type AutomationTriggerType string

const (
	TriggerManual              AutomationTriggerType = "manual"
	TriggerOnAgentReady         AutomationTriggerType = "on_agent_ready"
	TriggerOnBeforeCommit       AutomationTriggerType = "on_before_commit"
	TriggerOnAfterCommit        AutomationTriggerType = "on_after_commit"
	TriggerOnBeforePushPR       AutomationTriggerType = "on_before_push_pr"
	TriggerOnAfterPushPR        AutomationTriggerType = "on_after_push_pr"
	TriggerOnAfterReadFiles     AutomationTriggerType = "on_after_read_files"
	TriggerOnAfterEditFiles     AutomationTriggerType = "on_after_edit_files"
	TriggerOnAfterRunCommand    AutomationTriggerType = "on_after_run_command"
	TriggerOnAfterReset         AutomationTriggerType = "on_after_reset"
	TriggerOnAutomationFinishes AutomationTriggerType = "on_automation_finishes"
)

// ScriptLanguage is the interpreter the worker uses to run an automation.
type ScriptLanguage string

const (
	ScriptLanguageBash       ScriptLanguage = "bash"
	ScriptLanguageJavaScript ScriptLanguage = "javascript"
	ScriptLanguagePython     ScriptLanguage = "python"
)

// AutomationTrigger describes when an automation fires and, for the
// tool-use hooks, which files/commands it cares about.
type AutomationTrigger struct {
	Type          AutomationTriggerType `json:"type"`
	FileGlob      string                `json:"fileGlob,omitempty"`
	CommandRegex  string                `json:"commandRegex,omitempty"`
	AutomationID  string                `json:"automationId,omitempty"`
}

// Automation is a user-defined script bound to a trigger type.
type Automation struct {
	ID             string                `db:"id" json:"id"`
	ProjectID      string                `db:"project_id" json:"projectId"`
	UserID         string                `db:"user_id" json:"userId"`
	Name           string                `db:"name" json:"name"`
	TriggerType    AutomationTriggerType `db:"trigger_type" json:"triggerType"`
	TriggerGlob    string                `db:"trigger_glob" json:"triggerGlob,omitempty"`
	TriggerRegex   string                `db:"trigger_regex" json:"triggerRegex,omitempty"`
	TriggerAutoID  string                `db:"trigger_automation_id" json:"triggerAutomationId,omitempty"`
	ScriptLanguage ScriptLanguage        `db:"script_language" json:"scriptLanguage"`
	ScriptContent  string                `db:"script_content" json:"scriptContent"`
	Blocking       bool                  `db:"blocking" json:"blocking"`
	FeedOutput     bool                  `db:"feed_output" json:"feedOutput"`
	CreatedAt      time.Time             `db:"created_at" json:"createdAt"`
}

// Trigger reassembles the AutomationTrigger view of a stored Automation.
func (a *Automation) Trigger() AutomationTrigger {
	return AutomationTrigger{
		Type:         a.TriggerType,
		FileGlob:     a.TriggerGlob,
		CommandRegex: a.TriggerRegex,
		AutomationID: a.TriggerAutoID,
	}
}

// AutomationEventStatus is the lifecycle of one automation execution.
type AutomationEventStatus string

const (
	AutomationEventRunning  AutomationEventStatus = "running"
	AutomationEventFinished AutomationEventStatus = "finished"
	AutomationEventFailed   AutomationEventStatus = "failed"
	AutomationEventKilled   AutomationEventStatus = "killed"
)

// AutomationEvent records one automation execution.
type AutomationEvent struct {
	ID           string                `db:"id" json:"id"`
	AutomationID string                `db:"automation_id" json:"automationId"`
	AgentID      string                `db:"agent_id" json:"agentId"`
	Status       AutomationEventStatus `db:"status" json:"status"`
	Output       string                `db:"output" json:"output,omitempty"`
	ExitCode     *int                  `db:"exit_code" json:"exitCode,omitempty"`
	StartedAt    time.Time             `db:"started_at" json:"startedAt"`
	FinishedAt   *time.Time            `db:"finished_at" json:"finishedAt,omitempty"`
}

// ContextEventKind distinguishes a plain threshold crossing from an
// actual compaction/reset of the conversation.
type ContextEventKind string

const (
	ContextEventWarning    ContextEventKind = "context_warning"
	ContextEventCompaction ContextEventKind = "compaction"
	ContextEventReset      ContextEventKind = "reset"
)

// ContextEvent records context-window boundary crossings or compactions.
type ContextEvent struct {
	ID               string           `db:"id" json:"id"`
	AgentID          string           `db:"agent_id" json:"agentId"`
	Kind             ContextEventKind `db:"kind" json:"kind"`
	UsedPercent      float64          `db:"used_percent" json:"usedPercent"`
	RemainingPercent float64          `db:"remaining_percent" json:"remainingPercent"`
	TotalTokens      int              `db:"total_tokens" json:"totalTokens"`
	CreatedAt        time.Time        `db:"created_at" json:"createdAt"`
}
