// Package workerrpc is the HTTP client the controller uses to talk to
// the agent daemon running on a worker machine. Each call is addressed
// by (machineAddress, sharedKey), resolved by looking up the owning
// agent; every call takes a caller-supplied timeout.
package workerrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/common/tracing"
)

// slowDBThreshold and slowTotalThreshold are the logging cutoffs named in
// the transport contract: DB lookups over 50ms or a full call over 200ms
// get a warning log so operators can see which agents are degrading.
const (
	slowDBThreshold    = 50 * time.Millisecond
	slowTotalThreshold = 200 * time.Millisecond
)

// AgentTarget is what the client needs to address a worker: machine
// address and shared key. Callers resolve this from the agent row
// before issuing a call.
type AgentTarget struct {
	MachineAddress string
	SharedKey      string
}

// Client issues RPCs against worker agent daemons.
type Client struct {
	httpClient *http.Client
	log        *logger.Logger
	tracer     trace.Tracer
}

// NewClient builds a Client with a fresh http.Client; callers pass a
// per-call timeout via context since different endpoints use different
// timeout tiers (poll / state-logic / commit-push).
func NewClient(log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		log:        log.WithFields(zap.String("component", "workerrpc")),
		tracer:     tracing.Tracer("agentcore-workerrpc"),
	}
}

func (c *Client) call(ctx context.Context, target AgentTarget, timeout time.Duration, method, path string, body any, out any) error {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "workerrpc."+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("workerrpc: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	url := target.MachineAddress + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("workerrpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.SharedKey != "" {
		req.Header.Set("Authorization", "Bearer "+target.SharedKey)
	}

	dbStart := time.Now()
	resp, err := c.httpClient.Do(req)
	dbElapsed := time.Since(dbStart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("workerrpc: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	total := time.Since(start)
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.Int("http.status_code", resp.StatusCode),
	)

	if dbElapsed > slowDBThreshold || total > slowTotalThreshold {
		c.log.Warn("slow worker rpc call",
			zap.String("path", path),
			zap.Duration("network", dbElapsed),
			zap.Duration("total", total),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return fmt.Errorf("workerrpc: %s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("workerrpc: decode response from %s: %w", path, err)
	}
	return nil
}

// Health probes the worker's health endpoint once.
func (c *Client) Health(ctx context.Context, target AgentTarget, timeout time.Duration) error {
	return c.call(ctx, target, timeout, http.MethodGet, "/health", nil, nil)
}

const (
	healthProbeAttempts = 5
	healthProbeInterval = time.Second
)

// ProbeHealth polls /health up to 5 times at 1-second intervals, the way
// provisioning waits for a freshly booted worker to come up. It returns
// the last error if every attempt fails.
func (c *Client) ProbeHealth(ctx context.Context, target AgentTarget, timeout time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < healthProbeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(healthProbeInterval):
			}
		}
		if lastErr = c.Health(ctx, target, timeout); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("workerrpc: health check failed after %d attempts: %w", healthProbeAttempts, lastErr)
}

// Start triggers initial code acquisition and agent boot.
func (c *Client) Start(ctx context.Context, target AgentTarget, timeout time.Duration, repoURL, baseBranch, branchName string) error {
	req := struct {
		RepoURL    string `json:"repoUrl"`
		BaseBranch string `json:"baseBranch"`
		BranchName string `json:"branchName"`
	}{repoURL, baseBranch, branchName}
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/start", req, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// RestoreGitHistory applies a patch bundle to rebuild history on the worker.
func (c *Client) RestoreGitHistory(ctx context.Context, target AgentTarget, timeout time.Duration, patch string) error {
	req := struct {
		Patch string `json:"patch"`
	}{patch}
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/restore-git-history", req, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// Prompt sends a prompt with the requested model.
func (c *Client) Prompt(ctx context.Context, target AgentTarget, timeout time.Duration, prompt, model string) error {
	req := struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
	}{prompt, model}
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/prompt", req, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// Interrupt sends the escape signal. Per the error taxonomy, a
// "worker not initialized" response is unrecoverable for this action —
// callers must not clear local state on that specific failure.
func (c *Client) Interrupt(ctx context.Context, target AgentTarget, timeout time.Duration) error {
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/interrupt", nil, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// Reset clears the worker's conversation memory.
func (c *Client) Reset(ctx context.Context, target AgentTarget, timeout time.Duration) error {
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/reset", nil, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// ClaudeState returns the worker's readiness snapshot.
func (c *Client) ClaudeState(ctx context.Context, target AgentTarget, timeout time.Duration) (*ClaudeState, error) {
	var state ClaudeState
	if err := c.call(ctx, target, timeout, http.MethodGet, "/claude-state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Conversations returns the ordered message list, including an optional
// trailing streaming entry.
func (c *Client) Conversations(ctx context.Context, target AgentTarget, timeout time.Duration) ([]ConversationMessage, error) {
	var messages []ConversationMessage
	if err := c.call(ctx, target, timeout, http.MethodGet, "/conversations", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// GitHistory asks the worker for commits since cutoffSha plus diff state.
func (c *Client) GitHistory(ctx context.Context, target AgentTarget, timeout time.Duration, cutoffSha string) (*GitHistoryResponse, error) {
	req := struct {
		SinceCommitSha string `json:"sinceCommitSha"`
	}{cutoffSha}
	var resp GitHistoryResponse
	if err := c.call(ctx, target, timeout, http.MethodPost, "/git-history", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GitStatus reports whether the worktree has uncommitted changes.
func (c *Client) GitStatus(ctx context.Context, target AgentTarget, timeout time.Duration) (*GitStatusResponse, error) {
	var resp GitStatusResponse
	if err := c.call(ctx, target, timeout, http.MethodGet, "/git-status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GitCommitAndReturn commits the worktree with the given message and
// returns the resulting commit's details.
func (c *Client) GitCommitAndReturn(ctx context.Context, target AgentTarget, timeout time.Duration, message string) (*GitCommitResponse, error) {
	req := struct {
		Message string `json:"message"`
	}{message}
	var resp GitCommitResponse
	if err := c.call(ctx, target, timeout, http.MethodPost, "/git-commit-and-return", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GitPush pushes the current branch.
func (c *Client) GitPush(ctx context.Context, target AgentTarget, timeout time.Duration) error {
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/git-push", nil, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// GetClaudeDir returns the worker's agent-provider config directory path.
func (c *Client) GetClaudeDir(ctx context.Context, target AgentTarget, timeout time.Duration) (string, error) {
	var resp struct {
		Path string `json:"path"`
	}
	if err := c.call(ctx, target, timeout, http.MethodGet, "/get-claude-dir", nil, &resp); err != nil {
		return "", err
	}
	return resp.Path, nil
}

// ExecuteAutomations asks the worker to run a set of automations,
// returning the subset it actually executed.
func (c *Client) ExecuteAutomations(ctx context.Context, target AgentTarget, timeout time.Duration, automationIDs []string) ([]string, error) {
	req := struct {
		AutomationIDs []string `json:"automationIds"`
	}{automationIDs}
	var resp executeAutomationsResult
	if err := c.call(ctx, target, timeout, http.MethodPost, "/execute-automations", req, &resp); err != nil {
		return nil, err
	}
	return resp.ExecutedAutomationIDs, nil
}

// PollAutomationEvents returns status transitions since the last poll.
func (c *Client) PollAutomationEvents(ctx context.Context, target AgentTarget, timeout time.Duration) ([]AutomationEventWire, error) {
	var events []AutomationEventWire
	if err := c.call(ctx, target, timeout, http.MethodGet, "/poll-automation-events", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// PollAutomationActions returns worker-requested side effects.
func (c *Client) PollAutomationActions(ctx context.Context, target AgentTarget, timeout time.Duration) ([]AutomationActionWire, error) {
	var actions []AutomationActionWire
	if err := c.call(ctx, target, timeout, http.MethodGet, "/poll-automation-actions", nil, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// PollContextEvents returns compaction/reset events since the last poll.
func (c *Client) PollContextEvents(ctx context.Context, target AgentTarget, timeout time.Duration) ([]ContextEventWire, error) {
	var events []ContextEventWire
	if err := c.call(ctx, target, timeout, http.MethodGet, "/poll-context-events", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// UpdateEnvironment pushes arbitrary environment variables to the worker.
func (c *Client) UpdateEnvironment(ctx context.Context, target AgentTarget, timeout time.Duration, env map[string]string) error {
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/update-environment", env, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// UpdateSecrets pushes project secret key/value pairs to the worker.
func (c *Client) UpdateSecrets(ctx context.Context, target AgentTarget, timeout time.Duration, secrets map[string]string) error {
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/update-secrets", secrets, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// DeploySSHIdentity pushes an SSH private key for git operations.
func (c *Client) DeploySSHIdentity(ctx context.Context, target AgentTarget, timeout time.Duration, privateKey string) error {
	req := struct {
		PrivateKey string `json:"privateKey"`
	}{privateKey}
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/deploy-ssh-identity", req, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// UpdateCredentials pushes the active auth environment and provider
// config, per the credential service client's contract.
func (c *Client) UpdateCredentials(ctx context.Context, target AgentTarget, timeout time.Duration, env CredentialEnvironment, providerConfig map[string]string) error {
	req := struct {
		Environment    CredentialEnvironment `json:"environment"`
		ProviderConfig map[string]string     `json:"providerConfig"`
	}{env, providerConfig}
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/update-credentials", req, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// UpdateGithubToken pushes a refreshed git-host token.
func (c *Client) UpdateGithubToken(ctx context.Context, target AgentTarget, timeout time.Duration, token string) error {
	req := struct {
		Token string `json:"token"`
	}{token}
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/update-github-token", req, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// UpdateArianaToken pushes a freshly minted short-lived control-plane
// token.
func (c *Client) UpdateArianaToken(ctx context.Context, target AgentTarget, timeout time.Duration, token string) error {
	req := struct {
		Token string `json:"token"`
	}{token}
	var res result
	if err := c.call(ctx, target, timeout, http.MethodPost, "/update-ariana-token", req, &res); err != nil {
		return err
	}
	return successOrError(res)
}

// RenameBranchFromPrompt asks the worker to derive a branch name from the
// first prompt's text — a best-effort background improvement.
func (c *Client) RenameBranchFromPrompt(ctx context.Context, target AgentTarget, timeout time.Duration, promptText string) (string, error) {
	req := struct {
		PromptText string `json:"promptText"`
	}{promptText}
	var resp struct {
		BranchName string `json:"branchName"`
	}
	if err := c.call(ctx, target, timeout, http.MethodPost, "/rename-branch-from-prompt", req, &resp); err != nil {
		return "", err
	}
	return resp.BranchName, nil
}

// GenerateTaskSummary asks the worker to summarize a prompt into a short
// human-readable task title — a best-effort background improvement.
func (c *Client) GenerateTaskSummary(ctx context.Context, target AgentTarget, timeout time.Duration, promptText string) (string, error) {
	req := struct {
		PromptText string `json:"promptText"`
	}{promptText}
	var resp struct {
		Summary string `json:"summary"`
	}
	if err := c.call(ctx, target, timeout, http.MethodPost, "/generate-task-summary", req, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

func successOrError(res result) error {
	if !res.Success {
		return fmt.Errorf("workerrpc: worker reported failure: %s", res.Error)
	}
	return nil
}
