package poller

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/credentials"
	"github.com/driftcloud/agentcore/internal/storage"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "poller.db")
	store, closeFn, err := storage.Provide(cfg)
	if err != nil {
		t.Fatalf("Provide: %v", err)
	}
	t.Cleanup(func() { _ = closeFn() })
	return store
}

// fakeGitHost is a minimal credentials.GitHostClient stand-in.
type fakeGitHost struct {
	latestPR      *credentials.PullRequestState
	latestPRErr   error
	defaultBranch string
	prState       *credentials.PullRequestState
	prStateErr    error
}

func (f *fakeGitHost) GetValidToken(ctx context.Context, userID string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeGitHost) GetPullRequestState(ctx context.Context, repoFullName string, prNumber int) (*credentials.PullRequestState, error) {
	return f.prState, f.prStateErr
}

func (f *fakeGitHost) FindLatestPRForBranch(ctx context.Context, repoFullName, branch string) (*credentials.PullRequestState, error) {
	return f.latestPR, f.latestPRErr
}

func (f *fakeGitHost) GetDefaultBranch(ctx context.Context, repoFullName string) (string, error) {
	return f.defaultBranch, nil
}

func (f *fakeGitHost) RefreshToken(ctx context.Context, userID string) (string, time.Time, error) {
	return "", time.Time{}, errors.New("not implemented")
}

func newTestAgent(id string) *v1.Agent {
	return &v1.Agent{
		ID:           id,
		UserID:       "user-1",
		ProjectID:    "project-1",
		Name:         "test-agent",
		RepoFullName: "acme/widgets",
		BranchName:   "agentcore/" + id,
		MachineType:  v1.MachineTypePool,
		State:        v1.AgentStateRunning,
	}
}

func TestPollPRStateNoGitHostIsNoop(t *testing.T) {
	store := newTestStore(t)
	p := &Poller{agents: store.Agents, log: newTestLogger(t)}

	agent := newTestAgent("agent-1")
	if err := store.Agents.Create(context.Background(), agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st := &agentState{}
	p.pollPRState(context.Background(), agent, st)
	// No gitHost configured: nothing should have been touched, and in
	// particular this must not panic on a nil collaborator.
	if !st.lastPRSyncAt.IsZero() {
		t.Error("expected a no-op to leave lastPRSyncAt untouched")
	}
}

func TestPollPRStateNoRepoIsNoop(t *testing.T) {
	store := newTestStore(t)
	gitHost := &fakeGitHost{}
	p := &Poller{agents: store.Agents, gitHost: gitHost, log: newTestLogger(t)}

	agent := newTestAgent("agent-1")
	agent.RepoFullName = ""
	if err := store.Agents.Create(context.Background(), agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st := &agentState{}
	p.pollPRState(context.Background(), agent, st)
	if !st.lastPRSyncAt.IsZero() {
		t.Error("expected a no-op for an agent with no repo configured")
	}
}

func TestPollPRStateThrottled(t *testing.T) {
	store := newTestStore(t)
	gitHost := &fakeGitHost{latestPR: &credentials.PullRequestState{Number: 42, State: "open"}}
	p := &Poller{agents: store.Agents, gitHost: gitHost, log: newTestLogger(t)}

	agent := newTestAgent("agent-1")
	if err := store.Agents.Create(context.Background(), agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st := &agentState{lastPRSyncAt: time.Now()}
	p.pollPRState(context.Background(), agent, st)

	got, err := store.Agents.Get(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PRNumber != 0 {
		t.Errorf("expected the throttle window to suppress the sync, got PRNumber=%d", got.PRNumber)
	}
}

func TestPollPRStateDiscoversNewPR(t *testing.T) {
	store := newTestStore(t)
	gitHost := &fakeGitHost{
		latestPR:      &credentials.PullRequestState{Number: 42, State: "open"},
		defaultBranch: "main",
	}
	p := &Poller{agents: store.Agents, gitHost: gitHost, log: newTestLogger(t)}

	agent := newTestAgent("agent-1")
	if err := store.Agents.Create(context.Background(), agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st := &agentState{}
	p.pollPRState(context.Background(), agent, st)

	got, err := store.Agents.Get(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PRNumber != 42 || got.PRBaseBranch != "main" {
		t.Errorf("expected PR number and base branch to be recorded, got %+v", got)
	}
	if got.PRState == nil || *got.PRState != v1.PRStateOpen {
		t.Errorf("expected pr state open, got %v", got.PRState)
	}
}

func TestPollPRStateSyncsExistingPR(t *testing.T) {
	store := newTestStore(t)
	gitHost := &fakeGitHost{prState: &credentials.PullRequestState{Number: 42, State: "merged"}}
	p := &Poller{agents: store.Agents, gitHost: gitHost, log: newTestLogger(t)}

	agent := newTestAgent("agent-1")
	if err := store.Agents.Create(context.Background(), agent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Agents.SetPRNumber(context.Background(), agent.ID, 42, "main"); err != nil {
		t.Fatalf("SetPRNumber: %v", err)
	}
	agent.PRNumber = 42

	st := &agentState{}
	p.pollPRState(context.Background(), agent, st)

	got, err := store.Agents.Get(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PRState == nil || *got.PRState != v1.PRStateMerged {
		t.Errorf("expected pr state synced to merged, got %v", got.PRState)
	}
}
