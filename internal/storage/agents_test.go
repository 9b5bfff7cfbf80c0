package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftcloud/agentcore/internal/common/config"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "agentcore.db")

	store, closeFn, err := Provide(cfg)
	if err != nil {
		t.Fatalf("Provide: %v", err)
	}
	t.Cleanup(func() { _ = closeFn() })
	return store
}

func newTestAgent(id string) *v1.Agent {
	return &v1.Agent{
		ID:          id,
		UserID:      "user-1",
		ProjectID:   "project-1",
		Name:        "test-agent",
		BranchName:  "agentcore/" + id,
		MachineType: v1.MachineTypePool,
		State:       v1.AgentStateProvisioning,
	}
}

func TestAgentRepositoryCreateGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("agent-1")
	if err := store.Agents.Create(ctx, agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Agents.Get(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != agent.ID || got.UserID != agent.UserID || got.State != v1.AgentStateProvisioning {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.IsTrashed {
		t.Error("expected new agent to not be trashed")
	}
}

func TestAgentRepositorySetStateAndListPollable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("agent-2")
	if err := store.Agents.Create(ctx, agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// PROVISIONING is not pollable.
	pollable, err := store.Agents.ListPollable(ctx)
	if err != nil {
		t.Fatalf("ListPollable: %v", err)
	}
	if len(pollable) != 0 {
		t.Errorf("expected no pollable agents while PROVISIONING, got %d", len(pollable))
	}

	if err := store.Agents.SetState(ctx, agent.ID, v1.AgentStateIdle, ""); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	pollable, err = store.Agents.ListPollable(ctx)
	if err != nil {
		t.Fatalf("ListPollable: %v", err)
	}
	if len(pollable) != 1 || pollable[0].ID != agent.ID {
		t.Errorf("expected agent %s to be pollable once IDLE, got %+v", agent.ID, pollable)
	}

	if err := store.Agents.SetState(ctx, agent.ID, v1.AgentStateError, "worker unreachable"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	got, err := store.Agents.Get(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != v1.AgentStateError || got.ErrorMessage != "worker unreachable" {
		t.Errorf("expected ERROR state with message, got %+v", got)
	}

	pollable, err = store.Agents.ListPollable(ctx)
	if err != nil {
		t.Fatalf("ListPollable: %v", err)
	}
	if len(pollable) != 0 {
		t.Errorf("expected ERROR agent to drop out of the pollable set, got %d", len(pollable))
	}
}

func TestAgentRepositoryTrashUntrash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("agent-3")
	if err := store.Agents.Create(ctx, agent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Agents.SetState(ctx, agent.ID, v1.AgentStateIdle, ""); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	if err := store.Agents.Trash(ctx, agent.ID); err != nil {
		t.Fatalf("Trash: %v", err)
	}
	pollable, err := store.Agents.ListPollable(ctx)
	if err != nil {
		t.Fatalf("ListPollable: %v", err)
	}
	if len(pollable) != 0 {
		t.Errorf("expected trashed agent to be excluded from the poll set, got %d", len(pollable))
	}

	got, err := store.Agents.Get(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != v1.AgentStateIdle {
		t.Errorf("expected trash to leave state untouched, got %s", got.State)
	}

	if err := store.Agents.Untrash(ctx, agent.ID); err != nil {
		t.Fatalf("Untrash: %v", err)
	}
	pollable, err = store.Agents.ListPollable(ctx)
	if err != nil {
		t.Fatalf("ListPollable: %v", err)
	}
	if len(pollable) != 1 {
		t.Errorf("expected untrashed agent back in the poll set, got %d", len(pollable))
	}
}

func TestAgentRepositoryUpdateFullRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("agent-4")
	if err := store.Agents.Create(ctx, agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	agent.State = v1.AgentStateRunning
	agent.CurrentTaskID = "prompt-1"
	now := time.Now().UTC().Truncate(time.Second)
	agent.LastCommitAt = &now
	agent.LastCommitSha = "deadbeef"
	if err := store.Agents.Update(ctx, agent); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Agents.Get(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != v1.AgentStateRunning || got.CurrentTaskID != "prompt-1" || got.LastCommitSha != "deadbeef" {
		t.Errorf("expected full-row update to persist, got %+v", got)
	}
}

func TestAgentRepositoryGrantAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := newTestAgent("agent-5")
	if err := store.Agents.Create(ctx, agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	grant := &v1.AccessGrant{ID: "grant-1", AgentID: agent.ID, UserID: agent.UserID, Role: v1.AccessGrantRoleOwner}
	if err := store.Agents.GrantAccess(ctx, grant); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
}

func TestAgentRepositorySearchByName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestAgent("agent-search-1")
	a.Name = "fix payment webhook"
	if err := store.Agents.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	b := newTestAgent("agent-search-2")
	b.Name = "refactor billing module"
	if err := store.Agents.Create(ctx, b); err != nil {
		t.Fatalf("Create: %v", err)
	}
	trashed := newTestAgent("agent-search-3")
	trashed.Name = "fix stale webhook retries"
	if err := store.Agents.Create(ctx, trashed); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Agents.Trash(ctx, trashed.ID); err != nil {
		t.Fatalf("Trash: %v", err)
	}

	got, err := store.Agents.SearchByName(ctx, "user-1", "WEBHOOK")
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("expected case-insensitive match for %q excluding trashed agents, got %+v", "webhook", got)
	}

	got, err = store.Agents.SearchByName(ctx, "user-1", "billing")
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("expected one match for %q, got %+v", "billing", got)
	}
}
