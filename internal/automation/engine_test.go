package automation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/storage"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
	"github.com/google/uuid"
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

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "automation.db")
	store, closeFn, err := storage.Provide(cfg)
	if err != nil {
		t.Fatalf("Provide: %v", err)
	}
	t.Cleanup(func() { _ = closeFn() })
	return New(store.Automations, store.AutomationEvents, newTestLogger(t)), store
}

func newAutomation(trigger v1.AutomationTriggerType, glob, regex, autoID string) *v1.Automation {
	return &v1.Automation{
		ID:            uuid.New().String(),
		ProjectID:     "project-1",
		UserID:        "user-1",
		Name:          "test-automation",
		TriggerType:   trigger,
		TriggerGlob:   glob,
		TriggerRegex:  regex,
		TriggerAutoID: autoID,
	}
}

func TestMatchUnconditionalOnAgentReady(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	a := newAutomation(v1.TriggerOnAgentReady, "", "", "")
	if err := store.Automations.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	matched, err := engine.Match(ctx, TriggerEvent{ProjectID: "project-1", Trigger: v1.TriggerOnAgentReady})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != a.ID {
		t.Errorf("expected the unconditional automation to match, got %+v", matched)
	}
}

func TestMatchGlobFilter(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	a := newAutomation(v1.TriggerOnAfterEditFiles, "*.go", "", "")
	if err := store.Automations.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	matched, err := engine.Match(ctx, TriggerEvent{
		ProjectID: "project-1",
		Trigger:   v1.TriggerOnAfterEditFiles,
		FilePaths: []string{"README.md"},
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 0 {
		t.Errorf("expected no match for a non-.go file path, got %+v", matched)
	}

	matched, err = engine.Match(ctx, TriggerEvent{
		ProjectID: "project-1",
		Trigger:   v1.TriggerOnAfterEditFiles,
		FilePaths: []string{"README.md", "main.go"},
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 1 {
		t.Errorf("expected a match once a .go path is present, got %+v", matched)
	}
}

func TestMatchCommandRegexFilter(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	a := newAutomation(v1.TriggerOnAfterRunCommand, "", "^npm (test|run)", "")
	if err := store.Automations.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	matched, err := engine.Match(ctx, TriggerEvent{ProjectID: "project-1", Trigger: v1.TriggerOnAfterRunCommand, Command: "ls -la"})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 0 {
		t.Errorf("expected no match for an unrelated command, got %+v", matched)
	}

	matched, err = engine.Match(ctx, TriggerEvent{ProjectID: "project-1", Trigger: v1.TriggerOnAfterRunCommand, Command: "npm test"})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 1 {
		t.Errorf("expected a match for npm test, got %+v", matched)
	}
}

func TestMatchAutomationFinishesFilter(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	upstream := newAutomation(v1.TriggerManual, "", "", "")
	if err := store.Automations.Create(ctx, upstream); err != nil {
		t.Fatalf("Create upstream: %v", err)
	}
	downstream := newAutomation(v1.TriggerOnAutomationFinishes, "", "", upstream.ID)
	if err := store.Automations.Create(ctx, downstream); err != nil {
		t.Fatalf("Create downstream: %v", err)
	}

	matched, err := engine.Match(ctx, TriggerEvent{
		ProjectID:    "project-1",
		Trigger:      v1.TriggerOnAutomationFinishes,
		AutomationID: "some-other-automation",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 0 {
		t.Errorf("expected no match when the finishing automation id differs, got %+v", matched)
	}

	matched, err = engine.Match(ctx, TriggerEvent{
		ProjectID:    "project-1",
		Trigger:      v1.TriggerOnAutomationFinishes,
		AutomationID: upstream.ID,
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != downstream.ID {
		t.Errorf("expected downstream automation to match on upstream id, got %+v", matched)
	}
}

func TestMatchSkipsAlreadyRunning(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	a := newAutomation(v1.TriggerOnAgentReady, "", "", "")
	if err := store.Automations.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	event := &v1.AutomationEvent{ID: uuid.New().String(), AutomationID: a.ID, AgentID: "agent-1"}
	if err := store.AutomationEvents.StartRunning(ctx, event); err != nil {
		t.Fatalf("StartRunning: %v", err)
	}

	matched, err := engine.Match(ctx, TriggerEvent{ProjectID: "project-1", Trigger: v1.TriggerOnAgentReady})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 0 {
		t.Errorf("expected the already-running automation to be skipped, got %+v", matched)
	}
}

func TestMatchSkipsOnBeforeCommitAlreadyRanSinceCommit(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	a := newAutomation(v1.TriggerOnBeforeCommit, "", "", "")
	if err := store.Automations.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	commitAt := time.Now().Add(-1 * time.Hour)
	finished := time.Now()
	event := &v1.AutomationEvent{
		ID: uuid.New().String(), AutomationID: a.ID, AgentID: "agent-1",
		Status: v1.AutomationEventFinished, StartedAt: commitAt.Add(5 * time.Minute), FinishedAt: &finished,
	}
	if err := store.AutomationEvents.InsertCompleted(ctx, event); err != nil {
		t.Fatalf("InsertCompleted: %v", err)
	}

	matched, err := engine.Match(ctx, TriggerEvent{
		ProjectID:    "project-1",
		Trigger:      v1.TriggerOnBeforeCommit,
		LastCommitAt: commitAt,
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 0 {
		t.Errorf("expected dedup to skip an on_before_commit automation that already ran since the commit, got %+v", matched)
	}

	olderCommit := finished.Add(1 * time.Hour)
	matched, err = engine.Match(ctx, TriggerEvent{
		ProjectID:    "project-1",
		Trigger:      v1.TriggerOnBeforeCommit,
		LastCommitAt: olderCommit,
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matched) != 1 {
		t.Errorf("expected a fresh commit after the recorded run to match again, got %+v", matched)
	}
}
