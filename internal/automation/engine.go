// Package automation implements the automation hook engine: trigger
// matching, dedup against already-running and already-ran-since-commit
// automations, and the worker-executed/waited-on subset distinction.
package automation

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/storage"
	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// TriggerEvent describes one lifecycle hook firing for an agent.
type TriggerEvent struct {
	ProjectID    string
	Trigger      v1.AutomationTriggerType
	FilePaths    []string  // for on_after_read_files / on_after_edit_files
	Command      string    // for on_after_run_command
	AutomationID string    // for on_automation_finishes: which automation just finished
	LastCommitAt time.Time // for on_before_commit dedup
}

// Engine computes and triggers the matching automation set.
type Engine struct {
	automations *storage.AutomationRepository
	events      *storage.AutomationEventRepository
	log         *logger.Logger
}

// New builds an Engine over the automation repositories.
func New(automations *storage.AutomationRepository, events *storage.AutomationEventRepository, log *logger.Logger) *Engine {
	return &Engine{
		automations: automations,
		events:      events,
		log:         log.WithFields(zap.String("component", "automation")),
	}
}

// Match returns the automations bound to ev.Trigger that pass filtering
// and dedup: already-running automations are skipped, and an
// on_before_commit automation that already ran since the last commit is
// skipped.
func (e *Engine) Match(ctx context.Context, ev TriggerEvent) ([]*v1.Automation, error) {
	candidates, err := e.automations.ListByProjectAndTrigger(ctx, ev.ProjectID, ev.Trigger)
	if err != nil {
		return nil, err
	}

	var matched []*v1.Automation
	for _, a := range candidates {
		if !e.matchesFilter(a, ev) {
			continue
		}

		running, err := e.events.GetRunning(ctx, a.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if running != nil {
			continue
		}

		if a.TriggerType == v1.TriggerOnBeforeCommit && !ev.LastCommitAt.IsZero() {
			ran, err := e.events.HasRunSinceCommit(ctx, a.ID, ev.LastCommitAt)
			if err != nil {
				return nil, err
			}
			if ran {
				continue
			}
		}

		matched = append(matched, a)
	}
	return matched, nil
}

func (e *Engine) matchesFilter(a *v1.Automation, ev TriggerEvent) bool {
	switch a.TriggerType {
	case v1.TriggerOnAfterReadFiles, v1.TriggerOnAfterEditFiles:
		if a.TriggerGlob == "" {
			return true
		}
		re, err := compileGlob(a.TriggerGlob)
		if err != nil {
			e.log.Warn("invalid automation glob", zap.String("automation_id", a.ID), zap.Error(err))
			return false
		}
		for _, path := range ev.FilePaths {
			if re.MatchString(path) {
				return true
			}
		}
		return false

	case v1.TriggerOnAfterRunCommand:
		if a.TriggerRegex == "" {
			return true
		}
		re, err := regexp.Compile(a.TriggerRegex)
		if err != nil {
			e.log.Warn("invalid automation command regex", zap.String("automation_id", a.ID), zap.Error(err))
			return false
		}
		return re.MatchString(ev.Command)

	case v1.TriggerOnAutomationFinishes:
		if a.TriggerAutoID == "" {
			return true
		}
		return a.TriggerAutoID == ev.AutomationID

	default:
		return true
	}
}

// ExecutionResult is what Execute reports back to the controller: the
// ids the worker actually ran, and the subset of those considered
// waited-on (blocking automations in the executed set).
type ExecutionResult struct {
	ExecutedIDs []string
	WaitedOn    []*v1.Automation
}

// Execute asks the worker to run the matched automations and records a
// running event for each one it accepts. Only blocking automations in
// the worker's executed subset are reported as waited-on.
func (e *Engine) Execute(ctx context.Context, rpc *workerrpc.Client, target workerrpc.AgentTarget, timeout time.Duration, agentID string, matched []*v1.Automation) (*ExecutionResult, error) {
	if len(matched) == 0 {
		return &ExecutionResult{}, nil
	}

	ids := make([]string, len(matched))
	byID := make(map[string]*v1.Automation, len(matched))
	for i, a := range matched {
		ids[i] = a.ID
		byID[a.ID] = a
	}

	executed, err := rpc.ExecuteAutomations(ctx, target, timeout, ids)
	if err != nil {
		return nil, err
	}

	var waitedOn []*v1.Automation
	for _, id := range executed {
		a, ok := byID[id]
		if !ok {
			continue
		}

		event := &v1.AutomationEvent{ID: uuid.New().String(), AutomationID: id, AgentID: agentID}
		if err := e.events.StartRunning(ctx, event); err != nil {
			e.log.Error("failed to record automation start",
				zap.String("automation_id", id), zap.Error(err))
		}

		if a.Blocking {
			waitedOn = append(waitedOn, a)
		}
	}

	return &ExecutionResult{ExecutedIDs: executed, WaitedOn: waitedOn}, nil
}
