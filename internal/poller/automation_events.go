package poller

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/automation"
	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// pollAutomationEvents synchronizes per-automation execution state:
// `running` creates/overwrites the running row, a terminal status
// finalizes it and fires on_automation_finishes, and fast executions
// that skipped `running` are recorded directly as completed.
func (p *Poller) pollAutomationEvents(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget) error {
	events, err := p.rpc.PollAutomationEvents(ctx, target, p.rpcCfg.PollTimeout())
	if err != nil {
		return err
	}

	for _, e := range events {
		status := v1.AutomationEventStatus(e.Status)
		switch status {
		case v1.AutomationEventRunning:
			running, err := p.automationEvents.GetRunning(ctx, e.AutomationID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				p.log.Error("get running automation event failed", zap.Error(err))
				continue
			}
			if running != nil {
				continue
			}
			ev := &v1.AutomationEvent{AutomationID: e.AutomationID, AgentID: agent.ID, Output: e.Output, ExitCode: e.ExitCode}
			if err := p.automationEvents.StartRunning(ctx, ev); err != nil {
				p.log.Error("start running automation event failed", zap.Error(err))
			}

		case v1.AutomationEventFinished, v1.AutomationEventFailed, v1.AutomationEventKilled:
			running, err := p.automationEvents.GetRunning(ctx, e.AutomationID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				p.log.Error("get running automation event failed", zap.Error(err))
				continue
			}
			if running != nil {
				if err := p.automationEvents.Finish(ctx, running.ID, status, e.Output, e.ExitCode); err != nil {
					p.log.Error("finish automation event failed", zap.Error(err))
					continue
				}
			} else {
				ev := &v1.AutomationEvent{AutomationID: e.AutomationID, AgentID: agent.ID, Status: status, Output: e.Output, ExitCode: e.ExitCode}
				if err := p.automationEvents.InsertCompleted(ctx, ev); err != nil {
					p.log.Error("insert completed automation event failed", zap.Error(err))
					continue
				}
			}

			if status == v1.AutomationEventFinished {
				p.fireOnAutomationFinishes(ctx, agent, e.AutomationID)
			}
		}
	}
	return nil
}

func (p *Poller) fireOnAutomationFinishes(ctx context.Context, agent *v1.Agent, finishedAutomationID string) {
	ev := automation.TriggerEvent{
		ProjectID:    agent.ProjectID,
		Trigger:      v1.TriggerOnAutomationFinishes,
		AutomationID: finishedAutomationID,
	}
	matched, err := p.engine.Match(ctx, ev)
	if err != nil {
		p.log.Error("automation match failed", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}
	if len(matched) == 0 {
		return
	}
	target := workerrpc.AgentTarget{MachineAddress: agent.MachineAddress, SharedKey: agent.MachineSharedKey}
	if _, err := p.engine.Execute(ctx, p.rpc, target, p.rpcCfg.StateLogicTimeout(), agent.ID, matched); err != nil {
		p.log.Error("automation execute failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
}

// pollAutomationActions drains worker-requested side effects. The
// controller owns prompt queuing and agent stopping; the poller only
// hands the raw actions back via the returned slice.
func (p *Poller) pollAutomationActions(ctx context.Context, target workerrpc.AgentTarget) ([]workerrpc.AutomationActionWire, error) {
	return p.rpc.PollAutomationActions(ctx, target, p.rpcCfg.PollTimeout())
}
