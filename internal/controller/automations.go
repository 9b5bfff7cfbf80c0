package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/automation"
	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// fireNonBlocking matches and executes automations for a lifecycle hook
// without waiting for any of them to finish.
func (c *Controller) fireNonBlocking(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, trigger v1.AutomationTriggerType) {
	c.fire(ctx, agent, target, trigger, time.Time{})
}

// gateBlocking matches and executes automations for a lifecycle hook and
// reports whether any blocking automation from that match is still
// running on the worker. It never waits: the caller persists a
// pending*Triggered flag on the agent and returns when this reports true,
// and the next state-logic tick re-enters the checkpoint once the worker
// reports hasBlockingAutomation=false.
func (c *Controller) gateBlocking(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, trigger v1.AutomationTriggerType, lastCommitAt time.Time) bool {
	result := c.fire(ctx, agent, target, trigger, lastCommitAt)
	return result != nil && len(result.WaitedOn) > 0
}

func (c *Controller) fire(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, trigger v1.AutomationTriggerType, lastCommitAt time.Time) *automation.ExecutionResult {
	ev := automation.TriggerEvent{ProjectID: agent.ProjectID, Trigger: trigger, LastCommitAt: lastCommitAt}
	matched, err := c.engine.Match(ctx, ev)
	if err != nil {
		c.log.Error("match automations failed", zap.String("agent_id", agent.ID), zap.String("trigger", string(trigger)), zap.Error(err))
		return nil
	}
	if len(matched) == 0 {
		return nil
	}
	result, err := c.engine.Execute(ctx, c.rpc, target, c.rpcCfg.StateLogicTimeout(), agent.ID, matched)
	if err != nil {
		c.log.Error("execute automations failed", zap.String("agent_id", agent.ID), zap.String("trigger", string(trigger)), zap.Error(err))
		return nil
	}
	return result
}
