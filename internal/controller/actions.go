package controller

import (
	"context"

	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// HandleAutomationAction implements poller.ActionHandler: interprets
// worker-requested side effects surfaced through /poll-automation-actions.
func (c *Controller) HandleAutomationAction(ctx context.Context, agent *v1.Agent, action workerrpc.AutomationActionWire) {
	switch action.Type {
	case "stop_agent":
		if err := c.Interrupt(ctx, agent.ID); err != nil {
			c.log.Error("automation-requested stop failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	case "queue_prompt":
		if _, err := c.QueuePrompt(ctx, agent.ID, action.Prompt, v1.PromptModel(action.Model)); err != nil {
			c.log.Error("automation-requested queue_prompt failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	default:
		c.log.Warn("unknown automation action type", zap.String("agent_id", agent.ID), zap.String("type", action.Type))
	}
}
