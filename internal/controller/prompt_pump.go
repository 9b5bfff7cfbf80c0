package controller

import (
	"context"

	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// runPromptPump dequeues the head prompt and dispatches it to the
// worker. If the agent already has a task in flight (left over from a
// prior run that never cleanly finished), it checkpoints that work
// first so the new task doesn't inherit someone else's uncommitted
// changes.
func (c *Controller) runPromptPump(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, prompt *v1.Prompt) {
	log := c.log.WithAgentID(agent.ID).WithTaskID(prompt.ID)

	if agent.CurrentTaskID != "" && agent.CurrentTaskID != prompt.ID {
		c.runCheckpoint(ctx, agent, target)
	}

	if err := c.prompts.MarkRunning(ctx, prompt.ID); err != nil {
		log.Error("mark prompt running failed", zap.Error(err))
		return
	}

	env, providerConfig, err := c.creds.GetActiveCredentials(ctx, agent.UserID)
	if err != nil {
		log.Error("get active credentials failed", zap.Error(err))
		c.failPrompt(ctx, agent, prompt.ID)
		return
	}
	if err := c.rpc.UpdateCredentials(ctx, target, c.rpcCfg.StateLogicTimeout(), env, providerConfig); err != nil {
		log.Error("push credentials before prompt failed", zap.Error(err))
		c.failPrompt(ctx, agent, prompt.ID)
		return
	}
	c.refreshGitHostToken(ctx, agent, target)

	if err := c.rpc.Prompt(ctx, target, c.rpcCfg.StateLogicTimeout(), prompt.Prompt, string(prompt.Model)); err != nil {
		log.Error("dispatch prompt failed", zap.Error(err))
		c.failPrompt(ctx, agent, prompt.ID)
		return
	}

	fromState := agent.State
	agent.CurrentTaskID = prompt.ID
	agent.State = v1.AgentStateRunning
	if err := c.agents.Update(ctx, agent); err != nil {
		log.Error("persist running state failed", zap.Error(err))
		return
	}
	c.publishStateChanged(ctx, agent.ID, fromState, v1.AgentStateRunning, "")
}

// failPrompt reverts the agent to IDLE and marks the prompt failed, the
// response to a non-2xx dispatch.
func (c *Controller) failPrompt(ctx context.Context, agent *v1.Agent, promptID string) {
	if err := c.prompts.MarkFailed(ctx, promptID); err != nil {
		c.log.Error("mark prompt failed failed", zap.String("prompt_id", promptID), zap.Error(err))
	}
	if err := c.transition(ctx, agent, v1.AgentStateIdle, ""); err != nil {
		c.log.Error("revert to idle after failed dispatch failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
}
