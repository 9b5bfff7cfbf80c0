package controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/eventbus"
	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

const contextThresholdStep = 10

// stepState runs one state-logic tick for a single pollable agent: reads
// worker readiness, updates failure/ghost/context bookkeeping, and drives
// the READY/IDLE/RUNNING transitions.
func (c *Controller) stepState(ctx context.Context, agent *v1.Agent) {
	ls := c.stateFor(agent.ID)
	target := workerrpc.AgentTarget{MachineAddress: agent.MachineAddress, SharedKey: agent.MachineSharedKey}

	state, err := c.rpc.ClaudeState(ctx, target, c.rpcCfg.StateLogicTimeout())
	if err != nil {
		c.handleUnreachable(ctx, agent, ls)
		return
	}
	ls.consecutiveFailures = 0
	if agent.State == v1.AgentStateIdle || agent.State == v1.AgentStateRunning {
		c.refreshWorkerCredentialsPeriodic(ctx, agent, target, ls)
	}

	if state.ContextUsage != nil {
		c.evaluateContextThreshold(ctx, agent, ls, state.ContextUsage)
	}

	c.evaluateGhost(ctx, agent, ls, state)

	switch agent.State {
	case v1.AgentStateReady:
		c.stepReady(ctx, agent, target, state)
	case v1.AgentStateIdle:
		c.stepIdle(ctx, agent, target, state)
	case v1.AgentStateRunning:
		c.stepRunning(ctx, agent, target, state)
	}
}

// handleUnreachable implements machine-death detection: a consecutive-
// failure counter that, once it crosses the configured threshold, fails
// active prompts and moves the agent to ERROR.
func (c *Controller) handleUnreachable(ctx context.Context, agent *v1.Agent, ls *lifecycleState) {
	ls.consecutiveFailures++
	threshold := c.agentCfg.DeathFailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	if ls.consecutiveFailures < threshold {
		c.log.Debug("worker unreachable", zap.String("agent_id", agent.ID), zap.Int("consecutive_failures", ls.consecutiveFailures))
		return
	}

	c.log.Warn("machine death detected", zap.String("agent_id", agent.ID), zap.Int("consecutive_failures", ls.consecutiveFailures))
	if err := c.prompts.FailActive(ctx, agent.ID); err != nil {
		c.log.Error("fail active prompts on machine death failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
	if err := c.transition(ctx, agent, v1.AgentStateError, "worker unreachable: machine death detected"); err != nil {
		c.log.Error("persist machine death failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
}

// evaluateGhost implements ghost-agent detection: an agent sitting in
// RUNNING with zero ingested messages while the worker reports itself
// busy, sustained past the ghost timeout, is presumed stuck.
func (c *Controller) evaluateGhost(ctx context.Context, agent *v1.Agent, ls *lifecycleState, state *workerrpc.ClaudeState) {
	if agent.State != v1.AgentStateRunning {
		ls.unproductiveRunningStart = time.Time{}
		return
	}

	count, err := c.messages.CountFinalized(ctx, agent.ID)
	if err != nil {
		c.log.Error("ghost detection: count messages failed", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}

	unproductive := count == 0 && !state.IsReady
	if !unproductive {
		ls.unproductiveRunningStart = time.Time{}
		return
	}
	if ls.unproductiveRunningStart.IsZero() {
		ls.unproductiveRunningStart = time.Now()
		return
	}

	timeout := c.agentCfg.GhostTimeout()
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	if time.Since(ls.unproductiveRunningStart) < timeout {
		return
	}

	c.log.Warn("ghost agent detected", zap.String("agent_id", agent.ID))
	if err := c.prompts.FailActive(ctx, agent.ID); err != nil {
		c.log.Error("fail active prompts on ghost detection failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
	if err := c.transition(ctx, agent, v1.AgentStateError, "ghost agent: no progress before timeout"); err != nil {
		c.log.Error("persist ghost detection failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
}

// evaluateContextThreshold fires a warning each time remaining context
// crosses a 10%-point boundary below the last-crossed threshold,
// starting at 70%. A jump back above the last threshold (a compaction or
// reset happened) resets the tracker so the same boundary can fire again.
func (c *Controller) evaluateContextThreshold(ctx context.Context, agent *v1.Agent, ls *lifecycleState, usage *workerrpc.ContextUsage) {
	if ls.nextContextThreshold < initialContextThreshold && usage.RemainingPercent > float64(ls.nextContextThreshold) {
		ls.nextContextThreshold = initialContextThreshold
	}

	for ls.nextContextThreshold > 0 && usage.RemainingPercent <= float64(ls.nextContextThreshold) {
		ev := &v1.ContextEvent{
			ID:               uuid.New().String(),
			AgentID:          agent.ID,
			Kind:             v1.ContextEventWarning,
			UsedPercent:      usage.UsedPercent,
			RemainingPercent: usage.RemainingPercent,
			TotalTokens:      usage.TotalTokens,
		}
		if err := c.contextEvents.Insert(ctx, ev); err != nil {
			c.log.Error("insert context threshold event failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
		if c.bus != nil {
			event, err := eventbus.NewTypedEvent(eventbus.SubjectContextWarning, "controller", eventbus.ContextWarningData{
				AgentID:          agent.ID,
				RemainingPercent: usage.RemainingPercent,
				Threshold:        ls.nextContextThreshold,
			})
			if err != nil {
				c.log.Warn("build context warning event failed", zap.String("agent_id", agent.ID), zap.Error(err))
			} else {
				_ = c.bus.Publish(ctx, eventbus.SubjectContextWarning, event)
			}
		}
		ls.nextContextThreshold -= contextThresholdStep
	}
}

func (c *Controller) stepReady(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, state *workerrpc.ClaudeState) {
	if !state.IsReady || state.HasBlockingAutomation {
		return
	}
	c.fireNonBlocking(ctx, agent, target, v1.TriggerOnAgentReady)
	if err := c.transition(ctx, agent, v1.AgentStateIdle, ""); err != nil {
		c.log.Error("transition ready->idle failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
}

func (c *Controller) stepIdle(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, state *workerrpc.ClaudeState) {
	if state.HasBlockingAutomation {
		return
	}
	if !state.IsReady {
		if err := c.transition(ctx, agent, v1.AgentStateRunning, ""); err != nil {
			c.log.Error("transition idle->running failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
		return
	}

	prompt, err := c.prompts.Head(ctx, agent.ID)
	if err != nil || prompt == nil {
		return
	}
	c.runPromptPump(ctx, agent, target, prompt)
}

func (c *Controller) stepRunning(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, state *workerrpc.ClaudeState) {
	if state.HasBlockingAutomation || !state.IsReady {
		return
	}
	c.runCheckpoint(ctx, agent, target)
}
