package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// runCheckpoint is the end-of-turn routine: commit any uncommitted work
// (mirroring the before/after hooks across commit and push), finish the
// running prompt, then either queue the next autonomous-mode prompt or
// return the agent to IDLE.
//
// It is re-entrant rather than blocking: a blocking on_before_commit or
// on_before_push_pr automation parks the corresponding pending*Triggered
// flag on the agent row and returns immediately. stepRunning only calls
// back in here once the worker reports hasBlockingAutomation=false, so a
// slow automation delays this one agent across ticks instead of stalling
// runTick's wait group for the whole fleet.
func (c *Controller) runCheckpoint(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget) {
	log := c.log.WithAgentID(agent.ID)

	if !agent.PendingCommitTriggered {
		status, err := c.rpc.GitStatus(ctx, target, c.rpcCfg.StateLogicTimeout())
		if err != nil {
			log.Error("checkpoint: git status failed", zap.Error(err))
		} else if !status.HasUncommittedChanges {
			c.finishCheckpoint(ctx, agent)
			return
		}

		var lastCommitAt time.Time
		if agent.LastCommitAt != nil {
			lastCommitAt = *agent.LastCommitAt
		}
		if c.gateBlocking(ctx, agent, target, v1.TriggerOnBeforeCommit, lastCommitAt) {
			agent.PendingCommitTriggered = true
			if err := c.agents.Update(ctx, agent); err != nil {
				log.Error("checkpoint: persist pending commit gate failed", zap.Error(err))
			}
			return
		}
	}
	agent.PendingCommitTriggered = false

	if !c.runCommit(ctx, agent, target) {
		return
	}
	c.fireNonBlocking(ctx, agent, target, v1.TriggerOnAfterCommit)

	if !agent.PendingPushPrTriggered {
		if c.gateBlocking(ctx, agent, target, v1.TriggerOnBeforePushPR, time.Time{}) {
			agent.PendingPushPrTriggered = true
			if err := c.agents.Update(ctx, agent); err != nil {
				log.Error("checkpoint: persist pending push gate failed", zap.Error(err))
			}
			return
		}
	}
	agent.PendingPushPrTriggered = false

	if err := c.rpc.GitPush(ctx, target, c.rpcCfg.CommitPushTimeout()); err != nil {
		log.Error("checkpoint: push failed", zap.Error(err))
		return
	}
	if commit, err := c.commits.GetBySha(ctx, agent.ID, agent.LastCommitSha); err != nil {
		log.Error("checkpoint: load commit to mark pushed failed", zap.Error(err))
	} else if commit != nil {
		commit.Pushed = true
		if err := c.commits.Upsert(ctx, commit); err != nil {
			log.Error("checkpoint: mark commit pushed failed", zap.Error(err))
		}
	}
	c.fireNonBlocking(ctx, agent, target, v1.TriggerOnAfterPushPR)

	c.finishCheckpoint(ctx, agent)
}

// runCommit performs the actual git commit once the before-commit gate has
// cleared, recording the commit row and the agent's last-commit fields.
// Reports false (and leaves the checkpoint mid-flight) on RPC failure.
func (c *Controller) runCommit(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget) bool {
	log := c.log.WithAgentID(agent.ID)

	commitMessage := agent.TaskSummary
	if commitMessage == "" {
		commitMessage = "checkpoint"
	}
	resp, err := c.rpc.GitCommitAndReturn(ctx, target, c.rpcCfg.CommitPushTimeout(), commitMessage)
	if err != nil {
		log.Error("checkpoint: commit failed", zap.Error(err))
		return false
	}

	authoredAt, err := time.Parse(time.RFC3339, resp.AuthoredAt)
	if err != nil {
		authoredAt = time.Now().UTC()
	}
	commit := &v1.Commit{
		ID:            uuid.New().String(),
		AgentID:       agent.ID,
		CommitSha:     resp.CommitSha,
		BranchName:    agent.BranchName,
		CommitMessage: resp.CommitMessage,
		TaskID:        agent.CurrentTaskID,
		FilesChanged:  resp.FilesChanged,
		Additions:     resp.Additions,
		Deletions:     resp.Deletions,
		AuthoredAt:    authoredAt,
	}
	if err := c.commits.Upsert(ctx, commit); err != nil {
		log.Error("checkpoint: persist commit failed", zap.Error(err))
	}

	now := time.Now().UTC()
	agent.LastCommitSha = resp.CommitSha
	agent.LastCommitAt = &now
	if agent.RepoFullName != "" {
		agent.LastCommitURL = fmt.Sprintf("https://github.com/%s/commit/%s", agent.RepoFullName, resp.CommitSha)
	}
	return true
}

// finishCheckpoint finishes the running prompt and either keeps the agent
// RUNNING for an autonomous-mode follow-up or returns it to IDLE.
func (c *Controller) finishCheckpoint(ctx context.Context, agent *v1.Agent) {
	log := c.log.WithAgentID(agent.ID)

	if err := c.prompts.FinishRunning(ctx, agent.ID); err != nil {
		log.Error("checkpoint: finish running prompts failed", zap.Error(err))
	}

	if c.tryAutonomousRequeue(ctx, agent) {
		if err := c.transition(ctx, agent, v1.AgentStateIdle, ""); err != nil {
			log.Error("checkpoint: persist idle before autonomous requeue failed", zap.Error(err))
		}
		return
	}

	fromState := agent.State
	agent.CurrentTaskID = ""
	agent.State = v1.AgentStateIdle
	if err := c.agents.Update(ctx, agent); err != nil {
		log.Error("checkpoint: persist idle state failed", zap.Error(err))
		return
	}
	c.publishStateChanged(ctx, agent.ID, fromState, v1.AgentStateIdle, "")
}

// tryAutonomousRequeue evaluates slop mode and ralph mode: both re-queue
// a fixed follow-up prompt so the agent keeps running without a human
// in the loop.
func (c *Controller) tryAutonomousRequeue(ctx context.Context, agent *v1.Agent) bool {
	if agent.InSlopModeUntil != nil && time.Now().Before(*agent.InSlopModeUntil) {
		prompt := agent.SlopModeCustomPrompt
		if prompt == "" {
			prompt = "Continue working autonomously on the current task."
		}
		return c.enqueueAutonomous(ctx, agent, prompt)
	}
	if agent.InRalphMode {
		return c.enqueueAutonomous(ctx, agent, "Continue. Re-read the task, check your progress, and keep going.")
	}
	return false
}

func (c *Controller) enqueueAutonomous(ctx context.Context, agent *v1.Agent, text string) bool {
	p := &v1.Prompt{ID: uuid.New().String(), AgentID: agent.ID, Prompt: text, Model: v1.PromptModelSonnet}
	if err := c.prompts.Enqueue(ctx, p); err != nil {
		c.log.Error("autonomous requeue failed", zap.String("agent_id", agent.ID), zap.Error(err))
		return false
	}
	return true
}
