package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// controlPlaneTokenRefreshInterval throttles the periodic control-plane
// token push during IDLE/RUNNING, independent of the per-prompt refresh
// runPromptPump does on every dispatch.
const controlPlaneTokenRefreshInterval = 10 * time.Minute

// refreshGitHostToken refreshes the user's git-host token (self-throttled
// to once per 5 minutes inside the credential service) and pushes the
// current value to the worker. A stale git-host token only affects
// push/PR automations, so failures are logged and never fail the caller.
func (c *Controller) refreshGitHostToken(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget) {
	if agent.RepoFullName == "" {
		return
	}
	log := c.log.WithAgentID(agent.ID)

	if _, err := c.creds.RefreshGitHostToken(ctx, agent.UserID); err != nil {
		log.Warn("refresh git host token failed", zap.Error(err))
		return
	}
	token, err := c.creds.GetGitHostToken(ctx, agent.UserID)
	if err != nil {
		log.Warn("load git host token failed", zap.Error(err))
		return
	}
	if token == "" {
		return
	}
	if err := c.rpc.UpdateGithubToken(ctx, target, c.rpcCfg.StateLogicTimeout(), token); err != nil {
		log.Warn("push git host token failed", zap.Error(err))
	}
}

// pushControlPlaneToken mints a fresh short-lived control-plane JWT and
// pushes it to the worker, the same step Start takes during provisioning.
func (c *Controller) pushControlPlaneToken(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget) {
	token, err := c.creds.MintControlPlaneToken(agent.ID)
	if err != nil {
		c.log.Warn("mint control plane token failed", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}
	if err := c.rpc.UpdateArianaToken(ctx, target, c.rpcCfg.StateLogicTimeout(), token); err != nil {
		c.log.Warn("push control plane token failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
}

// refreshWorkerCredentialsPeriodic keeps the worker's git-host and
// control-plane tokens fresh while an agent sits IDLE or RUNNING, so a
// long-lived agent doesn't rely solely on the one-time push Start does
// during provisioning or on a prompt eventually being dispatched. The
// git-host refresh is self-throttled inside the credential service; the
// control-plane push is throttled here to controlPlaneTokenRefreshInterval.
func (c *Controller) refreshWorkerCredentialsPeriodic(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, ls *lifecycleState) {
	c.refreshGitHostToken(ctx, agent, target)

	if !ls.lastControlPlaneTokenPush.IsZero() && time.Since(ls.lastControlPlaneTokenPush) < controlPlaneTokenRefreshInterval {
		return
	}
	ls.lastControlPlaneTokenPush = time.Now()
	c.pushControlPlaneToken(ctx, agent, target)
}
