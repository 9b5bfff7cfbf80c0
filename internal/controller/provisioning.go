package controller

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// runProvisioning acquires a machine (pooled or custom), health-checks
// it, and lands the agent in PROVISIONED. It runs detached from the
// request that created or resumed the agent.
func (c *Controller) runProvisioning(ctx context.Context, agent *v1.Agent, customMachineID string) {
	log := c.log.WithAgentID(agent.ID)

	coords, err := c.acquireMachine(ctx, agent, customMachineID)
	if err != nil {
		log.Error("provisioning: acquire machine failed", zap.Error(err))
		_ = c.transition(ctx, agent, v1.AgentStateError, fmt.Sprintf("failed to acquire machine: %v", err))
		return
	}

	target := workerrpc.AgentTarget{MachineAddress: coords.Address, SharedKey: coords.SharedKey}
	if err := c.rpc.ProbeHealth(ctx, target, c.rpcCfg.StateLogicTimeout()); err != nil {
		log.Error("provisioning: health probe failed", zap.Error(err))
		c.releaseMachine(ctx, agent, coords.MachineID)
		_ = c.transition(ctx, agent, v1.AgentStateError, fmt.Sprintf("machine failed health check: %v", err))
		return
	}

	fromState := agent.State
	agent.MachineID = coords.MachineID
	agent.MachineAddress = coords.Address
	agent.MachineSharedKey = coords.SharedKey
	agent.ServicePreviewToken = newPreviewToken()
	now := time.Now().UTC()
	agent.ProvisionedAt = &now
	agent.State = v1.AgentStateProvisioned
	if err := c.agents.Update(ctx, agent); err != nil {
		log.Error("provisioning: persist provisioned state failed", zap.Error(err))
		return
	}
	c.publishStateChanged(ctx, agent.ID, fromState, v1.AgentStateProvisioned, "")

	if err := c.rpc.UpdateEnvironment(ctx, target, c.rpcCfg.StateLogicTimeout(), map[string]string{
		"AGENTCORE_SERVICE_PREVIEW_TOKEN": agent.ServicePreviewToken,
	}); err != nil {
		log.Warn("provisioning: push preview token failed", zap.Error(err))
	}
}

func (c *Controller) acquireMachine(ctx context.Context, agent *v1.Agent, customMachineID string) (*v1.MachineCoords, error) {
	if agent.MachineType == v1.MachineTypeCustom {
		coords, err := c.pool.ClaimCustom(ctx, customMachineID, agent.ID)
		if err != nil {
			return nil, fmt.Errorf("claim custom machine: %w", err)
		}
		return coords, nil
	}

	reservationID, err := c.pool.Reserve(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("reserve pool machine: %w", err)
	}
	coords, err := c.pool.WaitForAssignment(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("wait for assignment: %w", err)
	}
	if err := c.pool.Fulfill(ctx, reservationID); err != nil {
		c.log.Warn("provisioning: mark reservation fulfilled failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
	return coords, nil
}

// releaseMachine runs the compensating-transaction path for a machine
// that failed its health check.
func (c *Controller) releaseMachine(ctx context.Context, agent *v1.Agent, machineID string) {
	var err error
	if agent.MachineType == v1.MachineTypeCustom {
		err = c.pool.ReleaseCustom(ctx, machineID)
	} else {
		err = c.pool.Release(ctx, machineID)
	}
	if err != nil {
		c.log.Error("release failed machine failed", zap.String("agent_id", agent.ID), zap.String("machine_id", machineID), zap.Error(err))
	}
}

// SourceSetup is the input to Start: where to clone from and what branch
// to check out.
type SourceSetup struct {
	RepoURL    string
	BaseBranch string
}

// Start drives a PROVISIONED agent through CLONING to READY: pushes
// credentials and a control-plane token, then asks the worker to acquire
// the repository and boot the agent process.
func (c *Controller) Start(ctx context.Context, agentID string, setup SourceSetup) error {
	agent, err := c.agents.Get(ctx, agentID)
	if err != nil {
		return fmt.Errorf("controller: get agent: %w", err)
	}
	if agent.State != v1.AgentStateProvisioned {
		return fmt.Errorf("controller: agent %s is %s, not PROVISIONED", agentID, agent.State)
	}

	target := workerrpc.AgentTarget{MachineAddress: agent.MachineAddress, SharedKey: agent.MachineSharedKey}
	if err := c.transition(ctx, agent, v1.AgentStateCloning, ""); err != nil {
		return fmt.Errorf("controller: persist cloning state: %w", err)
	}

	env, providerConfig, err := c.creds.GetActiveCredentials(ctx, agent.UserID)
	if err != nil {
		_ = c.transition(ctx, agent, v1.AgentStateError, fmt.Sprintf("credentials unavailable: %v", err))
		return err
	}
	if err := c.rpc.UpdateCredentials(ctx, target, c.rpcCfg.StateLogicTimeout(), env, providerConfig); err != nil {
		_ = c.transition(ctx, agent, v1.AgentStateError, fmt.Sprintf("push credentials failed: %v", err))
		return err
	}

	if token, err := c.creds.MintControlPlaneToken(agentID); err == nil {
		if err := c.rpc.UpdateArianaToken(ctx, target, c.rpcCfg.StateLogicTimeout(), token); err != nil {
			c.log.Warn("start: push control-plane token failed", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	if err := c.rpc.Start(ctx, target, c.rpcCfg.CommitPushTimeout(), setup.RepoURL, setup.BaseBranch, agent.BranchName); err != nil {
		_ = c.transition(ctx, agent, v1.AgentStateError, fmt.Sprintf("clone/boot failed: %v", err))
		return err
	}

	return c.transition(ctx, agent, v1.AgentStateReady, "")
}

func newPreviewToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
