package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

const prSyncInterval = 30 * time.Second

// pollPRState keeps an agent's pull-request side-data current, throttled
// to once per 30s. No git-host client configured means PR sync is a
// no-op, not an error.
func (p *Poller) pollPRState(ctx context.Context, agent *v1.Agent, st *agentState) {
	if p.gitHost == nil || agent.RepoFullName == "" {
		return
	}
	if time.Since(st.lastPRSyncAt) < prSyncInterval {
		return
	}
	st.lastPRSyncAt = time.Now()

	if agent.PRNumber == 0 {
		pr, err := p.gitHost.FindLatestPRForBranch(ctx, agent.RepoFullName, agent.BranchName)
		if err != nil {
			p.log.Debug("find latest pr for branch failed", zap.String("agent_id", agent.ID), zap.Error(err))
			return
		}
		if pr == nil {
			return
		}
		base, err := p.gitHost.GetDefaultBranch(ctx, agent.RepoFullName)
		if err != nil {
			base = ""
		}
		if err := p.agents.SetPRNumber(ctx, agent.ID, pr.Number, base); err != nil {
			p.log.Error("set pr number failed", zap.String("agent_id", agent.ID), zap.Error(err))
			return
		}
		state := v1.PRState(pr.State)
		if err := p.agents.UpdatePRState(ctx, agent.ID, &state, time.Now().UTC()); err != nil {
			p.log.Error("update pr state failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
		return
	}

	pr, err := p.gitHost.GetPullRequestState(ctx, agent.RepoFullName, agent.PRNumber)
	if err != nil {
		p.log.Debug("get pull request state failed", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}
	state := v1.PRState(pr.State)
	if err := p.agents.UpdatePRState(ctx, agent.ID, &state, time.Now().UTC()); err != nil {
		p.log.Error("update pr state failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
}
