package poller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// contextPruneInterval bounds how often pruneContextEvents issues its
// DELETE, independent of the (much shorter) poll cycle interval.
const contextPruneInterval = time.Hour

// pollContextEvents ingests compaction/reset events the worker reports.
// Plain threshold-warning crossings are computed by the controller from
// /claude-state's contextUsage, not from this stream.
func (p *Poller) pollContextEvents(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget) error {
	events, err := p.rpc.PollContextEvents(ctx, target, p.rpcCfg.PollTimeout())
	if err != nil {
		return err
	}
	for _, e := range events {
		ev := &v1.ContextEvent{
			ID:               uuid.New().String(),
			AgentID:          agent.ID,
			Kind:             v1.ContextEventKind(e.Kind),
			UsedPercent:      e.UsedPercent,
			RemainingPercent: e.RemainingPercent,
			TotalTokens:      e.TotalTokens,
		}
		if err := p.contextEvents.Insert(ctx, ev); err != nil {
			p.log.Error("insert context event failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}
	return nil
}

// pruneContextEvents deletes context events past the configured retention
// window, throttled to once per contextPruneInterval regardless of how
// often runCycle fires.
func (p *Poller) pruneContextEvents(ctx context.Context) {
	if !p.lastContextPrune.IsZero() && time.Since(p.lastContextPrune) < contextPruneInterval {
		return
	}
	p.lastContextPrune = time.Now()

	days := p.agentCfg.ContextEventRetentionDays
	if days <= 0 {
		days = 30
	}
	deleted, err := p.contextEvents.PruneOlderThanDays(ctx, days)
	if err != nil {
		p.log.Error("prune context events failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		p.log.Debug("pruned context events", zap.Int64("deleted", deleted), zap.Int("retention_days", days))
	}
}
