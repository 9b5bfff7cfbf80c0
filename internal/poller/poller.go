// Package poller runs the scheduled, per-agent data-ingestion cycle:
// conversation messages, automation events/actions, context events, PR
// state, and git history, fanned out in parallel with per-subsystem
// throttling and bounded overall concurrency.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/driftcloud/agentcore/internal/automation"
	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/credentials"
	"github.com/driftcloud/agentcore/internal/eventbus"
	"github.com/driftcloud/agentcore/internal/storage"
	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// ActionHandler lets the controller react to worker-requested automation
// side effects (stop_agent, queue_prompt) without the poller needing to
// know anything about the state machine.
type ActionHandler interface {
	HandleAutomationAction(ctx context.Context, agent *v1.Agent, action workerrpc.AutomationActionWire)
}

// Poller owns the scheduled fan-out poll cycle over every pollable agent.
type Poller struct {
	agents           *storage.AgentRepository
	messages         *storage.MessageRepository
	commits          *storage.CommitRepository
	automationEvents *storage.AutomationEventRepository
	contextEvents    *storage.ContextEventRepository
	engine           *automation.Engine
	rpc              *workerrpc.Client
	gitHost          credentials.GitHostClient
	bus              eventbus.EventBus
	actions          ActionHandler
	log              *logger.Logger

	agentCfg config.AgentConfig
	rpcCfg   config.WorkerRPCConfig

	state *stateTable
	sem   *semaphore.Weighted

	lastContextPrune time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Deps bundles the poller's collaborators, built once at wiring time.
type Deps struct {
	Agents           *storage.AgentRepository
	Messages         *storage.MessageRepository
	Commits          *storage.CommitRepository
	AutomationEvents *storage.AutomationEventRepository
	ContextEvents    *storage.ContextEventRepository
	Engine           *automation.Engine
	RPC              *workerrpc.Client
	GitHost          credentials.GitHostClient // may be nil
	Bus              eventbus.EventBus         // may be nil
	Actions          ActionHandler
	AgentConfig      config.AgentConfig
	RPCConfig        config.WorkerRPCConfig
	Log              *logger.Logger
}

// New builds a Poller from its collaborators.
func New(d Deps) *Poller {
	maxConcurrent := int64(d.AgentConfig.MaxConcurrentPolls)
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	return &Poller{
		agents:           d.Agents,
		messages:         d.Messages,
		commits:          d.Commits,
		automationEvents: d.AutomationEvents,
		contextEvents:    d.ContextEvents,
		engine:           d.Engine,
		rpc:              d.RPC,
		gitHost:          d.GitHost,
		bus:              d.Bus,
		actions:          d.Actions,
		agentCfg:         d.AgentConfig,
		rpcCfg:           d.RPCConfig,
		log:              d.Log.WithFields(zap.String("component", "poller")),
		state:            newStateTable(),
		sem:              semaphore.NewWeighted(maxConcurrent),
	}
}

// Start begins the scheduled poll loop. Calling Start twice without Stop
// is a no-op.
func (p *Poller) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)

	interval := time.Duration(p.agentCfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}

	p.wg.Add(1)
	go p.loop(ctx, interval)
	p.log.Info("poller started", zap.Duration("interval", interval))
}

// Stop cancels the poll loop and waits for in-flight cycles to drain.
func (p *Poller) Stop() {
	if !p.started {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.started = false
	p.log.Info("poller stopped")
}

func (p *Poller) loop(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle fans out one poll pass across every pollable agent, bounded
// by the configured concurrency cap, and prunes per-agent throttle state
// for agents no longer in the live set.
func (p *Poller) runCycle(ctx context.Context) {
	agents, err := p.agents.ListPollable(ctx)
	if err != nil {
		p.log.Error("list pollable agents failed", zap.Error(err))
		return
	}

	live := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		live[a.ID] = struct{}{}
	}
	p.state.prune(live)
	p.pruneContextEvents(ctx)

	var wg sync.WaitGroup
	for _, a := range agents {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return // context cancelled
		}
		wg.Add(1)
		go func(agent *v1.Agent) {
			defer wg.Done()
			defer p.sem.Release(1)
			p.cycleOne(ctx, agent)
		}(a)
	}
	wg.Wait()
}

// cycleOne runs the per-agent fan-out: the conversation/automation/
// context/PR subtasks run synchronously with allSettled semantics (a
// failure in one never aborts the others); git history is launched
// fire-and-forget on its own goroutine and timeout.
func (p *Poller) cycleOne(ctx context.Context, agent *v1.Agent) {
	st := p.state.get(agent.ID)
	target := workerrpc.AgentTarget{MachineAddress: agent.MachineAddress, SharedKey: agent.MachineSharedKey}

	var sub sync.WaitGroup
	sub.Add(4)

	go func() {
		defer sub.Done()
		if err := p.pollMessages(ctx, agent, target, st); err != nil {
			p.log.Debug("poll messages failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}()
	go func() {
		defer sub.Done()
		if err := p.pollAutomationEvents(ctx, agent, target); err != nil {
			p.log.Debug("poll automation events failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}()
	go func() {
		defer sub.Done()
		actions, err := p.pollAutomationActions(ctx, target)
		if err != nil {
			p.log.Debug("poll automation actions failed", zap.String("agent_id", agent.ID), zap.Error(err))
			return
		}
		if p.actions == nil {
			return
		}
		for _, a := range actions {
			p.actions.HandleAutomationAction(ctx, agent, a)
		}
	}()
	go func() {
		defer sub.Done()
		if err := p.pollContextEvents(ctx, agent, target); err != nil {
			p.log.Debug("poll context events failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}()
	sub.Wait()

	p.pollPRState(ctx, agent, st)

	go func() {
		gitCtx, cancel := context.WithTimeout(context.Background(), p.rpcCfg.CommitPushTimeout())
		defer cancel()
		p.pollGitHistory(gitCtx, agent, target, st)
	}()
}
