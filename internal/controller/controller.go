// Package controller implements the agent lifecycle controller: the
// per-agent state machine that provisions worker machines, drives
// agents through their operational states, pumps prompts, and reacts to
// failure. It is the only mutator of Agent.state.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/automation"
	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/credentials"
	"github.com/driftcloud/agentcore/internal/eventbus"
	"github.com/driftcloud/agentcore/internal/machinepool"
	"github.com/driftcloud/agentcore/internal/storage"
	"github.com/driftcloud/agentcore/internal/workerrpc"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
)

// lifecycleState is the process-local bookkeeping the controller keeps
// per agent, outside of storage. Only the controller's own tick
// goroutine for that agent mutates it; the sweeper only deletes whole
// entries for agents no longer in the live set.
type lifecycleState struct {
	consecutiveFailures       int
	nextContextThreshold      int // percent; fires when remainingPercent drops below this
	unproductiveRunningStart  time.Time
	lastControlPlaneTokenPush time.Time
}

const initialContextThreshold = 70

func newLifecycleState() *lifecycleState {
	return &lifecycleState{nextContextThreshold: initialContextThreshold}
}

// Controller owns the per-agent state machine.
type Controller struct {
	agents        *storage.AgentRepository
	prompts       *storage.PromptRepository
	commits       *storage.CommitRepository
	messages      *storage.MessageRepository
	contextEvents *storage.ContextEventRepository
	engine        *automation.Engine
	rpc           *workerrpc.Client
	pool          *machinepool.Pool
	creds         *credentials.Service
	bus           eventbus.EventBus
	log           *logger.Logger

	agentCfg config.AgentConfig
	rpcCfg   config.WorkerRPCConfig

	mu        sync.Mutex
	lifecycle map[string]*lifecycleState

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Agents        *storage.AgentRepository
	Prompts       *storage.PromptRepository
	Commits       *storage.CommitRepository
	Messages      *storage.MessageRepository
	ContextEvents *storage.ContextEventRepository
	Engine        *automation.Engine
	RPC           *workerrpc.Client
	Pool          *machinepool.Pool
	Creds         *credentials.Service
	Bus           eventbus.EventBus // may be nil
	AgentConfig   config.AgentConfig
	RPCConfig     config.WorkerRPCConfig
	Log           *logger.Logger
}

// New builds a Controller from its collaborators.
func New(d Deps) *Controller {
	return &Controller{
		agents:        d.Agents,
		prompts:       d.Prompts,
		commits:       d.Commits,
		messages:      d.Messages,
		contextEvents: d.ContextEvents,
		engine:        d.Engine,
		rpc:           d.RPC,
		pool:          d.Pool,
		creds:         d.Creds,
		bus:           d.Bus,
		agentCfg:      d.AgentConfig,
		rpcCfg:        d.RPCConfig,
		log:           d.Log.WithFields(zap.String("component", "controller")),
		lifecycle:     make(map[string]*lifecycleState),
	}
}

// transition persists a state change and publishes it on the event bus,
// so UIs and dashboards see every move the controller makes without
// polling the agent row.
func (c *Controller) transition(ctx context.Context, agent *v1.Agent, toState v1.AgentState, reason string) error {
	fromState := agent.State
	if err := c.agents.SetState(ctx, agent.ID, toState, reason); err != nil {
		return err
	}
	agent.State = toState
	c.publishStateChanged(ctx, agent.ID, fromState, toState, reason)
	return nil
}

// publishStateChanged emits SubjectAgentStateChanged directly, for
// callers that persisted the transition themselves (e.g. via a full-row
// Update that also clears other fields).
func (c *Controller) publishStateChanged(ctx context.Context, agentID string, fromState, toState v1.AgentState, reason string) {
	if c.bus == nil {
		return
	}
	event, err := eventbus.NewTypedEvent(eventbus.SubjectAgentStateChanged, "controller", eventbus.AgentStateChangedData{
		AgentID:   agentID,
		FromState: string(fromState),
		ToState:   string(toState),
		Reason:    reason,
	})
	if err != nil {
		c.log.Warn("build state changed event failed", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	_ = c.bus.Publish(ctx, eventbus.SubjectAgentStateChanged, event)
}

func (c *Controller) stateFor(agentID string) *lifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lifecycle[agentID]
	if !ok {
		s = newLifecycleState()
		c.lifecycle[agentID] = s
	}
	return s
}

// sweep prunes lifecycle state for agents no longer in the running set,
// keeping the in-memory map from growing unbounded as agents churn.
func (c *Controller) sweep(ctx context.Context) {
	agents, err := c.agents.ListPollable(ctx)
	if err != nil {
		c.log.Error("sweep: list pollable agents failed", zap.Error(err))
		return
	}
	live := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		live[a.ID] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.lifecycle {
		if _, ok := live[id]; !ok {
			delete(c.lifecycle, id)
		}
	}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	UserID          string
	ProjectID       string
	Name            string
	BaseBranch      string
	RepoFullName    string
	MachineType     v1.MachineType
	CustomMachineID string
}

// Create registers a new agent in PROVISIONING, grants the creator
// access, and fires provisioning in the background.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (string, error) {
	machineType := req.MachineType
	if machineType == "" {
		machineType = v1.MachineTypePool
	}

	agent := &v1.Agent{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		ProjectID:     req.ProjectID,
		Name:          req.Name,
		RepoFullName:  req.RepoFullName,
		BranchName:    fmt.Sprintf("agentcore/%s", uuid.New().String()[:8]),
		MachineType:   machineType,
		State:         v1.AgentStateProvisioning,
		LifetimeUnits: 1,
	}
	if err := c.agents.Create(ctx, agent); err != nil {
		return "", fmt.Errorf("controller: create agent: %w", err)
	}

	grant := &v1.AccessGrant{ID: uuid.New().String(), AgentID: agent.ID, UserID: req.UserID, Role: v1.AccessGrantRoleOwner}
	if err := c.agents.GrantAccess(ctx, grant); err != nil {
		c.log.Error("grant owner access failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}

	go c.runProvisioning(context.Background(), agent, req.CustomMachineID)

	return agent.ID, nil
}

// resumeCommon resets machine-related fields while preserving
// machineType, then re-enters PROVISIONING and re-fires the background
// provisioning flow. Shared by resumeArchived and resumeError.
func (c *Controller) resumeCommon(ctx context.Context, agentID string) (*v1.Agent, error) {
	agent, err := c.agents.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("controller: get agent: %w", err)
	}

	fromState := agent.State
	agent.MachineID = ""
	agent.MachineAddress = ""
	agent.MachineSharedKey = ""
	agent.ServicePreviewToken = ""
	agent.State = v1.AgentStateProvisioning
	agent.ErrorMessage = ""
	agent.ProvisionedAt = nil
	if err := c.agents.Update(ctx, agent); err != nil {
		return nil, fmt.Errorf("controller: persist resume: %w", err)
	}
	c.publishStateChanged(ctx, agent.ID, fromState, v1.AgentStateProvisioning, "")
	return agent, nil
}

// ResumeArchived re-provisions an ARCHIVED agent.
func (c *Controller) ResumeArchived(ctx context.Context, agentID string) error {
	agent, err := c.resumeCommon(ctx, agentID)
	if err != nil {
		return err
	}
	go c.runProvisioning(context.Background(), agent, "")
	return nil
}

// ResumeError re-provisions an agent stuck in ERROR.
func (c *Controller) ResumeError(ctx context.Context, agentID string) error {
	agent, err := c.resumeCommon(ctx, agentID)
	if err != nil {
		return err
	}
	go c.runProvisioning(context.Background(), agent, "")
	return nil
}

// QueuePrompt appends a prompt to the agent's FIFO queue.
func (c *Controller) QueuePrompt(ctx context.Context, agentID, promptText string, model v1.PromptModel) (string, error) {
	p := &v1.Prompt{ID: uuid.New().String(), AgentID: agentID, Prompt: promptText, Model: model}
	if err := c.prompts.Enqueue(ctx, p); err != nil {
		return "", fmt.Errorf("controller: enqueue prompt: %w", err)
	}
	return p.ID, nil
}

// Interrupt signals the worker, finishes running prompts, clears the
// gate flags, and forces IDLE. A worker-not-initialized error is treated
// as unrecoverable for this action: state is left untouched.
func (c *Controller) Interrupt(ctx context.Context, agentID string) error {
	agent, err := c.agents.Get(ctx, agentID)
	if err != nil {
		return fmt.Errorf("controller: get agent: %w", err)
	}
	target := workerrpc.AgentTarget{MachineAddress: agent.MachineAddress, SharedKey: agent.MachineSharedKey}

	if err := c.rpc.Interrupt(ctx, target, c.rpcCfg.StateLogicTimeout()); err != nil {
		if workerrpc.IsNotInitialized(err) {
			return fmt.Errorf("controller: worker not initialized, refusing to clear state: %w", err)
		}
		return fmt.Errorf("controller: interrupt: %w", err)
	}

	if err := c.prompts.FinishRunning(ctx, agentID); err != nil {
		c.log.Error("finish running prompts on interrupt failed", zap.String("agent_id", agentID), zap.Error(err))
	}

	fromState := agent.State
	agent.PendingCommitTriggered = false
	agent.PendingPushPrTriggered = false
	agent.State = v1.AgentStateIdle
	if err := c.agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("controller: persist interrupt: %w", err)
	}
	c.publishStateChanged(ctx, agent.ID, fromState, v1.AgentStateIdle, "")
	return nil
}

// Trash marks an agent trashed; the controller's tick/poll loops skip it
// thereafter without altering its state.
func (c *Controller) Trash(ctx context.Context, agentID string) error {
	return c.agents.Trash(ctx, agentID)
}

// Untrash re-admits a trashed agent.
func (c *Controller) Untrash(ctx context.Context, agentID string) error {
	return c.agents.Untrash(ctx, agentID)
}

// Run begins the state-logic tick loop: one pass over every pollable
// agent at the configured cadence, plus a periodic sweep of lifecycle
// maps. Named distinctly from the Start lifecycle operation (provisioning
// operation, see provisioning.go), which this is not.
func (c *Controller) Run(ctx context.Context) {
	if c.started {
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)

	interval := time.Duration(c.agentCfg.StateLogicIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 3 * time.Second
	}

	c.wg.Add(1)
	go c.tickLoop(ctx, interval)
	c.log.Info("controller started", zap.Duration("interval", interval))
}

// Shutdown cancels the tick loop and waits for the in-flight pass to drain.
func (c *Controller) Shutdown() {
	if !c.started {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.started = false
	c.log.Info("controller stopped")
}

func (c *Controller) tickLoop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweepEvery := 10
	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runTick(ctx)
			tick++
			if tick%sweepEvery == 0 {
				c.sweep(ctx)
			}
		}
	}
}

func (c *Controller) runTick(ctx context.Context) {
	agents, err := c.agents.ListPollable(ctx)
	if err != nil {
		c.log.Error("tick: list pollable agents failed", zap.Error(err))
		return
	}
	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(agent *v1.Agent) {
			defer wg.Done()
			c.stepState(ctx, agent)
		}(a)
	}
	wg.Wait()
}
