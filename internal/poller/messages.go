package poller

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/automation"
	"github.com/driftcloud/agentcore/internal/eventbus"
	v1 "github.com/driftcloud/agentcore/pkg/api/v1"
	"github.com/driftcloud/agentcore/internal/workerrpc"
)

// pollMessages runs the message-ingestion delta algorithm for one agent:
// reprocess the previous tail (the -1 overlap) plus every finalized
// message seen since, plus any trailing streaming entry.
func (p *Poller) pollMessages(ctx context.Context, agent *v1.Agent, target workerrpc.AgentTarget, st *agentState) error {
	conv, err := p.rpc.Conversations(ctx, target, p.rpcCfg.PollTimeout())
	if err != nil {
		return err
	}

	currentCount := 0
	var streaming *workerrpc.ConversationMessage
	for i := range conv {
		if conv[i].IsStreaming {
			streaming = &conv[i]
			continue
		}
		currentCount++
	}

	start := st.lastFinalizedCount - 1
	if start < 0 {
		start = 0
	}

	var added, modified []string
	finalizedIdx := 0
	for i := range conv {
		m := conv[i]
		if m.IsStreaming {
			continue
		}
		idx := finalizedIdx
		finalizedIdx++
		if idx < start {
			continue
		}

		addedID, modifiedID, err := p.ingestFinalized(ctx, agent, &m)
		if err != nil {
			p.log.Error("ingest finalized message failed",
				zap.String("agent_id", agent.ID), zap.Error(err))
			continue
		}
		if addedID != "" {
			added = append(added, addedID)
		}
		if modifiedID != "" {
			modified = append(modified, modifiedID)
		}
	}

	if streaming != nil {
		id, changed, err := p.ingestStreaming(ctx, agent, streaming)
		if err != nil {
			p.log.Error("ingest streaming message failed",
				zap.String("agent_id", agent.ID), zap.Error(err))
		} else if changed {
			modified = append(modified, id)
		}
	}

	st.lastFinalizedCount = currentCount

	if len(added) > 0 || len(modified) > 0 {
		p.publishEventsChanged(ctx, agent.ID, added, modified)
	}
	return nil
}

// ingestFinalized applies one finalized conversation entry to storage,
// returning a non-empty addedID or modifiedID depending on which branch
// of the delta algorithm fired.
func (p *Poller) ingestFinalized(ctx context.Context, agent *v1.Agent, m *workerrpc.ConversationMessage) (addedID, modifiedID string, err error) {
	if m.Content == "" && len(m.Tools) == 0 {
		return "", "", nil
	}

	toolsJSON := encodeTools(m.Tools)
	ts := parseWorkerTime(m.Timestamp)

	if m.SourceUUID != "" {
		existing, err := p.messages.GetBySourceUUID(ctx, agent.ID, m.SourceUUID)
		if err == nil && existing != nil {
			if existing.ToolsJSON != toolsJSON {
				if err := p.messages.UpdateTools(ctx, existing.ID, toolsJSON); err != nil {
					return "", "", err
				}
				return "", existing.ID, nil
			}
			return "", "", nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", "", err
		}
	}

	if m.Role == string(v1.MessageRoleAssistant) {
		if streamRow, err := p.messages.GetStreaming(ctx, agent.ID); err == nil && streamRow != nil {
			if err := p.messages.FinalizeStreaming(ctx, streamRow.ID, m.Content, m.SourceUUID); err != nil {
				return "", "", err
			}
			if toolsJSON != streamRow.ToolsJSON {
				if err := p.messages.UpdateTools(ctx, streamRow.ID, toolsJSON); err != nil {
					return "", "", err
				}
			}
			p.fireToolUseAutomations(ctx, agent, m)
			return "", streamRow.ID, nil
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", "", err
		}
	}

	id := uuid.New().String()
	msg := &v1.Message{
		ID:         id,
		AgentID:    agent.ID,
		Role:       v1.MessageRole(m.Role),
		Content:    m.Content,
		Model:      m.Model,
		Timestamp:  ts,
		TaskID:     agent.CurrentTaskID,
		ToolsJSON:  toolsJSON,
		SourceUUID: m.SourceUUID,
	}
	if err := p.messages.Insert(ctx, msg); err != nil {
		return "", "", err
	}

	if m.Role == string(v1.MessageRoleAssistant) && len(m.Tools) > 0 {
		p.fireToolUseAutomations(ctx, agent, m)
	}
	return id, "", nil
}

// ingestStreaming upserts the agent's unique mutable streaming row.
func (p *Poller) ingestStreaming(ctx context.Context, agent *v1.Agent, m *workerrpc.ConversationMessage) (id string, changed bool, err error) {
	existing, err := p.messages.GetStreaming(ctx, agent.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}
	if existing != nil {
		if existing.Content == m.Content {
			return existing.ID, false, nil
		}
		if err := p.messages.UpdateStreamingContent(ctx, existing.ID, m.Content); err != nil {
			return "", false, err
		}
		return existing.ID, true, nil
	}

	id = uuid.New().String()
	msg := &v1.Message{
		ID:          id,
		AgentID:     agent.ID,
		Role:        v1.MessageRole(m.Role),
		Content:     m.Content,
		Model:       m.Model,
		Timestamp:   parseWorkerTime(m.Timestamp),
		TaskID:      agent.CurrentTaskID,
		ToolsJSON:   encodeTools(m.Tools),
		IsStreaming: true,
	}
	if err := p.messages.Insert(ctx, msg); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// fireToolUseAutomations triggers on_after_read_files / on_after_edit_files
// / on_after_run_command automations keyed by the message's tool calls.
func (p *Poller) fireToolUseAutomations(ctx context.Context, agent *v1.Agent, m *workerrpc.ConversationMessage) {
	for _, t := range m.Tools {
		trigger, ok := toolTrigger(t.Name)
		if !ok {
			continue
		}
		ev := automation.TriggerEvent{
			ProjectID: agent.ProjectID,
			Trigger:   trigger,
		}
		switch trigger {
		case v1.TriggerOnAfterReadFiles, v1.TriggerOnAfterEditFiles:
			ev.FilePaths = []string{t.Input}
		case v1.TriggerOnAfterRunCommand:
			ev.Command = t.Input
		}

		matched, err := p.engine.Match(ctx, ev)
		if err != nil {
			p.log.Error("automation match failed", zap.String("agent_id", agent.ID), zap.Error(err))
			continue
		}
		if len(matched) == 0 {
			continue
		}
		target := workerrpc.AgentTarget{MachineAddress: agent.MachineAddress, SharedKey: agent.MachineSharedKey}
		if _, err := p.engine.Execute(ctx, p.rpc, target, p.rpcCfg.StateLogicTimeout(), agent.ID, matched); err != nil {
			p.log.Error("automation execute failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}
}

// toolTrigger maps a worker-reported tool name to the automation trigger
// it should fire; tools outside the known set never trigger anything.
func toolTrigger(toolName string) (v1.AutomationTriggerType, bool) {
	switch toolName {
	case "Read", "Glob", "Grep":
		return v1.TriggerOnAfterReadFiles, true
	case "Edit", "Write", "MultiEdit", "NotebookEdit":
		return v1.TriggerOnAfterEditFiles, true
	case "Bash":
		return v1.TriggerOnAfterRunCommand, true
	default:
		return "", false
	}
}

func (p *Poller) publishEventsChanged(ctx context.Context, agentID string, added, modified []string) {
	if p.bus == nil {
		return
	}
	data := eventbus.AgentEventsChangedData{AgentID: agentID, AddedMessageIDs: added, ModifiedMessageIDs: modified}
	event, err := eventbus.NewTypedEvent(eventbus.SubjectAgentEventsChanged, "poller", data)
	if err != nil {
		p.log.Debug("build agent events changed event failed", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	if err := p.bus.Publish(ctx, eventbus.SubjectAgentEventsChanged, event); err != nil {
		p.log.Debug("publish agent events changed failed", zap.String("agent_id", agentID), zap.Error(err))
	}
}

func encodeTools(tools []workerrpc.ConversationTool) string {
	if len(tools) == 0 {
		return ""
	}
	b, err := jsonMarshal(tools)
	if err != nil {
		return ""
	}
	return string(b)
}

func parseWorkerTime(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
