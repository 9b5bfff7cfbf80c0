package eventbus

// Subjects published by the controller. Peers (UI, dashboards) subscribe
// to these; the controller never subscribes to its own state-change
// subjects, only publishes them.
const (
	SubjectAgentStateChanged  = "agent.state_changed"
	SubjectAgentEventsChanged = "agent.events_changed" // messages added/modified
	SubjectContextWarning     = "agent.context_warning"
	SubjectAutomationEvent    = "automation.event"

	// SubjectBusReconnected fires after a NATS reconnect. Subscribers that
	// cache state off agent.state_changed (dashboards, UIs) may have missed
	// updates during the outage and should treat this as a cue to refetch.
	SubjectBusReconnected = "bus.reconnected"
)

// AgentEventsChangedData is the payload for SubjectAgentEventsChanged,
// matching the "emitAgentEventsChanged" collaborator contract.
type AgentEventsChangedData struct {
	AgentID          string   `json:"agentId"`
	AddedMessageIDs  []string `json:"addedMessageIds,omitempty"`
	ModifiedMessageIDs []string `json:"modifiedMessageIds,omitempty"`
}

// AgentStateChangedData is the payload for SubjectAgentStateChanged.
type AgentStateChangedData struct {
	AgentID   string `json:"agentId"`
	FromState string `json:"fromState"`
	ToState   string `json:"toState"`
	Reason    string `json:"reason,omitempty"`
}

// ContextWarningData is the payload for SubjectContextWarning, published
// each time remaining context budget crosses the next warning threshold.
type ContextWarningData struct {
	AgentID          string `json:"agentId"`
	RemainingPercent int    `json:"remainingPercent"`
	Threshold        int    `json:"threshold"`
}
