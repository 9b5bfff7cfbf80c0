package eventbus

import "testing"

func TestNewTypedEvent(t *testing.T) {
	event, err := NewTypedEvent(SubjectAgentStateChanged, "controller", AgentStateChangedData{
		AgentID:   "agent-1",
		FromState: "IDLE",
		ToState:   "RUNNING",
		Reason:    "prompt dispatched",
	})
	if err != nil {
		t.Fatalf("NewTypedEvent: %v", err)
	}
	if event.Type != SubjectAgentStateChanged || event.Source != "controller" {
		t.Errorf("unexpected event envelope: %+v", event)
	}
	if event.Data["agentId"] != "agent-1" || event.Data["toState"] != "RUNNING" {
		t.Errorf("expected payload fields in Data, got %+v", event.Data)
	}
	if _, ok := event.Data["reason"]; !ok {
		t.Errorf("expected reason field present, got %+v", event.Data)
	}
}

func TestNewTypedEventOmitsEmptyOptionalFields(t *testing.T) {
	event, err := NewTypedEvent(SubjectContextWarning, "controller", ContextWarningData{
		AgentID:          "agent-2",
		RemainingPercent: 10,
		Threshold:        10,
	})
	if err != nil {
		t.Fatalf("NewTypedEvent: %v", err)
	}
	if event.Data["remainingPercent"].(float64) != 10 {
		t.Errorf("expected remainingPercent 10, got %+v", event.Data["remainingPercent"])
	}
}
