package eventbus

import (
	"context"
	"testing"
)

func TestMemoryEventBusSubscriberCount(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	if count := bus.SubscriberCount(SubjectAgentStateChanged); count != 0 {
		t.Fatalf("expected 0 subscribers before any Subscribe, got %d", count)
	}

	sub, err := bus.Subscribe(SubjectAgentStateChanged, func(ctx context.Context, event *Event) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if count := bus.SubscriberCount(SubjectAgentStateChanged); count != 1 {
		t.Errorf("expected 1 subscriber after Subscribe, got %d", count)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if count := bus.SubscriberCount(SubjectAgentStateChanged); count != 0 {
		t.Errorf("expected 0 subscribers after Unsubscribe, got %d", count)
	}
}
