package eventbus

import "github.com/nats-io/nats.go"

// natsSubscription wraps a NATS subscription to implement the Subscription interface
type natsSubscription struct {
	sub *nats.Subscription
}

// Unsubscribe removes the subscription from the server
func (s *natsSubscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// IsValid returns whether the subscription is still active
func (s *natsSubscription) IsValid() bool {
	if s.sub == nil {
		return false
	}
	return s.sub.IsValid()
}

// PendingCount reports how many delivered messages are queued but not yet
// processed by the handler, the NATS-side counterpart to
// MemoryEventBus.SubscriberCount for diagnosing a slow subscriber.
func (s *natsSubscription) PendingCount() (int, error) {
	if s.sub == nil {
		return 0, nil
	}
	count, _, err := s.sub.Pending()
	return count, err
}

