package eventbus

import (
	"fmt"
	"strings"

	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/common/logger"
)

// Provided wraps the active event bus implementation.
type Provided struct {
	Bus    EventBus
	Memory *MemoryEventBus
	NATS   *NATSEventBus
}

// Provide builds the configured event bus implementation: NATS when
// cfg.NATS.URL is set, an in-memory bus otherwise (tests, single-process
// deployments).
func Provide(cfg *config.Config, log *logger.Logger) (*Provided, func() error, error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		cleanup := func() error {
			natsBus.Close()
			return nil
		}
		return &Provided{Bus: natsBus, NATS: natsBus}, cleanup, nil
	}

	memBus := NewMemoryEventBus(log)
	return &Provided{Bus: memBus, Memory: memBus}, func() error { return nil }, nil
}
