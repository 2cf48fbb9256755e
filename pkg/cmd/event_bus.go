package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/stagegate/stagegate/pkg/channels/gochannel"
	"github.com/stagegate/stagegate/pkg/channels/kafka"
	"github.com/stagegate/stagegate/pkg/eventbus"
)

// NewEventBus creates the execution event bus. "kafka" is the production
// transport; "memory" keeps everything in-process for single-binary runs and
// tests.
func NewEventBus(provider string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, "stagegate")
		if err != nil {
			return nil, fmt.Errorf("creating kafka channel: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "memory", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("creating in-memory channel: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
