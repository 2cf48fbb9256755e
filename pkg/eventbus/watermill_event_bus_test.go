package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stagegate/stagegate/pkg/channels/gochannel"
	"github.com/stagegate/stagegate/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	defer func() { _ = bus.Close() }()

	received := make(chan *events.NodeCompleted, 1)

	err = bus.Handle(events.NodeCompletedEvent, func(_ context.Context, event interface{}) error {
		completed, ok := event.(*events.NodeCompleted)
		require.True(t, ok)
		received <- completed

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	event := events.NodeCompleted{
		BaseEvent: events.NewBaseEvent(events.NodeCompletedEvent, "wf-1"),
		NodeID:    "build",
		Phase:     "implementation",
		Score:     0.9,
	}

	require.NoError(t, bus.Publish(ctx, "wf-1", event))

	select {
	case got := <-received:
		assert.Equal(t, "build", got.NodeID)
		assert.Equal(t, "implementation", got.Phase)
		assert.InDelta(t, 0.9, got.Score, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	defer func() { _ = bus.Close() }()

	assert.NotEmpty(t, bus.GenerateID())
	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
