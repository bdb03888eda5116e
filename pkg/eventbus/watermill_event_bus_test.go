package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/kbforge/kbforge/pkg/channels/gochannel"
	"github.com/kbforge/kbforge/pkg/events"
	"github.com/kbforge/kbforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	defer bus.Close()

	received := make(chan *events.RunFinished, 1)

	require.NoError(t, bus.Handle(events.RunFinishedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.RunFinished)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	started := &events.RunStarted{BaseEvent: events.NewBaseEvent(events.RunStartedEvent, "pipe-1", "run-1")}
	require.NoError(t, bus.Publish(t.Context(), "run-1", started))

	finished := &events.RunFinished{
		BaseEvent:      events.NewBaseEvent(events.RunFinishedEvent, "pipe-1", "run-1"),
		Status:         models.RunStatusCompleted,
		StepsCompleted: 8,
	}
	require.NoError(t, bus.Publish(t.Context(), "run-1", finished))

	select {
	case event := <-received:
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, models.RunStatusCompleted, event.Status)
		assert.Equal(t, uint32(8), event.StepsCompleted)
	case <-time.After(5 * time.Second):
		t.Fatal("run finished event was not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	defer bus.Close()

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}

func TestWatermillEventBus_SeveralHandlers(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	defer bus.Close()

	first := make(chan string, 1)
	second := make(chan string, 1)

	require.NoError(t, bus.Handle(events.PipelineCreatedEvent, func(_ context.Context, event any) error {
		first <- event.(*events.PipelineChanged).Name

		return nil
	}))
	require.NoError(t, bus.Handle(events.PipelineCreatedEvent, func(_ context.Context, event any) error {
		second <- event.(*events.PipelineChanged).Name

		return nil
	}))
	require.Error(t, bus.Handle(events.PipelineCreatedEvent, nil))
	require.NoError(t, bus.Subscribe(t.Context()))

	created := &events.PipelineChanged{
		BaseEvent: events.NewBaseEvent(events.PipelineCreatedEvent, "pipe-1", ""),
		Name:      "docs",
	}
	require.NoError(t, bus.Publish(t.Context(), "pipe-1", created))

	for _, ch := range []chan string{first, second} {
		select {
		case name := <-ch:
			assert.Equal(t, "docs", name)
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline created event was not delivered to every handler")
		}
	}
}

func TestDispatch(t *testing.T) {
	var calls int

	ok := func(context.Context, any) error {
		calls++

		return nil
	}
	failing := func(context.Context, any) error {
		calls++

		return errors.New("handler failed")
	}

	require.NoError(t, Dispatch(t.Context(), []EventHandler{ok, ok}, nil))
	require.ErrorContains(t, Dispatch(t.Context(), []EventHandler{failing, ok}, nil), "handler failed")
	assert.Equal(t, 4, calls)
}

func TestNop(t *testing.T) {
	var publisher EventPublisher = Nop{}

	assert.NoError(t, publisher.Publish(t.Context(), "run-1", &events.RunCancelled{}))
}
