// Package eventbus publishes pipeline and run events to interested subscribers.
package eventbus

import (
	"context"
	"errors"

	"github.com/kbforge/kbforge/pkg/events"
)

// Event is any value from the events package.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends an event. Events sharing a key keep their order on
// partitioned transports, so runs use the run ID as key.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler receives a pointer to the decoded event struct.
type EventHandler func(ctx context.Context, event any) error

// EventSubscriber collects handlers, then starts delivery with Subscribe.
// Handlers registered for the same type all run, in registration order.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Nop drops every event. It stands in when no bus is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }

// Dispatch runs every handler on event and joins their errors.
func Dispatch(ctx context.Context, handlers []EventHandler, event any) error {
	var errs []error

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
