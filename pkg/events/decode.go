package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEventType = errors.New("unknown event type")

// Decode unmarshals payload into the struct registered for eventType and
// returns a pointer to it.
func Decode(eventType EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case PipelineCreatedEvent, PipelineUpdatedEvent, PipelineDeletedEvent:
		event = &PipelineChanged{}
	case RunStartedEvent:
		event = &RunStarted{}
	case RunFinishedEvent:
		event = &RunFinished{}
	case RunCancelledEvent:
		event = &RunCancelled{}
	case StepStartedEvent:
		event = &StepStarted{}
	case StepFinishedEvent:
		event = &StepFinished{}
	case StepRetriedEvent:
		event = &StepRetried{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
