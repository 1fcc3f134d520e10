package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
)

const todoEventsStream = "TODO_EVENTS"

// EnsureEventStream creates (or validates) the stream backing the todo
// change feed: todo.event.>
func EnsureEventStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(todoEventsStream); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, addErr := js.AddStream(&nats.StreamConfig{
				Name:      todoEventsStream,
				Subjects:  []string{"todo.event.>"},
				Retention: nats.LimitsPolicy,
				Storage:   nats.FileStorage,
				Replicas:  1,
			}); addErr != nil {
				return addErr
			}
		} else {
			return err
		}
	}

	return nil
}
