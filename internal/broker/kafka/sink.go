package kafka

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/localpepas/orderlink/internal/broker/messages"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// EventSink publishes every accepted socket event to a topic, keyed by order
// id so one order's history lands in one partition. Consumed by the replay
// tool.
type EventSink struct {
	producer publisher
	topic    string
}

func NewEventSink(producer *Producer, topic string) *EventSink {
	return &EventSink{producer: producer, topic: topic}
}

func (s *EventSink) Record(ctx context.Context, msg messages.OrderEventRecorded) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	key := []byte(msg.OrderID)
	if len(key) == 0 {
		key = []byte(msg.EventID)
	}
	return s.producer.Publish(ctx, s.topic, key, value)
}
