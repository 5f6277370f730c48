package kafka

import (
	"context"
	"encoding/json"

	"CharChat/service/chatclient"
	"CharChat/tools/errs"

	"github.com/Shopify/sarama"
)

// EventSink writes every client event to one topic keyed by chat id, so the
// events of a chat keep their order within a partition.
type EventSink struct {
	prod  sarama.SyncProducer
	topic string
}

func NewEventSink(prod sarama.SyncProducer, topic string) *EventSink {
	return &EventSink{prod: prod, topic: topic}
}

func (s *EventSink) buildMessage(ev chatclient.Event) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.ChatID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-kind"), Value: []byte(ev.Kind)},
		},
		Timestamp: ev.At,
	}, nil
}

// Publish blocks until the broker acknowledged the event. The sync producer
// has no context support, ctx is only checked up front.
func (s *EventSink) Publish(ctx context.Context, ev chatclient.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.buildMessage(ev)
	if err != nil {
		return err
	}
	if _, _, err := s.prod.SendMessage(msg); err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", s.topic, "kind", ev.Kind)
	}
	return nil
}

func (s *EventSink) Close() error { return s.prod.Close() }
