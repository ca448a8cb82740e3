// Package kafka publishes notifications to a Kafka topic for downstream delivery
// channels (email, chat, mobile push).
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/execution-hub/bizrules/internal/domain/notification"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "bizrules.notifications"

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink implements notification.Sink on top of an asynchronous kafka writer.
type Sink struct {
	w      messageWriter
	logger zerolog.Logger
}

// NewSink creates an async publisher. Writes return once the message is buffered;
// delivery failures are reported to the logger.
func NewSink(brokers []string, topic string, logger zerolog.Logger) *Sink {
	if topic == "" {
		topic = DefaultTopic
	}
	l := logger.With().Str("component", "kafka_sink").Str("topic", topic).Logger()
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				l.Warn().Err(err).Int("count", len(msgs)).Msg("notification publish failed")
			}
		},
	}
	return &Sink{w: w, logger: l}
}

func newSinkWithWriter(w messageWriter, logger zerolog.Logger) *Sink {
	return &Sink{w: w, logger: logger}
}

// Send implements notification.Sink. Messages are keyed by user so one user's
// notifications stay ordered within a partition.
func (s *Sink) Send(ctx context.Context, n *notification.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.UserID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
			{Key: "priority", Value: []byte(n.Priority)},
		},
	})
}

// Close flushes buffered messages.
func (s *Sink) Close() error {
	return s.w.Close()
}
