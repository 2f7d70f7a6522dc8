// Package kafka publishes turn events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/events"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/logger"
)

// DefaultTopic receives TurnCommitted events when no topic is configured.
const DefaultTopic = "helix.turns"

// messageWriter is the part of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config configures a Publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Publisher writes events keyed by session ID so one session's turns land on
// one partition in commit order.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// withWriter swaps the Kafka writer, for tests.
func withWriter(w messageWriter) Option {
	return func(p *Publisher) {
		p.writer = w
	}
}

// New returns a Publisher for cfg. The connection is opened lazily on the
// first write.
func New(cfg Config, opts ...Option) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	p := &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			WriteTimeout:           cfg.WriteTimeout,
			AllowAutoTopicCreation: true,
		},
		topic:  cfg.Topic,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish encodes ev and writes it synchronously.
func (p *Publisher) Publish(ctx context.Context, ev *events.TurnCommitted) error {
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Time:  ev.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "schema_version", Value: []byte(fmt.Sprint(ev.SchemaVersion))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s to %s: %w", ev.EventID, p.topic, err)
	}

	p.logger.Debug("event published", "topic", p.topic, "event_id", ev.EventID, "session", ev.SessionID)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ events.Publisher = (*Publisher)(nil)
