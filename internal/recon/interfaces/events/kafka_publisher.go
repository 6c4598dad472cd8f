package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/segmentio/kafka-go"

	recon "ledger-recon/internal/recon/domain"
)

// DefaultTopic receives every reconciliation event.
const DefaultTopic = "recon-events"

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes enveloped events to a Kafka topic, keyed by
// aggregate id so events of one payout stay ordered.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher constructs a publisher writing to brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("recon kafka: no brokers")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:     kafka.TCP(addrs...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
}

// NewKafkaPublisherWithWriter constructs a publisher over an existing writer.
func NewKafkaPublisherWithWriter(writer MessageWriter) (*KafkaPublisher, error) {
	if writer == nil {
		return nil, errors.New("recon kafka: nil writer")
	}
	return &KafkaPublisher{writer: writer}, nil
}

func (p *KafkaPublisher) PublishPairConfirmed(ctx context.Context, event recon.PairConfirmed) error {
	return p.publish(ctx, event)
}

func (p *KafkaPublisher) PublishBookingsSettled(ctx context.Context, event recon.BookingsSettled) error {
	return p.publish(ctx, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, event any) error {
	env, err := BuildEnvelope(event)
	if err != nil {
		return err
	}
	return p.Send(ctx, env)
}

// Send writes one envelope. The outbox relay calls it for stored events.
func (p *KafkaPublisher) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.AggregateID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
		},
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
