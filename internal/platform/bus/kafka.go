package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers  []string
	ClientID string
}

// KafkaPublisher publishes envelopes to Kafka, one topic per event type.
type KafkaPublisher struct {
	writer   *kafka.Writer
	clientID string
}

// NewKafkaPublisher builds a writer that routes by message topic.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		BatchSize:              100,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, clientID: cfg.ClientID}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	env, err := envelope(ctx, topic, key, payload)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, toMessage(env, p.clientID)); err != nil {
		return fmt.Errorf("bus: kafka write %s: %w", topic, err)
	}
	return nil
}

func toMessage(env Envelope, producer string) kafka.Message {
	return kafka.Message{
		Topic: env.Topic,
		Key:   []byte(env.Key),
		Value: env.Payload,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(env.ID)},
			{Key: "occurred-at", Value: []byte(env.OccurredAt.Format(time.RFC3339Nano))},
			{Key: "producer", Value: []byte(producer)},
		},
	}
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
