package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr: kafka.TCP(brokers...),

			// Same key lands in the same partition, so events of one deposit stay ordered
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,

			// Callers bound Publish with a context; keep the writer's own retries short too
			MaxAttempts:  3,
			WriteTimeout: 2 * time.Second,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, topic string, key string, payload any) error {
	msg, err := newMessage(topic, key, payload)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("can't publish to %s. Err: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func newMessage(topic string, key string, payload any) (kafka.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("can't encode %s event. Err: %w", topic, err)
	}

	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}, nil
}
