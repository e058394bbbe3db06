package queue

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Consumer reads one topic as part of a consumer group. Offsets are only
// committed explicitly, after the messages are stored.
type Consumer struct {
	topic  string
	reader *kafka.Reader
}

// NewConsumer joins groupID on topic. A new group starts from the oldest
// retained message.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		topic: topic,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
	}
}

// Consume blocks until the next message arrives or ctx ends
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch from %s: %w", c.topic, err)
	}
	return msg, nil
}

func (c *Consumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit %d offsets on %s: %w", len(msgs), c.topic, err)
	}
	return nil
}

// Stats reports the reader counters since the previous call
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
