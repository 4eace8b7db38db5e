package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huts4u/payout-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes payout status events keyed by payout ID
type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer for topic
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{writer: writer, logger: logger}
}

// PublishStatus writes one status event
func (p *Producer) PublishStatus(ctx context.Context, event model.StatusEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.PayoutID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(event.Outcome)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write status event %s: %w", event.PayoutID, err)
	}

	p.logger.Debug("Published payout status",
		zap.String("payoutId", event.PayoutID),
		zap.String("status", string(event.Status)),
	)
	return nil
}

// Close flushes and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
