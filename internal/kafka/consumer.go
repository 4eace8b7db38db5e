package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/huts4u/payout-service/internal/model"
	"github.com/huts4u/payout-service/internal/service"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RunRequestedEvent asks the service to process due payouts now
type RunRequestedEvent struct {
	Limit       int    `json:"limit"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// Runner processes due payouts
type Runner interface {
	RunDuePayouts(ctx context.Context, limit int) ([]model.Result, error)
}

// Consumer consumes payout.run events and triggers a batch run
type Consumer struct {
	reader *kafka.Reader
	runner Runner
	logger *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic string, groupID string, runner Runner, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{
		reader: reader,
		runner: runner,
		logger: logger,
	}
}

// Start starts consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.reader.Config().Topic))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to read message", zap.Error(err))
				continue
			}

			if err := c.handleMessage(ctx, msg); err != nil {
				c.logger.Error("Failed to handle message",
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event RunRequestedEvent
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
	}
	if event.Limit < 0 {
		return fmt.Errorf("invalid limit %d", event.Limit)
	}

	c.logger.Info("Received payout.run event",
		zap.Int("limit", event.Limit),
		zap.String("requestedBy", event.RequestedBy),
	)

	results, err := c.runner.RunDuePayouts(service.WithTrigger(ctx, "kafka"), event.Limit)
	if err != nil {
		return fmt.Errorf("run due payouts: %w", err)
	}

	summary := model.Summarize(results)
	c.logger.Info("Payout run finished",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)

	return nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
