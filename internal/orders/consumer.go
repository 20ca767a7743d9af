package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/engagehub/backend/internal/models"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads OrderPaid events from Kafka. A message is committed only
// after intake succeeded or the payload was rejected as invalid, so transient
// failures are retried in place.
type Consumer struct {
	reader     messageReader
	intake     *Intake
	log        *slog.Logger
	retryDelay time.Duration
	maxDelay   time.Duration
}

func NewConsumer(cfg ConsumerConfig, intake *Intake, log *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka: topic and group id required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return newConsumer(r, intake, log), nil
}

func newConsumer(r messageReader, intake *Intake, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{reader: r, intake: intake, log: log, retryDelay: 500 * time.Millisecond, maxDelay: 30 * time.Second}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch order message: %w", err)
		}
		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit order message: %w", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	delay := c.retryDelay
	for {
		res, err := c.intake.HandleOrderPaid(ctx, msg.Value)
		switch {
		case err == nil:
			c.log.Info("order consumed", "order_id", res.OrderID, "created", res.Created, "entries", res.Entries, "offset", msg.Offset)
			return nil
		case errors.Is(err, models.ErrInvalidOrder):
			c.log.Error("dropping invalid order message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			return nil
		}
		c.log.Warn("order intake failed, retrying", "offset", msg.Offset, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, c.maxDelay)
	}
}
