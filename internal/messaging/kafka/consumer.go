// Package kafka consumes order-created events from Kafka and publishes
// order and dead-letter messages.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/nsridhar76/go-orderms/internal/domain"
	"github.com/nsridhar76/go-orderms/internal/messaging"
)

// Reader is the part of *kafkago.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// OrderSaver records an order from its creation event.
type OrderSaver interface {
	SaveFromEvent(ctx context.Context, ev messaging.OrderCreatedEvent) (domain.Order, error)
}

// DeadLetterPublisher parks messages that can never be processed.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, msg kafkago.Message, reason error) error
}

// Deduplicator remembers order ids the store has already recorded. Mark is
// only called after a successful save, so Seen never hides an unsaved order.
type Deduplicator interface {
	Seen(ctx context.Context, orderID int64) (bool, error)
	Mark(ctx context.Context, orderID int64) error
}

// Backoff configures the delay between attempts at a failing message.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff starts at 200ms and doubles up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Base: 200 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}
}

func (b Backoff) next(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * b.Multiplier)
	if d > b.Max {
		d = b.Max
	}
	return d
}

// NewReader returns a consumer-group reader for topic.
func NewReader(brokers []string, topic, groupID string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Consumer reads order-created events and records them. Offsets are
// committed only after a message is settled: saved, skipped as a duplicate,
// or dead-lettered.
type Consumer struct {
	reader  Reader
	orders  OrderSaver
	dlq     DeadLetterPublisher
	dedup   Deduplicator
	backoff Backoff
	logger  *slog.Logger
}

func NewConsumer(reader Reader, orders OrderSaver, dlq DeadLetterPublisher, dedup Deduplicator, backoff Backoff, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		orders:  orders,
		dlq:     dlq,
		dedup:   dedup,
		backoff: backoff,
		logger:  logger,
	}
}

// Run consumes until ctx is cancelled, which is not reported as an error.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
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
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// process settles one message. Store failures are retried until they
// succeed or ctx ends; any other failure sends the message to the
// dead-letter publisher.
func (c *Consumer) process(ctx context.Context, msg kafkago.Message) error {
	log := c.logger.With(
		slog.String("delivery_id", uuid.NewString()),
		slog.String("topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)

	delay := c.backoff.Base
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, log, msg)
		if err == nil {
			return nil
		}

		if !errors.Is(err, domain.ErrStoreUnavailable) {
			log.WarnContext(ctx, "dead-lettering order event", slog.Any("error", err))
			if err := c.dlq.PublishDeadLetter(ctx, msg, err); err != nil {
				return fmt.Errorf("dead-letter offset %d: %w", msg.Offset, err)
			}
			return nil
		}

		log.WarnContext(ctx, "order event failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = c.backoff.next(delay)
	}
}

func (c *Consumer) handle(ctx context.Context, log *slog.Logger, msg kafkago.Message) error {
	ev, err := messaging.DecodeOrderCreated(msg.Value)
	if err != nil {
		return err
	}

	seen, err := c.dedup.Seen(ctx, ev.OrderID)
	if err != nil {
		// The store still rejects a duplicate order id.
		log.WarnContext(ctx, "dedup lookup failed, continuing", slog.Int64("order_id", ev.OrderID), slog.Any("error", err))
		seen = false
	}
	if seen {
		log.InfoContext(ctx, "skipping redelivered order", slog.Int64("order_id", ev.OrderID))
		return nil
	}

	if _, err := c.orders.SaveFromEvent(ctx, ev); err != nil {
		return err
	}
	if err := c.dedup.Mark(ctx, ev.OrderID); err != nil {
		log.WarnContext(ctx, "dedup mark failed", slog.Int64("order_id", ev.OrderID), slog.Any("error", err))
	}
	return nil
}
