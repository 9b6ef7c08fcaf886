package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fjod/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
)

const DefaultGroupID = "storefront-cart-cleanup"

// CartDeleter is the slice of the cart store the consumer needs.
type CartDeleter interface {
	DeleteVersion(ctx context.Context, owner domain.Owner, version int64) error
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CartCleanupConsumer finishes checkouts whose cart was not cleared, for
// example after a crash between persisting the order and deleting the cart.
// The delete is guarded by the cart version captured at checkout, so items
// added after the order was placed survive.
type CartCleanupConsumer struct {
	carts  CartDeleter
	reader MessageReader
	logger *slog.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

func NewKafkaReader(topic, groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewCartCleanupConsumer(carts CartDeleter, reader MessageReader, logger *slog.Logger) *CartCleanupConsumer {
	return &CartCleanupConsumer{
		carts:        carts,
		reader:       reader,
		logger:       logger,
		retryInitial: 200 * time.Millisecond,
		retryMax:     30 * time.Second,
	}
}

func (c *CartCleanupConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *CartCleanupConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("error closing kafka reader", "error", err)
	}
}

func (c *CartCleanupConsumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.logger.ErrorContext(ctx, "error reading message", "error", err)
		return
	}

	// A later commit moves the group offset past this message, so it is
	// retried in place instead of being left for redelivery.
	if err := c.handleWithRetry(ctx, m); err != nil {
		c.logger.WarnContext(ctx, "cart cleanup abandoned on shutdown", "offset", m.Offset, "error", err)
		return
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.ErrorContext(ctx, "error committing message", "offset", m.Offset, "error", err)
	}
}

// handleWithRetry blocks until handle succeeds or ctx is done.
func (c *CartCleanupConsumer) handleWithRetry(ctx context.Context, m kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.retryMax

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.handle(ctx, m)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.ErrorContext(ctx, "cart cleanup failed, retrying", "offset", m.Offset, "retry_in", next, "error", err)
		}),
	)
	return err
}

// handle returns an error only for failures worth retrying. Malformed and
// foreign messages are skipped.
func (c *CartCleanupConsumer) handle(ctx context.Context, m kafka.Message) error {
	if t := eventType(m); t != "" && t != domain.EventOrderPlaced {
		return nil
	}

	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.logger.WarnContext(ctx, "skipping unparseable message", "offset", m.Offset, "error", err)
		return nil
	}
	if err := event.Owner.Validate(); err != nil {
		c.logger.WarnContext(ctx, "skipping event without owner", "order_id", event.OrderID, "error", err)
		return nil
	}

	err := c.carts.DeleteVersion(ctx, event.Owner, event.CartVersion)
	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "checked-out cart cleared", "order_id", event.OrderID, "owner", event.Owner.Key())
		return nil
	case errors.Is(err, domain.ErrPersistence):
		return fmt.Errorf("delete cart of order %s: %w", event.OrderID, err)
	default:
		// the cart moved on since checkout; it is the customer's new cart now
		c.logger.InfoContext(ctx, "cart changed since checkout, kept", "order_id", event.OrderID, "owner", event.Owner.Key())
		return nil
	}
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
