package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/order/repository"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic     = "storefront-orders"
	DefaultBatchSize = 100
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Options struct {
	Interval  time.Duration
	BatchSize int
}

// OutboxPoller relays committed outbox events to Kafka. Delivery is
// at-least-once: an event whose mark fails is published again next tick.
type OutboxPoller struct {
	repo      repository.OutboxRepository
	writer    MessageWriter
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(repo repository.OutboxRepository, writer MessageWriter, opts Options, logger *slog.Logger) *OutboxPoller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &OutboxPoller{
		repo:      repo,
		writer:    writer,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		logger:    logger,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

// processUnpublishedEvents stops at the first publish failure so events keep
// their order per aggregate.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish outbox event", "event_id", event.ID, "error", err)
			return published
		}
		published++

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.ErrorContext(ctx, "failed to mark outbox event as processed", "event_id", event.ID, "error", err)
		}
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID.String()), // order id keeps one order's events on one partition
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
