package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"auth-go/internal/metrics"
	"auth-go/internal/queue"
)

// ProducerProps configures a typed producer.
type ProducerProps struct {
	Name        string
	Topic       string
	Enabled     bool
	MaxInFlight int
}

// Producer publishes payloads of type T to one topic. It is safe for
// concurrent use; at most MaxInFlight publishes run at once.
type Producer[T Typed] struct {
	props     ProducerProps
	publisher queue.Producer
	codec     Codec
	inFlight  *semaphore.Weighted
	logger    *slog.Logger
}

// NewProducer creates a typed producer.
func NewProducer[T Typed](props ProducerProps, publisher queue.Producer, codec Codec, logger *slog.Logger) (*Producer[T], error) {
	if props.Topic == "" {
		return nil, errors.New("producer topic is required")
	}
	if props.MaxInFlight < 1 {
		return nil, fmt.Errorf("producer %s: max in flight must be positive", props.Topic)
	}
	if publisher == nil || codec == nil {
		return nil, errors.New("producer needs a publisher and a codec")
	}
	if props.Name == "" {
		props.Name = props.Topic
	}

	return &Producer[T]{
		props:     props,
		publisher: publisher,
		codec:     codec,
		inFlight:  semaphore.NewWeighted(int64(props.MaxInFlight)),
		logger:    logger.With("producer", props.Name, "topic", props.Topic),
	}, nil
}

// Topic returns the destination topic.
func (p *Producer[T]) Topic() string { return p.props.Topic }

// Enabled reports whether Send publishes.
func (p *Producer[T]) Enabled() bool { return p.props.Enabled }

// Send encodes payload with md and publishes it keyed by md.Key.
// Failures are returned to the caller; there is no internal retry.
func (p *Producer[T]) Send(ctx context.Context, payload T, md Metadata) error {
	if !p.props.Enabled {
		return ErrProducerDisabled
	}

	if err := p.inFlight.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire publish slot: %w", err)
	}
	defer p.inFlight.Release(1)

	msg, err := encodeRecord(ctx, p.codec, p.props.Topic, payload, md)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := p.publisher.Publish(ctx, msg); err != nil {
		metrics.MessagesPublishedTotal.WithLabelValues(p.props.Topic, "failure").Inc()
		p.logger.Error("failed to publish message",
			"error", err,
			"key", md.Key,
			"attempt", md.Attempt,
		)
		return fmt.Errorf("failed to publish to %s: %w", p.props.Topic, err)
	}
	metrics.MessagePublishLatency.WithLabelValues(p.props.Topic).Observe(time.Since(start).Seconds())
	metrics.MessagesPublishedTotal.WithLabelValues(p.props.Topic, "success").Inc()

	p.logger.Debug("message published",
		"key", md.Key,
		"attempt", md.Attempt,
		"type", payload.PayloadType(),
	)

	return nil
}
