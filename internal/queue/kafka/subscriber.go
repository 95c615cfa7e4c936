package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"auth-go/internal/config"
	"auth-go/internal/queue"
)

const (
	defaultMaxWait = 250 * time.Millisecond
	commitTimeout  = 5 * time.Second
)

// Subscriber implements queue.Subscriber with consumer-group readers.
type Subscriber struct {
	brokers []string
	logger  *slog.Logger
}

// NewSubscriber creates a subscriber bound to the configured brokers.
func NewSubscriber(cfg *config.KafkaConfig, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		brokers: cfg.Brokers,
		logger:  logger,
	}
}

// Subscribe joins opts.GroupID on opts.Topic.
func (s *Subscriber) Subscribe(ctx context.Context, opts queue.SubscribeOptions) (queue.Subscription, error) {
	brokers := opts.Brokers
	if len(brokers) == 0 {
		brokers = s.brokers
	}
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if opts.Topic == "" || opts.GroupID == "" {
		return nil, errors.New("topic and group id are required")
	}

	startOffset := kafka.FirstOffset
	if opts.OffsetReset == queue.OffsetLatest {
		startOffset = kafka.LastOffset
	}

	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}

	logger := s.logger.With("topic", opts.Topic, "group", opts.GroupID)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          opts.Topic,
		GroupID:        opts.GroupID,
		StartOffset:    startOffset,
		CommitInterval: opts.CommitInterval,
		MaxWait:        maxWait,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug("kafka reader", "detail", fmt.Sprintf(msg, args...))
		}),
	})

	logger.Info("subscribed to kafka topic", "brokers", brokers)

	return &subscription{
		reader:  reader,
		maxWait: maxWait,
		logger:  logger,
	}, nil
}

// subscription wraps a kafka.Reader.
type subscription struct {
	reader  *kafka.Reader
	maxWait time.Duration
	logger  *slog.Logger
}

// Poll blocks on the first record, then drains whatever else arrives
// within maxWait, up to limit records. The batch is committed before it is
// returned.
func (s *subscription) Poll(ctx context.Context, limit int) ([]*queue.Message, error) {
	if limit < 1 {
		limit = 1
	}

	first, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	batch := []kafka.Message{first}

	drainCtx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()

	for len(batch) < limit {
		msg, err := s.reader.FetchMessage(drainCtx)
		if err != nil {
			if ctx.Err() != nil {
				// Uncommitted records are redelivered to the group.
				return nil, ctx.Err()
			}
			if drainCtx.Err() != nil {
				break
			}
			return nil, fmt.Errorf("failed to fetch message: %w", err)
		}
		batch = append(batch, msg)
	}

	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer commitCancel()

	if err := s.reader.CommitMessages(commitCtx, batch...); err != nil {
		s.logger.Error("failed to commit messages",
			"error", err,
			"count", len(batch),
		)
		return nil, fmt.Errorf("failed to commit messages: %w", err)
	}

	out := make([]*queue.Message, 0, len(batch))
	for _, m := range batch {
		out = append(out, &queue.Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Headers:   fromHeaders(m.Headers),
			Time:      m.Time,
		})
	}
	return out, nil
}

// Close closes the Kafka reader.
func (s *subscription) Close() error {
	if s.reader != nil {
		return s.reader.Close()
	}
	return nil
}
