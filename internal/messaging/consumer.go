package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"auth-go/internal/metrics"
	"auth-go/internal/queue"
)

const tracerName = "auth-go/internal/messaging"

// failureTimeout bounds the failure path of a record, which runs detached
// from the consumer context so a stopping consumer still republishes.
const failureTimeout = 10 * time.Second

// Strategy decides how records of one partition are handled within a batch.
type Strategy string

const (
	// StrategySequential handles a partition's records one at a time in offset order.
	StrategySequential Strategy = "SEQUENTIAL"
	// StrategyParallel handles a partition's records concurrently.
	StrategyParallel Strategy = "PARALLEL"
)

// IsValid returns true if the strategy is known.
func (s Strategy) IsValid() bool {
	return s == StrategySequential || s == StrategyParallel
}

// ReconnectPolicy bounds re-subscription after a stream failure.
type ReconnectPolicy struct {
	Attempts  int
	Period    time.Duration
	MaxPeriod time.Duration
	// Jitter is the randomization factor in [0, 1].
	Jitter float64
}

// ConsumerProps is the immutable configuration of a consumer.
type ConsumerProps struct {
	Name           string
	Topic          string
	GroupID        string
	Brokers        []string
	Enabled        bool
	Strategy       Strategy
	BatchSize      int
	Delay          time.Duration
	MaxWait        time.Duration
	OffsetReset    queue.OffsetReset
	CommitInterval time.Duration
	MaxConcurrency int
	Reconnect      ReconnectPolicy
}

// Validate checks the props. Invalid props are a startup error.
func (p ConsumerProps) Validate() error {
	switch {
	case p.Name == "":
		return errors.New("consumer name is required")
	case p.Topic == "":
		return fmt.Errorf("consumer %s: topic is required", p.Name)
	case p.GroupID == "":
		return fmt.Errorf("consumer %s: group id is required", p.Name)
	case !p.Strategy.IsValid():
		return fmt.Errorf("consumer %s: unknown strategy %q", p.Name, p.Strategy)
	case p.BatchSize < 1:
		return fmt.Errorf("consumer %s: batch size must be positive", p.Name)
	case p.MaxConcurrency < 1:
		return fmt.Errorf("consumer %s: max concurrency must be positive", p.Name)
	case p.Delay < 0:
		return fmt.Errorf("consumer %s: delay must not be negative", p.Name)
	case p.Reconnect.Attempts < 0:
		return fmt.Errorf("consumer %s: reconnect attempts must not be negative", p.Name)
	case p.Reconnect.Jitter < 0 || p.Reconnect.Jitter > 1:
		return fmt.Errorf("consumer %s: reconnect jitter must be within [0, 1]", p.Name)
	}
	return nil
}

// Handler is the business extension point of a consumer.
type Handler[T Typed] struct {
	// Handle processes one payload. A non-nil error or ResultFailed
	// counts as a failure.
	Handle func(ctx context.Context, payload T, md Metadata) (Result, error)

	// OnFailed is called exactly once per failed record. err is nil when
	// Handle returned ResultFailed without an error.
	OnFailed func(ctx context.Context, err error, payload T, md Metadata)
}

// PoisonHandler receives records that could not be decoded.
type PoisonHandler func(ctx context.Context, msg *queue.Message, err error)

// Option customizes a consumer.
type Option func(*consumerOptions)

type consumerOptions struct {
	poison PoisonHandler
}

// WithPoisonHandler installs a hook for undecodable records. Without one
// they are dropped after a warning.
func WithPoisonHandler(h PoisonHandler) Option {
	return func(o *consumerOptions) { o.poison = h }
}

// Status is a snapshot of a consumer for operators.
type Status struct {
	Name      string   `json:"name"`
	Topic     string   `json:"topic"`
	Strategy  Strategy `json:"strategy"`
	Enabled   bool     `json:"enabled"`
	Running   bool     `json:"running"`
	Processed uint64   `json:"processed"`
	Failed    uint64   `json:"failed"`
	Poison    uint64   `json:"poison"`
	Error     string   `json:"error,omitempty"`
}

// Consumer pulls batches from one topic and hands each record to a
// Handler. Records are acknowledged on receipt, so delivery is
// at-least-once and handlers must tolerate duplicates via Metadata.Key.
type Consumer[T Typed] struct {
	props      ConsumerProps
	subscriber queue.Subscriber
	codec      Codec
	handler    Handler[T]
	poison     PoisonHandler
	logger     *slog.Logger
	tracer     trace.Tracer

	processed atomic.Uint64
	failed    atomic.Uint64
	poisoned  atomic.Uint64

	mu      sync.Mutex
	started bool
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewConsumer creates a consumer. It does not connect until Start.
func NewConsumer[T Typed](
	props ConsumerProps,
	subscriber queue.Subscriber,
	codec Codec,
	handler Handler[T],
	logger *slog.Logger,
	opts ...Option,
) (*Consumer[T], error) {
	if err := props.Validate(); err != nil {
		return nil, err
	}
	if handler.Handle == nil {
		return nil, fmt.Errorf("consumer %s: handler is required", props.Name)
	}
	if subscriber == nil || codec == nil {
		return nil, fmt.Errorf("consumer %s: subscriber and codec are required", props.Name)
	}

	var o consumerOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &Consumer[T]{
		props:      props,
		subscriber: subscriber,
		codec:      codec,
		handler:    handler,
		poison:     o.poison,
		logger:     logger.With("consumer", props.Name, "topic", props.Topic),
		tracer:     otel.Tracer(tracerName),
		done:       make(chan struct{}),
	}, nil
}

// Name returns the consumer name.
func (c *Consumer[T]) Name() string { return c.props.Name }

// Supports reports whether this consumer handles payloadType.
func (c *Consumer[T]) Supports(payloadType string) bool {
	var zero T
	return zero.PayloadType() == payloadType
}

// Start launches the pull loop in the background. A disabled consumer
// finishes immediately.
func (c *Consumer[T]) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrConsumerStarted
	}
	c.started = true

	if !c.props.Enabled {
		c.logger.Info("consumer disabled")
		close(c.done)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.logger.Info("starting consumer",
		"group", c.props.GroupID,
		"strategy", c.props.Strategy,
		"batch_size", c.props.BatchSize,
	)

	go c.run(runCtx)
	return nil
}

// Stop cancels the pull loop and waits for in-flight records.
func (c *Consumer[T]) Stop() error {
	c.mu.Lock()
	started, cancel := c.started, c.cancel
	c.mu.Unlock()

	if !started {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	<-c.done
	c.logger.Info("consumer stopped")
	return nil
}

// Done is closed when the consumer has terminated.
func (c *Consumer[T]) Done() <-chan struct{} { return c.done }

// Err returns the fatal error that terminated the consumer, if any.
func (c *Consumer[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Status returns a snapshot of the consumer's counters.
func (c *Consumer[T]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Name:      c.props.Name,
		Topic:     c.props.Topic,
		Strategy:  c.props.Strategy,
		Enabled:   c.props.Enabled,
		Running:   c.running,
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Poison:    c.poisoned.Load(),
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

func (c *Consumer[T]) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(c.done)
	}()

	policy := c.props.Reconnect
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.Period
	exp.MaxInterval = policy.MaxPeriod
	exp.RandomizationFactor = policy.Jitter
	exp.MaxElapsedTime = 0
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = backoff.DefaultInitialInterval
	}
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.Attempts)), ctx)

	err := backoff.RetryNotify(
		func() error { return c.session(ctx, b) },
		b,
		func(err error, wait time.Duration) {
			metrics.ConsumerReconnectsTotal.WithLabelValues(c.props.Name).Inc()
			c.logger.Warn("consumer stream failed, reconnecting",
				"error", err,
				"backoff", wait,
			)
		},
	)

	if err == nil || ctx.Err() != nil {
		return
	}

	fatal := fmt.Errorf("consumer %s: %w: %w", c.props.Name, ErrReconnectExhausted, err)
	c.mu.Lock()
	c.err = fatal
	c.mu.Unlock()
	c.logger.Error("consumer terminated", "error", fatal)
}

// session subscribes once and pulls batches until the stream fails or
// ctx is canceled. A successful poll restores the full reconnect budget.
func (c *Consumer[T]) session(ctx context.Context, b backoff.BackOff) error {
	sub, err := c.subscriber.Subscribe(ctx, queue.SubscribeOptions{
		Brokers:        c.props.Brokers,
		Topic:          c.props.Topic,
		GroupID:        c.props.GroupID,
		OffsetReset:    c.props.OffsetReset,
		CommitInterval: c.props.CommitInterval,
		MaxWait:        c.props.MaxWait,
	})
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			c.logger.Warn("failed to close subscription", "error", err)
		}
	}()

	for {
		msgs, err := sub.Poll(ctx, c.props.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("failed to poll: %w", err)
		}
		b.Reset()

		c.processBatch(ctx, msgs)

		if c.props.Delay > 0 {
			timer := time.NewTimer(c.props.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return backoff.Permanent(ctx.Err())
			case <-timer.C:
			}
		}
	}
}

// processBatch handles every record of a batch before returning.
// Partitions always run concurrently with each other.
func (c *Consumer[T]) processBatch(ctx context.Context, msgs []*queue.Message) {
	parts := groupByPartition(msgs)
	limit := semaphore.NewWeighted(int64(c.props.MaxConcurrency))

	var g errgroup.Group
	for _, records := range parts {
		g.Go(func() error {
			c.processPartition(ctx, records, limit)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Consumer[T]) processPartition(ctx context.Context, records []*queue.Message, limit *semaphore.Weighted) {
	if c.props.Strategy == StrategySequential {
		for _, rec := range records {
			c.processRecord(ctx, rec)
		}
		return
	}

	var wg sync.WaitGroup
	for _, rec := range records {
		// Acquire only fails on cancellation; the record then runs inline
		// and takes the failure path.
		if err := limit.Acquire(ctx, 1); err != nil {
			c.processRecord(ctx, rec)
			continue
		}
		wg.Add(1)
		go func(rec *queue.Message) {
			defer wg.Done()
			defer limit.Release(1)
			c.processRecord(ctx, rec)
		}(rec)
	}
	wg.Wait()
}

// groupByPartition splits msgs by partition, each group in offset order,
// groups in order of first appearance.
func groupByPartition(msgs []*queue.Message) [][]*queue.Message {
	index := make(map[int]int)
	var parts [][]*queue.Message
	for _, m := range msgs {
		i, ok := index[m.Partition]
		if !ok {
			i = len(parts)
			index[m.Partition] = i
			parts = append(parts, nil)
		}
		parts[i] = append(parts[i], m)
	}
	for _, p := range parts {
		sort.SliceStable(p, func(a, b int) bool { return p[a].Offset < p[b].Offset })
	}
	return parts
}

func (c *Consumer[T]) processRecord(ctx context.Context, msg *queue.Message) Result {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
	ctx, span := c.tracer.Start(ctx, c.props.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	start := time.Now()

	env, md, err := decodeEnvelope(c.codec, msg)
	var payload T
	if err == nil {
		payload, err = decodePayload[T](c.codec, env)
	}
	if err != nil {
		c.poisoned.Add(1)
		metrics.MessagesConsumedTotal.WithLabelValues(c.props.Name, "poison").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "undecodable message")
		c.logger.Warn("dropping undecodable message",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)
		if c.poison != nil {
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureTimeout)
			c.poison(pctx, msg, err)
			cancel()
		}
		return ResultFailed
	}

	span.SetAttributes(
		attribute.String("messaging.message.key", md.Key),
		attribute.Int("messaging.attempt", int(md.Attempt)),
	)
	if !md.CreatedAt.IsZero() {
		metrics.MessageQueueLatency.WithLabelValues(c.props.Name).Observe(time.Since(md.CreatedAt).Seconds())
	}

	// Records of an acknowledged batch left over after Stop are not
	// handled; they go through the failure path to the retry topic.
	var result Result
	if ctxErr := ctx.Err(); ctxErr != nil {
		result, err = ResultFailed, fmt.Errorf("consumer stopped before handling: %w", ctxErr)
	} else {
		result, err = c.invoke(ctx, payload, md)
	}
	metrics.MessageProcessingLatency.WithLabelValues(c.props.Name).Observe(time.Since(start).Seconds())

	if err == nil && result == ResultOK {
		c.processed.Add(1)
		metrics.MessagesConsumedTotal.WithLabelValues(c.props.Name, "ok").Inc()
		return ResultOK
	}

	c.failed.Add(1)
	metrics.MessagesConsumedTotal.WithLabelValues(c.props.Name, "failed").Inc()
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, "message processing failed")

	c.logger.Error("message processing failed",
		"error", err,
		"key", md.Key,
		"attempt", md.Attempt,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	c.fail(ctx, err, payload, md)
	return ResultFailed
}

// invoke calls Handle, converting a panic into an error.
func (c *Consumer[T]) invoke(ctx context.Context, payload T, md Metadata) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = ResultFailed, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return c.handler.Handle(ctx, payload, md)
}

func (c *Consumer[T]) fail(ctx context.Context, cause error, payload T, md Metadata) {
	if c.handler.OnFailed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("failure callback panicked", "panic", r, "key", md.Key)
		}
	}()
	c.handler.OnFailed(ctx, cause, payload, md)
}

// Reprocess decodes a payload taken from a retry envelope and runs it
// through Handle only. Escalation is left to the caller.
func (c *Consumer[T]) Reprocess(ctx context.Context, payloadType string, raw []byte, md Metadata) (Result, error) {
	payload, err := decodePayload[T](c.codec, Envelope{Type: payloadType, Payload: raw})
	if err != nil {
		return ResultFailed, err
	}
	return c.invoke(ctx, payload, md)
}
