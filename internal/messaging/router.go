package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"auth-go/internal/metrics"
	"auth-go/internal/queue"
)

// RetryPolicy is the escalation ladder shared by all consumers.
type RetryPolicy struct {
	// MaxAttempts is the attempt ceiling: a message whose attempt is
	// below it goes to the retry topic, otherwise to the dead-letter topic.
	MaxAttempts  int32
	RetryEnabled bool
	DLQEnabled   bool
	PoisonToDLQ  bool
}

// Destination is where a failed message went.
type Destination string

const (
	DestinationRetry   Destination = "retry"
	DestinationDLQ     Destination = "dlq"
	DestinationDropped Destination = "dropped"
)

// FailureRouter republishes failed messages to the retry or dead-letter
// topic, incrementing the attempt on every hop.
type FailureRouter struct {
	policy RetryPolicy
	retry  *Producer[RetryMessage]
	dlq    *Producer[RetryMessage]
	logger *slog.Logger
}

// NewFailureRouter creates a router. retry and dlq may be nil when the
// corresponding topic is not used.
func NewFailureRouter(policy RetryPolicy, retry, dlq *Producer[RetryMessage], logger *slog.Logger) (*FailureRouter, error) {
	if policy.MaxAttempts < 0 {
		return nil, errors.New("max retry attempts must not be negative")
	}
	if policy.RetryEnabled && retry == nil {
		return nil, errors.New("retry is enabled but no retry producer was given")
	}
	if policy.DLQEnabled && dlq == nil {
		return nil, errors.New("dead-letter is enabled but no dlq producer was given")
	}
	return &FailureRouter{
		policy: policy,
		retry:  retry,
		dlq:    dlq,
		logger: logger,
	}, nil
}

// Policy returns the router's policy.
func (r *FailureRouter) Policy() RetryPolicy { return r.policy }

// Route escalates msg: retry topic while msg.Attempt is under the
// ceiling and retry is enabled, otherwise the dead-letter topic if
// enabled, otherwise the message is dropped.
func (r *FailureRouter) Route(ctx context.Context, cause error, msg RetryMessage) (Destination, error) {
	r.logger.Warn("routing failed message",
		"error", cause,
		"type", msg.Type,
		"key", msg.Key,
		"attempt", msg.Attempt,
	)

	if msg.Attempt < r.policy.MaxAttempts && r.policy.RetryEnabled {
		return r.send(ctx, DestinationRetry, r.retry, msg.Hop())
	}
	return r.DeadLetter(ctx, cause, msg)
}

// DeadLetter sends msg straight to the dead-letter topic, bypassing the
// attempt ceiling.
func (r *FailureRouter) DeadLetter(ctx context.Context, cause error, msg RetryMessage) (Destination, error) {
	if r.policy.DLQEnabled {
		return r.send(ctx, DestinationDLQ, r.dlq, msg.Hop())
	}

	metrics.FailuresRoutedTotal.WithLabelValues(string(DestinationDropped)).Inc()
	r.logger.Error("dropping failed message, retry and dead-letter are disabled",
		"error", cause,
		"type", msg.Type,
		"key", msg.Key,
		"attempt", msg.Attempt,
	)
	return DestinationDropped, nil
}

func (r *FailureRouter) send(ctx context.Context, dest Destination, p *Producer[RetryMessage], msg RetryMessage) (Destination, error) {
	if err := p.Send(ctx, msg, msg.Metadata()); err != nil {
		// The original record is already acknowledged, so it is lost here.
		r.logger.Error("failed to republish message",
			"error", err,
			"destination", dest,
			"key", msg.Key,
			"attempt", msg.Attempt,
		)
		return dest, fmt.Errorf("failed to route message to %s: %w", dest, err)
	}
	metrics.FailuresRoutedTotal.WithLabelValues(string(dest)).Inc()
	return dest, nil
}

// OnFailed builds the failure callback of a primary consumer: the payload
// is wrapped in a RetryMessage and routed.
func OnFailed[T Typed](r *FailureRouter, codec Codec) func(ctx context.Context, err error, payload T, md Metadata) {
	return func(ctx context.Context, err error, payload T, md Metadata) {
		msg, encErr := NewRetryMessage(codec, payload, md)
		if encErr != nil {
			r.logger.Error("failed to wrap message for retry", "error", encErr, "key", md.Key)
			return
		}
		_, _ = r.Route(ctx, err, msg)
	}
}

// PoisonHandler forwards undecodable records to the dead-letter topic
// when the policy asks for it, and returns nil otherwise.
func (r *FailureRouter) PoisonHandler() PoisonHandler {
	if !r.policy.PoisonToDLQ || !r.policy.DLQEnabled {
		return nil
	}
	return func(ctx context.Context, msg *queue.Message, err error) {
		payloadType := msg.Headers[HeaderPayloadType]
		if payloadType == "" {
			payloadType = "unknown"
		}
		raw := RetryMessage{
			Type:    payloadType,
			Payload: msg.Value,
			Key:     string(msg.Key),
		}
		_, _ = r.DeadLetter(ctx, err, raw)
	}
}
