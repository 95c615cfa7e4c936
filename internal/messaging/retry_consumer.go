package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"auth-go/internal/queue"
)

// Reprocessor is a consumer that can re-run its handler for a payload
// taken out of a retry envelope.
type Reprocessor interface {
	Name() string
	Supports(payloadType string) bool
	Reprocess(ctx context.Context, payloadType string, raw []byte, md Metadata) (Result, error)
}

// RetryConsumer consumes the retry topic and dispatches every message to
// the first registered Reprocessor supporting its payload type.
type RetryConsumer struct {
	*Consumer[RetryMessage]

	router       *FailureRouter
	reprocessors []Reprocessor
	logger       *slog.Logger
}

// NewRetryConsumer creates the retry consumer. Failures are escalated
// through router.
func NewRetryConsumer(
	props ConsumerProps,
	subscriber queue.Subscriber,
	codec Codec,
	router *FailureRouter,
	logger *slog.Logger,
	reprocessors ...Reprocessor,
) (*RetryConsumer, error) {
	if router == nil {
		return nil, errors.New("retry consumer needs a failure router")
	}

	rc := &RetryConsumer{
		router:       router,
		reprocessors: reprocessors,
		logger:       logger.With("consumer", props.Name),
	}

	consumer, err := NewConsumer(props, subscriber, codec, Handler[RetryMessage]{
		Handle:   rc.handleMessage,
		OnFailed: rc.onFailedMessage,
	}, logger, WithPoisonHandler(router.PoisonHandler()))
	if err != nil {
		return nil, err
	}
	rc.Consumer = consumer

	return rc, nil
}

// handleMessage re-dispatches msg while it is under the attempt ceiling.
func (rc *RetryConsumer) handleMessage(ctx context.Context, msg RetryMessage, _ Metadata) (Result, error) {
	if msg.Type == RetryMessageType {
		return ResultFailed, fmt.Errorf("%w: key %s", ErrNestedRetryMessage, msg.Key)
	}

	if msg.Attempt >= rc.router.Policy().MaxAttempts {
		return ResultFailed, nil
	}

	target := rc.lookup(msg.Type)
	if target == nil {
		// Draining avoids an endless loop for types nobody handles.
		rc.logger.Warn("no consumer supports retried payload type, draining",
			"type", msg.Type,
			"key", msg.Key,
			"attempt", msg.Attempt,
		)
		return ResultOK, nil
	}

	rc.logger.Debug("reprocessing message",
		"target", target.Name(),
		"type", msg.Type,
		"key", msg.Key,
		"attempt", msg.Attempt,
	)
	return target.Reprocess(ctx, msg.Type, msg.Payload, msg.Metadata())
}

func (rc *RetryConsumer) lookup(payloadType string) Reprocessor {
	for _, r := range rc.reprocessors {
		if r.Supports(payloadType) {
			return r
		}
	}
	return nil
}

// onFailedMessage escalates a failed retry. Protocol violations and
// payloads that no longer decode skip the retry topic.
func (rc *RetryConsumer) onFailedMessage(ctx context.Context, err error, msg RetryMessage, _ Metadata) {
	if errors.Is(err, ErrNestedRetryMessage) || errors.Is(err, ErrDecode) {
		_, _ = rc.router.DeadLetter(ctx, err, msg)
		return
	}
	_, _ = rc.router.Route(ctx, err, msg)
}
