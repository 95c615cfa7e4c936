package messaging

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"auth-go/internal/queue"
)

// Record headers.
const (
	HeaderCreatedAt   = "created-at"
	HeaderPayloadType = "payload-type"
)

// RetryMessageType is the payload type of RetryMessage.
const RetryMessageType = "retry-message"

// Typed is implemented by every payload that travels through a topic.
// The returned name is the wire discriminator used to dispatch retries.
type Typed interface {
	PayloadType() string
}

// Envelope is the on-wire record value.
type Envelope struct {
	Type    string `cbor:"type" json:"type"`
	Payload []byte `cbor:"payload" json:"payload"`
	Key     string `cbor:"key" json:"key"`
	Attempt int32  `cbor:"attempt" json:"attempt"`
}

// RetryMessage wraps a failed payload, still encoded, for the retry and
// dead-letter topics. It is never mutated; each hop builds a new one.
type RetryMessage struct {
	Type    string `cbor:"type" json:"type"`
	Payload []byte `cbor:"payload" json:"payload"`
	Key     string `cbor:"key" json:"key"`
	Attempt int32  `cbor:"attempt" json:"attempt"`
}

// PayloadType implements Typed.
func (RetryMessage) PayloadType() string { return RetryMessageType }

// Hop returns the message for the next escalation step.
func (m RetryMessage) Hop() RetryMessage {
	m.Attempt++
	return m
}

// Metadata derives the metadata of the wrapped payload. Attempt comes
// from the message itself.
func (m RetryMessage) Metadata() Metadata {
	return Metadata{
		CreatedAt: time.Now().UTC(),
		Key:       m.Key,
		Attempt:   m.Attempt,
	}
}

// NewRetryMessage encodes payload with codec and wraps it.
func NewRetryMessage[T Typed](codec Codec, payload T, md Metadata) (RetryMessage, error) {
	body, err := codec.Marshal(payload)
	if err != nil {
		return RetryMessage{}, fmt.Errorf("failed to encode %s payload: %w", payload.PayloadType(), err)
	}
	return RetryMessage{
		Type:    payload.PayloadType(),
		Payload: body,
		Key:     md.Key,
		Attempt: md.Attempt,
	}, nil
}

// encodeRecord builds the broker record for payload.
func encodeRecord[T Typed](ctx context.Context, codec Codec, topic string, payload T, md Metadata) (*queue.Message, error) {
	body, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	value, err := codec.Marshal(Envelope{
		Type:    payload.PayloadType(),
		Payload: body,
		Key:     md.Key,
		Attempt: md.Attempt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	createdAt := md.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	headers := map[string]string{
		HeaderCreatedAt:   createdAt.UTC().Format(time.RFC3339Nano),
		HeaderPayloadType: payload.PayloadType(),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	return &queue.Message{
		Topic:   topic,
		Key:     []byte(md.Key),
		Value:   value,
		Headers: headers,
	}, nil
}

// decodeEnvelope reads the envelope and metadata of msg.
func decodeEnvelope(codec Codec, msg *queue.Message) (Envelope, Metadata, error) {
	var env Envelope
	if err := codec.Unmarshal(msg.Value, &env); err != nil {
		return Envelope{}, Metadata{}, fmt.Errorf("%w: envelope: %v", ErrDecode, err)
	}

	md := Metadata{
		CreatedAt: msg.Time,
		Key:       env.Key,
		Attempt:   env.Attempt,
	}
	if raw, ok := msg.Headers[HeaderCreatedAt]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			md.CreatedAt = ts
		}
	}
	if md.Key == "" {
		md.Key = string(msg.Key)
	}

	return env, md, nil
}

// decodePayload decodes the envelope payload into T, checking the
// discriminator first.
func decodePayload[T Typed](codec Codec, env Envelope) (T, error) {
	var payload T
	if want := payload.PayloadType(); env.Type != want {
		return payload, fmt.Errorf("%w: payload type %q, want %q", ErrDecode, env.Type, want)
	}
	if err := codec.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: payload: %v", ErrDecode, err)
	}
	return payload, nil
}
