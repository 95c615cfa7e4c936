package messaging

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auth-go/internal/queue"
	"auth-go/internal/queue/memory"
)

type testEvent struct {
	ID string `cbor:"id" json:"id"`
	N  int    `cbor:"n" json:"n"`
}

func (testEvent) PayloadType() string { return "test-event" }

type otherEvent struct {
	Name string `cbor:"name" json:"name"`
}

func (otherEvent) PayloadType() string { return "other-event" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCodec(t *testing.T) Codec {
	t.Helper()
	codec, err := NewCBORCodec()
	require.NoError(t, err)
	return codec
}

func testProps(name, topic string) ConsumerProps {
	return ConsumerProps{
		Name:           name,
		Topic:          topic,
		GroupID:        "test-group",
		Enabled:        true,
		Strategy:       StrategySequential,
		BatchSize:      10,
		MaxConcurrency: 4,
		OffsetReset:    queue.OffsetEarliest,
		Reconnect: ReconnectPolicy{
			Attempts:  3,
			Period:    5 * time.Millisecond,
			MaxPeriod: 20 * time.Millisecond,
		},
	}
}

func newTestProducer[T Typed](t *testing.T, broker queue.Producer, codec Codec, topic string) *Producer[T] {
	t.Helper()
	p, err := NewProducer[T](ProducerProps{Topic: topic, Enabled: true, MaxInFlight: 4}, broker, codec, testLogger())
	require.NoError(t, err)
	return p
}

func publish[T Typed](t *testing.T, broker *memory.Broker, codec Codec, topic string, payload T, md Metadata) {
	t.Helper()
	require.NoError(t, newTestProducer[T](t, broker, codec, topic).Send(context.Background(), payload, md))
}

func startConsumer(t *testing.T, c interface {
	Start(context.Context) error
	Stop() error
}) {
	t.Helper()
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
}

// readRetryMessages decodes every RetryMessage published to topic.
func readRetryMessages(t *testing.T, broker *memory.Broker, codec Codec, topic string) []RetryMessage {
	t.Helper()
	var out []RetryMessage
	for _, m := range broker.Messages(topic) {
		env, _, err := decodeEnvelope(codec, m)
		require.NoError(t, err)
		msg, err := decodePayload[RetryMessage](codec, env)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

// recorder collects handler invocations.
type recorder[T any] struct {
	mu    sync.Mutex
	calls []T
	mds   []Metadata
}

func (r *recorder[T]) add(v T, md Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, v)
	r.mds = append(r.mds, md)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder[T]) snapshot() ([]T, []Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.calls...), append([]Metadata(nil), r.mds...)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
