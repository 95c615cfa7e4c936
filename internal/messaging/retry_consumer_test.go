package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-go/internal/queue/memory"
)

// pipeline wires a primary consumer and the retry consumer on one broker.
type pipeline struct {
	broker  *memory.Broker
	codec   Codec
	router  *FailureRouter
	primary *Consumer[testEvent]
	retry   *RetryConsumer
	handled *recorder[testEvent]
}

func newPipeline(t *testing.T, maxAttempts int32, handle func(testEvent, Metadata) (Result, error)) *pipeline {
	t.Helper()
	broker := memory.NewBroker(2)
	codec := testCodec(t)
	router := newTestRouter(t, broker, codec, RetryPolicy{MaxAttempts: maxAttempts, RetryEnabled: true, DLQEnabled: true})
	handled := &recorder[testEvent]{}

	primary, err := NewConsumer(testProps("orders", "orders"), broker, codec, Handler[testEvent]{
		Handle: func(_ context.Context, e testEvent, md Metadata) (Result, error) {
			handled.add(e, md)
			return handle(e, md)
		},
		OnFailed: OnFailed[testEvent](router, codec),
	}, testLogger())
	require.NoError(t, err)

	retry, err := NewRetryConsumer(testProps("retry", retryTopic), broker, codec, router, testLogger(), primary)
	require.NoError(t, err)

	return &pipeline{broker: broker, codec: codec, router: router, primary: primary, retry: retry, handled: handled}
}

func (p *pipeline) start(t *testing.T) {
	startConsumer(t, p.primary)
	startConsumer(t, p.retry)
}

func TestRetryConsumer_EscalatesToDeadLetter(t *testing.T) {
	p := newPipeline(t, 2, func(testEvent, Metadata) (Result, error) {
		return ResultFailed, errors.New("downstream unavailable")
	})
	publish(t, p.broker, p.codec, "orders", testEvent{ID: "e-1"}, Metadata{Key: "abc"})
	p.start(t)

	require.Eventually(t, func() bool { return p.broker.Len(dlqTopic) == 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)

	retried := readRetryMessages(t, p.broker, p.codec, retryTopic)
	require.Len(t, retried, 2)
	assert.Equal(t, int32(1), retried[0].Attempt)
	assert.Equal(t, int32(2), retried[1].Attempt)
	for _, m := range retried {
		assert.Equal(t, "abc", m.Key)
		assert.Equal(t, "test-event", m.Type)
	}

	dead := readRetryMessages(t, p.broker, p.codec, dlqTopic)
	require.Len(t, dead, 1)
	assert.Equal(t, int32(3), dead[0].Attempt)
	assert.Equal(t, "abc", dead[0].Key)

	// The third hop is rejected by the ceiling without reaching the handler.
	_, mds := p.handled.snapshot()
	require.Len(t, mds, 2)
	assert.Equal(t, int32(0), mds[0].Attempt)
	assert.Equal(t, int32(1), mds[1].Attempt)
	assert.Equal(t, 1, p.broker.Len(dlqTopic))
}

func TestRetryConsumer_RecoversOnRetry(t *testing.T) {
	p := newPipeline(t, 3, func(_ testEvent, md Metadata) (Result, error) {
		if md.Attempt == 0 {
			return ResultFailed, errors.New("transient")
		}
		return ResultOK, nil
	})
	publish(t, p.broker, p.codec, "orders", testEvent{ID: "e-1", N: 4}, Metadata{Key: "abc"})
	p.start(t)

	require.Eventually(t, func() bool { return p.handled.len() == 2 }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)

	calls, mds := p.handled.snapshot()
	assert.Equal(t, testEvent{ID: "e-1", N: 4}, calls[1])
	assert.Equal(t, "abc", mds[1].Key)
	assert.Equal(t, 1, p.broker.Len(retryTopic))
	assert.Equal(t, 0, p.broker.Len(dlqTopic))
}

func TestRetryConsumer_DrainsUnsupportedType(t *testing.T) {
	p := newPipeline(t, 3, func(testEvent, Metadata) (Result, error) { return ResultOK, nil })

	body, err := p.codec.Marshal(otherEvent{Name: "x"})
	require.NoError(t, err)
	publish(t, p.broker, p.codec, retryTopic, RetryMessage{Type: "other-event", Payload: body, Key: "k", Attempt: 1}, Metadata{Key: "k", Attempt: 1})
	p.start(t)

	require.Eventually(t, func() bool { return p.retry.Status().Processed == 1 }, waitFor, tick)
	assert.Equal(t, 1, p.broker.Len(retryTopic))
	assert.Equal(t, 0, p.broker.Len(dlqTopic))
	assert.Equal(t, 0, p.handled.len())
}

func TestRetryConsumer_NestedGoesToDeadLetter(t *testing.T) {
	p := newPipeline(t, 3, func(testEvent, Metadata) (Result, error) { return ResultOK, nil })

	publish(t, p.broker, p.codec, retryTopic, RetryMessage{Type: RetryMessageType, Key: "k", Attempt: 0}, Metadata{Key: "k"})
	p.start(t)

	require.Eventually(t, func() bool { return p.broker.Len(dlqTopic) == 1 }, waitFor, tick)
	assert.Equal(t, 1, p.broker.Len(retryTopic))
	assert.Equal(t, int32(1), readRetryMessages(t, p.broker, p.codec, dlqTopic)[0].Attempt)
}

func TestRetryConsumer_UndecodablePayloadGoesToDeadLetter(t *testing.T) {
	p := newPipeline(t, 3, func(testEvent, Metadata) (Result, error) { return ResultOK, nil })

	publish(t, p.broker, p.codec, retryTopic, RetryMessage{Type: "test-event", Payload: []byte{0xff}, Key: "k", Attempt: 1}, Metadata{Key: "k", Attempt: 1})
	p.start(t)

	require.Eventually(t, func() bool { return p.broker.Len(dlqTopic) == 1 }, waitFor, tick)
	assert.Equal(t, 1, p.broker.Len(retryTopic))
	assert.Equal(t, 0, p.handled.len())
}

func TestNewRetryConsumer_RequiresRouter(t *testing.T) {
	_, err := NewRetryConsumer(testProps("retry", retryTopic), memory.NewBroker(1), testCodec(t), nil, testLogger())
	assert.Error(t, err)
}
