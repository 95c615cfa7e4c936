package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-go/internal/queue"
	"auth-go/internal/queue/memory"
)

// blockingPublisher tracks concurrent Publish calls.
type blockingPublisher struct {
	active  atomic.Int32
	peak    atomic.Int32
	release chan struct{}
	err     error

	mu   sync.Mutex
	msgs []*queue.Message
}

func (p *blockingPublisher) Publish(ctx context.Context, msg *queue.Message) error {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return p.err
}

func (p *blockingPublisher) Close() error { return nil }

func TestProducer_Send(t *testing.T) {
	broker := memory.NewBroker(4)
	codec := testCodec(t)
	p := newTestProducer[testEvent](t, broker, codec, "orders")

	md := NewMetadata("abc")
	require.NoError(t, p.Send(context.Background(), testEvent{ID: "1"}, md))

	msgs := broker.Messages("orders")
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("abc"), msgs[0].Key)
	assert.NotEmpty(t, msgs[0].Headers[HeaderCreatedAt])
}

func TestProducer_Disabled(t *testing.T) {
	broker := memory.NewBroker(1)
	p, err := NewProducer[testEvent](ProducerProps{Topic: "orders", MaxInFlight: 1}, broker, testCodec(t), testLogger())
	require.NoError(t, err)

	err = p.Send(context.Background(), testEvent{}, NewMetadata("k"))
	assert.ErrorIs(t, err, ErrProducerDisabled)
	assert.Equal(t, 0, broker.Len("orders"))
}

func TestProducer_PropagatesPublishError(t *testing.T) {
	boom := errors.New("broker down")
	pub := &blockingPublisher{err: boom}
	p := newTestProducer[testEvent](t, pub, testCodec(t), "orders")

	err := p.Send(context.Background(), testEvent{}, NewMetadata("k"))
	assert.ErrorIs(t, err, boom)
}

func TestProducer_BoundsInFlight(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	p, err := NewProducer[testEvent](ProducerProps{Topic: "orders", Enabled: true, MaxInFlight: 2}, pub, testCodec(t), testLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Send(context.Background(), testEvent{N: i}, NewMetadata("k"))
		}()
	}

	require.Eventually(t, func() bool { return pub.active.Load() == 2 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), pub.active.Load())

	close(pub.release)
	wg.Wait()
	assert.Equal(t, int32(2), pub.peak.Load())
}

func TestProducer_SendRespectsContextWhileWaiting(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	defer close(pub.release)
	p, err := NewProducer[testEvent](ProducerProps{Topic: "orders", Enabled: true, MaxInFlight: 1}, pub, testCodec(t), testLogger())
	require.NoError(t, err)

	go func() { _ = p.Send(context.Background(), testEvent{}, NewMetadata("k")) }()
	require.Eventually(t, func() bool { return pub.active.Load() == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = p.Send(ctx, testEvent{}, NewMetadata("k"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewProducer_Validation(t *testing.T) {
	codec := testCodec(t)
	broker := memory.NewBroker(1)

	_, err := NewProducer[testEvent](ProducerProps{MaxInFlight: 1}, broker, codec, testLogger())
	assert.Error(t, err)

	_, err = NewProducer[testEvent](ProducerProps{Topic: "t"}, broker, codec, testLogger())
	assert.Error(t, err)
}
