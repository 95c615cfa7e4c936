// Package memory provides an in-memory implementation of the queue interfaces.
// This is useful for testing and development without external dependencies.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"auth-go/internal/queue"
)

// Broker is an in-memory, partitioned log implementing both queue.Producer
// and queue.Subscriber. Keys are mapped to partitions with the same hash
// balancer the Kafka producer uses. Consumer groups keep one cursor per
// partition; a group sees each record once.
// This implementation is safe for concurrent use.
type Broker struct {
	mu         sync.Mutex
	partitions int
	balancer   *kafka.Hash
	topics     map[string]*topic
	closed     bool
	down       bool

	// wake is closed and replaced on every state change to release
	// blocked pollers.
	wake chan struct{}
}

type topic struct {
	logs   [][]*queue.Message
	groups map[string][]int64
	// start is the partition each group's next poll begins with.
	start map[string]int
}

// NewBroker creates a broker whose topics have the given partition count.
func NewBroker(partitions int) *Broker {
	if partitions < 1 {
		partitions = 1
	}
	return &Broker{
		partitions: partitions,
		balancer:   &kafka.Hash{},
		topics:     make(map[string]*topic),
		wake:       make(chan struct{}),
	}
}

// topicLocked returns the named topic, creating it on first use.
func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			logs:   make([][]*queue.Message, b.partitions),
			groups: make(map[string][]int64),
			start:  make(map[string]int),
		}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) broadcastLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}

// Publish appends a copy of msg to the partition chosen by its key.
func (b *Broker) Publish(ctx context.Context, msg *queue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Topic == "" {
		return ErrMissingTopic
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrQueueClosed
	}
	if b.down {
		return ErrBrokerUnavailable
	}

	t := b.topicLocked(msg.Topic)

	ids := make([]int, b.partitions)
	for i := range ids {
		ids[i] = i
	}
	partition := b.balancer.Balance(kafka.Message{Key: msg.Key}, ids...)

	stored := *msg
	stored.Partition = partition
	stored.Offset = int64(len(t.logs[partition]))
	stored.Headers = copyHeaders(msg.Headers)
	if stored.Time.IsZero() {
		stored.Time = time.Now().UTC()
	}
	t.logs[partition] = append(t.logs[partition], &stored)

	b.broadcastLocked()
	return nil
}

// Subscribe joins a consumer group. A new group starts at the beginning
// of every partition for OffsetEarliest, or at the current end otherwise.
func (b *Broker) Subscribe(ctx context.Context, opts queue.SubscribeOptions) (queue.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrQueueClosed
	}
	if b.down {
		return nil, ErrBrokerUnavailable
	}

	t := b.topicLocked(opts.Topic)
	if _, ok := t.groups[opts.GroupID]; !ok {
		cursor := make([]int64, b.partitions)
		if opts.OffsetReset == queue.OffsetLatest {
			for p := range cursor {
				cursor[p] = int64(len(t.logs[p]))
			}
		}
		t.groups[opts.GroupID] = cursor
	}

	return &subscription{broker: b, topic: opts.Topic, group: opts.GroupID}, nil
}

// Disconnect makes every Subscribe, Poll and Publish fail with
// ErrBrokerUnavailable until Reconnect is called.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = true
	b.broadcastLocked()
}

// Reconnect reverses Disconnect.
func (b *Broker) Reconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = false
	b.broadcastLocked()
}

// Close shuts down the broker, releasing all blocked pollers.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.broadcastLocked()
	return nil
}

// Len returns the number of records ever published to the topic.
// Useful for testing to verify queue state.
func (b *Broker) Len(topicName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topicName]
	if !ok {
		return 0
	}
	n := 0
	for _, log := range t.logs {
		n += len(log)
	}
	return n
}

// Messages returns a snapshot of the topic's records, partition by partition.
func (b *Broker) Messages(topicName string) []*queue.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topicName]
	if !ok {
		return nil
	}
	var out []*queue.Message
	for _, log := range t.logs {
		for _, m := range log {
			c := *m
			c.Headers = copyHeaders(m.Headers)
			out = append(out, &c)
		}
	}
	return out
}

// poll takes up to limit records for the group, advancing its cursors.
// It returns the wake channel to wait on when nothing was available.
func (b *Broker) poll(topicName, group string, limit int) ([]*queue.Message, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrQueueClosed
	}
	if b.down {
		return nil, nil, ErrBrokerUnavailable
	}

	t := b.topicLocked(topicName)
	cursor := t.groups[group]

	// Rotate the first partition so a busy one cannot starve the rest.
	first := t.start[group]
	t.start[group] = (first + 1) % b.partitions

	var out []*queue.Message
	for i := 0; i < b.partitions && len(out) < limit; i++ {
		p := (first + i) % b.partitions
		log := t.logs[p]
		for cursor[p] < int64(len(log)) && len(out) < limit {
			m := *log[cursor[p]]
			m.Headers = copyHeaders(m.Headers)
			out = append(out, &m)
			cursor[p]++
		}
	}

	if len(out) > 0 {
		return out, nil, nil
	}
	return nil, b.wake, nil
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// subscription is a group member on one topic.
type subscription struct {
	broker *Broker
	topic  string
	group  string

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) doneCh() chan struct{} {
	s.once.Do(func() { s.done = make(chan struct{}) })
	return s.done
}

// Poll blocks until records are available, the context is done or the
// subscription is closed.
func (s *subscription) Poll(ctx context.Context, limit int) ([]*queue.Message, error) {
	if limit < 1 {
		limit = 1
	}
	done := s.doneCh()

	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrSubscriptionClosed
		}

		msgs, wake, err := s.broker.poll(s.topic, s.group, limit)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			return nil, ErrSubscriptionClosed
		case <-wake:
		}
	}
}

// Close stops the subscription. The group's cursors are kept.
func (s *subscription) Close() error {
	done := s.doneCh()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(done)
	}
	return nil
}
