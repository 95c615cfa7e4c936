// Package queue defines interfaces for message broker operations.
// This abstraction allows swapping implementations (Kafka, in-memory)
// without changing the consumption pipeline.
package queue

import (
	"context"
	"time"
)

// Message represents a record on a topic.
type Message struct {
	// Topic is required when publishing.
	Topic string

	// Partition and Offset are set by the broker on consumption.
	Partition int
	Offset    int64

	// Key is the partition key for ordering guarantees.
	Key []byte

	// Value is the message payload.
	Value []byte

	// Headers contains optional metadata.
	Headers map[string]string

	// Time is the broker timestamp of the record.
	Time time.Time
}

// Producer defines the interface for publishing messages.
// Implementations must be safe for concurrent use.
type Producer interface {
	// Publish sends a message to msg.Topic.
	// The key is used for partitioning - messages with the same key
	// land on the same partition and keep their relative order.
	Publish(ctx context.Context, msg *Message) error

	// Close releases any resources held by the producer.
	Close() error
}

// OffsetReset decides where a new consumer group starts reading.
type OffsetReset string

const (
	OffsetEarliest OffsetReset = "earliest"
	OffsetLatest   OffsetReset = "latest"
)

// SubscribeOptions describes a group subscription to one topic.
type SubscribeOptions struct {
	// Brokers overrides the subscriber's default broker list when set.
	Brokers        []string
	Topic          string
	GroupID        string
	OffsetReset    OffsetReset
	CommitInterval time.Duration

	// MaxWait bounds how long Poll keeps filling a batch once the
	// first record has arrived.
	MaxWait time.Duration
}

// Subscriber opens subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error)
}

// Subscription is a live, group-managed stream of records.
type Subscription interface {
	// Poll blocks until at least one record is available, then returns up
	// to limit records. Returned records are already acknowledged, so they
	// will not be redelivered to the group after a restart.
	Poll(ctx context.Context, limit int) ([]*Message, error)

	// Close leaves the group and releases the connection.
	Close() error
}
