package memory

import "errors"

var (
	// ErrQueueClosed is returned when using a closed broker.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrSubscriptionClosed is returned by Poll after Close.
	ErrSubscriptionClosed = errors.New("subscription is closed")

	// ErrBrokerUnavailable is returned while the broker is disconnected.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrMissingTopic is returned when a message is published without a topic.
	ErrMissingTopic = errors.New("message topic is required")
)
