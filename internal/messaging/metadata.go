// Package messaging implements typed at-least-once consumption and
// publishing on top of the queue interfaces, including the retry and
// dead-letter escalation protocol.
package messaging

import (
	"errors"
	"time"
)

// Errors returned by the messaging package.
var (
	// ErrDecode marks a record whose envelope or payload cannot be decoded.
	ErrDecode = errors.New("failed to decode message")

	// ErrNestedRetryMessage is a protocol violation: a retry envelope
	// wrapping another retry envelope.
	ErrNestedRetryMessage = errors.New("nested retry message")

	// ErrProducerDisabled is returned by Send on a disabled producer.
	ErrProducerDisabled = errors.New("producer is disabled")

	// ErrReconnectExhausted terminates a consumer whose stream could not
	// be re-established within its reconnect budget.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrConsumerStarted is returned when Start is called twice.
	ErrConsumerStarted = errors.New("consumer already started")
)

// Metadata travels with every message through its processing lifetime.
// Attempt starts at 0 and grows by one on every retry hop; it never resets.
type Metadata struct {
	CreatedAt time.Time
	Key       string
	Attempt   int32
}

// NewMetadata returns metadata for a fresh message.
func NewMetadata(key string) Metadata {
	return Metadata{
		CreatedAt: time.Now().UTC(),
		Key:       key,
	}
}

// Next returns a copy with Attempt incremented.
func (m Metadata) Next() Metadata {
	m.Attempt++
	return m
}

// Result is the outcome of handling one record.
type Result int

const (
	ResultOK Result = iota
	ResultFailed
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
