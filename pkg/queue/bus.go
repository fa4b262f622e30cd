// Package queue specifies the message-bus contract pipeline stages consume
// and publish on, and ships two implementations: an in-memory reference bus
// for tests and single-process runs, and a Redis-backed durable bus for
// production. Queue names are configurable; the defaults a deployment
// wires are os2ds_scan_specs, os2ds_conversions, os2ds_matches,
// os2ds_metadata, os2ds_metadata_requests, os2ds_problems, os2ds_status.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Consume/Publish once the bus has been closed.
var ErrClosed = errors.New("queue: bus closed")

// Delivery is one message pulled off a queue, carrying enough to ack or
// nack it once the handler has run. At-least-once delivery means a handler
// must be safe to invoke more than once for the same payload.
type Delivery struct {
	Payload []byte
	// Ack marks the message as durably processed. Nil on backends (e.g.
	// the in-memory bus) that don't need an explicit ack.
	Ack func(ctx context.Context) error
	// Nack returns the message to the queue for redelivery, optionally
	// after delay. Nil on backends without redelivery semantics.
	Nack func(ctx context.Context, delay time.Duration) error
}

// Bus is the message-bus contract every pipeline stage depends on. A stage
// knows only this interface; it is never aware of the backend behind it.
type Bus interface {
	// Publish enqueues payload on queueName. It returns once the
	// backend has accepted the message, not once a consumer has seen it.
	Publish(ctx context.Context, queueName string, payload []byte) error

	// Consume delivers messages from queueName to deliveries until ctx
	// is cancelled or the bus is closed, at which point the channel is
	// closed. prefetch bounds how many unacknowledged deliveries may be
	// outstanding at once; 0 means the backend's own default.
	Consume(ctx context.Context, queueName string, prefetch int) (<-chan Delivery, error)

	// Close releases any resources the bus holds (connections, goroutines).
	// Subsequent Publish/Consume calls return ErrClosed.
	Close() error
}
