// Package queue gives the command subsystem its view of the messaging
// system: queues are referenced by name only, and the single operation the
// core needs is dead-letter redelivery.
package queue

import (
	"context"
)

// Redeliverer moves failed messages back onto their queue for another
// delivery attempt. REPROCESS_QUEUE is its only caller in the core.
type Redeliverer interface {
	// Redeliver requeues up to max messages from the named queue's
	// dead-letter list and returns how many were actually moved.
	Redeliver(ctx context.Context, queueName string, max int) (int, error)
}

// DepthReader reports queue backlog for the console surfaces.
type DepthReader interface {
	// Depths returns the live and dead-letter list lengths of the named
	// queue.
	Depths(ctx context.Context, queueName string) (live int64, dead int64, err error)
}
