// Package feed is the change feed over the command store: every accepted
// command is published as an insert event, and the dispatcher consumes the
// stream in batches with at-least-once delivery.
package feed

import (
	"context"
	"time"

	"github.com/opsforge/opsforge/control_plane/store"
)

// EventKind tags what kind of change produced the event.
type EventKind string

const (
	KindInsert EventKind = "INSERT"
	KindModify EventKind = "MODIFY"
	KindRemove EventKind = "REMOVE"
)

// Event is one change on the command store. Command carries the post-image.
type Event struct {
	EventID   string         `json:"event_id"`
	Kind      EventKind      `json:"kind"`
	Command   *store.Command `json:"command"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
}

// Message pairs an event with the delivery token used to acknowledge it.
type Message struct {
	ID    string
	Event Event
}

// Publisher emits change events. The command submission path publishes an
// INSERT after every successful store append.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Source delivers batches of change events. Delivery is at-least-once:
// a message that is read but never acked is redelivered later, possibly to a
// different consumer. Ordering holds within one partition only.
type Source interface {
	// ReadBatch blocks up to the given duration and returns at most max
	// messages. An empty slice means the wait timed out.
	ReadBatch(ctx context.Context, max int, block time.Duration) ([]Message, error)

	// Ack marks messages as processed so they are not redelivered.
	Ack(ctx context.Context, ids ...string) error
}
