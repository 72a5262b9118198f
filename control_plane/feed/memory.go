package feed

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryFeed is a single-process feed for tests and development. Messages are
// held in-flight after a read until acked; Redeliver requeues them, which is
// how tests exercise at-least-once semantics.
type MemoryFeed struct {
	mu       sync.Mutex
	queue    []Message
	inflight map[string]Message
	seq      int
}

// NewMemoryFeed initializes an empty MemoryFeed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{inflight: make(map[string]Message)}
}

func (f *MemoryFeed) Publish(ctx context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	f.seq++
	id := fmt.Sprintf("mem-%d", f.seq)
	if event.EventID == "" {
		event.EventID = id
	}
	f.queue = append(f.queue, Message{ID: id, Event: event})
	return nil
}

func (f *MemoryFeed) ReadBatch(ctx context.Context, max int, block time.Duration) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.queue) == 0 {
		return nil, nil
	}
	n := max
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := f.queue[:n]
	f.queue = f.queue[n:]
	for _, msg := range batch {
		f.inflight[msg.ID] = msg
	}
	return batch, nil
}

func (f *MemoryFeed) Ack(ctx context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		delete(f.inflight, id)
	}
	return nil
}

// Redeliver moves all unacked messages back to the head of the queue.
func (f *MemoryFeed) Redeliver() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.inflight)
	for _, msg := range f.inflight {
		f.queue = append([]Message{msg}, f.queue...)
	}
	f.inflight = make(map[string]Message)
	return n
}

// Pending reports how many messages are waiting to be read.
func (f *MemoryFeed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *MemoryFeed) Close() error {
	return nil
}
