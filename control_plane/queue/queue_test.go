package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client), client
}

func TestRedeliverMovesUpToMax(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	for _, msg := range []string{"m1", "m2", "m3", "m4"} {
		client.RPush(ctx, "opsforge:queues:sync:dead", msg)
	}

	moved, err := q.Redeliver(ctx, "sync", 3)
	if err != nil {
		t.Fatalf("Redeliver failed: %v", err)
	}
	if moved != 3 {
		t.Errorf("Expected 3 moved, got %d", moved)
	}

	live, dead, err := q.Depths(ctx, "sync")
	if err != nil {
		t.Fatalf("Depths failed: %v", err)
	}
	if live != 3 || dead != 1 {
		t.Errorf("Expected live=3 dead=1, got live=%d dead=%d", live, dead)
	}

	// Order preserved: oldest dead-letter entries come back first
	msgs, _ := client.LRange(ctx, "opsforge:queues:sync", 0, -1).Result()
	if len(msgs) != 3 || msgs[0] != "m1" || msgs[2] != "m3" {
		t.Errorf("Expected m1..m3 in order, got %v", msgs)
	}
}

func TestRedeliverDrainsShortQueue(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	client.RPush(ctx, "opsforge:queues:sync:dead", "only")

	moved, err := q.Redeliver(ctx, "sync", 10)
	if err != nil {
		t.Fatalf("Redeliver failed: %v", err)
	}
	if moved != 1 {
		t.Errorf("Expected 1 moved when dead letter drains early, got %d", moved)
	}
}

func TestRedeliverEmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t)

	moved, err := q.Redeliver(context.Background(), "empty", 5)
	if err != nil {
		t.Fatalf("Redeliver failed: %v", err)
	}
	if moved != 0 {
		t.Errorf("Expected 0 moved, got %d", moved)
	}
}

func TestRedeliverRequiresQueueName(t *testing.T) {
	q, _ := newTestQueue(t)
	if _, err := q.Redeliver(context.Background(), "", 5); err == nil {
		t.Error("Expected error for empty queue name")
	}
}
