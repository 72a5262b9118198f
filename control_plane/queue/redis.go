package queue

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/opsforge/opsforge/control_plane/observability"
)

// Key layout: opsforge:queues:{name} is the live list, consumers push
// poisoned messages onto opsforge:queues:{name}:dead.
func queueKey(name string) string {
	return fmt.Sprintf("opsforge:queues:%s", name)
}

func deadLetterKey(name string) string {
	return fmt.Sprintf("opsforge:queues:%s:dead", name)
}

// RedisQueue implements Redeliverer and DepthReader over Redis lists.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Redeliver atomically moves messages one at a time from the dead-letter
// list back to the tail of the live list (LMOVE), stopping at max or when
// the dead-letter list drains.
func (q *RedisQueue) Redeliver(ctx context.Context, queueName string, max int) (int, error) {
	if queueName == "" {
		return 0, fmt.Errorf("queue name is required")
	}
	if max <= 0 {
		return 0, nil
	}

	src := deadLetterKey(queueName)
	dst := queueKey(queueName)

	moved := 0
	for moved < max {
		err := q.client.LMove(ctx, src, dst, "LEFT", "RIGHT").Err()
		if err == redis.Nil {
			break // dead-letter list drained
		}
		if err != nil {
			return moved, fmt.Errorf("redeliver %s: %w", queueName, err)
		}
		moved++
	}

	observability.QueueMessagesRedelivered.WithLabelValues(queueName).Add(float64(moved))
	log.Printf("Redelivered %d messages from dead-letter of queue %s", moved, queueName)
	return moved, nil
}

// Depths reports live and dead-letter lengths, used by the console.
func (q *RedisQueue) Depths(ctx context.Context, queueName string) (live int64, dead int64, err error) {
	live, err = q.client.LLen(ctx, queueKey(queueName)).Result()
	if err != nil {
		return 0, 0, err
	}
	dead, err = q.client.LLen(ctx, deadLetterKey(queueName)).Result()
	if err != nil {
		return 0, 0, err
	}
	return live, dead, nil
}
