package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStream is the Redis Stream key carrying command change events.
	DefaultStream = "opsforge:commands:feed"

	// staleClaimAge is how long a delivered-but-unacked message sits in
	// another consumer's pending list before we claim it. This is the
	// redelivery mechanism; the transition guards absorb the duplicates.
	staleClaimAge = 60 * time.Second
)

// RedisFeed implements Publisher and Source on a Redis Stream with a
// consumer group. XACK after processing gives at-least-once semantics.
type RedisFeed struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string

	lastClaim time.Time
}

// NewRedisFeed connects to Redis and ensures the consumer group exists.
func NewRedisFeed(addr, password string, db int, stream, group, consumer string) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	f := &RedisFeed{client: client, stream: stream, group: group, consumer: consumer}
	if err := f.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// NewRedisFeedFromClient wraps an existing client (shared with the queue and
// the health probes) instead of opening another connection pool.
func NewRedisFeedFromClient(client *redis.Client, stream, group, consumer string) (*RedisFeed, error) {
	f := &RedisFeed{client: client, stream: stream, group: group, consumer: consumer}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RedisFeed) ensureGroup(ctx context.Context) error {
	err := f.client.XGroupCreateMkStream(ctx, f.stream, f.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", f.group, err)
	}
	return nil
}

// Publish appends the event to the stream.
func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	return f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.stream,
		Values: map[string]interface{}{"event": payload},
	}).Err()
}

// ReadBatch first reclaims messages another consumer read but never acked,
// then reads new entries for this consumer.
func (f *RedisFeed) ReadBatch(ctx context.Context, max int, block time.Duration) ([]Message, error) {
	if time.Since(f.lastClaim) > staleClaimAge {
		f.lastClaim = time.Now()
		claimed, err := f.claimStale(ctx, max)
		if err != nil {
			log.Printf("Feed stale-claim failed (continuing with fresh reads): %v", err)
		} else if len(claimed) > 0 {
			return claimed, nil
		}
	}

	streams, err := f.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    f.group,
		Consumer: f.consumer,
		Streams:  []string{f.stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var batch []Message
	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			msg, ok := f.decode(xmsg)
			if !ok {
				// Poison entry: ack so it cannot wedge the group.
				if ackErr := f.client.XAck(ctx, f.stream, f.group, xmsg.ID).Err(); ackErr != nil {
					log.Printf("Failed to ack undecodable feed entry %s: %v", xmsg.ID, ackErr)
				}
				continue
			}
			batch = append(batch, msg)
		}
	}
	return batch, nil
}

func (f *RedisFeed) claimStale(ctx context.Context, max int) ([]Message, error) {
	xmsgs, _, err := f.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   f.stream,
		Group:    f.group,
		Consumer: f.consumer,
		MinIdle:  staleClaimAge,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		return nil, err
	}

	var batch []Message
	for _, xmsg := range xmsgs {
		msg, ok := f.decode(xmsg)
		if !ok {
			if ackErr := f.client.XAck(ctx, f.stream, f.group, xmsg.ID).Err(); ackErr != nil {
				log.Printf("Failed to ack undecodable feed entry %s: %v", xmsg.ID, ackErr)
			}
			continue
		}
		batch = append(batch, msg)
	}
	if len(batch) > 0 {
		log.Printf("Reclaimed %d stale feed messages for consumer %s", len(batch), f.consumer)
	}
	return batch, nil
}

func (f *RedisFeed) decode(xmsg redis.XMessage) (Message, bool) {
	raw, ok := xmsg.Values["event"].(string)
	if !ok {
		log.Printf("Feed entry %s has no event payload", xmsg.ID)
		return Message{}, false
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		log.Printf("Feed entry %s is not decodable: %v", xmsg.ID, err)
		return Message{}, false
	}
	if event.EventID == "" {
		event.EventID = xmsg.ID
	}
	return Message{ID: xmsg.ID, Event: event}, true
}

// Ack confirms processing so the group will not redeliver.
func (f *RedisFeed) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return f.client.XAck(ctx, f.stream, f.group, ids...).Err()
}

// Close releases the underlying client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
