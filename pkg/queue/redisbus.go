package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBus is a durable Bus backed by Redis streams. Each queue is a
// stream; a single shared consumer group ("stage") per queue splits its
// entries among consumers, and a nacked entry is re-added to the stream for
// redelivery. Consume reads only new entries: an entry left pending by a
// consumer that stopped before acking or nacking it is not claimed or
// redelivered to another consumer.
type RedisBus struct {
	client   *redis.Client
	group    string
	consumer string
	blockFor time.Duration

	closed chan struct{}
}

const redisBusGroup = "stage"

// NewRedisBus wraps client. consumerName identifies this process within
// the shared consumer group (defaults to a random UUID if empty), so two
// workers consuming the same queue split its messages rather than each
// seeing every one.
func NewRedisBus(client *redis.Client, consumerName string) *RedisBus {
	if consumerName == "" {
		consumerName = uuid.NewString()
	}
	return &RedisBus{
		client:   client,
		group:    redisBusGroup,
		consumer: consumerName,
		blockFor: 5 * time.Second,
		closed:   make(chan struct{}),
	}
}

func (b *RedisBus) Publish(ctx context.Context, queueName string, payload []byte) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queueName,
		Values: map[string]any{"payload": payload},
	}).Err()
}

func (b *RedisBus) ensureGroup(ctx context.Context, queueName string) error {
	err := b.client.XGroupCreateMkStream(ctx, queueName, b.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("queue: creating consumer group for %s: %w", queueName, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (b *RedisBus) Consume(ctx context.Context, queueName string, prefetch int) (<-chan Delivery, error) {
	select {
	case <-b.closed:
		return nil, ErrClosed
	default:
	}
	if prefetch <= 0 {
		prefetch = 8
	}
	if err := b.ensureGroup(ctx, queueName); err != nil {
		return nil, err
	}

	out := make(chan Delivery, prefetch)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			default:
			}

			res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    b.group,
				Consumer: b.consumer,
				Streams:  []string{queueName, ">"},
				Count:    int64(prefetch),
				Block:    b.blockFor,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}
				return
			}

			for _, stream := range res {
				for _, msg := range stream.Messages {
					payload, _ := msg.Values["payload"].(string)
					id := msg.ID
					delivery := Delivery{
						Payload: []byte(payload),
						Ack: func(ctx context.Context) error {
							return b.client.XAck(ctx, queueName, b.group, id).Err()
						},
						Nack: func(ctx context.Context, delay time.Duration) error {
							if delay > 0 {
								time.Sleep(delay)
							}
							// Re-add the payload as a new entry so a later
							// read picks it up, then ack the original.
							if err := b.client.XAdd(ctx, &redis.XAddArgs{
								Stream: queueName,
								Values: map[string]any{"payload": payload},
							}).Err(); err != nil {
								return err
							}
							return b.client.XAck(ctx, queueName, b.group, id).Err()
						},
					}
					select {
					case out <- delivery:
					case <-ctx.Done():
						return
					case <-b.closed:
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Close() error {
	select {
	case <-b.closed:
		return nil
	default:
		close(b.closed)
	}
	return nil
}
