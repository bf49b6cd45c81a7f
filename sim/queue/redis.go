package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Default connection timeout for Redis operations.
	defaultConnectionTimeout = 2 * time.Second

	// DefaultKey is the list every worker of a fleet pops from.
	DefaultKey = "boardsim:runs"
)

// RedisConfig holds configuration for the Redis queue.
type RedisConfig struct {
	Addr     string
	Password string `json:"-"`
	DB       int
	Key      string // list key (default DefaultKey)
}

// RedisQueue is a FIFO of JSON messages on a shared Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisQueueFromClient(client, cfg.Key), nil
}

// NewRedisQueueFromClient wraps an existing client.
func NewRedisQueueFromClient(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, ids ...int64) error {
	msgs := make([]Message, len(ids))
	for i, id := range ids {
		msgs[i] = Message{RunID: id}
	}
	return q.push(ctx, msgs...)
}

// EnqueueBatch publishes ids in messages of at most size ids each.
func (q *RedisQueue) EnqueueBatch(ctx context.Context, size int, ids ...int64) error {
	if size < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", size)
	}
	msgs := make([]Message, 0, len(ids)/size+1)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		msgs = append(msgs, Message{RunIDs: append([]int64(nil), ids[start:end]...)})
	}
	return q.push(ctx, msgs...)
}

// Publish implements Queue.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	if msg.Empty() {
		return nil
	}
	return q.push(ctx, msg)
}

func (q *RedisQueue) push(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, len(msgs))
	for i, m := range msgs {
		data, err := encodeMessage(m)
		if err != nil {
			return err
		}
		values[i] = data
	}
	if err := q.client.RPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", q.key, err)
	}
	return nil
}

// Dequeue implements Queue.
func (q *RedisQueue) Dequeue(ctx context.Context) (Message, error) {
	data, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, nil
	}
	if err != nil {
		return Message{}, fmt.Errorf("failed to pop from %s: %w", q.key, err)
	}
	return decodeMessage(data)
}

// Len returns the number of queued messages.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
