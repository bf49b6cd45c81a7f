package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process FIFO used by local batches and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(_ context.Context, ids ...int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.messages = append(q.messages, Message{RunID: id})
	}
	return nil
}

// Publish implements Queue.
func (q *MemoryQueue) Publish(_ context.Context, msg Message) error {
	if msg.Empty() {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return Message{}, nil
	}
	msg := q.messages[0]
	q.messages[0] = Message{}
	q.messages = q.messages[1:]
	return msg, nil
}

// Len returns the number of queued messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
