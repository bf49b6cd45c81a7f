// Package queue carries run ids from batch creation to the dispatchers.
// MemoryQueue serves a single process; RedisQueue is a list shared by a fleet
// of workers. Delivery is at-least-once and may duplicate ids: exclusivity is
// enforced by the store's atomic claim, never by the queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/board-sim/board-sim/sim"
)

// Message is one queue entry: a single run id or a batch of ids.
// Hops counts how many partitioned workers already passed it on.
type Message struct {
	RunID  int64   `json:"run_id,omitempty"`
	RunIDs []int64 `json:"run_ids,omitempty"`
	Hops   int     `json:"hops,omitempty"`
}

// IDs returns every run id the message carries. An empty slice means the
// queue had nothing to deliver.
func (m Message) IDs() []int64 {
	ids := make([]int64, 0, len(m.RunIDs)+1)
	if m.RunID != 0 {
		ids = append(ids, m.RunID)
	}
	return append(ids, m.RunIDs...)
}

// Empty reports whether the message carries no ids.
func (m Message) Empty() bool {
	return m.RunID == 0 && len(m.RunIDs) == 0
}

// Queue is the bus contract the dispatcher consumes.
type Queue interface {
	// Enqueue publishes one message per run id.
	Enqueue(ctx context.Context, ids ...int64) error
	// Publish pushes a message as is; used to hand foreign ids back.
	Publish(ctx context.Context, msg Message) error
	// Dequeue pops the oldest message, or an empty one when nothing is queued.
	Dequeue(ctx context.Context) (Message, error)
}

func encodeMessage(msg Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", &sim.Error{Kind: sim.KindSerialization, Op: "encode message", Err: err}
	}
	return string(data), nil
}

func decodeMessage(data string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return Message{}, &sim.Error{Kind: sim.KindSerialization, Op: "decode message", Err: fmt.Errorf("%q: %w", data, err)}
	}
	return msg, nil
}
