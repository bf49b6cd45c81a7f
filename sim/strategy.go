package sim

import (
	"fmt"
	"math/rand"
	"sort"
)

// TaskState is the progress of one task during a run.
type TaskState struct {
	Ref       TaskRef
	Task      *Task
	Successes int  // successful attempts so far
	Attempts  int  // attempts so far
	Satisfied bool // goal reached
}

// Progress returns how far the task is toward its goal, in [0,1].
func (ts *TaskState) Progress(pool *ResourcePool) float64 {
	if ts.Satisfied {
		return 1
	}
	target := float64(ts.Task.Goal.Target())
	have := float64(ts.Successes)
	if ts.Task.Goal.Item != "" {
		have = float64(pool.Quantity(ts.Task.Goal.Item))
	}
	if have >= target {
		return 1
	}
	return have / target
}

// Remaining returns the units (items or successes) still missing.
func (ts *TaskState) Remaining(pool *ResourcePool) int {
	if ts.Satisfied {
		return 0
	}
	have := ts.Successes
	if ts.Task.Goal.Item != "" {
		have = pool.Quantity(ts.Task.Goal.Item)
	}
	if rem := ts.Task.Goal.Target() - have; rem > 0 {
		return rem
	}
	return 0
}

// RowState is the progress of one row during a run.
type RowState struct {
	Index       int
	Row         *Row
	Tasks       []*TaskState
	Complete    bool
	CompletedAt float64
}

// Satisfied returns the number of satisfied tasks in the row.
func (rs *RowState) Satisfied() int {
	n := 0
	for _, ts := range rs.Tasks {
		if ts.Satisfied {
			n++
		}
	}
	return n
}

// Open returns the row's tasks that are not yet satisfied, in board order.
func (rs *RowState) Open() []*TaskState {
	var open []*TaskState
	for _, ts := range rs.Tasks {
		if !ts.Satisfied {
			open = append(open, ts)
		}
	}
	return open
}

// BoardState is the read-only view a Strategy decides on.
type BoardState struct {
	Rows       []*RowState
	CurrentRow int // index of the first incomplete row; len(Rows) when all are done
	Members    int
	Clock      float64
	Attempts   int
}

// Current returns the first incomplete row, or nil when the board is done.
func (b *BoardState) Current() *RowState {
	if b.CurrentRow < 0 || b.CurrentRow >= len(b.Rows) {
		return nil
	}
	return b.Rows[b.CurrentRow]
}

// Task returns the state addressed by ref, or nil.
func (b *BoardState) Task(ref TaskRef) *TaskState {
	if ref.Row < 0 || ref.Row >= len(b.Rows) {
		return nil
	}
	row := b.Rows[ref.Row]
	if ref.Task < 0 || ref.Task >= len(row.Tasks) {
		return nil
	}
	return row.Tasks[ref.Task]
}

// Strategy decides which task a team attempts next.
// Implementations must be deterministic given the board state, the pool and
// the RNG handed to their factory.
type Strategy interface {
	SelectNextTask(state *BoardState, pool *ResourcePool) (TaskRef, error)
}

// StrategyFactory builds a Strategy for one run.
type StrategyFactory func(cfg StrategyConfig, rng *rand.Rand) (Strategy, error)

// StrategyRegistry is the closed catalog of strategy keys. It is built once at
// process start and passed to the Executor; nothing reads it as global state.
type StrategyRegistry struct {
	factories map[string]StrategyFactory
}

// NewStrategyRegistry returns an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{factories: make(map[string]StrategyFactory)}
}

// Register adds a strategy under key. Registering a key twice replaces it.
func (r *StrategyRegistry) Register(key string, factory StrategyFactory) {
	r.factories[key] = factory
}

// IsValid returns true if key names a registered strategy.
func (r *StrategyRegistry) IsValid(key string) bool {
	_, ok := r.factories[key]
	return ok
}

// Keys returns the registered keys in sorted order.
func (r *StrategyRegistry) Keys() []string {
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve builds the strategy named by cfg. Unknown keys fail here, at run setup,
// never mid-simulation.
func (r *StrategyRegistry) Resolve(cfg StrategyConfig, rng *rand.Rand) (Strategy, error) {
	factory, ok := r.factories[cfg.Key]
	if !ok {
		return nil, fmt.Errorf("%w %q (valid: %v)", ErrUnknownStrategy, cfg.Key, r.Keys())
	}
	s, err := factory(cfg, rng)
	if err != nil {
		return nil, fmt.Errorf("building strategy %q: %w", cfg.Key, err)
	}
	return s, nil
}
