// Package strategy implements the built-in task-selection policies.
//
// Each policy is registered under a key in a sim.StrategyRegistry; add a new
// policy by calling Register on the registry, the executor needs no change.
package strategy

import (
	"errors"
	"math"
	"math/rand"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/sampling"
)

// Built-in strategy keys.
const (
	KeyRowUnlock       = "row-unlock"
	KeySequential      = "sequential"
	KeyFastestExpected = "fastest-expected"
	KeyRandom          = "random"
)

// ErrNoCandidate is returned when no unlocked task remains open.
var ErrNoCandidate = errors.New("no open task on unlocked rows")

// NewDefaultRegistry returns a registry holding every built-in strategy.
func NewDefaultRegistry() *sim.StrategyRegistry {
	r := sim.NewStrategyRegistry()
	r.Register(KeyRowUnlock, func(_ sim.StrategyConfig, _ *rand.Rand) (sim.Strategy, error) {
		return &RowUnlock{}, nil
	})
	r.Register(KeySequential, func(_ sim.StrategyConfig, _ *rand.Rand) (sim.Strategy, error) {
		return &Sequential{}, nil
	})
	r.Register(KeyFastestExpected, newFastestExpected)
	r.Register(KeyRandom, func(_ sim.StrategyConfig, rng *rand.Rand) (sim.Strategy, error) {
		if rng == nil {
			return nil, errors.New("random strategy requires a generator")
		}
		return &Random{rng: rng}, nil
	})
	return r
}

// ExpectedAttempts estimates the attempts still needed to satisfy a task:
// remaining units divided by the expected units one attempt yields.
// Returns +Inf when an attempt can never make progress.
func ExpectedAttempts(ts *sim.TaskState, pool *sim.ResourcePool, members int) float64 {
	remaining := ts.Remaining(pool)
	if remaining == 0 {
		return 0
	}
	trials := 1.0
	if ts.Task.Scope == sim.ScopePerPlayer {
		trials = float64(members)
	}
	p := math.Min(1, math.Max(0, ts.Task.Chance))
	perAttempt := p * trials
	if ts.Task.Goal.Item != "" {
		perAttempt *= ExpectedYield(ts.Task.Loot, ts.Task.Goal.Item)
	}
	if perAttempt <= 0 {
		return math.Inf(1)
	}
	return float64(remaining) / perAttempt
}

// ExpectedYield is the mean quantity of item one successful roll of src produces.
func ExpectedYield(src sampling.Source, item string) float64 {
	key := sampling.ItemKey(item)
	total := 0.0
	for _, it := range src.Guaranteed {
		if sampling.ItemKey(it.Name) == key {
			total += float64(it.Quantity)
		}
	}
	for _, table := range []sampling.Table{src.Main, src.Tertiary} {
		for _, e := range table {
			total += clampProbability(e.Chance.Float64()) * entryYield(e, key)
		}
	}
	return total
}

func entryYield(e sampling.Entry, key string) float64 {
	if !e.Composite() {
		if sampling.ItemKey(e.Item) != key {
			return 0
		}
		lo := math.Max(1, float64(e.Quantity))
		hi := math.Max(lo, float64(e.QuantityMax))
		return (lo + hi) / 2
	}
	weights := 0.0
	for _, o := range e.Options {
		if o.Weight > 0 {
			weights += o.Weight
		}
	}
	yield := 0.0
	for _, o := range e.Options {
		share := 1.0 / float64(len(e.Options))
		if weights > 0 {
			share = math.Max(0, o.Weight) / weights
		}
		for _, it := range o.Items {
			if sampling.ItemKey(it.Name) == key {
				yield += share * float64(it.Quantity)
			}
		}
	}
	return yield
}

func clampProbability(p float64) float64 {
	return math.Min(1, math.Max(0, p))
}

// unlockedOpen splits open tasks into those of the current row and those of
// rows already completed.
func unlockedOpen(state *sim.BoardState) (current, earlier []*sim.TaskState) {
	if row := state.Current(); row != nil {
		current = row.Open()
	}
	for i := 0; i < state.CurrentRow && i < len(state.Rows); i++ {
		earlier = append(earlier, state.Rows[i].Open()...)
	}
	return current, earlier
}
