package strategy

import (
	"fmt"
	"math/rand"

	"github.com/board-sim/board-sim/sim"
)

// RowUnlock greedily targets the task that most directly completes the current
// row: highest progress toward its goal, ties broken by fewer expected attempts
// and then board order. Open tasks on already-unlocked rows are only considered
// when the current row has no candidate.
type RowUnlock struct{}

// SelectNextTask implements sim.Strategy for RowUnlock.
func (s *RowUnlock) SelectNextTask(state *sim.BoardState, pool *sim.ResourcePool) (sim.TaskRef, error) {
	current, earlier := unlockedOpen(state)
	candidates := current
	if len(candidates) == 0 {
		candidates = earlier
	}
	if len(candidates) == 0 {
		return sim.TaskRef{}, ErrNoCandidate
	}

	best := candidates[0]
	bestProgress := best.Progress(pool)
	bestCost := ExpectedAttempts(best, pool, state.Members)
	for _, ts := range candidates[1:] {
		progress := ts.Progress(pool)
		cost := ExpectedAttempts(ts, pool, state.Members)
		if progress > bestProgress || (progress == bestProgress && cost < bestCost) {
			best, bestProgress, bestCost = ts, progress, cost
		}
	}
	return best.Ref, nil
}

// Sequential works through the current row in board order.
type Sequential struct{}

// SelectNextTask implements sim.Strategy for Sequential.
func (s *Sequential) SelectNextTask(state *sim.BoardState, _ *sim.ResourcePool) (sim.TaskRef, error) {
	current, earlier := unlockedOpen(state)
	if len(current) > 0 {
		return current[0].Ref, nil
	}
	if len(earlier) > 0 {
		return earlier[0].Ref, nil
	}
	return sim.TaskRef{}, ErrNoCandidate
}

// FastestExpected picks the open task with the lowest expected cost, where cost
// is expected attempts left × (1 + time_weight × mean attempt minutes).
// Param "time_weight" defaults to 1; 0 ranks purely by attempts.
type FastestExpected struct {
	timeWeight float64
}

func newFastestExpected(cfg sim.StrategyConfig, _ *rand.Rand) (sim.Strategy, error) {
	w := cfg.Param("time_weight", 1)
	if w < 0 {
		return nil, fmt.Errorf("time_weight must be non-negative, got %f", w)
	}
	return &FastestExpected{timeWeight: w}, nil
}

// SelectNextTask implements sim.Strategy for FastestExpected.
func (s *FastestExpected) SelectNextTask(state *sim.BoardState, pool *sim.ResourcePool) (sim.TaskRef, error) {
	current, earlier := unlockedOpen(state)
	candidates := current
	if len(candidates) == 0 {
		candidates = earlier
	}
	if len(candidates) == 0 {
		return sim.TaskRef{}, ErrNoCandidate
	}

	best := candidates[0]
	bestCost := s.cost(best, pool, state.Members)
	for _, ts := range candidates[1:] {
		if cost := s.cost(ts, pool, state.Members); cost < bestCost {
			best, bestCost = ts, cost
		}
	}
	return best.Ref, nil
}

func (s *FastestExpected) cost(ts *sim.TaskState, pool *sim.ResourcePool, members int) float64 {
	return ExpectedAttempts(ts, pool, members) * (1 + s.timeWeight*ts.Task.Time.Mean())
}

// Random picks uniformly among the current row's open tasks using the run's
// strategy stream.
type Random struct {
	rng *rand.Rand
}

// SelectNextTask implements sim.Strategy for Random.
func (s *Random) SelectNextTask(state *sim.BoardState, _ *sim.ResourcePool) (sim.TaskRef, error) {
	current, earlier := unlockedOpen(state)
	candidates := current
	if len(candidates) == 0 {
		candidates = earlier
	}
	if len(candidates) == 0 {
		return sim.TaskRef{}, ErrNoCandidate
	}
	return candidates[s.rng.Intn(len(candidates))].Ref, nil
}
