// Package testutil provides shared test infrastructure for board-sim.
// It consolidates board fixtures, an in-memory resolver and assertion helpers
// used across the sim/ sub-package tests.
package testutil

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/sampling"
)

// EventID is the event every fixture belongs to.
const EventID = "summer-bingo"

// Board returns a two-row board: row 0 needs one of a per-group boss kill or
// 15 sharks fished per-player; row 1 needs its single drop task.
func Board() sim.Board {
	return sim.Board{
		Limits: sim.Limits{MaxAttempts: 5000},
		Rows: []sim.Row{
			{
				Name:     "Row 1",
				Required: 1,
				Tasks: []sim.Task{
					{
						ID:     "vorkath-head",
						Name:   "Vorkath's head",
						Scope:  sim.ScopePerGroup,
						Chance: 0.9,
						Time:   sampling.TimeSpec{Distribution: sampling.DistUniform, Min: 2, Max: 4},
						Loot: sampling.Source{
							Guaranteed: []sampling.Item{{Name: "Dragon bones", Quantity: 2}},
							Main:       sampling.Table{{Chance: sampling.Probability(1.0 / 50), Item: "Vorkath's head", Quantity: 1}},
						},
						Goal: sim.Goal{Item: "Vorkath's head", Quantity: 1},
					},
					{
						ID:     "sharks",
						Name:   "Fish 15 sharks",
						Scope:  sim.ScopePerPlayer,
						Chance: 0.4,
						Time:   sampling.TimeSpec{Distribution: sampling.DistNormal, Min: 1, Max: 2},
						Loot:   sampling.Source{Guaranteed: []sampling.Item{{Name: "Raw shark", Quantity: 1}}},
						Goal:   sim.Goal{Item: "raw SHARK", Quantity: 15},
					},
				},
			},
			{
				Name: "Row 2",
				Tasks: []sim.Task{
					{
						ID:     "zulrah",
						Name:   "Kill Zulrah 3 times",
						Scope:  sim.ScopePerGroup,
						Chance: 0.7,
						Time:   sampling.TimeSpec{Distribution: sampling.DistCustom, Key: "triangular", Min: 1.5, Max: 3},
						Loot: sampling.Source{
							Guaranteed: []sampling.Item{{Name: "Zulrah's scales", Quantity: 100}},
							Tertiary:   sampling.Table{{Chance: sampling.Probability(1.0 / 5000), Item: "Pet snakeling", Quantity: 1}},
						},
						Goal: sim.Goal{Completions: 3},
					},
				},
			},
		},
	}
}

// Teams returns two teams on the fixture event with different strategies.
func Teams() []sim.Team {
	return []sim.Team{
		{ID: "team-a", EventID: EventID, Name: "Team A", Members: 3, Strategy: sim.StrategyConfig{Key: "row-unlock"}},
		{ID: "team-b", EventID: EventID, Name: "Team B", Members: 5, Strategy: sim.StrategyConfig{Key: "sequential"}},
	}
}

// StaticResolver serves snapshots and teams from memory.
type StaticResolver struct {
	mu        sync.RWMutex
	Snapshots map[string]*sim.Snapshot
	Teams     map[string]*sim.Team
}

// NewStaticResolver returns a resolver holding one batch and the given teams.
func NewStaticResolver(batchID string, snap *sim.Snapshot, teams ...sim.Team) *StaticResolver {
	r := &StaticResolver{
		Snapshots: map[string]*sim.Snapshot{batchID: snap},
		Teams:     make(map[string]*sim.Team, len(teams)),
	}
	for i := range teams {
		team := teams[i]
		r.Teams[team.ID] = &team
	}
	return r
}

// Snapshot implements sim.Resolver.
func (r *StaticResolver) Snapshot(_ context.Context, batchID string) (*sim.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.Snapshots[batchID]
	if !ok {
		return nil, sim.NotFound("snapshot", batchID)
	}
	return snap, nil
}

// Team implements sim.Resolver.
func (r *StaticResolver) Team(_ context.Context, teamID string) (*sim.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	team, ok := r.Teams[teamID]
	if !ok {
		return nil, sim.NotFound("team", teamID)
	}
	return team, nil
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
