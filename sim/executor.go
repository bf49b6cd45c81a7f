// sim/executor.go
package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/board-sim/board-sim/sim/sampling"
	"github.com/board-sim/board-sim/sim/trace"
)

// Resolver is the read-only collaborator the executor pulls run inputs from.
type Resolver interface {
	// Snapshot returns the frozen board of a batch.
	Snapshot(ctx context.Context, batchID string) (*Snapshot, error)
	// Team returns a team and its strategy configuration.
	Team(ctx context.Context, teamID string) (*Team, error)
}

// ExecutorConfig holds optional executor settings.
type ExecutorConfig struct {
	Trace trace.TraceConfig
}

// Executor simulates single runs. It is safe for concurrent use: all per-run
// state lives on the stack of Execute.
type Executor struct {
	resolver   Resolver
	strategies *StrategyRegistry
	times      *sampling.TimeRegistry
	config     ExecutorConfig
}

// NewExecutor creates an Executor. strategies and times are the registries built
// at process start.
func NewExecutor(resolver Resolver, strategies *StrategyRegistry, times *sampling.TimeRegistry, config ExecutorConfig) *Executor {
	if times == nil {
		times = sampling.NewTimeRegistry()
	}
	return &Executor{
		resolver:   resolver,
		strategies: strategies,
		times:      times,
		config:     config,
	}
}

// Outcome is what one execution produced. Trace is nil unless tracing is enabled.
type Outcome struct {
	Result *RunResult
	Trace  *trace.RunTrace
}

// Execute resolves the run's snapshot and team and simulates it.
//
// Faults while resolving inputs, building the strategy or simulating (panics
// included) come back as a KindRunFault *Error. Cancellation comes back as the
// bare context error so the caller can leave the run non-terminal.
func (e *Executor) Execute(ctx context.Context, run Run) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = RunFault(run.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	snap, err := e.resolver.Snapshot(ctx, run.BatchID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, RunFault(run.ID, fmt.Errorf("resolving snapshot: %w", err))
	}
	team, err := e.resolver.Team(ctx, run.TeamID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, RunFault(run.ID, fmt.Errorf("resolving team: %w", err))
	}
	return e.Simulate(ctx, run, snap, team)
}

// Simulate runs the turn loop for one run against already-resolved inputs.
func (e *Executor) Simulate(ctx context.Context, run Run, snap *Snapshot, team *Team) (*Outcome, error) {
	if snap.Empty() {
		return nil, RunFault(run.ID, errors.New("snapshot has no rows"))
	}
	if team == nil {
		return nil, RunFault(run.ID, NotFound("team", run.TeamID))
	}

	rng := NewPartitionedRNG(run.Seed)
	strategy, err := e.strategies.Resolve(team.Strategy, rng.ForSubsystem(SubsystemStrategy))
	if err != nil {
		return nil, RunFault(run.ID, err)
	}
	samplers, err := e.buildSamplers(snap)
	if err != nil {
		return nil, RunFault(run.ID, err)
	}

	state := newBoardState(snap, team.ActiveMembers())
	pool := NewResourcePool()
	limits := snap.Limits
	maxAttempts := limits.EffectiveMaxAttempts()

	var rt *trace.RunTrace
	if e.config.Trace.Enabled() {
		rt = trace.NewRunTrace(e.config.Trace)
	}

	successRng := rng.ForSubsystem(SubsystemSuccess)
	lootRng := rng.ForSubsystem(SubsystemLoot)
	timeRng := rng.ForSubsystem(SubsystemTime)

	for state.CurrentRow < len(state.Rows) {
		if state.Attempts >= maxAttempts {
			break
		}
		if limits.TimeBudget > 0 && state.Clock >= limits.TimeBudget {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ref, err := strategy.SelectNextTask(state, pool)
		if err != nil {
			return nil, RunFault(run.ID, fmt.Errorf("selecting task at attempt %d: %w", state.Attempts, err))
		}
		ts := state.Task(ref)
		if ts == nil {
			return nil, RunFault(run.ID, NotFound("task", fmt.Sprintf("row %d task %d", ref.Row, ref.Task)))
		}
		if ref.Row > state.CurrentRow {
			return nil, RunFault(run.ID, fmt.Errorf("strategy selected task %q on locked row %d", ts.Task.ID, ref.Row))
		}
		if ts.Satisfied {
			return nil, RunFault(run.ID, fmt.Errorf("strategy selected satisfied task %q", ts.Task.ID))
		}

		state.Attempts++
		ts.Attempts++

		trials := 1
		if ts.Task.Scope == ScopePerPlayer {
			trials = state.Members
		}
		successes := 0
		for i := 0; i < trials; i++ {
			if sampling.Chance(successRng, ts.Task.Chance) {
				successes++
			}
		}

		var gained []sampling.Item
		elapsed := 0.0
		if successes > 0 {
			for i := 0; i < successes; i++ {
				gained = append(gained, ts.Task.Loot.Roll(lootRng)...)
			}
			gained = sampling.Merge(gained...)
			pool.Add(gained...)
			ts.Successes += successes
			elapsed = samplers[ref.Row][ref.Task].Sample(timeRng)
			state.Clock += elapsed
		}
		state.refresh(pool)

		if rt != nil {
			rt.RecordAttempt(trace.AttemptRecord{
				Turn:      state.Attempts,
				Row:       ref.Row,
				TaskID:    ts.Task.ID,
				Trials:    trials,
				Successes: successes,
				Elapsed:   elapsed,
				Clock:     state.Clock,
				Items:     gained,
			})
		}
	}

	result := &RunResult{
		RunID:          run.ID,
		BatchID:        run.BatchID,
		TeamID:         run.TeamID,
		Seed:           run.Seed,
		BoardCompleted: state.CurrentRow >= len(state.Rows),
		ElapsedMinutes: state.Clock,
		Attempts:       state.Attempts,
		RowTimes:       make([]float64, 0, len(state.Rows)),
		Items:          pool.Items(),
	}
	for _, rs := range state.Rows {
		if rs.Complete {
			result.RowsCompleted++
			result.RowTimes = append(result.RowTimes, rs.CompletedAt)
		}
	}

	logrus.WithFields(logrus.Fields{
		"run":      run.ID,
		"team":     run.TeamID,
		"rows":     result.RowsCompleted,
		"attempts": result.Attempts,
		"minutes":  result.ElapsedMinutes,
	}).Debug("run simulated")

	return &Outcome{Result: result, Trace: rt}, nil
}

// buildSamplers resolves every task's time sampler before the first attempt so a
// bad distribution fails the run at setup.
func (e *Executor) buildSamplers(snap *Snapshot) ([][]sampling.TimeSampler, error) {
	out := make([][]sampling.TimeSampler, len(snap.Rows))
	for i, row := range snap.Rows {
		out[i] = make([]sampling.TimeSampler, len(row.Tasks))
		for j, task := range row.Tasks {
			if !IsValidRollScope(string(task.Scope)) {
				return nil, fmt.Errorf("task %q: unknown roll scope %q", task.ID, task.Scope)
			}
			s, err := sampling.NewTimeSampler(task.Time, e.times)
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", task.ID, err)
			}
			out[i][j] = s
		}
	}
	return out, nil
}

func newBoardState(snap *Snapshot, members int) *BoardState {
	state := &BoardState{
		Rows:    make([]*RowState, len(snap.Rows)),
		Members: members,
	}
	for i := range snap.Rows {
		row := &snap.Rows[i]
		rs := &RowState{Index: i, Row: row, Tasks: make([]*TaskState, len(row.Tasks))}
		for j := range row.Tasks {
			rs.Tasks[j] = &TaskState{Ref: TaskRef{Row: i, Task: j}, Task: &row.Tasks[j]}
		}
		state.Rows[i] = rs
	}
	state.refresh(NewResourcePool())
	return state
}

// refresh re-evaluates task goals against the pool and unlocks rows in order.
// Item goals can be met by loot from any task, so every task is rechecked.
func (b *BoardState) refresh(pool *ResourcePool) {
	for _, rs := range b.Rows {
		for _, ts := range rs.Tasks {
			if !ts.Satisfied && ts.Remaining(pool) == 0 {
				ts.Satisfied = true
			}
		}
	}
	for b.CurrentRow < len(b.Rows) {
		rs := b.Rows[b.CurrentRow]
		if rs.Satisfied() < rs.Row.RequiredCount() {
			break
		}
		rs.Complete = true
		rs.CompletedAt = b.Clock
		b.CurrentRow++
	}
}
