// Package aggregate rolls sealed run results up into per-team statistics.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/sampling"
	"github.com/board-sim/board-sim/sim/store"
)

// Summarize computes a team aggregate from run counts and the results sealed
// so far. It is pure; partial result sets are fine.
//
// CompletionRate is completed boards over all runs of the team, so pending and
// failed runs count against it. Time statistics cover only the runs that
// completed the board.
func Summarize(total, failed int, results []sim.RunResult) sim.TeamAggregate {
	agg := sim.TeamAggregate{
		TotalRuns:    total,
		FinishedRuns: len(results),
		FailedRuns:   failed,
	}

	var times, rows []float64
	var items []sampling.Item
	for _, r := range results {
		rows = append(rows, float64(r.RowsCompleted))
		items = append(items, r.Items...)
		if r.BoardCompleted {
			agg.CompletedBoards++
			times = append(times, r.ElapsedMinutes)
		}
	}
	agg.ItemTotals = sampling.Merge(items...)
	if len(rows) > 0 {
		agg.MeanRows = stat.Mean(rows, nil)
	}
	if total > 0 {
		agg.CompletionRate = float64(agg.CompletedBoards) / float64(total)
	}

	if len(times) == 0 {
		return agg
	}
	sort.Float64s(times)
	agg.MeanTime = stat.Mean(times, nil)
	if len(times) > 1 {
		agg.StdDevTime = stat.StdDev(times, nil)
	}
	agg.P50Time = stat.Quantile(0.50, stat.Empirical, times, nil)
	agg.P90Time = stat.Quantile(0.90, stat.Empirical, times, nil)
	agg.P95Time = stat.Quantile(0.95, stat.Empirical, times, nil)
	return agg
}

// Source is what the aggregator reads and writes.
type Source interface {
	TeamRunCounts(ctx context.Context, batchID, teamID string) (store.RunCounts, error)
	ListResults(ctx context.Context, batchID, teamID string) ([]sim.RunResult, error)
	UpsertAggregate(ctx context.Context, agg *sim.TeamAggregate) error
}

// Aggregator recomputes team aggregates from scratch. Recompute takes no
// locks, so a slow recompute may finish after a newer one. The store keeps
// whichever aggregate saw more sealed runs, so a stale write never replaces a
// newer one and the recompute after the last seal is the one that stays.
type Aggregator struct {
	source Source
	now    func() time.Time
}

// New creates an Aggregator over source.
func New(source Source) *Aggregator {
	return &Aggregator{source: source, now: time.Now}
}

// Recompute rebuilds and stores the aggregate for one (batch, team).
func (a *Aggregator) Recompute(ctx context.Context, batchID, teamID string) (*sim.TeamAggregate, error) {
	counts, err := a.source.TeamRunCounts(ctx, batchID, teamID)
	if err != nil {
		return nil, fmt.Errorf("recomputing aggregate: %w", err)
	}
	results, err := a.source.ListResults(ctx, batchID, teamID)
	if err != nil {
		return nil, fmt.Errorf("recomputing aggregate: %w", err)
	}

	agg := Summarize(counts.Total, counts.Failed, results)
	agg.BatchID = batchID
	agg.TeamID = teamID
	agg.UpdatedAt = a.now().UTC()
	if err := a.source.UpsertAggregate(ctx, &agg); err != nil {
		return nil, fmt.Errorf("recomputing aggregate: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"batch":    batchID,
		"team":     teamID,
		"finished": agg.FinishedRuns,
		"total":    agg.TotalRuns,
	}).Debug("aggregate recomputed")
	return &agg, nil
}
