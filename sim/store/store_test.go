package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/internal/testutil"
	"github.com/board-sim/board-sim/sim/sampling"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clock := &fakeClock{t: time.Date(2024, 6, 11, 12, 0, 0, 0, time.UTC)}
	s.WithClock(clock.Now)
	return s, clock
}

func createFixtureBatch(t *testing.T, s *Store, runsPerTeam int) (*sim.Batch, []sim.Run) {
	t.Helper()
	batch, runs, err := s.CreateBatch(context.Background(), BatchSpec{
		EventID:     testutil.EventID,
		Mode:        sim.ModeLocal,
		Board:       testutil.Board(),
		Teams:       testutil.Teams(),
		RunsPerTeam: runsPerTeam,
	})
	require.NoError(t, err)
	return batch, runs
}

func runIDs(runs []sim.Run) []int64 {
	ids := make([]int64, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestCreateBatch_PersistsSnapshotTeamsAndRuns(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// GIVEN a board and two teams with three runs each
	batch, runs := createFixtureBatch(t, s, 3)

	// THEN six pending runs exist with batch-wide ordinals and derived seeds
	require.Len(t, runs, 6)
	for i, r := range runs {
		assert.Equal(t, i, r.Ordinal)
		assert.Equal(t, sim.DeriveRunSeed(batch.ID, i), r.Seed)
		stored, err := s.GetRun(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, sim.RunPending, stored.Status)
		assert.Equal(t, r.Seed, stored.Seed)
	}
	assert.Equal(t, "team-a", runs[0].TeamID)
	assert.Equal(t, "team-b", runs[5].TeamID)

	// AND the batch is pending with its snapshot readable
	got, err := s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, sim.BatchPending, got.Status)
	assert.Equal(t, 6, got.TotalRuns)
	assert.Equal(t, testutil.Board().Rows, got.Snapshot.Rows)

	snap, err := s.Snapshot(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.EventID, snap.EventID)
	assert.Equal(t, 5000, snap.Limits.MaxAttempts)

	// AND the teams resolve
	team, err := s.Team(ctx, "team-b")
	require.NoError(t, err)
	assert.Equal(t, 5, team.Members)
	assert.Equal(t, "sequential", team.Strategy.Key)
}

func TestCreateBatch_SnapshotIgnoresLaterBoardEdits(t *testing.T) {
	s, _ := newTestStore(t)
	board := testutil.Board()
	batch, _, err := s.CreateBatch(context.Background(), BatchSpec{
		EventID: testutil.EventID, Mode: sim.ModeLocal, Board: board, Teams: testutil.Teams(), RunsPerTeam: 1,
	})
	require.NoError(t, err)

	board.Rows[0].Tasks[0].Chance = 0
	board.Rows[0].Tasks[0].Loot.Guaranteed[0].Name = "Edited"

	snap, err := s.Snapshot(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, snap.Rows[0].Tasks[0].Chance)
	assert.Equal(t, "Dragon bones", snap.Rows[0].Tasks[0].Loot.Guaranteed[0].Name)
}

func TestCreateBatch_RejectsEmptyBoard(t *testing.T) {
	s, _ := newTestStore(t)
	_, _, err := s.CreateBatch(context.Background(), BatchSpec{EventID: "e", Mode: sim.ModeLocal, Teams: testutil.Teams(), RunsPerTeam: 1})
	assert.Error(t, err)
}

func TestResolver_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Snapshot(ctx, "no-such-batch")
	assert.True(t, sim.IsNotFound(err))
	assert.Contains(t, err.Error(), "no-such-batch")

	_, err = s.Team(ctx, "no-such-team")
	assert.True(t, sim.IsNotFound(err))

	_, err = s.GetRun(ctx, 404)
	assert.True(t, sim.IsNotFound(err))
}

func TestClaimRuns_IsExclusive(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	_, runs := createFixtureBatch(t, s, 2)
	ids := runIDs(runs)

	// GIVEN worker-1 claims the first two runs
	claimed, err := s.ClaimRuns(ctx, ids[:2], "worker-1", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, r := range claimed {
		assert.Equal(t, sim.RunRunning, r.Status)
		assert.Equal(t, "worker-1", r.ClaimedBy)
		assert.Equal(t, 1, r.ClaimCount)
		require.NotNil(t, r.LeaseExpiresAt)
		assert.True(t, clock.t.Add(time.Minute).Equal(*r.LeaseExpiresAt))
	}

	// WHEN worker-2 is handed every id
	claimed, err = s.ClaimRuns(ctx, ids, "worker-2", time.Minute)
	require.NoError(t, err)

	// THEN it only wins the runs nobody else holds
	assert.ElementsMatch(t, ids[2:], runIDs(claimed))

	// AND an empty claim is a no-op
	claimed, err = s.ClaimRuns(ctx, nil, "worker-3", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestCompleteRun_WrittenExactlyOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	batch, runs := createFixtureBatch(t, s, 1)
	_, err := s.ClaimRuns(ctx, []int64{runs[0].ID}, "worker-1", time.Minute)
	require.NoError(t, err)

	result := &sim.RunResult{
		RunID: runs[0].ID, BatchID: batch.ID, TeamID: runs[0].TeamID, Seed: runs[0].Seed,
		BoardCompleted: true, RowsCompleted: 2, ElapsedMinutes: 42.5, Attempts: 17,
		RowTimes: []float64{20, 42.5}, Items: []sampling.Item{{Name: "Raw shark", Quantity: 15}},
	}

	// A worker that never held the claim cannot seal it.
	err = s.CompleteRun(ctx, "worker-2", result)
	assert.ErrorIs(t, err, ErrClaimLost)

	require.NoError(t, s.CompleteRun(ctx, "worker-1", result))

	// A second completion by the holder is rejected too.
	err = s.CompleteRun(ctx, "worker-1", result)
	assert.ErrorIs(t, err, ErrClaimLost)

	got, err := s.ListResults(ctx, batch.ID, runs[0].TeamID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, *result, got[0])

	run, err := s.GetRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, sim.RunCompleted, run.Status)
	assert.Nil(t, run.LeaseExpiresAt)
}

func TestFailAndReleaseRun(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, runs := createFixtureBatch(t, s, 1)
	ids := runIDs(runs)
	_, err := s.ClaimRuns(ctx, ids, "worker-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.FailRun(ctx, ids[0], "worker-1", "strategy exploded"))
	require.NoError(t, s.ReleaseRun(ctx, ids[1], "worker-1"))

	failed, err := s.GetRun(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, sim.RunFailed, failed.Status)
	assert.Equal(t, "strategy exploded", failed.Cause)

	released, err := s.GetRun(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, sim.RunPending, released.Status)
	assert.Empty(t, released.ClaimedBy)

	// Released runs can be claimed again.
	claimed, err := s.ClaimRuns(ctx, []int64{ids[1]}, "worker-2", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].ClaimCount)

	assert.ErrorIs(t, s.FailRun(ctx, ids[0], "worker-1", "again"), ErrClaimLost)
}

func TestReclaimExpired(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	_, runs := createFixtureBatch(t, s, 1)
	ids := runIDs(runs)

	_, err := s.ClaimRuns(ctx, ids[:1], "worker-1", time.Minute)
	require.NoError(t, err)
	_, err = s.ClaimRuns(ctx, ids[1:], "worker-1", time.Hour)
	require.NoError(t, err)

	// GIVEN five minutes pass: only the one-minute lease has ended
	reclaimed, err := s.ReclaimExpired(ctx, clock.t.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ids[:1], reclaimed)

	// THEN the dead worker can no longer complete it
	err = s.CompleteRun(ctx, "worker-1", &sim.RunResult{RunID: ids[0]})
	assert.ErrorIs(t, err, ErrClaimLost)

	pending, err := s.PendingRunIDs(ctx, runs[0].BatchID)
	require.NoError(t, err)
	assert.Equal(t, ids[:1], pending)
}

func TestExtendLease_KeepsRunFromReclaim(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	_, runs := createFixtureBatch(t, s, 1)
	ids := runIDs(runs)
	_, err := s.ClaimRuns(ctx, ids[:1], "worker-1", time.Minute)
	require.NoError(t, err)

	// GIVEN the holder renews its lease after 50 seconds
	clock.t = clock.t.Add(50 * time.Second)
	require.NoError(t, s.ExtendLease(ctx, ids[0], "worker-1", time.Minute))

	// WHEN recovery runs past the original lease
	reclaimed, err := s.ReclaimExpired(ctx, clock.t.Add(30*time.Second))
	require.NoError(t, err)

	// THEN the run stays with its holder
	assert.Empty(t, reclaimed)
	run, err := s.GetRun(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, sim.RunRunning, run.Status)
	assert.True(t, clock.t.Add(time.Minute).Equal(*run.LeaseExpiresAt))

	// AND only the holder of a running claim can renew
	assert.ErrorIs(t, s.ExtendLease(ctx, ids[0], "worker-2", time.Minute), ErrClaimLost)
	assert.ErrorIs(t, s.ExtendLease(ctx, ids[1], "worker-1", time.Minute), ErrClaimLost)
	_, err = s.ReclaimExpired(ctx, clock.t.Add(2*time.Minute))
	require.NoError(t, err)
	assert.ErrorIs(t, s.ExtendLease(ctx, ids[0], "worker-1", time.Minute), ErrClaimLost)
}

func TestFinalizeBatch_OnlyAfterEveryRunTerminal(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	batch, runs := createFixtureBatch(t, s, 2)
	ids := runIDs(runs)

	_, err := s.ClaimRuns(ctx, ids, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.MarkBatchRunning(ctx, batch.ID))
	require.NoError(t, s.MarkBatchRunning(ctx, batch.ID), "idempotent")

	for i, r := range runs {
		if i == len(runs)-1 {
			break
		}
		if i%2 == 0 {
			require.NoError(t, s.FailRun(ctx, r.ID, "worker-1", "boom"))
		} else {
			require.NoError(t, s.CompleteRun(ctx, "worker-1", &sim.RunResult{RunID: r.ID, BatchID: batch.ID, TeamID: r.TeamID}))
		}
		done, err := s.FinalizeBatch(ctx, batch.ID)
		require.NoError(t, err)
		assert.False(t, done, "run %d of %d terminal", i+1, len(runs))
	}

	got, err := s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, sim.BatchRunning, got.Status)

	last := runs[len(runs)-1]
	require.NoError(t, s.CompleteRun(ctx, "worker-1", &sim.RunResult{RunID: last.ID, BatchID: batch.ID, TeamID: last.TeamID}))
	done, err := s.FinalizeBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, done)

	// Failed runs do not make the batch an error.
	got, err = s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, sim.BatchCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	done, err = s.FinalizeBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, done, "already completed")
}

func TestFailBatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	batch, _ := createFixtureBatch(t, s, 1)

	require.NoError(t, s.FailBatch(ctx, batch.ID, "queue unreachable"))
	got, err := s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, sim.BatchError, got.Status)
	assert.Equal(t, "queue unreachable", got.Cause)

	assert.Error(t, s.FailBatch(ctx, batch.ID, "twice"))
}

func TestTeamRunCountsAndAggregates(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	batch, runs := createFixtureBatch(t, s, 3)
	teamA := runs[:3]
	_, err := s.ClaimRuns(ctx, runIDs(teamA), "w", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, "w", &sim.RunResult{RunID: teamA[0].ID, BatchID: batch.ID, TeamID: "team-a"}))
	require.NoError(t, s.FailRun(ctx, teamA[1].ID, "w", "boom"))

	counts, err := s.TeamRunCounts(ctx, batch.ID, "team-a")
	require.NoError(t, err)
	assert.Equal(t, RunCounts{Total: 3, Completed: 1, Failed: 1}, counts)

	agg := &sim.TeamAggregate{BatchID: batch.ID, TeamID: "team-a", TotalRuns: 3, FinishedRuns: 1, UpdatedAt: clock.t}
	require.NoError(t, s.UpsertAggregate(ctx, agg))
	agg.FinishedRuns = 2
	agg.ItemTotals = []sampling.Item{{Name: "Raw shark", Quantity: 30}}
	require.NoError(t, s.UpsertAggregate(ctx, agg))
	require.NoError(t, s.UpsertAggregate(ctx, &sim.TeamAggregate{BatchID: batch.ID, TeamID: "team-b", UpdatedAt: clock.t}))

	aggs, err := s.GetAggregates(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, "team-a", aggs[0].TeamID)
	assert.Equal(t, 2, aggs[0].FinishedRuns)
	assert.Equal(t, 30, aggs[0].ItemTotals[0].Quantity)
	assert.True(t, clock.t.Equal(aggs[0].UpdatedAt))
}

func TestUpsertAggregate_StaleRecomputeLoses(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	batch, _ := createFixtureBatch(t, s, 3)

	// GIVEN an aggregate computed from two finished runs and one failure
	newer := &sim.TeamAggregate{BatchID: batch.ID, TeamID: "team-a", TotalRuns: 3, FinishedRuns: 2, FailedRuns: 1, UpdatedAt: clock.t}
	require.NoError(t, s.UpsertAggregate(ctx, newer))

	// WHEN recomputes that saw fewer sealed runs write afterwards
	stale := []*sim.TeamAggregate{
		{BatchID: batch.ID, TeamID: "team-a", TotalRuns: 3, FinishedRuns: 1, FailedRuns: 1},
		{BatchID: batch.ID, TeamID: "team-a", TotalRuns: 3, FinishedRuns: 2, FailedRuns: 0},
		{BatchID: batch.ID, TeamID: "team-a", TotalRuns: 3, FinishedRuns: 3, FailedRuns: 0},
	}
	for _, agg := range stale {
		require.NoError(t, s.UpsertAggregate(ctx, agg))
	}

	// THEN the newer aggregate is kept
	aggs, err := s.GetAggregates(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, 2, aggs[0].FinishedRuns)
	assert.Equal(t, 1, aggs[0].FailedRuns)

	// AND a recompute that saw at least as much replaces it
	require.NoError(t, s.UpsertAggregate(ctx, &sim.TeamAggregate{BatchID: batch.ID, TeamID: "team-a", TotalRuns: 3, FinishedRuns: 2, FailedRuns: 1, MeanRows: 2}))
	aggs, err = s.GetAggregates(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, aggs[0].MeanRows)
}

func TestBatchTeamIDs(t *testing.T) {
	s, _ := newTestStore(t)
	batch, _ := createFixtureBatch(t, s, 2)

	teams, err := s.BatchTeamIDs(context.Background(), batch.ID)

	require.NoError(t, err)
	assert.Equal(t, []string{"team-a", "team-b"}, teams)
}

func TestUpsertTeam_Replaces(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	team := sim.Team{ID: "solo", EventID: "e", Members: 1, Strategy: sim.StrategyConfig{Key: "random"}}
	require.NoError(t, s.UpsertTeam(ctx, team))
	team.Members = 4
	team.Strategy = sim.StrategyConfig{Key: "fastest-expected", Params: map[string]float64{"time_weight": 2}}
	require.NoError(t, s.UpsertTeam(ctx, team))

	got, err := s.Team(ctx, "solo")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Members)
	assert.Equal(t, 2.0, got.Strategy.Param("time_weight", 1))
}

func TestDecodeSnapshot_Lenient(t *testing.T) {
	snap := sim.NewSnapshot("e", testutil.Board())
	encoded, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, snap, DecodeSnapshot("b", encoded))

	tests := map[string]string{
		"absent":          "",
		"not json":        "{{{",
		"unknown version": `{"version":99,"snapshot":{"rows":[{"tasks":[{"id":"x"}]}]}}`,
		"malformed body":  `{"version":1,"snapshot":"rows"}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			got := DecodeSnapshot("b", data)
			require.NotNil(t, got)
			assert.True(t, got.Empty())
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrClaimLost))
}
