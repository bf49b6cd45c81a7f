package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/board-sim/board-sim/sim"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	s := New(sqlx.NewDb(mockDB, DriverPostgres))
	s.WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) })
	return s, mock, func() { mockDB.Close() }
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClaimRuns_PostgresSingleStatement(t *testing.T) {
	s, mock, cleanup := newMockStore(t)
	defer cleanup()

	cols := []string{"id", "batch_id", "team_id", "ordinal", "seed", "status", "claimed_by", "lease_expires_at", "claim_count", "cause"}
	mock.ExpectQuery(`UPDATE runs\s+SET status = \$1, claimed_by = \$2, lease_expires_at = \$3, claim_count = claim_count \+ 1\s+WHERE status = \$4 AND id IN \(\$5, \$6\)\s+RETURNING`).
		WithArgs("running", "worker-1", int64(1_700_000_060_000), "pending", int64(7), int64(8)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(7), "b", "team-a", 0, int64(99), "running", "worker-1", int64(1_700_000_060_000), 1, ""))

	runs, err := s.ClaimRuns(context.Background(), []int64{7, 8}, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != 7 || runs[0].Status != sim.RunRunning {
		t.Errorf("ClaimRuns() = %+v, want only run 7 running", runs)
	}

	expectationsMet(t, mock)
}

func TestClaimRuns_DatabaseError(t *testing.T) {
	s, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE runs").WillReturnError(errors.New("connection reset"))

	_, err := s.ClaimRuns(context.Background(), []int64{1}, "worker-1", time.Minute)
	if err == nil {
		t.Fatal("ClaimRuns() expected error")
	}

	expectationsMet(t, mock)
}

func TestCompleteRun_ClaimLostRollsBack(t *testing.T) {
	s, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE runs SET status").
		WithArgs("completed", int64(3), "running", "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.CompleteRun(context.Background(), "worker-1", &sim.RunResult{RunID: 3, BatchID: "b", TeamID: "t"})
	if !errors.Is(err, ErrClaimLost) {
		t.Errorf("CompleteRun() error = %v, want ErrClaimLost", err)
	}

	expectationsMet(t, mock)
}

func TestFinalizeBatch_NotYet(t *testing.T) {
	s, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE batches SET status").
		WithArgs("completed", int64(1_700_000_000_000), "b", "pending", "running", "b", "pending", "running").
		WillReturnResult(sqlmock.NewResult(0, 0))

	done, err := s.FinalizeBatch(context.Background(), "b")
	if err != nil {
		t.Fatalf("FinalizeBatch() error = %v", err)
	}
	if done {
		t.Error("FinalizeBatch() = true, want false while runs remain")
	}

	expectationsMet(t, mock)
}

func TestUpsertAggregate_PostgresGuardsOnCounts(t *testing.T) {
	s, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`(?s)INSERT INTO aggregates .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)\s+ON CONFLICT \(batch_id, team_id\) DO UPDATE SET .*WHERE aggregates.finished_runs <= excluded.finished_runs\s+AND aggregates.failed_runs <= excluded.failed_runs`).
		WithArgs("b", "team-a", sqlmock.AnyArg(), 4, 1, int64(1_700_000_000_000)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	agg := &sim.TeamAggregate{BatchID: "b", TeamID: "team-a", FinishedRuns: 4, FailedRuns: 1, UpdatedAt: time.UnixMilli(1_700_000_000_000)}
	if err := s.UpsertAggregate(context.Background(), agg); err != nil {
		t.Fatalf("UpsertAggregate() error = %v, want a guarded no-op to succeed", err)
	}

	expectationsMet(t, mock)
}
