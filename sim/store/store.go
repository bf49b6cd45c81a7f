// Package store persists batches, runs, results and aggregates through sqlx.
// The same queries run against SQLite (local batches, tests) and PostgreSQL
// (a worker fleet sharing one database); placeholders are written as '?' and
// rebound for the active driver.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/board-sim/board-sim/sim"
)

// ErrClaimLost is returned when a run is completed, failed or released by a
// worker that no longer holds its claim (the lease was reclaimed, or the run
// was already finished). Callers should check with errors.Is().
var ErrClaimLost = errors.New("run claim lost")

const (
	// DefaultMaxOpenConns is the default maximum number of open postgres connections.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle postgres connections.
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum connection lifetime.
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultPingTimeout is the default timeout for the startup ping.
	DefaultPingTimeout = 5 * time.Second

	runColumns = `id, batch_id, team_id, ordinal, seed, status, claimed_by, lease_expires_at, claim_count, cause`
)

// Store is the read/write collaborator of the executor and dispatcher.
type Store struct {
	db  *sqlx.DB
	now func() time.Time

	mu        sync.RWMutex
	snapshots map[string]*sim.Snapshot
}

// Open connects to the given driver ("sqlite" or "postgres") and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	switch driver {
	case DriverSQLite:
		// One connection serializes writers and keeps ":memory:" databases alive.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	case DriverPostgres:
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
		pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The schema is not applied.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now, snapshots: make(map[string]*sim.Snapshot)}
}

// WithClock replaces the store's time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema, err := schemaFor(s.db.DriverName())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BatchSpec describes a batch to create.
type BatchSpec struct {
	ID          string // optional; a uuid is generated when empty
	EventID     string
	Mode        sim.Mode
	Board       sim.Board
	Teams       []sim.Team
	RunsPerTeam int
}

// CreateBatch snapshots the board, upserts the teams and inserts RunsPerTeam
// pending runs per team, all in one transaction. Runs are numbered by a
// batch-wide ordinal from which their seed is derived.
func (s *Store) CreateBatch(ctx context.Context, spec BatchSpec) (*sim.Batch, []sim.Run, error) {
	if len(spec.Board.Rows) == 0 {
		return nil, nil, fmt.Errorf("creating batch for event %q: board has no rows", spec.EventID)
	}
	if !sim.IsValidMode(string(spec.Mode)) {
		return nil, nil, fmt.Errorf("creating batch: unknown mode %q", spec.Mode)
	}
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	snap := sim.NewSnapshot(spec.EventID, spec.Board)
	payload, err := EncodeSnapshot(snap)
	if err != nil {
		return nil, nil, err
	}
	batch := &sim.Batch{
		ID:        id,
		EventID:   spec.EventID,
		Mode:      spec.Mode,
		Status:    sim.BatchPending,
		TotalRuns: len(spec.Teams) * spec.RunsPerTeam,
		Snapshot:  snap,
		CreatedAt: s.now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO batches (id, event_id, mode, status, total_runs, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		batch.ID, batch.EventID, string(batch.Mode), string(batch.Status), batch.TotalRuns, payload, toMillis(batch.CreatedAt))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert batch: %w", err)
	}

	for _, team := range spec.Teams {
		if team.EventID == "" {
			team.EventID = spec.EventID
		}
		if err := upsertTeam(ctx, tx, team); err != nil {
			return nil, nil, err
		}
	}

	runs := make([]sim.Run, 0, batch.TotalRuns)
	insertRun := tx.Rebind(`
		INSERT INTO runs (batch_id, team_id, ordinal, seed, status)
		VALUES (?, ?, ?, ?, ?) RETURNING id`)
	ordinal := 0
	for _, team := range spec.Teams {
		for i := 0; i < spec.RunsPerTeam; i++ {
			run := sim.Run{
				BatchID: batch.ID,
				TeamID:  team.ID,
				Ordinal: ordinal,
				Seed:    sim.DeriveRunSeed(batch.ID, ordinal),
				Status:  sim.RunPending,
			}
			if err := tx.QueryRowxContext(ctx, insertRun,
				run.BatchID, run.TeamID, run.Ordinal, run.Seed, string(run.Status)).Scan(&run.ID); err != nil {
				return nil, nil, fmt.Errorf("failed to insert run %d: %w", ordinal, err)
			}
			runs = append(runs, run)
			ordinal++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit batch transaction: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"batch": batch.ID,
		"event": batch.EventID,
		"mode":  batch.Mode,
		"runs":  batch.TotalRuns,
	}).Info("batch created")
	return batch, runs, nil
}

// UpsertTeam inserts or replaces a team's reference data.
func (s *Store) UpsertTeam(ctx context.Context, team sim.Team) error {
	return upsertTeam(ctx, s.db, team)
}

func upsertTeam(ctx context.Context, db sqlx.ExtContext, team sim.Team) error {
	strategy, err := json.Marshal(team.Strategy)
	if err != nil {
		return fmt.Errorf("encoding strategy of team %q: %w", team.ID, err)
	}
	_, err = db.ExecContext(ctx, db.Rebind(`
		INSERT INTO teams (id, event_id, name, members, strategy)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			event_id = excluded.event_id,
			name = excluded.name,
			members = excluded.members,
			strategy = excluded.strategy`),
		team.ID, team.EventID, team.Name, team.Members, string(strategy))
	if err != nil {
		return fmt.Errorf("failed to upsert team %q: %w", team.ID, err)
	}
	return nil
}

// Snapshot returns the batch's frozen board. Decoded snapshots are cached;
// they never change once written.
func (s *Store) Snapshot(ctx context.Context, batchID string) (*sim.Snapshot, error) {
	s.mu.RLock()
	cached, ok := s.snapshots[batchID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var payload sql.NullString
	err := s.db.GetContext(ctx, &payload, s.db.Rebind(`SELECT snapshot FROM batches WHERE id = ?`), batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sim.NotFound("batch", batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot of batch %q: %w", batchID, err)
	}
	snap := DecodeSnapshot(batchID, payload.String)
	if !snap.Empty() {
		s.mu.Lock()
		s.snapshots[batchID] = snap
		s.mu.Unlock()
	}
	return snap, nil
}

type teamRow struct {
	ID       string `db:"id"`
	EventID  string `db:"event_id"`
	Name     string `db:"name"`
	Members  int    `db:"members"`
	Strategy string `db:"strategy"`
}

// Team returns a team's reference data.
func (s *Store) Team(ctx context.Context, teamID string) (*sim.Team, error) {
	var row teamRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, event_id, name, members, strategy FROM teams WHERE id = ?`), teamID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sim.NotFound("team", teamID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read team %q: %w", teamID, err)
	}
	team := &sim.Team{ID: row.ID, EventID: row.EventID, Name: row.Name, Members: row.Members}
	if err := json.Unmarshal([]byte(row.Strategy), &team.Strategy); err != nil {
		return nil, &sim.Error{Kind: sim.KindSerialization, Op: "read team", Entity: "team", ID: teamID, Err: err}
	}
	return team, nil
}

type batchRow struct {
	ID          string         `db:"id"`
	EventID     string         `db:"event_id"`
	Mode        string         `db:"mode"`
	Status      string         `db:"status"`
	TotalRuns   int            `db:"total_runs"`
	Snapshot    sql.NullString `db:"snapshot"`
	Cause       string         `db:"cause"`
	CreatedAt   int64          `db:"created_at"`
	CompletedAt sql.NullInt64  `db:"completed_at"`
}

// GetBatch returns a batch with its decoded snapshot.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*sim.Batch, error) {
	var row batchRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, event_id, mode, status, total_runs, snapshot, cause, created_at, completed_at
		FROM batches WHERE id = ?`), batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sim.NotFound("batch", batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch %q: %w", batchID, err)
	}
	return &sim.Batch{
		ID:          row.ID,
		EventID:     row.EventID,
		Mode:        sim.Mode(row.Mode),
		Status:      sim.BatchStatus(row.Status),
		TotalRuns:   row.TotalRuns,
		Snapshot:    DecodeSnapshot(row.ID, row.Snapshot.String),
		Cause:       row.Cause,
		CreatedAt:   fromMillis(row.CreatedAt),
		CompletedAt: fromNullMillis(row.CompletedAt),
	}, nil
}

type runRow struct {
	ID             int64         `db:"id"`
	BatchID        string        `db:"batch_id"`
	TeamID         string        `db:"team_id"`
	Ordinal        int           `db:"ordinal"`
	Seed           int64         `db:"seed"`
	Status         string        `db:"status"`
	ClaimedBy      string        `db:"claimed_by"`
	LeaseExpiresAt sql.NullInt64 `db:"lease_expires_at"`
	ClaimCount     int           `db:"claim_count"`
	Cause          string        `db:"cause"`
}

func (r runRow) toRun() sim.Run {
	return sim.Run{
		ID:             r.ID,
		BatchID:        r.BatchID,
		TeamID:         r.TeamID,
		Ordinal:        r.Ordinal,
		Seed:           r.Seed,
		Status:         sim.RunStatus(r.Status),
		ClaimedBy:      r.ClaimedBy,
		LeaseExpiresAt: fromNullMillis(r.LeaseExpiresAt),
		ClaimCount:     r.ClaimCount,
		Cause:          r.Cause,
	}
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID int64) (*sim.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sim.NotFound("run", fmt.Sprint(runID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %d: %w", runID, err)
	}
	run := row.toRun()
	return &run, nil
}

// ClaimRuns atomically moves the pending runs among ids to running for
// workerID, with a lease of ttl. Ids that are not pending (already claimed,
// finished, or unknown) are silently skipped. The claim is one statement, so
// two workers handed the same id can never both win it.
func (s *Store) ClaimRuns(ctx context.Context, ids []int64, workerID string, ttl time.Duration) ([]sim.Run, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		UPDATE runs
		SET status = ?, claimed_by = ?, lease_expires_at = ?, claim_count = claim_count + 1
		WHERE status = ? AND id IN (?)
		RETURNING `+runColumns,
		string(sim.RunRunning), workerID, toMillis(s.now().Add(ttl)), string(sim.RunPending), ids)
	if err != nil {
		return nil, fmt.Errorf("building claim query: %w", err)
	}
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to claim runs: %w", err)
	}
	runs := make([]sim.Run, len(rows))
	for i, r := range rows {
		runs[i] = r.toRun()
	}
	return runs, nil
}

// CompleteRun seals a run's result. The run must still be running under
// workerID; otherwise ErrClaimLost is returned and nothing is written. The
// results table is keyed by run id, so a result is stored at most once.
func (s *Store) CompleteRun(ctx context.Context, workerID string, result *sim.RunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return &sim.Error{Kind: sim.KindSerialization, Op: "complete run", Entity: "run", ID: fmt.Sprint(result.RunID), Err: err}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin completion transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE runs SET status = ?, lease_expires_at = NULL
		WHERE id = ? AND status = ? AND claimed_by = ?`),
		string(sim.RunCompleted), result.RunID, string(sim.RunRunning), workerID)
	if err := execRequireRows(res, err, ErrClaimLost); err != nil {
		return fmt.Errorf("completing run %d: %w", result.RunID, err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO results (run_id, batch_id, team_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		result.RunID, result.BatchID, result.TeamID, string(payload), toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to insert result of run %d: %w", result.RunID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit completion of run %d: %w", result.RunID, err)
	}
	return nil
}

// FailRun marks a claimed run failed with a cause.
func (s *Store) FailRun(ctx context.Context, runID int64, workerID, cause string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE runs SET status = ?, cause = ?, lease_expires_at = NULL
		WHERE id = ? AND status = ? AND claimed_by = ?`),
		string(sim.RunFailed), cause, runID, string(sim.RunRunning), workerID)
	if err := execRequireRows(res, err, ErrClaimLost); err != nil {
		return fmt.Errorf("failing run %d: %w", runID, err)
	}
	return nil
}

// ReleaseRun returns a claimed run to pending so another claim can pick it up.
func (s *Store) ReleaseRun(ctx context.Context, runID int64, workerID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE runs SET status = ?, claimed_by = '', lease_expires_at = NULL
		WHERE id = ? AND status = ? AND claimed_by = ?`),
		string(sim.RunPending), runID, string(sim.RunRunning), workerID)
	if err := execRequireRows(res, err, ErrClaimLost); err != nil {
		return fmt.Errorf("releasing run %d: %w", runID, err)
	}
	return nil
}

// ExtendLease pushes the lease of a run workerID still holds to now+ttl.
// ErrClaimLost means the run was reclaimed or sealed in the meantime.
func (s *Store) ExtendLease(ctx context.Context, runID int64, workerID string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE runs SET lease_expires_at = ?
		WHERE id = ? AND status = ? AND claimed_by = ?`),
		toMillis(s.now().Add(ttl)), runID, string(sim.RunRunning), workerID)
	if err := execRequireRows(res, err, ErrClaimLost); err != nil {
		return fmt.Errorf("extending lease of run %d: %w", runID, err)
	}
	return nil
}

// ReclaimExpired moves running runs whose lease ended before now back to
// pending and returns their ids for re-enqueueing.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`
		UPDATE runs SET status = ?, claimed_by = '', lease_expires_at = NULL
		WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?
		RETURNING id`),
		string(sim.RunPending), string(sim.RunRunning), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim expired runs: %w", err)
	}
	return ids, nil
}

// PendingRunIDs lists the pending runs of a batch in id order.
func (s *Store) PendingRunIDs(ctx context.Context, batchID string) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`
		SELECT id FROM runs WHERE batch_id = ? AND status = ? ORDER BY id`),
		batchID, string(sim.RunPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs of batch %q: %w", batchID, err)
	}
	return ids, nil
}

// MarkBatchRunning moves a pending batch to running. It is a no-op for a
// batch that is already running or terminal.
func (s *Store) MarkBatchRunning(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE batches SET status = ? WHERE id = ? AND status = ?`),
		string(sim.BatchRunning), batchID, string(sim.BatchPending))
	if err != nil {
		return fmt.Errorf("failed to mark batch %q running: %w", batchID, err)
	}
	return nil
}

// FinalizeBatch completes the batch if none of its runs is still pending or
// running. It reports whether this call made the transition.
func (s *Store) FinalizeBatch(ctx context.Context, batchID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE batches SET status = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)
		AND NOT EXISTS (SELECT 1 FROM runs WHERE batch_id = ? AND status IN (?, ?))`),
		string(sim.BatchCompleted), toMillis(s.now()),
		batchID, string(sim.BatchPending), string(sim.BatchRunning),
		batchID, string(sim.RunPending), string(sim.RunRunning))
	if err != nil {
		return false, fmt.Errorf("failed to finalize batch %q: %w", batchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		logrus.WithField("batch", batchID).Info("batch completed")
	}
	return n > 0, nil
}

// FailBatch marks a non-terminal batch as errored with a cause.
func (s *Store) FailBatch(ctx context.Context, batchID, cause string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE batches SET status = ?, cause = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`),
		string(sim.BatchError), cause, toMillis(s.now()),
		batchID, string(sim.BatchPending), string(sim.BatchRunning))
	return execRequireRows(res, err, sim.NotFound("non-terminal batch", batchID))
}

// BatchTeamIDs lists the teams that have runs in a batch.
func (s *Store) BatchTeamIDs(ctx context.Context, batchID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`
		SELECT DISTINCT team_id FROM runs WHERE batch_id = ? ORDER BY team_id`), batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams of batch %q: %w", batchID, err)
	}
	return ids, nil
}

// RunCounts tallies one team's runs in a batch.
type RunCounts struct {
	Total     int `db:"total"`
	Completed int `db:"completed"`
	Failed    int `db:"failed"`
}

// TeamRunCounts counts a team's runs by outcome.
func (s *Store) TeamRunCounts(ctx context.Context, batchID, teamID string) (RunCounts, error) {
	var c RunCounts
	err := s.db.GetContext(ctx, &c, s.db.Rebind(`
		SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed
		FROM runs WHERE batch_id = ? AND team_id = ?`),
		string(sim.RunCompleted), string(sim.RunFailed), batchID, teamID)
	if err != nil {
		return c, fmt.Errorf("failed to count runs of team %q: %w", teamID, err)
	}
	return c, nil
}

// ListResults returns a team's sealed results in run id order.
func (s *Store) ListResults(ctx context.Context, batchID, teamID string) ([]sim.RunResult, error) {
	var payloads []string
	err := s.db.SelectContext(ctx, &payloads, s.db.Rebind(`
		SELECT payload FROM results WHERE batch_id = ? AND team_id = ? ORDER BY run_id`),
		batchID, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results of team %q: %w", teamID, err)
	}
	results := make([]sim.RunResult, 0, len(payloads))
	for _, p := range payloads {
		var r sim.RunResult
		if err := json.Unmarshal([]byte(p), &r); err != nil {
			return nil, &sim.Error{Kind: sim.KindSerialization, Op: "list results", Entity: "batch", ID: batchID, Err: err}
		}
		results = append(results, r)
	}
	return results, nil
}

// UpsertAggregate stores the aggregate for (batch, team) unless the stored one
// was computed from more sealed runs. Finished and failed counts only grow, so
// a recompute that read an older view of either loses against a newer one, and
// the recompute that follows the last seal always wins.
func (s *Store) UpsertAggregate(ctx context.Context, agg *sim.TeamAggregate) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return &sim.Error{Kind: sim.KindSerialization, Op: "upsert aggregate", Entity: "team", ID: agg.TeamID, Err: err}
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO aggregates (batch_id, team_id, payload, finished_runs, failed_runs, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (batch_id, team_id) DO UPDATE SET
			payload = excluded.payload,
			finished_runs = excluded.finished_runs,
			failed_runs = excluded.failed_runs,
			updated_at = excluded.updated_at
		WHERE aggregates.finished_runs <= excluded.finished_runs
			AND aggregates.failed_runs <= excluded.failed_runs`),
		agg.BatchID, agg.TeamID, string(payload), agg.FinishedRuns, agg.FailedRuns, toMillis(agg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert aggregate of team %q: %w", agg.TeamID, err)
	}
	return nil
}

// GetAggregates returns every team aggregate of a batch ordered by team id.
func (s *Store) GetAggregates(ctx context.Context, batchID string) ([]sim.TeamAggregate, error) {
	var payloads []string
	err := s.db.SelectContext(ctx, &payloads, s.db.Rebind(`
		SELECT payload FROM aggregates WHERE batch_id = ? ORDER BY team_id`), batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates of batch %q: %w", batchID, err)
	}
	aggs := make([]sim.TeamAggregate, 0, len(payloads))
	for _, p := range payloads {
		var a sim.TeamAggregate
		if err := json.Unmarshal([]byte(p), &a); err != nil {
			return nil, &sim.Error{Kind: sim.KindSerialization, Op: "list aggregates", Entity: "batch", ID: batchID, Err: err}
		}
		aggs = append(aggs, a)
	}
	return aggs, nil
}

func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}
