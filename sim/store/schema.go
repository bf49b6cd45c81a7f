package store

import "fmt"

// Supported driver names. They match the database/sql registrations of
// modernc.org/sqlite and github.com/lib/pq.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Timestamps are stored as unix milliseconds in BIGINT columns so both
// dialects share every query.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	event_id     TEXT NOT NULL,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL,
	total_runs   INTEGER NOT NULL,
	snapshot     TEXT,
	cause        TEXT NOT NULL DEFAULT '',
	created_at   BIGINT NOT NULL,
	completed_at BIGINT
);

CREATE TABLE IF NOT EXISTS teams (
	id       TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	members  INTEGER NOT NULL,
	strategy TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id         TEXT NOT NULL REFERENCES batches(id),
	team_id          TEXT NOT NULL,
	ordinal          INTEGER NOT NULL,
	seed             BIGINT NOT NULL,
	status           TEXT NOT NULL,
	claimed_by       TEXT NOT NULL DEFAULT '',
	lease_expires_at BIGINT,
	claim_count      INTEGER NOT NULL DEFAULT 0,
	cause            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_batch_status ON runs(batch_id, status);
CREATE INDEX IF NOT EXISTS idx_runs_lease ON runs(status, lease_expires_at);

CREATE TABLE IF NOT EXISTS results (
	run_id     INTEGER PRIMARY KEY REFERENCES runs(id),
	batch_id   TEXT NOT NULL,
	team_id    TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_batch_team ON results(batch_id, team_id);

CREATE TABLE IF NOT EXISTS aggregates (
	batch_id      TEXT NOT NULL,
	team_id       TEXT NOT NULL,
	payload       TEXT NOT NULL,
	finished_runs INTEGER NOT NULL DEFAULT 0,
	failed_runs   INTEGER NOT NULL DEFAULT 0,
	updated_at    BIGINT NOT NULL,
	PRIMARY KEY (batch_id, team_id)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	event_id     TEXT NOT NULL,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL,
	total_runs   INTEGER NOT NULL,
	snapshot     TEXT,
	cause        TEXT NOT NULL DEFAULT '',
	created_at   BIGINT NOT NULL,
	completed_at BIGINT
);

CREATE TABLE IF NOT EXISTS teams (
	id       TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	members  INTEGER NOT NULL,
	strategy TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id               BIGSERIAL PRIMARY KEY,
	batch_id         TEXT NOT NULL REFERENCES batches(id),
	team_id          TEXT NOT NULL,
	ordinal          INTEGER NOT NULL,
	seed             BIGINT NOT NULL,
	status           TEXT NOT NULL,
	claimed_by       TEXT NOT NULL DEFAULT '',
	lease_expires_at BIGINT,
	claim_count      INTEGER NOT NULL DEFAULT 0,
	cause            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_batch_status ON runs(batch_id, status);
CREATE INDEX IF NOT EXISTS idx_runs_lease ON runs(status, lease_expires_at);

CREATE TABLE IF NOT EXISTS results (
	run_id     BIGINT PRIMARY KEY REFERENCES runs(id),
	batch_id   TEXT NOT NULL,
	team_id    TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_batch_team ON results(batch_id, team_id);

CREATE TABLE IF NOT EXISTS aggregates (
	batch_id      TEXT NOT NULL,
	team_id       TEXT NOT NULL,
	payload       TEXT NOT NULL,
	finished_runs INTEGER NOT NULL DEFAULT 0,
	failed_runs   INTEGER NOT NULL DEFAULT 0,
	updated_at    BIGINT NOT NULL,
	PRIMARY KEY (batch_id, team_id)
);
`

func schemaFor(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return sqliteSchema, nil
	case DriverPostgres:
		return postgresSchema, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}
