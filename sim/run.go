package sim

import (
	"fmt"
	"time"

	"github.com/board-sim/board-sim/sim/sampling"
)

// Mode selects how a batch is dispatched.
type Mode string

const (
	ModeLocal       Mode = "local"
	ModeDistributed Mode = "distributed"
)

// validModes maps accepted mode strings.
var validModes = map[Mode]bool{ModeLocal: true, ModeDistributed: true}

// IsValidMode returns true if the given mode string is recognized.
func IsValidMode(mode string) bool {
	return validModes[Mode(mode)]
}

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	// BatchError marks orchestration failure, never an individual run failure.
	BatchError BatchStatus = "error"
)

// Terminal reports whether the batch can no longer change state.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchError
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run has finished, successfully or not.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Batch is a set of runs sharing one snapshot and execution mode.
type Batch struct {
	ID          string
	EventID     string
	Mode        Mode
	Status      BatchStatus
	TotalRuns   int
	Snapshot    *Snapshot
	Cause       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Run is one seeded, independent simulation instance for one team.
type Run struct {
	ID             int64
	BatchID        string
	TeamID         string
	Ordinal        int
	Seed           int64
	Status         RunStatus
	ClaimedBy      string
	LeaseExpiresAt *time.Time
	ClaimCount     int
	Cause          string
}

// String returns a human-readable representation of a run.
func (r Run) String() string {
	return fmt.Sprintf("Run: (ID: %d, Batch: %s, Team: %s, Ordinal: %d, Status: %s)", r.ID, r.BatchID, r.TeamID, r.Ordinal, r.Status)
}

// StrategyConfig names a strategy from the registry plus its parameters.
type StrategyConfig struct {
	Key    string             `yaml:"key" json:"key"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
}

// Param returns the named parameter or def when absent.
func (c StrategyConfig) Param(name string, def float64) float64 {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}

// Team is the reference data the executor needs about one team.
type Team struct {
	ID       string         `yaml:"id" json:"id"`
	EventID  string         `yaml:"-" json:"event_id"`
	Name     string         `yaml:"name" json:"name"`
	Members  int            `yaml:"members" json:"members"`
	Strategy StrategyConfig `yaml:"strategy" json:"strategy"`
}

// ActiveMembers returns Members, at least 1.
func (t Team) ActiveMembers() int {
	if t.Members < 1 {
		return 1
	}
	return t.Members
}

// RunResult is the sealed output of one run. It is written exactly once per run id.
type RunResult struct {
	RunID          int64           `json:"run_id"`
	BatchID        string          `json:"batch_id"`
	TeamID         string          `json:"team_id"`
	Seed           int64           `json:"seed"`
	BoardCompleted bool            `json:"board_completed"`
	RowsCompleted  int             `json:"rows_completed"`
	ElapsedMinutes float64         `json:"elapsed_minutes"`
	Attempts       int             `json:"attempts"`
	RowTimes       []float64       `json:"row_times"`
	Items          []sampling.Item `json:"items"`
}

// TeamAggregate is the per (batch, team) roll-up of run results.
type TeamAggregate struct {
	BatchID         string
	TeamID          string
	TotalRuns       int
	FinishedRuns    int
	FailedRuns      int
	CompletedBoards int
	CompletionRate  float64
	MeanTime        float64
	StdDevTime      float64
	P50Time         float64
	P90Time         float64
	P95Time         float64
	MeanRows        float64
	ItemTotals      []sampling.Item
	UpdatedAt       time.Time
}
