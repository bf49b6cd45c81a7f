package sim

import (
	"github.com/board-sim/board-sim/sim/sampling"
)

// RollScope decides how many success trials one attempt of a task makes.
type RollScope string

const (
	// ScopePerPlayer makes one independent trial per active team member.
	ScopePerPlayer RollScope = "per-player"
	// ScopePerGroup makes a single shared trial for the whole team.
	ScopePerGroup RollScope = "per-group"
)

// validRollScopes is the set of recognized roll scopes. Empty defaults to per-group.
var validRollScopes = map[RollScope]bool{"": true, ScopePerPlayer: true, ScopePerGroup: true}

// IsValidRollScope returns true if the given scope is recognized.
func IsValidRollScope(scope string) bool {
	return validRollScopes[RollScope(scope)]
}

// Goal describes when a task counts as satisfied.
// With Item set the task is satisfied once the team pool holds Quantity of it;
// otherwise after Completions successful attempts.
type Goal struct {
	Item        string `yaml:"item,omitempty" json:"item,omitempty"`
	Quantity    int    `yaml:"quantity,omitempty" json:"quantity,omitempty"`
	Completions int    `yaml:"completions,omitempty" json:"completions,omitempty"`
}

// Target returns the number of units (items or successes) the goal needs.
func (g Goal) Target() int {
	if g.Item != "" {
		if g.Quantity < 1 {
			return 1
		}
		return g.Quantity
	}
	if g.Completions < 1 {
		return 1
	}
	return g.Completions
}

// Task is one tile of the board.
type Task struct {
	ID     string            `yaml:"id" json:"id"`
	Name   string            `yaml:"name" json:"name"`
	Scope  RollScope         `yaml:"scope" json:"scope"`
	Chance float64           `yaml:"chance" json:"chance"`
	Time   sampling.TimeSpec `yaml:"time" json:"time"`
	Loot   sampling.Source   `yaml:"loot" json:"loot"`
	Goal   Goal              `yaml:"goal" json:"goal"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	t.Loot = t.Loot.Clone()
	return t
}

// Row is an ordered group of tasks; it completes once Required of them are satisfied.
type Row struct {
	Name     string `yaml:"name" json:"name"`
	Required int    `yaml:"required" json:"required"`
	Tasks    []Task `yaml:"tasks" json:"tasks"`
}

// RequiredCount returns Required clamped to [1, len(Tasks)].
func (r Row) RequiredCount() int {
	n := r.Required
	if n < 1 {
		n = 1
	}
	if n > len(r.Tasks) {
		n = len(r.Tasks)
	}
	return n
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	tasks := make([]Task, len(r.Tasks))
	for i, t := range r.Tasks {
		tasks[i] = t.Clone()
	}
	r.Tasks = tasks
	return r
}

// Limits bounds a single run.
type Limits struct {
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	TimeBudget  float64 `yaml:"time_budget" json:"time_budget"` // minutes, 0 = unlimited
}

// DefaultMaxAttempts caps a run when the event does not set max_attempts.
const DefaultMaxAttempts = 10000

// EffectiveMaxAttempts returns MaxAttempts or DefaultMaxAttempts when unset.
func (l Limits) EffectiveMaxAttempts() int {
	if l.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return l.MaxAttempts
}

// Board is the live reference-data view of an event board.
type Board struct {
	Rows   []Row  `yaml:"rows" json:"rows"`
	Limits Limits `yaml:"limits" json:"limits"`
}

// SnapshotVersion is the current serialized snapshot layout.
const SnapshotVersion = 1

// Snapshot is an immutable deep copy of a board bound to one batch.
// Later edits to the live Board never reach a Snapshot taken from it.
type Snapshot struct {
	Version int    `json:"version"`
	EventID string `json:"event_id"`
	Rows    []Row  `json:"rows"`
	Limits  Limits `json:"limits"`
}

// NewSnapshot freezes a board for the given event.
func NewSnapshot(eventID string, board Board) *Snapshot {
	rows := make([]Row, len(board.Rows))
	for i, r := range board.Rows {
		rows[i] = r.Clone()
	}
	return &Snapshot{
		Version: SnapshotVersion,
		EventID: eventID,
		Rows:    rows,
		Limits:  board.Limits,
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return NewSnapshot(s.EventID, Board{Rows: s.Rows, Limits: s.Limits})
}

// Empty reports whether the snapshot has nothing to simulate.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Rows) == 0
}

// TaskRef addresses one task inside a snapshot.
type TaskRef struct {
	Row  int
	Task int
}

// Valid reports whether the reference points inside the snapshot.
func (ref TaskRef) Valid(s *Snapshot) bool {
	if s == nil || ref.Row < 0 || ref.Row >= len(s.Rows) {
		return false
	}
	return ref.Task >= 0 && ref.Task < len(s.Rows[ref.Row].Tasks)
}
