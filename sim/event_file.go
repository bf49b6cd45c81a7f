package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/board-sim/board-sim/sim/sampling"
)

// EventFile is an event definition loadable from YAML: the live board, the
// teams taking part and how many runs each team gets per batch.
type EventFile struct {
	Event       string `yaml:"event"`
	RunsPerTeam int    `yaml:"runs_per_team"`
	Board       Board  `yaml:"board"`
	Teams       []Team `yaml:"teams"`
}

// LoadEventFile reads and parses a YAML event definition.
func LoadEventFile(path string) (*EventFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event file: %w", err)
	}
	var ev EventFile
	if err := yaml.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parsing event file: %w", err)
	}
	for i := range ev.Teams {
		ev.Teams[i].EventID = ev.Event
	}
	return &ev, nil
}

// Validate checks names, ranges and keys against the registries in use.
// Duplicate team or task ids are reported as KindDuplicateKey.
func (ev *EventFile) Validate(strategies *StrategyRegistry, times *sampling.TimeRegistry) error {
	if ev.Event == "" {
		return fmt.Errorf("event name is required")
	}
	if ev.RunsPerTeam < 0 {
		return fmt.Errorf("runs_per_team must be non-negative, got %d", ev.RunsPerTeam)
	}
	if len(ev.Board.Rows) == 0 {
		return fmt.Errorf("board has no rows")
	}
	if ev.Board.Limits.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative, got %d", ev.Board.Limits.MaxAttempts)
	}
	if ev.Board.Limits.TimeBudget < 0 {
		return fmt.Errorf("time_budget must be non-negative, got %f", ev.Board.Limits.TimeBudget)
	}

	taskIDs := make(map[string]bool)
	for i, row := range ev.Board.Rows {
		if len(row.Tasks) == 0 {
			return fmt.Errorf("row %d has no tasks", i)
		}
		if row.Required > len(row.Tasks) {
			return fmt.Errorf("row %d requires %d tasks but has %d", i, row.Required, len(row.Tasks))
		}
		for _, task := range row.Tasks {
			if task.ID == "" {
				return fmt.Errorf("row %d has a task without id", i)
			}
			if taskIDs[task.ID] {
				return &Error{Kind: KindDuplicateKey, Entity: "task", ID: task.ID}
			}
			taskIDs[task.ID] = true
			if !IsValidRollScope(string(task.Scope)) {
				return fmt.Errorf("task %q: unknown roll scope %q", task.ID, task.Scope)
			}
			if task.Chance < 0 || task.Chance > 1 {
				return fmt.Errorf("task %q: chance must be in [0,1], got %f", task.ID, task.Chance)
			}
			if _, err := sampling.NewTimeSampler(task.Time, times); err != nil {
				return fmt.Errorf("task %q: %w", task.ID, err)
			}
		}
	}

	teamIDs := make(map[string]bool)
	for _, team := range ev.Teams {
		if team.ID == "" {
			return fmt.Errorf("team without id")
		}
		if teamIDs[team.ID] {
			return &Error{Kind: KindDuplicateKey, Entity: "team", ID: team.ID}
		}
		teamIDs[team.ID] = true
		if team.Members < 1 {
			return fmt.Errorf("team %q: members must be at least 1, got %d", team.ID, team.Members)
		}
		if !strategies.IsValid(team.Strategy.Key) {
			return fmt.Errorf("team %q: %w %q", team.ID, ErrUnknownStrategy, team.Strategy.Key)
		}
	}
	return nil
}
