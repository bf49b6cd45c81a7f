// Package trace provides attempt-trace recording for single runs.
// It has no dependencies on sim/ and stores pure data types.
package trace

import "github.com/board-sim/board-sim/sim/sampling"

// AttemptRecord captures one attempt of one task.
type AttemptRecord struct {
	Turn      int
	Row       int
	TaskID    string
	Trials    int             // 1 for per-group tasks, team size for per-player tasks
	Successes int             // trials that succeeded
	Elapsed   float64         // minutes added to the clock by this attempt
	Clock     float64         // clock after the attempt
	Items     []sampling.Item // coalesced loot gained (nil on failure)
}
