package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
)

// hostOrdinal matches a trailing "-N" or "_N" in a host name, as produced by
// stateful-set style naming ("worker-3", "sim_12").
var hostOrdinal = regexp.MustCompile(`[_-](\d+)$`)

// Partition is a worker's share of the run id space: ids with
// id mod Count == Index. A disabled partition owns every id.
type Partition struct {
	Index   int
	Count   int
	Enabled bool
}

// ResolvePartition derives this worker's partition once at startup.
//
// An explicit index wins. Otherwise a trailing "-N" or "_N" on hostID gives the
// 1-based ordinal N, so the index is N-1. Partitioning is disabled when there
// is no usable index or when it falls outside [0, workerCount).
func ResolvePartition(hostID string, explicitIndex *int, workerCount int) Partition {
	if workerCount < 1 {
		return Partition{}
	}
	idx := -1
	switch {
	case explicitIndex != nil:
		idx = *explicitIndex
	default:
		m := hostOrdinal.FindStringSubmatch(hostID)
		if m == nil {
			return Partition{}
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Partition{}
		}
		idx = n - 1
	}
	if idx < 0 || idx >= workerCount {
		return Partition{}
	}
	return Partition{Index: idx, Count: workerCount, Enabled: true}
}

// Validate checks an enabled partition's bounds.
func (p Partition) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Count < 1 || p.Index < 0 || p.Index >= p.Count {
		return fmt.Errorf("partition index %d out of range for %d workers", p.Index, p.Count)
	}
	return nil
}

// Owns reports whether runID falls in this partition.
func (p Partition) Owns(runID int64) bool {
	if !p.Enabled {
		return true
	}
	m := runID % int64(p.Count)
	if m < 0 {
		m += int64(p.Count)
	}
	return m == int64(p.Index)
}

// Split separates ids this worker should claim from ids to hand back.
// Once a message has hopped past every worker, anyone may take it, so a
// dead partition owner cannot strand its runs.
func (p Partition) Split(ids []int64, hops int) (owned, foreign []int64) {
	if !p.Enabled || hops >= p.Count {
		return ids, nil
	}
	for _, id := range ids {
		if p.Owns(id) {
			owned = append(owned, id)
		} else {
			foreign = append(foreign, id)
		}
	}
	return owned, foreign
}

// String returns a human-readable representation of the partition.
func (p Partition) String() string {
	if !p.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("%d/%d", p.Index, p.Count)
}
