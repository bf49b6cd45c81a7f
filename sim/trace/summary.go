package trace

import "sort"

// TaskSummary aggregates the attempts spent on one task.
type TaskSummary struct {
	TaskID    string
	Attempts  int
	Successes int
	Minutes   float64
}

// TraceSummary aggregates statistics from a RunTrace.
type TraceSummary struct {
	TotalAttempts      int
	SuccessfulAttempts int
	TotalMinutes       float64
	Tasks              []TaskSummary // sorted by attempts desc, then task id
}

// Summarize computes aggregate statistics from a RunTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *RunTrace) *TraceSummary {
	summary := &TraceSummary{}
	if rt == nil {
		return summary
	}

	byTask := make(map[string]*TaskSummary)
	for _, a := range rt.Attempts {
		summary.TotalAttempts++
		if a.Successes > 0 {
			summary.SuccessfulAttempts++
		}
		summary.TotalMinutes += a.Elapsed

		ts, ok := byTask[a.TaskID]
		if !ok {
			ts = &TaskSummary{TaskID: a.TaskID}
			byTask[a.TaskID] = ts
		}
		ts.Attempts++
		ts.Successes += a.Successes
		ts.Minutes += a.Elapsed
	}

	summary.Tasks = make([]TaskSummary, 0, len(byTask))
	for _, ts := range byTask {
		summary.Tasks = append(summary.Tasks, *ts)
	}
	sort.Slice(summary.Tasks, func(i, j int) bool {
		if summary.Tasks[i].Attempts != summary.Tasks[j].Attempts {
			return summary.Tasks[i].Attempts > summary.Tasks[j].Attempts
		}
		return summary.Tasks[i].TaskID < summary.Tasks[j].TaskID
	})

	return summary
}
