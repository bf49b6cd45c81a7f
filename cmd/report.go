package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/trace"
)

var reportBatchID string // Batch to report on

// printReport writes a batch header and one line per team aggregate.
// teams is optional and only used for display names.
func printReport(w io.Writer, batch *sim.Batch, aggs []sim.TeamAggregate, teams []sim.Team) {
	names := make(map[string]string, len(teams))
	for _, t := range teams {
		if t.Name != "" {
			names[t.ID] = t.Name
		}
	}

	fmt.Fprintf(w, "=== Batch %s ===\n", batch.ID)
	fmt.Fprintf(w, "Event:   %s\n", batch.EventID)
	fmt.Fprintf(w, "Mode:    %s\n", batch.Mode)
	fmt.Fprintf(w, "Status:  %s\n", batch.Status)
	fmt.Fprintf(w, "Runs:    %s\n", humanize.Comma(int64(batch.TotalRuns)))
	fmt.Fprintf(w, "Created: %s\n", humanize.Time(batch.CreatedAt))
	if batch.CompletedAt != nil {
		fmt.Fprintf(w, "Took:    %s\n", batch.CompletedAt.Sub(batch.CreatedAt).Round(time.Millisecond))
	}
	if batch.Cause != "" {
		fmt.Fprintf(w, "Cause:   %s\n", batch.Cause)
	}
	if len(aggs) == 0 {
		fmt.Fprintln(w, "No team results yet.")
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TEAM\tFINISHED\tFAILED\tCOMPLETION\tMEAN\tSTDDEV\tP50\tP90\tP95\tROWS")
	for _, a := range aggs {
		name := a.TeamID
		if n, ok := names[a.TeamID]; ok {
			name = fmt.Sprintf("%s (%s)", n, a.TeamID)
		}
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s%%\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			name,
			humanize.Comma(int64(a.FinishedRuns)), humanize.Comma(int64(a.TotalRuns)),
			humanize.Comma(int64(a.FailedRuns)),
			humanize.FtoaWithDigits(a.CompletionRate*100, 1),
			formatMinutes(a.MeanTime), formatMinutes(a.StdDevTime),
			formatMinutes(a.P50Time), formatMinutes(a.P90Time), formatMinutes(a.P95Time),
			a.MeanRows)
	}
	tw.Flush()

	for _, a := range aggs {
		if len(a.ItemTotals) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nItems collected by %s:\n", a.TeamID)
		for _, item := range a.ItemTotals {
			fmt.Fprintf(w, "  %-30s %s\n", item.Name, humanize.Comma(int64(item.Quantity)))
		}
	}
}

// printTraceSummaries writes the busiest tasks of each team's merged trace.
func printTraceSummaries(w io.Writer, summaries map[string]*trace.TraceSummary) {
	for _, team := range sortedKeys(summaries) {
		s := summaries[team]
		fmt.Fprintf(w, "\n=== Attempt Trace: %s ===\n", team)
		fmt.Fprintf(w, "Attempts: %s (%s successful), %s minutes\n",
			humanize.Comma(int64(s.TotalAttempts)), humanize.Comma(int64(s.SuccessfulAttempts)),
			humanize.CommafWithDigits(s.TotalMinutes, 1))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TASK\tATTEMPTS\tSUCCESSES\tMINUTES")
		for _, ts := range s.Tasks {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ts.TaskID,
				humanize.Comma(int64(ts.Attempts)), humanize.Comma(int64(ts.Successes)),
				humanize.CommafWithDigits(ts.Minutes, 1))
		}
		tw.Flush()
	}
}

// formatMinutes renders simulated minutes as hours and minutes.
func formatMinutes(m float64) string {
	return (time.Duration(m * float64(time.Minute))).Round(time.Minute).String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// reportCmd prints the status and team aggregates of a stored batch
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a batch's status and team aggregates",
	Run: func(cmd *cobra.Command, args []string) {
		if reportBatchID == "" {
			logrus.Fatalf("Batch id not provided. Use --batch.")
		}
		ctx := context.Background()
		st := openStore(ctx)
		defer st.Close()

		batch, err := st.GetBatch(ctx, reportBatchID)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		aggs, err := st.GetAggregates(ctx, reportBatchID)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		teams := make([]sim.Team, 0, len(aggs))
		for _, a := range aggs {
			if t, err := st.Team(ctx, a.TeamID); err == nil {
				teams = append(teams, *t)
			}
		}
		printReport(os.Stdout, batch, aggs, teams)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportBatchID, "batch", "", "Batch id")
	rootCmd.AddCommand(reportCmd)
}
