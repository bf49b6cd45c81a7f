package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/aggregate"
	"github.com/board-sim/board-sim/sim/dispatch"
	"github.com/board-sim/board-sim/sim/queue"
	"github.com/board-sim/board-sim/sim/store"
	"github.com/board-sim/board-sim/sim/trace"
)

var (
	eventPath     string        // Path to the event YAML
	runsPerTeam   int           // Overrides runs_per_team from the event file when > 0
	maxConcurrent int           // Local capacity tokens
	runDelay      time.Duration // Pause before each run
	traceLevel    string        // Attempt trace level (none, attempts)
	traceMax      int           // Attempt records kept per run
)

// localRun is everything a single-process batch needs.
type localRun struct {
	Store         *store.Store
	Event         *sim.EventFile
	RunsPerTeam   int
	MaxConcurrent int
	RunDelay      time.Duration
	Trace         trace.TraceConfig
}

// localReport is what a finished local batch leaves behind.
type localReport struct {
	Batch      *sim.Batch
	Aggregates []sim.TeamAggregate
	Traces     map[string]*trace.TraceSummary // per team; nil unless tracing
	Stats      dispatch.Stats
}

// traceCollector merges the attempt traces of every run of a team.
type traceCollector struct {
	mu     sync.Mutex
	byTeam map[string]*trace.RunTrace
}

func (c *traceCollector) observe(run sim.Run, out *sim.Outcome) {
	if out.Trace == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.byTeam[run.TeamID]
	if !ok {
		rt = trace.NewRunTrace(trace.TraceConfig{Level: trace.TraceLevelAttempts})
		c.byTeam[run.TeamID] = rt
	}
	rt.Attempts = append(rt.Attempts, out.Trace.Attempts...)
	rt.Truncated = rt.Truncated || out.Trace.Truncated
}

func (c *traceCollector) summaries() map[string]*trace.TraceSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.byTeam) == 0 {
		return nil
	}
	out := make(map[string]*trace.TraceSummary, len(c.byTeam))
	for team, rt := range c.byTeam {
		out[team] = trace.Summarize(rt)
	}
	return out
}

// runLocal creates a local batch and drains it through an in-process
// dispatcher. On cancellation the partial report is returned with ctx.Err();
// on a dispatch fault the batch is marked errored.
func runLocal(ctx context.Context, lr localRun) (*localReport, error) {
	strategies, times := registries()
	runs := lr.RunsPerTeam
	if runs <= 0 {
		runs = lr.Event.RunsPerTeam
	}

	batch, created, err := lr.Store.CreateBatch(ctx, store.BatchSpec{
		EventID:     lr.Event.Event,
		Mode:        sim.ModeLocal,
		Board:       lr.Event.Board,
		Teams:       lr.Event.Teams,
		RunsPerTeam: runs,
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"batch": batch.ID, "runs": len(created)}).Info("local batch created")

	q := queue.NewMemoryQueue()
	ids := make([]int64, len(created))
	for i, r := range created {
		ids[i] = r.ID
	}
	if err := q.Enqueue(ctx, ids...); err != nil {
		return nil, err
	}

	cfg := dispatch.DefaultConfig("local-" + uuid.NewString()[:8])
	if lr.MaxConcurrent > 0 {
		cfg.MaxConcurrent = lr.MaxConcurrent
	}
	cfg.RunDelay = lr.RunDelay
	cfg.StopWhenIdle = true

	collector := &traceCollector{byTeam: make(map[string]*trace.RunTrace)}
	exec := sim.NewExecutor(lr.Store, strategies, times, sim.ExecutorConfig{Trace: lr.Trace})
	d, err := dispatch.New(cfg, q, lr.Store, exec, aggregate.New(lr.Store), dispatch.WithOutcomeFunc(collector.observe))
	if err != nil {
		return nil, err
	}

	runErr := d.Run(ctx)
	readCtx := context.WithoutCancel(ctx)
	switch {
	case sim.IsKind(runErr, sim.KindDispatchFault):
		if ferr := lr.Store.FailBatch(readCtx, batch.ID, runErr.Error()); ferr != nil {
			logrus.WithField("error", ferr).Warn("could not mark batch errored")
		}
	case runErr == nil && len(created) == 0:
		// No run will ever finalize an empty batch.
		if _, ferr := lr.Store.FinalizeBatch(readCtx, batch.ID); ferr != nil {
			return nil, ferr
		}
	}

	report := &localReport{Traces: collector.summaries(), Stats: d.Stats()}
	if report.Batch, err = lr.Store.GetBatch(readCtx, batch.ID); err != nil {
		return nil, err
	}
	if report.Aggregates, err = lr.Store.GetAggregates(readCtx, batch.ID); err != nil {
		return nil, err
	}
	return report, runErr
}

// runCmd simulates an event locally with a bounded in-process pool
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate an event locally",
	Run: func(cmd *cobra.Command, args []string) {
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid --trace %q. Valid: none, attempts", traceLevel)
		}
		if maxConcurrent < 1 || maxConcurrent > dispatch.MaxConcurrentLimit {
			logrus.Fatalf("--max-concurrent must be in [1, %d], got %d", dispatch.MaxConcurrentLimit, maxConcurrent)
		}
		if runDelay < 0 {
			logrus.Fatalf("--run-delay must be non-negative, got %s", runDelay)
		}
		ev := loadEvent(eventPath)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st := openStore(ctx)
		defer st.Close()

		startTime := time.Now()
		report, err := runLocal(ctx, localRun{
			Store:         st,
			Event:         ev,
			RunsPerTeam:   runsPerTeam,
			MaxConcurrent: maxConcurrent,
			RunDelay:      runDelay,
			Trace:         trace.TraceConfig{Level: trace.TraceLevel(traceLevel), MaxRecords: traceMax},
		})
		if report != nil {
			printReport(os.Stdout, report.Batch, report.Aggregates, ev.Teams)
			if report.Traces != nil {
				printTraceSummaries(os.Stdout, report.Traces)
			}
			logrus.Infof("Local batch finished in %s: %+v", time.Since(startTime).Round(time.Millisecond), report.Stats)
		}
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, "interrupted; unfinished runs were left pending")
				os.Exit(130)
			}
			logrus.Fatalf("Local batch failed: %v", err)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&eventPath, "event", "", "Path to the event YAML file")
	runCmd.Flags().IntVar(&runsPerTeam, "runs", 0, "Runs per team (overrides runs_per_team from the event file)")
	runCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", dispatch.DefaultMaxConcurrent, "Runs executing at once")
	runCmd.Flags().DurationVar(&runDelay, "run-delay", 0, "Pause before each run starts")
	runCmd.Flags().StringVar(&traceLevel, "trace", string(trace.TraceLevelNone), "Attempt trace level (none, attempts)")
	runCmd.Flags().IntVar(&traceMax, "trace-max", 0, "Attempt records kept per run (0 = unlimited)")

	rootCmd.AddCommand(runCmd)
}
