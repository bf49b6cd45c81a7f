package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/aggregate"
	"github.com/board-sim/board-sim/sim/dispatch"
	"github.com/board-sim/board-sim/sim/metrics"
)

var (
	workerID        string        // Overrides the host-derived worker id
	workerIndex     int           // Overrides BOARDSIM_WORKER_INDEX
	workerCount     int           // Overrides BOARDSIM_WORKER_COUNT
	pollInterval    time.Duration // Wait after an empty dequeue
	leaseTTL        time.Duration // Claim lease
	metricsAddr     string        // Listen address for /metrics ("" = off)
	reclaimSchedule string        // Cron schedule for lease recovery ("" = off)
)

// workerEnv is the environment a worker reads once at startup.
type workerEnv struct {
	Hostname    string `env:"HOSTNAME"`
	WorkerIndex *int   `env:"BOARDSIM_WORKER_INDEX"`
	WorkerCount int    `env:"BOARDSIM_WORKER_COUNT" envDefault:"1"`
}

// loadWorkerEnv parses the worker environment.
func loadWorkerEnv() (workerEnv, error) {
	var cfg workerEnv
	if err := env.Parse(&cfg); err != nil {
		return workerEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// workerOverrides carries flags the user set explicitly; nil means unset.
type workerOverrides struct {
	WorkerID string
	Index    *int
	Count    *int
}

// resolveWorkerConfig merges environment and flags into a dispatcher config.
// Flags win over the environment. The partition is resolved here, once.
func resolveWorkerConfig(we workerEnv, o workerOverrides) (dispatch.Config, error) {
	// Host-derived ids get a random suffix so two processes on one host
	// never share claims.
	id := o.WorkerID
	if id == "" {
		host := we.Hostname
		if host == "" {
			host = "worker"
		}
		id = host + "-" + uuid.NewString()[:8]
	}

	index, count := we.WorkerIndex, we.WorkerCount
	if o.Index != nil {
		index = o.Index
	}
	if o.Count != nil {
		count = *o.Count
	}
	if count < 1 {
		return dispatch.Config{}, fmt.Errorf("worker count must be at least 1, got %d", count)
	}

	cfg := dispatch.DefaultConfig(id)
	cfg.Partition = dispatch.ResolvePartition(we.Hostname, index, count)
	if count > 1 && !cfg.Partition.Enabled {
		logrus.WithFields(logrus.Fields{"host": we.Hostname, "count": count}).
			Warn("no usable worker index; claiming from the whole queue")
	}
	return cfg, nil
}

// workerCmd runs a long-lived dispatcher against the shared store and queue
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume runs from the shared queue until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		we, err := loadWorkerEnv()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		var o workerOverrides
		if cmd.Flags().Changed("worker-id") {
			o.WorkerID = workerID
		}
		if cmd.Flags().Changed("worker-index") {
			o.Index = &workerIndex
		}
		if cmd.Flags().Changed("worker-count") {
			o.Count = &workerCount
		}
		cfg, err := resolveWorkerConfig(we, o)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		cfg.MaxConcurrent = maxConcurrent
		cfg.PollInterval = pollInterval
		cfg.LeaseTTL = leaseTTL
		cfg.RunDelay = runDelay
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid worker configuration: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st := openStore(ctx)
		defer st.Close()
		q := openRedisQueue()
		defer q.Close()

		m := metrics.New(prometheus.NewRegistry())
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logrus.WithField("error", err).Error("metrics server stopped")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		if reclaimSchedule != "" {
			if _, err := cron.ParseStandard(reclaimSchedule); err != nil {
				logrus.Fatalf("Invalid --reclaim-schedule %q: %v", reclaimSchedule, err)
			}
			c := cron.New()
			if _, err := c.AddFunc(reclaimSchedule, func() {
				if _, err := reclaimLeases(ctx, st, q, m, time.Now()); err != nil {
					logrus.WithField("error", err).Warn("lease reclaim failed")
				}
			}); err != nil {
				logrus.Fatalf("Could not schedule lease reclaim: %v", err)
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()
		}

		strategies, times := registries()
		exec := sim.NewExecutor(st, strategies, times, sim.ExecutorConfig{})
		d, err := dispatch.New(cfg, q, st, exec, aggregate.New(st), dispatch.WithMetrics(m))
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Worker %s starting (partition %s)", cfg.WorkerID, cfg.Partition)

		err = d.Run(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			logrus.Infof("Worker %s stopped: %+v", cfg.WorkerID, d.Stats())
		default:
			logrus.Fatalf("Worker %s stopped: %v", cfg.WorkerID, err)
		}
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerID, "worker-id", "", "Worker id used in claims (default $HOSTNAME plus a random suffix)")
	workerCmd.Flags().IntVar(&workerIndex, "worker-index", 0, "Partition index in [0, worker-count) (default from $BOARDSIM_WORKER_INDEX or host suffix)")
	workerCmd.Flags().IntVar(&workerCount, "worker-count", 1, "Number of workers sharing the queue (default $BOARDSIM_WORKER_COUNT)")
	workerCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", dispatch.DefaultMaxConcurrent, "Runs executing at once")
	workerCmd.Flags().DurationVar(&runDelay, "run-delay", 0, "Pause before each run starts")
	workerCmd.Flags().DurationVar(&pollInterval, "poll-interval", dispatch.DefaultPollInterval, "Wait after an empty dequeue")
	workerCmd.Flags().DurationVar(&leaseTTL, "lease-ttl", dispatch.DefaultLeaseTTL, "How long a claim is honoured")
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for the Prometheus /metrics endpoint")
	workerCmd.Flags().StringVar(&reclaimSchedule, "reclaim-schedule", "@every 1m", "Cron schedule for lease recovery (empty disables)")
	addRedisFlags(workerCmd)
	rootCmd.AddCommand(workerCmd)
}
