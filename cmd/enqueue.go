package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/queue"
	"github.com/board-sim/board-sim/sim/store"
)

var (
	// Redis flags shared by enqueue, worker and reclaim
	redisAddr     string
	redisPassword string
	redisDB       int
	redisKey      string

	enqueueBatchSize int // Run ids per queue message
)

func addRedisFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address of the shared run queue")
	cmd.Flags().StringVar(&redisPassword, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&redisDB, "redis-db", 0, "Redis database number")
	cmd.Flags().StringVar(&redisKey, "redis-key", queue.DefaultKey, "Redis list holding run messages")
}

func openRedisQueue() *queue.RedisQueue {
	q, err := queue.NewRedisQueue(queue.RedisConfig{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
		Key:      redisKey,
	})
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	return q
}

// batchPublisher pushes run ids in chunks of size.
type batchPublisher interface {
	EnqueueBatch(ctx context.Context, size int, ids ...int64) error
}

// enqueueDistributed creates a distributed batch and publishes its runs for
// a worker fleet. A batch whose runs could not be published is marked errored
// and returned alongside the fault.
func enqueueDistributed(ctx context.Context, st *store.Store, pub batchPublisher, ev *sim.EventFile, runs, size int) (*sim.Batch, error) {
	if runs <= 0 {
		runs = ev.RunsPerTeam
	}
	batch, created, err := st.CreateBatch(ctx, store.BatchSpec{
		EventID:     ev.Event,
		Mode:        sim.ModeDistributed,
		Board:       ev.Board,
		Teams:       ev.Teams,
		RunsPerTeam: runs,
	})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		if _, err := st.FinalizeBatch(ctx, batch.ID); err != nil {
			return nil, err
		}
		return st.GetBatch(ctx, batch.ID)
	}

	ids := make([]int64, len(created))
	for i, r := range created {
		ids[i] = r.ID
	}
	if err := pub.EnqueueBatch(ctx, size, ids...); err != nil {
		fault := sim.DispatchFault("enqueue", err)
		if ferr := st.FailBatch(context.WithoutCancel(ctx), batch.ID, fault.Error()); ferr != nil {
			logrus.WithField("error", ferr).Warn("could not mark batch errored")
		}
		return batch, fault
	}
	logrus.WithFields(logrus.Fields{"batch": batch.ID, "runs": len(ids), "batch_size": size}).Info("distributed batch enqueued")
	return batch, nil
}

// enqueueCmd creates a distributed batch and publishes its runs to Redis
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Create a distributed batch and publish its runs to the shared queue",
	Run: func(cmd *cobra.Command, args []string) {
		if enqueueBatchSize < 1 {
			logrus.Fatalf("--batch-size must be at least 1, got %d", enqueueBatchSize)
		}
		ev := loadEvent(eventPath)
		ctx := context.Background()
		st := openStore(ctx)
		defer st.Close()
		q := openRedisQueue()
		defer q.Close()

		batch, err := enqueueDistributed(ctx, st, q, ev, runsPerTeam, enqueueBatchSize)
		if err != nil {
			logrus.Fatalf("Enqueue failed: %v", err)
		}
		fmt.Println(batch.ID)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&eventPath, "event", "", "Path to the event YAML file")
	enqueueCmd.Flags().IntVar(&runsPerTeam, "runs", 0, "Runs per team (overrides runs_per_team from the event file)")
	enqueueCmd.Flags().IntVar(&enqueueBatchSize, "batch-size", 25, "Run ids per queue message")
	addRedisFlags(enqueueCmd)
	rootCmd.AddCommand(enqueueCmd)
}
