package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/board-sim/board-sim/sim/metrics"
	"github.com/board-sim/board-sim/sim/queue"
)

var reclaimBatchID string // Also re-enqueue every pending run of this batch

// leaseStore is the store surface lease recovery needs.
type leaseStore interface {
	ReclaimExpired(ctx context.Context, now time.Time) ([]int64, error)
	PendingRunIDs(ctx context.Context, batchID string) ([]int64, error)
}

// reclaimLeases returns runs whose lease expired before now to pending and
// puts them back on the queue. It returns how many runs were reclaimed.
func reclaimLeases(ctx context.Context, st leaseStore, q queue.Queue, m *metrics.Metrics, now time.Time) (int, error) {
	ids, err := st.ReclaimExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	m.Reclaimed(len(ids))
	if err := q.Enqueue(ctx, ids...); err != nil {
		// The runs are pending again; `reclaim --batch` re-enqueues them.
		return len(ids), fmt.Errorf("re-enqueueing %d reclaimed runs: %w", len(ids), err)
	}
	logrus.WithField("runs", len(ids)).Info("expired leases reclaimed")
	return len(ids), nil
}

// requeuePending re-enqueues every pending run of a batch. Duplicates are
// harmless: only one claim per run can win.
func requeuePending(ctx context.Context, st leaseStore, q queue.Queue, batchID string) (int, error) {
	ids, err := st.PendingRunIDs(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := q.Enqueue(ctx, ids...); err != nil {
		return 0, fmt.Errorf("re-enqueueing pending runs of batch %q: %w", batchID, err)
	}
	return len(ids), nil
}

// reclaimCmd runs lease recovery once against the shared store and queue
var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Return runs with expired leases to the queue",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st := openStore(ctx)
		defer st.Close()
		q := openRedisQueue()
		defer q.Close()

		n, err := reclaimLeases(ctx, st, q, nil, time.Now())
		if err != nil {
			logrus.Fatalf("Reclaim failed: %v", err)
		}
		fmt.Printf("Reclaimed %d expired runs\n", n)

		if reclaimBatchID != "" {
			n, err := requeuePending(ctx, st, q, reclaimBatchID)
			if err != nil {
				logrus.Fatalf("Requeue failed: %v", err)
			}
			fmt.Printf("Re-enqueued %d pending runs of batch %s\n", n, reclaimBatchID)
		}
	},
}

func init() {
	reclaimCmd.Flags().StringVar(&reclaimBatchID, "batch", "", "Also re-enqueue every pending run of this batch")
	addRedisFlags(reclaimCmd)
	rootCmd.AddCommand(reclaimCmd)
}
