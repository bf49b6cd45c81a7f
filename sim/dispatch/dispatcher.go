package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/board-sim/board-sim/sim"
	"github.com/board-sim/board-sim/sim/metrics"
	"github.com/board-sim/board-sim/sim/queue"
	"github.com/board-sim/board-sim/sim/store"
)

// Executor runs one claimed run. *sim.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, run sim.Run) (*sim.Outcome, error)
}

// RunStore is the write contract the dispatcher drives. *store.Store implements it.
type RunStore interface {
	ClaimRuns(ctx context.Context, ids []int64, workerID string, ttl time.Duration) ([]sim.Run, error)
	CompleteRun(ctx context.Context, workerID string, result *sim.RunResult) error
	FailRun(ctx context.Context, runID int64, workerID, cause string) error
	ReleaseRun(ctx context.Context, runID int64, workerID string) error
	ExtendLease(ctx context.Context, runID int64, workerID string, ttl time.Duration) error
	MarkBatchRunning(ctx context.Context, batchID string) error
	FinalizeBatch(ctx context.Context, batchID string) (bool, error)
	BatchTeamIDs(ctx context.Context, batchID string) ([]string, error)
}

// Aggregator refreshes a team aggregate after one of its runs ends.
type Aggregator interface {
	Recompute(ctx context.Context, batchID, teamID string) (*sim.TeamAggregate, error)
}

// OutcomeFunc observes each successfully sealed run.
type OutcomeFunc func(run sim.Run, out *sim.Outcome)

// Dispatcher is one process's polling loop plus its bounded run pool.
type Dispatcher struct {
	config     Config
	queue      queue.Queue
	store      RunStore
	executor   Executor
	aggregator Aggregator
	metrics    *metrics.Metrics
	onOutcome  OutcomeFunc

	inFlight atomic.Int64

	// Stats
	completed atomic.Int64
	failed    atomic.Int64
	released  atomic.Int64
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithOutcomeFunc registers a callback for every sealed run.
func WithOutcomeFunc(fn OutcomeFunc) Option {
	return func(d *Dispatcher) { d.onOutcome = fn }
}

// New creates a Dispatcher.
func New(cfg Config, q queue.Queue, st RunStore, exec Executor, agg Aggregator, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if q == nil || st == nil || exec == nil || agg == nil {
		return nil, errors.New("queue, store, executor and aggregator are required")
	}
	d := &Dispatcher{
		config:     cfg,
		queue:      q,
		store:      st,
		executor:   exec,
		aggregator: agg,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Stats is a point-in-time view of the dispatcher's counters.
type Stats struct {
	InFlight  int64
	Completed int64
	Failed    int64
	Released  int64
}

// Stats returns the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		InFlight:  d.inFlight.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
		Released:  d.released.Load(),
	}
}

// Run polls the queue until ctx is cancelled, a dispatch fault occurs, or
// (with StopWhenIdle) the queue drains. It always waits for in-flight runs
// before returning. Cancellation returns ctx.Err(); queue and claim failures
// return a KindDispatchFault *sim.Error.
//
// A run is claimed only once a capacity token is held for it, so no lease
// starts ticking while the run waits for the pool. Ids of a message beyond
// the free capacity go back on the queue unclaimed.
func (d *Dispatcher) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(d.config.MaxConcurrent))
	var wg sync.WaitGroup
	defer wg.Wait()

	log := logrus.WithFields(logrus.Fields{"worker": d.config.WorkerID, "partition": d.config.Partition})
	log.WithField("max_concurrent", d.config.MaxConcurrent).Info("dispatcher started")
	defer log.Info("dispatcher stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if sim.IsKind(err, sim.KindSerialization) {
				log.WithField("error", err).Warn("skipping malformed queue message")
				continue
			}
			return sim.DispatchFault("dequeue", err)
		}

		if msg.Empty() {
			if d.config.StopWhenIdle && d.inFlight.Load() == 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.config.PollInterval):
			}
			continue
		}

		owned, foreign := d.config.Partition.Split(msg.IDs(), msg.Hops)
		if len(foreign) > 0 {
			if err := d.queue.Publish(ctx, queue.Message{RunIDs: foreign, Hops: msg.Hops + 1}); err != nil {
				return sim.DispatchFault("requeue", err)
			}
			d.metrics.RequeuedIDs(len(foreign))
			log.WithFields(logrus.Fields{"ids": len(foreign), "hops": msg.Hops + 1}).Debug("handed foreign runs back")
		}
		if len(owned) == 0 {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			d.putBack(ctx, owned, msg.Hops)
			return ctx.Err()
		}
		tokens := 1
		for tokens < len(owned) && sem.TryAcquire(1) {
			tokens++
		}
		take, rest := owned[:tokens], owned[tokens:]
		if len(rest) > 0 {
			if err := d.queue.Publish(ctx, queue.Message{RunIDs: rest, Hops: msg.Hops}); err != nil {
				sem.Release(int64(tokens))
				return sim.DispatchFault("requeue", err)
			}
			log.WithField("ids", len(rest)).Debug("requeued runs beyond free capacity")
		}

		runs, err := d.store.ClaimRuns(ctx, take, d.config.WorkerID, d.config.LeaseTTL)
		if err != nil {
			sem.Release(int64(tokens))
			if ctxErr := ctx.Err(); ctxErr != nil {
				d.putBack(ctx, take, msg.Hops)
				return ctxErr
			}
			return sim.DispatchFault("claim", err)
		}
		if unused := tokens - len(runs); unused > 0 {
			sem.Release(int64(unused))
		}
		d.metrics.Claimed(len(take), len(runs))
		if skipped := len(take) - len(runs); skipped > 0 {
			log.WithField("skipped", skipped).Debug("runs already claimed elsewhere")
		}
		d.markBatchesRunning(ctx, runs)

		for _, run := range runs {
			d.inFlight.Add(1)
			d.metrics.Started()
			wg.Add(1)
			go func(run sim.Run) {
				defer func() {
					d.inFlight.Add(-1)
					sem.Release(1)
					wg.Done()
				}()
				d.process(ctx, run)
			}(run)
		}
	}
}

// putBack returns popped but unclaimed ids to the queue after cancellation.
func (d *Dispatcher) putBack(ctx context.Context, ids []int64, hops int) {
	wctx, cancel := d.writeContext(ctx)
	defer cancel()
	if err := d.queue.Publish(wctx, queue.Message{RunIDs: ids, Hops: hops}); err != nil {
		logrus.WithFields(logrus.Fields{"ids": ids, "error": err}).
			Warn("could not requeue unclaimed runs; requeue the batch to recover them")
	}
}

func (d *Dispatcher) markBatchesRunning(ctx context.Context, runs []sim.Run) {
	seen := make(map[string]bool)
	for _, run := range runs {
		if seen[run.BatchID] {
			continue
		}
		seen[run.BatchID] = true
		if err := d.store.MarkBatchRunning(ctx, run.BatchID); err != nil {
			logrus.WithFields(logrus.Fields{"batch": run.BatchID, "error": err}).Warn("could not mark batch running")
		}
	}
}

// writeContext detaches write-backs from cancellation so an interrupted run
// can still be released, but bounds them in time.
func (d *Dispatcher) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.config.WriteTimeout)
}

// release hands an interrupted run back to pending and onto the queue.
func (d *Dispatcher) release(ctx context.Context, run sim.Run) {
	wctx, cancel := d.writeContext(ctx)
	defer cancel()
	log := logrus.WithFields(logrus.Fields{"run": run.ID, "batch": run.BatchID, "worker": d.config.WorkerID})
	if err := d.store.ReleaseRun(wctx, run.ID, d.config.WorkerID); err != nil {
		log.WithField("error", err).Warn("could not release interrupted run; it will be reclaimed when its lease expires")
		return
	}
	d.released.Add(1)
	if err := d.queue.Enqueue(wctx, run.ID); err != nil {
		log.WithField("error", err).Warn("released run is pending but not queued; requeue the batch to recover it")
		return
	}
	log.Warn("interrupted run released back to pending")
}

// keepLease renews run's lease every third of LeaseTTL until the returned
// stop is called. A lost claim calls onLost once and ends the renewals.
func (d *Dispatcher) keepLease(ctx context.Context, run sim.Run, onLost func()) (stop func()) {
	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.config.renewInterval())
		defer ticker.Stop()
		for {
			select {
			case <-lctx.Done():
				return
			case <-ticker.C:
			}
			err := d.store.ExtendLease(lctx, run.ID, d.config.WorkerID, d.config.LeaseTTL)
			switch {
			case err == nil:
			case errors.Is(err, store.ErrClaimLost):
				onLost()
				return
			case lctx.Err() != nil:
				return
			default:
				logrus.WithFields(logrus.Fields{"run": run.ID, "worker": d.config.WorkerID, "error": err}).
					Warn("lease renewal failed; retrying")
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// process executes one claimed run and writes its outcome back.
func (d *Dispatcher) process(ctx context.Context, run sim.Run) {
	log := logrus.WithFields(logrus.Fields{
		"run":    run.ID,
		"batch":  run.BatchID,
		"team":   run.TeamID,
		"worker": d.config.WorkerID,
	})
	start := time.Now()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	var lost atomic.Bool
	stopLease := d.keepLease(ctx, run, func() {
		lost.Store(true)
		cancelRun()
	})
	defer stopLease()

	abandon := func() {
		log.Warn("claim lost while running; run abandoned to its new holder")
		d.metrics.Finished(metrics.OutcomeClaimLost, time.Since(start))
	}

	if d.config.RunDelay > 0 {
		select {
		case <-runCtx.Done():
			stopLease()
			if lost.Load() {
				abandon()
				return
			}
			d.release(ctx, run)
			d.metrics.Finished(metrics.OutcomeReleased, time.Since(start))
			return
		case <-time.After(d.config.RunDelay):
		}
	}

	out, err := d.executor.Execute(runCtx, run)
	stopLease()
	if lost.Load() {
		abandon()
		return
	}

	wctx, cancel := d.writeContext(ctx)
	defer cancel()

	switch {
	case err == nil:
		if werr := d.store.CompleteRun(wctx, d.config.WorkerID, out.Result); werr != nil {
			if errors.Is(werr, store.ErrClaimLost) {
				log.Warn("claim lost before completion; result discarded")
				d.metrics.Finished(metrics.OutcomeClaimLost, time.Since(start))
				return
			}
			// The run stays running; the lease reclaimer will hand it out again.
			log.WithField("error", werr).Error("could not seal run result")
			d.metrics.Finished(metrics.OutcomeClaimLost, time.Since(start))
			return
		}
		d.completed.Add(1)
		d.metrics.Finished(metrics.OutcomeCompleted, time.Since(start))
		log.WithFields(logrus.Fields{
			"board_completed": out.Result.BoardCompleted,
			"attempts":        out.Result.Attempts,
			"minutes":         out.Result.ElapsedMinutes,
		}).Debug("run completed")
		if d.onOutcome != nil {
			d.onOutcome(run, out)
		}

	case !sim.IsKind(err, sim.KindRunFault) && ctx.Err() != nil:
		d.release(ctx, run)
		d.metrics.Finished(metrics.OutcomeReleased, time.Since(start))
		return

	default:
		if werr := d.store.FailRun(wctx, run.ID, d.config.WorkerID, err.Error()); werr != nil {
			log.WithField("error", werr).Error("could not record run failure")
			d.metrics.Finished(metrics.OutcomeClaimLost, time.Since(start))
			return
		}
		d.failed.Add(1)
		d.metrics.Finished(metrics.OutcomeFailed, time.Since(start))
		log.WithField("cause", err).Warn("run failed")
	}

	if _, aerr := d.aggregator.Recompute(wctx, run.BatchID, run.TeamID); aerr != nil {
		log.WithField("error", aerr).Warn("aggregate recompute failed")
	}
	done, ferr := d.store.FinalizeBatch(wctx, run.BatchID)
	if ferr != nil {
		log.WithField("error", ferr).Warn("batch finalize check failed")
		return
	}
	if done {
		d.metrics.BatchCompleted()
		d.recomputeAll(wctx, run.BatchID)
	}
}

// recomputeAll refreshes every team of a batch that just finalized. Every run
// is sealed by then, so these recomputes see the final result sets and win
// over any slower recompute still in flight elsewhere.
func (d *Dispatcher) recomputeAll(ctx context.Context, batchID string) {
	log := logrus.WithFields(logrus.Fields{"batch": batchID, "worker": d.config.WorkerID})
	teams, err := d.store.BatchTeamIDs(ctx, batchID)
	if err != nil {
		log.WithField("error", err).Warn("could not list teams for the final recompute")
		return
	}
	for _, team := range teams {
		if _, err := d.aggregator.Recompute(ctx, batchID, team); err != nil {
			log.WithFields(logrus.Fields{"team": team, "error": err}).Warn("final aggregate recompute failed")
		}
	}
	log.WithField("teams", len(teams)).Debug("final aggregates refreshed")
}
