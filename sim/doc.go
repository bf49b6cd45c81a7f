// Package sim provides the core Monte Carlo engine for board-sim.
//
// # Reading Guide
//
// Start with these files to understand a single simulated run:
//   - board.go: reference data (rows, tasks, loot sources) and the frozen Snapshot
//   - run.go: Batch and Run lifecycles, RunResult and TeamAggregate
//   - executor.go: the turn loop that simulates one run from its seed
//
// # Architecture
//
// The sim package defines the model, the error taxonomy and the extension points;
// implementations live in sub-packages:
//   - sim/sampling/: probability draws, roll tables, time distributions
//   - sim/strategy/: task-selection policies and the default registry
//   - sim/dispatch/: local polling loop, bounded pool, worker partitioning
//   - sim/queue/: in-process FIFO and Redis-backed run id queues
//   - sim/store/: SQL persistence for batches, runs, claims, results and aggregates
//   - sim/aggregate/: per-team roll-up of run results
//   - sim/trace/: optional attempt tracing
//
// # Key Interfaces
//
//   - Strategy: select the next task given board state and resource pool
//   - Resolver: read a batch Snapshot and a Team for the executor
//
// Every random draw in a run comes from a PartitionedRNG seeded by DeriveRunSeed,
// so re-executing a run id reproduces its RunResult bit for bit.
package sim
