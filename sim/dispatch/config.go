// Package dispatch moves queued runs through claim, execution and write-back
// under a bounded number of concurrently executing runs per process.
package dispatch

import (
	"errors"
	"time"
)

const (
	// DefaultMaxConcurrent is the default number of runs executing at once.
	DefaultMaxConcurrent = 4

	// DefaultPollInterval is how long the loop waits after an empty dequeue.
	DefaultPollInterval = 200 * time.Millisecond

	// DefaultLeaseTTL is how long a claim is honoured before it can be reclaimed.
	DefaultLeaseTTL = 5 * time.Minute

	// DefaultWriteTimeout bounds each write-back after a run ends.
	DefaultWriteTimeout = 10 * time.Second

	// MaxConcurrentLimit is the maximum allowed pool size.
	MaxConcurrentLimit = 1024
)

// Config holds configuration for a Dispatcher.
type Config struct {
	// WorkerID identifies this process in claims. Required.
	WorkerID string

	// MaxConcurrent is the capacity of the run pool.
	MaxConcurrent int

	// PollInterval is the wait after an empty dequeue.
	PollInterval time.Duration

	// RunDelay throttles each run before it starts (0 = none).
	RunDelay time.Duration

	// LeaseTTL is the claim lease handed to the store. Leases are renewed every
	// third of it while their run executes.
	LeaseTTL time.Duration

	// WriteTimeout bounds each completion, failure or release write.
	WriteTimeout time.Duration

	// StopWhenIdle makes Run return once the queue is empty and no run is in flight.
	StopWhenIdle bool

	// Partition restricts which run ids this worker claims first.
	Partition Partition
}

// DefaultConfig returns a Config with sensible defaults and no partition.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:      workerID,
		MaxConcurrent: DefaultMaxConcurrent,
		PollInterval:  DefaultPollInterval,
		LeaseTTL:      DefaultLeaseTTL,
		WriteTimeout:  DefaultWriteTimeout,
	}
}

// renewInterval is how often a held lease is extended while its run executes.
func (c *Config) renewInterval() time.Duration {
	return max(c.LeaseTTL/3, time.Millisecond)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.WorkerID == "" {
		return errors.New("worker id is required")
	}
	if c.MaxConcurrent < 1 {
		return errors.New("max concurrent must be at least 1")
	}
	if c.MaxConcurrent > MaxConcurrentLimit {
		return errors.New("max concurrent cannot exceed 1024")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.RunDelay < 0 {
		return errors.New("run delay must not be negative")
	}
	if c.LeaseTTL <= 0 {
		return errors.New("lease ttl must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	return c.Partition.Validate()
}
