package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === Run seeds ===

// DeriveRunSeed returns the seed of the run with the given ordinal in a batch.
// It depends only on (batchID, ordinal), never on generator state, so any worker
// re-executing the run draws the same sequence.
func DeriveRunSeed(batchID string, ordinal int) int64 {
	return fnv1a64(fmt.Sprintf("%s/%d", batchID, ordinal))
}

// === Subsystem Constants ===

const (
	// SubsystemStrategy feeds strategies that break ties or pick at random.
	SubsystemStrategy = "strategy"
	// SubsystemSuccess feeds the per-attempt success trials.
	SubsystemSuccess = "success"
	// SubsystemLoot feeds roll tables.
	SubsystemLoot = "loot"
	// SubsystemTime feeds elapsed-time samplers.
	SubsystemTime = "time"
)

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem
// of a single run. Drawing more from one subsystem (say a strategy that rolls
// for tie-breaks) never shifts the sequence another subsystem sees.
//
// Derivation formula: runSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. A run's turn loop is sequential.
type PartitionedRNG struct {
	seed       int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a run seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{
		seed:       seed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Seed returns the run seed used to create this PartitionedRNG.
func (p *PartitionedRNG) Seed() int64 {
	return p.seed
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
