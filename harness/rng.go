package harness

import (
	"hash/fnv"
	"math/rand"
)

// PartitionedRNG provides isolated RNG streams per subsystem so that adding
// a consumer in one place never shifts the random sequence seen elsewhere.
// Streams are derived deterministically from the master seed, independent of
// creation order.
type PartitionedRNG struct {
	masterSeed int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a new partitioned RNG with the given master seed.
func NewPartitionedRNG(masterSeed int64) *PartitionedRNG {
	return &PartitionedRNG{
		masterSeed: masterSeed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the lazily created RNG for the named subsystem.
// Repeated calls with the same name return the same instance.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.deriveSeed(name)))
	p.subsystems[name] = rng
	return rng
}

// ForTask returns the RNG stream for one task's timing noise.
func (p *PartitionedRNG) ForTask(name string) *rand.Rand {
	return p.ForSubsystem("task_" + name)
}

// deriveSeed hashes the subsystem name and XORs it into the master seed, so
// derivation is order-independent.
func (p *PartitionedRNG) deriveSeed(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return p.masterSeed ^ int64(h.Sum64())
}
