package gift

import (
	"crypto/sha256"
	"encoding/binary"
	"sync/atomic"
)

// Uniform is the randomness source consumed by the split generator.
type Uniform interface {
	Float64() float64
}

// Rand is a deterministic random stream: block i is sha256(seed || LE64(i)).
// The counter advances atomically so concurrent claimants consume distinct
// blocks, and the (seed, counter) pair persists with its gift so a restarted
// node continues the same stream.
type Rand struct {
	seed    []byte
	counter atomic.Uint64
}

func NewRand(seed []byte) *Rand {
	return RestoreRand(seed, 0)
}

func RestoreRand(seed []byte, counter uint64) *Rand {
	r := &Rand{seed: append([]byte(nil), seed...)}
	r.counter.Store(counter)
	return r
}

func (r *Rand) next() [sha256.Size]byte {
	n := r.counter.Add(1) - 1
	buf := make([]byte, len(r.seed)+8)
	copy(buf, r.seed)
	binary.LittleEndian.PutUint64(buf[len(r.seed):], n)
	return sha256.Sum256(buf)
}

func (r *Rand) Uint64() uint64 {
	h := r.next()
	return binary.LittleEndian.Uint64(h[:8])
}

// Float64 returns a uniform value in [0,1) built from the top 53 bits of one
// block (double precision).
func (r *Rand) Float64() float64 {
	const inv53 = 1.0 / (1 << 53)
	return float64(r.Uint64()>>11) * inv53
}

// Seed and Counter expose the persisted stream position.
func (r *Rand) Seed() []byte    { return append([]byte(nil), r.seed...) }
func (r *Rand) Counter() uint64 { return r.counter.Load() }
