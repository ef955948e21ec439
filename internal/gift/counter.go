package gift

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Counter is a commutative u64 accumulator safe for concurrent use. Claims
// only apply decrements and threshold tests, so independent claimants never
// need an exact read of the hot value; Materialize is the one serializing
// read and is reserved for the terminal claim, refill sizing, and reclaim.
type Counter struct {
	v atomic.Uint64
}

func NewCounter(v uint64) *Counter {
	c := &Counter{}
	c.v.Store(v)
	return c
}

// TryDecrement subtracts n unless that would drive the value below zero.
// On success it returns the post-decrement value; on failure the caller must
// abort its whole operation.
func (c *Counter) TryDecrement(n uint64) (uint64, bool) {
	for {
		cur := c.v.Load()
		if cur < n {
			return cur, false
		}
		if c.v.CompareAndSwap(cur, cur-n) {
			return cur - n, true
		}
	}
}

// Add applies a commutative increment and returns the new value. Used at
// initialization and to unwind an aborted claim.
func (c *Counter) Add(n uint64) uint64 {
	return c.v.Add(n)
}

// IsAtLeast reports whether the value is at least n.
func (c *Counter) IsAtLeast(n uint64) bool {
	return c.v.Load() >= n
}

// Materialize returns the exact value. Keep it off the per-claim hot path.
func (c *Counter) Materialize() uint64 {
	return c.v.Load()
}

func (c *Counter) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.v.Load())
}

func (c *Counter) UnmarshalJSON(b []byte) error {
	var v uint64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode counter: %w", err)
	}
	c.v.Store(v)
	return nil
}
