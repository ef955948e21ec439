package gift

import (
	"encoding/json"
	"fmt"
	"sync"
)

// poolShardsFor maps an envelope count to a split-pool shard count. Tuning
// constants bounded by expected concurrent claimants.
func poolShardsFor(envelopes uint64) int {
	switch {
	case envelopes <= 8:
		return 1
	case envelopes <= 64:
		return 2
	case envelopes <= 512:
		return 4
	default:
		return 8
	}
}

type poolShard struct {
	mu      sync.Mutex
	amounts []uint64 // LIFO
}

// SplitPool holds precomputed split amounts in M LIFO shards so the common
// claim path never reads the gift's hot counters.
type SplitPool struct {
	shards []poolShard
}

func NewSplitPool(shardCount int) *SplitPool {
	if shardCount < 1 {
		shardCount = 1
	}
	return &SplitPool{shards: make([]poolShard, shardCount)}
}

// Pop probes forward from start mod M and pops the first nonempty shard. The
// shard index comes back so an aborted claim can push its amount back.
func (p *SplitPool) Pop(start uint64) (amount uint64, shard int, ok bool) {
	m := len(p.shards)
	for i := 0; i < m; i++ {
		idx := int((start + uint64(i)) % uint64(m))
		s := &p.shards[idx]
		s.mu.Lock()
		if n := len(s.amounts); n > 0 {
			amount = s.amounts[n-1]
			s.amounts = s.amounts[:n-1]
			s.mu.Unlock()
			return amount, idx, true
		}
		s.mu.Unlock()
	}
	return 0, 0, false
}

// Push returns an amount to a shard.
func (p *SplitPool) Push(shard int, amount uint64) {
	s := &p.shards[shard]
	s.mu.Lock()
	s.amounts = append(s.amounts, amount)
	s.mu.Unlock()
}

// Distribute round-robins amounts across shards starting at start mod M.
func (p *SplitPool) Distribute(start uint64, amounts []uint64) {
	m := uint64(len(p.shards))
	for i, a := range amounts {
		p.Push(int((start+uint64(i))%m), a)
	}
}

func (p *SplitPool) destroy() {
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.Lock()
		s.amounts = nil
		s.mu.Unlock()
	}
}

type splitPoolJSON struct {
	Shards [][]uint64 `json:"shards"`
}

func (p *SplitPool) MarshalJSON() ([]byte, error) {
	out := splitPoolJSON{Shards: make([][]uint64, len(p.shards))}
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.Lock()
		out.Shards[i] = append([]uint64(nil), s.amounts...)
		s.mu.Unlock()
	}
	return json.Marshal(out)
}

func (p *SplitPool) UnmarshalJSON(b []byte) error {
	var v splitPoolJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode split pool: %w", err)
	}
	rebuilt := NewSplitPool(len(v.Shards))
	for i, amounts := range v.Shards {
		rebuilt.shards[i].amounts = append([]uint64(nil), amounts...)
	}
	*p = *rebuilt
	return nil
}
