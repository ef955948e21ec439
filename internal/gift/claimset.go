package gift

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// claimShardsFor maps an envelope count to a claim-set shard count. Tuning
// constants, not correctness: more envelopes means more expected concurrent
// claimants, bounded so small gifts stay compact.
func claimShardsFor(envelopes uint64) int {
	switch {
	case envelopes <= 8:
		return 2
	case envelopes <= 64:
		return 4
	case envelopes <= 512:
		return 8
	default:
		return 16
	}
}

// claimBacking is the per-shard membership store. A single map implementation
// exists today; an ordered backing can replace it without touching call sites.
type claimBacking interface {
	contains(addr string) bool
	add(addr string) bool
	size() uint64
	members() []string
}

type mapBacking map[string]struct{}

func (m mapBacking) contains(addr string) bool {
	_, ok := m[addr]
	return ok
}

func (m mapBacking) add(addr string) bool {
	if _, ok := m[addr]; ok {
		return false
	}
	m[addr] = struct{}{}
	return true
}

func (m mapBacking) size() uint64 { return uint64(len(m)) }

func (m mapBacking) members() []string {
	out := make([]string, 0, len(m))
	for addr := range m {
		out = append(out, addr)
	}
	return out
}

type claimShard struct {
	mu  sync.Mutex
	set claimBacking
}

// ClaimSet records which addresses have already claimed, partitioned by
// fnv1a(addr) mod N so concurrent claimants mostly land on different shards.
type ClaimSet struct {
	shards []claimShard
}

func NewClaimSet(shardCount int) *ClaimSet {
	if shardCount < 1 {
		shardCount = 1
	}
	c := &ClaimSet{shards: make([]claimShard, shardCount)}
	for i := range c.shards {
		c.shards[i].set = mapBacking{}
	}
	return c
}

func (c *ClaimSet) shardFor(addr string) *claimShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(addr))
	return &c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Contains touches exactly one shard.
func (c *ClaimSet) Contains(addr string) bool {
	s := c.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return false
	}
	return s.set.contains(addr)
}

// Add records addr if absent and reports whether it was added. The shard
// lock makes this the authoritative double-claim check.
func (c *ClaimSet) Add(addr string) bool {
	s := c.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return false
	}
	return s.set.add(addr)
}

// Size sums every shard: O(shards). Cold paths only (refill sizing, reclaim
// checks), never the per-claim hot path.
func (c *ClaimSet) Size() uint64 {
	var total uint64
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		if s.set != nil {
			total += s.set.size()
		}
		s.mu.Unlock()
	}
	return total
}

func (c *ClaimSet) destroy() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.set = nil
		s.mu.Unlock()
	}
}

type claimSetJSON struct {
	Shards  int      `json:"shards"`
	Members []string `json:"members,omitempty"`
}

func (c *ClaimSet) MarshalJSON() ([]byte, error) {
	members := make([]string, 0)
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		if s.set != nil {
			members = append(members, s.set.members()...)
		}
		s.mu.Unlock()
	}
	sort.Strings(members)
	return json.Marshal(claimSetJSON{Shards: len(c.shards), Members: members})
}

func (c *ClaimSet) UnmarshalJSON(b []byte) error {
	var v claimSetJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode claim set: %w", err)
	}
	rebuilt := NewClaimSet(v.Shards)
	for _, addr := range v.Members {
		rebuilt.Add(addr)
	}
	*c = *rebuilt
	return nil
}
