package gift

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	errorsmod "cosmossdk.io/errors"
)

const defaultSplitBatch = 16

// Limits bound gift creation. The zero value is not usable; start from
// DefaultLimits.
type Limits struct {
	MaxEnvelopes    uint64
	MinExpirySecs   uint64
	MaxExpirySecs   uint64
	MaxMessageBytes int
	SplitBatch      int
}

func DefaultLimits() Limits {
	return Limits{
		MaxEnvelopes:    1000,
		MinExpirySecs:   1,
		MaxExpirySecs:   30 * 24 * 60 * 60,
		MaxMessageBytes: 512,
		SplitBatch:      defaultSplitBatch,
	}
}

// CreateSpec describes one gift at creation time.
type CreateSpec struct {
	ID            uint64
	Owner         string
	Denom         string
	Amount        uint64
	Envelopes     uint64
	ExpiresUnix   int64
	Message       string
	AuthPublicKey []byte
	KeylessOnly   bool

	// Seed feeds the gift's deterministic randomness stream.
	Seed []byte
}

// ClaimAuth carries the optional gate material for one claim.
type ClaimAuth struct {
	Signature  []byte // paylink gate: ed25519 over ClaimSignBytes
	PublicKey  []byte // keyless gate: key whose commitment must match Credential
	Credential []byte // claimant's on-record credential commitment
}

// ClaimResult reports one successful claim with post-decrement counter
// snapshots.
type ClaimResult struct {
	Amount             uint64
	RemainingEnvelopes uint64
	RemainingValue     uint64
}

// Gift is one pooled-value distribution round. The scalar fields are
// immutable after New; the counters and shard structures are safe for
// concurrent claimants. Reclaim is terminal and must not race in-flight
// claims (the chain app serializes txs; library embedders must quiesce
// claims before reclaiming).
type Gift struct {
	ID            uint64
	Owner         string
	Denom         string
	Deposit       uint64
	Envelopes     uint64
	ExpiresUnix   int64
	Message       string
	AuthPublicKey []byte
	KeylessOnly   bool

	splitBatch   int
	remEnvelopes *Counter
	remValue     *Counter
	claims       *ClaimSet
	pool         *SplitPool
	rng          *Rand
	refillMu     sync.Mutex
	closed       atomic.Bool
}

// New validates spec against lim and builds the gift. The deposit itself is
// the caller's concern; on success the counters hold (Envelopes, Amount).
func New(spec CreateSpec, nowUnix int64, lim Limits) (*Gift, error) {
	if spec.Amount == 0 {
		return nil, ErrZeroValue
	}
	if spec.Envelopes == 0 {
		return nil, ErrNoEnvelopes
	}
	if spec.Envelopes > lim.MaxEnvelopes {
		return nil, errorsmod.Wrapf(ErrTooManyEnvelopes, "got %d max %d", spec.Envelopes, lim.MaxEnvelopes)
	}
	if spec.Amount < spec.Envelopes {
		return nil, errorsmod.Wrapf(ErrValueBelowEnvelopes, "value %d envelopes %d", spec.Amount, spec.Envelopes)
	}
	minExpiry, err := addInt64AndU64Checked(nowUnix, lim.MinExpirySecs, "min expiration")
	if err != nil {
		return nil, err
	}
	if spec.ExpiresUnix < minExpiry {
		return nil, errorsmod.Wrapf(ErrExpirationPast, "expiresAt %d now %d", spec.ExpiresUnix, nowUnix)
	}
	maxExpiry, err := addInt64AndU64Checked(nowUnix, lim.MaxExpirySecs, "max expiration")
	if err != nil {
		return nil, err
	}
	if spec.ExpiresUnix > maxExpiry {
		return nil, errorsmod.Wrapf(ErrExpirationTooFar, "expiresAt %d limit %d", spec.ExpiresUnix, maxExpiry)
	}
	if spec.Message == "" {
		return nil, ErrMessageEmpty
	}
	if lim.MaxMessageBytes > 0 && len(spec.Message) > lim.MaxMessageBytes {
		return nil, errorsmod.Wrapf(ErrMessageTooLong, "got %d max %d", len(spec.Message), lim.MaxMessageBytes)
	}
	if len(spec.AuthPublicKey) != 0 && len(spec.AuthPublicKey) != ed25519.PublicKeySize {
		return nil, errorsmod.Wrapf(ErrBadAuthKey, "got %d bytes", len(spec.AuthPublicKey))
	}

	batch := lim.SplitBatch
	if batch < 1 {
		batch = defaultSplitBatch
	}
	seed := spec.Seed
	if len(seed) == 0 {
		seed = []byte(fmt.Sprintf("%d|%s", spec.ID, spec.Owner))
	}
	g := &Gift{
		ID:            spec.ID,
		Owner:         spec.Owner,
		Denom:         spec.Denom,
		Deposit:       spec.Amount,
		Envelopes:     spec.Envelopes,
		ExpiresUnix:   spec.ExpiresUnix,
		Message:       spec.Message,
		AuthPublicKey: append([]byte(nil), spec.AuthPublicKey...),
		KeylessOnly:   spec.KeylessOnly,
		splitBatch:    batch,
		remEnvelopes:  NewCounter(spec.Envelopes),
		remValue:      NewCounter(spec.Amount),
		claims:        NewClaimSet(claimShardsFor(spec.Envelopes)),
		pool:          NewSplitPool(poolShardsFor(spec.Envelopes)),
		rng:           NewRand(seed),
	}
	return g, nil
}

// Claim awards one envelope to claimant. Every failure is an atomic abort:
// any counter already decremented is re-incremented and any popped pool
// amount pushed back, so the caller observes either full effect or none.
func (g *Gift) Claim(claimant string, nowUnix int64, auth ClaimAuth) (ClaimResult, error) {
	var res ClaimResult
	if g.closed.Load() {
		return res, ErrReclaimed
	}
	if claimant == g.Owner {
		return res, ErrSelfClaim
	}
	if nowUnix >= g.ExpiresUnix {
		return res, ErrExpired
	}
	if err := g.authorize(claimant, auth); err != nil {
		return res, err
	}
	if g.claims.Contains(claimant) {
		return res, errorsmod.Wrapf(ErrAlreadyClaimed, "%s", claimant)
	}

	remEnv, ok := g.remEnvelopes.TryDecrement(1)
	if !ok {
		return res, ErrExhausted
	}
	last := remEnv == 0

	var amount uint64
	fromShard := -1
	if last {
		// The terminal claim hands out the exact dregs, not an estimate.
		amount = g.remValue.Materialize()
	} else {
		amount, fromShard = g.nextSplit()
	}
	if amount == 0 {
		g.remEnvelopes.Add(1)
		return res, ErrExhausted
	}

	remVal, ok := g.remValue.TryDecrement(amount)
	if !ok {
		if fromShard >= 0 {
			g.pool.Push(fromShard, amount)
		}
		g.remEnvelopes.Add(1)
		return res, errorsmod.Wrapf(ErrContention, "amount %d exceeds remaining value", amount)
	}

	if !g.claims.Add(claimant) {
		// Lost the race to a concurrent claim from the same address.
		g.remValue.Add(amount)
		if fromShard >= 0 {
			g.pool.Push(fromShard, amount)
		}
		g.remEnvelopes.Add(1)
		return res, errorsmod.Wrapf(ErrAlreadyClaimed, "%s", claimant)
	}

	res.Amount = amount
	res.RemainingEnvelopes = remEnv
	res.RemainingValue = remVal
	return res, nil
}

// nextSplit returns the claim amount and, when it came from the pool, the
// shard it was popped from (-1 for freshly generated) so aborts can push it
// back. An empty pool triggers a refill: one serializing read of the exact
// remaining value and count, amortized over the whole generated batch.
func (g *Gift) nextSplit() (uint64, int) {
	if a, shard, ok := g.pool.Pop(g.rng.Uint64()); ok {
		return a, shard
	}

	g.refillMu.Lock()
	defer g.refillMu.Unlock()

	// Another refill may have landed while waiting on the lock.
	if a, shard, ok := g.pool.Pop(g.rng.Uint64()); ok {
		return a, shard
	}

	remaining := g.remValue.Materialize()
	claimed := g.claims.Size()
	if claimed >= g.Envelopes || remaining == 0 {
		return 0, -1
	}
	count := g.Envelopes - claimed
	// Claims between their value decrement and their claim-set add are
	// invisible to Size(); cap the batch at what remaining can fund.
	if count > remaining {
		count = remaining
	}
	b := count
	if b > uint64(g.splitBatch) {
		b = uint64(g.splitBatch)
	}
	amounts := splitAmounts(remaining, count, int(b), g.rng)
	if len(amounts) == 0 {
		return 0, -1
	}
	if rest := amounts[1:]; len(rest) > 0 {
		g.pool.Distribute(g.rng.Uint64(), rest)
	}
	return amounts[0], -1
}

// Reclaim drains the remaining value back to the caller (the chain layer
// credits the owner) and destroys the gift. Permitted for the owner at any
// time, and for anyone once the gift has expired or been exhausted.
func (g *Gift) Reclaim(caller string, nowUnix int64) (uint64, error) {
	if g.closed.Load() {
		return 0, ErrReclaimed
	}
	if caller != g.Owner && nowUnix < g.ExpiresUnix && g.remEnvelopes.IsAtLeast(1) {
		return 0, ErrNotReclaimable
	}
	if !g.closed.CompareAndSwap(false, true) {
		return 0, ErrReclaimed
	}

	var drained uint64
	for {
		remaining := g.remValue.Materialize()
		if remaining == 0 {
			break
		}
		if _, ok := g.remValue.TryDecrement(remaining); ok {
			drained += remaining
		}
	}
	if err := g.Close(); err != nil {
		return drained, err
	}
	return drained, nil
}

// Close asserts the zero-balance invariant and tears down the shard
// structures. Reclaim calls it after draining; it is idempotent.
func (g *Gift) Close() error {
	if v := g.remValue.Materialize(); v != 0 {
		return errorsmod.Wrapf(ErrBalanceRemaining, "remaining value %d", v)
	}
	g.closed.Store(true)
	g.claims.destroy()
	g.pool.destroy()
	return nil
}

// ---- Read model ----

// Summary is the query view of one gift.
type Summary struct {
	ID                 uint64 `json:"id"`
	Owner              string `json:"owner"`
	Denom              string `json:"denom"`
	Deposit            uint64 `json:"deposit"`
	Envelopes          uint64 `json:"envelopes"`
	ExpiresUnix        int64  `json:"expiresAt"`
	Message            string `json:"message"`
	Paylink            bool   `json:"paylink"`
	KeylessOnly        bool   `json:"keylessOnly"`
	RemainingEnvelopes uint64 `json:"remainingEnvelopes"`
	RemainingValue     uint64 `json:"remainingValue"`
	Claimed            uint64 `json:"claimed"`
}

func (g *Gift) Summary() Summary {
	return Summary{
		ID:                 g.ID,
		Owner:              g.Owner,
		Denom:              g.Denom,
		Deposit:            g.Deposit,
		Envelopes:          g.Envelopes,
		ExpiresUnix:        g.ExpiresUnix,
		Message:            g.Message,
		Paylink:            len(g.AuthPublicKey) != 0,
		KeylessOnly:        g.KeylessOnly,
		RemainingEnvelopes: g.remEnvelopes.Materialize(),
		RemainingValue:     g.remValue.Materialize(),
		Claimed:            g.claims.Size(),
	}
}

// RemainingValue exposes the exact remaining store balance (cold path).
func (g *Gift) RemainingValue() uint64 { return g.remValue.Materialize() }

// RemainingEnvelopes exposes the exact remaining envelope count (cold path).
func (g *Gift) RemainingEnvelopes() uint64 { return g.remEnvelopes.Materialize() }

// Claimed reports how many addresses have claimed so far (cold path).
func (g *Gift) Claimed() uint64 { return g.claims.Size() }

// HasClaimed reports whether addr already claimed.
func (g *Gift) HasClaimed(addr string) bool { return g.claims.Contains(addr) }

// ---- Persistence ----

type giftJSON struct {
	ID                 uint64     `json:"id"`
	Owner              string     `json:"owner"`
	Denom              string     `json:"denom,omitempty"`
	Deposit            uint64     `json:"deposit"`
	Envelopes          uint64     `json:"envelopes"`
	ExpiresUnix        int64      `json:"expiresAt"`
	Message            string     `json:"message"`
	AuthPublicKey      []byte     `json:"authPubKey,omitempty"`
	KeylessOnly        bool       `json:"keylessOnly,omitempty"`
	SplitBatch         int        `json:"splitBatch"`
	RemainingEnvelopes *Counter   `json:"remainingEnvelopes"`
	RemainingValue     *Counter   `json:"remainingValue"`
	Claims             *ClaimSet  `json:"claims"`
	Pool               *SplitPool `json:"pool"`
	RngSeed            []byte     `json:"rngSeed"`
	RngCounter         uint64     `json:"rngCounter"`
}

func (g *Gift) MarshalJSON() ([]byte, error) {
	return json.Marshal(giftJSON{
		ID:                 g.ID,
		Owner:              g.Owner,
		Denom:              g.Denom,
		Deposit:            g.Deposit,
		Envelopes:          g.Envelopes,
		ExpiresUnix:        g.ExpiresUnix,
		Message:            g.Message,
		AuthPublicKey:      g.AuthPublicKey,
		KeylessOnly:        g.KeylessOnly,
		SplitBatch:         g.splitBatch,
		RemainingEnvelopes: g.remEnvelopes,
		RemainingValue:     g.remValue,
		Claims:             g.claims,
		Pool:               g.pool,
		RngSeed:            g.rng.Seed(),
		RngCounter:         g.rng.Counter(),
	})
}

func (g *Gift) UnmarshalJSON(b []byte) error {
	var v giftJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode gift: %w", err)
	}
	g.ID = v.ID
	g.Owner = v.Owner
	g.Denom = v.Denom
	g.Deposit = v.Deposit
	g.Envelopes = v.Envelopes
	g.ExpiresUnix = v.ExpiresUnix
	g.Message = v.Message
	g.AuthPublicKey = v.AuthPublicKey
	g.KeylessOnly = v.KeylessOnly
	g.splitBatch = v.SplitBatch
	if g.splitBatch < 1 {
		g.splitBatch = defaultSplitBatch
	}
	g.remEnvelopes = v.RemainingEnvelopes
	if g.remEnvelopes == nil {
		g.remEnvelopes = NewCounter(0)
	}
	g.remValue = v.RemainingValue
	if g.remValue == nil {
		g.remValue = NewCounter(0)
	}
	g.claims = v.Claims
	if g.claims == nil {
		g.claims = NewClaimSet(claimShardsFor(v.Envelopes))
	}
	g.pool = v.Pool
	if g.pool == nil {
		g.pool = NewSplitPool(poolShardsFor(v.Envelopes))
	}
	g.rng = RestoreRand(v.RngSeed, v.RngCounter)
	return nil
}
