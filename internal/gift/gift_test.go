package gift

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testNow int64 = 1_700_000_000

func newTestGift(t *testing.T, amount, envelopes uint64) *Gift {
	t.Helper()
	g, err := New(CreateSpec{
		ID:          1,
		Owner:       "owner",
		Denom:       "coin",
		Amount:      amount,
		Envelopes:   envelopes,
		ExpiresUnix: testNow + 3600,
		Message:     "happy new year",
		Seed:        []byte("test-seed"),
	}, testNow, DefaultLimits())
	require.NoError(t, err)
	return g
}

func testKeypair(t *testing.T, fill byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(bytes.NewReader(bytes.Repeat([]byte{fill}, ed25519.SeedSize)))
	require.NoError(t, err)
	return pub, priv
}

func TestNew_Validation(t *testing.T) {
	lim := DefaultLimits()
	base := CreateSpec{
		ID:          1,
		Owner:       "owner",
		Denom:       "coin",
		Amount:      1000,
		Envelopes:   10,
		ExpiresUnix: testNow + 3600,
		Message:     "gong xi fa cai",
	}

	cases := []struct {
		name    string
		mutate  func(*CreateSpec)
		wantErr error
	}{
		{"zero value", func(s *CreateSpec) { s.Amount = 0 }, ErrZeroValue},
		{"zero envelopes", func(s *CreateSpec) { s.Envelopes = 0 }, ErrNoEnvelopes},
		{"too many envelopes", func(s *CreateSpec) { s.Envelopes = lim.MaxEnvelopes + 1; s.Amount = 2 * lim.MaxEnvelopes }, ErrTooManyEnvelopes},
		{"value below envelopes", func(s *CreateSpec) { s.Amount = 9 }, ErrValueBelowEnvelopes},
		{"expiration now", func(s *CreateSpec) { s.ExpiresUnix = testNow }, ErrExpirationPast},
		{"expiration past", func(s *CreateSpec) { s.ExpiresUnix = testNow - 10 }, ErrExpirationPast},
		{"expiration too far", func(s *CreateSpec) { s.ExpiresUnix = testNow + int64(lim.MaxExpirySecs) + 1 }, ErrExpirationTooFar},
		{"empty message", func(s *CreateSpec) { s.Message = "" }, ErrMessageEmpty},
		{"message too long", func(s *CreateSpec) { s.Message = strings.Repeat("x", lim.MaxMessageBytes+1) }, ErrMessageTooLong},
		{"bad auth key length", func(s *CreateSpec) { s.AuthPublicKey = []byte{1, 2, 3} }, ErrBadAuthKey},
	}
	for _, tc := range cases {
		spec := base
		tc.mutate(&spec)
		_, err := New(spec, testNow, lim)
		require.ErrorIs(t, err, tc.wantErr, "case %q", tc.name)
	}

	g, err := New(base, testNow, lim)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), g.RemainingValue())
	require.Equal(t, uint64(10), g.RemainingEnvelopes())
}

func TestNew_DefaultSeedIsDeterministic(t *testing.T) {
	spec := CreateSpec{
		ID:          9,
		Owner:       "owner",
		Denom:       "coin",
		Amount:      1000,
		Envelopes:   10,
		ExpiresUnix: testNow + 3600,
		Message:     "hi",
	}
	g1, err := New(spec, testNow, DefaultLimits())
	require.NoError(t, err)
	g2, err := New(spec, testNow, DefaultLimits())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		addr := fmt.Sprintf("claimant-%d", i)
		r1, err := g1.Claim(addr, testNow, ClaimAuth{})
		require.NoError(t, err)
		r2, err := g2.Claim(addr, testNow, ClaimAuth{})
		require.NoError(t, err)
		require.Equal(t, r1.Amount, r2.Amount, "claim %d", i)
	}
}

func TestClaim_SequentialConservation(t *testing.T) {
	const (
		deposit   = uint64(1000)
		envelopes = uint64(10)
	)
	g := newTestGift(t, deposit, envelopes)

	var sum uint64
	for i := uint64(0); i < envelopes; i++ {
		remValue := g.RemainingValue()
		remEnv := g.RemainingEnvelopes()

		res, err := g.Claim(fmt.Sprintf("claimant-%d", i), testNow, ClaimAuth{})
		require.NoError(t, err)
		require.GreaterOrEqual(t, res.Amount, uint64(1))
		// Every outstanding envelope keeps a floor of one unit.
		require.LessOrEqual(t, res.Amount, remValue-(remEnv-1))
		require.Equal(t, remEnv-1, res.RemainingEnvelopes)
		require.Equal(t, remValue-res.Amount, res.RemainingValue)
		sum += res.Amount
	}

	require.Equal(t, deposit, sum)
	require.Zero(t, g.RemainingValue())
	require.Zero(t, g.RemainingEnvelopes())
	require.Equal(t, envelopes, g.Claimed())

	_, err := g.Claim("late", testNow, ClaimAuth{})
	require.ErrorIs(t, err, ErrExhausted)
}

func TestClaim_ValueEqualsEnvelopes(t *testing.T) {
	g := newTestGift(t, 10, 10)
	for i := 0; i < 10; i++ {
		res, err := g.Claim(fmt.Sprintf("claimant-%d", i), testNow, ClaimAuth{})
		require.NoError(t, err)
		require.Equal(t, uint64(1), res.Amount)
	}
	require.Zero(t, g.RemainingValue())
}

func TestClaim_LastEnvelopeTakesRemainder(t *testing.T) {
	g := newTestGift(t, 100, 3)

	r1, err := g.Claim("a", testNow, ClaimAuth{})
	require.NoError(t, err)
	r2, err := g.Claim("b", testNow, ClaimAuth{})
	require.NoError(t, err)

	rem := g.RemainingValue()
	require.Equal(t, uint64(100)-r1.Amount-r2.Amount, rem)

	r3, err := g.Claim("c", testNow, ClaimAuth{})
	require.NoError(t, err)
	require.Equal(t, rem, r3.Amount)
	require.Zero(t, r3.RemainingValue)
	require.Zero(t, r3.RemainingEnvelopes)
}

func TestClaim_SelfClaimRejected(t *testing.T) {
	g := newTestGift(t, 100, 5)
	_, err := g.Claim("owner", testNow, ClaimAuth{})
	require.ErrorIs(t, err, ErrSelfClaim)
}

func TestClaim_DoubleClaimRejected(t *testing.T) {
	g := newTestGift(t, 100, 5)

	res, err := g.Claim("alice", testNow, ClaimAuth{})
	require.NoError(t, err)
	require.True(t, g.HasClaimed("alice"))

	_, err = g.Claim("alice", testNow, ClaimAuth{})
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	// The rejection must not burn an envelope or any value.
	require.Equal(t, uint64(4), g.RemainingEnvelopes())
	require.Equal(t, uint64(100)-res.Amount, g.RemainingValue())
	require.Equal(t, uint64(1), g.Claimed())
}

func TestClaim_Expiry(t *testing.T) {
	g := newTestGift(t, 100, 5)

	_, err := g.Claim("alice", g.ExpiresUnix, ClaimAuth{})
	require.ErrorIs(t, err, ErrExpired)
	_, err = g.Claim("alice", g.ExpiresUnix+100, ClaimAuth{})
	require.ErrorIs(t, err, ErrExpired)

	// One second before the deadline still pays out.
	res, err := g.Claim("alice", g.ExpiresUnix-1, ClaimAuth{})
	require.NoError(t, err)
	require.NotZero(t, res.Amount)
}

func TestClaim_PaylinkGate(t *testing.T) {
	pub, priv := testKeypair(t, 9)

	g, err := New(CreateSpec{
		ID:            3,
		Owner:         "owner",
		Denom:         "coin",
		Amount:        100,
		Envelopes:     5,
		ExpiresUnix:   testNow + 3600,
		Message:       "invite only",
		AuthPublicKey: pub,
		Seed:          []byte("gate-seed"),
	}, testNow, DefaultLimits())
	require.NoError(t, err)

	_, err = g.Claim("alice", testNow, ClaimAuth{})
	require.ErrorIs(t, err, ErrInvalidSignature)

	// A grant for bob does not open the gate for alice.
	bobSig := ed25519.Sign(priv, ClaimSignBytes(g.ID, "bob"))
	_, err = g.Claim("alice", testNow, ClaimAuth{Signature: bobSig})
	require.ErrorIs(t, err, ErrInvalidSignature)

	// Gate rejections leave the counters untouched.
	require.Equal(t, uint64(100), g.RemainingValue())
	require.Equal(t, uint64(5), g.RemainingEnvelopes())

	sig := ed25519.Sign(priv, ClaimSignBytes(g.ID, "alice"))
	res, err := g.Claim("alice", testNow, ClaimAuth{Signature: sig})
	require.NoError(t, err)
	require.NotZero(t, res.Amount)
}

func TestClaim_KeylessGate(t *testing.T) {
	g, err := New(CreateSpec{
		ID:          4,
		Owner:       "owner",
		Denom:       "coin",
		Amount:      100,
		Envelopes:   5,
		ExpiresUnix: testNow + 3600,
		Message:     "verified accounts only",
		KeylessOnly: true,
		Seed:        []byte("keyless-seed"),
	}, testNow, DefaultLimits())
	require.NoError(t, err)

	key := bytes.Repeat([]byte{0xAB}, 32)

	_, err = g.Claim("alice", testNow, ClaimAuth{})
	require.ErrorIs(t, err, ErrInvalidCredential)

	_, err = g.Claim("alice", testNow, ClaimAuth{PublicKey: key, Credential: KeylessCommitment([]byte("other"))})
	require.ErrorIs(t, err, ErrInvalidCredential)

	res, err := g.Claim("alice", testNow, ClaimAuth{PublicKey: key, Credential: KeylessCommitment(key)})
	require.NoError(t, err)
	require.NotZero(t, res.Amount)
}

func TestClaim_BothGates(t *testing.T) {
	pub, priv := testKeypair(t, 4)

	g, err := New(CreateSpec{
		ID:            5,
		Owner:         "owner",
		Denom:         "coin",
		Amount:        100,
		Envelopes:     5,
		ExpiresUnix:   testNow + 3600,
		Message:       "double locked",
		AuthPublicKey: pub,
		KeylessOnly:   true,
		Seed:          []byte("both-seed"),
	}, testNow, DefaultLimits())
	require.NoError(t, err)

	sig := ed25519.Sign(priv, ClaimSignBytes(g.ID, "alice"))
	key := bytes.Repeat([]byte{0xCD}, 32)

	_, err = g.Claim("alice", testNow, ClaimAuth{Signature: sig})
	require.ErrorIs(t, err, ErrInvalidCredential)

	_, err = g.Claim("alice", testNow, ClaimAuth{PublicKey: key, Credential: KeylessCommitment(key)})
	require.ErrorIs(t, err, ErrInvalidSignature)

	res, err := g.Claim("alice", testNow, ClaimAuth{
		Signature:  sig,
		PublicKey:  key,
		Credential: KeylessCommitment(key),
	})
	require.NoError(t, err)
	require.NotZero(t, res.Amount)
}

func TestReclaim_OwnerAnytime(t *testing.T) {
	g := newTestGift(t, 1000, 10)

	var claimed uint64
	for i := 0; i < 4; i++ {
		res, err := g.Claim(fmt.Sprintf("claimant-%d", i), testNow, ClaimAuth{})
		require.NoError(t, err)
		claimed += res.Amount
	}

	drained, err := g.Reclaim("owner", testNow)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), claimed+drained)

	_, err = g.Claim("late", testNow, ClaimAuth{})
	require.ErrorIs(t, err, ErrReclaimed)

	_, err = g.Reclaim("owner", testNow)
	require.ErrorIs(t, err, ErrReclaimed)
}

func TestReclaim_NonOwnerRules(t *testing.T) {
	g := newTestGift(t, 1000, 10)

	_, err := g.Reclaim("stranger", testNow)
	require.ErrorIs(t, err, ErrNotReclaimable)

	// Expiry opens reclaim to anyone.
	drained, err := g.Reclaim("stranger", g.ExpiresUnix)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), drained)
}

func TestReclaim_AfterExhaustion(t *testing.T) {
	g := newTestGift(t, 100, 5)
	for i := 0; i < 5; i++ {
		_, err := g.Claim(fmt.Sprintf("claimant-%d", i), testNow, ClaimAuth{})
		require.NoError(t, err)
	}

	drained, err := g.Reclaim("stranger", testNow)
	require.NoError(t, err)
	require.Zero(t, drained)
}

func TestClaim_ConcurrentConservation(t *testing.T) {
	const (
		deposit   = uint64(100_000)
		envelopes = uint64(200)
		claimants = 300
	)
	g := newTestGift(t, deposit, envelopes)

	amounts := make(chan uint64, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			for attempt := 0; attempt < 200; attempt++ {
				res, err := g.Claim(addr, testNow, ClaimAuth{})
				if err == nil {
					amounts <- res.Amount
					return
				}
				if errors.Is(err, ErrContention) {
					continue
				}
				if errors.Is(err, ErrExhausted) {
					return
				}
				t.Errorf("claim %s: %v", addr, err)
				return
			}
			t.Errorf("claim %s: still contended after retries", addr)
		}(fmt.Sprintf("claimant-%03d", i))
	}
	wg.Wait()
	close(amounts)

	var wins, sum uint64
	for a := range amounts {
		require.NotZero(t, a)
		sum += a
		wins++
	}
	require.NotZero(t, wins)
	require.LessOrEqual(t, wins, envelopes)
	require.Equal(t, wins, g.Claimed())
	require.Equal(t, envelopes-wins, g.RemainingEnvelopes())
	require.Equal(t, deposit-sum, g.RemainingValue())

	drained, err := g.Reclaim("owner", testNow)
	require.NoError(t, err)
	require.Equal(t, deposit, sum+drained)
}

func TestClaim_ConcurrentSameAddress(t *testing.T) {
	g := newTestGift(t, 100, 10)

	results := make(chan uint64, 32)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 50; attempt++ {
				res, err := g.Claim("mallory", testNow, ClaimAuth{})
				if err == nil {
					results <- res.Amount
					return
				}
				if errors.Is(err, ErrContention) {
					continue
				}
				if !errors.Is(err, ErrAlreadyClaimed) {
					t.Errorf("unexpected claim error: %v", err)
				}
				return
			}
		}()
	}
	wg.Wait()
	close(results)

	var amounts []uint64
	for a := range results {
		amounts = append(amounts, a)
	}
	require.Len(t, amounts, 1, "same address must win exactly once")
	require.True(t, g.HasClaimed("mallory"))
	require.Equal(t, uint64(1), g.Claimed())
	require.Equal(t, uint64(9), g.RemainingEnvelopes())
	require.Equal(t, uint64(100)-amounts[0], g.RemainingValue())
}

func TestClaim_RefillDuringInFlightClaims(t *testing.T) {
	const envelopes uint64 = 6
	for _, parked := range []uint64{1, 2, 3} {
		g := newTestGift(t, envelopes, envelopes)

		// Park claims in the window between the value decrement and the
		// claim-set add: both counters are down, Size() does not see them.
		for i := uint64(0); i < parked; i++ {
			_, ok := g.remEnvelopes.TryDecrement(1)
			require.True(t, ok)
			_, ok = g.remValue.TryDecrement(1)
			require.True(t, ok)
		}

		// The refill under this skew must size its batch by the remaining
		// value, so every live claim still pays out the unit floor.
		live := envelopes - parked
		for i := uint64(0); i < live; i++ {
			addr := fmt.Sprintf("live-%d", i)
			res, err := g.Claim(addr, testNow, ClaimAuth{})
			require.NoError(t, err, "parked=%d claim %s", parked, addr)
			require.Equal(t, uint64(1), res.Amount, "parked=%d claim %s", parked, addr)
		}

		// The parked claims land.
		for i := uint64(0); i < parked; i++ {
			require.True(t, g.claims.Add(fmt.Sprintf("parked-%d", i)))
		}

		require.Zero(t, g.RemainingValue(), "parked=%d", parked)
		require.Zero(t, g.RemainingEnvelopes(), "parked=%d", parked)
		require.Equal(t, envelopes, g.Claimed(), "parked=%d", parked)
	}
}

func TestGift_JSONRoundTrip_ResumesStream(t *testing.T) {
	spec := CreateSpec{
		ID:          6,
		Owner:       "owner",
		Denom:       "coin",
		Amount:      5000,
		Envelopes:   10,
		ExpiresUnix: testNow + 3600,
		Message:     "resume me",
		Seed:        []byte("stream-seed"),
	}
	g1, err := New(spec, testNow, DefaultLimits())
	require.NoError(t, err)
	g2, err := New(spec, testNow, DefaultLimits())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		addr := fmt.Sprintf("claimant-%d", i)
		r1, err := g1.Claim(addr, testNow, ClaimAuth{})
		require.NoError(t, err)
		r2, err := g2.Claim(addr, testNow, ClaimAuth{})
		require.NoError(t, err)
		require.Equal(t, r2.Amount, r1.Amount)
	}

	raw, err := json.Marshal(g1)
	require.NoError(t, err)
	var restored Gift
	require.NoError(t, json.Unmarshal(raw, &restored))

	// The restored gift pays out the same trajectory as the uninterrupted one.
	for i := 3; i < 10; i++ {
		addr := fmt.Sprintf("claimant-%d", i)
		rr, err := restored.Claim(addr, testNow, ClaimAuth{})
		require.NoError(t, err)
		r2, err := g2.Claim(addr, testNow, ClaimAuth{})
		require.NoError(t, err)
		require.Equal(t, r2.Amount, rr.Amount, "claim %d diverged after restore", i)
	}
	require.Zero(t, restored.RemainingValue())
	require.Zero(t, g2.RemainingValue())
}

func TestGift_JSONRoundTrip_PreservesClaimsAndGates(t *testing.T) {
	pub, priv := testKeypair(t, 3)

	g, err := New(CreateSpec{
		ID:            7,
		Owner:         "owner",
		Denom:         "coin",
		Amount:        500,
		Envelopes:     5,
		ExpiresUnix:   testNow + 3600,
		Message:       "locked",
		AuthPublicKey: pub,
		KeylessOnly:   true,
		Seed:          []byte("persist-seed"),
	}, testNow, DefaultLimits())
	require.NoError(t, err)

	key := bytes.Repeat([]byte{5}, 32)
	auth := ClaimAuth{
		Signature:  ed25519.Sign(priv, ClaimSignBytes(g.ID, "alice")),
		PublicKey:  key,
		Credential: KeylessCommitment(key),
	}
	res, err := g.Claim("alice", testNow, auth)
	require.NoError(t, err)

	raw, err := json.Marshal(g)
	require.NoError(t, err)
	var restored Gift
	require.NoError(t, json.Unmarshal(raw, &restored))

	require.Equal(t, g.ID, restored.ID)
	require.Equal(t, g.Deposit, restored.Deposit)
	require.Equal(t, uint64(500)-res.Amount, restored.RemainingValue())
	require.Equal(t, uint64(4), restored.RemainingEnvelopes())
	require.True(t, restored.HasClaimed("alice"))

	_, err = restored.Claim("alice", testNow, auth)
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	// Both gates survive the round trip.
	_, err = restored.Claim("bob", testNow, ClaimAuth{})
	require.ErrorIs(t, err, ErrInvalidSignature)
	bobSig := ed25519.Sign(priv, ClaimSignBytes(g.ID, "bob"))
	_, err = restored.Claim("bob", testNow, ClaimAuth{Signature: bobSig})
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestClose_GuardsRemainingBalance(t *testing.T) {
	g := newTestGift(t, 1000, 10)
	require.ErrorIs(t, g.Close(), ErrBalanceRemaining)

	// A refused close must not brick the gift.
	_, err := g.Claim("alice", testNow, ClaimAuth{})
	require.NoError(t, err)

	_, err = g.Reclaim("owner", testNow)
	require.NoError(t, err)
	require.NoError(t, g.Close())
}

func TestSummary(t *testing.T) {
	g := newTestGift(t, 500, 5)
	res, err := g.Claim("alice", testNow, ClaimAuth{})
	require.NoError(t, err)

	s := g.Summary()
	require.Equal(t, uint64(1), s.ID)
	require.Equal(t, "owner", s.Owner)
	require.Equal(t, "coin", s.Denom)
	require.Equal(t, uint64(500), s.Deposit)
	require.Equal(t, uint64(5), s.Envelopes)
	require.Equal(t, testNow+3600, s.ExpiresUnix)
	require.Equal(t, "happy new year", s.Message)
	require.False(t, s.Paylink)
	require.False(t, s.KeylessOnly)
	require.Equal(t, uint64(4), s.RemainingEnvelopes)
	require.Equal(t, uint64(500)-res.Amount, s.RemainingValue)
	require.Equal(t, uint64(1), s.Claimed)
}
