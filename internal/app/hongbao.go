package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"hongbaochain/internal/codec"
	"hongbaochain/internal/gift"
	"hongbaochain/internal/state"
)

func hongbaoCreateGift(st *state.State, msg codec.HongbaoCreateGiftTx, height, nowUnix int64) (*abci.ExecTxResult, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	if st.Config.Paused {
		return nil, gift.ErrPaused
	}
	if msg.Owner == "" {
		return nil, fmt.Errorf("missing owner")
	}

	// Validate before money moves: a rejected spec must leave the owner's
	// balance and the id sequence untouched.
	id := st.NextGiftID
	if id == ^uint64(0) {
		return nil, fmt.Errorf("gift id space exhausted")
	}
	g, err := gift.New(gift.CreateSpec{
		ID:            id,
		Owner:         msg.Owner,
		Denom:         st.Params.Denom,
		Amount:        msg.Amount,
		Envelopes:     msg.Envelopes,
		ExpiresUnix:   msg.ExpiresAt,
		Message:       msg.Message,
		AuthPublicKey: msg.AuthPubKey,
		KeylessOnly:   msg.KeylessOnly,
		Seed:          []byte(fmt.Sprintf("%d|%d|%s", height, id, msg.Owner)),
	}, nowUnix, st.Params.Limits())
	if err != nil {
		return nil, err
	}
	if err := st.Debit(msg.Owner, msg.Amount); err != nil {
		return nil, err
	}
	st.NextGiftID = id + 1
	st.Gifts[id] = g

	return okEvent("GiftCreated", map[string]string{
		"giftId":    fmt.Sprintf("%d", id),
		"creator":   msg.Owner,
		"amount":    fmt.Sprintf("%d", msg.Amount),
		"envelopes": fmt.Sprintf("%d", msg.Envelopes),
		"expiresAt": fmt.Sprintf("%d", msg.ExpiresAt),
		"denom":     st.Params.Denom,
		"message":   msg.Message,
	}), nil
}

func hongbaoClaimEnvelope(st *state.State, msg codec.HongbaoClaimEnvelopeTx, nowUnix int64) (*abci.ExecTxResult, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	if st.Config.Paused {
		return nil, gift.ErrPaused
	}
	if msg.Claimant == "" {
		return nil, fmt.Errorf("missing claimant")
	}
	g, ok := st.Gifts[msg.GiftID]
	if !ok {
		return nil, fmt.Errorf("unknown gift %d", msg.GiftID)
	}

	// Headroom check up front: the payout is at most RemainingValue, so a
	// claim that passes here can always be credited. Checking after the
	// engine claim would force an unwind of an already-consumed envelope.
	if bal := st.Balance(msg.Claimant); bal > ^uint64(0)-g.RemainingValue() {
		return nil, fmt.Errorf("balance overflow: have=%d gift holds %d", bal, g.RemainingValue())
	}

	res, err := g.Claim(msg.Claimant, nowUnix, gift.ClaimAuth{
		Signature:  msg.ClaimSig,
		PublicKey:  msg.ClaimPubKey,
		Credential: st.Credentials[msg.Claimant],
	})
	if err != nil {
		return nil, err
	}
	if err := st.Credit(msg.Claimant, res.Amount); err != nil {
		return nil, err
	}

	return okEvent("EnvelopeClaimed", map[string]string{
		"giftId":             fmt.Sprintf("%d", msg.GiftID),
		"recipient":          msg.Claimant,
		"amount":             fmt.Sprintf("%d", res.Amount),
		"remainingEnvelopes": fmt.Sprintf("%d", res.RemainingEnvelopes),
		"remainingValue":     fmt.Sprintf("%d", res.RemainingValue),
	}), nil
}

func hongbaoReclaimGift(st *state.State, msg codec.HongbaoReclaimGiftTx, nowUnix int64) (*abci.ExecTxResult, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	// No pause gate here: reclaim is the exit path and stays open.
	if msg.Caller == "" {
		return nil, fmt.Errorf("missing caller")
	}
	g, ok := st.Gifts[msg.GiftID]
	if !ok {
		return nil, fmt.Errorf("unknown gift %d", msg.GiftID)
	}
	if bal := st.Balance(g.Owner); bal > ^uint64(0)-g.RemainingValue() {
		return nil, fmt.Errorf("balance overflow: have=%d gift holds %d", bal, g.RemainingValue())
	}

	amount, err := g.Reclaim(msg.Caller, nowUnix)
	if err != nil {
		return nil, err
	}
	// Residue always returns to the creator, whoever triggered the sweep.
	if amount > 0 {
		if err := st.Credit(g.Owner, amount); err != nil {
			return nil, err
		}
	}
	delete(st.Gifts, msg.GiftID)

	return okEvent("GiftReclaimed", map[string]string{
		"giftId":  fmt.Sprintf("%d", msg.GiftID),
		"creator": g.Owner,
		"amount":  fmt.Sprintf("%d", amount),
	}), nil
}

func adminSetPaused(st *state.State, msg codec.AdminSetPausedTx) (*abci.ExecTxResult, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	st.Config.Paused = msg.Paused
	return okEvent("PauseSet", map[string]string{
		"paused": fmt.Sprintf("%t", msg.Paused),
	}), nil
}
