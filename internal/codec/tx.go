package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the v0 transaction container.
//
// CometBFT transactions are opaque bytes. For v0 localnet we use JSON-encoded
// txs to move fast; this is NOT the final protocol encoding.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// v0 tx auth (optional):
	// - Nonce: included in the signed message for replay protection (must increase per signer).
	// - Signer: logical signer id (account address).
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth (v0) ----

// v0: account pubkey registration for tx authentication. Keyless additionally
// stores the commitment of PubKey as the account's claim credential.
type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
	Keyless bool   `json:"keyless,omitempty"`
}

// ---- Hongbao ----

type HongbaoCreateGiftTx struct {
	Owner     string `json:"owner"`
	Amount    uint64 `json:"amount"`
	Envelopes uint64 `json:"envelopes"`
	ExpiresAt int64  `json:"expiresAt"` // unix seconds
	Message   string `json:"message"`

	// Optional claim gates.
	AuthPubKey  []byte `json:"authPubKey,omitempty"` // base64 (32 bytes); paylink signature gate
	KeylessOnly bool   `json:"keylessOnly,omitempty"`
}

type HongbaoClaimEnvelopeTx struct {
	GiftID   uint64 `json:"giftId"`
	Claimant string `json:"claimant"`

	// Gate material, required per the gift's configuration.
	ClaimSig    []byte `json:"claimSig,omitempty"`    // base64 (64 bytes); paylink grant
	ClaimPubKey []byte `json:"claimPubKey,omitempty"` // base64; key behind the claimant's credential
}

type HongbaoReclaimGiftTx struct {
	GiftID uint64 `json:"giftId"`
	Caller string `json:"caller"`
}

// ---- Admin (v0) ----

type AdminSetPausedTx struct {
	Paused bool `json:"paused"`
}
