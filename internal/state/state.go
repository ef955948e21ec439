package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"hongbaochain/internal/gift"
)

// Config is chain-level administration state.
type Config struct {
	Admin  string `json:"admin,omitempty"`  // address allowed to flip the pause switch
	Paused bool   `json:"paused,omitempty"` // gates create/claim; reclaim stays open
}

// Params bound gift creation chain-wide. Set at genesis.
type Params struct {
	Denom           string `json:"denom"`
	MaxEnvelopes    uint64 `json:"maxEnvelopes"`
	MinExpirySecs   uint64 `json:"minExpirySecs"`
	MaxExpirySecs   uint64 `json:"maxExpirySecs"`
	MaxMessageBytes uint64 `json:"maxMessageBytes"`
	SplitBatch      uint64 `json:"splitBatch"`
}

func DefaultParams() Params {
	lim := gift.DefaultLimits()
	return Params{
		Denom:           "hbc",
		MaxEnvelopes:    lim.MaxEnvelopes,
		MinExpirySecs:   lim.MinExpirySecs,
		MaxExpirySecs:   lim.MaxExpirySecs,
		MaxMessageBytes: uint64(lim.MaxMessageBytes),
		SplitBatch:      uint64(lim.SplitBatch),
	}
}

func (p Params) Validate() error {
	if p.Denom == "" {
		return fmt.Errorf("denom must be set")
	}
	if p.MaxEnvelopes == 0 {
		return fmt.Errorf("max_envelopes must be positive")
	}
	if p.MinExpirySecs == 0 {
		return fmt.Errorf("min_expiry_secs must be positive")
	}
	if p.MaxExpirySecs < p.MinExpirySecs {
		return fmt.Errorf("max_expiry_secs %d below min_expiry_secs %d", p.MaxExpirySecs, p.MinExpirySecs)
	}
	if p.MaxMessageBytes == 0 || p.MaxMessageBytes > 65536 {
		return fmt.Errorf("max_message_bytes %d outside [1, 65536]", p.MaxMessageBytes)
	}
	if p.SplitBatch == 0 || p.SplitBatch > 4096 {
		return fmt.Errorf("split_batch %d outside [1, 4096]", p.SplitBatch)
	}
	return nil
}

// Limits converts params into the engine's creation bounds.
func (p Params) Limits() gift.Limits {
	return gift.Limits{
		MaxEnvelopes:    p.MaxEnvelopes,
		MinExpirySecs:   p.MinExpirySecs,
		MaxExpirySecs:   p.MaxExpirySecs,
		MaxMessageBytes: int(p.MaxMessageBytes),
		SplitBatch:      int(p.SplitBatch),
	}
}

type State struct {
	Height int64 `json:"height"`

	NextGiftID  uint64                `json:"nextGiftId"`
	Accounts    map[string]uint64     `json:"accounts"`
	AccountKeys map[string][]byte     `json:"accountKeys,omitempty"` // addr -> ed25519 pubkey (32 bytes)
	Credentials map[string][]byte     `json:"credentials,omitempty"` // addr -> keyless credential commitment (32 bytes)
	NonceMax    map[string]uint64     `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce (u64), for replay protection
	Gifts       map[uint64]*gift.Gift `json:"gifts"`

	Config Config `json:"config"`
	Params Params `json:"params"`
}

func NewState() *State {
	return &State{
		Height:      0,
		NextGiftID:  1,
		Accounts:    map[string]uint64{},
		AccountKeys: map[string][]byte{},
		Credentials: map[string][]byte{},
		NonceMax:    map[string]uint64{},
		Gifts:       map[uint64]*gift.Gift{},
		Params:      DefaultParams(),
	}
}

func (s *State) normalizeAfterDecode() {
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.Credentials == nil {
		s.Credentials = map[string][]byte{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.Gifts == nil {
		s.Gifts = map[uint64]*gift.Gift{}
	}
	if s.NextGiftID == 0 {
		s.NextGiftID = 1
	}
	if s.Params == (Params{}) {
		s.Params = DefaultParams()
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalizeAfterDecode()
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalizeAfterDecode()
	return &out, nil
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: marshal with stable key ordering by serializing
	// a normalized view.
	//
	// Note: encoding/json does NOT guarantee map key order, so we manually
	// normalize maps into slices.
	type accountKV struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	type accountKeyKV struct {
		Addr   string `json:"addr"`
		PubKey []byte `json:"pubKey"`
	}
	type credentialKV struct {
		Addr       string `json:"addr"`
		Credential []byte `json:"credential"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}
	type giftKV struct {
		ID   uint64     `json:"id"`
		Gift *gift.Gift `json:"gift"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Addr: k, Balance: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Addr < accounts[j].Addr })

	accountKeys := make([]accountKeyKV, 0, len(s.AccountKeys))
	for k, v := range s.AccountKeys {
		accountKeys = append(accountKeys, accountKeyKV{Addr: k, PubKey: v})
	}
	sort.Slice(accountKeys, func(i, j int) bool { return accountKeys[i].Addr < accountKeys[j].Addr })

	credentials := make([]credentialKV, 0, len(s.Credentials))
	for k, v := range s.Credentials {
		credentials = append(credentials, credentialKV{Addr: k, Credential: v})
	}
	sort.Slice(credentials, func(i, j int) bool { return credentials[i].Addr < credentials[j].Addr })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	gifts := make([]giftKV, 0, len(s.Gifts))
	for id, g := range s.Gifts {
		gifts = append(gifts, giftKV{ID: id, Gift: g})
	}
	sort.Slice(gifts, func(i, j int) bool { return gifts[i].ID < gifts[j].ID })

	normalized := struct {
		Height      int64          `json:"height"`
		NextGiftID  uint64         `json:"nextGiftId"`
		Accounts    []accountKV    `json:"accounts"`
		AccountKeys []accountKeyKV `json:"accountKeys,omitempty"`
		Credentials []credentialKV `json:"credentials,omitempty"`
		NonceMax    []nonceKV      `json:"nonceMax,omitempty"`
		Gifts       []giftKV       `json:"gifts"`
		Config      Config         `json:"config"`
		Params      Params         `json:"params"`
	}{
		Height:      s.Height,
		NextGiftID:  s.NextGiftID,
		Accounts:    accounts,
		AccountKeys: accountKeys,
		Credentials: credentials,
		NonceMax:    nonces,
		Gifts:       gifts,
		Config:      s.Config,
		Params:      s.Params,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}
