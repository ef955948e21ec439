package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"

	"hongbaochain/internal/codec"
	"hongbaochain/internal/state"
)

const (
	AppVersion uint64 = 1
)

type HBApp struct {
	*abci.BaseApplication

	home   string
	logger log.Logger

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

func New(home string, logger log.Logger) (*HBApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &HBApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		logger:          logger.With("module", "abci"),
		st:              st,
		lastHash:        st.AppHash(),
	}
	a.logger.Info("state loaded", "height", st.Height, "gifts", len(st.Gifts))
	return a, nil
}

func (a *HBApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "HBC (v0)",
		Version:          "v0",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *HBApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// v0: only structural validation; signatures/auth run at delivery.
	return &abci.CheckTxResponse{Code: 0}, nil
}

// genesisDoc is the v0 app_state document: an optional admin address, chain
// params, and pre-funded accounts.
type genesisDoc struct {
	Admin    string            `json:"admin,omitempty"`
	Params   *state.Params     `json:"params,omitempty"`
	Accounts map[string]uint64 `json:"accounts,omitempty"`
}

func (a *HBApp) InitChain(_ context.Context, req *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(req.AppStateBytes) > 0 {
		var doc genesisDoc
		if err := json.Unmarshal(req.AppStateBytes, &doc); err != nil {
			return nil, fmt.Errorf("decode genesis app_state: %w", err)
		}
		if doc.Admin != "" {
			a.st.Config.Admin = doc.Admin
		}
		if doc.Params != nil {
			if err := doc.Params.Validate(); err != nil {
				return nil, fmt.Errorf("genesis params: %w", err)
			}
			a.st.Params = *doc.Params
		}
		for addr, bal := range doc.Accounts {
			if err := a.st.Credit(addr, bal); err != nil {
				return nil, fmt.Errorf("genesis account %q: %w", addr, err)
			}
		}
		a.logger.Info("genesis applied", "admin", a.st.Config.Admin, "accounts", len(doc.Accounts))
	}

	a.lastHash = a.st.AppHash()
	return &abci.InitChainResponse{AppHash: a.lastHash}, nil
}

func (a *HBApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height
	nowUnix := req.Time.Unix()

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height, nowUnix)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *HBApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Persist after each block for devnet durability.
	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		a.logger.Error("persist state", "err", err)
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *HBApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Paths:
	// - /paused
	// - /params
	// - /gifts
	// - /gift/<id>
	// - /account/<addr>
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/paused":
		b, _ := json.Marshal(map[string]any{"paused": a.st.Config.Paused})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case path == "/params":
		b, _ := json.Marshal(a.st.Params)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case path == "/gifts":
		ids := make([]uint64, 0, len(a.st.Gifts))
		for id := range a.st.Gifts {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		b, _ := json.Marshal(ids)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/gift/"):
		raw := strings.TrimPrefix(path, "/gift/")
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return &abci.QueryResponse{Code: 1, Log: "invalid gift id", Height: a.st.Height}, nil
		}
		g, ok := a.st.Gifts[id]
		if !ok {
			return &abci.QueryResponse{Code: 1, Log: "gift not found", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(g.Summary())
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		bal := a.st.Balance(addr)
		b, _ := json.Marshal(map[string]any{"addr": addr, "balance": bal})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

func (a *HBApp) deliverTx(txBytes []byte, height int64, nowUnix int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	switch env.Type {
	case "bank/mint":
		// v0 localnet faucet: deliberately unsigned.
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad bank/mint value"}
		}
		res, err := bankMint(a.st, msg)
		if err != nil {
			return errResult(err)
		}
		return res

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad bank/send value"}
		}
		return a.authedDeliver(env, msg.From, func() (*abci.ExecTxResult, error) {
			return bankSend(a.st, msg)
		})

	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad auth/register_account value"}
		}
		// Registration verifies against the key being registered, not state.
		if err := requireRegisterAccountAuth(env, msg); err != nil {
			return errResult(err)
		}
		nonce, err := requireFreshNonce(a.st, env)
		if err != nil {
			return errResult(err)
		}
		res, err := authRegisterAccount(a.st, msg)
		if err != nil {
			return errResult(err)
		}
		a.st.NonceMax[env.Signer] = nonce
		return res

	case "hongbao/create_gift":
		var msg codec.HongbaoCreateGiftTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad hongbao/create_gift value"}
		}
		return a.authedDeliver(env, msg.Owner, func() (*abci.ExecTxResult, error) {
			return hongbaoCreateGift(a.st, msg, height, nowUnix)
		})

	case "hongbao/claim_envelope":
		var msg codec.HongbaoClaimEnvelopeTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad hongbao/claim_envelope value"}
		}
		return a.authedDeliver(env, msg.Claimant, func() (*abci.ExecTxResult, error) {
			return hongbaoClaimEnvelope(a.st, msg, nowUnix)
		})

	case "hongbao/reclaim_gift":
		var msg codec.HongbaoReclaimGiftTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad hongbao/reclaim_gift value"}
		}
		return a.authedDeliver(env, msg.Caller, func() (*abci.ExecTxResult, error) {
			return hongbaoReclaimGift(a.st, msg, nowUnix)
		})

	case "admin/set_paused":
		var msg codec.AdminSetPausedTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: 1, Log: "bad admin/set_paused value"}
		}
		if a.st.Config.Admin == "" {
			return &abci.ExecTxResult{Code: 1, Log: "no admin configured"}
		}
		return a.authedDeliver(env, a.st.Config.Admin, func() (*abci.ExecTxResult, error) {
			return adminSetPaused(a.st, msg)
		})

	default:
		return &abci.ExecTxResult{Code: 1, Log: "unknown tx type: " + env.Type}
	}
}

// authedDeliver wraps a handler with envelope signature verification and
// replay protection. The signer's nonce is bumped only when the handler
// succeeds, so a failed tx can be resubmitted unchanged.
func (a *HBApp) authedDeliver(env codec.TxEnvelope, signer string, run func() (*abci.ExecTxResult, error)) *abci.ExecTxResult {
	if err := requireAccountAuth(a.st, env, signer); err != nil {
		return errResult(err)
	}
	nonce, err := requireFreshNonce(a.st, env)
	if err != nil {
		return errResult(err)
	}
	res, err := run()
	if err != nil {
		return errResult(err)
	}
	a.st.NonceMax[env.Signer] = nonce
	return res
}

// errResult carries registered error codes into the tx result. The log always
// holds the full error text (v0 localnet, nothing to redact).
func errResult(err error) *abci.ExecTxResult {
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	if codespace == errorsmod.UndefinedCodespace {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}
	return &abci.ExecTxResult{Code: code, Codespace: codespace, Log: err.Error()}
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{ev},
	}
}
