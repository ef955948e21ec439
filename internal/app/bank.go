package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"hongbaochain/internal/codec"
	"hongbaochain/internal/state"
)

func bankMint(st *state.State, msg codec.BankMintTx) (*abci.ExecTxResult, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	if msg.To == "" {
		return nil, fmt.Errorf("missing to")
	}
	if msg.Amount == 0 {
		return nil, fmt.Errorf("amount must be > 0")
	}
	if err := st.Credit(msg.To, msg.Amount); err != nil {
		return nil, err
	}
	return okEvent("BankMinted", map[string]string{
		"to":     msg.To,
		"amount": fmt.Sprintf("%d", msg.Amount),
	}), nil
}

func bankSend(st *state.State, msg codec.BankSendTx) (*abci.ExecTxResult, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	if msg.From == "" || msg.To == "" {
		return nil, fmt.Errorf("missing from/to")
	}
	if msg.Amount == 0 {
		return nil, fmt.Errorf("amount must be > 0")
	}
	// Debit checks funds; the credit overflow check runs before any mutation.
	// A self-send nets to zero and cannot overflow.
	if msg.From != msg.To {
		if bal := st.Balance(msg.To); bal > ^uint64(0)-msg.Amount {
			return nil, fmt.Errorf("recipient balance overflow: have=%d add=%d", bal, msg.Amount)
		}
	}
	if err := st.Debit(msg.From, msg.Amount); err != nil {
		return nil, err
	}
	if err := st.Credit(msg.To, msg.Amount); err != nil {
		return nil, err
	}
	return okEvent("BankSent", map[string]string{
		"from":   msg.From,
		"to":     msg.To,
		"amount": fmt.Sprintf("%d", msg.Amount),
	}), nil
}
