package protocol

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var errInsufficientTokenBalance = errors.New("protocol: insufficient token balance")

// TokenLedger is a minimal fungible token ledger: balances per address plus a
// running total supply.
type TokenLedger struct {
	symbol      string
	balances    map[common.Address]*big.Int
	totalSupply *big.Int
}

// NewTokenLedger returns an empty ledger for the given symbol.
func NewTokenLedger(symbol string) *TokenLedger {
	return &TokenLedger{
		symbol:      symbol,
		balances:    make(map[common.Address]*big.Int),
		totalSupply: new(big.Int),
	}
}

// Symbol returns the ledger's token symbol.
func (t *TokenLedger) Symbol() string { return t.symbol }

// BalanceOf returns the balance of addr. Unknown addresses hold zero.
func (t *TokenLedger) BalanceOf(addr common.Address) *big.Int {
	if bal, ok := t.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// TotalSupply returns the outstanding supply.
func (t *TokenLedger) TotalSupply() *big.Int { return new(big.Int).Set(t.totalSupply) }

// Mint credits amount to addr.
func (t *TokenLedger) Mint(addr common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	t.balances[addr] = new(big.Int).Add(t.BalanceOf(addr), amount)
	t.totalSupply = new(big.Int).Add(t.totalSupply, amount)
}

// Burn debits amount from addr.
func (t *TokenLedger) Burn(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	bal := t.BalanceOf(addr)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s %s from %s with balance %s",
			errInsufficientTokenBalance, amount, t.symbol, addr.Hex(), bal)
	}
	t.balances[addr] = bal.Sub(bal, amount)
	t.totalSupply = new(big.Int).Sub(t.totalSupply, amount)
	return nil
}

// Transfer moves amount from one address to another.
func (t *TokenLedger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	bal := t.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: transfer %s %s from %s with balance %s",
			errInsufficientTokenBalance, amount, t.symbol, from.Hex(), bal)
	}
	t.balances[from] = bal.Sub(bal, amount)
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
	return nil
}

// Balances returns a deep copy of every tracked balance.
func (t *TokenLedger) Balances() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(t.balances))
	for addr, bal := range t.balances {
		out[addr] = new(big.Int).Set(bal)
	}
	return out
}
