package protocol

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Read-only accessors used by the snapshot adapter. Every returned value is
// a deep copy; nothing here aliases engine state.

// Sequence returns the operation counter.
func (e *Engine) Sequence() uint64 { return e.sequence }

// Price returns the current oracle collateral price.
func (e *Engine) Price() *big.Int { return new(big.Int).Set(e.price) }

// OperatingMode returns the protocol mode.
func (e *Engine) OperatingMode() Mode { return e.mode }

// TotalCollateral returns the global collateral total.
func (e *Engine) TotalCollateral() *big.Int { return new(big.Int).Set(e.totalCollateral) }

// TotalDebt returns the global debt total.
func (e *Engine) TotalDebt() *big.Int { return new(big.Int).Set(e.totalDebt) }

// CumulativeDebtPerUnitCollateral returns the global debt accumulator.
func (e *Engine) CumulativeDebtPerUnitCollateral() *big.Int {
	return new(big.Int).Set(e.cumulativeDebtPerUnitCollateral)
}

// CumulativeCollateralPerUnitCollateral returns the global collateral
// accumulator.
func (e *Engine) CumulativeCollateralPerUnitCollateral() *big.Int {
	return new(big.Int).Set(e.cumulativeCollateralPerUnitCollateral)
}

// Safes returns a deep copy of every open safe.
func (e *Engine) Safes() map[uint64]Safe {
	out := make(map[uint64]Safe, len(e.safes))
	for id, s := range e.safes {
		out[id] = Safe{
			ID:                              s.ID,
			Owner:                           s.Owner,
			CollateralAmount:                new(big.Int).Set(s.CollateralAmount),
			BorrowedAmount:                  new(big.Int).Set(s.BorrowedAmount),
			Weight:                          new(big.Int).Set(s.Weight),
			DebtPerCollateralSnapshot:       new(big.Int).Set(s.DebtPerCollateralSnapshot),
			CollateralPerCollateralSnapshot: new(big.Int).Set(s.CollateralPerCollateralSnapshot),
		}
	}
	return out
}

// LiquidationQueue exposes the liquidation-priority ordering.
func (e *Engine) LiquidationQueue() *OrderedList { return e.liquidationQ }

// RedemptionQueue exposes the redemption-priority ordering.
func (e *Engine) RedemptionQueue() *OrderedList { return e.redemptionQ }

// Pool exposes the stability pool.
func (e *Engine) Pool() *StabilityPool { return e.pool }

// CollateralBalances returns the native collateral ledger balances.
func (e *Engine) CollateralBalances() map[common.Address]*big.Int { return e.collateral.Balances() }

// DebtTokenBalances returns the debt token ledger balances.
func (e *Engine) DebtTokenBalances() map[common.Address]*big.Int { return e.debtToken.Balances() }

// GovTokenBalances returns the governance token ledger balances.
func (e *Engine) GovTokenBalances() map[common.Address]*big.Int { return e.govToken.Balances() }
