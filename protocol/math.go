package protocol

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	precision   = big.NewInt(1_000_000_000_000_000_000)
	basisPoints = big.NewInt(10_000)
)

// pendingShare computes held × (globalNew − globalOld) / precision with
// truncating division; zero when the accumulator has not advanced.
func pendingShare(held, globalNew, globalOld *big.Int) *big.Int {
	delta := new(big.Int).Sub(globalNew, globalOld)
	if delta.Sign() <= 0 || held.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(held, delta)
	return out.Quo(out, precision)
}

// feeCut computes amount × bps / 10_000, truncating.
func feeCut(amount *big.Int, bps uint64) *big.Int {
	if amount.Sign() <= 0 || bps == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// collateralRatioKey ranks a safe for liquidation by raw collateral per unit
// of debt, precision-scaled. Price-independent so oracle updates never
// re-rank the queue.
func collateralRatioKey(collateral, debt *big.Int) *uint256.Int {
	if debt.Sign() == 0 {
		return uint256.NewInt(0)
	}
	ratio := new(big.Int).Mul(collateral, precision)
	ratio.Quo(ratio, debt)
	key, overflow := uint256.FromBig(ratio)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return key
}

// weightKey ranks a safe for redemption by its cumulative fee weight.
func weightKey(weight *big.Int) *uint256.Int {
	key, overflow := uint256.FromBig(weight)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return key
}
