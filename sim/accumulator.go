package sim

import "math/big"

// Fixed-point scale shared with the protocol: accumulators carry 18 decimals
// and fee rates are expressed in basis points.
var (
	Precision   = big.NewInt(1_000_000_000_000_000_000)
	BasisPoints = big.NewInt(10_000)
)

// PendingShare predicts the lazily-accrued share of an account between two
// readings of a global cumulative accumulator:
//
//	pending = held × (globalNew − globalOld) / Precision
//
// Division truncates, matching the protocol's fixed-point arithmetic. A
// non-positive delta yields zero: when the global accumulator has not moved
// no implicit settlement is expected.
func PendingShare(held, globalNew, globalOld *big.Int) *big.Int {
	if held == nil || globalNew == nil || globalOld == nil {
		return new(big.Int)
	}
	delta := new(big.Int).Sub(globalNew, globalOld)
	if delta.Sign() <= 0 || held.Sign() <= 0 {
		return new(big.Int)
	}
	pending := new(big.Int).Mul(held, delta)
	return pending.Quo(pending, Precision)
}

// FeeCut returns amount × bps / 10_000, truncating.
func FeeCut(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return new(big.Int)
	}
	cut := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return cut.Quo(cut, BasisPoints)
}

// ExpectedSafeSettlement predicts a safe's debt and collateral after lazy
// settlement against the given ledger, before any operation delta is applied.
// The deltas are measured from the safe's own stored accumulator snapshots to
// the ledger's current cumulative values, and both use the pre-settlement
// collateral as the held amount.
func ExpectedSafeSettlement(rec SafeRecord, ledger LedgerRecord) (debt, collateral *big.Int) {
	debt = new(big.Int).Add(
		cloneBig(rec.BorrowedAmount),
		PendingShare(rec.CollateralAmount, ledger.CumulativeDebtPerUnitCollateral, rec.DebtPerCollateralSnapshot),
	)
	collateral = new(big.Int).Add(
		cloneBig(rec.CollateralAmount),
		PendingShare(rec.CollateralAmount, ledger.CumulativeCollateralPerUnitCollateral, rec.CollateralPerCollateralSnapshot),
	)
	return debt, collateral
}

// VerifySafeSettled checks the settle contract: after any touch the safe's
// stored accumulator snapshots equal the current global accumulators.
func VerifySafeSettled(v *Verdict, rec SafeRecord, ledger LedgerRecord) {
	v.RequireEqualBig("safe.debtAccumulatorSettled",
		ledger.CumulativeDebtPerUnitCollateral, rec.DebtPerCollateralSnapshot)
	v.RequireEqualBig("safe.collateralAccumulatorSettled",
		ledger.CumulativeCollateralPerUnitCollateral, rec.CollateralPerCollateralSnapshot)
}

// VerifyAccumulatorsMonotone checks that no global cumulative accumulator
// moved backwards across the step.
func VerifyAccumulatorsMonotone(v *Verdict, prev, next LedgerRecord) {
	v.RequireTrue("ledger.debtAccumulatorMonotone",
		next.CumulativeDebtPerUnitCollateral.Cmp(prev.CumulativeDebtPerUnitCollateral) >= 0,
		"cumulative debt accumulator >= "+prev.CumulativeDebtPerUnitCollateral.String(),
		next.CumulativeDebtPerUnitCollateral.String())
	v.RequireTrue("ledger.collateralAccumulatorMonotone",
		next.CumulativeCollateralPerUnitCollateral.Cmp(prev.CumulativeCollateralPerUnitCollateral) >= 0,
		"cumulative collateral accumulator >= "+prev.CumulativeCollateralPerUnitCollateral.String(),
		next.CumulativeCollateralPerUnitCollateral.String())
}

// VerifyModeMonotone checks the bootstrap→normal transition never reverses.
func VerifyModeMonotone(v *Verdict, prev, next Mode) {
	v.RequireTrue("ledger.modeMonotone",
		next >= prev,
		"mode "+prev.String()+" or later", next.String())
}

// ExpectedCompoundedStake predicts a staker's stake after product scaling:
// stake × scalingNow / scalingAtSnapshot, truncating.
func ExpectedCompoundedStake(rec PoolUserRecord, pool PoolRecord) *big.Int {
	if rec.Stake == nil || rec.Stake.Sign() == 0 {
		return new(big.Int)
	}
	if rec.ScalingFactorSnapshot == nil || rec.ScalingFactorSnapshot.Sign() == 0 ||
		pool.ScalingFactor == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(rec.Stake, pool.ScalingFactor)
	return out.Quo(out, rec.ScalingFactorSnapshot)
}

// ExpectedPoolPending predicts a staker's pending debt-token reward,
// collateral gain and governance reward against the pool's current
// accumulators, before any claim fee.
func ExpectedPoolPending(rec PoolUserRecord, pool PoolRecord) (reward, collateral, gov *big.Int) {
	reward = PendingShare(rec.Stake, pool.RewardPerToken, rec.RewardSnapshot)
	collateral = PendingShare(rec.Stake, pool.CollateralPerToken, rec.CollateralSnapshot)
	gov = PendingShare(rec.Stake, pool.GovRewardPerToken, rec.GovRewardSnapshot)
	return reward, collateral, gov
}

// VerifyPoolUserSettled checks that a staker's snapshots equal the pool's
// current cumulative totals exactly.
func VerifyPoolUserSettled(v *Verdict, rec PoolUserRecord, pool PoolRecord) {
	v.RequireEqualBig("pool.user.rewardSnapshotSettled", pool.RewardPerToken, rec.RewardSnapshot)
	v.RequireEqualBig("pool.user.collateralSnapshotSettled", pool.CollateralPerToken, rec.CollateralSnapshot)
	v.RequireEqualBig("pool.user.govSnapshotSettled", pool.GovRewardPerToken, rec.GovRewardSnapshot)
	v.RequireEqualBig("pool.user.scalingSnapshotSettled", pool.ScalingFactor, rec.ScalingFactorSnapshot)
}

// VerifyRewardStatusTransition checks the governance reward status machine:
// not_started→started only, started→ended terminal, staying put is always
// allowed.
func VerifyRewardStatusTransition(v *Verdict, prev, next RewardStatus) {
	ok := prev == next ||
		(prev == RewardNotStarted && next == RewardStarted) ||
		(prev == RewardStarted && next == RewardEnded)
	v.RequireTrue("pool.rewardStatusTransition", ok,
		"legal transition from "+prev.String(), next.String())
}
