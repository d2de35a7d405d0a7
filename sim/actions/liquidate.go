package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablebasesim/sim"
)

// LiquidateParams name the safe expected at the liquidation queue's tail when
// the step was proposed.
type LiquidateParams struct {
	SafeID uint64
}

func (p LiquidateParams) String() string {
	return fmt.Sprintf("liquidate{id=%d}", p.SafeID)
}

// Liquidate closes the safe at the liquidation queue's tail when it sits
// below the liquidation ratio. The debt is either absorbed by the stability
// pool or redistributed to the surviving safes through the global
// accumulators.
type Liquidate struct {
	ep  sim.Endpoint
	cfg Config
}

// NewLiquidate returns the action bound to an endpoint.
func NewLiquidate(ep sim.Endpoint, cfg Config) *Liquidate {
	return &Liquidate{ep: ep, cfg: cfg}
}

func (a *Liquidate) Name() string { return "liquidate" }

// Propose applies only when the tail safe is genuinely under water at the
// current price; the tail is the riskiest position by construction, so a
// healthy tail means nothing in the system is liquidatable.
func (a *Liquidate) Propose(_ context.Context, _ *sim.Actor, snap *sim.StateSnapshot, _ *sim.Source) (sim.Params, bool, error) {
	tail := snap.LiquidationQ.Tail
	if tail == 0 {
		return nil, false, nil
	}
	rec, ok := snap.Safe(tail).Get()
	if !ok {
		return nil, false, nil
	}
	debt, collateral := sim.ExpectedSafeSettlement(rec, snap.Ledger)
	if meetsRatio(collateral, debt, snap.CollateralPrice, a.cfg.LiquidationRatioBps) {
		return nil, false, nil
	}
	return LiquidateParams{SafeID: tail}, true, nil
}

func (a *Liquidate) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	return a.ep.Liquidate(ctx, actor.Address)
}

func (a *Liquidate) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(LiquidateParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)

	v.RequireEqualUint("liquidationQueue.targetWasTail", prev.LiquidationQ.Tail, p.SafeID)
	prevRec, ok := prev.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.existedBefore", ok,
		fmt.Sprintf("safe %d open before liquidation", p.SafeID), "absent") {
		return v
	}

	// Settlement uses the pre-step accumulators: the redistribution increments
	// land only after the tail has been settled and removed.
	settledDebt, settledColl := sim.ExpectedSafeSettlement(prevRec, prev.Ledger)
	pendingDebt := new(big.Int).Sub(settledDebt, prevRec.BorrowedAmount)
	pendingColl := new(big.Int).Sub(settledColl, prevRec.CollateralAmount)

	fee := sim.FeeCut(settledColl, a.cfg.LiquidationFeeBps)
	remainder := new(big.Int).Sub(settledColl, fee)

	v.RequireTrue("safe.removed", !next.Safe(p.SafeID).IsPresent(),
		fmt.Sprintf("safe %d absent after liquidation", p.SafeID), "still present")
	sim.VerifyTailRemoval(v, "liquidationQueue", prev.LiquidationQ, next.LiquidationQ, p.SafeID)
	sim.VerifyQueueAbsent(v, "redemptionQueue", next.RedemptionQ, p.SafeID)
	verifyQueueUnchanged(v, "liquidationQueue", prev.LiquidationQ, next.LiquidationQ, p.SafeID)
	verifyQueueUnchanged(v, "redemptionQueue", prev.RedemptionQ, next.RedemptionQ, p.SafeID)
	verifySafesUntouched(v, prev, next, p.SafeID)

	expColl := sum(prev.Ledger.TotalCollateral, pendingColl, neg(settledColl))
	expDebt := sum(prev.Ledger.TotalDebt, pendingDebt, neg(settledDebt))
	v.RequireEqualBig("ledger.totalCollateral", expColl, next.Ledger.TotalCollateral)
	v.RequireEqualBig("ledger.totalDebt", expDebt, next.Ledger.TotalDebt)

	// Absorption requires the pool to swallow the whole debt with a strictly
	// positive scaling factor left over.
	absorbed := false
	if prev.Pool.TotalStaked.Cmp(settledDebt) > 0 {
		staked := prev.Pool.TotalStaked
		nextScaling := new(big.Int).Sub(staked, settledDebt)
		nextScaling.Mul(prev.Pool.ScalingFactor, nextScaling)
		nextScaling.Quo(nextScaling, staked)
		absorbed = nextScaling.Sign() > 0
	}
	if ev, ok := out.FindEvent(sim.EventLiquidated); ok {
		mode := sim.LiquidationRedistributed
		if absorbed {
			mode = sim.LiquidationAbsorbed
		}
		v.RequireTrue("event.liquidationMode",
			ev.Attrs[sim.AttrLiquidationMode] == mode,
			mode, ev.Attrs[sim.AttrLiquidationMode])
		v.RequireTrue("event.debt", ev.Attrs[sim.AttrDebt] == settledDebt.String(),
			settledDebt.String(), ev.Attrs[sim.AttrDebt])
		v.RequireTrue("event.collateral", ev.Attrs[sim.AttrCollateral] == settledColl.String(),
			settledColl.String(), ev.Attrs[sim.AttrCollateral])
	}

	gov := verifyGovStream(v, prev, next, a.cfg, false)
	verifyPoolUsersUntouched(v, prev, next)

	if absorbed {
		verifyAccumulatorsUnchanged(v, prev, next)

		staked := prev.Pool.TotalStaked
		collInc := new(big.Int).Mul(remainder, sim.Precision)
		collInc.Quo(collInc, staked)
		expScaling := new(big.Int).Sub(staked, settledDebt)
		expStaked := new(big.Int).Set(expScaling)
		expScaling.Mul(prev.Pool.ScalingFactor, expScaling)
		expScaling.Quo(expScaling, staked)

		v.RequireEqualBig("pool.totalStaked", expStaked, next.Pool.TotalStaked)
		v.RequireEqualBig("pool.collateralPerToken",
			sum(prev.Pool.CollateralPerToken, collInc), next.Pool.CollateralPerToken)
		v.RequireEqualBig("pool.scalingFactor", expScaling, next.Pool.ScalingFactor)
		v.RequireEqualBig("pool.rewardPerTokenUnchanged", prev.Pool.RewardPerToken, next.Pool.RewardPerToken)

		verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
			next.Addresses.Vault: neg(settledColl),
			actor.Address:        fee,
			next.Addresses.Pool:  remainder,
		})
		verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, map[common.Address]*big.Int{
			next.Addresses.Pool: neg(settledDebt),
		})
		verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, govOnlyDeltas(next, gov.Emitted))
		return v
	}

	verifyPoolQuietExceptGov(v, prev, next)

	if expColl.Sign() > 0 {
		debtInc := new(big.Int).Mul(settledDebt, sim.Precision)
		debtInc.Quo(debtInc, expColl)
		collInc := new(big.Int).Mul(remainder, sim.Precision)
		collInc.Quo(collInc, expColl)

		v.RequireEqualBig("ledger.debtAccumulator",
			sum(prev.Ledger.CumulativeDebtPerUnitCollateral, debtInc),
			next.Ledger.CumulativeDebtPerUnitCollateral)
		v.RequireEqualBig("ledger.collateralAccumulator",
			sum(prev.Ledger.CumulativeCollateralPerUnitCollateral, collInc),
			next.Ledger.CumulativeCollateralPerUnitCollateral)

		// Redistributed collateral stays escrowed in the vault; only the
		// liquidator's fee moves.
		verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
			next.Addresses.Vault: neg(fee),
			actor.Address:        fee,
		})
	} else {
		// Last safe in the system: the remainder has no surviving collateral
		// to attach to and falls to the fee sink.
		verifyAccumulatorsUnchanged(v, prev, next)
		verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
			next.Addresses.Vault:   neg(settledColl),
			actor.Address:          fee,
			next.Addresses.FeeSink: remainder,
		})
	}
	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, nil)
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, govOnlyDeltas(next, gov.Emitted))
	return v
}

var _ sim.Action = (*Liquidate)(nil)
