package actions

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"stablebasesim/sim"
)

// BorrowParams are the chosen parameters for one borrow step.
type BorrowParams struct {
	SafeID           uint64
	Amount           *big.Int
	ShieldingRateBps uint64
}

func (p BorrowParams) String() string {
	return fmt.Sprintf("borrow{id=%d amount=%s rateBps=%d}", p.SafeID, p.Amount, p.ShieldingRateBps)
}

// Borrow mints debt against one of the actor's safes. The shielding fee is
// withheld from the minted amount and distributed to stability pool stakers.
type Borrow struct {
	ep  sim.Endpoint
	cfg Config
}

// NewBorrow returns the action bound to an endpoint.
func NewBorrow(ep sim.Endpoint, cfg Config) *Borrow {
	return &Borrow{ep: ep, cfg: cfg}
}

func (a *Borrow) Name() string { return "borrow" }

// maxBorrowable computes the headroom a settled safe has before it would
// violate the liquidation ratio: value×10000/ratioBps − debt.
func (a *Borrow) maxBorrowable(collateral, debt, price *big.Int) *big.Int {
	capacity := new(big.Int).Mul(collateralValue(collateral, price), sim.BasisPoints)
	capacity.Quo(capacity, new(big.Int).SetUint64(a.cfg.LiquidationRatioBps))
	return capacity.Sub(capacity, debt)
}

func (a *Borrow) Propose(_ context.Context, actor *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.Params, bool, error) {
	for attempt := 0; attempt < sim.MaxProposalAttempts; attempt++ {
		rec, ok := pickOwnedSafe(actor, snap, rng)
		if !ok {
			return nil, false, nil
		}
		debt, collateral := sim.ExpectedSafeSettlement(rec, snap.Ledger)
		headroom := a.maxBorrowable(collateral, debt, snap.CollateralPrice)
		if headroom.Sign() <= 0 {
			continue
		}
		amount := rng.BigRange(bigOne, headroom)
		// Redraw when truncation in the headroom math would still trip the
		// ratio check.
		if !meetsRatio(collateral, new(big.Int).Add(debt, amount), snap.CollateralPrice, a.cfg.LiquidationRatioBps) {
			continue
		}
		maxRate := a.cfg.MaxShieldingRateBps
		if maxRate == 0 {
			maxRate = 500
		}
		rate := rng.Range(1, maxRate)
		if sim.FeeCut(amount, rate).Cmp(amount) >= 0 {
			continue
		}
		return BorrowParams{SafeID: rec.ID, Amount: amount, ShieldingRateBps: rate}, true, nil
	}
	return nil, false, nil
}

func (a *Borrow) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	p := params.(BorrowParams)
	return a.ep.Borrow(ctx, actor.Address, p.SafeID, p.Amount, p.ShieldingRateBps)
}

func (a *Borrow) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(BorrowParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)
	verifyAccumulatorsUnchanged(v, prev, next)

	prevRec, ok := prev.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.existedBefore", ok,
		fmt.Sprintf("safe %d open before borrow", p.SafeID), "absent") {
		return v
	}
	nextRec, ok := next.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.stillOpen", ok,
		fmt.Sprintf("safe %d open after borrow", p.SafeID), "absent") {
		return v
	}

	settledDebt, settledColl := sim.ExpectedSafeSettlement(prevRec, next.Ledger)
	pendingDebt := new(big.Int).Sub(settledDebt, prevRec.BorrowedAmount)
	pendingColl := new(big.Int).Sub(settledColl, prevRec.CollateralAmount)

	fee := sim.FeeCut(p.Amount, p.ShieldingRateBps)
	net := new(big.Int).Sub(p.Amount, fee)
	expDebt := new(big.Int).Add(settledDebt, p.Amount)

	v.RequireEqualBig("safe.borrowed", expDebt, nextRec.BorrowedAmount)
	v.RequireEqualBig("safe.collateral", settledColl, nextRec.CollateralAmount)
	v.RequireEqualBig("safe.weightAccruesFee", sum(prevRec.Weight, fee), nextRec.Weight)
	sim.VerifySafeSettled(v, nextRec, next.Ledger)

	v.RequireEqualBig("ledger.totalDebt",
		sum(prev.Ledger.TotalDebt, pendingDebt, p.Amount), next.Ledger.TotalDebt)
	v.RequireEqualBig("ledger.totalCollateral",
		sum(prev.Ledger.TotalCollateral, pendingColl), next.Ledger.TotalCollateral)

	// Bootstrap → normal transition exactly when the new debt total first
	// crosses the threshold.
	expMode := prev.Ledger.Mode
	if expMode == sim.ModeBootstrap && a.cfg.BootstrapDebtThreshold != nil &&
		next.Ledger.TotalDebt.Cmp(a.cfg.BootstrapDebtThreshold) >= 0 {
		expMode = sim.ModeNormal
	}
	v.RequireTrue("ledger.mode", next.Ledger.Mode == expMode,
		expMode.String(), next.Ledger.Mode.String())

	// The safe now carries debt and must sit in both orderings with fresh
	// ranking keys.
	sim.VerifyQueueMember(v, "liquidationQueue", next.LiquidationQ, p.SafeID)
	sim.VerifyQueueMember(v, "redemptionQueue", next.RedemptionQ, p.SafeID)
	if node, ok := next.LiquidationQ.Node(p.SafeID).Get(); ok {
		v.RequireTrue("liquidationQueue.rankValue",
			node.Value.Eq(uint256FromBig(liquidationKey(nextRec.CollateralAmount, nextRec.BorrowedAmount))),
			liquidationKey(nextRec.CollateralAmount, nextRec.BorrowedAmount).String(),
			node.Value.String())
	}
	if node, ok := next.RedemptionQ.Node(p.SafeID).Get(); ok {
		v.RequireTrue("redemptionQueue.rankValue",
			node.Value.Eq(uint256FromBig(nextRec.Weight)),
			nextRec.Weight.String(), node.Value.String())
	}
	verifyQueueUnchanged(v, "liquidationQueue", prev.LiquidationQ, next.LiquidationQ, p.SafeID)
	verifyQueueUnchanged(v, "redemptionQueue", prev.RedemptionQ, next.RedemptionQ, p.SafeID)

	// Fee routing: stakers when the pool was live, fee sink otherwise.
	feeToStakers := prev.Pool.TotalStaked.Sign() > 0 && fee.Sign() > 0
	if ev, ok := out.FindEvent(sim.EventBorrowed); ok {
		v.RequireTrue("event.feeRouting",
			ev.Attrs[sim.AttrFeeToStakers] == strconv.FormatBool(feeToStakers),
			strconv.FormatBool(feeToStakers), ev.Attrs[sim.AttrFeeToStakers])
	}
	gov := verifyGovStream(v, prev, next, a.cfg, false)
	expReward := new(big.Int).Set(prev.Pool.RewardPerToken)
	if feeToStakers {
		inc := new(big.Int).Mul(fee, sim.Precision)
		inc.Quo(inc, prev.Pool.TotalStaked)
		expReward.Add(expReward, inc)
	}
	v.RequireEqualBig("pool.rewardPerToken", expReward, next.Pool.RewardPerToken)
	v.RequireEqualBig("pool.totalStakedUnchanged", prev.Pool.TotalStaked, next.Pool.TotalStaked)
	v.RequireEqualBig("pool.collateralPerTokenUnchanged", prev.Pool.CollateralPerToken, next.Pool.CollateralPerToken)
	v.RequireEqualBig("pool.scalingFactorUnchanged", prev.Pool.ScalingFactor, next.Pool.ScalingFactor)
	verifyPoolUsersUntouched(v, prev, next)
	verifySafesUntouched(v, prev, next, p.SafeID)

	debtDeltas := map[common.Address]*big.Int{actor.Address: net}
	if fee.Sign() > 0 {
		if feeToStakers {
			debtDeltas[next.Addresses.Pool] = fee
		} else {
			debtDeltas[next.Addresses.FeeSink] = fee
		}
	}
	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, debtDeltas)
	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, nil)
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, govOnlyDeltas(next, gov.Emitted))
	return v
}

var _ sim.Action = (*Borrow)(nil)
