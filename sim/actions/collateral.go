package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablebasesim/sim"
)

// AddCollateralParams are the chosen parameters for one add-collateral step.
type AddCollateralParams struct {
	SafeID uint64
	Amount *big.Int
}

func (p AddCollateralParams) String() string {
	return fmt.Sprintf("addCollateral{id=%d amount=%s}", p.SafeID, p.Amount)
}

// AddCollateral escrows additional collateral into one of the actor's safes.
type AddCollateral struct {
	ep  sim.Endpoint
	cfg Config
}

// NewAddCollateral returns the action bound to an endpoint.
func NewAddCollateral(ep sim.Endpoint, cfg Config) *AddCollateral {
	return &AddCollateral{ep: ep, cfg: cfg}
}

func (a *AddCollateral) Name() string { return "add_collateral" }

func (a *AddCollateral) Propose(_ context.Context, actor *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.Params, bool, error) {
	balance := snap.Collateral.Balance(actor.Address)
	if balance.Sign() <= 0 {
		return nil, false, nil
	}
	rec, ok := pickOwnedSafe(actor, snap, rng)
	if !ok {
		return nil, false, nil
	}
	return AddCollateralParams{SafeID: rec.ID, Amount: rng.BigRange(bigOne, balance)}, true, nil
}

func (a *AddCollateral) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	p := params.(AddCollateralParams)
	return a.ep.AddCollateral(ctx, actor.Address, p.SafeID, p.Amount)
}

func (a *AddCollateral) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(AddCollateralParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)
	verifyAccumulatorsUnchanged(v, prev, next)

	prevRec, ok := prev.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.existedBefore", ok,
		fmt.Sprintf("safe %d open before deposit", p.SafeID), "absent") {
		return v
	}
	nextRec, ok := next.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.stillOpen", ok,
		fmt.Sprintf("safe %d open after deposit", p.SafeID), "absent") {
		return v
	}

	settledDebt, settledColl := sim.ExpectedSafeSettlement(prevRec, next.Ledger)
	pendingDebt := new(big.Int).Sub(settledDebt, prevRec.BorrowedAmount)
	pendingColl := new(big.Int).Sub(settledColl, prevRec.CollateralAmount)
	expColl := new(big.Int).Add(settledColl, p.Amount)

	v.RequireEqualBig("safe.collateral", expColl, nextRec.CollateralAmount)
	v.RequireEqualBig("safe.borrowed", settledDebt, nextRec.BorrowedAmount)
	v.RequireEqualBig("safe.weightUnchanged", prevRec.Weight, nextRec.Weight)
	sim.VerifySafeSettled(v, nextRec, next.Ledger)

	v.RequireEqualBig("ledger.totalCollateral",
		sum(prev.Ledger.TotalCollateral, pendingColl, p.Amount), next.Ledger.TotalCollateral)
	v.RequireEqualBig("ledger.totalDebt",
		sum(prev.Ledger.TotalDebt, pendingDebt), next.Ledger.TotalDebt)

	if nextRec.BorrowedAmount.Sign() > 0 {
		sim.VerifyQueueMember(v, "liquidationQueue", next.LiquidationQ, p.SafeID)
		if node, ok := next.LiquidationQ.Node(p.SafeID).Get(); ok {
			v.RequireTrue("liquidationQueue.rankValue",
				node.Value.Eq(uint256FromBig(liquidationKey(nextRec.CollateralAmount, nextRec.BorrowedAmount))),
				liquidationKey(nextRec.CollateralAmount, nextRec.BorrowedAmount).String(),
				node.Value.String())
		}
	}
	verifyQueueUnchanged(v, "liquidationQueue", prev.LiquidationQ, next.LiquidationQ, p.SafeID)
	verifyQueueUnchanged(v, "redemptionQueue", prev.RedemptionQ, next.RedemptionQ, p.SafeID)

	gov := verifyGovStream(v, prev, next, a.cfg, false)
	verifyPoolQuietExceptGov(v, prev, next)
	verifyPoolUsersUntouched(v, prev, next)
	verifySafesUntouched(v, prev, next, p.SafeID)

	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
		actor.Address:        neg(p.Amount),
		next.Addresses.Vault: p.Amount,
	})
	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, nil)
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, govOnlyDeltas(next, gov.Emitted))
	return v
}

var _ sim.Action = (*AddCollateral)(nil)

// WithdrawCollateralParams are the chosen parameters for one withdraw step.
type WithdrawCollateralParams struct {
	SafeID uint64
	Amount *big.Int
}

func (p WithdrawCollateralParams) String() string {
	return fmt.Sprintf("withdrawCollateral{id=%d amount=%s}", p.SafeID, p.Amount)
}

// WithdrawCollateral releases collateral from one of the actor's safes,
// closing it on full withdrawal.
type WithdrawCollateral struct {
	ep  sim.Endpoint
	cfg Config
}

// NewWithdrawCollateral returns the action bound to an endpoint.
func NewWithdrawCollateral(ep sim.Endpoint, cfg Config) *WithdrawCollateral {
	return &WithdrawCollateral{ep: ep, cfg: cfg}
}

func (a *WithdrawCollateral) Name() string { return "withdraw_collateral" }

func (a *WithdrawCollateral) Propose(_ context.Context, actor *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.Params, bool, error) {
	for attempt := 0; attempt < sim.MaxProposalAttempts; attempt++ {
		rec, ok := pickOwnedSafe(actor, snap, rng)
		if !ok {
			return nil, false, nil
		}
		debt, collateral := sim.ExpectedSafeSettlement(rec, snap.Ledger)
		if collateral.Sign() <= 0 {
			continue
		}
		amount := rng.BigRange(bigOne, collateral)
		remaining := new(big.Int).Sub(collateral, amount)
		if remaining.Sign() == 0 {
			if debt.Sign() != 0 {
				continue
			}
		} else if !meetsRatio(remaining, debt, snap.CollateralPrice, a.cfg.LiquidationRatioBps) {
			continue
		}
		return WithdrawCollateralParams{SafeID: rec.ID, Amount: amount}, true, nil
	}
	return nil, false, nil
}

func (a *WithdrawCollateral) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	p := params.(WithdrawCollateralParams)
	return a.ep.WithdrawCollateral(ctx, actor.Address, p.SafeID, p.Amount)
}

func (a *WithdrawCollateral) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(WithdrawCollateralParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)
	verifyAccumulatorsUnchanged(v, prev, next)

	prevRec, ok := prev.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.existedBefore", ok,
		fmt.Sprintf("safe %d open before withdrawal", p.SafeID), "absent") {
		return v
	}

	settledDebt, settledColl := sim.ExpectedSafeSettlement(prevRec, next.Ledger)
	pendingDebt := new(big.Int).Sub(settledDebt, prevRec.BorrowedAmount)
	pendingColl := new(big.Int).Sub(settledColl, prevRec.CollateralAmount)
	expColl := new(big.Int).Sub(settledColl, p.Amount)
	closed := expColl.Sign() == 0

	if closed {
		// Zero collateral means the position no longer exists anywhere.
		v.RequireTrue("safe.closedOnFullWithdrawal", !next.Safe(p.SafeID).IsPresent(),
			fmt.Sprintf("safe %d absent after full withdrawal", p.SafeID), "still present")
		sim.VerifyQueueAbsent(v, "liquidationQueue", next.LiquidationQ, p.SafeID)
		sim.VerifyQueueAbsent(v, "redemptionQueue", next.RedemptionQ, p.SafeID)
	} else {
		nextRec, ok := next.Safe(p.SafeID).Get()
		if !v.RequireTrue("safe.stillOpen", ok,
			fmt.Sprintf("safe %d open after partial withdrawal", p.SafeID), "absent") {
			return v
		}
		v.RequireEqualBig("safe.collateral", expColl, nextRec.CollateralAmount)
		v.RequireEqualBig("safe.borrowed", settledDebt, nextRec.BorrowedAmount)
		v.RequireEqualBig("safe.weightUnchanged", prevRec.Weight, nextRec.Weight)
		sim.VerifySafeSettled(v, nextRec, next.Ledger)
		v.RequireTrue("safe.staysHealthy",
			meetsRatio(nextRec.CollateralAmount, nextRec.BorrowedAmount, next.CollateralPrice, a.cfg.LiquidationRatioBps),
			"position at or above liquidation ratio", "below ratio after withdrawal")
		if nextRec.BorrowedAmount.Sign() > 0 {
			if node, ok := next.LiquidationQ.Node(p.SafeID).Get(); ok {
				v.RequireTrue("liquidationQueue.rankValue",
					node.Value.Eq(uint256FromBig(liquidationKey(nextRec.CollateralAmount, nextRec.BorrowedAmount))),
					liquidationKey(nextRec.CollateralAmount, nextRec.BorrowedAmount).String(),
					node.Value.String())
			}
		}
	}

	v.RequireEqualBig("ledger.totalCollateral",
		sum(prev.Ledger.TotalCollateral, pendingColl, neg(p.Amount)), next.Ledger.TotalCollateral)
	v.RequireEqualBig("ledger.totalDebt",
		sum(prev.Ledger.TotalDebt, pendingDebt), next.Ledger.TotalDebt)

	verifyQueueUnchanged(v, "liquidationQueue", prev.LiquidationQ, next.LiquidationQ, p.SafeID)
	verifyQueueUnchanged(v, "redemptionQueue", prev.RedemptionQ, next.RedemptionQ, p.SafeID)

	gov := verifyGovStream(v, prev, next, a.cfg, false)
	verifyPoolQuietExceptGov(v, prev, next)
	verifyPoolUsersUntouched(v, prev, next)
	verifySafesUntouched(v, prev, next, p.SafeID)

	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
		actor.Address:        new(big.Int).Set(p.Amount),
		next.Addresses.Vault: neg(p.Amount),
	})
	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, nil)
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, govOnlyDeltas(next, gov.Emitted))
	return v
}

var _ sim.Action = (*WithdrawCollateral)(nil)
