package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablebasesim/sim"
)

// RepayParams are the chosen parameters for one repay step.
type RepayParams struct {
	SafeID uint64
	Amount *big.Int
}

func (p RepayParams) String() string {
	return fmt.Sprintf("repay{id=%d amount=%s}", p.SafeID, p.Amount)
}

// Repay burns debt tokens from the actor against one of their safes.
type Repay struct {
	ep  sim.Endpoint
	cfg Config
}

// NewRepay returns the action bound to an endpoint.
func NewRepay(ep sim.Endpoint, cfg Config) *Repay {
	return &Repay{ep: ep, cfg: cfg}
}

func (a *Repay) Name() string { return "repay" }

func (a *Repay) Propose(_ context.Context, actor *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.Params, bool, error) {
	balance := snap.DebtToken.Balance(actor.Address)
	if balance.Sign() <= 0 {
		return nil, false, nil
	}
	for attempt := 0; attempt < sim.MaxProposalAttempts; attempt++ {
		rec, ok := pickOwnedSafe(actor, snap, rng)
		if !ok {
			return nil, false, nil
		}
		debt, _ := sim.ExpectedSafeSettlement(rec, snap.Ledger)
		if debt.Sign() == 0 {
			continue
		}
		max := debt
		if balance.Cmp(max) < 0 {
			max = balance
		}
		return RepayParams{SafeID: rec.ID, Amount: rng.BigRange(bigOne, max)}, true, nil
	}
	return nil, false, nil
}

func (a *Repay) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	p := params.(RepayParams)
	return a.ep.Repay(ctx, actor.Address, p.SafeID, p.Amount)
}

func (a *Repay) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(RepayParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)
	verifyAccumulatorsUnchanged(v, prev, next)

	prevRec, ok := prev.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.existedBefore", ok,
		fmt.Sprintf("safe %d open before repay", p.SafeID), "absent") {
		return v
	}
	nextRec, ok := next.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.stillOpen", ok,
		fmt.Sprintf("safe %d open after repay", p.SafeID), "absent") {
		return v
	}

	settledDebt, settledColl := sim.ExpectedSafeSettlement(prevRec, next.Ledger)
	pendingDebt := new(big.Int).Sub(settledDebt, prevRec.BorrowedAmount)
	pendingColl := new(big.Int).Sub(settledColl, prevRec.CollateralAmount)
	expDebt := new(big.Int).Sub(settledDebt, p.Amount)

	v.RequireEqualBig("safe.borrowed", expDebt, nextRec.BorrowedAmount)
	v.RequireEqualBig("safe.collateral", settledColl, nextRec.CollateralAmount)
	v.RequireEqualBig("safe.weightUnchanged", prevRec.Weight, nextRec.Weight)
	sim.VerifySafeSettled(v, nextRec, next.Ledger)

	v.RequireEqualBig("ledger.totalDebt",
		sum(prev.Ledger.TotalDebt, pendingDebt, neg(p.Amount)), next.Ledger.TotalDebt)
	v.RequireEqualBig("ledger.totalCollateral",
		sum(prev.Ledger.TotalCollateral, pendingColl), next.Ledger.TotalCollateral)

	if expDebt.Sign() == 0 {
		// Fully repaid safes leave both orderings but stay open.
		sim.VerifyQueueAbsent(v, "liquidationQueue", next.LiquidationQ, p.SafeID)
		sim.VerifyQueueAbsent(v, "redemptionQueue", next.RedemptionQ, p.SafeID)
	} else {
		sim.VerifyQueueMember(v, "liquidationQueue", next.LiquidationQ, p.SafeID)
		sim.VerifyQueueMember(v, "redemptionQueue", next.RedemptionQ, p.SafeID)
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

	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, map[common.Address]*big.Int{
		actor.Address: neg(p.Amount),
	})
	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, nil)
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, govOnlyDeltas(next, gov.Emitted))
	return v
}

var _ sim.Action = (*Repay)(nil)
