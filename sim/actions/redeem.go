package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablebasesim/sim"
)

// RedeemParams are the chosen parameters for one redemption step.
type RedeemParams struct {
	SafeID uint64
	Amount *big.Int
}

func (p RedeemParams) String() string {
	return fmt.Sprintf("redeem{id=%d amount=%s}", p.SafeID, p.Amount)
}

// Redeem burns the actor's debt tokens against the redemption queue's head
// safe and releases the equivalent collateral at the current price.
type Redeem struct {
	ep  sim.Endpoint
	cfg Config
}

// NewRedeem returns the action bound to an endpoint.
func NewRedeem(ep sim.Endpoint, cfg Config) *Redeem {
	return &Redeem{ep: ep, cfg: cfg}
}

func (a *Redeem) Name() string { return "redeem" }

func (a *Redeem) Propose(_ context.Context, actor *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.Params, bool, error) {
	head := snap.RedemptionQ.Head
	if head == 0 {
		return nil, false, nil
	}
	balance := snap.DebtToken.Balance(actor.Address)
	if balance.Sign() <= 0 {
		return nil, false, nil
	}
	rec, ok := snap.Safe(head).Get()
	if !ok {
		return nil, false, nil
	}
	debt, collateral := sim.ExpectedSafeSettlement(rec, snap.Ledger)
	max := debt
	if balance.Cmp(max) < 0 {
		max = balance
	}
	if max.Sign() <= 0 {
		return nil, false, nil
	}
	for attempt := 0; attempt < sim.MaxProposalAttempts; attempt++ {
		amount := rng.BigRange(bigOne, max)
		collOut := new(big.Int).Mul(amount, sim.Precision)
		collOut.Quo(collOut, snap.CollateralPrice)
		if collOut.Cmp(collateral) > 0 {
			continue
		}
		return RedeemParams{SafeID: head, Amount: amount}, true, nil
	}
	return nil, false, nil
}

func (a *Redeem) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	p := params.(RedeemParams)
	return a.ep.Redeem(ctx, actor.Address, p.Amount)
}

func (a *Redeem) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(RedeemParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)
	verifyAccumulatorsUnchanged(v, prev, next)

	v.RequireEqualUint("redemptionQueue.targetWasHead", prev.RedemptionQ.Head, p.SafeID)
	prevRec, ok := prev.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.existedBefore", ok,
		fmt.Sprintf("safe %d open before redemption", p.SafeID), "absent") {
		return v
	}
	prevNode, ok := prev.RedemptionQ.Node(p.SafeID).Get()
	if !v.RequireTrue("redemptionQueue.headWasMember", ok,
		fmt.Sprintf("safe %d queued before redemption", p.SafeID), "absent") {
		return v
	}

	settledDebt, settledColl := sim.ExpectedSafeSettlement(prevRec, next.Ledger)
	pendingDebt := new(big.Int).Sub(settledDebt, prevRec.BorrowedAmount)
	pendingColl := new(big.Int).Sub(settledColl, prevRec.CollateralAmount)

	collOut := new(big.Int).Mul(p.Amount, sim.Precision)
	collOut.Quo(collOut, next.CollateralPrice)
	expDebt := new(big.Int).Sub(settledDebt, p.Amount)
	expColl := new(big.Int).Sub(settledColl, collOut)
	closed := expDebt.Sign() == 0 && expColl.Sign() == 0

	if ev, ok := out.FindEvent(sim.EventRedeemed); ok {
		v.RequireTrue("event.safeID", ev.Attrs[sim.AttrSafeID] == fmt.Sprintf("%d", p.SafeID),
			fmt.Sprintf("%d", p.SafeID), ev.Attrs[sim.AttrSafeID])
		v.RequireTrue("event.collateral", ev.Attrs[sim.AttrCollateral] == collOut.String(),
			collOut.String(), ev.Attrs[sim.AttrCollateral])
	}

	if closed {
		v.RequireTrue("safe.closedWhenEmpty", !next.Safe(p.SafeID).IsPresent(),
			fmt.Sprintf("safe %d absent after full redemption", p.SafeID), "still present")
		sim.VerifyQueueAbsent(v, "liquidationQueue", next.LiquidationQ, p.SafeID)
		sim.VerifyQueueAbsent(v, "redemptionQueue", next.RedemptionQ, p.SafeID)
		v.RequireEqualUint("redemptionQueue.headAfterRemoval", prevNode.Next, next.RedemptionQ.Head)
	} else {
		nextRec, ok := next.Safe(p.SafeID).Get()
		if !v.RequireTrue("safe.stillOpen", ok,
			fmt.Sprintf("safe %d open after partial redemption", p.SafeID), "absent") {
			return v
		}
		v.RequireEqualBig("safe.borrowed", expDebt, nextRec.BorrowedAmount)
		v.RequireEqualBig("safe.collateral", expColl, nextRec.CollateralAmount)
		v.RequireEqualBig("safe.weightUnchanged", prevRec.Weight, nextRec.Weight)
		sim.VerifySafeSettled(v, nextRec, next.Ledger)
		if expDebt.Sign() == 0 {
			// Debt fully redeemed with collateral left: the safe stays open
			// but leaves both orderings.
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
			if node, ok := next.RedemptionQ.Node(p.SafeID).Get(); ok {
				v.RequireTrue("redemptionQueue.rankValue",
					node.Value.Eq(uint256FromBig(nextRec.Weight)),
					nextRec.Weight.String(), node.Value.String())
			}
		}
	}

	v.RequireEqualBig("ledger.totalDebt",
		sum(prev.Ledger.TotalDebt, pendingDebt, neg(p.Amount)), next.Ledger.TotalDebt)
	v.RequireEqualBig("ledger.totalCollateral",
		sum(prev.Ledger.TotalCollateral, pendingColl, neg(collOut)), next.Ledger.TotalCollateral)

	verifyQueueUnchanged(v, "liquidationQueue", prev.LiquidationQ, next.LiquidationQ, p.SafeID)
	verifyQueueUnchanged(v, "redemptionQueue", prev.RedemptionQ, next.RedemptionQ, p.SafeID)

	gov := verifyGovStream(v, prev, next, a.cfg, false)
	verifyPoolQuietExceptGov(v, prev, next)
	verifyPoolUsersUntouched(v, prev, next)
	verifySafesUntouched(v, prev, next, p.SafeID)

	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, map[common.Address]*big.Int{
		actor.Address: neg(p.Amount),
	})
	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
		next.Addresses.Vault: neg(collOut),
		actor.Address:        new(big.Int).Set(collOut),
	})
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, govOnlyDeltas(next, gov.Emitted))
	return v
}

var _ sim.Action = (*Redeem)(nil)
