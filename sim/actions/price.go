package actions

import (
	"context"
	"fmt"
	"math/big"

	"stablebasesim/sim"
)

// SetPriceParams carry the new oracle price for one step.
type SetPriceParams struct {
	Price *big.Int
}

func (p SetPriceParams) String() string {
	return fmt.Sprintf("setPrice{price=%s}", p.Price)
}

// SetPrice drifts the collateral oracle price by a bounded random factor.
// Price moves never touch positions directly; they only change which safes
// are liquidatable.
type SetPrice struct {
	ep  sim.Endpoint
	cfg Config
}

// NewSetPrice returns the action bound to an endpoint.
func NewSetPrice(ep sim.Endpoint, cfg Config) *SetPrice {
	return &SetPrice{ep: ep, cfg: cfg}
}

func (a *SetPrice) Name() string { return "set_price" }

// Propose scales the current price by a factor in [0.70, 1.30].
func (a *SetPrice) Propose(_ context.Context, _ *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.Params, bool, error) {
	factor := rng.Range(70, 130)
	price := new(big.Int).Mul(snap.CollateralPrice, new(big.Int).SetUint64(factor))
	price.Quo(price, big.NewInt(100))
	if price.Sign() <= 0 {
		return nil, false, nil
	}
	return SetPriceParams{Price: price}, true, nil
}

func (a *SetPrice) Apply(ctx context.Context, _ *sim.Actor, params sim.Params) (sim.Outcome, error) {
	p := params.(SetPriceParams)
	return a.ep.SetPrice(ctx, p.Price)
}

func (a *SetPrice) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(SetPriceParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyAccumulatorsUnchanged(v, prev, next)

	v.RequireEqualBig("price.updated", p.Price, next.CollateralPrice)
	v.RequireEqualBig("ledger.totalCollateralUnchanged", prev.Ledger.TotalCollateral, next.Ledger.TotalCollateral)
	v.RequireEqualBig("ledger.totalDebtUnchanged", prev.Ledger.TotalDebt, next.Ledger.TotalDebt)
	v.RequireTrue("ledger.modeUnchanged", prev.Ledger.Mode == next.Ledger.Mode,
		prev.Ledger.Mode.String(), next.Ledger.Mode.String())

	// A price move re-ranks nothing: the liquidation key is price independent
	// and the redemption key is the fee weight.
	verifyQueueUnchanged(v, "liquidationQueue", prev.LiquidationQ, next.LiquidationQ)
	verifyQueueUnchanged(v, "redemptionQueue", prev.RedemptionQ, next.RedemptionQ)
	verifySafesUntouched(v, prev, next)

	gov := verifyGovStream(v, prev, next, a.cfg, false)
	verifyPoolQuietExceptGov(v, prev, next)
	verifyPoolUsersUntouched(v, prev, next)

	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, nil)
	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, nil)
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, govOnlyDeltas(next, gov.Emitted))
	return v
}

var _ sim.Action = (*SetPrice)(nil)
