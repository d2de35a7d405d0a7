package actions

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablebasesim/sim"
)

// ClaimParams carry no choices: a claim settles everything pending.
type ClaimParams struct{}

func (ClaimParams) String() string { return "claim{}" }

// Claim pays out the actor's pending stability pool gains minus the claim
// fee, which goes to the fee sink.
type Claim struct {
	ep  sim.Endpoint
	cfg Config
}

// NewClaim returns the action bound to an endpoint.
func NewClaim(ep sim.Endpoint, cfg Config) *Claim {
	return &Claim{ep: ep, cfg: cfg}
}

func (a *Claim) Name() string { return "claim" }

func (a *Claim) Propose(_ context.Context, actor *sim.Actor, snap *sim.StateSnapshot, _ *sim.Source) (sim.Params, bool, error) {
	if !snap.Pool.User(actor.Address).IsPresent() {
		return nil, false, nil
	}
	return ClaimParams{}, true, nil
}

func (a *Claim) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	return a.ep.Claim(ctx, actor.Address)
}

func (a *Claim) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(ClaimParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)
	verifyAccumulatorsUnchanged(v, prev, next)
	verifyPositionsQuiet(v, prev, next)

	gov := verifyGovStream(v, prev, next, a.cfg, false)
	s := predictStakerSettlement(prev, actor.Address, gov.PerToken)
	verifyPayoutEvent(v, out, sim.EventClaimed, s)

	rewardFee := sim.FeeCut(s.Reward, a.cfg.ClaimFeeBps)
	collFee := sim.FeeCut(s.Collateral, a.cfg.ClaimFeeBps)
	govFee := sim.FeeCut(s.Gov, a.cfg.ClaimFeeBps)
	if ev, ok := out.FindEvent(sim.EventClaimed); ok {
		v.RequireTrue("event.rewardFee", ev.Attrs[sim.AttrRewardFee] == rewardFee.String(),
			rewardFee.String(), ev.Attrs[sim.AttrRewardFee])
		v.RequireTrue("event.collateralFee", ev.Attrs[sim.AttrCollateralFee] == collFee.String(),
			collFee.String(), ev.Attrs[sim.AttrCollateralFee])
		v.RequireTrue("event.govFee", ev.Attrs[sim.AttrGovFee] == govFee.String(),
			govFee.String(), ev.Attrs[sim.AttrGovFee])
	}

	// A claim changes only the actor's snapshots; the stake compounds but the
	// pool totals stay put.
	verifyStakerSettled(v, next, actor.Address, s.Compounded)
	verifyPoolQuietExceptGov(v, prev, next)
	verifyPoolUsersUntouched(v, prev, next, actor.Address)

	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, map[common.Address]*big.Int{
		actor.Address:          sum(s.Reward, neg(rewardFee)),
		next.Addresses.FeeSink: rewardFee,
		next.Addresses.Pool:    neg(s.Reward),
	})
	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
		actor.Address:          sum(s.Collateral, neg(collFee)),
		next.Addresses.FeeSink: collFee,
		next.Addresses.Pool:    neg(s.Collateral),
	})
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, map[common.Address]*big.Int{
		actor.Address:          sum(s.Gov, neg(govFee)),
		next.Addresses.FeeSink: govFee,
		next.Addresses.Pool:    sum(gov.Emitted, neg(s.Gov)),
	})
	return v
}

var _ sim.Action = (*Claim)(nil)
