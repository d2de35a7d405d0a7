package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablebasesim/sim"
)

// stakerSettlement is the predicted outcome of settling one stability pool
// staker: the pendings owed against the post-accrual accumulators and the
// compounded stake.
type stakerSettlement struct {
	Reward     *big.Int
	Collateral *big.Int
	Gov        *big.Int
	Compounded *big.Int
}

// predictStakerSettlement replays the pool's lazy settlement for one staker.
// Pendings are computed on the stored stake before compounding; the
// governance pending uses the post-accrual accumulator from the gov stream
// prediction.
func predictStakerSettlement(prev *sim.StateSnapshot, addr common.Address, govPerToken *big.Int) stakerSettlement {
	s := stakerSettlement{
		Reward:     new(big.Int),
		Collateral: new(big.Int),
		Gov:        new(big.Int),
		Compounded: new(big.Int),
	}
	rec, ok := prev.Pool.User(addr).Get()
	if !ok {
		return s
	}
	s.Reward = sim.PendingShare(rec.Stake, prev.Pool.RewardPerToken, rec.RewardSnapshot)
	s.Collateral = sim.PendingShare(rec.Stake, prev.Pool.CollateralPerToken, rec.CollateralSnapshot)
	s.Gov = sim.PendingShare(rec.Stake, govPerToken, rec.GovRewardSnapshot)
	s.Compounded = sim.ExpectedCompoundedStake(rec, prev.Pool)
	return s
}

// verifyPayoutEvent cross-checks the settlement pendings reported by the SUT
// against the predicted ones.
func verifyPayoutEvent(v *sim.Verdict, out sim.Outcome, eventType string, s stakerSettlement) {
	ev, ok := out.FindEvent(eventType)
	if !ok {
		return
	}
	v.RequireTrue("event.reward", ev.Attrs[sim.AttrReward] == s.Reward.String(),
		s.Reward.String(), ev.Attrs[sim.AttrReward])
	v.RequireTrue("event.collateral", ev.Attrs[sim.AttrCollateral] == s.Collateral.String(),
		s.Collateral.String(), ev.Attrs[sim.AttrCollateral])
	v.RequireTrue("event.gov", ev.Attrs[sim.AttrGov] == s.Gov.String(),
		s.Gov.String(), ev.Attrs[sim.AttrGov])
}

// verifyStakerSettled checks the staker's post-step record: exact stake and
// snapshots pinned to the pool's current accumulators.
func verifyStakerSettled(v *sim.Verdict, next *sim.StateSnapshot, addr common.Address, expStake *big.Int) {
	rec, ok := next.Pool.User(addr).Get()
	if !v.RequireTrue("pool.user.tracked", ok, "staker record present", "absent") {
		return
	}
	v.RequireEqualBig("pool.user.stake", expStake, rec.Stake)
	sim.VerifyPoolUserSettled(v, rec, next.Pool)
}

// verifyPositionsQuiet pins everything a pure pool operation must not touch.
func verifyPositionsQuiet(v *sim.Verdict, prev, next *sim.StateSnapshot) {
	v.RequireEqualBig("ledger.totalCollateralUnchanged", prev.Ledger.TotalCollateral, next.Ledger.TotalCollateral)
	v.RequireEqualBig("ledger.totalDebtUnchanged", prev.Ledger.TotalDebt, next.Ledger.TotalDebt)
	verifyQueueUnchanged(v, "liquidationQueue", prev.LiquidationQ, next.LiquidationQ)
	verifyQueueUnchanged(v, "redemptionQueue", prev.RedemptionQ, next.RedemptionQ)
	verifySafesUntouched(v, prev, next)
}

// StakeParams are the chosen parameters for one stake step.
type StakeParams struct {
	Amount *big.Int
}

func (p StakeParams) String() string {
	return fmt.Sprintf("stake{amount=%s}", p.Amount)
}

// Stake moves debt tokens into the stability pool. The first stake ever
// starts the governance reward stream.
type Stake struct {
	ep  sim.Endpoint
	cfg Config
}

// NewStake returns the action bound to an endpoint.
func NewStake(ep sim.Endpoint, cfg Config) *Stake {
	return &Stake{ep: ep, cfg: cfg}
}

func (a *Stake) Name() string { return "stake" }

func (a *Stake) Propose(_ context.Context, actor *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.Params, bool, error) {
	balance := snap.DebtToken.Balance(actor.Address)
	if balance.Sign() <= 0 {
		return nil, false, nil
	}
	return StakeParams{Amount: rng.BigRange(bigOne, balance)}, true, nil
}

func (a *Stake) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	p := params.(StakeParams)
	return a.ep.Stake(ctx, actor.Address, p.Amount)
}

func (a *Stake) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(StakeParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)
	verifyAccumulatorsUnchanged(v, prev, next)
	verifyPositionsQuiet(v, prev, next)

	gov := verifyGovStream(v, prev, next, a.cfg, true)
	s := predictStakerSettlement(prev, actor.Address, gov.PerToken)
	verifyPayoutEvent(v, out, sim.EventStaked, s)

	verifyStakerSettled(v, next, actor.Address, sum(s.Compounded, p.Amount))
	v.RequireEqualBig("pool.totalStaked",
		sum(prev.Pool.TotalStaked, p.Amount), next.Pool.TotalStaked)
	v.RequireEqualBig("pool.rewardPerTokenUnchanged", prev.Pool.RewardPerToken, next.Pool.RewardPerToken)
	v.RequireEqualBig("pool.collateralPerTokenUnchanged", prev.Pool.CollateralPerToken, next.Pool.CollateralPerToken)
	v.RequireEqualBig("pool.scalingFactorUnchanged", prev.Pool.ScalingFactor, next.Pool.ScalingFactor)
	verifyPoolUsersUntouched(v, prev, next, actor.Address)

	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, map[common.Address]*big.Int{
		actor.Address:       sum(s.Reward, neg(p.Amount)),
		next.Addresses.Pool: sum(p.Amount, neg(s.Reward)),
	})
	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
		actor.Address:       s.Collateral,
		next.Addresses.Pool: neg(s.Collateral),
	})
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, map[common.Address]*big.Int{
		actor.Address:       s.Gov,
		next.Addresses.Pool: sum(gov.Emitted, neg(s.Gov)),
	})
	return v
}

var _ sim.Action = (*Stake)(nil)

// UnstakeParams are the chosen parameters for one unstake step.
type UnstakeParams struct {
	Amount *big.Int
}

func (p UnstakeParams) String() string {
	return fmt.Sprintf("unstake{amount=%s}", p.Amount)
}

// Unstake withdraws part of the actor's compounded stake from the stability
// pool.
type Unstake struct {
	ep  sim.Endpoint
	cfg Config
}

// NewUnstake returns the action bound to an endpoint.
func NewUnstake(ep sim.Endpoint, cfg Config) *Unstake {
	return &Unstake{ep: ep, cfg: cfg}
}

func (a *Unstake) Name() string { return "unstake" }

func (a *Unstake) Propose(_ context.Context, actor *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.Params, bool, error) {
	rec, ok := snap.Pool.User(actor.Address).Get()
	if !ok {
		return nil, false, nil
	}
	compounded := sim.ExpectedCompoundedStake(rec, snap.Pool)
	if compounded.Sign() <= 0 {
		return nil, false, nil
	}
	return UnstakeParams{Amount: rng.BigRange(bigOne, compounded)}, true, nil
}

func (a *Unstake) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	p := params.(UnstakeParams)
	return a.ep.Unstake(ctx, actor.Address, p.Amount)
}

func (a *Unstake) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(UnstakeParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)
	verifyAccumulatorsUnchanged(v, prev, next)
	verifyPositionsQuiet(v, prev, next)

	gov := verifyGovStream(v, prev, next, a.cfg, false)
	s := predictStakerSettlement(prev, actor.Address, gov.PerToken)
	verifyPayoutEvent(v, out, sim.EventUnstaked, s)

	verifyStakerSettled(v, next, actor.Address, sum(s.Compounded, neg(p.Amount)))
	v.RequireEqualBig("pool.totalStaked",
		sum(prev.Pool.TotalStaked, neg(p.Amount)), next.Pool.TotalStaked)
	v.RequireEqualBig("pool.rewardPerTokenUnchanged", prev.Pool.RewardPerToken, next.Pool.RewardPerToken)
	v.RequireEqualBig("pool.collateralPerTokenUnchanged", prev.Pool.CollateralPerToken, next.Pool.CollateralPerToken)
	v.RequireEqualBig("pool.scalingFactorUnchanged", prev.Pool.ScalingFactor, next.Pool.ScalingFactor)
	verifyPoolUsersUntouched(v, prev, next, actor.Address)

	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, map[common.Address]*big.Int{
		actor.Address:       sum(s.Reward, p.Amount),
		next.Addresses.Pool: sum(neg(p.Amount), neg(s.Reward)),
	})
	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
		actor.Address:       s.Collateral,
		next.Addresses.Pool: neg(s.Collateral),
	})
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, map[common.Address]*big.Int{
		actor.Address:       s.Gov,
		next.Addresses.Pool: sum(gov.Emitted, neg(s.Gov)),
	})
	return v
}

var _ sim.Action = (*Unstake)(nil)
