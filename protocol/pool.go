package protocol

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolUser is one stability pool staker. Snapshots are captured at the
// user's last touch; the difference to the pool's cumulative accumulators
// yields the lazily-accrued pending amounts.
type PoolUser struct {
	Address               common.Address
	Stake                 *big.Int
	RewardSnapshot        *big.Int
	CollateralSnapshot    *big.Int
	GovRewardSnapshot     *big.Int
	ScalingFactorSnapshot *big.Int
}

// StabilityPool absorbs liquidated debt in exchange for the seized
// collateral, distributed to stakers per token. Stakes shrink through a
// multiplicative scaling factor rather than per-user writes; rewards accrue
// through per-token cumulative accumulators.
type StabilityPool struct {
	totalStaked        *big.Int
	rewardPerToken     *big.Int
	collateralPerToken *big.Int
	govRewardPerToken  *big.Int
	scalingFactor      *big.Int
	govStatus          RewardStatus
	govBudget          *big.Int
	govPerStep         *big.Int
	lastGovSequence    uint64
	users              map[common.Address]*PoolUser
}

// NewStabilityPool returns an empty pool with the given governance emission
// schedule.
func NewStabilityPool(govPerStep, govBudget *big.Int) *StabilityPool {
	return &StabilityPool{
		totalStaked:        new(big.Int),
		rewardPerToken:     new(big.Int),
		collateralPerToken: new(big.Int),
		govRewardPerToken:  new(big.Int),
		scalingFactor:      new(big.Int).Set(precision),
		govBudget:          cloneOrZero(govBudget),
		govPerStep:         cloneOrZero(govPerStep),
		users:              make(map[common.Address]*PoolUser),
	}
}

// TotalStaked returns the pool's current effective stake total.
func (p *StabilityPool) TotalStaked() *big.Int { return new(big.Int).Set(p.totalStaked) }

// GovStatus returns the governance reward stream status.
func (p *StabilityPool) GovStatus() RewardStatus { return p.govStatus }

// RewardPerToken returns the cumulative debt-token reward accumulator.
func (p *StabilityPool) RewardPerToken() *big.Int { return new(big.Int).Set(p.rewardPerToken) }

// CollateralPerToken returns the cumulative collateral gain accumulator.
func (p *StabilityPool) CollateralPerToken() *big.Int { return new(big.Int).Set(p.collateralPerToken) }

// GovRewardPerToken returns the cumulative governance reward accumulator.
func (p *StabilityPool) GovRewardPerToken() *big.Int { return new(big.Int).Set(p.govRewardPerToken) }

// ScalingFactor returns the multiplicative stake-scaling factor.
func (p *StabilityPool) ScalingFactor() *big.Int { return new(big.Int).Set(p.scalingFactor) }

// GovBudget returns the governance emission remaining.
func (p *StabilityPool) GovBudget() *big.Int { return new(big.Int).Set(p.govBudget) }

// LastGovSequence returns the sequence of the last governance accrual.
func (p *StabilityPool) LastGovSequence() uint64 { return p.lastGovSequence }

func (p *StabilityPool) ensureUser(addr common.Address) *PoolUser {
	if u, ok := p.users[addr]; ok {
		return u
	}
	u := &PoolUser{
		Address:               addr,
		Stake:                 new(big.Int),
		RewardSnapshot:        new(big.Int).Set(p.rewardPerToken),
		CollateralSnapshot:    new(big.Int).Set(p.collateralPerToken),
		GovRewardSnapshot:     new(big.Int).Set(p.govRewardPerToken),
		ScalingFactorSnapshot: new(big.Int).Set(p.scalingFactor),
	}
	p.users[addr] = u
	return u
}

// settleUser compounds the user's stake through the scaling factor and
// computes the pending amounts accrued since the last touch, then pins the
// user's snapshots to the pool's current accumulators. The pending amounts
// are returned for the caller to pay out or fold into state.
func (p *StabilityPool) settleUser(addr common.Address) (u *PoolUser, reward, collateral, gov *big.Int) {
	u = p.ensureUser(addr)
	reward = pendingShare(u.Stake, p.rewardPerToken, u.RewardSnapshot)
	collateral = pendingShare(u.Stake, p.collateralPerToken, u.CollateralSnapshot)
	gov = pendingShare(u.Stake, p.govRewardPerToken, u.GovRewardSnapshot)

	if u.Stake.Sign() > 0 && u.ScalingFactorSnapshot.Sign() > 0 &&
		u.ScalingFactorSnapshot.Cmp(p.scalingFactor) != 0 {
		compounded := new(big.Int).Mul(u.Stake, p.scalingFactor)
		u.Stake = compounded.Quo(compounded, u.ScalingFactorSnapshot)
	}

	u.RewardSnapshot = new(big.Int).Set(p.rewardPerToken)
	u.CollateralSnapshot = new(big.Int).Set(p.collateralPerToken)
	u.GovRewardSnapshot = new(big.Int).Set(p.govRewardPerToken)
	u.ScalingFactorSnapshot = new(big.Int).Set(p.scalingFactor)
	return u, reward, collateral, gov
}

// accrueGov advances the governance reward accumulator for the elapsed
// sequence distance and returns the amount newly emitted. The stream ends
// permanently once the budget is exhausted.
func (p *StabilityPool) accrueGov(sequence uint64) *big.Int {
	emitted := new(big.Int)
	if p.govStatus != RewardStarted {
		return emitted
	}
	if sequence <= p.lastGovSequence {
		return emitted
	}
	elapsed := sequence - p.lastGovSequence
	p.lastGovSequence = sequence
	if p.totalStaked.Sign() == 0 || p.govPerStep.Sign() == 0 {
		return emitted
	}
	emitted.Mul(p.govPerStep, new(big.Int).SetUint64(elapsed))
	if emitted.Cmp(p.govBudget) >= 0 {
		emitted.Set(p.govBudget)
	}
	if emitted.Sign() == 0 {
		return emitted
	}
	p.govBudget = new(big.Int).Sub(p.govBudget, emitted)
	inc := new(big.Int).Mul(emitted, precision)
	inc.Quo(inc, p.totalStaked)
	p.govRewardPerToken = new(big.Int).Add(p.govRewardPerToken, inc)
	if p.govBudget.Sign() == 0 {
		p.govStatus = RewardEnded
	}
	return emitted
}

// startGov flips the reward stream to started on its first qualifying
// trigger. Ended is terminal.
func (p *StabilityPool) startGov(sequence uint64) {
	if p.govStatus == RewardNotStarted {
		p.govStatus = RewardStarted
		p.lastGovSequence = sequence
	}
}

// addStake increases the user's stake after settlement.
func (p *StabilityPool) addStake(u *PoolUser, amount *big.Int) {
	u.Stake = new(big.Int).Add(u.Stake, amount)
	p.totalStaked = new(big.Int).Add(p.totalStaked, amount)
}

// removeStake decreases the user's stake after settlement. The caller
// guarantees amount does not exceed the compounded stake.
func (p *StabilityPool) removeStake(u *PoolUser, amount *big.Int) {
	u.Stake = new(big.Int).Sub(u.Stake, amount)
	p.totalStaked = new(big.Int).Sub(p.totalStaked, amount)
}

// addReward folds a debt-token fee into the per-token reward accumulator.
// The caller guarantees the pool is not empty.
func (p *StabilityPool) addReward(fee *big.Int) {
	inc := new(big.Int).Mul(fee, precision)
	inc.Quo(inc, p.totalStaked)
	p.rewardPerToken = new(big.Int).Add(p.rewardPerToken, inc)
}

// canAbsorb reports whether the pool can swallow a liquidation of the given
// debt without collapsing: the stake total must strictly exceed the debt and
// the scaled-down factor must stay positive.
func (p *StabilityPool) canAbsorb(debt *big.Int) bool {
	if p.totalStaked.Cmp(debt) <= 0 {
		return false
	}
	remainder := new(big.Int).Sub(p.totalStaked, debt)
	next := new(big.Int).Mul(p.scalingFactor, remainder)
	next.Quo(next, p.totalStaked)
	return next.Sign() > 0
}

// absorb consumes debt from the pool's stakes via the multiplicative scaling
// factor and credits the seized collateral to the per-token collateral
// accumulator. The caller has already checked canAbsorb.
func (p *StabilityPool) absorb(debt, collateral *big.Int) {
	inc := new(big.Int).Mul(collateral, precision)
	inc.Quo(inc, p.totalStaked)
	p.collateralPerToken = new(big.Int).Add(p.collateralPerToken, inc)

	remainder := new(big.Int).Sub(p.totalStaked, debt)
	next := new(big.Int).Mul(p.scalingFactor, remainder)
	p.scalingFactor = next.Quo(next, p.totalStaked)
	p.totalStaked = remainder
}

// Users returns a deep copy of every staker record.
func (p *StabilityPool) Users() map[common.Address]*PoolUser {
	out := make(map[common.Address]*PoolUser, len(p.users))
	for addr, u := range p.users {
		out[addr] = &PoolUser{
			Address:               u.Address,
			Stake:                 new(big.Int).Set(u.Stake),
			RewardSnapshot:        new(big.Int).Set(u.RewardSnapshot),
			CollateralSnapshot:    new(big.Int).Set(u.CollateralSnapshot),
			GovRewardSnapshot:     new(big.Int).Set(u.GovRewardSnapshot),
			ScalingFactorSnapshot: new(big.Int).Set(u.ScalingFactorSnapshot),
		}
	}
	return out
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
