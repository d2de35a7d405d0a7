package actions

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stablebasesim/sim"
)

// Config carries the protocol constants the verification arithmetic depends
// on. The runner wires them from the SUT's deployed parameters.
type Config struct {
	LiquidationRatioBps    uint64
	LiquidationFeeBps      uint64
	ClaimFeeBps            uint64
	MaxShieldingRateBps    uint64
	BootstrapDebtThreshold *big.Int
	GovEmissionPerStep     *big.Int
	// MaxSafeID bounds the id space open-safe proposals draw from.
	MaxSafeID uint64
}

// All returns the full action roster against the given endpoint.
func All(ep sim.Endpoint, cfg Config) []sim.Action {
	return []sim.Action{
		NewOpenSafe(ep, cfg),
		NewBorrow(ep, cfg),
		NewRepay(ep, cfg),
		NewAddCollateral(ep, cfg),
		NewWithdrawCollateral(ep, cfg),
		NewLiquidate(ep, cfg),
		NewRedeem(ep, cfg),
		NewSetPrice(ep, cfg),
		NewStake(ep, cfg),
		NewUnstake(ep, cfg),
		NewClaim(ep, cfg),
	}
}

var bigOne = big.NewInt(1)

// pickOwnedSafe draws one of the actor's open safes, or reports none exist.
func pickOwnedSafe(actor *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.SafeRecord, bool) {
	ids := snap.SafesOwnedBy(actor.Address)
	if len(ids) == 0 {
		return sim.SafeRecord{}, false
	}
	id := ids[rng.IntN(uint64(len(ids)))]
	rec, _ := snap.Safe(id).Get()
	return rec, true
}

// collateralValue converts collateral into debt-token value at the given
// price, truncating like the protocol does.
func collateralValue(collateral, price *big.Int) *big.Int {
	v := new(big.Int).Mul(collateral, price)
	return v.Quo(v, sim.Precision)
}

// meetsRatio mirrors the protocol's health predicate:
// value×10000 ≥ debt×ratioBps.
func meetsRatio(collateral, debt, price *big.Int, ratioBps uint64) bool {
	if debt.Sign() == 0 {
		return true
	}
	lhs := new(big.Int).Mul(collateralValue(collateral, price), sim.BasisPoints)
	rhs := new(big.Int).Mul(debt, new(big.Int).SetUint64(ratioBps))
	return lhs.Cmp(rhs) >= 0
}

// liquidationKey mirrors the protocol's liquidation-queue ranking: raw
// collateral per unit debt, precision-scaled.
func liquidationKey(collateral, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int)
	}
	key := new(big.Int).Mul(collateral, sim.Precision)
	return key.Quo(key, debt)
}

// verifyCommon runs the step-independent invariants every action shares.
func verifyCommon(v *sim.Verdict, prev, next *sim.StateSnapshot, out sim.Outcome) {
	v.RequireTrue("outcome.ok", out.OK, "execution acknowledged", "rejected")
	v.RequireEqualUint("snapshot.sequenceMatchesOutcome", out.Sequence, next.Sequence)
	v.RequireEqualUint("snapshot.singleStep", prev.Sequence+1, next.Sequence)
	sim.VerifyAccumulatorsMonotone(v, prev.Ledger, next.Ledger)
	sim.VerifyModeMonotone(v, prev.Ledger.Mode, next.Ledger.Mode)
	sim.VerifyQueueWellFormed(v, "liquidationQueue", next.LiquidationQ)
	sim.VerifyQueueWellFormed(v, "redemptionQueue", next.RedemptionQ)
	sim.VerifyZeroDebtExclusion(v, next)
}

// verifyPriceUnchanged pins the oracle price across steps that must not move
// it.
func verifyPriceUnchanged(v *sim.Verdict, prev, next *sim.StateSnapshot) {
	v.RequireEqualBig("price.unchanged", prev.CollateralPrice, next.CollateralPrice)
}

// verifyAccumulatorsUnchanged pins both global accumulators for steps that
// cannot redistribute.
func verifyAccumulatorsUnchanged(v *sim.Verdict, prev, next *sim.StateSnapshot) {
	v.RequireEqualBig("ledger.debtAccumulatorUnchanged",
		prev.Ledger.CumulativeDebtPerUnitCollateral, next.Ledger.CumulativeDebtPerUnitCollateral)
	v.RequireEqualBig("ledger.collateralAccumulatorUnchanged",
		prev.Ledger.CumulativeCollateralPerUnitCollateral, next.Ledger.CumulativeCollateralPerUnitCollateral)
}

// verifySafesUntouched checks every safe not named in touched kept its exact
// record, and that no unexpected safe appeared.
func verifySafesUntouched(v *sim.Verdict, prev, next *sim.StateSnapshot, touched ...uint64) {
	skip := make(map[uint64]bool, len(touched))
	for _, id := range touched {
		skip[id] = true
	}
	for id, prevRec := range prev.Safes {
		if skip[id] {
			continue
		}
		nextRec, ok := next.Safe(id).Get()
		if !v.RequireTrue(fmt.Sprintf("safe.untouchedStillOpen[%d]", id), ok,
			fmt.Sprintf("safe %d still open", id), "absent") {
			continue
		}
		verifySafeRecordEqual(v, id, prevRec, nextRec)
	}
	for id := range next.Safes {
		if skip[id] {
			continue
		}
		v.RequireTrue(fmt.Sprintf("safe.noUnexpected[%d]", id),
			prev.Safe(id).IsPresent(),
			fmt.Sprintf("safe %d existed before the step", id), "appeared unexpectedly")
	}
}

func verifySafeRecordEqual(v *sim.Verdict, id uint64, want, got sim.SafeRecord) {
	prefix := fmt.Sprintf("safe[%d].", id)
	v.RequireTrue(prefix+"owner", want.Owner == got.Owner, want.Owner.Hex(), got.Owner.Hex())
	v.RequireEqualBig(prefix+"collateral", want.CollateralAmount, got.CollateralAmount)
	v.RequireEqualBig(prefix+"borrowed", want.BorrowedAmount, got.BorrowedAmount)
	v.RequireEqualBig(prefix+"weight", want.Weight, got.Weight)
	v.RequireEqualBig(prefix+"debtSnapshot", want.DebtPerCollateralSnapshot, got.DebtPerCollateralSnapshot)
	v.RequireEqualBig(prefix+"collateralSnapshot", want.CollateralPerCollateralSnapshot, got.CollateralPerCollateralSnapshot)
}

// verifyQueueUnchanged checks membership and ranking values survived the
// step for every member except the listed ids.
func verifyQueueUnchanged(v *sim.Verdict, name string, prevQ, nextQ sim.QueueRecord, except ...uint64) {
	skip := make(map[uint64]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}
	for id, prevNode := range prevQ.Nodes {
		if skip[id] {
			continue
		}
		nextNode, ok := nextQ.Node(id).Get()
		if !v.RequireTrue(fmt.Sprintf("%s.memberRetained[%d]", name, id), ok,
			fmt.Sprintf("safe %d still queued", id), "absent") {
			continue
		}
		v.RequireTrue(fmt.Sprintf("%s.rankValueUnchanged[%d]", name, id),
			prevNode.Value.Eq(nextNode.Value),
			prevNode.Value.String(), nextNode.Value.String())
	}
	for id := range nextQ.Nodes {
		if !skip[id] && !prevQ.Node(id).IsPresent() {
			v.Fail(fmt.Sprintf("%s.noUnexpectedMember[%d]", name, id),
				"membership unchanged", fmt.Sprintf("safe %d joined unexpectedly", id))
		}
	}
}

// verifyLedgerDeltas checks a whole balance set against expected per-address
// deltas: every address in either snapshot must move by exactly its listed
// delta, zero when unlisted.
func verifyLedgerDeltas(v *sim.Verdict, name string, prevSet, nextSet sim.BalanceSet, deltas map[common.Address]*big.Int) {
	addrs := make(map[common.Address]bool, len(prevSet)+len(nextSet))
	for a := range prevSet {
		addrs[a] = true
	}
	for a := range nextSet {
		addrs[a] = true
	}
	for a := range deltas {
		addrs[a] = true
	}
	for a := range addrs {
		want := new(big.Int).Set(prevSet.Balance(a))
		if d, ok := deltas[a]; ok && d != nil {
			want.Add(want, d)
		}
		v.RequireEqualBig(fmt.Sprintf("%s.balance[%s]", name, a.Hex()), want, nextSet.Balance(a))
	}
}

// verifyPoolUsersUntouched checks stakers other than the listed address kept
// their stored records.
func verifyPoolUsersUntouched(v *sim.Verdict, prev, next *sim.StateSnapshot, except ...common.Address) {
	skip := make(map[common.Address]bool, len(except))
	for _, a := range except {
		skip[a] = true
	}
	for addr, prevRec := range prev.Pool.Users {
		if skip[addr] {
			continue
		}
		nextRec, ok := next.Pool.User(addr).Get()
		if !v.RequireTrue("pool.user.untouchedStillTracked["+addr.Hex()+"]", ok,
			"staker record retained", "absent") {
			continue
		}
		prefix := "pool.user[" + addr.Hex() + "]."
		v.RequireEqualBig(prefix+"stake", prevRec.Stake, nextRec.Stake)
		v.RequireEqualBig(prefix+"rewardSnapshot", prevRec.RewardSnapshot, nextRec.RewardSnapshot)
		v.RequireEqualBig(prefix+"collateralSnapshot", prevRec.CollateralSnapshot, nextRec.CollateralSnapshot)
		v.RequireEqualBig(prefix+"govSnapshot", prevRec.GovRewardSnapshot, nextRec.GovRewardSnapshot)
		v.RequireEqualBig(prefix+"scalingSnapshot", prevRec.ScalingFactorSnapshot, nextRec.ScalingFactorSnapshot)
	}
}

// govPrediction is the expected governance reward stream state after one
// step, derived purely from the previous snapshot.
type govPrediction struct {
	PerToken   *big.Int
	Budget     *big.Int
	Status     sim.RewardStatus
	LastUpdate uint64
	Emitted    *big.Int
}

// predictGovStream replays the emission schedule for the elapsed sequence
// distance. stakeTrigger marks the one qualifying event that may start the
// stream.
func predictGovStream(prev *sim.StateSnapshot, nextSeq uint64, cfg Config, stakeTrigger bool) govPrediction {
	p := govPrediction{
		PerToken:   new(big.Int).Set(prev.Pool.GovRewardPerToken),
		Budget:     new(big.Int).Set(prev.Pool.GovBudget),
		Status:     prev.Pool.GovStatus,
		LastUpdate: prev.Pool.LastGovUpdate,
		Emitted:    new(big.Int),
	}
	if p.Status == sim.RewardStarted && nextSeq > p.LastUpdate {
		elapsed := nextSeq - p.LastUpdate
		p.LastUpdate = nextSeq
		if prev.Pool.TotalStaked.Sign() > 0 && cfg.GovEmissionPerStep != nil && cfg.GovEmissionPerStep.Sign() > 0 {
			emitted := new(big.Int).Mul(cfg.GovEmissionPerStep, new(big.Int).SetUint64(elapsed))
			if emitted.Cmp(p.Budget) >= 0 {
				emitted.Set(p.Budget)
			}
			if emitted.Sign() > 0 {
				p.Budget = new(big.Int).Sub(p.Budget, emitted)
				inc := new(big.Int).Mul(emitted, sim.Precision)
				inc.Quo(inc, prev.Pool.TotalStaked)
				p.PerToken = new(big.Int).Add(p.PerToken, inc)
				p.Emitted = emitted
				if p.Budget.Sign() == 0 {
					p.Status = sim.RewardEnded
				}
			}
		}
	}
	if stakeTrigger && p.Status == sim.RewardNotStarted {
		p.Status = sim.RewardStarted
		p.LastUpdate = nextSeq
	}
	return p
}

// verifyGovStream checks the governance reward stream transitioned exactly
// as predicted and returns the prediction for balance accounting.
func verifyGovStream(v *sim.Verdict, prev, next *sim.StateSnapshot, cfg Config, stakeTrigger bool) govPrediction {
	p := predictGovStream(prev, next.Sequence, cfg, stakeTrigger)
	sim.VerifyRewardStatusTransition(v, prev.Pool.GovStatus, next.Pool.GovStatus)
	v.RequireTrue("pool.govStatus", next.Pool.GovStatus == p.Status,
		p.Status.String(), next.Pool.GovStatus.String())
	v.RequireEqualBig("pool.govRewardPerToken", p.PerToken, next.Pool.GovRewardPerToken)
	v.RequireEqualBig("pool.govBudget", p.Budget, next.Pool.GovBudget)
	v.RequireEqualUint("pool.govLastUpdate", p.LastUpdate, next.Pool.LastGovUpdate)
	return p
}

// verifyPoolQuietExceptGov pins every pool field that only liquidations and
// stake traffic may move, allowing just the governance accrual.
func verifyPoolQuietExceptGov(v *sim.Verdict, prev, next *sim.StateSnapshot) {
	v.RequireEqualBig("pool.totalStakedUnchanged", prev.Pool.TotalStaked, next.Pool.TotalStaked)
	v.RequireEqualBig("pool.rewardPerTokenUnchanged", prev.Pool.RewardPerToken, next.Pool.RewardPerToken)
	v.RequireEqualBig("pool.collateralPerTokenUnchanged", prev.Pool.CollateralPerToken, next.Pool.CollateralPerToken)
	v.RequireEqualBig("pool.scalingFactorUnchanged", prev.Pool.ScalingFactor, next.Pool.ScalingFactor)
}

// govOnlyDeltas is the governance ledger delta map when nothing but emission
// happened.
func govOnlyDeltas(next *sim.StateSnapshot, emitted *big.Int) map[common.Address]*big.Int {
	if emitted.Sign() == 0 {
		return nil
	}
	return map[common.Address]*big.Int{next.Addresses.Pool: emitted}
}

func neg(v *big.Int) *big.Int { return new(big.Int).Neg(v) }

func sum(vals ...*big.Int) *big.Int {
	out := new(big.Int)
	for _, val := range vals {
		out.Add(out, val)
	}
	return out
}
