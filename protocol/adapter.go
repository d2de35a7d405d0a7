package protocol

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"stablebasesim/sim"
)

// Adapter exposes an Engine through the harness boundaries: sim.Endpoint for
// operations and sim.SnapshotProvider for consistent state captures. It is
// the only place where engine results turn into domain events.
type Adapter struct {
	engine *Engine
}

// NewAdapter wraps an engine.
func NewAdapter(engine *Engine) *Adapter {
	return &Adapter{engine: engine}
}

// Engine returns the wrapped engine; tests use it for direct funding.
func (a *Adapter) Engine() *Engine { return a.engine }

var _ sim.Endpoint = (*Adapter)(nil)
var _ sim.SnapshotProvider = (*Adapter)(nil)

func rejected(seq uint64, err error) (sim.Outcome, error) {
	return sim.Outcome{OK: false, Sequence: seq},
		fmt.Errorf("%w: %v", sim.ErrExecutionRejected, err)
}

func accepted(seq uint64, events ...sim.Event) (sim.Outcome, error) {
	return sim.Outcome{OK: true, Sequence: seq, Events: events}, nil
}

func event(typ string, attrs map[string]string) sim.Event {
	return sim.Event{Type: typ, Attrs: attrs}
}

// OpenSafe implements sim.Endpoint.
func (a *Adapter) OpenSafe(_ context.Context, owner common.Address, id uint64, collateral *big.Int) (sim.Outcome, error) {
	seq, err := a.engine.OpenSafe(owner, id, collateral)
	if err != nil {
		return rejected(seq, err)
	}
	return accepted(seq, event(sim.EventSafeOpened, map[string]string{
		sim.AttrSafeID:     strconv.FormatUint(id, 10),
		sim.AttrOwner:      owner.Hex(),
		sim.AttrCollateral: collateral.String(),
	}))
}

// Borrow implements sim.Endpoint.
func (a *Adapter) Borrow(_ context.Context, owner common.Address, id uint64, amount *big.Int, shieldingRateBps uint64) (sim.Outcome, error) {
	seq, res, err := a.engine.Borrow(owner, id, amount, shieldingRateBps)
	if err != nil {
		return rejected(seq, err)
	}
	events := []sim.Event{event(sim.EventBorrowed, map[string]string{
		sim.AttrSafeID:       strconv.FormatUint(id, 10),
		sim.AttrAmount:       amount.String(),
		sim.AttrFee:          res.Fee.String(),
		sim.AttrFeeToStakers: strconv.FormatBool(res.FeeToStakers),
	})}
	if res.ModeChanged {
		events = append(events, event(sim.EventModeChanged, nil))
	}
	return accepted(seq, events...)
}

// Repay implements sim.Endpoint.
func (a *Adapter) Repay(_ context.Context, owner common.Address, id uint64, amount *big.Int) (sim.Outcome, error) {
	seq, err := a.engine.Repay(owner, id, amount)
	if err != nil {
		return rejected(seq, err)
	}
	return accepted(seq, event(sim.EventRepaid, map[string]string{
		sim.AttrSafeID: strconv.FormatUint(id, 10),
		sim.AttrAmount: amount.String(),
	}))
}

// AddCollateral implements sim.Endpoint.
func (a *Adapter) AddCollateral(_ context.Context, owner common.Address, id uint64, amount *big.Int) (sim.Outcome, error) {
	seq, err := a.engine.AddCollateral(owner, id, amount)
	if err != nil {
		return rejected(seq, err)
	}
	return accepted(seq, event(sim.EventCollateralAdded, map[string]string{
		sim.AttrSafeID: strconv.FormatUint(id, 10),
		sim.AttrAmount: amount.String(),
	}))
}

// WithdrawCollateral implements sim.Endpoint.
func (a *Adapter) WithdrawCollateral(_ context.Context, owner common.Address, id uint64, amount *big.Int) (sim.Outcome, error) {
	seq, closed, err := a.engine.WithdrawCollateral(owner, id, amount)
	if err != nil {
		return rejected(seq, err)
	}
	events := []sim.Event{event(sim.EventCollateralWithdrawn, map[string]string{
		sim.AttrSafeID: strconv.FormatUint(id, 10),
		sim.AttrAmount: amount.String(),
		sim.AttrClosed: strconv.FormatBool(closed),
	})}
	if closed {
		events = append(events, event(sim.EventSafeClosed, map[string]string{
			sim.AttrSafeID: strconv.FormatUint(id, 10),
		}))
	}
	return accepted(seq, events...)
}

// Liquidate implements sim.Endpoint.
func (a *Adapter) Liquidate(_ context.Context, liquidator common.Address) (sim.Outcome, error) {
	seq, res, err := a.engine.Liquidate(liquidator)
	if err != nil {
		return rejected(seq, err)
	}
	mode := sim.LiquidationRedistributed
	if res.Absorbed {
		mode = sim.LiquidationAbsorbed
	}
	return accepted(seq, event(sim.EventLiquidated, map[string]string{
		sim.AttrSafeID:          strconv.FormatUint(res.SafeID, 10),
		sim.AttrOwner:           res.Owner.Hex(),
		sim.AttrDebt:            res.Debt.String(),
		sim.AttrCollateral:      res.Collateral.String(),
		sim.AttrFee:             res.Fee.String(),
		sim.AttrLiquidationMode: mode,
	}))
}

// Redeem implements sim.Endpoint.
func (a *Adapter) Redeem(_ context.Context, redeemer common.Address, amount *big.Int) (sim.Outcome, error) {
	seq, res, err := a.engine.Redeem(redeemer, amount)
	if err != nil {
		return rejected(seq, err)
	}
	return accepted(seq, event(sim.EventRedeemed, map[string]string{
		sim.AttrSafeID:     strconv.FormatUint(res.SafeID, 10),
		sim.AttrAmount:     res.Amount.String(),
		sim.AttrCollateral: res.Collateral.String(),
		sim.AttrClosed:     strconv.FormatBool(res.Closed),
	}))
}

// SetPrice implements sim.Endpoint.
func (a *Adapter) SetPrice(_ context.Context, price *big.Int) (sim.Outcome, error) {
	seq, err := a.engine.SetPrice(price)
	if err != nil {
		return rejected(seq, err)
	}
	return accepted(seq, event(sim.EventPriceUpdated, map[string]string{
		sim.AttrPrice: price.String(),
	}))
}

func payoutAttrs(amount *big.Int, payout *PoolPayout) map[string]string {
	return map[string]string{
		sim.AttrAmount:     amount.String(),
		sim.AttrReward:     payout.Reward.String(),
		sim.AttrCollateral: payout.Collateral.String(),
		sim.AttrGov:        payout.Gov.String(),
	}
}

// Stake implements sim.Endpoint.
func (a *Adapter) Stake(_ context.Context, user common.Address, amount *big.Int) (sim.Outcome, error) {
	seq, payout, err := a.engine.Stake(user, amount)
	if err != nil {
		return rejected(seq, err)
	}
	return accepted(seq, event(sim.EventStaked, payoutAttrs(amount, payout)))
}

// Unstake implements sim.Endpoint.
func (a *Adapter) Unstake(_ context.Context, user common.Address, amount *big.Int) (sim.Outcome, error) {
	seq, payout, err := a.engine.Unstake(user, amount)
	if err != nil {
		return rejected(seq, err)
	}
	return accepted(seq, event(sim.EventUnstaked, payoutAttrs(amount, payout)))
}

// Claim implements sim.Endpoint.
func (a *Adapter) Claim(_ context.Context, user common.Address) (sim.Outcome, error) {
	seq, res, err := a.engine.Claim(user)
	if err != nil {
		return rejected(seq, err)
	}
	return accepted(seq, event(sim.EventClaimed, map[string]string{
		sim.AttrReward:        res.Reward.String(),
		sim.AttrCollateral:    res.Collateral.String(),
		sim.AttrGov:           res.Gov.String(),
		sim.AttrRewardFee:     res.RewardFee.String(),
		sim.AttrCollateralFee: res.CollateralFee.String(),
		sim.AttrGovFee:        res.GovFee.String(),
	}))
}

// TakeSnapshot implements sim.SnapshotProvider with a deep copy of all
// observable engine state.
func (a *Adapter) TakeSnapshot(_ context.Context) (*sim.StateSnapshot, error) {
	e := a.engine

	safes := make(map[uint64]sim.SafeRecord, len(e.safes))
	for id, s := range e.Safes() {
		safes[id] = sim.SafeRecord{
			ID:                              s.ID,
			Owner:                           s.Owner,
			CollateralAmount:                s.CollateralAmount,
			BorrowedAmount:                  s.BorrowedAmount,
			Weight:                          s.Weight,
			DebtPerCollateralSnapshot:       s.DebtPerCollateralSnapshot,
			CollateralPerCollateralSnapshot: s.CollateralPerCollateralSnapshot,
		}
	}

	users := make(map[common.Address]sim.PoolUserRecord)
	for addr, u := range e.pool.Users() {
		users[addr] = sim.PoolUserRecord{
			Stake:                 u.Stake,
			RewardSnapshot:        u.RewardSnapshot,
			CollateralSnapshot:    u.CollateralSnapshot,
			GovRewardSnapshot:     u.GovRewardSnapshot,
			ScalingFactorSnapshot: u.ScalingFactorSnapshot,
		}
	}

	return &sim.StateSnapshot{
		Sequence:        e.sequence,
		CollateralPrice: e.Price(),
		Ledger: sim.LedgerRecord{
			TotalCollateral:                       e.TotalCollateral(),
			TotalDebt:                             e.TotalDebt(),
			CumulativeDebtPerUnitCollateral:       e.CumulativeDebtPerUnitCollateral(),
			CumulativeCollateralPerUnitCollateral: e.CumulativeCollateralPerUnitCollateral(),
			Mode:                                  sim.Mode(e.mode),
		},
		Safes:        safes,
		LiquidationQ: queueRecord(e.liquidationQ),
		RedemptionQ:  queueRecord(e.redemptionQ),
		Pool: sim.PoolRecord{
			TotalStaked:        e.pool.TotalStaked(),
			RewardPerToken:     e.pool.RewardPerToken(),
			CollateralPerToken: e.pool.CollateralPerToken(),
			GovRewardPerToken:  e.pool.GovRewardPerToken(),
			ScalingFactor:      e.pool.ScalingFactor(),
			GovStatus:          sim.RewardStatus(e.pool.GovStatus()),
			GovBudget:          e.pool.GovBudget(),
			LastGovUpdate:      e.pool.LastGovSequence(),
			Users:              users,
		},
		Collateral: e.CollateralBalances(),
		DebtToken:  e.DebtTokenBalances(),
		GovToken:   e.GovTokenBalances(),
		Addresses: sim.SystemAddresses{
			Vault:   VaultAddress,
			Pool:    PoolAddress,
			FeeSink: FeeSinkAddress,
		},
	}, nil
}

func queueRecord(l *OrderedList) sim.QueueRecord {
	nodes := make(map[uint64]sim.QueueNode, l.Len())
	for id, n := range l.Nodes() {
		nodes[id] = sim.QueueNode{Value: n.Value, Prev: n.Prev, Next: n.Next}
	}
	return sim.QueueRecord{Head: l.Head(), Tail: l.Tail(), Nodes: nodes}
}
