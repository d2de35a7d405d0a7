package protocol

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errSafeExists         = errors.New("protocol: safe id already open")
	errSafeNotFound       = errors.New("protocol: safe not found")
	errNotOwner           = errors.New("protocol: caller does not own safe")
	errInvalidAmount      = errors.New("protocol: amount must be positive")
	errInvalidPrice       = errors.New("protocol: price must be positive")
	errInvalidSafeID      = errors.New("protocol: safe id must be positive")
	errBelowMinimumRatio  = errors.New("protocol: position would fall below liquidation ratio")
	errRepayExceedsDebt   = errors.New("protocol: repay amount exceeds outstanding debt")
	errDebtOutstanding    = errors.New("protocol: safe still carries debt")
	errNoDebt             = errors.New("protocol: safe has no outstanding debt")
	errNothingToLiquidate = errors.New("protocol: liquidation queue is empty")
	errSafeHealthy        = errors.New("protocol: tail safe is not liquidatable")
	errNothingToRedeem    = errors.New("protocol: redemption queue is empty")
	errRedeemExceedsDebt  = errors.New("protocol: redemption exceeds safe debt")
	errRedeemCollateral   = errors.New("protocol: safe collateral cannot cover redemption")
	errFeeConsumesBorrow  = errors.New("protocol: shielding fee consumes entire borrow")
	errStakeTooLarge      = errors.New("protocol: unstake amount exceeds stake")
	errNoPoolPosition     = errors.New("protocol: no stability pool position")
)

// Engine is the reference protocol state machine. It is single-threaded by
// contract: the harness serializes operations, so no locking is needed.
type Engine struct {
	params   Params
	price    *big.Int
	mode     Mode
	sequence uint64

	totalCollateral                       *big.Int
	totalDebt                             *big.Int
	cumulativeDebtPerUnitCollateral       *big.Int
	cumulativeCollateralPerUnitCollateral *big.Int

	safes        map[uint64]*Safe
	liquidationQ *OrderedList
	redemptionQ  *OrderedList
	pool         *StabilityPool

	collateral *TokenLedger
	debtToken  *TokenLedger
	govToken   *TokenLedger
}

// NewEngine constructs an engine with the given parameters and empty state.
func NewEngine(params Params) *Engine {
	price := params.InitialCollateralPrice
	if price == nil || price.Sign() <= 0 {
		price = new(big.Int).Set(precision)
	}
	return &Engine{
		params:                                params,
		price:                                 new(big.Int).Set(price),
		totalCollateral:                       new(big.Int),
		totalDebt:                             new(big.Int),
		cumulativeDebtPerUnitCollateral:       new(big.Int),
		cumulativeCollateralPerUnitCollateral: new(big.Int),
		safes:                                 make(map[uint64]*Safe),
		liquidationQ:                          NewOrderedList(false),
		redemptionQ:                           NewOrderedList(true),
		pool:                                  NewStabilityPool(params.GovEmissionPerStep, params.GovEmissionBudget),
		collateral:                            NewTokenLedger("COLL"),
		debtToken:                             NewTokenLedger("SBD"),
		govToken:                              NewTokenLedger("SBR"),
	}
}

// FundAccount mints native collateral to an address. Used to seed actor
// balances at run start.
func (e *Engine) FundAccount(addr common.Address, amount *big.Int) {
	e.collateral.Mint(addr, amount)
}

// advance bumps the sequence counter, accrues pending governance emission
// into the pool, and returns the new sequence number. Every public operation
// calls it exactly once, first thing.
func (e *Engine) advance() uint64 {
	e.sequence++
	emitted := e.pool.accrueGov(e.sequence)
	if emitted.Sign() > 0 {
		e.govToken.Mint(PoolAddress, emitted)
	}
	return e.sequence
}

// settleSafe folds the accumulator deltas since the safe's last touch into
// its debt and collateral, then pins the snapshots to the current globals.
// Both pending shares are computed against the pre-settlement collateral.
func (e *Engine) settleSafe(s *Safe) {
	pendingDebt := pendingShare(s.CollateralAmount, e.cumulativeDebtPerUnitCollateral, s.DebtPerCollateralSnapshot)
	pendingColl := pendingShare(s.CollateralAmount, e.cumulativeCollateralPerUnitCollateral, s.CollateralPerCollateralSnapshot)
	if pendingDebt.Sign() > 0 {
		s.BorrowedAmount = new(big.Int).Add(s.BorrowedAmount, pendingDebt)
		e.totalDebt = new(big.Int).Add(e.totalDebt, pendingDebt)
	}
	if pendingColl.Sign() > 0 {
		s.CollateralAmount = new(big.Int).Add(s.CollateralAmount, pendingColl)
		e.totalCollateral = new(big.Int).Add(e.totalCollateral, pendingColl)
	}
	s.DebtPerCollateralSnapshot = new(big.Int).Set(e.cumulativeDebtPerUnitCollateral)
	s.CollateralPerCollateralSnapshot = new(big.Int).Set(e.cumulativeCollateralPerUnitCollateral)
}

func (e *Engine) ownedSafe(owner common.Address, id uint64) (*Safe, error) {
	s, ok := e.safes[id]
	if !ok {
		return nil, errSafeNotFound
	}
	if s.Owner != owner {
		return nil, errNotOwner
	}
	return s, nil
}

// collateralValue converts a collateral amount into debt-token value at the
// current oracle price.
func (e *Engine) collateralValue(collateral *big.Int) *big.Int {
	v := new(big.Int).Mul(collateral, e.price)
	return v.Quo(v, precision)
}

// meetsRatio reports whether value×10000 ≥ debt×liquidationRatioBps.
func (e *Engine) meetsRatio(collateral, debt *big.Int) bool {
	if debt.Sign() == 0 {
		return true
	}
	lhs := new(big.Int).Mul(e.collateralValue(collateral), basisPoints)
	rhs := new(big.Int).Mul(debt, new(big.Int).SetUint64(e.params.LiquidationRatioBps))
	return lhs.Cmp(rhs) >= 0
}

func (e *Engine) rerank(s *Safe) {
	if s.BorrowedAmount.Sign() == 0 {
		e.liquidationQ.Remove(s.ID)
		e.redemptionQ.Remove(s.ID)
		return
	}
	e.liquidationQ.Upsert(s.ID, collateralRatioKey(s.CollateralAmount, s.BorrowedAmount))
	e.redemptionQ.Upsert(s.ID, weightKey(s.Weight))
}

// OpenSafe escrows collateral and creates a fresh position with zero debt,
// zero weight, and snapshots pinned to the current accumulators.
func (e *Engine) OpenSafe(owner common.Address, id uint64, collateral *big.Int) (uint64, error) {
	seq := e.advance()
	if id == 0 {
		return seq, errInvalidSafeID
	}
	if _, ok := e.safes[id]; ok {
		return seq, errSafeExists
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return seq, errInvalidAmount
	}
	if err := e.collateral.Transfer(owner, VaultAddress, collateral); err != nil {
		return seq, err
	}
	e.safes[id] = &Safe{
		ID:                              id,
		Owner:                           owner,
		CollateralAmount:                new(big.Int).Set(collateral),
		BorrowedAmount:                  new(big.Int),
		Weight:                          new(big.Int),
		DebtPerCollateralSnapshot:       new(big.Int).Set(e.cumulativeDebtPerUnitCollateral),
		CollateralPerCollateralSnapshot: new(big.Int).Set(e.cumulativeCollateralPerUnitCollateral),
	}
	e.totalCollateral = new(big.Int).Add(e.totalCollateral, collateral)
	return seq, nil
}

// BorrowResult reports the fee charged and whether it was routed to the
// stability pool's reward stream or to the fee sink.
type BorrowResult struct {
	Fee          *big.Int
	FeeToStakers bool
	ModeChanged  bool
}

// Borrow mints debt against a safe. The shielding fee is withheld from the
// minted amount, added to the safe's weight, and distributed to stability
// pool stakers (or the fee sink when the pool is empty).
func (e *Engine) Borrow(owner common.Address, id uint64, amount *big.Int, shieldingRateBps uint64) (uint64, *BorrowResult, error) {
	seq := e.advance()
	s, err := e.ownedSafe(owner, id)
	if err != nil {
		return seq, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return seq, nil, errInvalidAmount
	}
	e.settleSafe(s)

	fee := feeCut(amount, shieldingRateBps)
	net := new(big.Int).Sub(amount, fee)
	if net.Sign() <= 0 {
		return seq, nil, errFeeConsumesBorrow
	}
	projected := new(big.Int).Add(s.BorrowedAmount, amount)
	if !e.meetsRatio(s.CollateralAmount, projected) {
		return seq, nil, errBelowMinimumRatio
	}

	s.BorrowedAmount = projected
	s.Weight = new(big.Int).Add(s.Weight, fee)
	e.totalDebt = new(big.Int).Add(e.totalDebt, amount)

	e.debtToken.Mint(owner, net)
	res := &BorrowResult{Fee: fee}
	if fee.Sign() > 0 {
		if e.pool.TotalStaked().Sign() > 0 {
			e.debtToken.Mint(PoolAddress, fee)
			e.pool.addReward(fee)
			res.FeeToStakers = true
		} else {
			e.debtToken.Mint(FeeSinkAddress, fee)
		}
	}

	if e.mode == ModeBootstrap && e.params.BootstrapDebtThreshold != nil &&
		e.totalDebt.Cmp(e.params.BootstrapDebtThreshold) >= 0 {
		e.mode = ModeNormal
		res.ModeChanged = true
	}

	e.rerank(s)
	return seq, res, nil
}

// Repay burns debt tokens from the owner and reduces the safe's debt. A safe
// repaid to zero leaves both ranked queues but stays open.
func (e *Engine) Repay(owner common.Address, id uint64, amount *big.Int) (uint64, error) {
	seq := e.advance()
	s, err := e.ownedSafe(owner, id)
	if err != nil {
		return seq, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return seq, errInvalidAmount
	}
	e.settleSafe(s)
	if s.BorrowedAmount.Sign() == 0 {
		return seq, errNoDebt
	}
	if amount.Cmp(s.BorrowedAmount) > 0 {
		return seq, errRepayExceedsDebt
	}
	if err := e.debtToken.Burn(owner, amount); err != nil {
		return seq, err
	}
	s.BorrowedAmount = new(big.Int).Sub(s.BorrowedAmount, amount)
	e.totalDebt = new(big.Int).Sub(e.totalDebt, amount)
	e.rerank(s)
	return seq, nil
}

// AddCollateral escrows additional collateral into a safe.
func (e *Engine) AddCollateral(owner common.Address, id uint64, amount *big.Int) (uint64, error) {
	seq := e.advance()
	s, err := e.ownedSafe(owner, id)
	if err != nil {
		return seq, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return seq, errInvalidAmount
	}
	e.settleSafe(s)
	if err := e.collateral.Transfer(owner, VaultAddress, amount); err != nil {
		return seq, err
	}
	s.CollateralAmount = new(big.Int).Add(s.CollateralAmount, amount)
	e.totalCollateral = new(big.Int).Add(e.totalCollateral, amount)
	e.rerank(s)
	return seq, nil
}

// WithdrawCollateral releases collateral back to the owner. Withdrawing the
// full balance closes the safe, which requires the debt to be zero; partial
// withdrawals must keep the position above the liquidation ratio.
func (e *Engine) WithdrawCollateral(owner common.Address, id uint64, amount *big.Int) (uint64, bool, error) {
	seq := e.advance()
	s, err := e.ownedSafe(owner, id)
	if err != nil {
		return seq, false, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return seq, false, errInvalidAmount
	}
	e.settleSafe(s)
	if amount.Cmp(s.CollateralAmount) > 0 {
		return seq, false, errInvalidAmount
	}
	remaining := new(big.Int).Sub(s.CollateralAmount, amount)
	if remaining.Sign() == 0 {
		if s.BorrowedAmount.Sign() != 0 {
			return seq, false, errDebtOutstanding
		}
	} else if !e.meetsRatio(remaining, s.BorrowedAmount) {
		return seq, false, errBelowMinimumRatio
	}
	if err := e.collateral.Transfer(VaultAddress, owner, amount); err != nil {
		return seq, false, err
	}
	s.CollateralAmount = remaining
	e.totalCollateral = new(big.Int).Sub(e.totalCollateral, amount)
	closed := remaining.Sign() == 0
	if closed {
		e.liquidationQ.Remove(id)
		e.redemptionQ.Remove(id)
		delete(e.safes, id)
	} else {
		e.rerank(s)
	}
	return seq, closed, nil
}

// LiquidationResult describes a completed liquidation.
type LiquidationResult struct {
	SafeID uint64
	Owner  common.Address
	// Debt and Collateral are the safe's post-settlement, pre-liquidation
	// amounts; global totals drop by exactly these.
	Debt       *big.Int
	Collateral *big.Int
	// Fee is the collateral slice paid to the liquidator.
	Fee *big.Int
	// Absorbed is true when the stability pool swallowed the debt; false
	// means the remainder was redistributed to surviving safes through the
	// cumulative accumulators.
	Absorbed bool
}

// Liquidate closes whichever safe currently sits at the liquidation queue's
// tail, provided it is below the liquidation ratio at the current price.
func (e *Engine) Liquidate(liquidator common.Address) (uint64, *LiquidationResult, error) {
	seq := e.advance()
	tail := e.liquidationQ.Tail()
	if tail == 0 {
		return seq, nil, errNothingToLiquidate
	}
	s := e.safes[tail]
	e.settleSafe(s)
	if e.meetsRatio(s.CollateralAmount, s.BorrowedAmount) {
		return seq, nil, errSafeHealthy
	}

	debt := new(big.Int).Set(s.BorrowedAmount)
	coll := new(big.Int).Set(s.CollateralAmount)
	fee := feeCut(coll, e.params.LiquidationFeeBps)
	remainder := new(big.Int).Sub(coll, fee)

	e.liquidationQ.Remove(tail)
	e.redemptionQ.Remove(tail)
	delete(e.safes, tail)
	e.totalCollateral = new(big.Int).Sub(e.totalCollateral, coll)
	e.totalDebt = new(big.Int).Sub(e.totalDebt, debt)

	if fee.Sign() > 0 {
		if err := e.collateral.Transfer(VaultAddress, liquidator, fee); err != nil {
			return seq, nil, err
		}
	}

	res := &LiquidationResult{
		SafeID:     tail,
		Owner:      s.Owner,
		Debt:       debt,
		Collateral: coll,
		Fee:        fee,
	}

	if e.pool.canAbsorb(debt) {
		if err := e.collateral.Transfer(VaultAddress, PoolAddress, remainder); err != nil {
			return seq, nil, err
		}
		if err := e.debtToken.Burn(PoolAddress, debt); err != nil {
			return seq, nil, err
		}
		e.pool.absorb(debt, remainder)
		res.Absorbed = true
		return seq, res, nil
	}

	if e.totalCollateral.Sign() > 0 {
		debtInc := new(big.Int).Mul(debt, precision)
		debtInc.Quo(debtInc, e.totalCollateral)
		e.cumulativeDebtPerUnitCollateral = new(big.Int).Add(e.cumulativeDebtPerUnitCollateral, debtInc)

		collInc := new(big.Int).Mul(remainder, precision)
		collInc.Quo(collInc, e.totalCollateral)
		e.cumulativeCollateralPerUnitCollateral = new(big.Int).Add(e.cumulativeCollateralPerUnitCollateral, collInc)
	} else {
		// Last safe in the system: nothing left to attribute the remainder
		// to, so it falls to the fee sink.
		if remainder.Sign() > 0 {
			if err := e.collateral.Transfer(VaultAddress, FeeSinkAddress, remainder); err != nil {
				return seq, nil, err
			}
		}
	}
	return seq, res, nil
}

// RedemptionResult describes a completed redemption against the queue head.
type RedemptionResult struct {
	SafeID     uint64
	Amount     *big.Int
	Collateral *big.Int
	Closed     bool
}

// Redeem burns debt tokens from the redeemer against the redemption queue's
// head safe and releases the equivalent collateral at the current price.
func (e *Engine) Redeem(redeemer common.Address, amount *big.Int) (uint64, *RedemptionResult, error) {
	seq := e.advance()
	head := e.redemptionQ.Head()
	if head == 0 {
		return seq, nil, errNothingToRedeem
	}
	if amount == nil || amount.Sign() <= 0 {
		return seq, nil, errInvalidAmount
	}
	s := e.safes[head]
	e.settleSafe(s)
	if amount.Cmp(s.BorrowedAmount) > 0 {
		return seq, nil, errRedeemExceedsDebt
	}
	collOut := new(big.Int).Mul(amount, precision)
	collOut.Quo(collOut, e.price)
	if collOut.Cmp(s.CollateralAmount) > 0 {
		return seq, nil, errRedeemCollateral
	}
	if err := e.debtToken.Burn(redeemer, amount); err != nil {
		return seq, nil, err
	}
	if err := e.collateral.Transfer(VaultAddress, redeemer, collOut); err != nil {
		return seq, nil, err
	}
	s.BorrowedAmount = new(big.Int).Sub(s.BorrowedAmount, amount)
	s.CollateralAmount = new(big.Int).Sub(s.CollateralAmount, collOut)
	e.totalDebt = new(big.Int).Sub(e.totalDebt, amount)
	e.totalCollateral = new(big.Int).Sub(e.totalCollateral, collOut)

	res := &RedemptionResult{SafeID: head, Amount: amount, Collateral: collOut}
	if s.CollateralAmount.Sign() == 0 && s.BorrowedAmount.Sign() == 0 {
		e.liquidationQ.Remove(head)
		e.redemptionQ.Remove(head)
		delete(e.safes, head)
		res.Closed = true
		return seq, res, nil
	}
	e.rerank(s)
	return seq, res, nil
}

// SetPrice updates the collateral oracle price.
func (e *Engine) SetPrice(price *big.Int) (uint64, error) {
	seq := e.advance()
	if price == nil || price.Sign() <= 0 {
		return seq, errInvalidPrice
	}
	e.price = new(big.Int).Set(price)
	return seq, nil
}

// PoolPayout reports the pending amounts paid out by a settlement.
type PoolPayout struct {
	Reward     *big.Int
	Collateral *big.Int
	Gov        *big.Int
}

func (e *Engine) payPending(addr common.Address, reward, collateral, gov *big.Int) (*PoolPayout, error) {
	if reward.Sign() > 0 {
		if err := e.debtToken.Transfer(PoolAddress, addr, reward); err != nil {
			return nil, err
		}
	}
	if collateral.Sign() > 0 {
		if err := e.collateral.Transfer(PoolAddress, addr, collateral); err != nil {
			return nil, err
		}
	}
	if gov.Sign() > 0 {
		if err := e.govToken.Transfer(PoolAddress, addr, gov); err != nil {
			return nil, err
		}
	}
	return &PoolPayout{Reward: reward, Collateral: collateral, Gov: gov}, nil
}

// Stake moves debt tokens into the stability pool. Pending gains settle and
// pay out in full first; the first stake ever starts the governance reward
// stream.
func (e *Engine) Stake(user common.Address, amount *big.Int) (uint64, *PoolPayout, error) {
	seq := e.advance()
	if amount == nil || amount.Sign() <= 0 {
		return seq, nil, errInvalidAmount
	}
	u, reward, collateral, gov := e.pool.settleUser(user)
	payout, err := e.payPending(user, reward, collateral, gov)
	if err != nil {
		return seq, nil, err
	}
	if err := e.debtToken.Transfer(user, PoolAddress, amount); err != nil {
		return seq, nil, err
	}
	e.pool.addStake(u, amount)
	e.pool.startGov(seq)
	return seq, payout, nil
}

// Unstake withdraws part of a compounded stake after settlement.
func (e *Engine) Unstake(user common.Address, amount *big.Int) (uint64, *PoolPayout, error) {
	seq := e.advance()
	if amount == nil || amount.Sign() <= 0 {
		return seq, nil, errInvalidAmount
	}
	u, reward, collateral, gov := e.pool.settleUser(user)
	if amount.Cmp(u.Stake) > 0 {
		return seq, nil, errStakeTooLarge
	}
	payout, err := e.payPending(user, reward, collateral, gov)
	if err != nil {
		return seq, nil, err
	}
	if err := e.debtToken.Transfer(PoolAddress, user, amount); err != nil {
		return seq, nil, err
	}
	e.pool.removeStake(u, amount)
	return seq, payout, nil
}

// ClaimResult reports a claim's gross pendings and the fee withheld per
// asset.
type ClaimResult struct {
	Reward        *big.Int
	Collateral    *big.Int
	Gov           *big.Int
	RewardFee     *big.Int
	CollateralFee *big.Int
	GovFee        *big.Int
}

// Claim settles a staker and pays out all pending gains minus the claim fee,
// which goes to the fee sink. The user's snapshots end pinned to the pool's
// current accumulators.
func (e *Engine) Claim(user common.Address) (uint64, *ClaimResult, error) {
	seq := e.advance()
	if _, ok := e.pool.users[user]; !ok {
		return seq, nil, errNoPoolPosition
	}
	_, reward, collateral, gov := e.pool.settleUser(user)

	res := &ClaimResult{
		Reward:        reward,
		Collateral:    collateral,
		Gov:           gov,
		RewardFee:     feeCut(reward, e.params.ClaimFeeBps),
		CollateralFee: feeCut(collateral, e.params.ClaimFeeBps),
		GovFee:        feeCut(gov, e.params.ClaimFeeBps),
	}
	netReward := new(big.Int).Sub(reward, res.RewardFee)
	netColl := new(big.Int).Sub(collateral, res.CollateralFee)
	netGov := new(big.Int).Sub(gov, res.GovFee)
	if _, err := e.payPending(user, netReward, netColl, netGov); err != nil {
		return seq, nil, err
	}
	for _, f := range []struct {
		ledger *TokenLedger
		fee    *big.Int
	}{
		{e.debtToken, res.RewardFee},
		{e.collateral, res.CollateralFee},
		{e.govToken, res.GovFee},
	} {
		if f.fee.Sign() > 0 {
			if err := f.ledger.Transfer(PoolAddress, FeeSinkAddress, f.fee); err != nil {
				return seq, nil, err
			}
		}
	}
	return seq, res, nil
}
