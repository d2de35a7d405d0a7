package protocol

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	aliceAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carolAddr = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func wei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), precision)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(DefaultParams())
	e.FundAccount(aliceAddr, wei(1_000))
	e.FundAccount(bobAddr, wei(1_000))
	e.FundAccount(carolAddr, wei(1_000))
	return e
}

func mustOpen(t *testing.T, e *Engine, owner common.Address, id uint64, collateral *big.Int) {
	t.Helper()
	if _, err := e.OpenSafe(owner, id, collateral); err != nil {
		t.Fatalf("open safe %d: %v", id, err)
	}
}

func mustBorrow(t *testing.T, e *Engine, owner common.Address, id uint64, amount *big.Int, rateBps uint64) *BorrowResult {
	t.Helper()
	_, res, err := e.Borrow(owner, id, amount, rateBps)
	if err != nil {
		t.Fatalf("borrow %s against safe %d: %v", amount, id, err)
	}
	return res
}

func requireBig(t *testing.T, label string, want, got *big.Int) {
	t.Helper()
	if want.Cmp(got) != 0 {
		t.Fatalf("%s: got %s want %s", label, got, want)
	}
}

func TestOpenSafeEscrowsCollateral(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(10))

	requireBig(t, "vault balance", wei(10), e.CollateralBalances()[VaultAddress])
	requireBig(t, "alice balance", wei(990), e.CollateralBalances()[aliceAddr])
	requireBig(t, "total collateral", wei(10), e.TotalCollateral())

	s := e.Safes()[1]
	if s.Owner != aliceAddr {
		t.Fatalf("owner: got %s want %s", s.Owner.Hex(), aliceAddr.Hex())
	}
	requireBig(t, "debt at open", big.NewInt(0), s.BorrowedAmount)
	requireBig(t, "weight at open", big.NewInt(0), s.Weight)
	if e.LiquidationQueue().Contains(1) || e.RedemptionQueue().Contains(1) {
		t.Fatalf("zero-debt safe must not be queued")
	}

	if _, err := e.OpenSafe(bobAddr, 1, wei(1)); err != errSafeExists {
		t.Fatalf("duplicate id: got %v want %v", err, errSafeExists)
	}
	if _, err := e.OpenSafe(bobAddr, 0, wei(1)); err != errInvalidSafeID {
		t.Fatalf("zero id: got %v want %v", err, errInvalidSafeID)
	}
}

func TestBorrowMintsNetAndRoutesFee(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(1))

	res := mustBorrow(t, e, aliceAddr, 1, wei(500), 100)
	requireBig(t, "fee", wei(5), res.Fee)
	if res.FeeToStakers {
		t.Fatalf("fee routed to stakers with an empty pool")
	}
	requireBig(t, "alice debt tokens", wei(495), e.DebtTokenBalances()[aliceAddr])
	requireBig(t, "fee sink debt tokens", wei(5), e.DebtTokenBalances()[FeeSinkAddress])

	s := e.Safes()[1]
	requireBig(t, "borrowed", wei(500), s.BorrowedAmount)
	requireBig(t, "weight", wei(5), s.Weight)
	if !e.LiquidationQueue().Contains(1) || !e.RedemptionQueue().Contains(1) {
		t.Fatalf("borrowing safe must join both queues")
	}
}

func TestBorrowRespectsLiquidationRatio(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(1))

	// Collateral value 1000; the ratio caps debt at 1000×10000/11000.
	if _, _, err := e.Borrow(aliceAddr, 1, wei(950), 0); err != errBelowMinimumRatio {
		t.Fatalf("over-borrow: got %v want %v", err, errBelowMinimumRatio)
	}
	mustBorrow(t, e, aliceAddr, 1, wei(900), 0)
}

func TestRepayToZeroLeavesQueues(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(1))
	mustBorrow(t, e, aliceAddr, 1, wei(100), 0)

	if _, err := e.Repay(aliceAddr, 1, wei(200)); err != errRepayExceedsDebt {
		t.Fatalf("over-repay: got %v want %v", err, errRepayExceedsDebt)
	}
	if _, err := e.Repay(aliceAddr, 1, wei(100)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if e.LiquidationQueue().Contains(1) || e.RedemptionQueue().Contains(1) {
		t.Fatalf("zero-debt safe must leave both queues")
	}
	if _, ok := e.Safes()[1]; !ok {
		t.Fatalf("repaid safe must stay open")
	}
	requireBig(t, "total debt", big.NewInt(0), e.TotalDebt())
}

func TestWithdrawCollateralClosesOnlyWithoutDebt(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(2))
	mustBorrow(t, e, aliceAddr, 1, wei(100), 0)

	if _, _, err := e.WithdrawCollateral(aliceAddr, 1, wei(2)); err != errDebtOutstanding {
		t.Fatalf("full withdrawal with debt: got %v want %v", err, errDebtOutstanding)
	}
	_, closed, err := e.WithdrawCollateral(aliceAddr, 1, wei(1))
	if err != nil || closed {
		t.Fatalf("partial withdrawal: err=%v closed=%v", err, closed)
	}
	if _, err := e.Repay(aliceAddr, 1, wei(100)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	_, closed, err = e.WithdrawCollateral(aliceAddr, 1, wei(1))
	if err != nil || !closed {
		t.Fatalf("closing withdrawal: err=%v closed=%v", err, closed)
	}
	if _, ok := e.Safes()[1]; ok {
		t.Fatalf("safe must be removed after full withdrawal")
	}
	requireBig(t, "alice refunded", wei(1_000), e.CollateralBalances()[aliceAddr])
}

func TestLiquidationRedistributesAndSettlesLazily(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(100))
	mustOpen(t, e, bobAddr, 2, wei(1))
	mustBorrow(t, e, bobAddr, 2, wei(900), 0)

	if _, _, err := e.Liquidate(carolAddr); err != errSafeHealthy {
		t.Fatalf("healthy tail: got %v want %v", err, errSafeHealthy)
	}
	if _, err := e.SetPrice(wei(900)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	_, res, err := e.Liquidate(carolAddr)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if res.Absorbed {
		t.Fatalf("empty pool must redistribute")
	}
	requireBig(t, "seized debt", wei(900), res.Debt)
	requireBig(t, "seized collateral", wei(1), res.Collateral)

	// fee = 1×50/10000 = 0.005; remainder 0.995 redistributed over the
	// surviving 100 collateral.
	fee := new(big.Int).Quo(new(big.Int).Mul(wei(1), big.NewInt(50)), basisPoints)
	requireBig(t, "liquidator fee", fee, e.CollateralBalances()[carolAddr])
	requireBig(t, "total debt after removal", big.NewInt(0), e.TotalDebt())
	requireBig(t, "total collateral after removal", wei(100), e.TotalCollateral())

	debtInc := new(big.Int).Quo(new(big.Int).Mul(wei(900), precision), wei(100))
	requireBig(t, "debt accumulator", debtInc, e.CumulativeDebtPerUnitCollateral())
	remainder := new(big.Int).Sub(wei(1), fee)
	collInc := new(big.Int).Quo(new(big.Int).Mul(remainder, precision), wei(100))
	requireBig(t, "collateral accumulator", collInc, e.CumulativeCollateralPerUnitCollateral())

	// The surviving safe settles only on its next touch.
	untouched := e.Safes()[1]
	requireBig(t, "untouched debt", big.NewInt(0), untouched.BorrowedAmount)

	if _, err := e.AddCollateral(aliceAddr, 1, wei(10)); err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	settled := e.Safes()[1]
	pendingDebt := new(big.Int).Quo(new(big.Int).Mul(wei(100), debtInc), precision)
	requireBig(t, "settled debt", pendingDebt, settled.BorrowedAmount)
	pendingColl := new(big.Int).Quo(new(big.Int).Mul(wei(100), collInc), precision)
	wantColl := new(big.Int).Add(wei(110), pendingColl)
	requireBig(t, "settled collateral", wantColl, settled.CollateralAmount)
	requireBig(t, "debt snapshot pinned", debtInc, settled.DebtPerCollateralSnapshot)
	requireBig(t, "total debt resurfaces", pendingDebt, e.TotalDebt())
}

func TestLiquidationAbsorbedByStabilityPool(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(2))
	mustBorrow(t, e, aliceAddr, 1, wei(1_500), 0)
	if _, _, err := e.Stake(aliceAddr, wei(1_000)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	mustOpen(t, e, bobAddr, 2, wei(1))
	mustBorrow(t, e, bobAddr, 2, wei(900), 0)
	if _, err := e.SetPrice(wei(900)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	_, res, err := e.Liquidate(carolAddr)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !res.Absorbed {
		t.Fatalf("covering pool must absorb")
	}

	requireBig(t, "pool stake shrinks by debt", wei(100), e.Pool().TotalStaked())
	wantScaling := new(big.Int).Quo(new(big.Int).Mul(precision, wei(100)), wei(1_000))
	requireBig(t, "scaling factor", wantScaling, e.Pool().ScalingFactor())

	fee := new(big.Int).Quo(new(big.Int).Mul(wei(1), big.NewInt(50)), basisPoints)
	remainder := new(big.Int).Sub(wei(1), fee)
	wantPerToken := new(big.Int).Quo(new(big.Int).Mul(remainder, precision), wei(1_000))
	requireBig(t, "collateral per token", wantPerToken, e.Pool().CollateralPerToken())
	requireBig(t, "pool collateral", remainder, e.CollateralBalances()[PoolAddress])

	// The absorbed debt burns out of the pool's staked tokens.
	requireBig(t, "pool debt tokens", wei(100), e.DebtTokenBalances()[PoolAddress])
	requireBig(t, "accumulators untouched", big.NewInt(0), e.CumulativeDebtPerUnitCollateral())
}

func TestRedeemAgainstQueueHead(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(1))
	mustBorrow(t, e, aliceAddr, 1, wei(500), 100)
	mustOpen(t, e, bobAddr, 2, wei(1))
	mustBorrow(t, e, bobAddr, 2, wei(500), 200)

	// Alice paid the lower fee weight, so her safe redeems first.
	if head := e.RedemptionQueue().Head(); head != 1 {
		t.Fatalf("redemption head: got %d want 1", head)
	}

	_, res, err := e.Redeem(bobAddr, wei(100))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.SafeID != 1 || res.Closed {
		t.Fatalf("redeem target: got id=%d closed=%v want id=1 closed=false", res.SafeID, res.Closed)
	}
	// 100 debt at price 1000 releases 0.1 collateral.
	wantColl := new(big.Int).Quo(new(big.Int).Mul(wei(100), precision), wei(1_000))
	requireBig(t, "released collateral", wantColl, res.Collateral)

	s := e.Safes()[1]
	requireBig(t, "debt after redemption", wei(400), s.BorrowedAmount)
	requireBig(t, "collateral after redemption", new(big.Int).Sub(wei(1), wantColl), s.CollateralAmount)

	if _, _, err := e.Redeem(bobAddr, wei(500)); err != errRedeemExceedsDebt {
		t.Fatalf("over-redeem: got %v want %v", err, errRedeemExceedsDebt)
	}
}

func TestBootstrapModeFlipsOnceAtThreshold(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(10))

	res := mustBorrow(t, e, aliceAddr, 1, wei(4_000), 0)
	if res.ModeChanged || e.OperatingMode() != ModeBootstrap {
		t.Fatalf("mode flipped below threshold")
	}
	res = mustBorrow(t, e, aliceAddr, 1, wei(1_000), 0)
	if !res.ModeChanged || e.OperatingMode() != ModeNormal {
		t.Fatalf("mode must flip when total debt reaches the threshold")
	}
	res = mustBorrow(t, e, aliceAddr, 1, wei(1_000), 0)
	if res.ModeChanged {
		t.Fatalf("mode transition must fire only once")
	}
}

func TestStakeBorrowFeeAndClaim(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(2))
	mustBorrow(t, e, aliceAddr, 1, wei(1_000), 0)

	if _, _, err := e.Stake(aliceAddr, wei(500)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if got := e.Pool().GovStatus(); got != RewardStarted {
		t.Fatalf("gov status after first stake: got %d want %d", got, RewardStarted)
	}

	mustOpen(t, e, bobAddr, 2, wei(1))
	res := mustBorrow(t, e, bobAddr, 2, wei(100), 100)
	if !res.FeeToStakers {
		t.Fatalf("borrow fee must reach the live pool")
	}
	wantReward := new(big.Int).Quo(new(big.Int).Mul(wei(1), precision), wei(500))
	requireBig(t, "reward per token", wantReward, e.Pool().RewardPerToken())

	// Three operations after the stake accrued 3 steps of emission over the
	// same 500 staked.
	_, claim, err := e.Claim(aliceAddr)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireBig(t, "claimed reward", wei(1), claim.Reward)
	requireBig(t, "reward fee", new(big.Int).Quo(new(big.Int).Mul(wei(1), big.NewInt(100)), basisPoints), claim.RewardFee)
	requireBig(t, "claimed gov", wei(30), claim.Gov)

	wantNet := new(big.Int).Sub(wei(1), claim.RewardFee)
	wantAlice := new(big.Int).Add(wei(500), wantNet) // 1000 borrowed − 500 staked + net reward
	requireBig(t, "alice debt tokens", wantAlice, e.DebtTokenBalances()[aliceAddr])
	requireBig(t, "fee sink reward fee", claim.RewardFee, e.DebtTokenBalances()[FeeSinkAddress])
}

func TestUnstakeBoundedByCompoundedStake(t *testing.T) {
	e := newTestEngine(t)
	mustOpen(t, e, aliceAddr, 1, wei(2))
	mustBorrow(t, e, aliceAddr, 1, wei(1_500), 0)
	if _, _, err := e.Stake(aliceAddr, wei(1_000)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	mustOpen(t, e, bobAddr, 2, wei(1))
	mustBorrow(t, e, bobAddr, 2, wei(900), 0)
	if _, err := e.SetPrice(wei(900)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, _, err := e.Liquidate(carolAddr); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// 900 of the 1000 stake was consumed by the absorption.
	if _, _, err := e.Unstake(aliceAddr, wei(101)); err != errStakeTooLarge {
		t.Fatalf("over-unstake: got %v want %v", err, errStakeTooLarge)
	}
	if _, _, err := e.Unstake(aliceAddr, wei(100)); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	requireBig(t, "pool empty", big.NewInt(0), e.Pool().TotalStaked())
}

func TestGovEmissionEndsWhenBudgetExhausted(t *testing.T) {
	params := DefaultParams()
	params.GovEmissionPerStep = wei(10)
	params.GovEmissionBudget = wei(15)
	e := NewEngine(params)
	e.FundAccount(aliceAddr, wei(100))

	mustOpen(t, e, aliceAddr, 1, wei(2))
	mustBorrow(t, e, aliceAddr, 1, wei(1_000), 0)
	if _, _, err := e.Stake(aliceAddr, wei(500)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	// First accrual emits 10, second is capped at the remaining 5.
	if _, err := e.SetPrice(wei(1_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	requireBig(t, "budget after one step", wei(5), e.Pool().GovBudget())
	if _, err := e.SetPrice(wei(1_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	requireBig(t, "budget exhausted", big.NewInt(0), e.Pool().GovBudget())
	if got := e.Pool().GovStatus(); got != RewardEnded {
		t.Fatalf("gov status: got %d want %d", got, RewardEnded)
	}
	requireBig(t, "total emitted", wei(15), e.GovTokenBalances()[PoolAddress])

	// Ended is terminal: further operations emit nothing.
	if _, err := e.SetPrice(wei(1_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	requireBig(t, "no further emission", wei(15), e.GovTokenBalances()[PoolAddress])
}
