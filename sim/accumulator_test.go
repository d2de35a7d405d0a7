package sim

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func bigwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Precision)
}

func TestPendingShare(t *testing.T) {
	// 100 held over a delta of 0.5 yields 50.
	held := bigwei(100)
	old := bigwei(1)
	next := new(big.Int).Add(old, new(big.Int).Quo(Precision, big.NewInt(2)))
	got := PendingShare(held, next, old)
	if got.Cmp(bigwei(50)) != 0 {
		t.Fatalf("pending: got %s want %s", got, bigwei(50))
	}

	if got := PendingShare(held, old, old); got.Sign() != 0 {
		t.Fatalf("no delta must yield zero, got %s", got)
	}
	if got := PendingShare(held, old, next); got.Sign() != 0 {
		t.Fatalf("negative delta must yield zero, got %s", got)
	}
	if got := PendingShare(nil, next, old); got.Sign() != 0 {
		t.Fatalf("nil held must yield zero, got %s", got)
	}
}

func TestPendingShareTruncates(t *testing.T) {
	held := big.NewInt(3)
	old := big.NewInt(0)
	next := new(big.Int).Quo(Precision, big.NewInt(2)) // delta 0.5
	// 3 × 0.5 = 1.5 truncates to 1.
	if got := PendingShare(held, next, old); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("truncation: got %s want 1", got)
	}
}

func TestFeeCut(t *testing.T) {
	if got := FeeCut(bigwei(200), 50); got.Cmp(bigwei(1)) != 0 {
		t.Fatalf("fee: got %s want %s", got, bigwei(1))
	}
	if got := FeeCut(bigwei(200), 0); got.Sign() != 0 {
		t.Fatalf("zero bps: got %s want 0", got)
	}
	if got := FeeCut(big.NewInt(199), 50); got.Sign() != 0 {
		t.Fatalf("sub-unit fee must truncate to zero, got %s", got)
	}
}

func TestExpectedSafeSettlement(t *testing.T) {
	rec := SafeRecord{
		ID:                              1,
		CollateralAmount:                bigwei(100),
		BorrowedAmount:                  bigwei(10),
		Weight:                          new(big.Int),
		DebtPerCollateralSnapshot:       new(big.Int),
		CollateralPerCollateralSnapshot: new(big.Int),
	}
	ledger := LedgerRecord{
		CumulativeDebtPerUnitCollateral:       bigwei(9),
		CumulativeCollateralPerUnitCollateral: new(big.Int).Quo(Precision, big.NewInt(100)),
	}
	debt, collateral := ExpectedSafeSettlement(rec, ledger)
	if debt.Cmp(bigwei(910)) != 0 {
		t.Fatalf("settled debt: got %s want %s", debt, bigwei(910))
	}
	if collateral.Cmp(bigwei(101)) != 0 {
		t.Fatalf("settled collateral: got %s want %s", collateral, bigwei(101))
	}
}

func TestVerifySafeSettled(t *testing.T) {
	ledger := LedgerRecord{
		CumulativeDebtPerUnitCollateral:       bigwei(2),
		CumulativeCollateralPerUnitCollateral: bigwei(3),
	}
	pinned := SafeRecord{
		DebtPerCollateralSnapshot:       bigwei(2),
		CollateralPerCollateralSnapshot: bigwei(3),
	}
	v := NewVerdict("test", common.Address{}, nil)
	VerifySafeSettled(v, pinned, ledger)
	if !v.Pass() {
		t.Fatalf("pinned snapshots must pass: %s", v)
	}

	stale := SafeRecord{
		DebtPerCollateralSnapshot:       bigwei(1),
		CollateralPerCollateralSnapshot: bigwei(3),
	}
	v = NewVerdict("test", common.Address{}, nil)
	VerifySafeSettled(v, stale, ledger)
	if v.Pass() {
		t.Fatalf("stale snapshot must fail")
	}
}

func TestExpectedCompoundedStake(t *testing.T) {
	rec := PoolUserRecord{
		Stake:                 bigwei(1_000),
		ScalingFactorSnapshot: new(big.Int).Set(Precision),
	}
	pool := PoolRecord{ScalingFactor: new(big.Int).Quo(Precision, big.NewInt(10))}
	if got := ExpectedCompoundedStake(rec, pool); got.Cmp(bigwei(100)) != 0 {
		t.Fatalf("compounded: got %s want %s", got, bigwei(100))
	}

	// Identity scaling keeps the stake exact.
	pool.ScalingFactor = new(big.Int).Set(Precision)
	if got := ExpectedCompoundedStake(rec, pool); got.Cmp(rec.Stake) != 0 {
		t.Fatalf("identity compounding: got %s want %s", got, rec.Stake)
	}

	zero := PoolUserRecord{Stake: new(big.Int)}
	if got := ExpectedCompoundedStake(zero, pool); got.Sign() != 0 {
		t.Fatalf("zero stake: got %s want 0", got)
	}
}

func TestVerifyRewardStatusTransition(t *testing.T) {
	cases := []struct {
		prev, next RewardStatus
		ok         bool
	}{
		{RewardNotStarted, RewardNotStarted, true},
		{RewardNotStarted, RewardStarted, true},
		{RewardStarted, RewardEnded, true},
		{RewardStarted, RewardStarted, true},
		{RewardEnded, RewardEnded, true},
		{RewardNotStarted, RewardEnded, false},
		{RewardStarted, RewardNotStarted, false},
		{RewardEnded, RewardStarted, false},
	}
	for _, tc := range cases {
		v := NewVerdict("test", common.Address{}, nil)
		VerifyRewardStatusTransition(v, tc.prev, tc.next)
		if v.Pass() != tc.ok {
			t.Fatalf("%s -> %s: got pass=%v want %v", tc.prev, tc.next, v.Pass(), tc.ok)
		}
	}
}

func TestVerifyModeMonotone(t *testing.T) {
	v := NewVerdict("test", common.Address{}, nil)
	VerifyModeMonotone(v, ModeBootstrap, ModeNormal)
	if !v.Pass() {
		t.Fatalf("forward transition must pass: %s", v)
	}
	v = NewVerdict("test", common.Address{}, nil)
	VerifyModeMonotone(v, ModeNormal, ModeBootstrap)
	if v.Pass() {
		t.Fatalf("reverse transition must fail")
	}
}
