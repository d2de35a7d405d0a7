package sim

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLookup(t *testing.T) {
	found := Found(42)
	if !found.IsPresent() {
		t.Fatalf("Found must be present")
	}
	if v, ok := found.Get(); !ok || v != 42 {
		t.Fatalf("Found.Get: got %d,%v want 42,true", v, ok)
	}

	missing := Missing[int]()
	if missing.IsPresent() {
		t.Fatalf("Missing must be absent")
	}
	if v, ok := missing.Get(); ok || v != 0 {
		t.Fatalf("Missing.Get: got %d,%v want 0,false", v, ok)
	}
}

func TestSnapshotSafeLookup(t *testing.T) {
	snap := &StateSnapshot{
		Safes: map[uint64]SafeRecord{7: {ID: 7}},
	}
	if !snap.Safe(7).IsPresent() {
		t.Fatalf("existing safe must be found")
	}
	if snap.Safe(8).IsPresent() {
		t.Fatalf("absent safe must be missing")
	}
}

func TestSafesOwnedBySortedAscending(t *testing.T) {
	owner := common.HexToAddress("0x01")
	other := common.HexToAddress("0x02")
	snap := &StateSnapshot{
		Safes: map[uint64]SafeRecord{
			9: {ID: 9, Owner: owner},
			3: {ID: 3, Owner: owner},
			5: {ID: 5, Owner: other},
			1: {ID: 1, Owner: owner},
		},
	}
	got := snap.SafesOwnedBy(owner)
	want := []uint64{1, 3, 9}
	if len(got) != len(want) {
		t.Fatalf("owned safes: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("owned safes: got %v want %v", got, want)
		}
	}
}

func TestBalanceSetDefaultsToZero(t *testing.T) {
	set := BalanceSet{common.HexToAddress("0x01"): big.NewInt(5)}
	if got := set.Balance(common.HexToAddress("0x01")); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("known balance: got %s want 5", got)
	}
	if got := set.Balance(common.HexToAddress("0x02")); got.Sign() != 0 {
		t.Fatalf("unknown balance: got %s want 0", got)
	}
}

func TestVerdictRecordsDiagnostics(t *testing.T) {
	v := NewVerdict("borrow", common.HexToAddress("0x01"), nil)
	if !v.Pass() {
		t.Fatalf("fresh verdict must pass")
	}
	v.RequireEqualBig("x", big.NewInt(1), big.NewInt(1))
	v.RequireEqualBig("y", big.NewInt(1), big.NewInt(2))
	if v.Pass() {
		t.Fatalf("mismatch must fail the verdict")
	}
	if v.Checks != 2 {
		t.Fatalf("checks: got %d want 2", v.Checks)
	}
	if len(v.Diagnostics) != 1 {
		t.Fatalf("diagnostics: got %d want 1", len(v.Diagnostics))
	}
	d := v.Diagnostics[0]
	if d.Invariant != "y" || d.Expected != "1" || d.Observed != "2" {
		t.Fatalf("diagnostic: got %+v", d)
	}
}

func TestVerdictMissingObservedFails(t *testing.T) {
	v := NewVerdict("claim", common.Address{}, nil)
	if v.RequireEqualBig("z", big.NewInt(1), nil) {
		t.Fatalf("nil observed must fail, never silently pass")
	}
	if v.Pass() {
		t.Fatalf("missing data must fail the verdict")
	}
}
