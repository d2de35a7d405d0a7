package sim

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Mode is the protocol operating mode. It starts in bootstrap and flips to
// normal once total debt crosses the bootstrap threshold; the transition is
// one-way.
type Mode uint8

const (
	ModeBootstrap Mode = iota
	ModeNormal
)

func (m Mode) String() string {
	switch m {
	case ModeBootstrap:
		return "bootstrap"
	case ModeNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// RewardStatus tracks the governance reward stream of the stability pool.
type RewardStatus uint8

const (
	RewardNotStarted RewardStatus = iota
	RewardStarted
	RewardEnded
)

func (r RewardStatus) String() string {
	switch r {
	case RewardNotStarted:
		return "not_started"
	case RewardStarted:
		return "started"
	case RewardEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Lookup is an explicit present/absent variant for snapshot record lookups.
// Verification code branches on presence instead of testing for nil or zero
// values scattered through the checks.
type Lookup[T any] struct {
	val T
	ok  bool
}

// Found wraps a record that exists in the snapshot.
func Found[T any](v T) Lookup[T] { return Lookup[T]{val: v, ok: true} }

// Missing marks a record that is absent from the snapshot.
func Missing[T any]() Lookup[T] { return Lookup[T]{} }

// Get returns the record and whether it was present.
func (l Lookup[T]) Get() (T, bool) { return l.val, l.ok }

// IsPresent reports whether the record exists.
func (l Lookup[T]) IsPresent() bool { return l.ok }

// SafeRecord is the snapshot view of a single collateralized position.
type SafeRecord struct {
	ID               uint64
	Owner            common.Address
	CollateralAmount *big.Int
	BorrowedAmount   *big.Int
	// Weight is the cumulative fee paid by the safe. It never decreases and
	// ranks the safe in the redemption queue.
	Weight *big.Int
	// Accumulator snapshots captured at the safe's last touch.
	DebtPerCollateralSnapshot       *big.Int
	CollateralPerCollateralSnapshot *big.Int
}

// Clone returns a deep copy of the record.
func (r SafeRecord) Clone() SafeRecord {
	return SafeRecord{
		ID:                              r.ID,
		Owner:                           r.Owner,
		CollateralAmount:                cloneBig(r.CollateralAmount),
		BorrowedAmount:                  cloneBig(r.BorrowedAmount),
		Weight:                          cloneBig(r.Weight),
		DebtPerCollateralSnapshot:       cloneBig(r.DebtPerCollateralSnapshot),
		CollateralPerCollateralSnapshot: cloneBig(r.CollateralPerCollateralSnapshot),
	}
}

// LedgerRecord is the snapshot view of the global accounting state.
type LedgerRecord struct {
	TotalCollateral                       *big.Int
	TotalDebt                             *big.Int
	CumulativeDebtPerUnitCollateral       *big.Int
	CumulativeCollateralPerUnitCollateral *big.Int
	Mode                                  Mode
}

// QueueNode is one entry of a ranked queue. Prev and Next are safe ids, zero
// meaning none.
type QueueNode struct {
	Value *uint256.Int
	Prev  uint64
	Next  uint64
}

// QueueRecord is the snapshot view of one ranked doubly-linked queue.
type QueueRecord struct {
	Head  uint64
	Tail  uint64
	Nodes map[uint64]QueueNode
}

// Node looks up the queue entry for a safe id.
func (q QueueRecord) Node(id uint64) Lookup[QueueNode] {
	if n, ok := q.Nodes[id]; ok {
		return Found(n)
	}
	return Missing[QueueNode]()
}

// Len returns the number of queue members.
func (q QueueRecord) Len() int { return len(q.Nodes) }

// PoolUserRecord is the snapshot view of a stability pool staker.
type PoolUserRecord struct {
	Stake                 *big.Int
	RewardSnapshot        *big.Int
	CollateralSnapshot    *big.Int
	GovRewardSnapshot     *big.Int
	ScalingFactorSnapshot *big.Int
}

// Clone returns a deep copy of the record.
func (r PoolUserRecord) Clone() PoolUserRecord {
	return PoolUserRecord{
		Stake:                 cloneBig(r.Stake),
		RewardSnapshot:        cloneBig(r.RewardSnapshot),
		CollateralSnapshot:    cloneBig(r.CollateralSnapshot),
		GovRewardSnapshot:     cloneBig(r.GovRewardSnapshot),
		ScalingFactorSnapshot: cloneBig(r.ScalingFactorSnapshot),
	}
}

// PoolRecord is the snapshot view of the stability pool. GovBudget and
// LastGovUpdate expose the emission schedule's cursor so verification can
// predict the governance accumulator from the snapshot pair alone.
type PoolRecord struct {
	TotalStaked        *big.Int
	RewardPerToken     *big.Int
	CollateralPerToken *big.Int
	GovRewardPerToken  *big.Int
	ScalingFactor      *big.Int
	GovStatus          RewardStatus
	GovBudget          *big.Int
	LastGovUpdate      uint64
	Users              map[common.Address]PoolUserRecord
}

// User looks up a staker record.
func (p PoolRecord) User(addr common.Address) Lookup[PoolUserRecord] {
	if u, ok := p.Users[addr]; ok {
		return Found(u)
	}
	return Missing[PoolUserRecord]()
}

// BalanceSet is one token ledger: balance per address.
type BalanceSet map[common.Address]*big.Int

// Balance returns the tracked balance, zero when the address is unknown to
// the ledger.
func (b BalanceSet) Balance(addr common.Address) *big.Int {
	if v, ok := b[addr]; ok {
		return v
	}
	return new(big.Int)
}

// SystemAddresses names the protocol-owned accounts a snapshot tracks so
// conservation checks can pair user deltas with the protocol side.
type SystemAddresses struct {
	Vault   common.Address // holds locked safe collateral
	Pool    common.Address // stability pool treasury
	FeeSink common.Address // receives claim fees and undistributed borrow fees
}

// StateSnapshot is an immutable capture of all observable SUT state taken
// immediately before and immediately after each applied operation. It is
// owned by the verification step that consumes it and never mutated.
type StateSnapshot struct {
	Sequence        uint64
	CollateralPrice *big.Int
	Ledger          LedgerRecord
	Safes           map[uint64]SafeRecord
	LiquidationQ    QueueRecord
	RedemptionQ     QueueRecord
	Pool            PoolRecord
	Collateral      BalanceSet // native collateral currency
	DebtToken       BalanceSet
	GovToken        BalanceSet
	Addresses       SystemAddresses
}

// Safe looks up a position record by id.
func (s *StateSnapshot) Safe(id uint64) Lookup[SafeRecord] {
	if r, ok := s.Safes[id]; ok {
		return Found(r)
	}
	return Missing[SafeRecord]()
}

// OpenSafeIDs returns the ids of all open safes in ascending order.
func (s *StateSnapshot) OpenSafeIDs() []uint64 {
	ids := make([]uint64, 0, len(s.Safes))
	for id := range s.Safes {
		ids = append(ids, id)
	}
	sortUint64(ids)
	return ids
}

// SafesOwnedBy returns the ids of the safes owned by addr, ascending.
func (s *StateSnapshot) SafesOwnedBy(addr common.Address) []uint64 {
	var ids []uint64
	for id, r := range s.Safes {
		if r.Owner == addr {
			ids = append(ids, id)
		}
	}
	sortUint64(ids)
	return ids
}

// SnapshotProvider materializes consistent state captures. A provider that
// cannot produce a consistent read returns ErrSnapshotUnavailable, which is
// fatal to the run.
type SnapshotProvider interface {
	TakeSnapshot(ctx context.Context) (*StateSnapshot, error)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func sortUint64(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
