package sim

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"
)

// MaxProposalAttempts bounds the rejection sampling loop inside propose.
// Exceeding it yields "not applicable" rather than looping forever.
const MaxProposalAttempts = 25

// Actor is a stable simulated identity: an address plus its signing key.
// Actors own no protocol state directly.
type Actor struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// NewActor derives an actor deterministically from a seed and index, so the
// roster is identical across runs with the same master seed.
func NewActor(seed uint64, index int) (*Actor, error) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, seed)
	binary.LittleEndian.PutUint64(buf[8:], uint64(index))
	material := blake3.Sum256(buf)
	key, err := ethcrypto.ToECDSA(material[:])
	if err != nil {
		return nil, fmt.Errorf("sim: derive actor %d: %w", index, err)
	}
	return &Actor{
		Address: ethcrypto.PubkeyToAddress(key.PublicKey),
		Key:     key,
	}, nil
}

// Event is a domain event emitted by an applied operation.
type Event struct {
	Type  string
	Attrs map[string]string
}

// Outcome is the execution receipt returned by apply. Sequence is the SUT's
// ordering marker for time-dependent invariants.
type Outcome struct {
	OK       bool
	Sequence uint64
	Events   []Event
}

// FindEvent returns the first event of the given type.
func (o Outcome) FindEvent(typ string) (Event, bool) {
	for _, ev := range o.Events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return Event{}, false
}

// Endpoint is the system under test. The harness depends only on this set of
// named operations, never on how they are transported.
type Endpoint interface {
	OpenSafe(ctx context.Context, owner common.Address, id uint64, collateral *big.Int) (Outcome, error)
	Borrow(ctx context.Context, owner common.Address, id uint64, amount *big.Int, shieldingRateBps uint64) (Outcome, error)
	Repay(ctx context.Context, owner common.Address, id uint64, amount *big.Int) (Outcome, error)
	AddCollateral(ctx context.Context, owner common.Address, id uint64, amount *big.Int) (Outcome, error)
	WithdrawCollateral(ctx context.Context, owner common.Address, id uint64, amount *big.Int) (Outcome, error)
	Liquidate(ctx context.Context, liquidator common.Address) (Outcome, error)
	Redeem(ctx context.Context, redeemer common.Address, amount *big.Int) (Outcome, error)
	SetPrice(ctx context.Context, price *big.Int) (Outcome, error)
	Stake(ctx context.Context, user common.Address, amount *big.Int) (Outcome, error)
	Unstake(ctx context.Context, user common.Address, amount *big.Int) (Outcome, error)
	Claim(ctx context.Context, user common.Address) (Outcome, error)
}

// Action is one concrete operation type. Propose selects parameters valid
// under the given snapshot (pure apart from consuming randomness), Apply
// submits them to the SUT verbatim, and Verify checks the snapshot pair
// against the action's invariants. Implementations hold no mutable
// cross-call state beyond their endpoint reference.
type Action interface {
	Name() string
	Propose(ctx context.Context, actor *Actor, snap *StateSnapshot, rng *Source) (Params, bool, error)
	Apply(ctx context.Context, actor *Actor, params Params) (Outcome, error)
	Verify(ctx context.Context, actor *Actor, prev, next *StateSnapshot, params Params, outcome Outcome) *Verdict
}

// Params is an action-specific parameter struct chosen by Propose and passed
// to Apply and Verify unchanged. Parameters are never re-derived at
// execution time.
type Params interface {
	String() string
}
