package protocol

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Safe is a single collateral/debt position. A safe with zero collateral is
// closed and removed from the table; its id becomes reusable only then.
type Safe struct {
	ID               uint64
	Owner            common.Address
	CollateralAmount *big.Int
	BorrowedAmount   *big.Int
	// Weight is the cumulative shielding fee the safe has paid. It never
	// decreases and ranks the safe for redemption.
	Weight *big.Int
	// Accumulator snapshots captured at the safe's last touch.
	DebtPerCollateralSnapshot       *big.Int
	CollateralPerCollateralSnapshot *big.Int
}

// Mode is the protocol operating mode. Bootstrap relaxes nothing in this
// reference engine beyond gating the transition event; it flips to normal
// once total debt first crosses the configured threshold and never reverts.
type Mode uint8

const (
	ModeBootstrap Mode = iota
	ModeNormal
)

// RewardStatus tracks the governance reward emission of the stability pool.
type RewardStatus uint8

const (
	RewardNotStarted RewardStatus = iota
	RewardStarted
	RewardEnded
)

// Params groups the protocol constants the engine is constructed with.
type Params struct {
	// LiquidationRatioBps is the minimum collateral-value-to-debt ratio in
	// basis points; below it a safe is liquidatable.
	LiquidationRatioBps uint64
	// LiquidationFeeBps is the slice of seized collateral paid to the caller
	// that triggers a liquidation.
	LiquidationFeeBps uint64
	// ClaimFeeBps is charged on every asset paid out by a stability pool
	// claim.
	ClaimFeeBps uint64
	// BootstrapDebtThreshold is the total debt at which the protocol leaves
	// bootstrap mode.
	BootstrapDebtThreshold *big.Int
	// GovEmissionPerStep is the governance token amount emitted to the pool
	// per sequence unit while the reward stream is live.
	GovEmissionPerStep *big.Int
	// GovEmissionBudget is the total governance emission; exhausting it ends
	// the reward stream permanently.
	GovEmissionBudget *big.Int
	// InitialCollateralPrice is the starting oracle price, 1e18 scale.
	InitialCollateralPrice *big.Int
}

// DefaultParams returns the parameter set used by tests and the default
// configuration.
func DefaultParams() Params {
	return Params{
		LiquidationRatioBps:    11_000,
		LiquidationFeeBps:      50,
		ClaimFeeBps:            100,
		BootstrapDebtThreshold: new(big.Int).Mul(big.NewInt(5_000), precision),
		GovEmissionPerStep:     new(big.Int).Mul(big.NewInt(10), precision),
		GovEmissionBudget:      new(big.Int).Mul(big.NewInt(100_000), precision),
		InitialCollateralPrice: new(big.Int).Mul(big.NewInt(1_000), precision),
	}
}

// Well-known protocol accounts. The vault escrows safe collateral, the pool
// account holds staked debt tokens plus pool rewards, and the fee sink
// collects claim fees and borrow fees that found no staker to reward.
var (
	VaultAddress   = common.HexToAddress("0x0000000000000000000000000000000000000101")
	PoolAddress    = common.HexToAddress("0x0000000000000000000000000000000000000102")
	FeeSinkAddress = common.HexToAddress("0x0000000000000000000000000000000000000103")
)
