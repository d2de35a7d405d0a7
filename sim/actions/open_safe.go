package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablebasesim/sim"
)

// OpenSafeParams are the chosen parameters for one open-safe step.
type OpenSafeParams struct {
	SafeID     uint64
	Collateral *big.Int
}

func (p OpenSafeParams) String() string {
	return fmt.Sprintf("openSafe{id=%d collateral=%s}", p.SafeID, p.Collateral)
}

// OpenSafe creates a fresh position funded from the actor's collateral
// balance.
type OpenSafe struct {
	ep  sim.Endpoint
	cfg Config
}

// NewOpenSafe returns the action bound to an endpoint.
func NewOpenSafe(ep sim.Endpoint, cfg Config) *OpenSafe {
	return &OpenSafe{ep: ep, cfg: cfg}
}

func (a *OpenSafe) Name() string { return "open_safe" }

// Propose draws an unused safe id and a collateral amount within the actor's
// balance. Id selection rejection-samples against the open-safe table.
func (a *OpenSafe) Propose(_ context.Context, actor *sim.Actor, snap *sim.StateSnapshot, rng *sim.Source) (sim.Params, bool, error) {
	balance := snap.Collateral.Balance(actor.Address)
	if balance.Sign() <= 0 {
		return nil, false, nil
	}
	maxID := a.cfg.MaxSafeID
	if maxID == 0 {
		maxID = 1 << 20
	}
	for attempt := 0; attempt < sim.MaxProposalAttempts; attempt++ {
		id := rng.Range(1, maxID)
		if snap.Safe(id).IsPresent() {
			continue
		}
		return OpenSafeParams{
			SafeID:     id,
			Collateral: rng.BigRange(bigOne, balance),
		}, true, nil
	}
	return nil, false, nil
}

func (a *OpenSafe) Apply(ctx context.Context, actor *sim.Actor, params sim.Params) (sim.Outcome, error) {
	p := params.(OpenSafeParams)
	return a.ep.OpenSafe(ctx, actor.Address, p.SafeID, p.Collateral)
}

func (a *OpenSafe) Verify(_ context.Context, actor *sim.Actor, prev, next *sim.StateSnapshot, params sim.Params, out sim.Outcome) *sim.Verdict {
	p := params.(OpenSafeParams)
	v := sim.NewVerdict(a.Name(), actor.Address, p)

	verifyCommon(v, prev, next, out)
	verifyPriceUnchanged(v, prev, next)
	verifyAccumulatorsUnchanged(v, prev, next)

	rec, ok := next.Safe(p.SafeID).Get()
	if !v.RequireTrue("safe.created", ok,
		fmt.Sprintf("safe %d present after open", p.SafeID), "absent") {
		return v
	}
	v.RequireTrue("safe.owner", rec.Owner == actor.Address, actor.Address.Hex(), rec.Owner.Hex())
	v.RequireEqualBig("safe.collateralEqualsSupplied", p.Collateral, rec.CollateralAmount)
	v.RequireEqualBig("safe.borrowedZeroAtCreation", new(big.Int), rec.BorrowedAmount)
	v.RequireEqualBig("safe.weightZeroAtCreation", new(big.Int), rec.Weight)
	sim.VerifySafeSettled(v, rec, next.Ledger)

	v.RequireEqualBig("ledger.totalCollateral",
		sum(prev.Ledger.TotalCollateral, p.Collateral), next.Ledger.TotalCollateral)
	v.RequireEqualBig("ledger.totalDebtUnchanged", prev.Ledger.TotalDebt, next.Ledger.TotalDebt)

	// A fresh safe has no debt and must not enter either ordering.
	sim.VerifyQueueAbsent(v, "liquidationQueue", next.LiquidationQ, p.SafeID)
	sim.VerifyQueueAbsent(v, "redemptionQueue", next.RedemptionQ, p.SafeID)
	verifyQueueUnchanged(v, "liquidationQueue", prev.LiquidationQ, next.LiquidationQ)
	verifyQueueUnchanged(v, "redemptionQueue", prev.RedemptionQ, next.RedemptionQ)

	gov := verifyGovStream(v, prev, next, a.cfg, false)
	verifyPoolQuietExceptGov(v, prev, next)
	verifyPoolUsersUntouched(v, prev, next)
	verifySafesUntouched(v, prev, next, p.SafeID)

	verifyLedgerDeltas(v, "collateral", prev.Collateral, next.Collateral, map[common.Address]*big.Int{
		actor.Address:        neg(p.Collateral),
		next.Addresses.Vault: p.Collateral,
	})
	verifyLedgerDeltas(v, "debtToken", prev.DebtToken, next.DebtToken, nil)
	verifyLedgerDeltas(v, "govToken", prev.GovToken, next.GovToken, govOnlyDeltas(next, gov.Emitted))
	return v
}

var _ sim.Action = (*OpenSafe)(nil)

// uint256FromBig converts a non-negative big integer, saturating on
// overflow like the protocol's ranking keys do.
func uint256FromBig(v *big.Int) *uint256.Int {
	out, overflow := uint256.FromBig(v)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}
