package runner

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"stablebasesim/protocol"
	"stablebasesim/sim"
	"stablebasesim/sim/actions"
)

func fixture(t *testing.T, seed uint64) (sim.SnapshotProvider, []sim.Action, []*sim.Actor) {
	t.Helper()
	params := protocol.DefaultParams()
	engine := protocol.NewEngine(params)
	adapter := protocol.NewAdapter(engine)

	funding := new(big.Int).Mul(big.NewInt(1_000), sim.Precision)
	actors := make([]*sim.Actor, 0, 4)
	for i := 0; i < 4; i++ {
		actor, err := sim.NewActor(seed, i)
		require.NoError(t, err)
		engine.FundAccount(actor.Address, funding)
		actors = append(actors, actor)
	}
	roster := actions.All(adapter, actions.Config{
		LiquidationRatioBps:    params.LiquidationRatioBps,
		LiquidationFeeBps:      params.LiquidationFeeBps,
		ClaimFeeBps:            params.ClaimFeeBps,
		MaxShieldingRateBps:    500,
		BootstrapDebtThreshold: params.BootstrapDebtThreshold,
		GovEmissionPerStep:     params.GovEmissionPerStep,
		MaxSafeID:              1_000,
	})
	return adapter, roster, actors
}

func TestNewRejectsEmptyInputs(t *testing.T) {
	provider, roster, actors := fixture(t, 1)

	_, err := New(nil, roster, actors, Options{})
	require.Error(t, err)
	_, err = New(provider, nil, actors, Options{})
	require.Error(t, err)
	_, err = New(provider, roster, nil, Options{})
	require.Error(t, err)

	r, err := New(provider, roster, actors, Options{Seed: 1})
	require.NoError(t, err)
	require.NotEmpty(t, r.RunID())
}

func TestRunAccountsForEveryStep(t *testing.T) {
	provider, roster, actors := fixture(t, 2)
	r, err := New(provider, roster, actors, Options{Seed: 2})
	require.NoError(t, err)

	const steps = 200
	report, err := r.Run(context.Background(), steps)
	require.NoError(t, err)

	require.True(t, report.Pass(), "clean engine must verify: %+v", failures(report))
	require.Equal(t, uint64(steps), report.Steps)
	require.Len(t, report.Results, steps)
	require.Equal(t, uint64(steps), report.Executed+report.Skipped)
	require.Zero(t, report.Failed)
	require.NotZero(t, report.Executed, "a funded run must execute some steps")
	require.Equal(t, r.RunID(), report.RunID)

	for i, res := range report.Results {
		require.Equal(t, uint64(i), res.Index)
		switch res.Status {
		case StepPassed:
			require.NotNil(t, res.Verdict)
			require.True(t, res.Verdict.Pass())
		case StepSkipped:
			require.ErrorIs(t, res.Err, sim.ErrNoApplicableParameters)
		default:
			t.Fatalf("step %d: unexpected status %s (%v)", i, res.Status, res.Err)
		}
	}
}

func TestRunDeterministicPerSeed(t *testing.T) {
	run := func(seed uint64) *Report {
		provider, roster, actors := fixture(t, seed)
		r, err := New(provider, roster, actors, Options{Seed: seed})
		require.NoError(t, err)
		report, err := r.Run(context.Background(), 150)
		require.NoError(t, err)
		return report
	}

	a := run(7)
	b := run(7)
	require.Equal(t, a.Executed, b.Executed)
	require.Equal(t, a.Skipped, b.Skipped)
	require.Equal(t, a.Failed, b.Failed)
	require.Len(t, b.Results, len(a.Results))
	for i := range a.Results {
		require.Equal(t, a.Results[i].Action, b.Results[i].Action, "step %d action", i)
		require.Equal(t, a.Results[i].Actor, b.Results[i].Actor, "step %d actor", i)
		require.Equal(t, a.Results[i].Params, b.Results[i].Params, "step %d params", i)
		require.Equal(t, a.Results[i].Status, b.Results[i].Status, "step %d status", i)
	}

	c := run(8)
	require.NotEqual(t, stepTrace(a), stepTrace(c), "distinct seeds must diverge")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	provider, roster, actors := fixture(t, 3)
	r, err := New(provider, roster, actors, Options{Seed: 3})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := r.Run(ctx, 50)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, report.Results)
}

type brokenProvider struct{}

func (brokenProvider) TakeSnapshot(context.Context) (*sim.StateSnapshot, error) {
	return nil, errors.New("rpc down")
}

func TestRunAbortsWhenSnapshotsUnavailable(t *testing.T) {
	_, roster, actors := fixture(t, 4)
	r, err := New(brokenProvider{}, roster, actors, Options{Seed: 4})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), 10)
	require.ErrorIs(t, err, sim.ErrSnapshotUnavailable)
}

func failures(r *Report) []StepResult {
	var out []StepResult
	for _, res := range r.Results {
		if res.Status == StepFailed {
			out = append(out, res)
		}
	}
	return out
}

func stepTrace(r *Report) []string {
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Action+"/"+res.Actor+"/"+string(res.Status))
	}
	return out
}
