package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"stablebasesim/observability/metrics"
	"stablebasesim/sim"
)

// StepStatus classifies one simulation step's outcome.
type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// StepResult is one entry of the run's verdict stream.
type StepResult struct {
	Index  uint64
	Action string
	Actor  string
	Params string
	Status StepStatus
	// Verdict is set for verified steps; skipped steps and apply rejections
	// carry none.
	Verdict *sim.Verdict
	Err     error
}

// Report aggregates a finished run.
type Report struct {
	RunID    string
	Seed     uint64
	Steps    uint64
	Executed uint64
	Skipped  uint64
	Failed   uint64
	Results  []StepResult
}

// Pass reports whether every executed step verified cleanly.
func (r *Report) Pass() bool { return r.Failed == 0 }

// Options configure a runner. Zero values are usable: no pacing, the default
// logger, metrics enabled.
type Options struct {
	Seed uint64
	// StepsPerSecond throttles the loop; zero means unpaced.
	StepsPerSecond float64
	Logger         *slog.Logger
	Metrics        *metrics.HarnessMetrics
}

// Runner drives the strictly sequential simulation loop: one actor, one
// action, one apply per step, with snapshots bracketing exactly that apply.
type Runner struct {
	provider sim.SnapshotProvider
	actions  []sim.Action
	actors   []*sim.Actor
	rng      *sim.Source
	logger   *slog.Logger
	metrics  *metrics.HarnessMetrics
	limiter  *rate.Limiter
	seed     uint64
	runID    string
}

// New constructs a runner over the given provider, action roster and actor
// roster. The step stream draws from its own sub-seed so actor derivation and
// funding cannot shift it.
func New(provider sim.SnapshotProvider, actions []sim.Action, actors []*sim.Actor, opts Options) (*Runner, error) {
	if provider == nil {
		return nil, errors.New("runner: nil snapshot provider")
	}
	if len(actions) == 0 {
		return nil, errors.New("runner: empty action roster")
	}
	if len(actors) == 0 {
		return nil, errors.New("runner: empty actor roster")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if opts.StepsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.StepsPerSecond), 1)
	}
	return &Runner{
		provider: provider,
		actions:  actions,
		actors:   actors,
		rng:      sim.NewSource(sim.DeriveSeed(opts.Seed, "steps")),
		logger:   logger,
		metrics:  opts.Metrics,
		limiter:  limiter,
		seed:     opts.Seed,
		runID:    uuid.NewString(),
	}, nil
}

// RunID returns the identifier attached to every log line of this run.
func (r *Runner) RunID() string { return r.runID }

// Run executes the given number of steps and returns the aggregated report.
// Snapshot provider failures abort the run; everything else is recorded in
// the verdict stream and the loop continues.
func (r *Runner) Run(ctx context.Context, steps uint64) (*Report, error) {
	report := &Report{
		RunID: r.runID,
		Seed:  r.seed,
		Steps: steps,
	}
	logger := r.logger.With("run_id", r.runID, "seed", r.seed)
	logger.Info("run starting", "steps", steps, "actors", len(r.actors), "actions", len(r.actions))

	for i := uint64(0); i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}
		res, err := r.step(ctx, i)
		if err != nil {
			return report, err
		}
		report.Results = append(report.Results, res)
		switch res.Status {
		case StepSkipped:
			report.Skipped++
		case StepFailed:
			report.Failed++
			report.Executed++
			logger.Error("step failed", "step", i, "action", res.Action,
				"actor", res.Actor, "params", res.Params, "error", errString(res.Err))
		default:
			report.Executed++
		}
		r.observe(res)
	}

	if r.metrics != nil {
		r.metrics.SetDraws(r.rng.Draws())
	}
	logger.Info("run finished",
		"executed", report.Executed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"draws", r.rng.Draws(),
	)
	return report, nil
}

// step runs one propose/apply/verify cycle. Only snapshot provider errors are
// returned; step-level failures land in the result.
func (r *Runner) step(ctx context.Context, index uint64) (StepResult, error) {
	actor := r.actors[r.rng.IntN(uint64(len(r.actors)))]
	action := r.actions[r.rng.IntN(uint64(len(r.actions)))]
	res := StepResult{Index: index, Action: action.Name(), Actor: actor.Address.Hex()}

	before, err := r.provider.TakeSnapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: %v", sim.ErrSnapshotUnavailable, err)
	}

	params, applicable, err := action.Propose(ctx, actor, before, r.rng)
	if err != nil {
		res.Status = StepFailed
		res.Err = fmt.Errorf("propose %s: %w", action.Name(), err)
		return res, nil
	}
	if !applicable {
		res.Status = StepSkipped
		res.Err = sim.ErrNoApplicableParameters
		return res, nil
	}
	res.Params = params.String()

	outcome, err := action.Apply(ctx, actor, params)
	if err != nil {
		// The SUT refused parameters propose considered valid: a defect on
		// one side or the other, so the step fails.
		res.Status = StepFailed
		res.Err = err
		return res, nil
	}

	after, err := r.provider.TakeSnapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: %v", sim.ErrSnapshotUnavailable, err)
	}

	verdict := action.Verify(ctx, actor, before, after, params, outcome)
	res.Verdict = verdict
	if verdict.Pass() {
		res.Status = StepPassed
		r.logger.Debug("step verified", "run_id", r.runID, "step", index,
			"action", res.Action, "checks", verdict.Checks)
	} else {
		res.Status = StepFailed
		res.Err = fmt.Errorf("invariant violation: %s", verdict.String())
	}
	return res, nil
}

func (r *Runner) observe(res StepResult) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveStep(res.Action, string(res.Status))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
