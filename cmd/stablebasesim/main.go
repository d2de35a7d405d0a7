package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stablebasesim/config"
	"stablebasesim/observability/logging"
	"stablebasesim/observability/metrics"
	"stablebasesim/protocol"
	"stablebasesim/sim"
	"stablebasesim/sim/actions"
	"stablebasesim/sim/runner"
)

func main() {
	configPath := flag.String("config", "./stablebasesim.toml", "Path to the TOML config file")
	steps := flag.Uint64("steps", 0, "Override the configured step count")
	seed := flag.Uint64("seed", 0, "Override the configured master seed")
	flag.Parse()

	logger := logging.Setup("stablebasesim", os.Getenv("SIM_ENV"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}
	if *steps > 0 {
		cfg.Steps = *steps
	}
	if *seed > 0 {
		cfg.Seed = *seed
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("run failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	params, err := protocolParams(cfg)
	if err != nil {
		return err
	}
	engine := protocol.NewEngine(params)
	adapter := protocol.NewAdapter(engine)

	funding, err := config.BigAmount("FundingPerActor", cfg.FundingPerActor)
	if err != nil {
		return err
	}
	actors := make([]*sim.Actor, 0, cfg.Actors)
	for i := 0; i < cfg.Actors; i++ {
		actor, err := sim.NewActor(cfg.Seed, i)
		if err != nil {
			return err
		}
		engine.FundAccount(actor.Address, funding)
		actors = append(actors, actor)
	}

	threshold, err := config.BigAmount("BootstrapDebtThreshold", cfg.BootstrapDebtThreshold)
	if err != nil {
		return err
	}
	emission, err := config.BigAmount("GovEmissionPerStep", cfg.GovEmissionPerStep)
	if err != nil {
		return err
	}
	roster := actions.All(adapter, actions.Config{
		LiquidationRatioBps:    cfg.LiquidationRatioBps,
		LiquidationFeeBps:      cfg.LiquidationFeeBps,
		ClaimFeeBps:            cfg.ClaimFeeBps,
		MaxShieldingRateBps:    cfg.MaxShieldingRateBps,
		BootstrapDebtThreshold: threshold,
		GovEmissionPerStep:     emission,
		MaxSafeID:              cfg.MaxSafeID,
	})

	harness := metrics.Harness()
	serveMetrics(cfg.MetricsAddress, logger)

	r, err := runner.New(adapter, roster, actors, runner.Options{
		Seed:           cfg.Seed,
		StepsPerSecond: cfg.StepsPerSecond,
		Metrics:        harness,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := r.Run(ctx, cfg.Steps)
	if err != nil {
		return err
	}
	if !report.Pass() {
		return fmt.Errorf("%d of %d executed steps violated invariants (run %s)",
			report.Failed, report.Executed, report.RunID)
	}
	logger.Info("all invariants held",
		"run_id", report.RunID,
		"executed", report.Executed,
		"skipped", report.Skipped,
	)
	return nil
}

func protocolParams(cfg *config.Config) (protocol.Params, error) {
	budget, err := config.BigAmount("GovEmissionBudget", cfg.GovEmissionBudget)
	if err != nil {
		return protocol.Params{}, err
	}
	emission, err := config.BigAmount("GovEmissionPerStep", cfg.GovEmissionPerStep)
	if err != nil {
		return protocol.Params{}, err
	}
	threshold, err := config.BigAmount("BootstrapDebtThreshold", cfg.BootstrapDebtThreshold)
	if err != nil {
		return protocol.Params{}, err
	}
	price, err := config.BigAmount("InitialCollateralPrice", cfg.InitialCollateralPrice)
	if err != nil {
		return protocol.Params{}, err
	}
	return protocol.Params{
		LiquidationRatioBps:    cfg.LiquidationRatioBps,
		LiquidationFeeBps:      cfg.LiquidationFeeBps,
		ClaimFeeBps:            cfg.ClaimFeeBps,
		BootstrapDebtThreshold: threshold,
		GovEmissionPerStep:     emission,
		GovEmissionBudget:      budget,
		InitialCollateralPrice: price,
	}, nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err.Error())
		}
	}()
}
