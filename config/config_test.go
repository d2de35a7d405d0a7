package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Steps != 1000 {
		t.Fatalf("steps: got %d want 1000", cfg.Steps)
	}
	if cfg.Actors != 8 {
		t.Fatalf("actors: got %d want 8", cfg.Actors)
	}
	if cfg.LiquidationRatioBps != 11000 {
		t.Fatalf("liquidation ratio: got %d want 11000", cfg.LiquidationRatioBps)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file must be written: %v", err)
	}

	// Loading the freshly written file round-trips the defaults.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *reloaded != *cfg {
		t.Fatalf("reloaded config diverged:\n got %+v\nwant %+v", reloaded, cfg)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.toml")
	body := "Seed = 42\nSteps = 7\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Seed != 42 || cfg.Steps != 7 {
		t.Fatalf("explicit values lost: %+v", cfg)
	}
	if cfg.Actors != 8 || cfg.MetricsAddress != ":9464" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"ratio below parity": "LiquidationRatioBps = 9000\n",
		"fee at full amount": "ClaimFeeBps = 10000\n",
		"bad wei string":     "FundingPerActor = \"12abc\"\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "sim.toml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: load must fail", name)
		}
	}
}

func TestBigAmount(t *testing.T) {
	if _, err := BigAmount("x", " 1000000000000000000 "); err != nil {
		t.Fatalf("valid amount rejected: %v", err)
	}
	for _, bad := range []string{"", "-5", "1.5", "0x10"} {
		if _, err := BigAmount("x", bad); err == nil {
			t.Fatalf("BigAmount(%q) must fail", bad)
		}
	}
}
