package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk run configuration. Big amounts are decimal wei
// strings so TOML never truncates them.
type Config struct {
	Seed            uint64  `toml:"Seed"`
	Steps           uint64  `toml:"Steps"`
	Actors          int     `toml:"Actors"`
	FundingPerActor string  `toml:"FundingPerActor"`
	StepsPerSecond  float64 `toml:"StepsPerSecond"`
	MetricsAddress  string  `toml:"MetricsAddress"`

	LiquidationRatioBps    uint64 `toml:"LiquidationRatioBps"`
	LiquidationFeeBps      uint64 `toml:"LiquidationFeeBps"`
	ClaimFeeBps            uint64 `toml:"ClaimFeeBps"`
	MaxShieldingRateBps    uint64 `toml:"MaxShieldingRateBps"`
	BootstrapDebtThreshold string `toml:"BootstrapDebtThreshold"`
	GovEmissionPerStep     string `toml:"GovEmissionPerStep"`
	GovEmissionBudget      string `toml:"GovEmissionBudget"`
	InitialCollateralPrice string `toml:"InitialCollateralPrice"`
	MaxSafeID              uint64 `toml:"MaxSafeID"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without touching the disk.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Steps == 0 {
		cfg.Steps = 1000
	}
	if cfg.Actors == 0 {
		cfg.Actors = 8
	}
	if strings.TrimSpace(cfg.FundingPerActor) == "" {
		cfg.FundingPerActor = "1000000000000000000000" // 1000 units
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9464"
	}
	if cfg.LiquidationRatioBps == 0 {
		cfg.LiquidationRatioBps = 11000
	}
	if cfg.LiquidationFeeBps == 0 {
		cfg.LiquidationFeeBps = 50
	}
	if cfg.ClaimFeeBps == 0 {
		cfg.ClaimFeeBps = 100
	}
	if cfg.MaxShieldingRateBps == 0 {
		cfg.MaxShieldingRateBps = 500
	}
	if strings.TrimSpace(cfg.BootstrapDebtThreshold) == "" {
		cfg.BootstrapDebtThreshold = "5000000000000000000000" // 5000 units
	}
	if strings.TrimSpace(cfg.GovEmissionPerStep) == "" {
		cfg.GovEmissionPerStep = "10000000000000000000" // 10 units
	}
	if strings.TrimSpace(cfg.GovEmissionBudget) == "" {
		cfg.GovEmissionBudget = "100000000000000000000000" // 100000 units
	}
	if strings.TrimSpace(cfg.InitialCollateralPrice) == "" {
		cfg.InitialCollateralPrice = "1000000000000000000000" // 1000 per unit
	}
	if cfg.MaxSafeID == 0 {
		cfg.MaxSafeID = 1 << 20
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// BigAmount parses one of the decimal wei string fields.
func BigAmount(field, value string) (*big.Int, error) {
	out, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("config: %s must be a non-negative decimal integer, got %q", field, value)
	}
	return out, nil
}
