package config

import "fmt"

// Validate checks field ranges and that every big amount parses.
func (c *Config) Validate() error {
	if c.Steps == 0 {
		return fmt.Errorf("config: Steps must be positive")
	}
	if c.Actors <= 0 {
		return fmt.Errorf("config: Actors must be positive")
	}
	if c.StepsPerSecond < 0 {
		return fmt.Errorf("config: StepsPerSecond must not be negative")
	}
	if c.LiquidationRatioBps < 10000 {
		return fmt.Errorf("config: LiquidationRatioBps must be at least 10000, got %d", c.LiquidationRatioBps)
	}
	for _, bps := range []struct {
		name  string
		value uint64
	}{
		{"LiquidationFeeBps", c.LiquidationFeeBps},
		{"ClaimFeeBps", c.ClaimFeeBps},
		{"MaxShieldingRateBps", c.MaxShieldingRateBps},
	} {
		if bps.value >= 10000 {
			return fmt.Errorf("config: %s must be below 10000, got %d", bps.name, bps.value)
		}
	}
	for _, amount := range []struct {
		name  string
		value string
	}{
		{"FundingPerActor", c.FundingPerActor},
		{"BootstrapDebtThreshold", c.BootstrapDebtThreshold},
		{"GovEmissionPerStep", c.GovEmissionPerStep},
		{"GovEmissionBudget", c.GovEmissionBudget},
		{"InitialCollateralPrice", c.InitialCollateralPrice},
	} {
		if _, err := BigAmount(amount.name, amount.value); err != nil {
			return err
		}
	}
	if c.MaxSafeID == 0 {
		return fmt.Errorf("config: MaxSafeID must be positive")
	}
	return nil
}
