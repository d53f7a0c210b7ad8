package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if !common.IsHexAddress(strings.TrimSpace(cfg.CustodyAddress)) {
		return fmt.Errorf("CustodyAddress: %q is not a hex address", cfg.CustodyAddress)
	}
	if cfg.RPC.RateLimitPerSecond < 0 || cfg.RPC.RateBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if cfg.RPC.MaxBodyBytes < 0 {
		return fmt.Errorf("rpc: MaxBodyBytes must not be negative")
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: SampleRatio %v outside [0, 1]", r)
	}
	if _, err := cfg.Global.SaleConfig(); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	return nil
}

// Custody returns the parsed custody address.
func (c *Config) Custody() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.CustodyAddress))
}
