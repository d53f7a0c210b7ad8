package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/native/sale"
)

// SaleConfig parses the platform section into the engine configuration.
func (g Global) SaleConfig() (*sale.Config, error) {
	owner, err := parseAddress("global.Owner", g.Owner, true)
	if err != nil {
		return nil, err
	}
	tierContract, err := parseAddress("global.TierContract", g.TierContract, false)
	if err != nil {
		return nil, err
	}
	nftContract, err := parseAddress("global.NftContract", g.NftContract, false)
	if err != nil {
		return nil, err
	}
	tokenContract, err := parseAddress("global.TokenContract", g.TokenContract, true)
	if err != nil {
		return nil, err
	}
	caps := make([]*uint256.Int, 0, len(g.MaxPayments))
	for i, raw := range g.MaxPayments {
		v, err := parseUintAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid global.MaxPayments[%d]: %w", i, err)
		}
		caps = append(caps, v)
	}
	cfg := &sale.Config{
		Owner:         owner,
		TierContract:  tierContract,
		NftContract:   nftContract,
		TokenContract: tokenContract,
		MaxPayments:   caps,
		LockPeriods:   append([]uint64(nil), g.LockPeriods...),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseAddress(field, raw string, required bool) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s is required", field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not a hex address", field, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseUintAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(trimmed)
}
