package sale

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TierOracle converts an address's staked position into a tier.
type TierOracle interface {
	TierOf(ctx context.Context, contract common.Address, addr common.Address) (uint8, error)
}

// Trait is one metadata attribute of an NFT.
type Trait struct {
	TraitType string `json:"trait_type" yaml:"trait_type"`
	Value     string `json:"value" yaml:"value"`
}

// Metadata is the public or private metadata of an NFT.
type Metadata struct {
	Attributes []Trait `json:"attributes" yaml:"attributes"`
}

// NftInfo is the viewer-scoped view of a token.
type NftInfo struct {
	Owner  *common.Address
	Public *Metadata
}

// NFTContract answers metadata queries on behalf of a viewer.
type NFTContract interface {
	NftInfo(ctx context.Context, contract common.Address, token NftToken, viewer common.Address) (*NftInfo, error)
	PrivateMetadata(ctx context.Context, contract common.Address, token NftToken, viewer common.Address) (*Metadata, error)
}

// CombineTiers merges the oracle tier with an optional NFT-derived tier. The
// NFT tier can only raise the result.
func CombineTiers(oracle uint8, nft *uint8) uint8 {
	if nft != nil && *nft > oracle {
		return *nft
	}
	return oracle
}

// TierFromMetadata returns the first attribute named "tier" (any case) whose
// value parses as a tier.
func TierFromMetadata(meta *Metadata) (uint8, bool) {
	if meta == nil {
		return 0, false
	}
	for _, attr := range meta.Attributes {
		if !strings.EqualFold(strings.TrimSpace(attr.TraitType), "tier") {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(attr.Value), 10, 8)
		if err != nil {
			continue
		}
		return uint8(v), true
	}
	return 0, false
}

// Resolver maps an investor to a tier using the platform collaborators.
type Resolver struct {
	Oracle TierOracle
	NFT    NFTContract
}

// Resolve returns the oracle tier combined with the tier carried by token, if
// any. Collaborator failures wrap ErrExternal.
func (r Resolver) Resolve(ctx context.Context, cfg *Config, addr common.Address, token *NftToken) (uint8, error) {
	if r.Oracle == nil {
		return 0, fmt.Errorf("%w: tier oracle not configured", ErrExternal)
	}
	var nftTier *uint8
	if token != nil {
		tier, ok, err := r.nftTier(ctx, cfg, addr, *token)
		if err != nil {
			return 0, err
		}
		if ok {
			nftTier = &tier
		}
	}
	tier, err := r.Oracle.TierOf(ctx, cfg.TierContract, addr)
	if err != nil {
		return 0, fmt.Errorf("%w: tier oracle: %v", ErrExternal, err)
	}
	return CombineTiers(tier, nftTier), nil
}

func (r Resolver) nftTier(ctx context.Context, cfg *Config, addr common.Address, token NftToken) (uint8, bool, error) {
	if r.NFT == nil {
		return 0, false, fmt.Errorf("%w: nft contract not configured", ErrExternal)
	}
	info, err := r.NFT.NftInfo(ctx, cfg.NftContract, token, addr)
	if err != nil {
		return 0, false, fmt.Errorf("%w: nft info: %v", ErrExternal, err)
	}
	if info == nil || info.Owner == nil || *info.Owner != addr {
		return 0, false, nil
	}
	if tier, ok := TierFromMetadata(info.Public); ok {
		return tier, true, nil
	}
	private, err := r.NFT.PrivateMetadata(ctx, cfg.NftContract, token, addr)
	if err != nil {
		return 0, false, fmt.Errorf("%w: nft private metadata: %v", ErrExternal, err)
	}
	tier, ok := TierFromMetadata(private)
	return tier, ok, nil
}

// resolveTier applies the whitelist gate before consulting collaborators and
// clamps the result to the configured tier table.
func (e *Engine) resolveTier(ctx context.Context, cfg *Config, addr common.Address, saleID uint32, token *NftToken) (uint8, error) {
	listed, err := e.inWhitelist(addr, saleID)
	if err != nil {
		return 0, err
	}
	if !listed {
		return 0, nil
	}
	tier, err := e.resolver.Resolve(ctx, cfg, addr, token)
	if err != nil {
		return 0, err
	}
	if last := cfg.Tiers() - 1; int(tier) > last {
		tier = uint8(last)
	}
	return tier, nil
}
