package tier

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"tiersale/native/sale"
)

// Fixtures seeds the development collaborators.
type Fixtures struct {
	Tiers []TierFixture `yaml:"tiers"`
	NFTs  []NFTFixture  `yaml:"nfts"`
}

// TierFixture assigns a staking tier to an address.
type TierFixture struct {
	Address string `yaml:"address"`
	Tier    uint8  `yaml:"tier"`
}

// NFTFixture describes one token of the configured NFT contract.
type NFTFixture struct {
	TokenID    string         `yaml:"token_id"`
	Owner      string         `yaml:"owner"`
	ViewingKey string         `yaml:"viewing_key"`
	Public     *sale.Metadata `yaml:"public"`
	Private    *sale.Metadata `yaml:"private"`
}

// LoadFixtures reads a YAML fixture file.
func LoadFixtures(path string) (*Fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier fixtures: %w", err)
	}
	return ParseFixtures(raw)
}

// ParseFixtures decodes and validates fixture YAML.
func ParseFixtures(raw []byte) (*Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("decode tier fixtures: %w", err)
	}
	for i, t := range fx.Tiers {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("tier fixture %d: invalid address %q", i, t.Address)
		}
	}
	for i, n := range fx.NFTs {
		if n.TokenID == "" {
			return nil, fmt.Errorf("nft fixture %d: token_id required", i)
		}
		if !common.IsHexAddress(n.Owner) {
			return nil, fmt.Errorf("nft fixture %d: invalid owner %q", i, n.Owner)
		}
	}
	return &fx, nil
}

// Apply records the fixtures against the given tier and NFT contracts.
func (fx *Fixtures) Apply(oracle *Oracle, tierContract common.Address, nfts *Collection, nftContract common.Address) error {
	if fx == nil {
		return nil
	}
	for _, t := range fx.Tiers {
		if err := oracle.SetTier(tierContract, common.HexToAddress(t.Address), t.Tier); err != nil {
			return err
		}
	}
	for _, n := range fx.NFTs {
		nfts.Put(nftContract, Token{
			ID:         n.TokenID,
			Owner:      common.HexToAddress(n.Owner),
			ViewingKey: n.ViewingKey,
			Public:     n.Public,
			Private:    n.Private,
		})
	}
	return nil
}
