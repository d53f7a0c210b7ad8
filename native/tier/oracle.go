// Package tier provides self-hosted tier collaborators for development
// networks: a staking-tier registry persisted in state and an NFT collection
// whose metadata may carry a tier attribute.
package tier

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"tiersale/core/state"
	"tiersale/storage"
)

var tierPrefix = []byte("tier/user/")

func tierKey(contract, addr common.Address) []byte {
	buf := make([]byte, 0, len(tierPrefix)+2*common.AddressLength)
	buf = append(buf, tierPrefix...)
	buf = append(buf, contract.Bytes()...)
	return append(buf, addr.Bytes()...)
}

// Oracle answers tier queries from tiers recorded in state. Addresses without
// a record are tier 0.
type Oracle struct {
	mgr *state.Manager
}

// NewOracle binds the oracle to st.
func NewOracle(st storage.Store) *Oracle {
	return &Oracle{mgr: state.NewManager(st)}
}

// TierOf implements sale.TierOracle.
func (o *Oracle) TierOf(ctx context.Context, contract common.Address, addr common.Address) (uint8, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var tier uint8
	if _, err := o.mgr.KVGet(tierKey(contract, addr), &tier); err != nil {
		return 0, fmt.Errorf("tier oracle: %w", err)
	}
	return tier, nil
}

// SetTier records addr's tier under contract. Tier 0 clears the record.
func (o *Oracle) SetTier(contract common.Address, addr common.Address, tier uint8) error {
	if tier == 0 {
		return o.mgr.KVDelete(tierKey(contract, addr))
	}
	return o.mgr.KVPut(tierKey(contract, addr), tier)
}
