package tier

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"tiersale/native/sale"
)

var (
	ErrTokenNotFound = errors.New("nft: token not found")
	ErrUnauthorized  = errors.New("nft: viewer not permitted")
)

// Token is one NFT of a collection.
type Token struct {
	ID         string
	Owner      common.Address
	ViewingKey string
	Public     *sale.Metadata
	Private    *sale.Metadata
}

// Collection is an in-memory NFT contract. Ownership is only revealed to
// viewers presenting the owner's viewing key.
type Collection struct {
	mu     sync.RWMutex
	tokens map[common.Address]map[string]Token
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{tokens: make(map[common.Address]map[string]Token)}
}

// Put registers or replaces a token under contract.
func (c *Collection) Put(contract common.Address, token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byID, ok := c.tokens[contract]
	if !ok {
		byID = make(map[string]Token)
		c.tokens[contract] = byID
	}
	byID[token.ID] = token
}

func (c *Collection) lookup(contract common.Address, id string) (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.tokens[contract][id]
	return token, ok
}

func permitted(token Token, ref sale.NftToken, viewer common.Address) bool {
	return viewer == token.Owner && ref.ViewingKey == token.ViewingKey
}

// NftInfo implements sale.NFTContract.
func (c *Collection) NftInfo(ctx context.Context, contract common.Address, ref sale.NftToken, viewer common.Address) (*sale.NftInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, ok := c.lookup(contract, ref.TokenID)
	if !ok {
		return nil, ErrTokenNotFound
	}
	info := &sale.NftInfo{Public: token.Public}
	if permitted(token, ref, viewer) {
		owner := token.Owner
		info.Owner = &owner
	}
	return info, nil
}

// PrivateMetadata implements sale.NFTContract.
func (c *Collection) PrivateMetadata(ctx context.Context, contract common.Address, ref sale.NftToken, viewer common.Address) (*sale.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, ok := c.lookup(contract, ref.TokenID)
	if !ok {
		return nil, ErrTokenNotFound
	}
	if !permitted(token, ref, viewer) {
		return nil, ErrUnauthorized
	}
	return token.Private, nil
}
