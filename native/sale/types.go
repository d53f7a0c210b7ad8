package sale

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/core/types"
)

// Status is the lifecycle phase of a sale at a given instant.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config is the platform-wide configuration singleton.
type Config struct {
	Owner         common.Address
	TierContract  common.Address
	NftContract   common.Address
	TokenContract common.Address
	// MaxPayments[tier] is the cumulative payment cap per investor per sale.
	MaxPayments []*uint256.Int
	// LockPeriods[tier] is the vesting delay in seconds applied to each purchase.
	LockPeriods []uint64
	Paused      bool
}

// Sale is one token offering. ID is assigned from its position in the sale
// log and is not persisted with the record.
type Sale struct {
	ID                uint32 `rlp:"-"`
	Owner             common.Address
	StartTime         uint64
	EndTime           uint64
	TokenContract     common.Address
	Price             *uint256.Int
	TotalTokensAmount *uint256.Int
	SoldAmount        *uint256.Int
	TotalPayment      *uint256.Int
	Participants      uint64
	Withdrawn         bool
	// PaymentToken is the token buyers pay in.
	PaymentToken      common.Address
}

// StatusAt reports the lifecycle phase at now.
func (s *Sale) StatusAt(now uint64) Status {
	switch {
	case now < s.StartTime:
		return StatusPending
	case now < s.EndTime:
		return StatusActive
	default:
		return StatusClosed
	}
}

// Remaining returns the unsold inventory.
func (s *Sale) Remaining() *uint256.Int {
	if s.SoldAmount.Gt(s.TotalTokensAmount) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(s.TotalTokensAmount, s.SoldAmount)
}

// Purchase is one vesting ledger entry.
type Purchase struct {
	TokensAmount *uint256.Int
	Timestamp    uint64
	UnlockTime   uint64
}

// UserInfo aggregates an investor's activity, either within one sale or
// across every sale.
type UserInfo struct {
	TotalPayment        *uint256.Int
	TotalTokensBought   *uint256.Int
	TotalTokensReceived *uint256.Int
}

func newUserInfo() UserInfo {
	return UserInfo{
		TotalPayment:        new(uint256.Int),
		TotalTokensBought:   new(uint256.Int),
		TotalTokensReceived: new(uint256.Int),
	}
}

// NftToken references an NFT whose metadata may carry a tier attribute.
type NftToken struct {
	TokenID    string
	ViewingKey string
}

// Scope selects the global whitelist or the whitelist of a single sale.
type Scope struct {
	perSale bool
	saleID  uint32
}

// GlobalScope is the platform-wide whitelist.
var GlobalScope = Scope{}

// SaleScope returns the whitelist scope of sale id.
func SaleScope(id uint32) Scope { return Scope{perSale: true, saleID: id} }

// SaleID returns the sale id and whether the scope is per-sale.
func (s Scope) SaleID() (uint32, bool) { return s.saleID, s.perSale }

// Receipt carries the outbound token instructions produced by an action.
type Receipt struct {
	Transfers []types.Transfer
}

// StartSaleRequest describes a new offering.
type StartSaleRequest struct {
	StartTime     uint64
	EndTime       uint64
	TokenContract common.Address
	// PaymentToken overrides the platform payment token for this sale when set.
	PaymentToken  common.Address
	Price         *uint256.Int
	TotalAmount   *uint256.Int
	Whitelist     []common.Address
}

// StartSaleResult acknowledges a created sale.
type StartSaleResult struct {
	Receipt
	SaleID        uint32
	WhitelistSize uint32
}

// BuyRequest purchases Amount tokens from a sale.
type BuyRequest struct {
	SaleID uint32
	Amount *uint256.Int
	Token  *NftToken
}

// BuyResult acknowledges an accepted purchase.
type BuyResult struct {
	Receipt
	Tier       uint8
	Payment    *uint256.Int
	UnlockTime uint64
	Index      uint32
}

// ClaimRequest selects vested ledger entries to pay out. Nil Start and Limit
// fall back to 0 and DefaultClaimLimit.
type ClaimRequest struct {
	SaleID  uint32
	Start   *uint32
	Limit   *uint32
	Indices []uint32
}

// ClaimResult acknowledges a claim. A zero Amount is a successful no-op.
type ClaimResult struct {
	Receipt
	Amount  *uint256.Int
	Claimed uint32
}

// WithdrawResult acknowledges an owner withdrawal of unsold inventory.
type WithdrawResult struct {
	Receipt
	Amount *uint256.Int
}
