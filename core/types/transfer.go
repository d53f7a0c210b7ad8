package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TransferKind distinguishes custody pulls from direct payouts.
type TransferKind uint8

const (
	// TransferFromKind moves Amount out of From's balance on behalf of the
	// executing engine, consuming the allowance From granted to it.
	TransferFromKind TransferKind = iota + 1
	// TransferPayoutKind moves Amount out of the executing engine's custody.
	TransferPayoutKind
)

func (k TransferKind) String() string {
	switch k {
	case TransferFromKind:
		return "transfer_from"
	case TransferPayoutKind:
		return "transfer"
	default:
		return "unknown"
	}
}

// Transfer is an outbound instruction for a fungible-token ledger. Engines
// return transfers instead of moving balances themselves; the host executes
// them inside the same transaction.
type Transfer struct {
	Kind   TransferKind
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}
