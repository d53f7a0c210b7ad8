package sale

import (
	"github.com/ethereum/go-ethereum/common"

	"tiersale/storage/paged"
)

var (
	configKey = []byte("sale/config")

	salesLog       = paged.NewAppendLog[Sale]("sale/sales")
	whitelistMap   = paged.NewKeymap[common.Address, bool]("sale/wl")
	purchaseLedger = paged.NewDeque[Purchase]("sale/purchases")
	archiveLog     = paged.NewAppendLog[Purchase]("sale/archive")
	saleInfoMap    = paged.NewKeymap[uint32, UserInfo]("sale/info")
	investorTotals = paged.NewKeymap[common.Address, UserInfo]("sale/users")
	activeSales    = paged.NewKeymap[uint32, bool]("sale/active")
	ownedSales     = paged.NewAppendLog[uint32]("sale/owner")
)

func whitelistOf(scope Scope) paged.Keymap[common.Address, bool] {
	if id, ok := scope.SaleID(); ok {
		return whitelistMap.WithSuffix(paged.Uint32Suffix(id))
	}
	return whitelistMap
}

func ledgerOf(investor common.Address, saleID uint32) paged.Deque[Purchase] {
	return purchaseLedger.WithSuffix(paged.AddressSuffix(investor)).WithSuffix(paged.Uint32Suffix(saleID))
}

func archiveOf(investor common.Address, saleID uint32) paged.AppendLog[Purchase] {
	return archiveLog.WithSuffix(paged.AddressSuffix(investor)).WithSuffix(paged.Uint32Suffix(saleID))
}

func infoOf(investor common.Address) paged.Keymap[uint32, UserInfo] {
	return saleInfoMap.WithSuffix(paged.AddressSuffix(investor))
}

func activeOf(investor common.Address) paged.Keymap[uint32, bool] {
	return activeSales.WithSuffix(paged.AddressSuffix(investor))
}

func ownedBy(owner common.Address) paged.AppendLog[uint32] {
	return ownedSales.WithSuffix(paged.AddressSuffix(owner))
}
