package sale

import (
	"github.com/ethereum/go-ethereum/common"
)

// Page is one window of a paged listing together with the listing's full size.
type Page[T any] struct {
	Items []T
	Total uint32
}

// SaleCount returns the number of sales ever started.
func (e *Engine) SaleCount() (uint32, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return salesLog.Len(e.state)
}

// SaleInfo returns the sale with the given id.
func (e *Engine) SaleInfo(id uint32) (*Sale, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadSale(id)
}

// Sales lists sales in creation order.
func (e *Engine) Sales(start, limit uint32) (*Page[Sale], error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	items, err := salesLog.Page(e.state, start, limit)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].ID = start + uint32(i)
	}
	total, err := salesLog.Len(e.state)
	if err != nil {
		return nil, err
	}
	return &Page[Sale]{Items: items, Total: total}, nil
}

// InWhitelist reports whether addr is admitted to the sale, either through the
// sale's own whitelist or the global one.
func (e *Engine) InWhitelist(addr common.Address, saleID uint32) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if _, err := e.loadSale(saleID); err != nil {
		return false, err
	}
	return e.inWhitelist(addr, saleID)
}

// Whitelist lists the addresses admitted to scope in insertion order.
func (e *Engine) Whitelist(scope Scope, start, limit uint32) (*Page[common.Address], error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	wl := whitelistOf(scope)
	items, err := wl.Keys(e.state, start, limit)
	if err != nil {
		return nil, err
	}
	total, err := wl.Len(e.state)
	if err != nil {
		return nil, err
	}
	return &Page[common.Address]{Items: items, Total: total}, nil
}

// SalesOwnedBy lists the ids of sales started by owner.
func (e *Engine) SalesOwnedBy(owner common.Address, start, limit uint32) (*Page[uint32], error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	log := ownedBy(owner)
	items, err := log.Page(e.state, start, limit)
	if err != nil {
		return nil, err
	}
	total, err := log.Len(e.state)
	if err != nil {
		return nil, err
	}
	return &Page[uint32]{Items: items, Total: total}, nil
}

// UserInfo returns the investor's aggregate for one sale. Investors without
// purchases report zero totals.
func (e *Engine) UserInfo(investor common.Address, saleID uint32) (*UserInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	info, err := e.saleInfo(investor, saleID)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// InvestorTotals returns the investor's aggregate across every sale.
func (e *Engine) InvestorTotals(investor common.Address) (*UserInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	info, err := e.investorTotals(investor)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Purchases lists the unclaimed ledger entries of an investor in a sale.
func (e *Engine) Purchases(investor common.Address, saleID uint32, start, limit uint32) (*Page[Purchase], error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger := ledgerOf(investor, saleID)
	items, err := ledger.Page(e.state, start, limit)
	if err != nil {
		return nil, err
	}
	total, err := ledger.Len(e.state)
	if err != nil {
		return nil, err
	}
	return &Page[Purchase]{Items: items, Total: total}, nil
}

// ArchivedPurchases lists ledger entries that were already paid out.
func (e *Engine) ArchivedPurchases(investor common.Address, saleID uint32, start, limit uint32) (*Page[Purchase], error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	log := archiveOf(investor, saleID)
	items, err := log.Page(e.state, start, limit)
	if err != nil {
		return nil, err
	}
	total, err := log.Len(e.state)
	if err != nil {
		return nil, err
	}
	return &Page[Purchase]{Items: items, Total: total}, nil
}

// ActiveSales lists the sales in which the investor still has tokens to receive.
func (e *Engine) ActiveSales(investor common.Address, start, limit uint32) (*Page[uint32], error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	active := activeOf(investor)
	items, err := active.Keys(e.state, start, limit)
	if err != nil {
		return nil, err
	}
	total, err := active.Len(e.state)
	if err != nil {
		return nil, err
	}
	return &Page[uint32]{Items: items, Total: total}, nil
}
