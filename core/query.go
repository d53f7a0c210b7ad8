package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/native/sale"
	"tiersale/native/token"
)

// TokenBalance pairs a holder with its balance of a settlement token.
type TokenBalance struct {
	Token     common.Address
	Holder    common.Address
	Balance   *uint256.Int
	Allowance *uint256.Int
}

func querySale[T any](n *Node, fn func(engine *sale.Engine) (T, error)) (T, error) {
	var out T
	err := n.view(func(engine *sale.Engine, _ *token.Ledger) error {
		var err error
		out, err = fn(engine)
		return err
	})
	return out, err
}

// SaleConfig returns the platform configuration.
func (n *Node) SaleConfig() (*sale.Config, error) {
	return querySale(n, func(e *sale.Engine) (*sale.Config, error) { return e.LoadConfig() })
}

// SaleCount returns the number of sales ever started.
func (n *Node) SaleCount() (uint32, error) {
	return querySale(n, func(e *sale.Engine) (uint32, error) { return e.SaleCount() })
}

// SaleInfo returns the sale with id.
func (n *Node) SaleInfo(id uint32) (*sale.Sale, error) {
	return querySale(n, func(e *sale.Engine) (*sale.Sale, error) { return e.SaleInfo(id) })
}

// Sales pages over all sales.
func (n *Node) Sales(start, limit uint32) (*sale.Page[sale.Sale], error) {
	return querySale(n, func(e *sale.Engine) (*sale.Page[sale.Sale], error) { return e.Sales(start, limit) })
}

// SaleInWhitelist reports whether addr may buy from sale id.
func (n *Node) SaleInWhitelist(addr common.Address, id uint32) (bool, error) {
	return querySale(n, func(e *sale.Engine) (bool, error) { return e.InWhitelist(addr, id) })
}

// SaleWhitelist pages over the members of scope.
func (n *Node) SaleWhitelist(scope sale.Scope, start, limit uint32) (*sale.Page[common.Address], error) {
	return querySale(n, func(e *sale.Engine) (*sale.Page[common.Address], error) {
		return e.Whitelist(scope, start, limit)
	})
}

// SalesOwnedBy pages over the sale ids started by owner.
func (n *Node) SalesOwnedBy(owner common.Address, start, limit uint32) (*sale.Page[uint32], error) {
	return querySale(n, func(e *sale.Engine) (*sale.Page[uint32], error) {
		return e.SalesOwnedBy(owner, start, limit)
	})
}

// SaleUserInfo returns the per-sale totals of investor.
func (n *Node) SaleUserInfo(investor common.Address, id uint32) (*sale.UserInfo, error) {
	return querySale(n, func(e *sale.Engine) (*sale.UserInfo, error) { return e.UserInfo(investor, id) })
}

// SaleInvestorTotals returns the totals of investor across all sales.
func (n *Node) SaleInvestorTotals(investor common.Address) (*sale.UserInfo, error) {
	return querySale(n, func(e *sale.Engine) (*sale.UserInfo, error) { return e.InvestorTotals(investor) })
}

// SalePurchases pages over the unclaimed purchases of investor in sale id.
func (n *Node) SalePurchases(investor common.Address, id, start, limit uint32) (*sale.Page[sale.Purchase], error) {
	return querySale(n, func(e *sale.Engine) (*sale.Page[sale.Purchase], error) {
		return e.Purchases(investor, id, start, limit)
	})
}

// SaleArchivedPurchases pages over the claimed purchases of investor in sale id.
func (n *Node) SaleArchivedPurchases(investor common.Address, id, start, limit uint32) (*sale.Page[sale.Purchase], error) {
	return querySale(n, func(e *sale.Engine) (*sale.Page[sale.Purchase], error) {
		return e.ArchivedPurchases(investor, id, start, limit)
	})
}

// SaleActive pages over the sales in which investor still has unclaimed tokens.
func (n *Node) SaleActive(investor common.Address, start, limit uint32) (*sale.Page[uint32], error) {
	return querySale(n, func(e *sale.Engine) (*sale.Page[uint32], error) {
		return e.ActiveSales(investor, start, limit)
	})
}

// TokenBalanceOf returns the balance of holder and the allowance it granted
// to the custody account.
func (n *Node) TokenBalanceOf(tokenAddr, holder common.Address) (*TokenBalance, error) {
	out := &TokenBalance{Token: tokenAddr, Holder: holder}
	err := n.view(func(_ *sale.Engine, ledger *token.Ledger) error {
		var err error
		if out.Balance, err = ledger.BalanceOf(tokenAddr, holder); err != nil {
			return err
		}
		out.Allowance, err = ledger.Allowance(tokenAddr, holder, n.custody)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TokenHolders pages through the addresses that ever held tokenAddr.
func (n *Node) TokenHolders(tokenAddr common.Address, start, limit uint32) (*sale.Page[common.Address], error) {
	out := &sale.Page[common.Address]{}
	err := n.view(func(_ *sale.Engine, ledger *token.Ledger) error {
		var err error
		out.Items, out.Total, err = ledger.Holders(tokenAddr, start, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
