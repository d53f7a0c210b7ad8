package sale

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/core/types"
	"tiersale/storage/paged"
)

// claimableIndices collects unlocked ledger positions from the scan window
// [start, start+limit) plus explicit positions outside that window. The result
// is ascending and free of duplicates.
func (e *Engine) claimableIndices(investor common.Address, saleID uint32, start, limit uint32, explicit []uint32, now uint64) ([]uint32, error) {
	ledger := ledgerOf(investor, saleID)
	length, err := ledger.Len(e.state)
	if err != nil {
		return nil, err
	}
	windowEnd := uint64(start) + uint64(limit)

	var picked []uint32
	scanEnd := windowEnd
	if scanEnd > uint64(length) {
		scanEnd = uint64(length)
	}
	for i := uint64(start); i < scanEnd; i++ {
		p, err := ledger.Get(e.state, uint32(i))
		if err != nil {
			return nil, err
		}
		if p.UnlockTime <= now {
			picked = append(picked, uint32(i))
		}
	}

	for _, idx := range explicit {
		if uint64(idx) >= uint64(start) && uint64(idx) < windowEnd {
			continue
		}
		p, err := ledger.Get(e.state, idx)
		if errors.Is(err, paged.ErrIndexOutOfRange) {
			return nil, fmt.Errorf("%w: purchase %d", ErrNotFound, idx)
		}
		if err != nil {
			return nil, err
		}
		if p.UnlockTime <= now {
			picked = append(picked, idx)
		}
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i] < picked[j] })
	out := picked[:0]
	for i, idx := range picked {
		if i > 0 && idx == picked[i-1] {
			continue
		}
		out = append(out, idx)
	}
	return out, nil
}

// ClaimVested pays out every selected ledger entry whose unlock time has
// passed. Claiming before anything unlocks succeeds with a zero amount.
func (e *Engine) ClaimVested(investor common.Address, req ClaimRequest) (*ClaimResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadActiveConfig(); err != nil {
		return nil, err
	}
	s, err := e.loadSale(req.SaleID)
	if err != nil {
		return nil, err
	}
	start := uint32(0)
	if req.Start != nil {
		start = *req.Start
	}
	limit := DefaultClaimLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	now := e.now()

	indices, err := e.claimableIndices(investor, s.ID, start, limit, req.Indices, now)
	if err != nil {
		return nil, err
	}

	ledger := ledgerOf(investor, s.ID)
	archive := archiveOf(investor, s.ID)
	total := new(uint256.Int)
	for shift, idx := range indices {
		// every earlier removal moved this entry one position left
		p, err := ledger.Remove(e.state, idx-uint32(shift))
		if err != nil {
			return nil, err
		}
		if total, err = checkedAdd(total, p.TokensAmount, "claim total"); err != nil {
			return nil, err
		}
		if _, err := archive.Push(e.state, p); err != nil {
			return nil, err
		}
	}
	if total.IsZero() {
		return &ClaimResult{Amount: total, Claimed: uint32(len(indices))}, nil
	}

	info, err := e.saleInfo(investor, s.ID)
	if err != nil {
		return nil, err
	}
	if info.TotalTokensReceived, err = checkedAdd(info.TotalTokensReceived, total, "tokens received"); err != nil {
		return nil, err
	}
	if info.TotalTokensReceived.Gt(info.TotalTokensBought) {
		return nil, overflow("received more tokens than bought")
	}
	if err := infoOf(investor).Insert(e.state, s.ID, info); err != nil {
		return nil, err
	}
	totals, err := e.investorTotals(investor)
	if err != nil {
		return nil, err
	}
	if totals.TotalTokensReceived, err = checkedAdd(totals.TotalTokensReceived, total, "total tokens received"); err != nil {
		return nil, err
	}
	if err := investorTotals.Insert(e.state, investor, totals); err != nil {
		return nil, err
	}
	if info.TotalTokensReceived.Eq(info.TotalTokensBought) {
		if _, err := activeOf(investor).Remove(e.state, s.ID); err != nil {
			return nil, err
		}
	}

	e.emit(VestedClaimedEvent(s.ID, investor, uint32(len(indices)), total))
	return &ClaimResult{
		Receipt: Receipt{Transfers: []types.Transfer{{
			Kind:   types.TransferPayoutKind,
			Token:  s.TokenContract,
			From:   e.custody,
			To:     investor,
			Amount: new(uint256.Int).Set(total),
		}}},
		Amount:  total,
		Claimed: uint32(len(indices)),
	}, nil
}

// WithdrawUnsold returns the unsold inventory of a closed sale to its owner.
// It succeeds at most once per sale.
func (e *Engine) WithdrawUnsold(caller common.Address, saleID uint32) (*WithdrawResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadActiveConfig(); err != nil {
		return nil, err
	}
	s, err := e.loadSale(saleID)
	if err != nil {
		return nil, err
	}
	if caller != s.Owner {
		return nil, fmt.Errorf("%w: only the sale owner can withdraw", ErrUnauthorized)
	}
	if s.Withdrawn {
		return nil, statef("already withdrawn")
	}
	if s.StatusAt(e.now()) != StatusClosed {
		return nil, statef("not finished yet")
	}
	s.Withdrawn = true
	remaining := s.Remaining()
	if remaining.IsZero() {
		return nil, statef("nothing to withdraw")
	}
	if err := e.saveSale(s); err != nil {
		return nil, err
	}

	e.emit(UnsoldWithdrawnEvent(s.ID, s.Owner, remaining))
	return &WithdrawResult{
		Receipt: Receipt{Transfers: []types.Transfer{{
			Kind:   types.TransferPayoutKind,
			Token:  s.TokenContract,
			From:   e.custody,
			To:     s.Owner,
			Amount: new(uint256.Int).Set(remaining),
		}}},
		Amount: remaining,
	}, nil
}
