package sale

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"tiersale/core/types"
)

func u32(v uint32) *uint32 { return &v }

// buyAt records one purchase of amount at the given instant. Tier 1 locks
// purchases for 100 seconds.
func (h *harness) buyAt(now int64, id uint32, amount uint64) {
	h.t.Helper()
	h.now = now
	_, err := h.buy(buyerA, id, amount)
	require.NoError(h.t, err)
}

func unlockTimes(t *testing.T, h *harness, id uint32) []uint64 {
	t.Helper()
	page, err := h.eng.Purchases(buyerA, id, 0, 100)
	require.NoError(t, err)
	out := make([]uint64, 0, len(page.Items))
	for _, p := range page.Items {
		out = append(out, p.UnlockTime)
	}
	return out
}

func TestClaimVestedScenario(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 1000, 1, 1000, buyerA)
	h.oracle.tiers[buyerA] = 1
	h.buyAt(0, id, 1)
	h.buyAt(100, id, 2)
	h.buyAt(200, id, 3)
	require.Equal(t, []uint64{100, 200, 300}, unlockTimes(t, h, id))

	h.now = 250
	res, err := h.eng.ClaimVested(buyerA, ClaimRequest{SaleID: id, Limit: u32(300)})
	require.NoError(t, err)
	require.Equal(t, uint64(3), res.Amount.Uint64())
	require.EqualValues(t, 2, res.Claimed)
	require.Equal(t, []types.Transfer{{
		Kind:   types.TransferPayoutKind,
		Token:  saleToken,
		From:   custodyAddr,
		To:     buyerA,
		Amount: u(3),
	}}, res.Transfers)
	require.Equal(t, []uint64{300}, unlockTimes(t, h, id))

	h.now = 350
	res, err = h.eng.ClaimVested(buyerA, ClaimRequest{SaleID: id})
	require.NoError(t, err)
	require.Equal(t, uint64(3), res.Amount.Uint64())
	require.Empty(t, unlockTimes(t, h, id))

	info, err := h.eng.UserInfo(buyerA, id)
	require.NoError(t, err)
	require.True(t, info.TotalTokensReceived.Eq(info.TotalTokensBought))

	archived, err := h.eng.ArchivedPurchases(buyerA, id, 0, 10)
	require.NoError(t, err)
	require.EqualValues(t, 3, archived.Total)

	active, err := h.eng.ActiveSales(buyerA, 0, 10)
	require.NoError(t, err)
	require.Empty(t, active.Items)
}

func TestClaimTooEarlyIsNoop(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 1000, 1, 1000, buyerA)
	h.oracle.tiers[buyerA] = 1
	h.buyAt(10, id, 4)

	h.now = 50
	res, err := h.eng.ClaimVested(buyerA, ClaimRequest{SaleID: id, Indices: []uint32{0}})
	require.NoError(t, err)
	require.True(t, res.Amount.IsZero())
	require.Empty(t, res.Transfers)
	require.Equal(t, []uint64{110}, unlockTimes(t, h, id))

	// investors without purchases claim nothing
	res, err = h.eng.ClaimVested(buyerB, ClaimRequest{SaleID: id})
	require.NoError(t, err)
	require.True(t, res.Amount.IsZero())

	_, err = h.eng.ClaimVested(buyerA, ClaimRequest{SaleID: 9})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClaimWithExplicitIndices(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 1000, 1, 1000, buyerA)
	h.oracle.tiers[buyerA] = 1
	for i := int64(0); i < 5; i++ {
		h.buyAt(i*100, id, uint64(i+1))
	}
	require.Equal(t, []uint64{100, 200, 300, 400, 500}, unlockTimes(t, h, id))

	h.now = 350
	// window covers index 0 only; 0 is listed again and must not count twice,
	// 4 is still locked
	res, err := h.eng.ClaimVested(buyerA, ClaimRequest{
		SaleID:  id,
		Start:   u32(0),
		Limit:   u32(1),
		Indices: []uint32{4, 2, 0, 1, 2},
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, res.Claimed)
	require.Equal(t, uint64(1+2+3), res.Amount.Uint64())
	require.Equal(t, []uint64{400, 500}, unlockTimes(t, h, id))

	_, err = h.eng.ClaimVested(buyerA, ClaimRequest{SaleID: id, Limit: u32(1), Indices: []uint32{7}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClaimWindowOffset(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 1000, 1, 1000, buyerA)
	h.oracle.tiers[buyerA] = 1
	for i := int64(0); i < 4; i++ {
		h.buyAt(0, id, uint64(i+1))
	}

	h.now = 500
	res, err := h.eng.ClaimVested(buyerA, ClaimRequest{SaleID: id, Start: u32(2), Limit: u32(5)})
	require.NoError(t, err)
	require.Equal(t, uint64(3+4), res.Amount.Uint64())

	page, err := h.eng.Purchases(buyerA, id, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, uint64(1), page.Items[0].TokensAmount.Uint64())
	require.Equal(t, uint64(2), page.Items[1].TokensAmount.Uint64())
}

func TestClaimedNeverExceedsPurchased(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 10000, 1, 100000, buyerA)
	h.oracle.tiers[buyerA] = 2

	purchased := new(uint256.Int)
	claimed := new(uint256.Int)
	for step := int64(0); step < 20; step++ {
		h.now = step * 20
		amount := uint64(step%3 + 1)
		_, err := h.buy(buyerA, id, amount)
		require.NoError(t, err)
		purchased.Add(purchased, u(amount))

		res, err := h.eng.ClaimVested(buyerA, ClaimRequest{SaleID: id, Limit: u32(2), Indices: []uint32{uint32(step % 4)}})
		if err != nil {
			require.ErrorIs(t, err, ErrNotFound)
			continue
		}
		claimed.Add(claimed, res.Amount)
		require.False(t, claimed.Gt(purchased))
	}

	h.now = 5000
	res, err := h.eng.ClaimVested(buyerA, ClaimRequest{SaleID: id})
	require.NoError(t, err)
	claimed.Add(claimed, res.Amount)
	require.True(t, claimed.Eq(purchased))
}

func TestWithdrawUnsold(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 100, 1, 50, buyerA)
	h.oracle.tiers[buyerA] = 2
	h.buyAt(10, id, 20)

	h.now = 99
	_, err := h.eng.WithdrawUnsold(saleOwner, id)
	require.ErrorIs(t, err, ErrState)
	require.Contains(t, err.Error(), "not finished yet")

	h.now = 100
	_, err = h.eng.WithdrawUnsold(buyerA, id)
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err := h.eng.WithdrawUnsold(saleOwner, id)
	require.NoError(t, err)
	require.Equal(t, uint64(30), res.Amount.Uint64())
	require.Equal(t, []types.Transfer{{
		Kind:   types.TransferPayoutKind,
		Token:  saleToken,
		From:   custodyAddr,
		To:     saleOwner,
		Amount: u(30),
	}}, res.Transfers)

	_, err = h.eng.WithdrawUnsold(saleOwner, id)
	require.ErrorIs(t, err, ErrState)
	require.Contains(t, err.Error(), "already withdrawn")

	_, err = h.eng.WithdrawUnsold(saleOwner, 5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWithdrawSoldOut(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 100, 1, 10, buyerA)
	h.oracle.tiers[buyerA] = 2
	h.buyAt(10, id, 10)

	h.now = 150
	_, err := h.eng.WithdrawUnsold(saleOwner, id)
	require.ErrorIs(t, err, ErrState)
	require.Contains(t, err.Error(), "nothing to withdraw")
}

func TestWhitelistAuthority(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 100, 1, 10)
	addrs := []common.Address{buyerA, buyerB}

	_, err := h.eng.WhitelistAdd(saleOwner, addrs, GlobalScope)
	require.ErrorIs(t, err, ErrUnauthorized)
	size, err := h.eng.WhitelistAdd(platformOwner, addrs, GlobalScope)
	require.NoError(t, err)
	require.EqualValues(t, 2, size)

	// a missing sale is reported before authority
	_, err = h.eng.WhitelistAdd(buyerA, addrs, SaleScope(99))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = h.eng.WhitelistAdd(platformOwner, addrs, SaleScope(id))
	require.ErrorIs(t, err, ErrUnauthorized)

	size, err = h.eng.WhitelistAdd(saleOwner, []common.Address{buyerA}, SaleScope(id))
	require.NoError(t, err)
	require.EqualValues(t, 1, size)

	ok, err := h.eng.WhitelistContains(buyerB, SaleScope(id))
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = h.eng.InWhitelist(buyerB, id)
	require.NoError(t, err)
	require.True(t, ok)

	size, err = h.eng.WhitelistRemove(platformOwner, []common.Address{buyerB, common.HexToAddress("0x99")}, GlobalScope)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)
	ok, err = h.eng.InWhitelist(buyerB, id)
	require.NoError(t, err)
	require.False(t, ok)

	page, err := h.eng.Whitelist(GlobalScope, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []common.Address{buyerA}, page.Items)
	require.EqualValues(t, 1, page.Total)

	_, err = h.eng.InWhitelist(buyerA, 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPauseAndOwnership(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 100, 1, 10, buyerA)
	h.oracle.tiers[buyerA] = 1

	require.ErrorIs(t, h.eng.SetPaused(buyerA, true), ErrUnauthorized)
	require.NoError(t, h.eng.SetPaused(platformOwner, true))

	_, err := h.buy(buyerA, id, 1)
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, err, ErrState)
	_, err = h.eng.WhitelistAdd(platformOwner, []common.Address{buyerB}, GlobalScope)
	require.ErrorIs(t, err, ErrPaused)

	// reads are unaffected
	_, err = h.eng.SaleInfo(id)
	require.NoError(t, err)

	require.NoError(t, h.eng.ChangeOwner(platformOwner, buyerB))
	require.ErrorIs(t, h.eng.SetPaused(platformOwner, false), ErrUnauthorized)
	require.NoError(t, h.eng.SetPaused(buyerB, false))

	_, err = h.buy(buyerA, id, 1)
	require.NoError(t, err)

	cfg, err := h.eng.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, buyerB, cfg.Owner)
	require.False(t, cfg.Paused)
}

func TestEventsEmitted(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 100, 1, 10, buyerA)
	h.oracle.tiers[buyerA] = 1
	h.buyAt(0, id, 2)

	var kinds []string
	for _, evt := range h.events.Drain() {
		kinds = append(kinds, evt.EventType())
	}
	require.Equal(t, []string{EventTypeSaleStarted, EventTypeTokensBought}, kinds)
}
