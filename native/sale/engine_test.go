package sale

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"tiersale/core/events"
	"tiersale/core/types"
	"tiersale/storage"
)

var (
	platformOwner = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	saleOwner     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	buyerA        = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	buyerB        = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	custodyAddr   = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	payToken      = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	saleToken     = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	tierContract  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	nftContract   = common.HexToAddress("0x00000000000000000000000000000000000000f2")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type stubOracle struct {
	tiers map[common.Address]uint8
	err   error
	calls int
}

func (s *stubOracle) TierOf(_ context.Context, contract common.Address, addr common.Address) (uint8, error) {
	s.calls++
	if contract != tierContract {
		return 0, errors.New("unexpected tier contract")
	}
	if s.err != nil {
		return 0, s.err
	}
	return s.tiers[addr], nil
}

type stubNFT struct {
	owner   common.Address
	public  *Metadata
	private *Metadata
	err     error
}

func (s *stubNFT) NftInfo(_ context.Context, _ common.Address, _ NftToken, _ common.Address) (*NftInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	owner := s.owner
	return &NftInfo{Owner: &owner, Public: s.public}, nil
}

func (s *stubNFT) PrivateMetadata(_ context.Context, _ common.Address, _ NftToken, _ common.Address) (*Metadata, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.private, nil
}

type harness struct {
	t      *testing.T
	eng    *Engine
	oracle *stubOracle
	nft    *stubNFT
	events *events.Buffer
	now    int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		eng:    NewEngine(),
		oracle: &stubOracle{tiers: map[common.Address]uint8{}},
		nft:    &stubNFT{},
		events: &events.Buffer{},
	}
	h.eng.SetState(storage.NewMemDB())
	h.eng.SetEmitter(h.events)
	h.eng.SetNowFunc(func() int64 { return h.now })
	h.eng.SetCustody(custodyAddr)
	h.eng.SetTierOracle(h.oracle)
	h.eng.SetNFTContract(h.nft)
	require.NoError(t, h.eng.SaveConfig(&Config{
		Owner:         platformOwner,
		TierContract:  tierContract,
		NftContract:   nftContract,
		TokenContract: payToken,
		MaxPayments:   []*uint256.Int{u(0), u(100), u(500)},
		LockPeriods:   []uint64{0, 100, 50},
	}))
	return h
}

func (h *harness) startSale(start, end, price, total uint64, whitelist ...common.Address) uint32 {
	h.t.Helper()
	res, err := h.eng.StartSale(saleOwner, StartSaleRequest{
		StartTime:     start,
		EndTime:       end,
		TokenContract: saleToken,
		Price:         u(price),
		TotalAmount:   u(total),
		Whitelist:     whitelist,
	})
	require.NoError(h.t, err)
	return res.SaleID
}

func (h *harness) buy(buyer common.Address, id uint32, amount uint64) (*BuyResult, error) {
	return h.eng.BuyTokens(context.Background(), buyer, BuyRequest{SaleID: id, Amount: u(amount)})
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Owner:       platformOwner,
			MaxPayments: []*uint256.Int{u(0), u(10), u(20)},
			LockPeriods: []uint64{0, 1, 2},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"non-increasing": func(c *Config) { c.MaxPayments[2] = u(10) },
		"decreasing":     func(c *Config) { c.MaxPayments[2] = u(5) },
		"empty caps":     func(c *Config) { c.MaxPayments = nil; c.LockPeriods = nil },
		"length mismatch": func(c *Config) {
			c.LockPeriods = c.LockPeriods[:2]
		},
		"tier zero open": func(c *Config) { c.MaxPayments[0] = u(1) },
		"missing owner":  func(c *Config) { c.Owner = common.Address{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrValidation)
		})
	}

	h := newHarness(t)
	bad := valid()
	bad.MaxPayments[1] = u(0)
	require.ErrorIs(t, h.eng.SaveConfig(bad), ErrValidation)
}

func TestStartSale(t *testing.T) {
	h := newHarness(t)
	h.now = 10

	_, err := h.eng.StartSale(saleOwner, StartSaleRequest{StartTime: 50, EndTime: 50, TokenContract: saleToken, Price: u(1), TotalAmount: u(1)})
	require.ErrorIs(t, err, ErrValidation)
	_, err = h.eng.StartSale(saleOwner, StartSaleRequest{StartTime: 1, EndTime: 5, TokenContract: saleToken, Price: u(1), TotalAmount: u(1)})
	require.ErrorIs(t, err, ErrValidation)
	_, err = h.eng.StartSale(saleOwner, StartSaleRequest{StartTime: 1, EndTime: 50, TokenContract: saleToken, Price: u(0), TotalAmount: u(1)})
	require.ErrorIs(t, err, ErrValidation)

	res, err := h.eng.StartSale(saleOwner, StartSaleRequest{
		StartTime:     20,
		EndTime:       100,
		TokenContract: saleToken,
		Price:         u(10),
		TotalAmount:   u(1000),
		Whitelist:     []common.Address{buyerA, buyerB, buyerA},
	})
	require.NoError(t, err)
	require.EqualValues(t, 0, res.SaleID)
	require.EqualValues(t, 2, res.WhitelistSize)
	require.Equal(t, []types.Transfer{{
		Kind:   types.TransferFromKind,
		Token:  saleToken,
		From:   saleOwner,
		To:     custodyAddr,
		Amount: u(1000),
	}}, res.Transfers)

	second := h.startSale(20, 100, 1, 1)
	require.EqualValues(t, 1, second)

	count, err := h.eng.SaleCount()
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	owned, err := h.eng.SalesOwnedBy(saleOwner, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1}, owned.Items)

	s, err := h.eng.SaleInfo(0)
	require.NoError(t, err)
	require.Equal(t, StatusPending, s.StatusAt(uint64(h.now)))
	require.True(t, s.SoldAmount.IsZero())

	_, err = h.eng.SaleInfo(7)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBuyCeilingScenario(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 1000, 10, 1000, buyerA)
	h.oracle.tiers[buyerA] = 1
	h.now = 5

	_, err := h.buy(buyerA, id, 11)
	var ceiling *CeilingError
	require.ErrorAs(t, err, &ceiling)
	require.ErrorIs(t, err, ErrCapacity)
	require.Equal(t, uint64(10), ceiling.Ceiling.Uint64())

	res, err := h.buy(buyerA, id, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Tier)
	require.EqualValues(t, 105, res.UnlockTime)
	require.Equal(t, []types.Transfer{{
		Kind:   types.TransferFromKind,
		Token:  payToken,
		From:   buyerA,
		To:     saleOwner,
		Amount: u(100),
	}}, res.Transfers)

	s, err := h.eng.SaleInfo(id)
	require.NoError(t, err)
	require.Equal(t, uint64(10), s.SoldAmount.Uint64())
	require.Equal(t, uint64(100), s.TotalPayment.Uint64())
	require.EqualValues(t, 1, s.Participants)

	// cap reached: every further purchase is rejected
	_, err = h.buy(buyerA, id, 1)
	require.ErrorIs(t, err, ErrCapacity)
	require.Contains(t, err.Error(), "cannot buy more tokens with current tier")

	info, err := h.eng.UserInfo(buyerA, id)
	require.NoError(t, err)
	require.Equal(t, uint64(100), info.TotalPayment.Uint64())
	require.Equal(t, uint64(10), info.TotalTokensBought.Uint64())
	require.True(t, info.TotalTokensReceived.IsZero())
}

func TestSalesSettleInTheirOwnPaymentToken(t *testing.T) {
	h := newHarness(t)
	stable := common.HexToAddress("0x00000000000000000000000000000000000000e3")
	h.oracle.tiers[buyerA] = 2

	platformSale := h.startSale(0, 1000, 2, 1000, buyerA)
	res, err := h.eng.StartSale(saleOwner, StartSaleRequest{
		StartTime:     0,
		EndTime:       1000,
		TokenContract: saleToken,
		PaymentToken:  stable,
		Price:         u(3),
		TotalAmount:   u(1000),
		Whitelist:     []common.Address{buyerA},
	})
	require.NoError(t, err)
	stableSale := res.SaleID

	first, err := h.eng.SaleInfo(platformSale)
	require.NoError(t, err)
	require.Equal(t, payToken, first.PaymentToken)
	second, err := h.eng.SaleInfo(stableSale)
	require.NoError(t, err)
	require.Equal(t, stable, second.PaymentToken)

	bought, err := h.buy(buyerA, platformSale, 5)
	require.NoError(t, err)
	require.Len(t, bought.Transfers, 1)
	require.Equal(t, payToken, bought.Transfers[0].Token)
	require.Equal(t, u(10), bought.Transfers[0].Amount)

	bought, err = h.buy(buyerA, stableSale, 5)
	require.NoError(t, err)
	require.Len(t, bought.Transfers, 1)
	require.Equal(t, stable, bought.Transfers[0].Token)
	require.Equal(t, saleOwner, bought.Transfers[0].To)
	require.Equal(t, u(15), bought.Transfers[0].Amount)
}

func TestBuyCountsParticipantsOnce(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 1000, 1, 1000, buyerA, buyerB)
	h.oracle.tiers[buyerA] = 2
	h.oracle.tiers[buyerB] = 1

	for i := 0; i < 3; i++ {
		_, err := h.buy(buyerA, id, 10)
		require.NoError(t, err)
	}
	_, err := h.buy(buyerB, id, 10)
	require.NoError(t, err)

	s, err := h.eng.SaleInfo(id)
	require.NoError(t, err)
	require.EqualValues(t, 2, s.Participants)
	require.Equal(t, uint64(40), s.SoldAmount.Uint64())

	page, err := h.eng.Purchases(buyerA, id, 0, 10)
	require.NoError(t, err)
	require.EqualValues(t, 3, page.Total)
	require.EqualValues(t, 50, page.Items[0].UnlockTime)

	totals, err := h.eng.InvestorTotals(buyerA)
	require.NoError(t, err)
	require.Equal(t, uint64(30), totals.TotalTokensBought.Uint64())

	active, err := h.eng.ActiveSales(buyerA, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []uint32{id}, active.Items)
}

func TestBuyRejectsInactiveOrSoldOut(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(100, 200, 1, 5, buyerA, buyerB)
	h.oracle.tiers[buyerA] = 2
	h.oracle.tiers[buyerB] = 2

	h.now = 50
	_, err := h.buy(buyerA, id, 1)
	require.ErrorIs(t, err, ErrCapacity)

	h.now = 150
	_, err = h.buy(buyerA, id, 0)
	require.ErrorIs(t, err, ErrValidation)

	// ceiling is bounded by remaining inventory
	_, err = h.buy(buyerA, id, 6)
	var ceiling *CeilingError
	require.ErrorAs(t, err, &ceiling)
	require.Equal(t, uint64(5), ceiling.Ceiling.Uint64())

	_, err = h.buy(buyerA, id, 5)
	require.NoError(t, err)
	_, err = h.buy(buyerB, id, 1)
	require.ErrorIs(t, err, ErrCapacity)
	require.Contains(t, err.Error(), "all tokens are sold")

	h.now = 200
	_, err = h.buy(buyerA, id, 1)
	require.ErrorIs(t, err, ErrCapacity)

	_, err = h.buy(buyerA, 42, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnlistedBuyerSkipsCollaborators(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 1000, 1, 1000)
	h.oracle.tiers[buyerA] = 2

	_, err := h.buy(buyerA, id, 1)
	require.ErrorIs(t, err, ErrCapacity)
	require.Zero(t, h.oracle.calls)

	// global whitelist admits the buyer to every sale
	_, err = h.eng.WhitelistAdd(platformOwner, []common.Address{buyerA}, GlobalScope)
	require.NoError(t, err)
	_, err = h.buy(buyerA, id, 1)
	require.NoError(t, err)
	require.Equal(t, 1, h.oracle.calls)
}

func TestTierResolution(t *testing.T) {
	h := newHarness(t)
	id := h.startSale(0, 1000, 1, 10000, buyerA)
	h.oracle.tiers[buyerA] = 1
	token := &NftToken{TokenID: "7", ViewingKey: "vk"}
	buy := func() (*BuyResult, error) {
		return h.eng.BuyTokens(context.Background(), buyerA, BuyRequest{SaleID: id, Amount: u(1), Token: token})
	}

	h.nft.owner = buyerA
	h.nft.public = &Metadata{Attributes: []Trait{{TraitType: "color", Value: "red"}, {TraitType: "TIER", Value: "2"}}}
	res, err := buy()
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Tier)

	// the NFT can only raise the oracle tier
	h.nft.public = &Metadata{Attributes: []Trait{{TraitType: "tier", Value: "0"}}}
	res, err = buy()
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Tier)

	// private metadata is consulted when the public one has no tier
	h.nft.public = &Metadata{Attributes: []Trait{{TraitType: "tier", Value: "high"}}}
	h.nft.private = &Metadata{Attributes: []Trait{{TraitType: "Tier", Value: "2"}}}
	res, err = buy()
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Tier)

	// tokens owned by someone else carry no tier
	h.nft.owner = buyerB
	res, err = buy()
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Tier)

	// tiers past the table are clamped to the last tier
	h.oracle.tiers[buyerA] = 9
	res, err = h.buy(buyerA, id, 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Tier)

	h.nft.err = errors.New("nft node unreachable")
	_, err = buy()
	require.ErrorIs(t, err, ErrExternal)

	h.oracle.err = errors.New("oracle unreachable")
	_, err = h.buy(buyerA, id, 1)
	require.ErrorIs(t, err, ErrExternal)
}

func TestCombineTiers(t *testing.T) {
	tier := func(v uint8) *uint8 { return &v }
	cases := []struct {
		oracle uint8
		nft    *uint8
		want   uint8
	}{
		{oracle: 1, nft: nil, want: 1},
		{oracle: 1, nft: tier(3), want: 3},
		{oracle: 3, nft: tier(1), want: 3},
		{oracle: 0, nft: tier(0), want: 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CombineTiers(tc.oracle, tc.nft))
	}
}

func TestTierFromMetadata(t *testing.T) {
	_, ok := TierFromMetadata(nil)
	require.False(t, ok)
	_, ok = TierFromMetadata(&Metadata{Attributes: []Trait{{TraitType: "tier", Value: "300"}}})
	require.False(t, ok)
	v, ok := TierFromMetadata(&Metadata{Attributes: []Trait{{TraitType: "tier", Value: "x"}, {TraitType: " Tier ", Value: " 4 "}}})
	require.True(t, ok)
	require.EqualValues(t, 4, v)
}
