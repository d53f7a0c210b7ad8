package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/core/events"
	"tiersale/core/types"
	"tiersale/storage"
	"tiersale/storage/paged"
)

// DefaultClaimLimit is the scan window used when a claim does not set one.
const DefaultClaimLimit uint32 = 300

// Engine runs the sale lifecycle against a key-value store. It is not safe for
// concurrent use; the host serialises actions and supplies a fresh
// transactional store per action.
type Engine struct {
	state    storage.Store
	emitter  events.Emitter
	nowFn    func() int64
	custody  common.Address
	resolver Resolver
}

// NewEngine constructs a sale engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState configures the store used by the engine.
func (e *Engine) SetState(st storage.Store) { e.state = st }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetCustody configures the account that escrows sale inventory.
func (e *Engine) SetCustody(addr common.Address) { e.custody = addr }

// Custody returns the escrow account.
func (e *Engine) Custody() common.Address { return e.custody }

// SetTierOracle configures the staking tier collaborator.
func (e *Engine) SetTierOracle(oracle TierOracle) { e.resolver.Oracle = oracle }

// SetNFTContract configures the NFT metadata collaborator.
func (e *Engine) SetNFTContract(nft NFTContract) { e.resolver.NFT = nft }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) now() uint64 {
	var ts int64
	if e == nil || e.nowFn == nil {
		ts = time.Now().Unix()
	} else {
		ts = e.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func checkedAdd(a, b *uint256.Int, what string) (*uint256.Int, error) {
	sum, over := new(uint256.Int).AddOverflow(a, b)
	if over {
		return nil, overflow(what)
	}
	return sum, nil
}

func nonZero(v *uint256.Int) bool { return v != nil && !v.IsZero() }

func (e *Engine) loadSale(id uint32) (*Sale, error) {
	s, err := salesLog.Get(e.state, id)
	if errors.Is(err, paged.ErrIndexOutOfRange) {
		return nil, fmt.Errorf("%w: sale %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	s.ID = id
	return &s, nil
}

func (e *Engine) saveSale(s *Sale) error {
	return salesLog.Set(e.state, s.ID, *s)
}

func (e *Engine) saleInfo(investor common.Address, saleID uint32) (UserInfo, error) {
	info, ok, err := infoOf(investor).Get(e.state, saleID)
	if err != nil {
		return UserInfo{}, err
	}
	if !ok {
		return newUserInfo(), nil
	}
	return info, nil
}

func (e *Engine) investorTotals(investor common.Address) (UserInfo, error) {
	info, ok, err := investorTotals.Get(e.state, investor)
	if err != nil {
		return UserInfo{}, err
	}
	if !ok {
		return newUserInfo(), nil
	}
	return info, nil
}

// StartSale creates a sale owned by caller. The full inventory is pulled from
// the caller into custody.
func (e *Engine) StartSale(caller common.Address, req StartSaleRequest) (*StartSaleResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.loadActiveConfig()
	if err != nil {
		return nil, err
	}
	now := e.now()
	switch {
	case req.StartTime >= req.EndTime:
		return nil, validationf("end time must be greater than start time")
	case req.EndTime <= now:
		return nil, validationf("sale ends in the past")
	case !nonZero(req.Price):
		return nil, validationf("price must be positive")
	case !nonZero(req.TotalAmount):
		return nil, validationf("total amount must be positive")
	case req.TokenContract == (common.Address{}):
		return nil, validationf("token contract required")
	}

	s := &Sale{
		Owner:             caller,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		TokenContract:     req.TokenContract,
		Price:             new(uint256.Int).Set(req.Price),
		TotalTokensAmount: new(uint256.Int).Set(req.TotalAmount),
		SoldAmount:        new(uint256.Int),
		TotalPayment:      new(uint256.Int),
		PaymentToken:      req.PaymentToken,
	}
	if s.PaymentToken == (common.Address{}) {
		s.PaymentToken = cfg.TokenContract
	}
	id, err := salesLog.Push(e.state, *s)
	if err != nil {
		return nil, err
	}
	s.ID = id

	wl := whitelistOf(SaleScope(id))
	for _, addr := range req.Whitelist {
		if err := wl.Insert(e.state, addr, true); err != nil {
			return nil, err
		}
	}
	size, err := wl.Len(e.state)
	if err != nil {
		return nil, err
	}
	if _, err := ownedBy(caller).Push(e.state, id); err != nil {
		return nil, err
	}

	e.emit(SaleStartedEvent(s, size))
	return &StartSaleResult{
		Receipt: Receipt{Transfers: []types.Transfer{{
			Kind:   types.TransferFromKind,
			Token:  s.TokenContract,
			From:   caller,
			To:     e.custody,
			Amount: new(uint256.Int).Set(s.TotalTokensAmount),
		}}},
		SaleID:        id,
		WhitelistSize: size,
	}, nil
}

// BuyTokens records a tier-capped purchase as a new vesting ledger entry and
// pays the sale owner in the sale's payment token.
func (e *Engine) BuyTokens(ctx context.Context, buyer common.Address, req BuyRequest) (*BuyResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.loadActiveConfig()
	if err != nil {
		return nil, err
	}
	if !nonZero(req.Amount) {
		return nil, validationf("amount must be positive")
	}
	s, err := e.loadSale(req.SaleID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if s.StatusAt(now) != StatusActive {
		return nil, capacityf("sale is not active")
	}
	remaining := s.Remaining()
	if remaining.IsZero() {
		return nil, capacityf("all tokens are sold")
	}

	tier, err := e.resolveTier(ctx, cfg, buyer, s.ID, req.Token)
	if err != nil {
		return nil, err
	}
	info, err := e.saleInfo(buyer, s.ID)
	if err != nil {
		return nil, err
	}

	available := new(uint256.Int)
	if limit := cfg.MaxPayments[tier]; limit.Gt(info.TotalPayment) {
		available.Sub(limit, info.TotalPayment)
	}
	ceiling := new(uint256.Int).Div(available, s.Price)
	if ceiling.Gt(remaining) {
		ceiling.Set(remaining)
	}
	if ceiling.IsZero() {
		return nil, capacityf("cannot buy more tokens with current tier")
	}
	if req.Amount.Gt(ceiling) {
		return nil, &CeilingError{Ceiling: ceiling}
	}

	payment, over := new(uint256.Int).MulOverflow(req.Amount, s.Price)
	if over {
		return nil, overflow("payment")
	}
	lock := cfg.LockPeriods[tier]
	if now+lock < now {
		return nil, overflow("unlock time")
	}
	unlock := now + lock

	index, err := ledgerOf(buyer, s.ID).Len(e.state)
	if err != nil {
		return nil, err
	}
	if err := ledgerOf(buyer, s.ID).PushBack(e.state, Purchase{
		TokensAmount: new(uint256.Int).Set(req.Amount),
		Timestamp:    now,
		UnlockTime:   unlock,
	}); err != nil {
		return nil, err
	}

	firstPayment := info.TotalPayment.IsZero()
	if info.TotalPayment, err = checkedAdd(info.TotalPayment, payment, "investor payment"); err != nil {
		return nil, err
	}
	if info.TotalTokensBought, err = checkedAdd(info.TotalTokensBought, req.Amount, "investor tokens bought"); err != nil {
		return nil, err
	}
	if err := infoOf(buyer).Insert(e.state, s.ID, info); err != nil {
		return nil, err
	}

	totals, err := e.investorTotals(buyer)
	if err != nil {
		return nil, err
	}
	if totals.TotalPayment, err = checkedAdd(totals.TotalPayment, payment, "total payment"); err != nil {
		return nil, err
	}
	if totals.TotalTokensBought, err = checkedAdd(totals.TotalTokensBought, req.Amount, "total tokens bought"); err != nil {
		return nil, err
	}
	if err := investorTotals.Insert(e.state, buyer, totals); err != nil {
		return nil, err
	}
	if err := activeOf(buyer).Insert(e.state, s.ID, true); err != nil {
		return nil, err
	}

	if firstPayment {
		if s.Participants+1 == 0 {
			return nil, overflow("participants")
		}
		s.Participants++
	}
	if s.SoldAmount, err = checkedAdd(s.SoldAmount, req.Amount, "sold amount"); err != nil {
		return nil, err
	}
	if s.TotalPayment, err = checkedAdd(s.TotalPayment, payment, "sale payment"); err != nil {
		return nil, err
	}
	if err := e.saveSale(s); err != nil {
		return nil, err
	}

	e.emit(TokensBoughtEvent(s.ID, buyer, tier, req.Amount, payment, unlock))
	return &BuyResult{
		Receipt: Receipt{Transfers: []types.Transfer{{
			Kind:   types.TransferFromKind,
			Token:  s.PaymentToken,
			From:   buyer,
			To:     s.Owner,
			Amount: new(uint256.Int).Set(payment),
		}}},
		Tier:       tier,
		Payment:    payment,
		UnlockTime: unlock,
		Index:      index,
	}, nil
}
