package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tiersale/core/events"
	"tiersale/native/sale"
	"tiersale/native/tier"
	"tiersale/native/token"
	"tiersale/observability"
	"tiersale/storage"
)

// Node is the central controller, wiring the sale engine, the token ledger and
// the persistent store together. Every action runs on its own overlay and is
// committed atomically together with the token transfers it requested.
type Node struct {
	db      storage.Database
	stateMu sync.Mutex

	custody common.Address
	oracle  sale.TierOracle
	nft     sale.NFTContract
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.SaleMetrics
	tracer  trace.Tracer
	nowFn   func() int64
}

const tracerName = "tiersale/core"

// NewNode creates a node over db. custody is the account escrowing sale
// inventory; it is the spender for pulls and the payer for payouts.
func NewNode(db storage.Database, custody common.Address) *Node {
	return &Node{
		db:      db,
		custody: custody,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetTierOracle configures the staking tier collaborator.
func (n *Node) SetTierOracle(oracle sale.TierOracle) { n.oracle = oracle }

// SetNFTContract configures the NFT metadata collaborator.
func (n *Node) SetNFTContract(nft sale.NFTContract) { n.nft = nft }

// SetEmitter configures where committed events are delivered.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	n.emitter = emitter
}

// SetLogger overrides the structured logger.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
}

// SetMetrics enables prometheus instrumentation of actions.
func (n *Node) SetMetrics(m *observability.SaleMetrics) { n.metrics = m }

// SetTracerProvider replaces the global tracer provider for action spans.
func (n *Node) SetTracerProvider(tp trace.TracerProvider) {
	if tp == nil {
		n.tracer = otel.Tracer(tracerName)
		return
	}
	n.tracer = tp.Tracer(tracerName)
}

// SetNowFunc overrides the clock used for sale lifecycle decisions.
func (n *Node) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
}

// Custody returns the escrow account.
func (n *Node) Custody() common.Address { return n.custody }

// Now returns the node clock in unix seconds.
func (n *Node) Now() uint64 {
	if now := n.nowFn(); now > 0 {
		return uint64(now)
	}
	return 0
}

func (n *Node) newSaleEngine(st storage.Store, emitter events.Emitter) *sale.Engine {
	engine := sale.NewEngine()
	engine.SetState(st)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(n.nowFn)
	engine.SetCustody(n.custody)
	engine.SetTierOracle(n.oracle)
	engine.SetNFTContract(n.nft)
	return engine
}

// txn is the transactional view handed to an action.
type txn struct {
	ctx    context.Context
	sale   *sale.Engine
	ledger *token.Ledger
	store  storage.Store
}

// execute runs fn on a fresh overlay, applies the transfers it returns and
// commits everything at once. Any failure discards the overlay and the
// events emitted while running.
func (n *Node) execute(ctx context.Context, action string, caller common.Address, fn func(tx *txn) (*sale.Receipt, error)) error {
	ctx, span := n.tracer.Start(ctx, "sale."+action, trace.WithAttributes(
		attribute.String("sale.action", action),
		attribute.String("sale.caller", caller.Hex()),
	))
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	started := time.Now()
	overlay := storage.NewOverlay(n.db)
	buf := &events.Buffer{}
	tx := &txn{
		ctx:    ctx,
		sale:   n.newSaleEngine(overlay, buf),
		ledger: token.NewLedger(overlay),
		store:  overlay,
	}
	tx.ledger.SetEmitter(buf)

	err := func() error {
		receipt, err := fn(tx)
		if err != nil {
			return err
		}
		if receipt == nil {
			return nil
		}
		for _, transfer := range receipt.Transfers {
			if err := tx.ledger.Execute(n.custody, transfer); err != nil {
				return fmt.Errorf("%w: %s of %s: %w", sale.ErrExternal, transfer.Kind, transfer.Token.Hex(), err)
			}
		}
		return nil
	}()
	if err == nil {
		if commitErr := overlay.Commit(n.db); commitErr != nil {
			err = fmt.Errorf("commit %s: %w", action, commitErr)
		}
	}

	outcome := Outcome(err)
	span.SetAttributes(attribute.String("sale.outcome", outcome))
	if n.metrics != nil {
		n.metrics.ObserveAction(action, outcome, time.Since(started))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		overlay.Discard()
		buf.Drain()
		n.logger.Warn("sale action rejected",
			slog.String("action", action),
			slog.String("caller", caller.Hex()),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
		return err
	}

	committed := buf.Drain()
	span.SetAttributes(attribute.Int("sale.events", len(committed)))
	span.SetStatus(codes.Ok, "committed")
	for _, evt := range committed {
		observability.Events().Record(evt.EventType())
		n.emitter.Emit(evt)
	}
	n.logger.Info("sale action committed",
		slog.String("action", action),
		slog.String("caller", caller.Hex()),
		slog.Int("events", len(committed)),
		slog.Duration("duration", time.Since(started)))
	return nil
}

// view runs a read-only query against committed state.
func (n *Node) view(fn func(engine *sale.Engine, ledger *token.Ledger) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return fn(n.newSaleEngine(n.db, events.NoopEmitter{}), token.NewLedger(n.db))
}

// Outcome classifies an action error into a stable label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sale.ErrPaused):
		return "paused"
	case errors.Is(err, sale.ErrValidation):
		return "validation"
	case errors.Is(err, sale.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, sale.ErrNotFound):
		return "not_found"
	case errors.Is(err, sale.ErrCapacity):
		return "capacity"
	case errors.Is(err, sale.ErrState):
		return "state"
	case errors.Is(err, sale.ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, sale.ErrExternal):
		return "external"
	default:
		return "internal"
	}
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

// InitSale stores cfg as the platform configuration unless one already exists.
// It reports whether cfg was applied.
func (n *Node) InitSale(cfg *sale.Config) (bool, error) {
	applied := false
	err := n.execute(context.Background(), "init", cfg.Owner, func(tx *txn) (*sale.Receipt, error) {
		ok, err := tx.sale.Initialised()
		if err != nil || ok {
			return nil, err
		}
		applied = true
		return nil, tx.sale.SaveConfig(cfg)
	})
	return applied, err
}

// SaleStart creates a sale and escrows its inventory.
func (n *Node) SaleStart(ctx context.Context, caller common.Address, req sale.StartSaleRequest) (*sale.StartSaleResult, error) {
	var res *sale.StartSaleResult
	err := n.execute(ctx, "start", caller, func(tx *txn) (*sale.Receipt, error) {
		var err error
		if res, err = tx.sale.StartSale(caller, req); err != nil {
			return nil, err
		}
		return &res.Receipt, nil
	})
	if err != nil {
		return nil, err
	}
	if n.metrics != nil {
		n.metrics.SetSales(res.SaleID + 1)
	}
	return res, nil
}

// SaleBuy records a purchase and pays the sale owner.
func (n *Node) SaleBuy(ctx context.Context, caller common.Address, req sale.BuyRequest) (*sale.BuyResult, error) {
	var res *sale.BuyResult
	err := n.execute(ctx, "buy", caller, func(tx *txn) (*sale.Receipt, error) {
		var err error
		if res, err = tx.sale.BuyTokens(tx.ctx, caller, req); err != nil {
			return nil, err
		}
		return &res.Receipt, nil
	})
	if err != nil {
		return nil, err
	}
	if n.metrics != nil {
		n.metrics.AddTokens("sold", toFloat(req.Amount))
		n.metrics.AddPayment(toFloat(res.Payment))
	}
	return res, nil
}

// SaleClaim pays out vested purchases.
func (n *Node) SaleClaim(ctx context.Context, caller common.Address, req sale.ClaimRequest) (*sale.ClaimResult, error) {
	var res *sale.ClaimResult
	err := n.execute(ctx, "claim", caller, func(tx *txn) (*sale.Receipt, error) {
		var err error
		if res, err = tx.sale.ClaimVested(caller, req); err != nil {
			return nil, err
		}
		return &res.Receipt, nil
	})
	if err != nil {
		return nil, err
	}
	if n.metrics != nil {
		n.metrics.AddTokens("claimed", toFloat(res.Amount))
	}
	return res, nil
}

// SaleWithdraw returns unsold inventory to the sale owner.
func (n *Node) SaleWithdraw(ctx context.Context, caller common.Address, saleID uint32) (*sale.WithdrawResult, error) {
	var res *sale.WithdrawResult
	err := n.execute(ctx, "withdraw", caller, func(tx *txn) (*sale.Receipt, error) {
		var err error
		if res, err = tx.sale.WithdrawUnsold(caller, saleID); err != nil {
			return nil, err
		}
		return &res.Receipt, nil
	})
	if err != nil {
		return nil, err
	}
	if n.metrics != nil {
		n.metrics.AddTokens("withdrawn", toFloat(res.Amount))
	}
	return res, nil
}

// SaleWhitelistAdd admits addresses into scope.
func (n *Node) SaleWhitelistAdd(ctx context.Context, caller common.Address, addrs []common.Address, scope sale.Scope) (uint32, error) {
	var size uint32
	err := n.execute(ctx, "whitelist_add", caller, func(tx *txn) (*sale.Receipt, error) {
		var err error
		size, err = tx.sale.WhitelistAdd(caller, addrs, scope)
		return nil, err
	})
	return size, err
}

// SaleWhitelistRemove drops addresses from scope.
func (n *Node) SaleWhitelistRemove(ctx context.Context, caller common.Address, addrs []common.Address, scope sale.Scope) (uint32, error) {
	var size uint32
	err := n.execute(ctx, "whitelist_remove", caller, func(tx *txn) (*sale.Receipt, error) {
		var err error
		size, err = tx.sale.WhitelistRemove(caller, addrs, scope)
		return nil, err
	})
	return size, err
}

// SaleChangeOwner transfers platform ownership.
func (n *Node) SaleChangeOwner(ctx context.Context, caller, newOwner common.Address) error {
	return n.execute(ctx, "change_owner", caller, func(tx *txn) (*sale.Receipt, error) {
		return nil, tx.sale.ChangeOwner(caller, newOwner)
	})
}

// SaleSetPaused toggles the platform pause switch.
func (n *Node) SaleSetPaused(ctx context.Context, caller common.Address, paused bool) error {
	return n.execute(ctx, "set_paused", caller, func(tx *txn) (*sale.Receipt, error) {
		return nil, tx.sale.SetPaused(caller, paused)
	})
}

// TokenApprove lets spender move amount of token out of owner's balance.
// Investors approve the custody account before buying.
func (n *Node) TokenApprove(ctx context.Context, owner, tokenAddr, spender common.Address, amount *uint256.Int) error {
	return n.execute(ctx, "approve", owner, func(tx *txn) (*sale.Receipt, error) {
		return nil, tx.ledger.Approve(tokenAddr, owner, spender, amount)
	})
}

// TokenTransfer moves amount of token from one holder to another.
func (n *Node) TokenTransfer(ctx context.Context, from, tokenAddr, to common.Address, amount *uint256.Int) error {
	return n.execute(ctx, "transfer", from, func(tx *txn) (*sale.Receipt, error) {
		return nil, tx.ledger.Transfer(tokenAddr, from, to, amount)
	})
}

// TokenMint credits amount of token to holder. Only exposed on devnets.
func (n *Node) TokenMint(ctx context.Context, tokenAddr, to common.Address, amount *uint256.Int) error {
	return n.execute(ctx, "mint", to, func(tx *txn) (*sale.Receipt, error) {
		return nil, tx.ledger.Mint(tokenAddr, to, amount)
	})
}

// TierSet records a tier in the self-hosted tier registry. Only exposed on
// devnets where the node's oracle reads the same store.
func (n *Node) TierSet(ctx context.Context, addr common.Address, value uint8) error {
	return n.execute(ctx, "tier_set", addr, func(tx *txn) (*sale.Receipt, error) {
		cfg, err := tx.sale.LoadConfig()
		if err != nil {
			return nil, err
		}
		return nil, tier.NewOracle(tx.store).SetTier(cfg.TierContract, addr, value)
	})
}
