// Package token keeps fungible-token balances and allowances for every token
// contract a sale references, and executes the transfer instructions engines
// return.
package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/core/events"
	"tiersale/core/state"
	"tiersale/core/types"
	"tiersale/storage"
	"tiersale/storage/paged"
)

var (
	ErrInvalidTransfer       = errors.New("token: invalid transfer")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrOverflow              = errors.New("token: amount overflow")
)

var (
	balancePrefix   = []byte("token/balance/")
	allowancePrefix = []byte("token/allowance/")
	supplyPrefix    = []byte("token/supply/")
)

// holderIndex records every address that ever received a token, one map per
// token contract.
var holderIndex = paged.NewKeymap[common.Address, bool]("token/holders")

func balanceKey(token, holder common.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	buf = append(buf, balancePrefix...)
	buf = append(buf, token.Bytes()...)
	return append(buf, holder.Bytes()...)
}

func allowanceKey(token, owner, spender common.Address) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+3*common.AddressLength)
	buf = append(buf, allowancePrefix...)
	buf = append(buf, token.Bytes()...)
	buf = append(buf, owner.Bytes()...)
	return append(buf, spender.Bytes()...)
}

func supplyKey(token common.Address) []byte {
	return append(append([]byte(nil), supplyPrefix...), token.Bytes()...)
}

func holdersOf(token common.Address) paged.Keymap[common.Address, bool] {
	return holderIndex.WithSuffix(token.Bytes())
}

// Ledger reads and writes token accounting through a state manager.
type Ledger struct {
	st      storage.Store
	mgr     *state.Manager
	emitter events.Emitter
}

// NewLedger binds a ledger to st.
func NewLedger(st storage.Store) *Ledger {
	return &Ledger{st: st, mgr: state.NewManager(st), emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) amount(key []byte) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, err := l.mgr.KVGet(key, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) putAmount(key []byte, v *uint256.Int) error {
	if v.IsZero() {
		return l.mgr.KVDelete(key)
	}
	return l.mgr.KVPut(key, v)
}

// BalanceOf returns holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) (*uint256.Int, error) {
	return l.amount(balanceKey(token, holder))
}

// Allowance returns how much spender may move out of owner's balance.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	return l.amount(allowanceKey(token, owner, spender))
}

// Supply returns the minted supply of token.
func (l *Ledger) Supply(token common.Address) (*uint256.Int, error) {
	return l.amount(supplyKey(token))
}

// Holders pages through the addresses that have ever received token, in the
// order they first did. total counts every holder.
func (l *Ledger) Holders(token common.Address, start, limit uint32) (holders []common.Address, total uint32, err error) {
	index := holdersOf(token)
	if total, err = index.Len(l.st); err != nil {
		return nil, 0, err
	}
	if holders, err = index.Keys(l.st, start, limit); err != nil {
		return nil, 0, err
	}
	return holders, total, nil
}

// Approve sets the allowance of spender over owner's balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	if err := l.putAmount(allowanceKey(token, owner, spender), amount); err != nil {
		return err
	}
	l.emit(ApprovalEvent(token, owner, spender, amount))
	return nil
}

// Mint credits amount of token to holder.
func (l *Ledger) Mint(token, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: mint amount must be positive", ErrInvalidTransfer)
	}
	supply, err := l.Supply(token)
	if err != nil {
		return err
	}
	if _, over := supply.AddOverflow(supply, amount); over {
		return ErrOverflow
	}
	if err := l.credit(token, to, amount); err != nil {
		return err
	}
	if err := l.putAmount(supplyKey(token), supply); err != nil {
		return err
	}
	l.emit(TransferEvent(token, common.Address{}, to, amount))
	return nil
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	if err := l.debit(token, from, amount); err != nil {
		return err
	}
	if err := l.credit(token, to, amount); err != nil {
		return err
	}
	l.emit(TransferEvent(token, from, to, amount))
	return nil
}

// TransferFrom moves amount out of from's balance on behalf of spender.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	if spender != from {
		allowance, err := l.Allowance(token, from, spender)
		if err != nil {
			return err
		}
		if allowance.Lt(amount) {
			return fmt.Errorf("%w: %s approved, %s requested", ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
		}
		if err := l.putAmount(allowanceKey(token, from, spender), allowance.Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return l.Transfer(token, from, to, amount)
}

// Execute applies an engine-issued instruction. executor is the account the
// engine acts as: the spender for pulls and the payer for payouts.
func (l *Ledger) Execute(executor common.Address, tr types.Transfer) error {
	switch tr.Kind {
	case types.TransferFromKind:
		return l.TransferFrom(tr.Token, executor, tr.From, tr.To, tr.Amount)
	case types.TransferPayoutKind:
		if tr.From != executor {
			return fmt.Errorf("%w: payout from %s not owned by %s", ErrInvalidTransfer, tr.From.Hex(), executor.Hex())
		}
		return l.Transfer(tr.Token, tr.From, tr.To, tr.Amount)
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidTransfer, tr.Kind)
	}
}

func (l *Ledger) debit(token, holder common.Address, amount *uint256.Int) error {
	balance, err := l.BalanceOf(token, holder)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, %s requested", ErrInsufficientBalance, holder.Hex(), balance.Dec(), amount.Dec())
	}
	return l.putAmount(balanceKey(token, holder), balance.Sub(balance, amount))
}

func (l *Ledger) credit(token, holder common.Address, amount *uint256.Int) error {
	balance, err := l.BalanceOf(token, holder)
	if err != nil {
		return err
	}
	if _, over := balance.AddOverflow(balance, amount); over {
		return ErrOverflow
	}
	if err := l.putAmount(balanceKey(token, holder), balance); err != nil {
		return err
	}
	index := holdersOf(token)
	known, err := index.Contains(l.st, holder)
	if err != nil || known {
		return err
	}
	return index.Insert(l.st, holder, true)
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || evt == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(WrapEvent(evt))
}
