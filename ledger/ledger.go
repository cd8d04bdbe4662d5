// Package ledger provides the simulated settlement environment the basket
// engines execute against: an ERC20-style token ledger with native balances,
// a contract bus dispatching calldata to registered handlers, and whole-state
// snapshots so a failed engine operation leaves no partial movement behind.
package ledger

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrInsufficientNative    = errors.New("ledger: insufficient native balance")
	ErrInvalidAmount         = errors.New("ledger: amount must be non-negative and fit 256 bits")
	ErrUnknownContract       = errors.New("ledger: no contract registered at target")
)

// Ledger tracks token and native balances for every holder. Quantities are
// unsigned 256-bit values, matching the domain the adapters encode for.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*uint256.Int // token -> holder
	allowances map[common.Address]map[common.Address]map[common.Address]*uint256.Int
	native     map[common.Address]*uint256.Int
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*uint256.Int),
		native:     make(map[common.Address]*uint256.Int),
	}
}

func toAmount(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	out := new(uint256.Int)
	if overflow := out.SetFromBig(v); overflow {
		return nil, ErrInvalidAmount
	}
	return out, nil
}

func (l *Ledger) balanceRef(token, holder common.Address) *uint256.Int {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		l.balances[token] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(uint256.Int)
		holders[holder] = bal
	}
	return bal
}

func (l *Ledger) allowanceRef(token, owner, spender common.Address) *uint256.Int {
	owners, ok := l.allowances[token]
	if !ok {
		owners = make(map[common.Address]map[common.Address]*uint256.Int)
		l.allowances[token] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[common.Address]*uint256.Int)
		owners[owner] = spenders
	}
	allowance, ok := spenders[spender]
	if !ok {
		allowance = new(uint256.Int)
		spenders[spender] = allowance
	}
	return allowance
}

// Mint credits freshly created token units to the holder.
func (l *Ledger) Mint(token, holder common.Address, amount *big.Int) error {
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceRef(token, holder)
	bal.Add(bal, amt)
	return nil
}

// Burn destroys token units held by the holder.
func (l *Ledger) Burn(token, holder common.Address, amount *big.Int) error {
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceRef(token, holder)
	if bal.Lt(amt) {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amt)
	return nil
}

// BalanceOf reports the holder's token balance.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	holders, ok := l.balances[token]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := holders[holder]
	if !ok {
		return big.NewInt(0)
	}
	return bal.ToBig()
}

// Transfer moves token units from the caller to the recipient.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(token, from, to, amt)
}

func (l *Ledger) transferLocked(token, from, to common.Address, amt *uint256.Int) error {
	src := l.balanceRef(token, from)
	if src.Lt(amt) {
		return ErrInsufficientBalance
	}
	src.Sub(src, amt)
	dst := l.balanceRef(token, to)
	dst.Add(dst, amt)
	return nil
}

// Approve sets the spender allowance on the owner's token balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowanceRef(token, owner, spender).Set(amt)
	return nil
}

// Allowance reports the remaining spender allowance.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owners, ok := l.allowances[token]
	if !ok {
		return big.NewInt(0)
	}
	spenders, ok := owners[owner]
	if !ok {
		return big.NewInt(0)
	}
	allowance, ok := spenders[spender]
	if !ok {
		return big.NewInt(0)
	}
	return allowance.ToBig()
}

// TransferFrom moves token units from the owner to the recipient, consuming
// the spender's allowance.
func (l *Ledger) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	allowance := l.allowanceRef(token, owner, spender)
	if allowance.Lt(amt) {
		return ErrInsufficientAllowance
	}
	if err := l.transferLocked(token, owner, to, amt); err != nil {
		return err
	}
	allowance.Sub(allowance, amt)
	return nil
}

// CreditNative credits raw native value to the holder.
func (l *Ledger) CreditNative(holder common.Address, amount *big.Int) error {
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.native[holder]
	if !ok {
		bal = new(uint256.Int)
		l.native[holder] = bal
	}
	bal.Add(bal, amt)
	return nil
}

// NativeBalance reports the holder's raw native balance.
func (l *Ledger) NativeBalance(holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bal, ok := l.native[holder]
	if !ok {
		return big.NewInt(0)
	}
	return bal.ToBig()
}

// PayNative transfers raw native value between holders. Contracts releasing
// native reserves (e.g. the wrapped-native token) settle through it.
func (l *Ledger) PayNative(from, to common.Address, amount *big.Int) error {
	return l.moveNative(from, to, amount)
}

// moveNative transfers raw native value between holders.
func (l *Ledger) moveNative(from, to common.Address, amount *big.Int) error {
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.native[from]
	if !ok || src.Lt(amt) {
		return ErrInsufficientNative
	}
	src.Sub(src, amt)
	dst, ok := l.native[to]
	if !ok {
		dst = new(uint256.Int)
		l.native[to] = dst
	}
	dst.Add(dst, amt)
	return nil
}

func (l *Ledger) snapshot() ledgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := ledgerSnapshot{
		balances:   make(map[common.Address]map[common.Address]*uint256.Int, len(l.balances)),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*uint256.Int, len(l.allowances)),
		native:     make(map[common.Address]*uint256.Int, len(l.native)),
	}
	for token, holders := range l.balances {
		copied := make(map[common.Address]*uint256.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(uint256.Int).Set(bal)
		}
		snap.balances[token] = copied
	}
	for token, owners := range l.allowances {
		copiedOwners := make(map[common.Address]map[common.Address]*uint256.Int, len(owners))
		for owner, spenders := range owners {
			copied := make(map[common.Address]*uint256.Int, len(spenders))
			for spender, allowance := range spenders {
				copied[spender] = new(uint256.Int).Set(allowance)
			}
			copiedOwners[owner] = copied
		}
		snap.allowances[token] = copiedOwners
	}
	for holder, bal := range l.native {
		snap.native[holder] = new(uint256.Int).Set(bal)
	}
	return snap
}

func (l *Ledger) restore(snap ledgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = snap.balances
	l.allowances = snap.allowances
	l.native = snap.native
}

type ledgerSnapshot struct {
	balances   map[common.Address]map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*uint256.Int
	native     map[common.Address]*uint256.Int
}
