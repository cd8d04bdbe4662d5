// Package vault implements the yield-wrapper venue used by the reference
// wrap adapter: underlying deposited mints a wrapped claim at a configurable
// exchange rate, optionally minus a deposit fee, and withdrawing burns the
// claim and releases underlying. A vault may hold an ERC20 underlying or the
// raw native asset.
package vault

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"basketfund/fixedpoint"
	"basketfund/ledger"
)

var (
	ErrUnknownSelector = errors.New("vault: unknown function selector")
	ErrZeroAmount      = errors.New("vault: amount must be positive")
	ErrNotNative       = errors.New("vault: native deposit on token vault")
	ErrNativeOnly      = errors.New("vault: token deposit on native vault")
)

const feeDenominator = 10_000

var (
	uint256Ty = mustType("uint256")

	amountArgs = abi.Arguments{{Type: uint256Ty}}

	depositSelector       = crypto.Keccak256([]byte("deposit(uint256)"))[:4]
	depositNativeSelector = crypto.Keccak256([]byte("depositNative()"))[:4]
	withdrawSelector      = crypto.Keccak256([]byte("withdraw(uint256)"))[:4]
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// PackDeposit encodes a deposit(underlyingQuantity) call.
func PackDeposit(quantity *big.Int) ([]byte, error) {
	packed, err := amountArgs.Pack(quantity)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), depositSelector...), packed...), nil
}

// PackDepositNative encodes a depositNative() call; the underlying quantity
// travels as call value.
func PackDepositNative() []byte {
	return append([]byte(nil), depositNativeSelector...)
}

// PackWithdraw encodes a withdraw(wrappedQuantity) call.
func PackWithdraw(quantity *big.Int) ([]byte, error) {
	packed, err := amountArgs.Pack(quantity)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), withdrawSelector...), packed...), nil
}

// Contract is the wrapper venue. Its address doubles as the wrapped token
// identifier on the ledger.
type Contract struct {
	mu         sync.RWMutex
	address    common.Address
	underlying common.Address // ignored when native
	native     bool
	rate       *big.Int // underlying per wrapped, 1e18 scale
	feeBps     uint64   // charged on minted wrapped quantity
}

// New constructs an ERC20-underlying vault and registers it.
func New(env *ledger.Env, address, underlying common.Address, rate *big.Int, feeBps uint64) (*Contract, error) {
	return build(env, address, underlying, false, rate, feeBps)
}

// NewNative constructs a native-underlying vault and registers it.
func NewNative(env *ledger.Env, address common.Address, rate *big.Int, feeBps uint64) (*Contract, error) {
	return build(env, address, common.Address{}, true, rate, feeBps)
}

func build(env *ledger.Env, address, underlying common.Address, native bool, rate *big.Int, feeBps uint64) (*Contract, error) {
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("vault: rate must be positive")
	}
	if feeBps >= feeDenominator {
		return nil, fmt.Errorf("vault: fee bps out of range")
	}
	c := &Contract{
		address:    address,
		underlying: underlying,
		native:     native,
		rate:       new(big.Int).Set(rate),
		feeBps:     feeBps,
	}
	env.Register(address, c)
	return c, nil
}

// Address returns the wrapped token/contract address.
func (c *Contract) Address() common.Address { return c.address }

// Underlying returns the ERC20 underlying address (zero for native vaults).
func (c *Contract) Underlying() common.Address { return c.underlying }

// IsNative reports whether the vault wraps the raw native asset.
func (c *Contract) IsNative() bool { return c.native }

// minted computes the wrapped quantity a deposit yields.
func (c *Contract) minted(underlyingQty *big.Int) (*big.Int, error) {
	gross, err := fixedpoint.PreciseDiv(underlyingQty, c.rate)
	if err != nil {
		return nil, err
	}
	if c.feeBps == 0 {
		return gross, nil
	}
	return fixedpoint.Fraction(gross, big.NewInt(feeDenominator-int64(c.feeBps)), big.NewInt(feeDenominator))
}

// released computes the underlying quantity a withdrawal returns.
func (c *Contract) released(wrappedQty *big.Int) (*big.Int, error) {
	return fixedpoint.PreciseMul(wrappedQty, c.rate)
}

// RequiredUnderlying returns the smallest underlying deposit whose minted
// wrapped quantity is at least the target. It inverts the forward rounding
// exactly, so exact-output trades sized from it never under-deliver.
func (c *Contract) RequiredUnderlying(wrappedQty *big.Int) (*big.Int, error) {
	if wrappedQty == nil || wrappedQty.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	gross := new(big.Int).Set(wrappedQty)
	if c.feeBps != 0 {
		// smallest gross with floor(gross*(K-f)/K) >= wrappedQty
		k := big.NewInt(feeDenominator)
		keep := big.NewInt(feeDenominator - int64(c.feeBps))
		gross.Mul(wrappedQty, k)
		rem := new(big.Int)
		gross.QuoRem(gross, keep, rem)
		if rem.Sign() != 0 {
			gross.Add(gross, big.NewInt(1))
		}
	}
	return fixedpoint.PreciseMulCeil(gross, c.rate)
}

// Seed credits the vault with underlying reserves so withdrawals exceeding
// prior deposits (a rate above 1.0) can settle.
func (c *Contract) Seed(env *ledger.Env, amount *big.Int) error {
	if c.native {
		return env.Tokens().CreditNative(c.address, amount)
	}
	return env.Tokens().Mint(c.underlying, c.address, amount)
}

// Call dispatches deposit/withdraw calldata.
func (c *Contract) Call(env *ledger.Env, caller common.Address, value *big.Int, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrUnknownSelector
	}
	selector, payload := data[:4], data[4:]
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case bytes.Equal(selector, depositSelector):
		if c.native {
			return nil, ErrNativeOnly
		}
		values, err := amountArgs.Unpack(payload)
		if err != nil {
			return nil, fmt.Errorf("vault: decode deposit: %w", err)
		}
		quantity := values[0].(*big.Int)
		if quantity.Sign() <= 0 {
			return nil, ErrZeroAmount
		}
		if err := env.Tokens().TransferFrom(c.underlying, c.address, caller, c.address, quantity); err != nil {
			return nil, err
		}
		return nil, c.mintLocked(env, caller, quantity)
	case bytes.Equal(selector, depositNativeSelector):
		if !c.native {
			return nil, ErrNotNative
		}
		if value == nil || value.Sign() <= 0 {
			return nil, ErrZeroAmount
		}
		// Native value already settled to the vault by the env.
		return nil, c.mintLocked(env, caller, value)
	case bytes.Equal(selector, withdrawSelector):
		values, err := amountArgs.Unpack(payload)
		if err != nil {
			return nil, fmt.Errorf("vault: decode withdraw: %w", err)
		}
		quantity := values[0].(*big.Int)
		if quantity.Sign() <= 0 {
			return nil, ErrZeroAmount
		}
		if err := env.Tokens().Burn(c.address, caller, quantity); err != nil {
			return nil, err
		}
		out, err := c.released(quantity)
		if err != nil {
			return nil, err
		}
		if c.native {
			return nil, env.Tokens().PayNative(c.address, caller, out)
		}
		return nil, env.Tokens().Transfer(c.underlying, c.address, caller, out)
	default:
		return nil, ErrUnknownSelector
	}
}

func (c *Contract) mintLocked(env *ledger.Env, to common.Address, underlyingQty *big.Int) error {
	wrapped, err := c.minted(underlyingQty)
	if err != nil {
		return err
	}
	if wrapped.Sign() <= 0 {
		return ErrZeroAmount
	}
	return env.Tokens().Mint(c.address, to, wrapped)
}
