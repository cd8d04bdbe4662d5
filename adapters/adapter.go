// Package adapters defines the two pluggable integration capabilities the
// executors understand, exchange adapters and wrap adapters, plus the
// reference implementations backing the simulated venues. Adapters only
// produce target calldata; they never touch custody themselves.
package adapters

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotExchangeAdapter = errors.New("adapters: must be valid adapter: not an exchange adapter")
	ErrNotWrapAdapter     = errors.New("adapters: must be valid adapter: not a wrap adapter")
	ErrBadRouteData       = errors.New("adapters: malformed route data")
	ErrRouteMismatch      = errors.New("adapters: route endpoints do not match trade")
)

// NativeSentinel marks the raw native asset where a token address is
// expected, mirroring the conventional 0xEeee... placeholder.
var NativeSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// ExchangeAdapter translates a generic trade intent into venue calldata.
type ExchangeAdapter interface {
	// Spender is the address the send token must be approved to.
	Spender() common.Address
	// RouteData encodes a hop path and the fixed trade side for later use
	// by TradeCalldata.
	RouteData(path []common.Address, exactInput bool) ([]byte, error)
	// TradeCalldata produces the call target, attached native value and
	// calldata for the trade. sendQuantity and receiveQuantity carry the
	// exact amount on the fixed side and the bound on the other.
	TradeCalldata(send, receive, recipient common.Address, sendQuantity, receiveQuantity *big.Int, routeData []byte) (common.Address, *big.Int, []byte, error)
}

// WrapAdapter translates wrap/unwrap intents into venue calldata.
type WrapAdapter interface {
	// WrapSpender is the address the underlying must be approved to.
	WrapSpender() common.Address
	// UnwrapSpender is the address the wrapped token must be approved to.
	UnwrapSpender() common.Address
	// WrapCalldata produces the deposit call. usesNative attaches the
	// underlying quantity as call value instead of an ERC20 pull.
	WrapCalldata(underlying, wrapped common.Address, underlyingQuantity *big.Int, usesNative bool) (common.Address, *big.Int, []byte, error)
	// UnwrapCalldata produces the withdrawal call.
	UnwrapCalldata(underlying, wrapped common.Address, wrappedQuantity *big.Int, usesNative bool) (common.Address, *big.Int, []byte, error)
	// DepositUnderlyingAmount sizes the underlying required so a deposit
	// mints at least the target wrapped quantity; exact-output trades are
	// sized from it before wrapping.
	DepositUnderlyingAmount(underlying, wrapped common.Address, wrappedQuantity *big.Int) (*big.Int, error)
}

// AsExchangeAdapter asserts a registry entry to the exchange capability.
func AsExchangeAdapter(entry any) (ExchangeAdapter, error) {
	adapter, ok := entry.(ExchangeAdapter)
	if !ok || adapter == nil {
		return nil, ErrNotExchangeAdapter
	}
	return adapter, nil
}

// AsWrapAdapter asserts a registry entry to the wrap capability.
func AsWrapAdapter(entry any) (WrapAdapter, error) {
	adapter, ok := entry.(WrapAdapter)
	if !ok || adapter == nil {
		return nil, ErrNotWrapAdapter
	}
	return adapter, nil
}
