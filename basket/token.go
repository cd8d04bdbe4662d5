// Package basket defines the basket-token capability surface the issuance
// and redemption engines operate through, the position accounting view, and
// an in-memory reference implementation bound to the simulated ledger.
//
// The engines never hold custody themselves: every transfer, approval and
// external call executes in the context of the basket, so slippage and
// adapter risk settle against basket-held assets.
package basket

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ModuleState tracks the lifecycle of a module against a basket token.
type ModuleState uint8

const (
	ModuleNone ModuleState = iota
	ModulePending
	ModuleInitialized
)

var (
	ErrModuleNotPending     = errors.New("basket: module not in pending state")
	ErrModuleNotInitialized = errors.New("basket: module not initialized")
	ErrModuleExists         = errors.New("basket: module already added")
	ErrDuplicateComponent   = errors.New("basket: duplicate component")
	ErrUnknownComponent     = errors.New("basket: unknown component")
)

// Invoker is the custodial capability: primitives executed as the basket.
type Invoker interface {
	// Invoke executes arbitrary calldata against target as the basket,
	// attaching the supplied native value.
	Invoke(target common.Address, value *big.Int, data []byte) ([]byte, error)
	// InvokeApprove sets a spender allowance on a basket-held token.
	InvokeApprove(token, spender common.Address, quantity *big.Int) error
	// InvokeTransfer moves a basket-held token to a recipient.
	InvokeTransfer(token, to common.Address, quantity *big.Int) error
	// InvokeWrapNative converts raw native balance into the wrapped-native
	// token held by the basket.
	InvokeWrapNative(wrapper common.Address, quantity *big.Int) error
	// InvokeUnwrapNative converts wrapped-native holdings back to raw
	// native balance.
	InvokeUnwrapNative(wrapper common.Address, quantity *big.Int) error
	// TokenBalance reports the basket's holding of an arbitrary token.
	TokenBalance(token common.Address) *big.Int
	// NativeBalance reports the basket's raw native balance.
	NativeBalance() *big.Int
}

// Token is the basket-token collaborator interface. Position real units are
// signed 1e18 fixed-point notionals per basket unit.
type Token interface {
	Invoker

	Address() common.Address
	Manager() common.Address
	TotalSupply() *big.Int
	BalanceOf(holder common.Address) *big.Int

	GetComponents() []common.Address
	GetDefaultPositionRealUnit(component common.Address) *big.Int
	GetExternalPositionModules(component common.Address) []common.Address
	GetExternalPositionRealUnit(component, module common.Address) *big.Int
	HasExternalPosition(component common.Address) bool

	Mint(to common.Address, quantity *big.Int) error
	Burn(from common.Address, quantity *big.Int) error

	ModuleState(module common.Address) ModuleState
	AddModule(module common.Address) error
	InitializeModule(module common.Address) error
}
