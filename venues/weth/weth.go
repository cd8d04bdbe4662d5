// Package weth implements the wrapped-native token contract used by the
// simulated environment: native value deposited mints an equal wrapped
// balance, withdrawing burns wrapped balance and releases native value.
package weth

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"basketfund/ledger"
)

var (
	ErrUnknownSelector = errors.New("weth: unknown function selector")
	ErrZeroValue       = errors.New("weth: deposit requires native value")
)

var (
	uint256Ty = mustType("uint256")

	withdrawArgs = abi.Arguments{{Type: uint256Ty}}

	depositSelector  = crypto.Keccak256([]byte("deposit()"))[:4]
	withdrawSelector = crypto.Keccak256([]byte("withdraw(uint256)"))[:4]
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// PackDeposit encodes a deposit() call.
func PackDeposit() []byte {
	return append([]byte(nil), depositSelector...)
}

// PackWithdraw encodes a withdraw(quantity) call.
func PackWithdraw(quantity *big.Int) ([]byte, error) {
	packed, err := withdrawArgs.Pack(quantity)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), withdrawSelector...), packed...), nil
}

// Contract is the wrapped-native token handler. Its address doubles as the
// ERC20 token identifier on the ledger.
type Contract struct {
	address common.Address
}

// New constructs the contract and registers it on the environment.
func New(env *ledger.Env, address common.Address) *Contract {
	c := &Contract{address: address}
	env.Register(address, c)
	return c
}

// Address returns the token/contract address.
func (c *Contract) Address() common.Address { return c.address }

// Call dispatches deposit/withdraw calldata.
func (c *Contract) Call(env *ledger.Env, caller common.Address, value *big.Int, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrUnknownSelector
	}
	selector, payload := data[:4], data[4:]
	switch {
	case bytes.Equal(selector, depositSelector):
		if value == nil || value.Sign() <= 0 {
			return nil, ErrZeroValue
		}
		// Native value already moved to the contract by the env; mint the
		// wrapped balance against it.
		return nil, env.Tokens().Mint(c.address, caller, value)
	case bytes.Equal(selector, withdrawSelector):
		values, err := withdrawArgs.Unpack(payload)
		if err != nil {
			return nil, fmt.Errorf("weth: decode withdraw: %w", err)
		}
		quantity := values[0].(*big.Int)
		if err := env.Tokens().Burn(c.address, caller, quantity); err != nil {
			return nil, err
		}
		return nil, env.Tokens().PayNative(c.address, caller, quantity)
	default:
		return nil, ErrUnknownSelector
	}
}
