package adapters

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"basketfund/venues/amm"
)

var (
	routeAddressSliceTy = mustType("address[]")
	routeBoolTy         = mustType("bool")

	routeArgs = abi.Arguments{{Type: routeAddressSliceTy}, {Type: routeBoolTy}}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// AMMExchangeAdapter produces calldata for the constant-product router.
type AMMExchangeAdapter struct {
	router *amm.Router
}

// NewAMMExchangeAdapter wraps a router venue.
func NewAMMExchangeAdapter(router *amm.Router) *AMMExchangeAdapter {
	return &AMMExchangeAdapter{router: router}
}

// Spender implements ExchangeAdapter.
func (a *AMMExchangeAdapter) Spender() common.Address {
	return a.router.Address()
}

// RouteData implements ExchangeAdapter.
func (a *AMMExchangeAdapter) RouteData(path []common.Address, exactInput bool) ([]byte, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: path needs at least two tokens", ErrBadRouteData)
	}
	return routeArgs.Pack(path, exactInput)
}

// TradeCalldata implements ExchangeAdapter.
func (a *AMMExchangeAdapter) TradeCalldata(send, receive, recipient common.Address, sendQuantity, receiveQuantity *big.Int, routeData []byte) (common.Address, *big.Int, []byte, error) {
	values, err := routeArgs.Unpack(routeData)
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("%w: %v", ErrBadRouteData, err)
	}
	path := values[0].([]common.Address)
	exactInput := values[1].(bool)
	if len(path) < 2 || path[0] != send || path[len(path)-1] != receive {
		return common.Address{}, nil, nil, ErrRouteMismatch
	}
	var data []byte
	if exactInput {
		data, err = amm.PackSwapExactIn(path, sendQuantity, receiveQuantity, recipient)
	} else {
		data, err = amm.PackSwapExactOut(path, receiveQuantity, sendQuantity, recipient)
	}
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return a.router.Address(), nil, data, nil
}
