// Package executor performs the external legs of issuance and redemption:
// venue trades and wrap/unwrap calls, always in the custody context of the
// basket token. Realized quantities are measured from balance deltas, never
// assumed from the request, because venues apply their own rounding and
// fees.
package executor

import (
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"basketfund/adapters"
	"basketfund/basket"
	"basketfund/events"
	"basketfund/registry"
)

var (
	errZeroTradeQuantity  = errors.New("trade executor: quantity must be positive")
	errSendExceedsBalance = errors.New("trade executor: total send quantity can't be greater than existing")
	errSlippageTooBig     = errors.New("trade executor: slippage too big")
)

// TradeOrder is the caller-facing description of a single trade leg.
type TradeOrder struct {
	SendToken    common.Address
	MidToken     common.Address // optional; zero value disables the hop
	ReceiveToken common.Address
	// Quantity is the exact amount on the fixed side of the trade.
	Quantity *big.Int
	// Limit bounds the other side: minimum receive when SendFixed,
	// maximum send otherwise.
	Limit     *big.Int
	SendFixed bool
	// ExchangeName resolves the venue adapter through the registry.
	ExchangeName string
}

// tradeIntent is the ephemeral per-call state: adapter, route and pre-trade
// balances. It never outlives the call that built it.
type tradeIntent struct {
	id         common.Hash
	adapter    adapters.ExchangeAdapter
	path       []common.Address
	preSend    *big.Int
	preReceive *big.Int
	routeData  []byte
}

// TradeExecutor routes trade orders through registry-resolved exchange
// adapters.
type TradeExecutor struct {
	integrations *registry.IntegrationRegistry
	module       common.Address
	emitter      events.Emitter
}

// NewTradeExecutor constructs an executor resolving adapters registered for
// the supplied module identity.
func NewTradeExecutor(integrations *registry.IntegrationRegistry, module common.Address) *TradeExecutor {
	return &TradeExecutor{
		integrations: integrations,
		module:       module,
		emitter:      events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used by the executor.
func (x *TradeExecutor) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		x.emitter = events.NoopEmitter{}
		return
	}
	x.emitter = emitter
}

// Trade executes one order in the basket's custody context and returns the
// realized (sent, received) deltas. A same-asset order short-circuits with
// the exact quantity on both sides and no external calls.
func (x *TradeExecutor) Trade(b basket.Token, order TradeOrder) (*big.Int, *big.Int, error) {
	if order.Quantity == nil || order.Quantity.Sign() <= 0 {
		return nil, nil, errZeroTradeQuantity
	}
	if order.SendToken == order.ReceiveToken {
		qty := new(big.Int).Set(order.Quantity)
		return qty, new(big.Int).Set(qty), nil
	}

	entry, err := x.integrations.GetAdapter(x.module, order.ExchangeName)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := adapters.AsExchangeAdapter(entry)
	if err != nil {
		return nil, nil, err
	}

	intent, err := x.buildIntent(b, adapter, order)
	if err != nil {
		return nil, nil, err
	}

	sendQty, receiveQty, intendedSend := orderQuantities(order)
	if intendedSend.Sign() <= 0 {
		return nil, nil, errZeroTradeQuantity
	}
	if intent.preSend.Cmp(intendedSend) < 0 {
		return nil, nil, errSendExceedsBalance
	}
	if err := b.InvokeApprove(order.SendToken, adapter.Spender(), intendedSend); err != nil {
		return nil, nil, err
	}

	target, value, data, err := adapter.TradeCalldata(order.SendToken, order.ReceiveToken, b.Address(), sendQty, receiveQty, intent.routeData)
	if err != nil {
		return nil, nil, err
	}
	if _, err := b.Invoke(target, value, data); err != nil {
		return nil, nil, err
	}

	sent := new(big.Int).Sub(intent.preSend, b.TokenBalance(order.SendToken))
	received := new(big.Int).Sub(b.TokenBalance(order.ReceiveToken), intent.preReceive)
	expected := receiveQty
	if !order.SendFixed {
		expected = order.Quantity
	}
	if expected != nil && received.Cmp(expected) < 0 {
		return nil, nil, errSlippageTooBig
	}

	slog.Debug("basket trade executed",
		"intent", intent.id.Hex(),
		"basket", b.Address().Hex(),
		"send", order.SendToken.Hex(),
		"receive", order.ReceiveToken.Hex(),
		"sent", sent.String(),
		"received", received.String(),
	)
	x.emitter.Emit(events.ComponentExchanged{
		Basket:       b.Address(),
		SendToken:    order.SendToken,
		ReceiveToken: order.ReceiveToken,
		ExchangeName: order.ExchangeName,
		Sent:         new(big.Int).Set(sent),
		Received:     new(big.Int).Set(received),
	})
	return sent, received, nil
}

func (x *TradeExecutor) buildIntent(b basket.Token, adapter adapters.ExchangeAdapter, order TradeOrder) (*tradeIntent, error) {
	path := make([]common.Address, 0, 3)
	path = append(path, order.SendToken)
	if order.MidToken != (common.Address{}) && order.MidToken != order.SendToken && order.MidToken != order.ReceiveToken {
		path = append(path, order.MidToken)
	}
	path = append(path, order.ReceiveToken)

	routeData, err := adapter.RouteData(path, order.SendFixed)
	if err != nil {
		return nil, err
	}
	return &tradeIntent{
		id: crypto.Keccak256Hash(
			b.Address().Bytes(),
			order.SendToken.Bytes(),
			order.ReceiveToken.Bytes(),
			order.Quantity.Bytes(),
		),
		adapter:    adapter,
		path:       path,
		preSend:    b.TokenBalance(order.SendToken),
		preReceive: b.TokenBalance(order.ReceiveToken),
		routeData:  routeData,
	}, nil
}

// orderQuantities maps the order onto (sendQty, receiveQty, intendedSend)
// for the adapter call: the exact amount sits on the fixed side, the limit
// on the other.
func orderQuantities(order TradeOrder) (*big.Int, *big.Int, *big.Int) {
	limit := order.Limit
	if limit == nil {
		limit = big.NewInt(0)
	}
	if order.SendFixed {
		return order.Quantity, limit, order.Quantity
	}
	return limit, order.Quantity, limit
}
