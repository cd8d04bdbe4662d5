package executor

import (
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/adapters"
	"basketfund/basket"
	"basketfund/events"
	"basketfund/registry"
)

var (
	errZeroWrapQuantity      = errors.New("wrap executor: quantity must be positive")
	errWrapExceedsBalance    = errors.New("wrap executor: underlying quantity exceeds existing balance")
	errUnwrapExceedsBalance  = errors.New("wrap executor: wrapped quantity exceeds existing balance")
	errNothingWrapped        = errors.New("wrap executor: wrap produced no wrapped balance")
	errNothingReleased       = errors.New("wrap executor: unwrap released no underlying")
	errWrappedNativeRequired = errors.New("wrap executor: wrapped-native token not configured")
)

var one = big.NewInt(1)

// WrapExecutor routes wrap and unwrap intents through registry-resolved wrap
// adapters. Native-asset flows convert through the wrapped-native token so
// the basket never holds raw native balance across calls.
type WrapExecutor struct {
	integrations  *registry.IntegrationRegistry
	module        common.Address
	wrappedNative common.Address
	emitter       events.Emitter
}

// NewWrapExecutor constructs an executor resolving adapters registered for
// the supplied module identity.
func NewWrapExecutor(integrations *registry.IntegrationRegistry, module, wrappedNative common.Address) *WrapExecutor {
	return &WrapExecutor{
		integrations:  integrations,
		module:        module,
		wrappedNative: wrappedNative,
		emitter:       events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used by the executor.
func (x *WrapExecutor) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		x.emitter = events.NoopEmitter{}
		return
	}
	x.emitter = emitter
}

func (x *WrapExecutor) resolve(adapterName string) (adapters.WrapAdapter, error) {
	entry, err := x.integrations.GetAdapter(x.module, adapterName)
	if err != nil {
		return nil, err
	}
	return adapters.AsWrapAdapter(entry)
}

// Wrap deposits underlyingQuantity into the wrapper and returns the wrapped
// quantity actually received. With usesNative the basket's wrapped-native
// holding is converted to raw native first and attached as call value.
func (x *WrapExecutor) Wrap(b basket.Token, adapterName string, underlying, wrapped common.Address, underlyingQuantity *big.Int, usesNative bool) (*big.Int, error) {
	if underlyingQuantity == nil || underlyingQuantity.Sign() <= 0 {
		return nil, errZeroWrapQuantity
	}
	adapter, err := x.resolve(adapterName)
	if err != nil {
		return nil, err
	}

	var preUnderlying *big.Int
	if usesNative {
		if x.wrappedNative == (common.Address{}) {
			return nil, errWrappedNativeRequired
		}
		if b.TokenBalance(x.wrappedNative).Cmp(underlyingQuantity) < 0 {
			return nil, errWrapExceedsBalance
		}
		if err := b.InvokeUnwrapNative(x.wrappedNative, underlyingQuantity); err != nil {
			return nil, err
		}
		preUnderlying = b.NativeBalance()
	} else {
		preUnderlying = b.TokenBalance(underlying)
		if preUnderlying.Cmp(underlyingQuantity) < 0 {
			return nil, errWrapExceedsBalance
		}
		// One unit of allowance headroom absorbs venue-side rounding dust.
		buffer := new(big.Int).Add(underlyingQuantity, one)
		if err := b.InvokeApprove(underlying, adapter.WrapSpender(), buffer); err != nil {
			return nil, err
		}
	}
	preWrapped := b.TokenBalance(wrapped)

	target, value, data, err := adapter.WrapCalldata(underlying, wrapped, underlyingQuantity, usesNative)
	if err != nil {
		return nil, err
	}
	if _, err := b.Invoke(target, value, data); err != nil {
		return nil, err
	}

	var underlyingSpent *big.Int
	if usesNative {
		underlyingSpent = new(big.Int).Sub(preUnderlying, b.NativeBalance())
	} else {
		underlyingSpent = new(big.Int).Sub(preUnderlying, b.TokenBalance(underlying))
	}
	wrappedReceived := new(big.Int).Sub(b.TokenBalance(wrapped), preWrapped)
	if wrappedReceived.Sign() <= 0 {
		return nil, errNothingWrapped
	}

	slog.Debug("basket wrap executed",
		"basket", b.Address().Hex(),
		"adapter", adapterName,
		"underlyingSpent", underlyingSpent.String(),
		"wrappedReceived", wrappedReceived.String(),
	)
	x.emitter.Emit(events.ComponentWrapped{
		Basket:          b.Address(),
		Underlying:      underlying,
		Wrapped:         wrapped,
		AdapterName:     adapterName,
		UnderlyingSpent: new(big.Int).Set(underlyingSpent),
		WrappedReceived: new(big.Int).Set(wrappedReceived),
	})
	return wrappedReceived, nil
}

// Unwrap withdraws wrappedQuantity from the wrapper and returns the
// (underlyingReleased, wrappedConsumed) deltas. With usesNative any raw
// native received is immediately re-wrapped into the wrapped-native token.
func (x *WrapExecutor) Unwrap(b basket.Token, adapterName string, underlying, wrapped common.Address, wrappedQuantity *big.Int, usesNative bool) (*big.Int, *big.Int, error) {
	if wrappedQuantity == nil || wrappedQuantity.Sign() <= 0 {
		return nil, nil, errZeroWrapQuantity
	}
	adapter, err := x.resolve(adapterName)
	if err != nil {
		return nil, nil, err
	}

	preWrapped := b.TokenBalance(wrapped)
	if preWrapped.Cmp(wrappedQuantity) < 0 {
		return nil, nil, errUnwrapExceedsBalance
	}
	buffer := new(big.Int).Add(wrappedQuantity, one)
	if err := b.InvokeApprove(wrapped, adapter.UnwrapSpender(), buffer); err != nil {
		return nil, nil, err
	}

	var preUnderlying *big.Int
	if usesNative {
		if x.wrappedNative == (common.Address{}) {
			return nil, nil, errWrappedNativeRequired
		}
		preUnderlying = b.NativeBalance()
	} else {
		preUnderlying = b.TokenBalance(underlying)
	}

	target, value, data, err := adapter.UnwrapCalldata(underlying, wrapped, wrappedQuantity, usesNative)
	if err != nil {
		return nil, nil, err
	}
	if _, err := b.Invoke(target, value, data); err != nil {
		return nil, nil, err
	}

	wrappedConsumed := new(big.Int).Sub(preWrapped, b.TokenBalance(wrapped))
	var underlyingReleased *big.Int
	if usesNative {
		underlyingReleased = new(big.Int).Sub(b.NativeBalance(), preUnderlying)
		if underlyingReleased.Sign() > 0 {
			if err := b.InvokeWrapNative(x.wrappedNative, underlyingReleased); err != nil {
				return nil, nil, err
			}
		}
	} else {
		underlyingReleased = new(big.Int).Sub(b.TokenBalance(underlying), preUnderlying)
	}
	if underlyingReleased.Sign() <= 0 {
		return nil, nil, errNothingReleased
	}

	slog.Debug("basket unwrap executed",
		"basket", b.Address().Hex(),
		"adapter", adapterName,
		"wrappedConsumed", wrappedConsumed.String(),
		"underlyingReleased", underlyingReleased.String(),
	)
	x.emitter.Emit(events.ComponentUnwrapped{
		Basket:             b.Address(),
		Underlying:         underlying,
		Wrapped:            wrapped,
		AdapterName:        adapterName,
		WrappedConsumed:    new(big.Int).Set(wrappedConsumed),
		UnderlyingReleased: new(big.Int).Set(underlyingReleased),
	})
	return underlyingReleased, wrappedConsumed, nil
}
