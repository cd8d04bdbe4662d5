// Package valuer provides the reference price oracle and the valuation
// engine that prices one basket unit in an arbitrary quote asset. The
// issuance engine consumes only the Valuer interface; any pricing source
// satisfying it can replace the reference implementation.
package valuer

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/basket"
	"basketfund/fixedpoint"
)

var (
	ErrNotOwner     = errors.New("valuer: caller is not the owner")
	ErrNoPrice      = errors.New("valuer: no price for pair")
	ErrInvalidPrice = errors.New("valuer: price must be positive")
)

// Oracle holds owner-set pair prices at 1e18 scale: quote units per one base
// unit.
type Oracle struct {
	mu     sync.RWMutex
	owner  common.Address
	prices map[common.Address]map[common.Address]*big.Int
}

// NewOracle constructs an oracle owned by the supplied address.
func NewOracle(owner common.Address) *Oracle {
	return &Oracle{owner: owner, prices: make(map[common.Address]map[common.Address]*big.Int)}
}

// SetPrice records the price of base in quote terms.
func (o *Oracle) SetPrice(caller, base, quote common.Address, price *big.Int) error {
	if caller != o.owner {
		return ErrNotOwner
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	quotes, ok := o.prices[base]
	if !ok {
		quotes = make(map[common.Address]*big.Int)
		o.prices[base] = quotes
	}
	quotes[quote] = new(big.Int).Set(price)
	return nil
}

// Price resolves the pair price. A base equal to its quote prices at one.
func (o *Oracle) Price(base, quote common.Address) (*big.Int, error) {
	if base == quote {
		return new(big.Int).Set(fixedpoint.Scale), nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	quotes, ok := o.prices[base]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoPrice, base.Hex(), quote.Hex())
	}
	price, ok := quotes[quote]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoPrice, base.Hex(), quote.Hex())
	}
	return new(big.Int).Set(price), nil
}

// Engine values baskets against the oracle.
type Engine struct {
	oracle *Oracle
}

// NewEngine constructs a valuation engine over the oracle.
func NewEngine(oracle *Oracle) *Engine {
	return &Engine{oracle: oracle}
}

// CalculateBasketValuation prices one basket unit in the quote asset,
// summing every component's aggregate real unit at its oracle price. Any
// component without a price fails the valuation.
func (e *Engine) CalculateBasketValuation(t basket.Token, quote common.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, component := range t.GetComponents() {
		unit, err := basket.AggregateRealUnit(t, component)
		if err != nil {
			return nil, err
		}
		price, err := e.oracle.Price(component, quote)
		if err != nil {
			return nil, err
		}
		value, err := fixedpoint.PreciseMul(unit, price)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	if total.Sign() <= 0 {
		return nil, fmt.Errorf("valuer: basket %s has no value in quote %s", t.Address().Hex(), quote.Hex())
	}
	return total, nil
}
