package basket

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/fixedpoint"
)

var (
	ErrInvalidQuantity         = errors.New("basket: quantity must be positive")
	ErrExternalUnitNotPositive = errors.New("basket: only positive external unit positions supported")
	ErrUnitNotPositive         = errors.New("basket: component unit must be positive")
	ErrZeroRequirement         = errors.New("basket: component requirement rounds to zero")
)

// AggregateRealUnit sums the default position real unit with every external
// module's real unit for the component. Debt positions are out of scope, so
// any non-positive external unit is rejected before arithmetic.
func AggregateRealUnit(t Token, component common.Address) (*big.Int, error) {
	unit := new(big.Int)
	if def := t.GetDefaultPositionRealUnit(component); def != nil {
		unit.Set(def)
	}
	for _, module := range t.GetExternalPositionModules(component) {
		external := t.GetExternalPositionRealUnit(component, module)
		if external == nil || external.Sign() <= 0 {
			return nil, fmt.Errorf("%w: component %s module %s", ErrExternalUnitNotPositive, component.Hex(), module.Hex())
		}
		unit.Add(unit, external)
	}
	if unit.Sign() <= 0 {
		return nil, fmt.Errorf("%w: component %s", ErrUnitNotPositive, component.Hex())
	}
	return unit, nil
}

// RequiredComponentUnits computes the per-component notional backing a
// basket quantity. Issue-direction requirements round up, redeem-direction
// entitlements round down; the asymmetry preserves over-collateralization.
func RequiredComponentUnits(t Token, quantity *big.Int, isIssue bool) ([]common.Address, []*big.Int, error) {
	if quantity == nil || quantity.Sign() <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	components := t.GetComponents()
	notionals := make([]*big.Int, 0, len(components))
	for _, component := range components {
		unit, err := AggregateRealUnit(t, component)
		if err != nil {
			return nil, nil, err
		}
		var notional *big.Int
		if isIssue {
			notional, err = fixedpoint.PreciseMulCeil(quantity, unit)
		} else {
			notional, err = fixedpoint.PreciseMul(quantity, unit)
		}
		if err != nil {
			return nil, nil, err
		}
		if notional.Sign() == 0 {
			return nil, nil, fmt.Errorf("%w: component %s", ErrZeroRequirement, component.Hex())
		}
		notionals = append(notionals, notional)
	}
	return components, notionals, nil
}
