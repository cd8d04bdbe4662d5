// Package fixedpoint implements precise 1e18 fixed-point arithmetic with
// explicit rounding direction. Required input quantities are rounded up and
// deliverable output quantities are rounded down; that asymmetry is what
// keeps a basket over-collateralized across issue and redeem flows.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrNegativeValue  = errors.New("fixedpoint: negative value")
	ErrOverflow       = errors.New("fixedpoint: value exceeds 256 bits")
)

// Scale is one precise unit.
var Scale = mustBigInt("1000000000000000000")

var one = big.NewInt(1)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// checkRange rejects negative values and values that do not fit the 256-bit
// quantity domain the ledger operates in.
func checkRange(values ...*big.Int) error {
	var probe uint256.Int
	for _, v := range values {
		if v == nil || v.Sign() < 0 {
			return ErrNegativeValue
		}
		if overflow := probe.SetFromBig(v); overflow {
			return ErrOverflow
		}
	}
	return nil
}

// PreciseMul returns a*b/Scale rounded towards zero.
func PreciseMul(a, b *big.Int) (*big.Int, error) {
	if err := checkRange(a, b); err != nil {
		return nil, err
	}
	product := new(big.Int).Mul(a, b)
	product.Quo(product, Scale)
	if err := checkRange(product); err != nil {
		return nil, err
	}
	return product, nil
}

// PreciseMulCeil returns a*b/Scale with any nonzero remainder rounded up.
func PreciseMulCeil(a, b *big.Int) (*big.Int, error) {
	if err := checkRange(a, b); err != nil {
		return nil, err
	}
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, Scale, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, one)
	}
	if err := checkRange(quo); err != nil {
		return nil, err
	}
	return quo, nil
}

// PreciseDiv returns a*Scale/b rounded towards zero.
func PreciseDiv(a, b *big.Int) (*big.Int, error) {
	if err := checkRange(a, b); err != nil {
		return nil, err
	}
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	scaled := new(big.Int).Mul(a, Scale)
	scaled.Quo(scaled, b)
	if err := checkRange(scaled); err != nil {
		return nil, err
	}
	return scaled, nil
}

// PreciseDivCeil returns a*Scale/b with any nonzero remainder rounded up.
func PreciseDivCeil(a, b *big.Int) (*big.Int, error) {
	if err := checkRange(a, b); err != nil {
		return nil, err
	}
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	scaled := new(big.Int).Mul(a, Scale)
	quo, rem := new(big.Int).QuoRem(scaled, b, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, one)
	}
	if err := checkRange(quo); err != nil {
		return nil, err
	}
	return quo, nil
}

// Fraction returns value*numerator/denominator rounded towards zero. It is
// the general mulDiv used where the divisor is not the precise-unit scale.
func Fraction(value, numerator, denominator *big.Int) (*big.Int, error) {
	if err := checkRange(value, numerator, denominator); err != nil {
		return nil, err
	}
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(value, numerator)
	product.Quo(product, denominator)
	if err := checkRange(product); err != nil {
		return nil, err
	}
	return product, nil
}
