package adapters

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/venues/vault"
)

// VaultWrapAdapter produces calldata for a yield-vault venue.
type VaultWrapAdapter struct {
	vault *vault.Contract
}

// NewVaultWrapAdapter wraps a vault venue.
func NewVaultWrapAdapter(v *vault.Contract) *VaultWrapAdapter {
	return &VaultWrapAdapter{vault: v}
}

// WrapSpender implements WrapAdapter.
func (a *VaultWrapAdapter) WrapSpender() common.Address { return a.vault.Address() }

// UnwrapSpender implements WrapAdapter.
func (a *VaultWrapAdapter) UnwrapSpender() common.Address { return a.vault.Address() }

func (a *VaultWrapAdapter) checkPair(wrapped common.Address) error {
	if wrapped != a.vault.Address() {
		return fmt.Errorf("adapters: wrapped token %s not served by vault %s", wrapped.Hex(), a.vault.Address().Hex())
	}
	return nil
}

// WrapCalldata implements WrapAdapter.
func (a *VaultWrapAdapter) WrapCalldata(_, wrapped common.Address, underlyingQuantity *big.Int, usesNative bool) (common.Address, *big.Int, []byte, error) {
	if err := a.checkPair(wrapped); err != nil {
		return common.Address{}, nil, nil, err
	}
	if usesNative {
		if !a.vault.IsNative() {
			return common.Address{}, nil, nil, vault.ErrNotNative
		}
		return a.vault.Address(), new(big.Int).Set(underlyingQuantity), vault.PackDepositNative(), nil
	}
	data, err := vault.PackDeposit(underlyingQuantity)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return a.vault.Address(), nil, data, nil
}

// UnwrapCalldata implements WrapAdapter.
func (a *VaultWrapAdapter) UnwrapCalldata(_, wrapped common.Address, wrappedQuantity *big.Int, _ bool) (common.Address, *big.Int, []byte, error) {
	if err := a.checkPair(wrapped); err != nil {
		return common.Address{}, nil, nil, err
	}
	data, err := vault.PackWithdraw(wrappedQuantity)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return a.vault.Address(), nil, data, nil
}

// DepositUnderlyingAmount implements WrapAdapter.
func (a *VaultWrapAdapter) DepositUnderlyingAmount(_, wrapped common.Address, wrappedQuantity *big.Int) (*big.Int, error) {
	if err := a.checkPair(wrapped); err != nil {
		return nil, err
	}
	return a.vault.RequiredUnderlying(wrappedQuantity)
}
