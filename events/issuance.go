package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeIssuanceCompleted   = "basket.issuance.completed"
	TypeRedemptionCompleted = "basket.redemption.completed"
	TypeExchangeUpdated     = "basket.exchange.updated"
	TypeWrapAdapterUpdated  = "basket.wrapadapter.updated"
	TypeComponentExchanged  = "basket.component.exchanged"
	TypeComponentWrapped    = "basket.component.wrapped"
	TypeComponentUnwrapped  = "basket.component.unwrapped"
)

// IssuanceCompleted reports a finished issue flow with realized quantities.
type IssuanceCompleted struct {
	Basket         common.Address
	Caller         common.Address
	Recipient      common.Address
	InputToken     common.Address
	InputSpent     *big.Int
	BasketQuantity *big.Int
	InputReturned  *big.Int
}

func (IssuanceCompleted) EventType() string { return TypeIssuanceCompleted }

// RedemptionCompleted reports a finished redeem flow.
type RedemptionCompleted struct {
	Basket         common.Address
	Caller         common.Address
	Recipient      common.Address
	OutputToken    common.Address
	BasketQuantity *big.Int
	OutputReceived *big.Int
}

func (RedemptionCompleted) EventType() string { return TypeRedemptionCompleted }

// ExchangeUpdated reports an exchange-parameter change for a component.
type ExchangeUpdated struct {
	Basket       common.Address
	Component    common.Address
	ExchangeName string
}

func (ExchangeUpdated) EventType() string { return TypeExchangeUpdated }

// WrapAdapterUpdated reports a wrap-parameter change for a component.
type WrapAdapterUpdated struct {
	Basket      common.Address
	Component   common.Address
	AdapterName string
	Underlying  common.Address
}

func (WrapAdapterUpdated) EventType() string { return TypeWrapAdapterUpdated }

// ComponentExchanged reports a realized trade. Sent/Received are measured
// balance deltas, which may differ from the nominal request.
type ComponentExchanged struct {
	Basket       common.Address
	SendToken    common.Address
	ReceiveToken common.Address
	ExchangeName string
	Sent         *big.Int
	Received     *big.Int
}

func (ComponentExchanged) EventType() string { return TypeComponentExchanged }

// ComponentWrapped reports a realized wrap.
type ComponentWrapped struct {
	Basket          common.Address
	Underlying      common.Address
	Wrapped         common.Address
	AdapterName     string
	UnderlyingSpent *big.Int
	WrappedReceived *big.Int
}

func (ComponentWrapped) EventType() string { return TypeComponentWrapped }

// ComponentUnwrapped reports a realized unwrap.
type ComponentUnwrapped struct {
	Basket             common.Address
	Underlying         common.Address
	Wrapped            common.Address
	AdapterName        string
	WrappedConsumed    *big.Int
	UnderlyingReleased *big.Int
}

func (ComponentUnwrapped) EventType() string { return TypeComponentUnwrapped }
