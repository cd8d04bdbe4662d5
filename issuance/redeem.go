package issuance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/basket"
	"basketfund/events"
	"basketfund/executor"
)

// Redeem burns the caller's basket quantity first, then unwinds each
// component's floor-computed entitlement into the output asset and transfers
// the accumulated proceeds to the recipient. The whole unwind aborts when the
// proceeds land below minOutputQuantity.
func (e *Engine) Redeem(ctx context.Context, t basket.Token, caller, recipient common.Address, quantity *big.Int, outputToken common.Address, midTokens []common.Address, minOutputQuantity *big.Int) (*big.Int, error) {
	if err := e.requireInitialized(t); err != nil {
		return nil, err
	}
	if quantity == nil || quantity.Sign() <= 0 {
		return nil, errInvalidQuantity
	}
	components := t.GetComponents()
	if midTokens != nil && len(midTokens) != len(components) {
		return nil, errArrayMismatch
	}
	var proceeds *big.Int
	err := e.guardedRun(ctx, t, "redeem", func(context.Context) error {
		if hook := e.hookFor(t); hook != nil {
			if err := hook.PreRedeem(t, quantity, caller, recipient); err != nil {
				return err
			}
		}
		// Burn before unwinding so a caller can never spend the same basket
		// units twice within the operation.
		if err := t.Burn(caller, quantity); err != nil {
			return err
		}
		entitled, notionals, err := basket.RequiredComponentUnits(t, quantity, false)
		if err != nil {
			return err
		}
		if err := e.settleExternalPositions(t, quantity, entitled); err != nil {
			return err
		}
		proceeds = new(big.Int)
		for i, component := range entitled {
			var mid common.Address
			if midTokens != nil {
				mid = midTokens[i]
			}
			out, err := e.unwindComponent(t, component, notionals[i], outputToken, mid)
			if err != nil {
				return err
			}
			proceeds.Add(proceeds, out)
		}
		if minOutputQuantity != nil && proceeds.Cmp(minOutputQuantity) < 0 {
			return fmt.Errorf("%w: realized %s below %s", errMinimumOutputNotMet, proceeds, minOutputQuantity)
		}
		if err := t.InvokeTransfer(outputToken, recipient, proceeds); err != nil {
			return err
		}
		if err := verifyCollateral(t); err != nil {
			return err
		}
		slog.Info("basket redeemed",
			"basket", t.Address().Hex(),
			"caller", caller.Hex(),
			"quantity", quantity.String(),
			"output", outputToken.Hex(),
			"proceeds", proceeds.String(),
		)
		e.emitter.Emit(events.RedemptionCompleted{
			Basket:         t.Address(),
			Caller:         caller,
			Recipient:      recipient,
			OutputToken:    outputToken,
			BasketQuantity: new(big.Int).Set(quantity),
			OutputReceived: new(big.Int).Set(proceeds),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proceeds, nil
}

// settleExternalPositions gives every module holding an external position in
// a redeemed component the chance to move it into basket custody before the
// unwind measures balances.
func (e *Engine) settleExternalPositions(t basket.Token, quantity *big.Int, components []common.Address) error {
	for _, component := range components {
		for _, module := range t.GetExternalPositionModules(component) {
			handle, ok := e.controller.Module(module)
			if !ok {
				continue
			}
			hook, ok := handle.(ExternalPositionHook)
			if !ok {
				continue
			}
			if err := hook.ComponentRedeemHook(t, quantity, component); err != nil {
				return err
			}
		}
	}
	return nil
}

// unwindComponent converts one component entitlement into the output asset
// and returns the measured output contribution.
func (e *Engine) unwindComponent(t basket.Token, component common.Address, notional *big.Int, outputToken, mid common.Address) (*big.Int, error) {
	plan, err := e.planFor(t, component)
	if err != nil {
		return nil, err
	}
	sellAsset := component
	sellQuantity := notional
	if plan.wrapped {
		released, _, err := e.wrap.Unwrap(t, plan.wrapName, plan.underlying, component, notional, plan.usesNative)
		if err != nil {
			return nil, err
		}
		e.metrics.RecordLeg(t.Address().Hex(), "unwrap")
		if plan.tradeAsset == outputToken {
			return released, nil
		}
		sellAsset = plan.tradeAsset
		sellQuantity = released
	} else if component == outputToken {
		// Already the output asset; the entitlement rides along with the
		// final proceeds transfer.
		return new(big.Int).Set(notional), nil
	}
	if plan.exchangeName == "" {
		return nil, fmt.Errorf("%w: %s", errNoExchangeConfigured, component.Hex())
	}
	_, received, err := e.trade.Trade(t, executor.TradeOrder{
		SendToken:    sellAsset,
		MidToken:     mid,
		ReceiveToken: outputToken,
		Quantity:     sellQuantity,
		SendFixed:    true,
		ExchangeName: plan.exchangeName,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordLeg(t.Address().Hex(), "trade")
	return received, nil
}
