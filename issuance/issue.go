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
	"basketfund/fixedpoint"
)

// issueRun carries the per-operation accounting shared by both issue modes:
// the funding budget, cumulative realized spend, and the measured
// per-component acquisitions the mint decision is derived from.
type issueRun struct {
	t             basket.Token
	caller        common.Address
	recipient     common.Address
	inputToken    common.Address
	inputQuantity *big.Int
	returnDust    bool

	preInputBalance *big.Int
	spent           *big.Int
	received        map[common.Address]*big.Int
	plans           map[common.Address]acquisitionPlan
}

func (e *Engine) newIssueRun(t basket.Token, caller, recipient, inputToken common.Address, inputQuantity *big.Int, returnDust bool) *issueRun {
	return &issueRun{
		t:             t,
		caller:        caller,
		recipient:     recipient,
		inputToken:    inputToken,
		inputQuantity: new(big.Int).Set(inputQuantity),
		returnDust:    returnDust,
		spent:         new(big.Int),
		received:      make(map[common.Address]*big.Int),
		plans:         make(map[common.Address]acquisitionPlan),
	}
}

// remaining is the input budget still spendable on acquisitions.
func (r *issueRun) remaining() *big.Int {
	return new(big.Int).Sub(r.inputQuantity, r.spent)
}

// fund moves the caller's input into basket custody. Native entry points
// pre-fund the basket and skip the pull.
func (e *Engine) fund(r *issueRun, pull bool) error {
	r.preInputBalance = r.t.TokenBalance(r.inputToken)
	if !pull {
		r.preInputBalance = new(big.Int).Sub(r.preInputBalance, r.inputQuantity)
		return nil
	}
	return e.env.Tokens().TransferFrom(r.inputToken, e.module, r.caller, r.t.Address(), r.inputQuantity)
}

// IssueExactBasket prices the basket in the input asset, targets the
// slippage-adjusted basket quantity the input affords, acquires each
// component's exact requirement, and mints the largest quantity the realized
// acquisitions collateralize. Unspent input returns to the caller. The caller
// must have approved the engine module for inputQuantity.
func (e *Engine) IssueExactBasket(ctx context.Context, t basket.Token, caller, recipient, inputToken common.Address, inputQuantity *big.Int, slippageBps uint64, returnDust bool) (*big.Int, error) {
	if err := e.requireInitialized(t); err != nil {
		return nil, err
	}
	if inputQuantity == nil || inputQuantity.Sign() <= 0 {
		return nil, errInvalidQuantity
	}
	if slippageBps > bpsDenominator {
		return nil, errSlippageRange
	}
	var minted *big.Int
	err := e.guardedRun(ctx, t, "issue_exact", func(context.Context) error {
		run := e.newIssueRun(t, caller, recipient, inputToken, inputQuantity, returnDust)
		if err := e.fund(run, true); err != nil {
			return err
		}
		target, err := e.exactTarget(t, inputToken, inputQuantity, slippageBps)
		if err != nil {
			return err
		}
		components, notionals, err := basket.RequiredComponentUnits(t, target, true)
		if err != nil {
			return err
		}
		for i, component := range components {
			if err := e.acquireExact(run, component, notionals[i]); err != nil {
				return err
			}
		}
		minted, err = e.finishIssue(run)
		return err
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// IssueWeighted splits the input (less a one-unit buffer absorbing split
// rounding) across components by caller-supplied weights, acquires with
// exact-input trades, and mints the largest quantity the realized
// acquisitions collateralize. The mint aborts below minBasketQuantity.
func (e *Engine) IssueWeighted(ctx context.Context, t basket.Token, caller, recipient, inputToken common.Address, inputQuantity *big.Int, weights []*big.Int, midTokens []common.Address, minBasketQuantity *big.Int, returnDust bool) (*big.Int, error) {
	return e.issueWeighted(ctx, t, caller, recipient, inputToken, inputQuantity, weights, midTokens, minBasketQuantity, returnDust, false)
}

// IssueWeightedNative is the native-asset entry for the weighted mode: the
// caller's native value is moved into basket custody, wrapped into the
// wrapped-native token, and issued as if the wrapped-native token were the
// input. Unspent input returns to the caller as wrapped-native.
func (e *Engine) IssueWeightedNative(ctx context.Context, t basket.Token, caller, recipient common.Address, nativeValue *big.Int, weights []*big.Int, midTokens []common.Address, minBasketQuantity *big.Int, returnDust bool) (*big.Int, error) {
	return e.issueWeighted(ctx, t, caller, recipient, e.wrappedNative, nativeValue, weights, midTokens, minBasketQuantity, returnDust, true)
}

// IssueExactBasketNative is the native-asset entry for the exact-basket mode.
func (e *Engine) IssueExactBasketNative(ctx context.Context, t basket.Token, caller, recipient common.Address, nativeValue *big.Int, slippageBps uint64, returnDust bool) (*big.Int, error) {
	if err := e.requireInitialized(t); err != nil {
		return nil, err
	}
	if nativeValue == nil || nativeValue.Sign() <= 0 {
		return nil, errInvalidQuantity
	}
	if slippageBps > bpsDenominator {
		return nil, errSlippageRange
	}
	var minted *big.Int
	err := e.guardedRun(ctx, t, "issue_exact_native", func(context.Context) error {
		if err := e.fundNative(t, caller, nativeValue); err != nil {
			return err
		}
		run := e.newIssueRun(t, caller, recipient, e.wrappedNative, nativeValue, returnDust)
		if err := e.fund(run, false); err != nil {
			return err
		}
		target, err := e.exactTarget(t, e.wrappedNative, nativeValue, slippageBps)
		if err != nil {
			return err
		}
		components, notionals, err := basket.RequiredComponentUnits(t, target, true)
		if err != nil {
			return err
		}
		for i, component := range components {
			if err := e.acquireExact(run, component, notionals[i]); err != nil {
				return err
			}
		}
		minted, err = e.finishIssue(run)
		return err
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

func (e *Engine) issueWeighted(ctx context.Context, t basket.Token, caller, recipient, inputToken common.Address, inputQuantity *big.Int, weights []*big.Int, midTokens []common.Address, minBasketQuantity *big.Int, returnDust, native bool) (*big.Int, error) {
	if err := e.requireInitialized(t); err != nil {
		return nil, err
	}
	if inputQuantity == nil || inputQuantity.Sign() <= 0 {
		return nil, errInvalidQuantity
	}
	if inputQuantity.Cmp(big.NewInt(1)) <= 0 {
		return nil, errInputTooSmall
	}
	components := t.GetComponents()
	if len(weights) != len(components) {
		return nil, errArrayMismatch
	}
	if midTokens != nil && len(midTokens) != len(components) {
		return nil, errArrayMismatch
	}
	var minted *big.Int
	err := e.guardedRun(ctx, t, "issue_weighted", func(context.Context) error {
		if native {
			if err := e.fundNative(t, caller, inputQuantity); err != nil {
				return err
			}
		}
		run := e.newIssueRun(t, caller, recipient, inputToken, inputQuantity, returnDust)
		if err := e.fund(run, !native); err != nil {
			return err
		}
		// One input unit is withheld from the split so that weight-sum
		// rounding can never overdraw the budget.
		available := new(big.Int).Sub(inputQuantity, big.NewInt(1))
		for i, component := range components {
			spend, err := fixedpoint.PreciseMul(available, weights[i])
			if err != nil {
				return err
			}
			var mid common.Address
			if midTokens != nil {
				mid = midTokens[i]
			}
			if err := e.acquireWeighted(run, component, spend, mid); err != nil {
				return err
			}
		}
		realized, err := e.realizedQuantity(run, components)
		if err != nil {
			return err
		}
		if minBasketQuantity != nil && realized.Cmp(minBasketQuantity) < 0 {
			return fmt.Errorf("%w: realized %s below %s", errMinimumReceiveNotMet, realized, minBasketQuantity)
		}
		minted, err = e.finishIssueRealized(run, realized)
		return err
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// fundNative moves the caller's raw native value into basket custody and
// wraps it, so the common flow operates purely on the wrapped-native token.
func (e *Engine) fundNative(t basket.Token, caller common.Address, value *big.Int) error {
	if e.wrappedNative == (common.Address{}) {
		return errWrapUnderlyingZero
	}
	if err := e.env.Tokens().PayNative(caller, t.Address(), value); err != nil {
		return err
	}
	return t.InvokeWrapNative(e.wrappedNative, value)
}

// exactTarget prices one basket unit in the input asset and converts the
// input budget into a slippage-adjusted basket quantity target.
func (e *Engine) exactTarget(t basket.Token, inputToken common.Address, inputQuantity *big.Int, slippageBps uint64) (*big.Int, error) {
	valuation, err := e.valuer.CalculateBasketValuation(t, inputToken)
	if err != nil {
		return nil, err
	}
	target, err := fixedpoint.PreciseDiv(inputQuantity, valuation)
	if err != nil {
		return nil, err
	}
	if slippageBps > 0 {
		target, err = fixedpoint.Fraction(target, big.NewInt(int64(bpsDenominator-slippageBps)), big.NewInt(bpsDenominator))
		if err != nil {
			return nil, err
		}
	}
	if target.Sign() <= 0 {
		return nil, errZeroTargetQuantity
	}
	return target, nil
}

// acquireExact obtains exactly notional units of the component (or more,
// when venue rounding over-delivers), spending from the remaining budget.
func (e *Engine) acquireExact(run *issueRun, component common.Address, notional *big.Int) error {
	plan, err := e.planFor(run.t, component)
	if err != nil {
		return err
	}
	run.plans[component] = plan

	if !plan.wrapped && component == run.inputToken {
		return e.retainInput(run, component, notional)
	}
	if plan.wrapped {
		required, err := plan.wrapAdapter.DepositUnderlyingAmount(plan.underlying, component, notional)
		if err != nil {
			return err
		}
		if plan.tradeAsset == run.inputToken {
			if run.remaining().Cmp(required) < 0 {
				return errExceedsInputFunds
			}
			run.spent.Add(run.spent, required)
		} else {
			if _, err := e.tradeExactOut(run, plan, required, common.Address{}); err != nil {
				return err
			}
		}
		return e.wrapAcquired(run, plan, component, required)
	}
	received, err := e.tradeExactOut(run, plan, notional, common.Address{})
	if err != nil {
		return err
	}
	run.received[component] = received
	return nil
}

// acquireWeighted spends exactly spend input units on the component's slice.
func (e *Engine) acquireWeighted(run *issueRun, component common.Address, spend *big.Int, mid common.Address) error {
	plan, err := e.planFor(run.t, component)
	if err != nil {
		return err
	}
	run.plans[component] = plan

	if spend.Sign() == 0 {
		run.received[component] = new(big.Int)
		return nil
	}
	if run.remaining().Cmp(spend) < 0 {
		return errExceedsInputFunds
	}
	if !plan.wrapped && component == run.inputToken {
		return e.retainInput(run, component, spend)
	}
	underlying := new(big.Int).Set(spend)
	if plan.tradeAsset != run.inputToken {
		received, err := e.tradeExactIn(run, plan, spend, mid)
		if err != nil {
			return err
		}
		underlying = received
	} else {
		run.spent.Add(run.spent, spend)
	}
	if !plan.wrapped {
		run.received[component] = underlying
		return nil
	}
	return e.wrapAcquired(run, plan, component, underlying)
}

// retainInput earmarks part of the input balance as the component's own
// backing without an external call.
func (e *Engine) retainInput(run *issueRun, component common.Address, quantity *big.Int) error {
	if run.remaining().Cmp(quantity) < 0 {
		return errExceedsInputFunds
	}
	run.spent.Add(run.spent, quantity)
	run.received[component] = new(big.Int).Set(quantity)
	return nil
}

func (e *Engine) tradeExactOut(run *issueRun, plan acquisitionPlan, receiveQuantity *big.Int, mid common.Address) (*big.Int, error) {
	if plan.exchangeName == "" {
		return nil, fmt.Errorf("%w: %s", errNoExchangeConfigured, plan.component.Hex())
	}
	sent, received, err := e.trade.Trade(run.t, executor.TradeOrder{
		SendToken:    run.inputToken,
		MidToken:     mid,
		ReceiveToken: plan.tradeAsset,
		Quantity:     receiveQuantity,
		Limit:        run.remaining(),
		SendFixed:    false,
		ExchangeName: plan.exchangeName,
	})
	if err != nil {
		return nil, err
	}
	run.spent.Add(run.spent, sent)
	e.metrics.RecordLeg(run.t.Address().Hex(), "trade")
	return received, nil
}

func (e *Engine) tradeExactIn(run *issueRun, plan acquisitionPlan, sendQuantity *big.Int, mid common.Address) (*big.Int, error) {
	if plan.exchangeName == "" {
		return nil, fmt.Errorf("%w: %s", errNoExchangeConfigured, plan.component.Hex())
	}
	sent, received, err := e.trade.Trade(run.t, executor.TradeOrder{
		SendToken:    run.inputToken,
		MidToken:     mid,
		ReceiveToken: plan.tradeAsset,
		Quantity:     sendQuantity,
		SendFixed:    true,
		ExchangeName: plan.exchangeName,
	})
	if err != nil {
		return nil, err
	}
	run.spent.Add(run.spent, sent)
	e.metrics.RecordLeg(run.t.Address().Hex(), "trade")
	return received, nil
}

// wrapAcquired deposits the acquired underlying into the component wrapper
// and records the measured wrapped receipt.
func (e *Engine) wrapAcquired(run *issueRun, plan acquisitionPlan, component common.Address, underlyingQuantity *big.Int) error {
	wrapped, err := e.wrap.Wrap(run.t, plan.wrapName, plan.underlying, component, underlyingQuantity, plan.usesNative)
	if err != nil {
		return err
	}
	run.received[component] = wrapped
	e.metrics.RecordLeg(run.t.Address().Hex(), "wrap")
	return nil
}

// realizedQuantity is the largest basket quantity every component acquisition
// collateralizes: the floor of received/unit, minimized across components.
func (e *Engine) realizedQuantity(run *issueRun, components []common.Address) (*big.Int, error) {
	var realized *big.Int
	for _, component := range components {
		unit, err := basket.AggregateRealUnit(run.t, component)
		if err != nil {
			return nil, err
		}
		received, ok := run.received[component]
		if !ok || received.Sign() == 0 {
			return nil, errZeroTargetQuantity
		}
		ratio, err := fixedpoint.PreciseDiv(received, unit)
		if err != nil {
			return nil, err
		}
		if realized == nil || ratio.Cmp(realized) < 0 {
			realized = ratio
		}
	}
	if realized == nil || realized.Sign() <= 0 {
		return nil, errZeroTargetQuantity
	}
	return realized, nil
}

func (e *Engine) finishIssue(run *issueRun) (*big.Int, error) {
	realized, err := e.realizedQuantity(run, run.t.GetComponents())
	if err != nil {
		return nil, err
	}
	return e.finishIssueRealized(run, realized)
}

// finishIssueRealized sweeps dust, runs the manager hook, mints, verifies
// collateralization and returns the unspent input.
func (e *Engine) finishIssueRealized(run *issueRun, realized *big.Int) (*big.Int, error) {
	if run.returnDust {
		if err := e.sweepDust(run, realized); err != nil {
			return nil, err
		}
	}
	if hook := e.hookFor(run.t); hook != nil {
		if err := hook.PreIssue(run.t, realized, run.caller, run.recipient); err != nil {
			return nil, err
		}
	}
	if err := run.t.Mint(run.recipient, realized); err != nil {
		return nil, err
	}
	if err := verifyCollateral(run.t); err != nil {
		return nil, err
	}

	refund, err := e.refundable(run, realized)
	if err != nil {
		return nil, err
	}
	if refund.Sign() > 0 {
		if err := run.t.InvokeTransfer(run.inputToken, run.caller, refund); err != nil {
			return nil, err
		}
	}

	inputSpent := new(big.Int).Sub(run.inputQuantity, refund)
	slog.Info("basket issued",
		"basket", run.t.Address().Hex(),
		"recipient", run.recipient.Hex(),
		"quantity", realized.String(),
		"inputSpent", inputSpent.String(),
		"inputReturned", refund.String(),
	)
	e.emitter.Emit(events.IssuanceCompleted{
		Basket:         run.t.Address(),
		Caller:         run.caller,
		Recipient:      run.recipient,
		InputToken:     run.inputToken,
		InputSpent:     inputSpent,
		BasketQuantity: new(big.Int).Set(realized),
		InputReturned:  refund,
	})
	return realized, nil
}

// refundable computes the input balance not consumed by acquisitions or
// earmarked as the input component's own backing for the minted quantity.
func (e *Engine) refundable(run *issueRun, realized *big.Int) (*big.Int, error) {
	refund := new(big.Int).Sub(run.t.TokenBalance(run.inputToken), run.preInputBalance)
	for _, component := range run.t.GetComponents() {
		if component != run.inputToken {
			continue
		}
		unit, err := basket.AggregateRealUnit(run.t, component)
		if err != nil {
			return nil, err
		}
		reserved, err := fixedpoint.PreciseMulCeil(realized, unit)
		if err != nil {
			return nil, err
		}
		refund.Sub(refund, reserved)
	}
	if refund.Sign() < 0 {
		refund.SetInt64(0)
	}
	return refund, nil
}

// sweepDust converts component surplus back into the input asset when it
// strictly exceeds 0.01% of the minted quantity's required backing.
func (e *Engine) sweepDust(run *issueRun, realized *big.Int) error {
	for _, component := range run.t.GetComponents() {
		if component == run.inputToken {
			continue // surplus input returns with the refund
		}
		received, ok := run.received[component]
		if !ok {
			continue
		}
		unit, err := basket.AggregateRealUnit(run.t, component)
		if err != nil {
			return err
		}
		required, err := fixedpoint.PreciseMulCeil(realized, unit)
		if err != nil {
			return err
		}
		surplus := new(big.Int).Sub(received, required)
		if surplus.Sign() <= 0 {
			continue
		}
		threshold, err := fixedpoint.PreciseMul(required, dustThreshold)
		if err != nil {
			return err
		}
		if surplus.Cmp(threshold) <= 0 {
			continue
		}
		plan := run.plans[component]
		sellAsset := component
		sellQuantity := surplus
		if plan.wrapped {
			released, _, err := e.wrap.Unwrap(run.t, plan.wrapName, plan.underlying, component, surplus, plan.usesNative)
			if err != nil {
				return err
			}
			e.metrics.RecordLeg(run.t.Address().Hex(), "unwrap")
			if plan.tradeAsset == run.inputToken {
				continue // released underlying is already the input asset
			}
			sellAsset = plan.tradeAsset
			sellQuantity = released
		}
		if plan.exchangeName == "" {
			return fmt.Errorf("%w: %s", errNoExchangeConfigured, component.Hex())
		}
		if _, _, err := e.trade.Trade(run.t, executor.TradeOrder{
			SendToken:    sellAsset,
			ReceiveToken: run.inputToken,
			Quantity:     sellQuantity,
			SendFixed:    true,
			ExchangeName: plan.exchangeName,
		}); err != nil {
			return err
		}
		e.metrics.RecordLeg(run.t.Address().Hex(), "trade")
	}
	return nil
}
