// Package issuance implements the basket-fund module engine: converting an
// arbitrary input asset into a correctly-weighted set of component holdings
// to mint basket supply, and unwinding holdings back into a single output
// asset on redemption. Every entry point is transactional: it either
// completes in full or reverts the environment. Each holds an exclusive
// non-reentrant guard for its duration because untrusted venue code runs
// mid-flow.
package issuance

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"basketfund/adapters"
	"basketfund/basket"
	"basketfund/events"
	"basketfund/executor"
	"basketfund/fixedpoint"
	"basketfund/ledger"
	"basketfund/observability"
	"basketfund/registry"
)

var (
	errNilController        = errors.New("issuance engine: controller not configured")
	errNilBasket            = errors.New("issuance engine: basket not configured")
	errOnlyManager          = errors.New("issuance engine: caller is not the basket manager")
	errOnlyOwner            = errors.New("issuance engine: caller is not the module owner")
	errBasketNotEnabled     = errors.New("issuance engine: basket not enabled on controller")
	errModuleNotInitialized = errors.New("issuance engine: module not initialized for basket")
	errReentrantCall        = errors.New("issuance engine: reentrant call")
	errInvalidQuantity      = errors.New("issuance engine: quantity must be positive")
	errInputTooSmall        = errors.New("issuance engine: input quantity too small to split")
	errArrayMismatch        = errors.New("issuance engine: array lengths must match")
	errMustBeValidAdapter   = errors.New("issuance engine: must be valid adapter")
	errNoExchangeConfigured = errors.New("issuance engine: no exchange configured for component")
	errZeroTargetQuantity   = errors.New("issuance engine: target basket quantity is zero")
	errMinimumReceiveNotMet = errors.New("issuance engine: minimum basket quantity not met")
	errMinimumOutputNotMet  = errors.New("issuance engine: minimum output quantity not met")
	errExceedsInputFunds    = errors.New("issuance engine: component spend exceeds input funds")
	errUnderCollateralized  = errors.New("issuance engine: component balance below required backing")
	errSlippageRange        = errors.New("issuance engine: slippage tolerance out of range")
	errWrapUnderlyingZero   = errors.New("issuance engine: wrap underlying token required")
	errWrapNameEmpty        = errors.New("issuance engine: wrap adapter name required")
)

const bpsDenominator = 10_000

// dustThreshold is 0.01% at 1e18 scale: a component surplus is swept back to
// the input asset only when it strictly exceeds this fraction of the
// component's required backing.
var dustThreshold = big.NewInt(100_000_000_000_000)

// Valuer prices one basket unit in a quote asset.
type Valuer interface {
	CalculateBasketValuation(t basket.Token, quote common.Address) (*big.Int, error)
}

// ManagerIssuanceHook runs before mint and burn decisions are finalized.
// Hook failures propagate and abort the operation.
type ManagerIssuanceHook interface {
	PreIssue(t basket.Token, quantity *big.Int, caller, recipient common.Address) error
	PreRedeem(t basket.Token, quantity *big.Int, caller, recipient common.Address) error
}

// ExternalPositionHook lets the module owning an external position settle it
// into basket custody ahead of a redemption unwind.
type ExternalPositionHook interface {
	ComponentRedeemHook(t basket.Token, quantity *big.Int, component common.Address) error
}

// WrapParams configures the wrapping of one component. A component with no
// entry is treated as a direct (unwrapped) asset.
type WrapParams struct {
	AdapterName string
	// Underlying is the token deposited into the wrapper; the native
	// sentinel marks raw-native underlyings.
	Underlying common.Address
}

// Engine is the issuance/redemption module. One engine instance serves many
// basket tokens; per-basket execution parameters are owner-configured.
type Engine struct {
	module        common.Address
	owner         common.Address
	controller    *registry.Controller
	integrations  *registry.IntegrationRegistry
	valuer        Valuer
	wrappedNative common.Address
	env           *ledger.Env

	trade   *executor.TradeExecutor
	wrap    *executor.WrapExecutor
	emitter events.Emitter
	metrics *observability.EngineMetrics
	tracer  trace.Tracer

	entryMu sync.Mutex
	entered bool

	cfgMu      sync.RWMutex
	exchanges  map[common.Address]map[common.Address]string
	wrapParams map[common.Address]map[common.Address]WrapParams
	hooks      map[common.Address]ManagerIssuanceHook
}

// NewEngine constructs the module engine. module is the engine's identity
// for registry resolution and basket module state; owner gates the
// configuration surface.
func NewEngine(module, owner common.Address, controller *registry.Controller, integrations *registry.IntegrationRegistry, v Valuer, wrappedNative common.Address, env *ledger.Env) (*Engine, error) {
	if controller == nil {
		return nil, errNilController
	}
	e := &Engine{
		module:        module,
		owner:         owner,
		controller:    controller,
		integrations:  integrations,
		valuer:        v,
		wrappedNative: wrappedNative,
		env:           env,
		trade:         executor.NewTradeExecutor(integrations, module),
		wrap:          executor.NewWrapExecutor(integrations, module, wrappedNative),
		emitter:       events.NoopEmitter{},
		metrics:       observability.Engine(),
		tracer:        otel.Tracer("basketfund/issuance"),
		exchanges:     make(map[common.Address]map[common.Address]string),
		wrapParams:    make(map[common.Address]map[common.Address]WrapParams),
		hooks:         make(map[common.Address]ManagerIssuanceHook),
	}
	return e, nil
}

// Module returns the engine's identity address.
func (e *Engine) Module() common.Address { return e.module }

// SetEmitter configures the event emitter used by the engine and its
// executors.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
	e.trade.SetEmitter(emitter)
	e.wrap.SetEmitter(emitter)
}

// Initialize moves the module from PENDING to INITIALIZED for the basket and
// pins the optional manager issuance hook. Only the basket's manager may
// initialize, and only once.
func (e *Engine) Initialize(caller common.Address, t basket.Token, hook ManagerIssuanceHook) error {
	if t == nil {
		return errNilBasket
	}
	if caller != t.Manager() {
		return errOnlyManager
	}
	if !e.controller.IsBasket(t.Address()) {
		return errBasketNotEnabled
	}
	if err := t.InitializeModule(e.module); err != nil {
		return err
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if hook != nil {
		e.hooks[t.Address()] = hook
	}
	return nil
}

// RemoveModule is intentionally a no-op: baskets served by this engine keep
// their issuance and redemption paths for the engine's lifetime.
func (e *Engine) RemoveModule(basket.Token) error { return nil }

// SetExchanges configures the exchange integration used to acquire or unwind
// each component. Arrays are paired; every name must resolve through the
// integration registry.
func (e *Engine) SetExchanges(caller common.Address, t basket.Token, components []common.Address, exchangeNames []string) error {
	if caller != e.owner {
		return errOnlyOwner
	}
	if t == nil {
		return errNilBasket
	}
	if len(components) == 0 || len(components) != len(exchangeNames) {
		return errArrayMismatch
	}
	for _, name := range exchangeNames {
		if !e.integrations.IsValidIntegration(e.module, name) {
			return errMustBeValidAdapter
		}
	}
	e.cfgMu.Lock()
	named, ok := e.exchanges[t.Address()]
	if !ok {
		named = make(map[common.Address]string)
		e.exchanges[t.Address()] = named
	}
	for i, component := range components {
		named[component] = exchangeNames[i]
	}
	e.cfgMu.Unlock()
	for i, component := range components {
		e.emitter.Emit(events.ExchangeUpdated{
			Basket:       t.Address(),
			Component:    component,
			ExchangeName: exchangeNames[i],
		})
	}
	return nil
}

// SetWrapAdapters configures the wrap adapter and underlying token for each
// wrapped component. Stale entries are overwritten; there is no deletion
// path.
func (e *Engine) SetWrapAdapters(caller common.Address, t basket.Token, components []common.Address, wrapAdapterNames []string, underlyingTokens []common.Address) error {
	if caller != e.owner {
		return errOnlyOwner
	}
	if t == nil {
		return errNilBasket
	}
	if len(components) == 0 || len(components) != len(wrapAdapterNames) || len(components) != len(underlyingTokens) {
		return errArrayMismatch
	}
	for i, name := range wrapAdapterNames {
		if name == "" {
			return errWrapNameEmpty
		}
		if underlyingTokens[i] == (common.Address{}) {
			return errWrapUnderlyingZero
		}
		if !e.integrations.IsValidIntegration(e.module, name) {
			return errMustBeValidAdapter
		}
	}
	e.cfgMu.Lock()
	params, ok := e.wrapParams[t.Address()]
	if !ok {
		params = make(map[common.Address]WrapParams)
		e.wrapParams[t.Address()] = params
	}
	for i, component := range components {
		params[component] = WrapParams{AdapterName: wrapAdapterNames[i], Underlying: underlyingTokens[i]}
	}
	e.cfgMu.Unlock()
	for i, component := range components {
		e.emitter.Emit(events.WrapAdapterUpdated{
			Basket:      t.Address(),
			Component:   component,
			AdapterName: wrapAdapterNames[i],
			Underlying:  underlyingTokens[i],
		})
	}
	return nil
}

func (e *Engine) hookFor(t basket.Token) ManagerIssuanceHook {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.hooks[t.Address()]
}

func (e *Engine) exchangeFor(t basket.Token, component common.Address) (string, error) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	named, ok := e.exchanges[t.Address()]
	if !ok {
		return "", errNoExchangeConfigured
	}
	name, ok := named[component]
	if !ok || name == "" {
		return "", errNoExchangeConfigured
	}
	return name, nil
}

func (e *Engine) wrapParamsFor(t basket.Token, component common.Address) (WrapParams, bool) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	params, ok := e.wrapParams[t.Address()]
	if !ok {
		return WrapParams{}, false
	}
	wp, ok := params[component]
	return wp, ok
}

func (e *Engine) requireInitialized(t basket.Token) error {
	if t == nil {
		return errNilBasket
	}
	if !e.controller.IsBasket(t.Address()) {
		return errBasketNotEnabled
	}
	if t.ModuleState(e.module) != basket.ModuleInitialized {
		return errModuleNotInitialized
	}
	return nil
}

// enter takes the exclusive non-reentrant guard. A venue calling back into
// any entry point mid-flow observes entered and aborts, which in turn aborts
// the outer operation.
func (e *Engine) enter() error {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	if e.entered {
		return errReentrantCall
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() {
	e.entryMu.Lock()
	e.entered = false
	e.entryMu.Unlock()
}

// guardedRun wraps an entry point with the re-entrancy guard, an environment
// snapshot for all-or-nothing semantics, tracing and metrics.
func (e *Engine) guardedRun(ctx context.Context, t basket.Token, operation string, fn func(context.Context) error) error {
	start := time.Now()
	if err := e.enter(); err != nil {
		e.metrics.Observe(t.Address().Hex(), operation, err, time.Since(start))
		return err
	}
	defer e.exit()

	ctx, span := e.tracer.Start(ctx, "issuance."+operation, trace.WithAttributes(
		attribute.String("basket", t.Address().Hex()),
	))
	defer span.End()

	snap := e.env.Snapshot()
	err := fn(ctx)
	if err != nil {
		e.env.Revert(snap)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	e.metrics.Observe(t.Address().Hex(), operation, err, time.Since(start))
	return err
}

// verifyCollateral checks that every component balance still covers the
// ceiling-computed backing of the full supply.
func verifyCollateral(t basket.Token) error {
	supply := t.TotalSupply()
	if supply.Sign() == 0 {
		return nil
	}
	for _, component := range t.GetComponents() {
		unit, err := basket.AggregateRealUnit(t, component)
		if err != nil {
			return err
		}
		required, err := fixedpoint.PreciseMulCeil(supply, unit)
		if err != nil {
			return err
		}
		if t.TokenBalance(component).Cmp(required) < 0 {
			return errUnderCollateralized
		}
	}
	return nil
}

// acquisitionPlan resolves how one component is obtained or unwound.
type acquisitionPlan struct {
	component    common.Address
	exchangeName string
	wrapped      bool
	wrapName     string
	underlying   common.Address // as configured; native sentinel preserved
	usesNative   bool
	tradeAsset   common.Address // ERC20 leg of the trade (component or underlying)
	wrapAdapter  adapters.WrapAdapter
}

// planFor builds the acquisition plan for a component. The exchange name is
// resolved lazily by callers that actually trade, so direct transfers work
// without exchange configuration.
func (e *Engine) planFor(t basket.Token, component common.Address) (acquisitionPlan, error) {
	plan := acquisitionPlan{component: component, tradeAsset: component}
	if wp, ok := e.wrapParamsFor(t, component); ok {
		plan.wrapped = true
		plan.wrapName = wp.AdapterName
		plan.underlying = wp.Underlying
		plan.usesNative = wp.Underlying == adapters.NativeSentinel
		if plan.usesNative {
			plan.tradeAsset = e.wrappedNative
		} else {
			plan.tradeAsset = wp.Underlying
		}
		entry, err := e.integrations.GetAdapter(e.module, wp.AdapterName)
		if err != nil {
			return plan, err
		}
		adapter, err := adapters.AsWrapAdapter(entry)
		if err != nil {
			return plan, err
		}
		plan.wrapAdapter = adapter
	}
	if name, err := e.exchangeFor(t, component); err == nil {
		plan.exchangeName = name
	}
	return plan, nil
}
