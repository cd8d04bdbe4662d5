package issuance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/basket"
	"basketfund/events"
	"basketfund/ledger"
	"basketfund/observability"
	"basketfund/registry"
)

var (
	errExternalNotSupported = errors.New("basic issuance: external positions not supported")
	errModuleNotRemovable   = errors.New("basic issuance: module cannot be removed")
)

// BasicEngine is the adapter-free issuance variant: callers supply or receive
// component tokens directly at the basket's current position units. It never
// trades, wraps or touches native balance, and it refuses baskets carrying
// external positions.
type BasicEngine struct {
	module     common.Address
	controller *registry.Controller
	env        *ledger.Env
	emitter    events.Emitter
	metrics    *observability.EngineMetrics

	entryMu sync.Mutex
	entered bool

	cfgMu sync.RWMutex
	hooks map[common.Address]ManagerIssuanceHook
}

// NewBasicEngine constructs the basic engine.
func NewBasicEngine(module common.Address, controller *registry.Controller, env *ledger.Env) (*BasicEngine, error) {
	if controller == nil {
		return nil, errNilController
	}
	return &BasicEngine{
		module:     module,
		controller: controller,
		env:        env,
		emitter:    events.NoopEmitter{},
		metrics:    observability.Engine(),
		hooks:      make(map[common.Address]ManagerIssuanceHook),
	}, nil
}

// Module returns the engine's identity address.
func (e *BasicEngine) Module() common.Address { return e.module }

// SetEmitter configures the event emitter.
func (e *BasicEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// Initialize moves the module from PENDING to INITIALIZED for the basket and
// pins the optional manager issuance hook.
func (e *BasicEngine) Initialize(caller common.Address, t basket.Token, hook ManagerIssuanceHook) error {
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

// RemoveModule always fails: baskets that adopted basic issuance keep it.
func (e *BasicEngine) RemoveModule(basket.Token) error { return errModuleNotRemovable }

// Issue pulls each component's ceiling-computed requirement from the caller
// and mints the exact requested quantity. The caller must have approved the
// engine module on every component.
func (e *BasicEngine) Issue(ctx context.Context, t basket.Token, caller, recipient common.Address, quantity *big.Int) error {
	if quantity == nil || quantity.Sign() <= 0 {
		return errInvalidQuantity
	}
	return e.run(t, "basic_issue", func() error {
		components, notionals, err := e.prepare(t, quantity, true)
		if err != nil {
			return err
		}
		if hook := e.hookFor(t); hook != nil {
			if err := hook.PreIssue(t, quantity, caller, recipient); err != nil {
				return err
			}
		}
		for i, component := range components {
			if err := e.env.Tokens().TransferFrom(component, e.module, caller, t.Address(), notionals[i]); err != nil {
				return err
			}
		}
		if err := t.Mint(recipient, quantity); err != nil {
			return err
		}
		if err := verifyCollateral(t); err != nil {
			return err
		}
		e.emitter.Emit(events.IssuanceCompleted{
			Basket:         t.Address(),
			Caller:         caller,
			Recipient:      recipient,
			BasketQuantity: new(big.Int).Set(quantity),
			InputSpent:     new(big.Int).Set(quantity),
			InputReturned:  new(big.Int),
		})
		return nil
	})
}

// Redeem burns the caller's basket quantity and transfers each component's
// floor-computed entitlement to the recipient.
func (e *BasicEngine) Redeem(ctx context.Context, t basket.Token, caller, recipient common.Address, quantity *big.Int) error {
	if quantity == nil || quantity.Sign() <= 0 {
		return errInvalidQuantity
	}
	return e.run(t, "basic_redeem", func() error {
		components, notionals, err := e.prepare(t, quantity, false)
		if err != nil {
			return err
		}
		if hook := e.hookFor(t); hook != nil {
			if err := hook.PreRedeem(t, quantity, caller, recipient); err != nil {
				return err
			}
		}
		if err := t.Burn(caller, quantity); err != nil {
			return err
		}
		for i, component := range components {
			if err := t.InvokeTransfer(component, recipient, notionals[i]); err != nil {
				return err
			}
		}
		if err := verifyCollateral(t); err != nil {
			return err
		}
		e.emitter.Emit(events.RedemptionCompleted{
			Basket:         t.Address(),
			Caller:         caller,
			Recipient:      recipient,
			BasketQuantity: new(big.Int).Set(quantity),
			OutputReceived: new(big.Int),
		})
		return nil
	})
}

func (e *BasicEngine) prepare(t basket.Token, quantity *big.Int, isIssue bool) ([]common.Address, []*big.Int, error) {
	for _, component := range t.GetComponents() {
		if t.HasExternalPosition(component) {
			return nil, nil, fmt.Errorf("%w: %s", errExternalNotSupported, component.Hex())
		}
	}
	return basket.RequiredComponentUnits(t, quantity, isIssue)
}

func (e *BasicEngine) hookFor(t basket.Token) ManagerIssuanceHook {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.hooks[t.Address()]
}

func (e *BasicEngine) requireInitialized(t basket.Token) error {
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

func (e *BasicEngine) run(t basket.Token, operation string, fn func() error) error {
	start := time.Now()
	if err := e.requireInitialized(t); err != nil {
		return err
	}
	e.entryMu.Lock()
	if e.entered {
		e.entryMu.Unlock()
		return errReentrantCall
	}
	e.entered = true
	e.entryMu.Unlock()
	defer func() {
		e.entryMu.Lock()
		e.entered = false
		e.entryMu.Unlock()
	}()

	snap := e.env.Snapshot()
	err := fn()
	if err != nil {
		e.env.Revert(snap)
	}
	e.metrics.Observe(t.Address().Hex(), operation, err, time.Since(start))
	return err
}
