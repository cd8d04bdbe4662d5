// Package registry provides the shared configuration context consumed by
// the basket engines: a typed integration registry resolving
// (module, integration name) pairs to adapter instances, and the controller
// tracking enabled modules, baskets and fee policy. Both are read-mostly and
// mutate only through owner-gated setters.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner           = errors.New("registry: caller is not the owner")
	ErrInvalidAdapter     = errors.New("registry: must be valid adapter")
	ErrIntegrationExists  = errors.New("registry: integration already registered")
	ErrEmptyName          = errors.New("registry: integration name required")
	ErrModuleNotEnabled   = errors.New("registry: module not enabled")
	ErrBasketNotEnabled   = errors.New("registry: basket not enabled")
	ErrFeeOutOfRange      = errors.New("registry: fee exceeds 100%")
	ErrNoFeeRecipient     = errors.New("registry: fee recipient not configured")
	ErrUnknownFeeCategory = errors.New("registry: fee category not configured")
)

const maxFeeBps = 10_000

// IntegrationRegistry maps (module identity, integration name) to adapter
// instances. Adapters are stored untyped; call sites assert the capability
// they need and fail hard on a mismatch.
type IntegrationRegistry struct {
	mu      sync.RWMutex
	owner   common.Address
	entries map[common.Address]map[string]any
}

// NewIntegrationRegistry constructs a registry owned by the supplied address.
func NewIntegrationRegistry(owner common.Address) *IntegrationRegistry {
	return &IntegrationRegistry{
		owner:   owner,
		entries: make(map[common.Address]map[string]any),
	}
}

// AddIntegration registers an adapter for the module under the given name.
func (r *IntegrationRegistry) AddIntegration(caller, module common.Address, name string, adapter any) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if adapter == nil {
		return ErrInvalidAdapter
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	named, ok := r.entries[module]
	if !ok {
		named = make(map[string]any)
		r.entries[module] = named
	}
	if _, ok := named[name]; ok {
		return fmt.Errorf("%w: %s", ErrIntegrationExists, name)
	}
	named[name] = adapter
	return nil
}

// GetAdapter resolves the adapter registered for the module under the name.
// A miss is a hard failure; there is no fallback resolution.
func (r *IntegrationRegistry) GetAdapter(module common.Address, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	named, ok := r.entries[module]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAdapter, name)
	}
	adapter, ok := named[strings.TrimSpace(name)]
	if !ok || adapter == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAdapter, name)
	}
	return adapter, nil
}

// IsValidIntegration reports whether the module has an adapter registered
// under the name.
func (r *IntegrationRegistry) IsValidIntegration(module common.Address, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	named, ok := r.entries[module]
	if !ok {
		return false
	}
	adapter, ok := named[strings.TrimSpace(name)]
	return ok && adapter != nil
}

// Controller is the process-wide registry of enabled modules and baskets
// plus module fee policy.
type Controller struct {
	mu           sync.RWMutex
	owner        common.Address
	modules      map[common.Address]any
	baskets      map[common.Address]struct{}
	fees         map[common.Address]map[uint8]uint64 // module -> category -> bps
	feeRecipient common.Address
}

// NewController constructs a controller owned by the supplied address.
func NewController(owner common.Address) *Controller {
	return &Controller{
		owner:   owner,
		modules: make(map[common.Address]any),
		baskets: make(map[common.Address]struct{}),
		fees:    make(map[common.Address]map[uint8]uint64),
	}
}

// AddModule enables a module, retaining its handle for collaborator lookups
// such as external-position hooks.
func (c *Controller) AddModule(caller, module common.Address, handle any) error {
	if caller != c.owner {
		return ErrNotOwner
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[module] = handle
	return nil
}

// AddBasket enables a basket token.
func (c *Controller) AddBasket(caller, basket common.Address) error {
	if caller != c.owner {
		return ErrNotOwner
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baskets[basket] = struct{}{}
	return nil
}

// IsModule reports whether the address is an enabled module.
func (c *Controller) IsModule(addr common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.modules[addr]
	return ok
}

// IsBasket reports whether the address is an enabled basket token.
func (c *Controller) IsBasket(addr common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.baskets[addr]
	return ok
}

// Module returns the handle registered for an enabled module address.
func (c *Controller) Module(addr common.Address) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	handle, ok := c.modules[addr]
	return handle, ok
}

// SetModuleFee configures a module fee in basis points for a fee category.
func (c *Controller) SetModuleFee(caller, module common.Address, category uint8, bps uint64) error {
	if caller != c.owner {
		return ErrNotOwner
	}
	if bps > maxFeeBps {
		return ErrFeeOutOfRange
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	categories, ok := c.fees[module]
	if !ok {
		categories = make(map[uint8]uint64)
		c.fees[module] = categories
	}
	categories[category] = bps
	return nil
}

// GetModuleFee returns the configured fee in basis points.
func (c *Controller) GetModuleFee(module common.Address, category uint8) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	categories, ok := c.fees[module]
	if !ok {
		return 0, ErrUnknownFeeCategory
	}
	bps, ok := categories[category]
	if !ok {
		return 0, ErrUnknownFeeCategory
	}
	return bps, nil
}

// SetFeeRecipient configures the protocol fee recipient.
func (c *Controller) SetFeeRecipient(caller, recipient common.Address) error {
	if caller != c.owner {
		return ErrNotOwner
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeRecipient = recipient
	return nil
}

// FeeRecipient returns the protocol fee recipient.
func (c *Controller) FeeRecipient() (common.Address, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.feeRecipient == (common.Address{}) {
		return common.Address{}, ErrNoFeeRecipient
	}
	return c.feeRecipient, nil
}
