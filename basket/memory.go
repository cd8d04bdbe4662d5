package basket

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/ledger"
	"basketfund/venues/weth"
)

var (
	ErrNotCallable        = errors.New("basket: token has no callable surface")
	ErrInvalidMintBurnQty = errors.New("basket: mint/burn quantity must be positive")
)

// Component declares a basket constituent and its default position real unit
// at construction time.
type Component struct {
	Address  common.Address
	RealUnit *big.Int
}

// Memory is the in-memory reference basket token. Holder balances of the
// basket token itself live on the ledger under the basket's own address, so
// environment snapshots cover them; supply, module states and positions are
// covered through the Snapshotter hook.
type Memory struct {
	mu      sync.RWMutex
	env     *ledger.Env
	address common.Address
	manager common.Address

	components      []common.Address
	defaultUnits    map[common.Address]*big.Int
	externalModules map[common.Address][]common.Address
	externalUnits   map[common.Address]map[common.Address]*big.Int

	supply  *big.Int
	modules map[common.Address]ModuleState
}

// NewMemory constructs and registers a reference basket token.
func NewMemory(env *ledger.Env, address, manager common.Address, components []Component) (*Memory, error) {
	m := &Memory{
		env:             env,
		address:         address,
		manager:         manager,
		defaultUnits:    make(map[common.Address]*big.Int, len(components)),
		externalModules: make(map[common.Address][]common.Address),
		externalUnits:   make(map[common.Address]map[common.Address]*big.Int),
		supply:          new(big.Int),
		modules:         make(map[common.Address]ModuleState),
	}
	for _, c := range components {
		if _, ok := m.defaultUnits[c.Address]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateComponent, c.Address.Hex())
		}
		unit := new(big.Int)
		if c.RealUnit != nil {
			unit.Set(c.RealUnit)
		}
		m.components = append(m.components, c.Address)
		m.defaultUnits[c.Address] = unit
	}
	env.Register(address, m)
	return m, nil
}

func (m *Memory) Address() common.Address { return m.address }
func (m *Memory) Manager() common.Address { return m.manager }

func (m *Memory) TotalSupply() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.supply)
}

func (m *Memory) BalanceOf(holder common.Address) *big.Int {
	return m.env.Tokens().BalanceOf(m.address, holder)
}

// GetComponents returns the registered component order, which is stable for
// the token's lifetime.
func (m *Memory) GetComponents() []common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]common.Address(nil), m.components...)
}

func (m *Memory) GetDefaultPositionRealUnit(component common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	unit, ok := m.defaultUnits[component]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(unit)
}

func (m *Memory) GetExternalPositionModules(component common.Address) []common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]common.Address(nil), m.externalModules[component]...)
}

func (m *Memory) GetExternalPositionRealUnit(component, module common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	units, ok := m.externalUnits[component]
	if !ok {
		return big.NewInt(0)
	}
	unit, ok := units[module]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(unit)
}

func (m *Memory) HasExternalPosition(component common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.externalModules[component]) > 0
}

// SetExternalPosition records an external module's real unit for a
// component, appending the module on first use.
func (m *Memory) SetExternalPosition(component, module common.Address, unit *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defaultUnits[component]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, component.Hex())
	}
	units, ok := m.externalUnits[component]
	if !ok {
		units = make(map[common.Address]*big.Int)
		m.externalUnits[component] = units
	}
	if _, ok := units[module]; !ok {
		m.externalModules[component] = append(m.externalModules[component], module)
	}
	cloned := new(big.Int)
	if unit != nil {
		cloned.Set(unit)
	}
	units[module] = cloned
	return nil
}

func (m *Memory) Mint(to common.Address, quantity *big.Int) error {
	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidMintBurnQty
	}
	if err := m.env.Tokens().Mint(m.address, to, quantity); err != nil {
		return err
	}
	m.mu.Lock()
	m.supply.Add(m.supply, quantity)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Burn(from common.Address, quantity *big.Int) error {
	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidMintBurnQty
	}
	if err := m.env.Tokens().Burn(m.address, from, quantity); err != nil {
		return err
	}
	m.mu.Lock()
	m.supply.Sub(m.supply, quantity)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invoke(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	return m.env.Call(m.address, target, value, data)
}

func (m *Memory) InvokeApprove(token, spender common.Address, quantity *big.Int) error {
	return m.env.Tokens().Approve(token, m.address, spender, quantity)
}

func (m *Memory) InvokeTransfer(token, to common.Address, quantity *big.Int) error {
	return m.env.Tokens().Transfer(token, m.address, to, quantity)
}

func (m *Memory) InvokeWrapNative(wrapper common.Address, quantity *big.Int) error {
	_, err := m.env.Call(m.address, wrapper, quantity, weth.PackDeposit())
	return err
}

func (m *Memory) InvokeUnwrapNative(wrapper common.Address, quantity *big.Int) error {
	data, err := weth.PackWithdraw(quantity)
	if err != nil {
		return err
	}
	_, err = m.env.Call(m.address, wrapper, nil, data)
	return err
}

func (m *Memory) TokenBalance(token common.Address) *big.Int {
	return m.env.Tokens().BalanceOf(token, m.address)
}

func (m *Memory) NativeBalance() *big.Int {
	return m.env.Tokens().NativeBalance(m.address)
}

func (m *Memory) ModuleState(module common.Address) ModuleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modules[module]
}

// AddModule moves a module into the pending state. The manager performs this
// before the module's own initialize entry point may run.
func (m *Memory) AddModule(module common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modules[module] != ModuleNone {
		return ErrModuleExists
	}
	m.modules[module] = ModulePending
	return nil
}

func (m *Memory) InitializeModule(module common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modules[module] != ModulePending {
		return ErrModuleNotPending
	}
	m.modules[module] = ModuleInitialized
	return nil
}

// Call satisfies ledger.Contract; the reference token exposes no callable
// surface of its own.
func (m *Memory) Call(_ *ledger.Env, _ common.Address, _ *big.Int, _ []byte) ([]byte, error) {
	return nil, ErrNotCallable
}

type memorySnapshot struct {
	supply  *big.Int
	modules map[common.Address]ModuleState
}

// Snapshot satisfies ledger.Snapshotter.
func (m *Memory) Snapshot() any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	modules := make(map[common.Address]ModuleState, len(m.modules))
	for addr, state := range m.modules {
		modules[addr] = state
	}
	return memorySnapshot{supply: new(big.Int).Set(m.supply), modules: modules}
}

// Restore satisfies ledger.Snapshotter.
func (m *Memory) Restore(state any) {
	snap, ok := state.(memorySnapshot)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supply = new(big.Int).Set(snap.supply)
	m.modules = snap.modules
}
