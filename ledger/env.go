package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Contract handles calldata dispatched to its registered address. The caller
// address and any native value attached to the call are supplied alongside
// the raw data; handlers decode the data themselves.
type Contract interface {
	Call(env *Env, caller common.Address, value *big.Int, data []byte) ([]byte, error)
}

// Snapshotter captures and restores contract-local mutable state so that an
// Env snapshot covers every registered participant, not just the ledger.
type Snapshotter interface {
	Snapshot() any
	Restore(state any)
}

// Env binds the token ledger to a set of contract handlers. It stands in for
// the execution environment a deployed module would run inside: every
// external call a basket issues is routed through Env.Call and settles on
// the shared ledger.
type Env struct {
	mu        sync.RWMutex
	tokens    *Ledger
	contracts map[common.Address]Contract
}

// NewEnv constructs an environment over the supplied ledger.
func NewEnv(tokens *Ledger) *Env {
	if tokens == nil {
		tokens = NewLedger()
	}
	return &Env{tokens: tokens, contracts: make(map[common.Address]Contract)}
}

// Tokens exposes the backing ledger.
func (e *Env) Tokens() *Ledger { return e.tokens }

// Register binds a contract handler to an address. Re-registration replaces
// the previous handler.
func (e *Env) Register(addr common.Address, contract Contract) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contracts[addr] = contract
}

// Call dispatches calldata to the contract registered at target, moving any
// attached native value from the caller first.
func (e *Env) Call(caller, target common.Address, value *big.Int, data []byte) ([]byte, error) {
	e.mu.RLock()
	contract, ok := e.contracts[target]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, target.Hex())
	}
	if value != nil && value.Sign() > 0 {
		if err := e.tokens.moveNative(caller, target, value); err != nil {
			return nil, err
		}
	}
	return contract.Call(e, caller, value, data)
}

// Snapshot captures the ledger plus the state of every registered contract
// that opts in via Snapshotter. Engines take a snapshot on entry and revert
// on failure so an aborted operation commits nothing.
func (e *Env) Snapshot() *EnvSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := &EnvSnapshot{
		ledger:    e.tokens.snapshot(),
		contracts: make(map[common.Address]any),
	}
	for addr, contract := range e.contracts {
		if s, ok := contract.(Snapshotter); ok {
			snap.contracts[addr] = s.Snapshot()
		}
	}
	return snap
}

// Revert restores a snapshot taken earlier on the same environment.
func (e *Env) Revert(snap *EnvSnapshot) {
	if snap == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.tokens.restore(snap.ledger)
	for addr, state := range snap.contracts {
		if s, ok := e.contracts[addr].(Snapshotter); ok {
			s.Restore(state)
		}
	}
}

// EnvSnapshot is an opaque capture of environment state.
type EnvSnapshot struct {
	ledger    ledgerSnapshot
	contracts map[common.Address]any
}
