// Package amm implements the constant-product swap venue used by the
// reference exchange adapter. A single router contract owns every pool and
// settles multi-hop paths against the shared ledger.
package amm

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"basketfund/ledger"
)

var (
	ErrUnknownSelector  = errors.New("amm: unknown function selector")
	ErrUnknownPool      = errors.New("amm: no pool for pair")
	ErrBadPath          = errors.New("amm: path needs at least two tokens")
	ErrZeroAmount       = errors.New("amm: amount must be positive")
	ErrExcessiveInput   = errors.New("amm: required input exceeds maximum")
	ErrInsufficientOut  = errors.New("amm: output below minimum")
	ErrDrainedLiquidity = errors.New("amm: output exceeds pool reserves")
)

const feeDenominator = 10_000

var (
	addressTy      = mustType("address")
	uint256Ty      = mustType("uint256")
	addressSliceTy = mustType("address[]")

	swapArgs = abi.Arguments{
		{Type: addressSliceTy}, // path
		{Type: uint256Ty},      // exact amount (in or out)
		{Type: uint256Ty},      // limit (min out or max in)
		{Type: addressTy},      // recipient
	}
	returnArgs = abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}}

	swapExactInSelector  = crypto.Keccak256([]byte("swapExactIn(address[],uint256,uint256,address)"))[:4]
	swapExactOutSelector = crypto.Keccak256([]byte("swapExactOut(address[],uint256,uint256,address)"))[:4]
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// PackSwapExactIn encodes a swapExactIn call.
func PackSwapExactIn(path []common.Address, amountIn, minOut *big.Int, to common.Address) ([]byte, error) {
	packed, err := swapArgs.Pack(path, amountIn, minOut, to)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), swapExactInSelector...), packed...), nil
}

// PackSwapExactOut encodes a swapExactOut call.
func PackSwapExactOut(path []common.Address, amountOut, maxIn *big.Int, to common.Address) ([]byte, error) {
	packed, err := swapArgs.Pack(path, amountOut, maxIn, to)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), swapExactOutSelector...), packed...), nil
}

// UnpackSwapResult decodes the (sent, received) tuple a swap call returns.
func UnpackSwapResult(data []byte) (*big.Int, *big.Int, error) {
	values, err := returnArgs.Unpack(data)
	if err != nil {
		return nil, nil, err
	}
	return values[0].(*big.Int), values[1].(*big.Int), nil
}

type pairKey struct {
	a, b common.Address
}

func keyFor(x, y common.Address) (pairKey, bool) {
	if bytes.Compare(x[:], y[:]) < 0 {
		return pairKey{a: x, b: y}, false
	}
	return pairKey{a: y, b: x}, true
}

type pool struct {
	reserveA *big.Int // reserve of the lexicographically smaller token
	reserveB *big.Int
	feeBps   uint64
}

// Router is the venue contract. Pool reserves are tracked internally and the
// matching token balances are held at the router's ledger address.
type Router struct {
	mu      sync.RWMutex
	address common.Address
	pools   map[pairKey]*pool
}

// NewRouter constructs the router and registers it on the environment.
func NewRouter(env *ledger.Env, address common.Address) *Router {
	r := &Router{address: address, pools: make(map[pairKey]*pool)}
	env.Register(address, r)
	return r
}

// Address returns the router contract address.
func (r *Router) Address() common.Address { return r.address }

// SetPool seeds (or reseeds) a pool and mints the matching reserves to the
// router's ledger balance so swaps can settle.
func (r *Router) SetPool(env *ledger.Env, tokenX, tokenY common.Address, reserveX, reserveY *big.Int, feeBps uint64) error {
	if tokenX == tokenY {
		return fmt.Errorf("amm: pool tokens must differ")
	}
	if reserveX == nil || reserveX.Sign() <= 0 || reserveY == nil || reserveY.Sign() <= 0 {
		return ErrZeroAmount
	}
	if feeBps >= feeDenominator {
		return fmt.Errorf("amm: fee bps out of range")
	}
	if err := env.Tokens().Mint(tokenX, r.address, reserveX); err != nil {
		return err
	}
	if err := env.Tokens().Mint(tokenY, r.address, reserveY); err != nil {
		return err
	}
	key, swapped := keyFor(tokenX, tokenY)
	p := &pool{feeBps: feeBps}
	if swapped {
		p.reserveA = new(big.Int).Set(reserveY)
		p.reserveB = new(big.Int).Set(reserveX)
	} else {
		p.reserveA = new(big.Int).Set(reserveX)
		p.reserveB = new(big.Int).Set(reserveY)
	}
	r.mu.Lock()
	r.pools[key] = p
	r.mu.Unlock()
	return nil
}

func (r *Router) poolFor(in, out common.Address) (*pool, bool, error) {
	key, swapped := keyFor(in, out)
	p, ok := r.pools[key]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s/%s", ErrUnknownPool, in.Hex(), out.Hex())
	}
	// swapped reports whether `in` is the lexicographically larger token,
	// i.e. reserveB is the input-side reserve.
	return p, swapped, nil
}

// amountOut computes the constant-product output for an exact input.
func amountOut(in, reserveIn, reserveOut *big.Int, feeBps uint64) (*big.Int, error) {
	if in.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	inWithFee := new(big.Int).Mul(in, big.NewInt(feeDenominator-int64(feeBps)))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(feeDenominator))
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator), nil
}

// amountIn computes the constant-product input required for an exact output.
func amountIn(out, reserveIn, reserveOut *big.Int, feeBps uint64) (*big.Int, error) {
	if out.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if out.Cmp(reserveOut) >= 0 {
		return nil, ErrDrainedLiquidity
	}
	numerator := new(big.Int).Mul(reserveIn, out)
	numerator.Mul(numerator, big.NewInt(feeDenominator))
	denominator := new(big.Int).Sub(reserveOut, out)
	denominator.Mul(denominator, big.NewInt(feeDenominator-int64(feeBps)))
	required := numerator.Quo(numerator, denominator)
	return required.Add(required, big.NewInt(1)), nil
}

// Call dispatches swap calldata.
func (r *Router) Call(env *ledger.Env, caller common.Address, _ *big.Int, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrUnknownSelector
	}
	selector, payload := data[:4], data[4:]
	values, err := swapArgs.Unpack(payload)
	if err != nil {
		return nil, fmt.Errorf("amm: decode swap: %w", err)
	}
	path := values[0].([]common.Address)
	exact := values[1].(*big.Int)
	limit := values[2].(*big.Int)
	to := values[3].(common.Address)
	if len(path) < 2 {
		return nil, ErrBadPath
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case bytes.Equal(selector, swapExactInSelector):
		return r.swapExactIn(env, caller, path, exact, limit, to)
	case bytes.Equal(selector, swapExactOutSelector):
		return r.swapExactOut(env, caller, path, exact, limit, to)
	default:
		return nil, ErrUnknownSelector
	}
}

func (p *pool) reserves(swapped bool) (reserveIn, reserveOut *big.Int) {
	if swapped {
		return p.reserveB, p.reserveA
	}
	return p.reserveA, p.reserveB
}

func (p *pool) apply(swapped bool, in, out *big.Int) {
	reserveIn, reserveOut := p.reserves(swapped)
	reserveIn.Add(reserveIn, in)
	reserveOut.Sub(reserveOut, out)
}

func (r *Router) swapExactIn(env *ledger.Env, caller common.Address, path []common.Address, exactIn, minOut *big.Int, to common.Address) ([]byte, error) {
	if err := env.Tokens().TransferFrom(path[0], r.address, caller, r.address, exactIn); err != nil {
		return nil, err
	}
	hop := new(big.Int).Set(exactIn)
	for i := 0; i+1 < len(path); i++ {
		p, swapped, err := r.poolFor(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		reserveIn, reserveOut := p.reserves(swapped)
		out, err := amountOut(hop, reserveIn, reserveOut, p.feeBps)
		if err != nil {
			return nil, err
		}
		p.apply(swapped, hop, out)
		hop = out
	}
	if minOut != nil && hop.Cmp(minOut) < 0 {
		return nil, ErrInsufficientOut
	}
	if err := env.Tokens().Transfer(path[len(path)-1], r.address, to, hop); err != nil {
		return nil, err
	}
	return returnArgs.Pack(exactIn, hop)
}

func (r *Router) swapExactOut(env *ledger.Env, caller common.Address, path []common.Address, exactOut, maxIn *big.Int, to common.Address) ([]byte, error) {
	// Work the path backwards to size the required input before settling.
	amounts := make([]*big.Int, len(path))
	amounts[len(path)-1] = new(big.Int).Set(exactOut)
	for i := len(path) - 2; i >= 0; i-- {
		p, swapped, err := r.poolFor(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		reserveIn, reserveOut := p.reserves(swapped)
		required, err := amountIn(amounts[i+1], reserveIn, reserveOut, p.feeBps)
		if err != nil {
			return nil, err
		}
		amounts[i] = required
	}
	if maxIn != nil && amounts[0].Cmp(maxIn) > 0 {
		return nil, ErrExcessiveInput
	}
	if err := env.Tokens().TransferFrom(path[0], r.address, caller, r.address, amounts[0]); err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(path); i++ {
		p, swapped, err := r.poolFor(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		p.apply(swapped, amounts[i], amounts[i+1])
	}
	if err := env.Tokens().Transfer(path[len(path)-1], r.address, to, exactOut); err != nil {
		return nil, err
	}
	return returnArgs.Pack(amounts[0], exactOut)
}

type routerSnapshot struct {
	pools map[pairKey]*pool
}

// Snapshot satisfies ledger.Snapshotter so aborted engine operations also
// roll back pool reserves.
func (r *Router) Snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pools := make(map[pairKey]*pool, len(r.pools))
	for key, p := range r.pools {
		pools[key] = &pool{
			reserveA: new(big.Int).Set(p.reserveA),
			reserveB: new(big.Int).Set(p.reserveB),
			feeBps:   p.feeBps,
		}
	}
	return routerSnapshot{pools: pools}
}

// Restore satisfies ledger.Snapshotter.
func (r *Router) Restore(state any) {
	snap, ok := state.(routerSnapshot)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = snap.pools
}
