package basket

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/fixedpoint"
	"basketfund/ledger"
)

func testAddr(last byte) common.Address {
	var a common.Address
	a[19] = last
	return a
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Scale)
}

func newTestToken(t *testing.T, components []Component) (*ledger.Env, *Memory) {
	t.Helper()
	env := ledger.NewEnv(nil)
	tok, err := NewMemory(env, testAddr(0x40), testAddr(0x02), components)
	if err != nil {
		t.Fatalf("new memory token: %v", err)
	}
	return env, tok
}

func TestAggregateRealUnitSumsExternal(t *testing.T) {
	compA := testAddr(0x31)
	_, tok := newTestToken(t, []Component{{Address: compA, RealUnit: e18(1)}})

	unit, err := AggregateRealUnit(tok, compA)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if unit.Cmp(e18(1)) != 0 {
		t.Fatalf("unit = %s, want 1e18", unit)
	}

	module := testAddr(0x10)
	if err := tok.SetExternalPosition(compA, module, e18(2)); err != nil {
		t.Fatalf("set external: %v", err)
	}
	unit, err = AggregateRealUnit(tok, compA)
	if err != nil {
		t.Fatalf("aggregate with external: %v", err)
	}
	if unit.Cmp(e18(3)) != 0 {
		t.Fatalf("unit = %s, want 3e18", unit)
	}
}

func TestAggregateRealUnitRejectsNonPositiveExternal(t *testing.T) {
	compA := testAddr(0x31)
	_, tok := newTestToken(t, []Component{{Address: compA, RealUnit: e18(1)}})
	if err := tok.SetExternalPosition(compA, testAddr(0x10), big.NewInt(0)); err != nil {
		t.Fatalf("set external: %v", err)
	}
	if _, err := AggregateRealUnit(tok, compA); !errors.Is(err, ErrExternalUnitNotPositive) {
		t.Fatalf("expected external unit error, got %v", err)
	}
}

func TestRequiredComponentUnitsRoundingDirection(t *testing.T) {
	compA := testAddr(0x31)
	// A unit that does not divide the quantity cleanly forces the rounding
	// asymmetry to show.
	unit := big.NewInt(333333333333333333)
	_, tok := newTestToken(t, []Component{{Address: compA, RealUnit: unit}})

	quantity := big.NewInt(10)
	_, issue, err := RequiredComponentUnits(tok, quantity, true)
	if err != nil {
		t.Fatalf("issue direction: %v", err)
	}
	_, redeem, err := RequiredComponentUnits(tok, quantity, false)
	if err != nil {
		t.Fatalf("redeem direction: %v", err)
	}
	if issue[0].Cmp(redeem[0]) <= 0 {
		t.Fatalf("issue requirement %s should exceed redeem entitlement %s", issue[0], redeem[0])
	}
	diff := new(big.Int).Sub(issue[0], redeem[0])
	if diff.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("requirements differ by %s, want 1", diff)
	}
}

func TestRequiredComponentUnitsRejectsZeroNotional(t *testing.T) {
	compA := testAddr(0x31)
	_, tok := newTestToken(t, []Component{{Address: compA, RealUnit: big.NewInt(1)}})
	// quantity*unit below one base unit floors to zero on redeem.
	if _, _, err := RequiredComponentUnits(tok, big.NewInt(10), false); !errors.Is(err, ErrZeroRequirement) {
		t.Fatalf("expected zero requirement error, got %v", err)
	}
}

func TestModuleLifecycle(t *testing.T) {
	_, tok := newTestToken(t, []Component{{Address: testAddr(0x31), RealUnit: e18(1)}})
	module := testAddr(0x10)

	if err := tok.InitializeModule(module); !errors.Is(err, ErrModuleNotPending) {
		t.Fatalf("initialize before add: %v", err)
	}
	if err := tok.AddModule(module); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tok.AddModule(module); !errors.Is(err, ErrModuleExists) {
		t.Fatalf("re-add: %v", err)
	}
	if got := tok.ModuleState(module); got != ModulePending {
		t.Fatalf("state = %d, want pending", got)
	}
	if err := tok.InitializeModule(module); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got := tok.ModuleState(module); got != ModuleInitialized {
		t.Fatalf("state = %d, want initialized", got)
	}
}

func TestMemorySupplyTracksMintBurn(t *testing.T) {
	_, tok := newTestToken(t, []Component{{Address: testAddr(0x31), RealUnit: e18(1)}})
	holder := testAddr(0x05)

	if err := tok.Mint(holder, e18(7)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if tok.TotalSupply().Cmp(e18(7)) != 0 {
		t.Fatalf("supply = %s, want 7e18", tok.TotalSupply())
	}
	if tok.BalanceOf(holder).Cmp(e18(7)) != 0 {
		t.Fatalf("balance = %s, want 7e18", tok.BalanceOf(holder))
	}
	if err := tok.Burn(holder, e18(3)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if tok.TotalSupply().Cmp(e18(4)) != 0 {
		t.Fatalf("supply = %s, want 4e18", tok.TotalSupply())
	}
}

func TestSnapshotCoversSupplyAndModules(t *testing.T) {
	env, tok := newTestToken(t, []Component{{Address: testAddr(0x31), RealUnit: e18(1)}})
	module := testAddr(0x10)
	holder := testAddr(0x05)

	snap := env.Snapshot()
	if err := tok.AddModule(module); err != nil {
		t.Fatalf("add module: %v", err)
	}
	if err := tok.Mint(holder, e18(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	env.Revert(snap)

	if tok.TotalSupply().Sign() != 0 {
		t.Fatalf("supply after revert = %s, want 0", tok.TotalSupply())
	}
	if tok.ModuleState(module) != ModuleNone {
		t.Fatalf("module state after revert = %d, want none", tok.ModuleState(module))
	}
}
