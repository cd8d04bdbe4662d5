package issuance

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"basketfund/adapters"
	"basketfund/basket"
	"basketfund/events"
	"basketfund/ledger"
	"basketfund/venues/vault"
)

func TestIssueExactBasket(t *testing.T) {
	fx := newFixture(t, []basket.Component{
		{Address: addr(0x31), RealUnit: mustBig(t, "400000000000000000")}, // 0.4
		{Address: addr(0x32), RealUnit: mustBig(t, "600000000000000000")}, // 0.6
	})
	fx.setExchanges(t, []common.Address{fx.tokenA, fx.tokenB})
	require.NoError(t, fx.oracle.SetPrice(fx.owner, fx.tokenA, fx.tokenQ, e18(2)))
	require.NoError(t, fx.oracle.SetPrice(fx.owner, fx.tokenB, fx.tokenQ, e18(1)))
	// Deep pools so exact-output requirements fill near spot.
	fx.setPool(t, fx.tokenQ, fx.tokenA, e18(1_000_000), e18(500_000))
	fx.setPool(t, fx.tokenQ, fx.tokenB, e18(1_000_000), e18(1_000_000))
	fx.fundQ(t, fx.alice, e18(1000))

	// Valuation is 0.4*2 + 0.6*1 = 1.4 Q per basket unit; 140 Q targets 100
	// units, 98 after the 2% tolerance.
	minted, err := fx.engine.IssueExactBasket(context.Background(), fx.token, fx.alice, fx.bob, fx.tokenQ, e18(140), 200, true)
	require.NoError(t, err)
	require.Equal(t, 0, minted.Cmp(e18(98)), "minted %s", minted)

	require.Equal(t, 0, fx.token.TotalSupply().Cmp(e18(98)))
	require.Equal(t, 0, fx.token.BalanceOf(fx.bob).Cmp(e18(98)))
	requireCollateralized(t, fx.token)

	completed := fx.recorder.OfType(events.TypeIssuanceCompleted)
	require.Len(t, completed, 1)
	evt := completed[0].(events.IssuanceCompleted)
	require.Equal(t, fx.alice, evt.Caller)
	require.Equal(t, fx.bob, evt.Recipient)

	// Input conservation: whatever was not spent came back to the caller.
	total := new(big.Int).Add(evt.InputSpent, evt.InputReturned)
	require.Equal(t, 0, total.Cmp(e18(140)))
	wantAlice := new(big.Int).Sub(e18(1000), evt.InputSpent)
	require.Equal(t, 0, fx.env.Tokens().BalanceOf(fx.tokenQ, fx.alice).Cmp(wantAlice))
	require.True(t, evt.InputReturned.Sign() > 0, "expected unspent input back")
}

func TestIssueWeightedScenario(t *testing.T) {
	unitA := mustBig(t, "2318000000")
	unitB := mustBig(t, "476900000000000000")
	weights := []*big.Int{
		mustBig(t, "496300000000000000"), // 0.4963
		mustBig(t, "503700000000000000"), // 0.5037
	}
	minReceive := mustBig(t, "92204480000000000000")

	t.Run("deep pools clear the minimum", func(t *testing.T) {
		fx := newFixture(t, []basket.Component{
			{Address: addr(0x31), RealUnit: unitA},
			{Address: addr(0x32), RealUnit: unitB},
		})
		fx.setExchanges(t, []common.Address{fx.tokenA, fx.tokenB})
		fx.setPool(t, fx.tokenQ, fx.tokenA, e18(1_000_000), mustBig(t, "5000000000000000"))
		fx.setPool(t, fx.tokenQ, fx.tokenB, e18(1_000_000), e18(1_000_000))
		fx.fundQ(t, fx.alice, e18(1000))

		minted, err := fx.engine.IssueWeighted(context.Background(), fx.token, fx.alice, fx.alice, fx.tokenQ, e18(100), weights, nil, minReceive, false)
		require.NoError(t, err)
		require.GreaterOrEqual(t, minted.Cmp(minReceive), 0, "minted %s below %s", minted, minReceive)
		require.Equal(t, 0, fx.token.BalanceOf(fx.alice).Cmp(minted))
		requireCollateralized(t, fx.token)
	})

	t.Run("shallow pool aborts below the minimum", func(t *testing.T) {
		fx := newFixture(t, []basket.Component{
			{Address: addr(0x31), RealUnit: unitA},
			{Address: addr(0x32), RealUnit: unitB},
		})
		fx.setExchanges(t, []common.Address{fx.tokenA, fx.tokenB})
		fx.setPool(t, fx.tokenQ, fx.tokenA, e18(1_000_000), mustBig(t, "5000000000000000"))
		fx.setPool(t, fx.tokenQ, fx.tokenB, e18(100), e18(100))
		fx.fundQ(t, fx.alice, e18(1000))

		_, err := fx.engine.IssueWeighted(context.Background(), fx.token, fx.alice, fx.alice, fx.tokenQ, e18(100), weights, nil, minReceive, false)
		require.ErrorIs(t, err, errMinimumReceiveNotMet)

		// Everything reverted: caller funds intact, nothing minted, no
		// component residue left on the basket.
		require.Equal(t, 0, fx.env.Tokens().BalanceOf(fx.tokenQ, fx.alice).Cmp(e18(1000)))
		require.Equal(t, 0, fx.token.TotalSupply().Sign())
		require.Equal(t, 0, fx.token.TokenBalance(fx.tokenA).Sign())
		require.Equal(t, 0, fx.token.TokenBalance(fx.tokenB).Sign())
	})
}

func TestIssueWeightedInputAsComponent(t *testing.T) {
	// The input asset doubles as a component: its slice is retained in
	// custody rather than traded.
	fx := newFixture(t, []basket.Component{
		{Address: addr(0x30), RealUnit: mustBig(t, "500000000000000000")}, // tokenQ itself
		{Address: addr(0x31), RealUnit: mustBig(t, "500000000000000000")},
	})
	fx.setExchanges(t, []common.Address{fx.tokenA})
	fx.setPool(t, fx.tokenQ, fx.tokenA, e18(1_000_000), e18(1_000_000))
	fx.fundQ(t, fx.alice, e18(100))

	weights := []*big.Int{
		mustBig(t, "500000000000000000"),
		mustBig(t, "500000000000000000"),
	}
	minted, err := fx.engine.IssueWeighted(context.Background(), fx.token, fx.alice, fx.alice, fx.tokenQ, e18(100), weights, nil, nil, false)
	require.NoError(t, err)
	require.True(t, minted.Sign() > 0)
	requireCollateralized(t, fx.token)
}

func TestDustSweepThresholdBoundary(t *testing.T) {
	unit := mustBig(t, "10000000000000000000000") // 1e22
	fx := newFixture(t, []basket.Component{{Address: addr(0x31), RealUnit: unit}})

	realized := e18(1)
	required := new(big.Int).Set(unit)        // ceil(1e18 * 1e22 / 1e18)
	threshold := e18(1)                       // 0.01% of 1e22
	atThreshold := new(big.Int).Add(required, threshold)
	aboveThreshold := new(big.Int).Add(atThreshold, big.NewInt(1))

	run := func(received *big.Int) error {
		r := &issueRun{
			t:          fx.token,
			inputToken: fx.tokenQ,
			received:   map[common.Address]*big.Int{fx.tokenA: received},
			plans:      map[common.Address]acquisitionPlan{fx.tokenA: {component: fx.tokenA, tradeAsset: fx.tokenA}},
		}
		return fx.engine.sweepDust(r, realized)
	}

	// Surplus exactly at 0.01% of the required backing stays put.
	require.NoError(t, run(atThreshold))

	// One unit above the threshold triggers the sweep; with no exchange
	// configured the attempted sale surfaces as a configuration error.
	require.ErrorIs(t, run(aboveThreshold), errNoExchangeConfigured)

	// With an exchange and liquidity the sweep sells the surplus back into
	// the input asset.
	fx.setExchanges(t, []common.Address{fx.tokenA})
	fx.setPool(t, fx.tokenQ, fx.tokenA, e18(1_000_000), e18(1_000_000))
	surplus := new(big.Int).Sub(aboveThreshold, required)
	require.NoError(t, fx.env.Tokens().Mint(fx.tokenA, fx.token.Address(), surplus))
	r := &issueRun{
		t:          fx.token,
		inputToken: fx.tokenQ,
		received:   map[common.Address]*big.Int{fx.tokenA: aboveThreshold},
		plans:      map[common.Address]acquisitionPlan{fx.tokenA: {component: fx.tokenA, tradeAsset: fx.tokenA, exchangeName: "amm"}},
	}
	require.NoError(t, fx.engine.sweepDust(r, realized))
	require.True(t, fx.token.TokenBalance(fx.tokenQ).Sign() > 0, "swept proceeds should land in the input asset")
}

type vetoHook struct {
	err error
}

func (h vetoHook) PreIssue(basket.Token, *big.Int, common.Address, common.Address) error {
	return h.err
}

func (h vetoHook) PreRedeem(basket.Token, *big.Int, common.Address, common.Address) error {
	return h.err
}

func TestIssueHookFailureReverts(t *testing.T) {
	fx := newFixture(t, []basket.Component{{Address: addr(0x31), RealUnit: e18(1)}})
	fx.setExchanges(t, []common.Address{fx.tokenA})
	require.NoError(t, fx.oracle.SetPrice(fx.owner, fx.tokenA, fx.tokenQ, e18(1)))
	fx.setPool(t, fx.tokenQ, fx.tokenA, e18(1_000_000), e18(1_000_000))
	fx.fundQ(t, fx.alice, e18(100))

	hooked, err := basket.NewMemory(fx.env, addr(0x44), fx.manager, []basket.Component{{Address: fx.tokenA, RealUnit: e18(1)}})
	require.NoError(t, err)
	require.NoError(t, fx.controller.AddBasket(fx.owner, hooked.Address()))
	require.NoError(t, hooked.AddModule(fx.moduleAddr))
	veto := errors.New("manager veto")
	require.NoError(t, fx.engine.Initialize(fx.manager, hooked, vetoHook{err: veto}))
	require.NoError(t, fx.engine.SetExchanges(fx.owner, hooked, []common.Address{fx.tokenA}, []string{"amm"}))

	_, err = fx.engine.IssueExactBasket(context.Background(), hooked, fx.alice, fx.alice, fx.tokenQ, e18(10), 100, false)
	require.ErrorIs(t, err, veto)
	require.Equal(t, 0, fx.env.Tokens().BalanceOf(fx.tokenQ, fx.alice).Cmp(e18(100)))
	require.Equal(t, 0, hooked.TotalSupply().Sign())
	require.Equal(t, 0, hooked.TokenBalance(fx.tokenA).Sign())
}

// reentrantVenue is a hostile exchange: mid-trade it calls back into the
// engine and propagates the result.
type reentrantVenue struct {
	fx *fixture
	t  *testing.T
}

func (v *reentrantVenue) Call(_ *ledger.Env, _ common.Address, _ *big.Int, _ []byte) ([]byte, error) {
	_, err := v.fx.engine.Redeem(context.Background(), v.fx.token, v.fx.alice, v.fx.alice, e18(1), v.fx.tokenQ, nil, nil)
	if err != nil {
		return nil, err
	}
	return nil, errors.New("reentrant redemption unexpectedly succeeded")
}

type reentrantAdapter struct {
	venue common.Address
}

func (a reentrantAdapter) Spender() common.Address { return a.venue }

func (a reentrantAdapter) RouteData([]common.Address, bool) ([]byte, error) {
	return []byte{0x01}, nil
}

func (a reentrantAdapter) TradeCalldata(_, _, _ common.Address, _, _ *big.Int, _ []byte) (common.Address, *big.Int, []byte, error) {
	return a.venue, nil, []byte{0x01}, nil
}

func TestReentrantCallRejected(t *testing.T) {
	fx := newFixture(t, []basket.Component{{Address: addr(0x31), RealUnit: e18(1)}})
	venueAddr := addr(0x50)
	fx.env.Register(venueAddr, &reentrantVenue{fx: fx, t: t})
	require.NoError(t, fx.integrations.AddIntegration(fx.owner, fx.moduleAddr, "evil", reentrantAdapter{venue: venueAddr}))
	require.NoError(t, fx.engine.SetExchanges(fx.owner, fx.token, []common.Address{fx.tokenA}, []string{"evil"}))
	fx.fundQ(t, fx.alice, e18(100))

	weights := []*big.Int{e18(1)}
	_, err := fx.engine.IssueWeighted(context.Background(), fx.token, fx.alice, fx.alice, fx.tokenQ, e18(100), weights, nil, nil, false)
	require.ErrorIs(t, err, errReentrantCall)

	require.Equal(t, 0, fx.env.Tokens().BalanceOf(fx.tokenQ, fx.alice).Cmp(e18(100)))
	require.Equal(t, 0, fx.token.TotalSupply().Sign())
}

func TestIssueWeightedNative(t *testing.T) {
	fx := newFixture(t, []basket.Component{{Address: addr(0x31), RealUnit: e18(1)}})
	fx.setExchanges(t, []common.Address{fx.tokenA})
	fx.setPool(t, fx.wethAddr, fx.tokenA, e18(1_000_000), e18(1_000_000))
	require.NoError(t, fx.env.Tokens().CreditNative(fx.alice, e18(10)))

	weights := []*big.Int{e18(1)}
	minted, err := fx.engine.IssueWeightedNative(context.Background(), fx.token, fx.alice, fx.bob, e18(10), weights, nil, nil, false)
	require.NoError(t, err)
	require.True(t, minted.Sign() > 0)
	require.Equal(t, 0, fx.env.Tokens().NativeBalance(fx.alice).Sign())
	require.Equal(t, 0, fx.token.BalanceOf(fx.bob).Cmp(minted))
	requireCollateralized(t, fx.token)

	// The one-unit split buffer comes back as wrapped native.
	require.Equal(t, 0, fx.env.Tokens().BalanceOf(fx.wethAddr, fx.alice).Cmp(big.NewInt(1)))
}

func TestIssueWrappedComponent(t *testing.T) {
	// Component is a yield-vault claim over tokenB: issuance trades the
	// input into the underlying, sizes the deposit through the adapter and
	// wraps; the vault fee is absorbed by the exact-output sizing.
	fx := newFixture(t, []basket.Component{{Address: addr(0x60), RealUnit: e18(1)}})
	vaultAddr := addr(0x60)
	v, err := vault.New(fx.env, vaultAddr, fx.tokenB, e18(1), 100)
	require.NoError(t, err)
	require.NoError(t, fx.integrations.AddIntegration(fx.owner, fx.moduleAddr, "vault", adapters.NewVaultWrapAdapter(v)))
	require.NoError(t, fx.engine.SetExchanges(fx.owner, fx.token, []common.Address{vaultAddr}, []string{"amm"}))
	require.NoError(t, fx.engine.SetWrapAdapters(fx.owner, fx.token, []common.Address{vaultAddr}, []string{"vault"}, []common.Address{fx.tokenB}))
	require.NoError(t, fx.oracle.SetPrice(fx.owner, vaultAddr, fx.tokenQ, mustBig(t, "1020000000000000000")))
	fx.setPool(t, fx.tokenQ, fx.tokenB, e18(1_000_000), e18(1_000_000))
	fx.fundQ(t, fx.alice, e18(200))

	minted, err := fx.engine.IssueExactBasket(context.Background(), fx.token, fx.alice, fx.alice, fx.tokenQ, e18(102), 300, true)
	require.NoError(t, err)
	require.True(t, minted.Sign() > 0)
	requireCollateralized(t, fx.token)

	wraps := fx.recorder.OfType(events.TypeComponentWrapped)
	require.Len(t, wraps, 1)
	wrap := wraps[0].(events.ComponentWrapped)
	require.Equal(t, fx.tokenB, wrap.Underlying)
	require.Equal(t, vaultAddr, wrap.Wrapped)
}
