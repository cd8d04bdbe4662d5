package issuance

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"basketfund/basket"
	"basketfund/events"
)

func issuedFixture(t *testing.T) (*fixture, *big.Int) {
	t.Helper()
	fx := newFixture(t, []basket.Component{
		{Address: addr(0x31), RealUnit: mustBig(t, "400000000000000000")},
		{Address: addr(0x32), RealUnit: mustBig(t, "600000000000000000")},
	})
	fx.setExchanges(t, []common.Address{fx.tokenA, fx.tokenB})
	require.NoError(t, fx.oracle.SetPrice(fx.owner, fx.tokenA, fx.tokenQ, e18(2)))
	require.NoError(t, fx.oracle.SetPrice(fx.owner, fx.tokenB, fx.tokenQ, e18(1)))
	fx.setPool(t, fx.tokenQ, fx.tokenA, e18(1_000_000), e18(500_000))
	fx.setPool(t, fx.tokenQ, fx.tokenB, e18(1_000_000), e18(1_000_000))
	fx.fundQ(t, fx.alice, e18(1000))

	minted, err := fx.engine.IssueExactBasket(context.Background(), fx.token, fx.alice, fx.bob, fx.tokenQ, e18(140), 200, true)
	require.NoError(t, err)
	return fx, minted
}

func TestRedeemRoundTrip(t *testing.T) {
	fx, minted := issuedFixture(t)

	proceeds, err := fx.engine.Redeem(context.Background(), fx.token, fx.bob, fx.bob, minted, fx.tokenQ, nil, nil)
	require.NoError(t, err)
	require.True(t, proceeds.Sign() > 0)
	require.Equal(t, 0, fx.token.TotalSupply().Sign())
	require.Equal(t, 0, fx.token.BalanceOf(fx.bob).Sign())
	require.Equal(t, 0, fx.env.Tokens().BalanceOf(fx.tokenQ, fx.bob).Cmp(proceeds))

	// Round trip through two pools pays two spreads; proceeds land below the
	// issuance cost but in the same ballpark.
	require.True(t, proceeds.Cmp(e18(130)) > 0, "proceeds %s", proceeds)
	require.True(t, proceeds.Cmp(e18(140)) < 0, "proceeds %s", proceeds)

	completed := fx.recorder.OfType(events.TypeRedemptionCompleted)
	require.Len(t, completed, 1)
	evt := completed[0].(events.RedemptionCompleted)
	require.Equal(t, 0, evt.OutputReceived.Cmp(proceeds))
}

func TestRedeemMinimumOutputAborts(t *testing.T) {
	fx, minted := issuedFixture(t)

	_, err := fx.engine.Redeem(context.Background(), fx.token, fx.bob, fx.bob, minted, fx.tokenQ, nil, e18(150))
	require.ErrorIs(t, err, errMinimumOutputNotMet)

	// Fully reverted: the burn is undone and backing is untouched.
	require.Equal(t, 0, fx.token.BalanceOf(fx.bob).Cmp(minted))
	require.Equal(t, 0, fx.token.TotalSupply().Cmp(minted))
	requireCollateralized(t, fx.token)
}

func TestRedeemPartialKeepsCollateral(t *testing.T) {
	fx, minted := issuedFixture(t)

	half := new(big.Int).Rsh(minted, 1)
	proceeds, err := fx.engine.Redeem(context.Background(), fx.token, fx.bob, fx.bob, half, fx.tokenQ, nil, nil)
	require.NoError(t, err)
	require.True(t, proceeds.Sign() > 0)
	require.Equal(t, 0, fx.token.TotalSupply().Cmp(new(big.Int).Sub(minted, half)))
	requireCollateralized(t, fx.token)
}

type recordingPositionHook struct {
	calls []common.Address
}

func (h *recordingPositionHook) ComponentRedeemHook(_ basket.Token, _ *big.Int, component common.Address) error {
	h.calls = append(h.calls, component)
	return nil
}

func TestRedeemSettlesExternalPositions(t *testing.T) {
	fx := newFixture(t, []basket.Component{{Address: addr(0x31), RealUnit: mustBig(t, "500000000000000000")}})
	fx.setExchanges(t, []common.Address{fx.tokenA})
	fx.setPool(t, fx.tokenQ, fx.tokenA, e18(1_000_000), e18(1_000_000))

	extModule := addr(0x12)
	hook := &recordingPositionHook{}
	require.NoError(t, fx.controller.AddModule(fx.owner, extModule, hook))
	require.NoError(t, fx.token.SetExternalPosition(fx.tokenA, extModule, mustBig(t, "500000000000000000")))

	// Seed supply and full aggregate backing directly: 10 units at an
	// aggregate unit of 1.0 need 10 tokenA in custody.
	require.NoError(t, fx.env.Tokens().Mint(fx.tokenA, fx.token.Address(), e18(10)))
	require.NoError(t, fx.token.Mint(fx.alice, e18(10)))

	proceeds, err := fx.engine.Redeem(context.Background(), fx.token, fx.alice, fx.alice, e18(4), fx.tokenQ, nil, nil)
	require.NoError(t, err)
	require.True(t, proceeds.Sign() > 0)
	require.Equal(t, []common.Address{fx.tokenA}, hook.calls)
	requireCollateralized(t, fx.token)
}

func TestBasicEngineIssueAndRedeem(t *testing.T) {
	fx := newFixture(t, []basket.Component{{Address: addr(0x31), RealUnit: e18(1)}})
	basicAddr := addr(0x11)
	basic, err := NewBasicEngine(basicAddr, fx.controller, fx.env)
	require.NoError(t, err)

	tok, err := basket.NewMemory(fx.env, addr(0x45), fx.manager, []basket.Component{
		{Address: fx.tokenA, RealUnit: mustBig(t, "500000000000000000")},
		{Address: fx.tokenB, RealUnit: mustBig(t, "500000000000000000")},
	})
	require.NoError(t, err)
	require.NoError(t, fx.controller.AddBasket(fx.owner, tok.Address()))
	require.NoError(t, tok.AddModule(basicAddr))
	require.NoError(t, basic.Initialize(fx.manager, tok, nil))

	for _, token := range []common.Address{fx.tokenA, fx.tokenB} {
		require.NoError(t, fx.env.Tokens().Mint(token, fx.alice, e18(100)))
		require.NoError(t, fx.env.Tokens().Approve(token, fx.alice, basicAddr, e18(100)))
	}

	require.NoError(t, basic.Issue(context.Background(), tok, fx.alice, fx.bob, e18(10)))
	require.Equal(t, 0, tok.TotalSupply().Cmp(e18(10)))
	require.Equal(t, 0, tok.BalanceOf(fx.bob).Cmp(e18(10)))
	require.Equal(t, 0, tok.TokenBalance(fx.tokenA).Cmp(e18(5)))
	require.Equal(t, 0, tok.TokenBalance(fx.tokenB).Cmp(e18(5)))
	requireCollateralized(t, tok)

	require.NoError(t, basic.Redeem(context.Background(), tok, fx.bob, fx.bob, e18(4)))
	require.Equal(t, 0, tok.TotalSupply().Cmp(e18(6)))
	require.Equal(t, 0, fx.env.Tokens().BalanceOf(fx.tokenA, fx.bob).Cmp(e18(2)))
	require.Equal(t, 0, fx.env.Tokens().BalanceOf(fx.tokenB, fx.bob).Cmp(e18(2)))
	requireCollateralized(t, tok)
}

func TestBasicEngineRejectsExternalPositions(t *testing.T) {
	fx := newFixture(t, []basket.Component{{Address: addr(0x31), RealUnit: e18(1)}})
	basicAddr := addr(0x11)
	basic, err := NewBasicEngine(basicAddr, fx.controller, fx.env)
	require.NoError(t, err)

	tok, err := basket.NewMemory(fx.env, addr(0x46), fx.manager, []basket.Component{
		{Address: fx.tokenA, RealUnit: e18(1)},
	})
	require.NoError(t, err)
	require.NoError(t, fx.controller.AddBasket(fx.owner, tok.Address()))
	require.NoError(t, tok.AddModule(basicAddr))
	require.NoError(t, basic.Initialize(fx.manager, tok, nil))
	require.NoError(t, tok.SetExternalPosition(fx.tokenA, addr(0x12), e18(1)))

	err = basic.Issue(context.Background(), tok, fx.alice, fx.alice, e18(1))
	require.ErrorIs(t, err, errExternalNotSupported)
}
