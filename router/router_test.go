package router

import (
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/defistate/defistate-amm/access"
	"github.com/defistate/defistate-amm/engine"
	"github.com/defistate/defistate-amm/ledger"
	"github.com/defistate/defistate-amm/pool"
	"github.com/defistate/defistate-amm/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner   = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	mallory = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	factory = common.HexToAddress("0x00000000000000000000000000000000000fac70")

	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenC = common.HexToAddress("0x3000000000000000000000000000000000000003")

	fixedNow = time.Unix(1_700_000_000, 0)
	deadline = fixedNow.Add(time.Minute)
)

type recordingPublisher struct {
	mu   sync.Mutex
	logs []engine.Log
}

func (r *recordingPublisher) Publish(logs ...engine.Log) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, logs...)
}

func (r *recordingPublisher) names() []engine.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]engine.EventName, len(r.logs))
	for i, l := range r.logs {
		names[i] = l.Event.Name()
	}
	return names
}

type fixture struct {
	router   *Router
	registry *registry.Registry
	access   *access.Registry
	ledger   *ledger.Memory
	logs     *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return fixedNow }

	acl, err := access.New(access.Config{Owner: owner, Clock: clock})
	require.NoError(t, err)
	_, err = acl.BatchAdd(owner, []common.Address{alice, bob})
	require.NoError(t, err)

	l := ledger.NewMemory()
	for _, holder := range []common.Address{alice, bob, mallory} {
		for _, token := range []common.Address{tokenA, tokenB, tokenC} {
			require.NoError(t, l.Mint(token, holder, ether(1_000_000)))
		}
	}

	logs := &recordingPublisher{}
	reg, err := registry.New(registry.Config{Address: factory, Access: acl, Ledger: l, Publisher: logs, Clock: clock})
	require.NoError(t, err)

	r, err := New(Config{Pools: reg, Access: acl, Clock: clock})
	require.NoError(t, err)
	return &fixture{router: r, registry: reg, access: acl, ledger: l, logs: logs}
}

func (f *fixture) addLiquidity(t *testing.T, from, x, y common.Address, amountX, amountY *big.Int) *big.Int {
	t.Helper()
	_, _, shares, err := f.router.AddLiquidity(AddLiquidityParams{
		Caller:         from,
		TokenA:         x,
		TokenB:         y,
		AmountADesired: amountX,
		AmountBDesired: amountY,
		Recipient:      from,
		Deadline:       deadline,
	})
	require.NoError(t, err)
	return shares
}

func (f *fixture) pool(t *testing.T, x, y common.Address) *pool.Pool {
	t.Helper()
	p, ok := f.registry.GetPool(x, y)
	require.True(t, ok)
	return p
}

// scenarioSnapshot is the golden record of the two-step reference scenario.
type scenarioSnapshot struct {
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Reserve0    *big.Int       `json:"reserve0"`
	Reserve1    *big.Int       `json:"reserve1"`
	TotalShares *big.Int       `json:"totalShares"`
	LastSync    uint64         `json:"lastSync"`
	SwapAmounts []*big.Int     `json:"swapAmounts"`
}

func TestScenario_GenesisThenSwap(t *testing.T) {
	f := newFixture(t)

	amountA, amountB, shares, err := f.router.AddLiquidity(AddLiquidityParams{
		Caller:         alice,
		TokenA:         tokenA,
		TokenB:         tokenB,
		AmountADesired: ether(1000),
		AmountBDesired: ether(2000),
		Recipient:      alice,
		Deadline:       deadline,
	})
	require.NoError(t, err)
	assert.Equal(t, ether(1000), amountA)
	assert.Equal(t, ether(2000), amountB)
	assert.Equal(t, newBigIntFromString("1414213562373095047801"), shares)

	p := f.pool(t, tokenA, tokenB)
	assert.Equal(t, newBigIntFromString("1414213562373095048801"), p.TotalShares())

	bobB := f.ledger.BalanceOf(tokenB, bob)
	amounts, err := f.router.SwapExactTokensForTokens(SwapExactInParams{
		Caller:       bob,
		AmountIn:     ether(10),
		AmountOutMin: ether(19),
		Path:         []common.Address{tokenA, tokenB},
		Recipient:    bob,
		Deadline:     deadline,
	})
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.Equal(t, newBigIntFromString("19743160687941225977"), amounts[1])
	assert.Equal(t, new(big.Int).Add(bobB, amounts[1]), f.ledger.BalanceOf(tokenB, bob))

	r0, r1, _ := p.GetReserves()
	assert.Equal(t, ether(1010), r0)
	assert.Equal(t, newBigIntFromString("1980256839312058774023"), r1)

	view := p.View()
	snapshot := scenarioSnapshot{
		Token0:      view.Token0,
		Token1:      view.Token1,
		Reserve0:    view.Reserve0,
		Reserve1:    view.Reserve1,
		TotalShares: view.TotalShares,
		LastSync:    view.LastSync,
		SwapAmounts: amounts,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "scenario_genesis_then_swap", data)
}

func TestAddLiquidity_Balancing(t *testing.T) {
	testCases := []struct {
		name        string
		tokenA      common.Address
		tokenB      common.Address
		aDesired    *big.Int
		bDesired    *big.Int
		aMin        *big.Int
		bMin        *big.Int
		expectedA   *big.Int
		expectedB   *big.Int
		expectedErr error
	}{
		{
			name:      "B is scaled down",
			tokenA:    tokenA,
			tokenB:    tokenB,
			aDesired:  ether(10),
			bDesired:  ether(30),
			expectedA: ether(10),
			expectedB: ether(20),
		},
		{
			name:      "A is scaled down",
			tokenA:    tokenA,
			tokenB:    tokenB,
			aDesired:  ether(10),
			bDesired:  ether(10),
			expectedA: ether(5),
			expectedB: ether(10),
		},
		{
			name:      "reversed argument order",
			tokenA:    tokenB,
			tokenB:    tokenA,
			aDesired:  ether(30),
			bDesired:  ether(10),
			expectedA: ether(20),
			expectedB: ether(10),
		},
		{
			name:        "B below minimum",
			tokenA:      tokenA,
			tokenB:      tokenB,
			aDesired:    ether(10),
			bDesired:    ether(30),
			bMin:        ether(21),
			expectedErr: engine.ErrInsufficientBAmount,
		},
		{
			name:        "A below minimum",
			tokenA:      tokenA,
			tokenB:      tokenB,
			aDesired:    ether(10),
			bDesired:    ether(10),
			aMin:        ether(6),
			expectedErr: engine.ErrInsufficientAAmount,
		},
		{
			name:        "zero desired",
			tokenA:      tokenA,
			tokenB:      tokenB,
			aDesired:    big.NewInt(0),
			bDesired:    ether(10),
			expectedErr: engine.ErrInvalidArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))
			p := f.pool(t, tokenA, tokenB)
			before0, before1, _ := p.GetReserves()
			balanceA := f.ledger.BalanceOf(tc.tokenA, bob)
			balanceB := f.ledger.BalanceOf(tc.tokenB, bob)

			amountA, amountB, shares, err := f.router.AddLiquidity(AddLiquidityParams{
				Caller:         bob,
				TokenA:         tc.tokenA,
				TokenB:         tc.tokenB,
				AmountADesired: tc.aDesired,
				AmountBDesired: tc.bDesired,
				AmountAMin:     tc.aMin,
				AmountBMin:     tc.bMin,
				Recipient:      bob,
				Deadline:       deadline,
			})
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				after0, after1, _ := p.GetReserves()
				assert.Equal(t, before0, after0)
				assert.Equal(t, before1, after1)
				assert.Equal(t, balanceA, f.ledger.BalanceOf(tc.tokenA, bob))
				assert.Equal(t, balanceB, f.ledger.BalanceOf(tc.tokenB, bob))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedA, amountA)
			assert.Equal(t, tc.expectedB, amountB)
			assert.Equal(t, shares, p.BalanceOf(bob))
			assert.Equal(t, new(big.Int).Sub(balanceA, amountA), f.ledger.BalanceOf(tc.tokenA, bob))
			assert.Equal(t, new(big.Int).Sub(balanceB, amountB), f.ledger.BalanceOf(tc.tokenB, bob))
		})
	}
}

func TestAddLiquidity_CreatesPool(t *testing.T) {
	f := newFixture(t)
	_, ok := f.registry.GetPool(tokenA, tokenC)
	require.False(t, ok)

	f.addLiquidity(t, alice, tokenC, tokenA, ether(5), ether(5))
	p := f.pool(t, tokenA, tokenC)
	assert.Equal(t, tokenA, p.Token0())
	assert.Equal(t, 1, f.registry.PoolCount())

	names := f.logs.names()
	require.NotEmpty(t, names)
	assert.Equal(t, engine.EventPoolCreated, names[0], "pool creation is announced before its first mint")
	assert.Contains(t, names, engine.EventMint)
	assert.Contains(t, names, engine.EventSync)
}

func TestAddLiquidity_FailedGenesisLeavesNoPool(t *testing.T) {
	testCases := []struct {
		name        string
		amountA     *big.Int
		amountB     *big.Int
		expectedErr error
	}{
		{
			name:        "liquidity at the locked minimum",
			amountA:     big.NewInt(10),
			amountB:     big.NewInt(10),
			expectedErr: engine.ErrInsufficientLiquidity,
		},
		{
			name:        "deposit above the caller balance",
			amountA:     ether(2_000_000),
			amountB:     ether(5),
			expectedErr: ledger.ErrInsufficientBalance,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			balanceA := f.ledger.BalanceOf(tokenA, alice)
			balanceC := f.ledger.BalanceOf(tokenC, alice)

			_, _, _, err := f.router.AddLiquidity(AddLiquidityParams{
				Caller:         alice,
				TokenA:         tokenA,
				TokenB:         tokenC,
				AmountADesired: tc.amountA,
				AmountBDesired: tc.amountB,
				Recipient:      alice,
				Deadline:       deadline,
			})
			require.ErrorIs(t, err, tc.expectedErr)

			_, ok := f.registry.GetPool(tokenA, tokenC)
			assert.False(t, ok)
			assert.Equal(t, 0, f.registry.PoolCount())
			assert.Empty(t, f.registry.Graph().Tokens)
			assert.Empty(t, f.logs.names())
			assert.Equal(t, balanceA, f.ledger.BalanceOf(tokenA, alice))
			assert.Equal(t, balanceC, f.ledger.BalanceOf(tokenC, alice))

			// the pair is still free and gets index 1
			f.addLiquidity(t, alice, tokenA, tokenC, ether(5), ether(5))
			assert.Equal(t, 1, f.registry.PoolCount())
			f.logs.mu.Lock()
			created, ok := f.logs.logs[0].Event.(engine.PoolCreated)
			f.logs.mu.Unlock()
			require.True(t, ok)
			assert.Equal(t, uint64(1), created.Index)
		})
	}
}

func TestAddThenRemoveReturnsNoMoreThanDeposited(t *testing.T) {
	f := newFixture(t)
	f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))

	deposited0, deposited1, shares, err := f.router.AddLiquidity(AddLiquidityParams{
		Caller:         bob,
		TokenA:         tokenA,
		TokenB:         tokenB,
		AmountADesired: ether(10),
		AmountBDesired: ether(20),
		Recipient:      bob,
		Deadline:       deadline,
	})
	require.NoError(t, err)

	amountA, amountB, err := f.router.RemoveLiquidity(RemoveLiquidityParams{
		Caller:    bob,
		TokenA:    tokenA,
		TokenB:    tokenB,
		Shares:    shares,
		Recipient: bob,
		Deadline:  deadline,
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, amountA.Cmp(deposited0), 0)
	assert.LessOrEqual(t, amountB.Cmp(deposited1), 0)
	lossA := new(big.Int).Sub(deposited0, amountA)
	lossB := new(big.Int).Sub(deposited1, amountB)
	assert.LessOrEqual(t, lossA.Cmp(big.NewInt(1_000)), 0, "only rounding dust is lost")
	assert.LessOrEqual(t, lossB.Cmp(big.NewInt(1_000)), 0, "only rounding dust is lost")
	assert.Zero(t, f.pool(t, tokenA, tokenB).BalanceOf(bob).Sign())
}

func TestRemoveLiquidity_Errors(t *testing.T) {
	f := newFixture(t)
	shares := f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))
	p := f.pool(t, tokenA, tokenB)
	tenth := new(big.Int).Div(shares, big.NewInt(10))

	_, _, err := f.router.RemoveLiquidity(RemoveLiquidityParams{
		Caller: alice, TokenA: tokenA, TokenB: tokenB, Shares: tenth,
		AmountAMin: ether(101), Recipient: alice, Deadline: deadline,
	})
	require.ErrorIs(t, err, engine.ErrInsufficientAAmount)
	assert.Equal(t, shares, p.BalanceOf(alice), "shares are returned when the minimum is not met")
	assert.Zero(t, p.BalanceOf(p.Address()).Sign())

	_, _, err = f.router.RemoveLiquidity(RemoveLiquidityParams{
		Caller: alice, TokenA: tokenB, TokenB: tokenA, Shares: tenth,
		AmountBMin: ether(101), Recipient: alice, Deadline: deadline,
	})
	require.ErrorIs(t, err, engine.ErrInsufficientBAmount)

	_, _, err = f.router.RemoveLiquidity(RemoveLiquidityParams{
		Caller: bob, TokenA: tokenA, TokenB: tokenB, Shares: tenth,
		Recipient: bob, Deadline: deadline,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, _, err = f.router.RemoveLiquidity(RemoveLiquidityParams{
		Caller: alice, TokenA: tokenA, TokenB: tokenC, Shares: tenth,
		Recipient: alice, Deadline: deadline,
	})
	require.ErrorIs(t, err, engine.ErrNotFound)

	_, _, err = f.router.RemoveLiquidity(RemoveLiquidityParams{
		Caller: alice, TokenA: tokenA, TokenB: tokenB, Shares: tenth,
		Recipient: mallory, Deadline: deadline,
	})
	require.ErrorIs(t, err, engine.ErrAccessDenied)
	assert.Equal(t, shares, p.BalanceOf(alice))
}

func TestSwapExactTokensForTokens_SlippageLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))
	p := f.pool(t, tokenA, tokenB)
	bobA := f.ledger.BalanceOf(tokenA, bob)

	_, err := f.router.SwapExactTokensForTokens(SwapExactInParams{
		Caller:       bob,
		AmountIn:     ether(10),
		AmountOutMin: ether(20),
		Path:         []common.Address{tokenA, tokenB},
		Recipient:    bob,
		Deadline:     deadline,
	})
	require.ErrorIs(t, err, engine.ErrInsufficientOutputAmount)

	r0, r1, _ := p.GetReserves()
	assert.Equal(t, ether(1000), r0)
	assert.Equal(t, ether(2000), r1)
	assert.Equal(t, bobA, f.ledger.BalanceOf(tokenA, bob))
}

func TestSwapTokensForExactTokens(t *testing.T) {
	f := newFixture(t)
	f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))
	p := f.pool(t, tokenA, tokenB)

	want := ether(5)
	needed, err := GetAmountIn(want, ether(2000), ether(1000))
	require.NoError(t, err)

	_, err = f.router.SwapTokensForExactTokens(SwapExactOutParams{
		Caller:      bob,
		AmountOut:   want,
		AmountInMax: new(big.Int).Sub(needed, big.NewInt(1)),
		Path:        []common.Address{tokenB, tokenA},
		Recipient:   bob,
		Deadline:    deadline,
	})
	require.ErrorIs(t, err, engine.ErrExcessiveInputAmount)

	bobA := f.ledger.BalanceOf(tokenA, bob)
	bobB := f.ledger.BalanceOf(tokenB, bob)
	amounts, err := f.router.SwapTokensForExactTokens(SwapExactOutParams{
		Caller:      bob,
		AmountOut:   want,
		AmountInMax: needed,
		Path:        []common.Address{tokenB, tokenA},
		Recipient:   bob,
		Deadline:    deadline,
	})
	require.NoError(t, err)
	assert.Equal(t, []*big.Int{needed, want}, amounts)
	assert.Equal(t, new(big.Int).Add(bobA, want), f.ledger.BalanceOf(tokenA, bob))
	assert.Equal(t, new(big.Int).Sub(bobB, needed), f.ledger.BalanceOf(tokenB, bob))

	r0, r1, _ := p.GetReserves()
	assert.Equal(t, new(big.Int).Sub(ether(1000), want), r0)
	assert.Equal(t, new(big.Int).Add(ether(2000), needed), r1)
}

func TestMultiHopSwap(t *testing.T) {
	f := newFixture(t)
	f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))
	f.addLiquidity(t, alice, tokenB, tokenC, ether(3000), ether(1000))
	ab := f.pool(t, tokenA, tokenB)
	bc := f.pool(t, tokenB, tokenC)

	path := []common.Address{tokenA, tokenB, tokenC}
	quoted, err := f.router.GetAmountsOut(ether(10), path)
	require.NoError(t, err)

	bobC := f.ledger.BalanceOf(tokenC, bob)
	amounts, err := f.router.SwapExactTokensForTokens(SwapExactInParams{
		Caller:    bob,
		AmountIn:  ether(10),
		Path:      path,
		Recipient: bob,
		Deadline:  deadline,
	})
	require.NoError(t, err)
	assert.Equal(t, quoted, amounts)
	assert.Equal(t, new(big.Int).Add(bobC, amounts[2]), f.ledger.BalanceOf(tokenC, bob))

	r0, r1, _ := ab.GetReserves()
	assert.Equal(t, ether(1010), r0)
	assert.Equal(t, new(big.Int).Sub(ether(2000), amounts[1]), r1)

	r0, r1, _ = bc.GetReserves()
	assert.Equal(t, new(big.Int).Add(ether(3000), amounts[1]), r0)
	assert.Equal(t, new(big.Int).Sub(ether(1000), amounts[2]), r1)

	// nothing is left stranded in either pool
	for _, p := range []*pool.Pool{ab, bc} {
		v := p.View()
		assert.Equal(t, v.Reserve0, f.ledger.BalanceOf(v.Token0, v.Address))
		assert.Equal(t, v.Reserve1, f.ledger.BalanceOf(v.Token1, v.Address))
	}

	back, err := f.router.GetAmountsIn(amounts[2], path)
	require.NoError(t, err)
	assert.Len(t, back, 3)
}

func TestMultiHopSwap_RevisitedPoolIsQuotedAfterEarlierHops(t *testing.T) {
	f := newFixture(t)
	f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))
	f.addLiquidity(t, alice, tokenB, tokenC, ether(3000), ether(1000))
	f.addLiquidity(t, alice, tokenC, tokenA, ether(1000), ether(1000))
	ab := f.pool(t, tokenA, tokenB)

	// A -> B -> C -> A -> B trades through the A/B pool twice.
	path := []common.Address{tokenA, tokenB, tokenC, tokenA, tokenB}

	t.Run("exact input", func(t *testing.T) {
		quoted, err := f.router.GetAmountsOut(ether(10), path)
		require.NoError(t, err)
		require.Len(t, quoted, 5)

		firstVisit, err := GetAmountOut(ether(10), ether(1000), ether(2000))
		require.NoError(t, err)
		assert.Equal(t, firstVisit, quoted[1])
		secondVisit, err := GetAmountOut(quoted[3], new(big.Int).Add(ether(1000), ether(10)), new(big.Int).Sub(ether(2000), firstVisit))
		require.NoError(t, err)
		assert.Equal(t, secondVisit, quoted[4])

		atEntry, err := GetAmountOut(quoted[3], ether(1000), ether(2000))
		require.NoError(t, err)
		assert.Equal(t, 1, atEntry.Cmp(quoted[4]), "the second visit sees the price moved by the first")

		bobB := f.ledger.BalanceOf(tokenB, bob)
		amounts, err := f.router.SwapExactTokensForTokens(SwapExactInParams{
			Caller:    bob,
			AmountIn:  ether(10),
			Path:      path,
			Recipient: bob,
			Deadline:  deadline,
		})
		require.NoError(t, err)
		assert.Equal(t, quoted, amounts)
		assert.Equal(t, new(big.Int).Add(bobB, amounts[4]), f.ledger.BalanceOf(tokenB, bob))

		r0, r1, _ := ab.GetReserves()
		assert.Equal(t, new(big.Int).Add(ether(1000), new(big.Int).Add(amounts[0], amounts[3])), r0)
		assert.Equal(t, new(big.Int).Sub(ether(2000), new(big.Int).Add(amounts[1], amounts[4])), r1)
	})

	t.Run("exact output", func(t *testing.T) {
		want := ether(5)
		quoted, err := f.router.GetAmountsIn(want, path)
		require.NoError(t, err)
		require.Len(t, quoted, 5)
		assert.Equal(t, want, quoted[4])

		// the quoted input is the smallest that reaches the target
		short, err := f.router.GetAmountsOut(new(big.Int).Sub(quoted[0], big.NewInt(1)), path)
		require.NoError(t, err)
		assert.Equal(t, -1, short[4].Cmp(want))

		bobA := f.ledger.BalanceOf(tokenA, bob)
		bobB := f.ledger.BalanceOf(tokenB, bob)
		amounts, err := f.router.SwapTokensForExactTokens(SwapExactOutParams{
			Caller:      bob,
			AmountOut:   want,
			AmountInMax: quoted[0],
			Path:        path,
			Recipient:   bob,
			Deadline:    deadline,
		})
		require.NoError(t, err)
		assert.Equal(t, quoted, amounts)
		assert.Equal(t, new(big.Int).Sub(bobA, quoted[0]), f.ledger.BalanceOf(tokenA, bob))
		assert.Equal(t, new(big.Int).Add(bobB, want), f.ledger.BalanceOf(tokenB, bob))
	})

	for _, p := range f.registry.Pools() {
		v := p.View()
		assert.Equal(t, v.Reserve0, f.ledger.BalanceOf(v.Token0, v.Address))
		assert.Equal(t, v.Reserve1, f.ledger.BalanceOf(v.Token1, v.Address))
	}
}

func TestMultiHopSwap_FailingLastHopRollsBackEveryPool(t *testing.T) {
	f := newFixture(t)
	f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))
	f.addLiquidity(t, alice, tokenB, tokenC, ether(3000), ether(1000))
	ab := f.pool(t, tokenA, tokenB)
	bc := f.pool(t, tokenB, tokenC)
	abBefore, bcBefore := ab.View(), bc.View()
	bobA := f.ledger.BalanceOf(tokenA, bob)

	_, err := f.router.SwapExactTokensForTokens(SwapExactInParams{
		Caller:    bob,
		AmountIn:  ether(10),
		Path:      []common.Address{tokenA, tokenB, tokenC},
		Recipient: mallory,
		Deadline:  deadline,
	})
	require.ErrorIs(t, err, engine.ErrAccessDenied)
	assert.Contains(t, err.Error(), "hop 1")

	assert.Equal(t, abBefore, ab.View())
	assert.Equal(t, bcBefore, bc.View())
	assert.Equal(t, bobA, f.ledger.BalanceOf(tokenA, bob))
	assert.Equal(t, ether(2000), f.ledger.BalanceOf(tokenB, ab.Address()))
	assert.Equal(t, ether(3000), f.ledger.BalanceOf(tokenB, bc.Address()))
}

func TestEntryChecks(t *testing.T) {
	f := newFixture(t)
	f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))

	swap := func(caller common.Address, path []common.Address, dl time.Time) error {
		_, err := f.router.SwapExactTokensForTokens(SwapExactInParams{
			Caller: caller, AmountIn: ether(1), Path: path, Recipient: caller, Deadline: dl,
		})
		return err
	}
	ab := []common.Address{tokenA, tokenB}

	testCases := []struct {
		name        string
		caller      common.Address
		path        []common.Address
		deadline    time.Time
		expectedErr error
	}{
		{"deadline passed", bob, ab, fixedNow.Add(-time.Second), engine.ErrExpired},
		{"deadline equal to now", bob, ab, fixedNow, nil},
		{"caller not permitted", mallory, ab, deadline, engine.ErrAccessDenied},
		{"single asset path", bob, []common.Address{tokenA}, deadline, engine.ErrInvalidArgument},
		{"repeated asset", bob, []common.Address{tokenA, tokenA}, deadline, engine.ErrInvalidArgument},
		{"missing pool", bob, []common.Address{tokenA, tokenC}, deadline, engine.ErrNotFound},
		{"path turns back through a pool", bob, []common.Address{tokenA, tokenB, tokenA}, deadline, engine.ErrInvalidArgument},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := swap(tc.caller, tc.path, tc.deadline)
			if tc.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.expectedErr)
		})
	}

	t.Run("paused", func(t *testing.T) {
		require.NoError(t, f.access.Pause(owner))
		require.ErrorIs(t, swap(bob, ab, deadline), engine.ErrAccessDenied)
		require.NoError(t, f.access.Unpause(owner))
		require.NoError(t, swap(bob, ab, deadline))
	})
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.addLiquidity(t, alice, tokenA, tokenB, ether(1000), ether(2000))
	_, err := f.router.SwapExactTokensForTokens(SwapExactInParams{
		Caller: mallory, AmountIn: ether(1), Path: []common.Address{tokenA, tokenB}, Recipient: mallory, Deadline: deadline,
	})
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.router.metrics.opsTotal.WithLabelValues("add_liquidity", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.router.metrics.opsTotal.WithLabelValues("swap_exact_in", "error")))
}

func TestConcurrentSwapsKeepPoolsConsistent(t *testing.T) {
	f := newFixture(t)
	f.addLiquidity(t, alice, tokenA, tokenB, ether(100_000), ether(100_000))
	f.addLiquidity(t, alice, tokenB, tokenC, ether(100_000), ether(100_000))
	ab := f.pool(t, tokenA, tokenB)
	bc := f.pool(t, tokenB, tokenC)
	k := func(p *pool.Pool) *big.Int {
		r0, r1, _ := p.GetReserves()
		return new(big.Int).Mul(r0, r1)
	}
	kAB, kBC := k(ab), k(bc)

	paths := [][]common.Address{
		{tokenA, tokenB, tokenC},
		{tokenC, tokenB, tokenA},
		{tokenB, tokenA},
		{tokenC, tokenB},
	}
	var wg sync.WaitGroup
	for i, trader := range []common.Address{alice, bob} {
		for j, path := range paths {
			wg.Add(1)
			go func(trader common.Address, path []common.Address, n int) {
				defer wg.Done()
				for round := 0; round < 20; round++ {
					_, err := f.router.SwapExactTokensForTokens(SwapExactInParams{
						Caller:    trader,
						AmountIn:  ether(int64(n + 1)),
						Path:      path,
						Recipient: trader,
						Deadline:  deadline,
					})
					assert.NoError(t, err)
				}
			}(trader, path, i*len(paths)+j)
		}
	}
	wg.Wait()

	for _, p := range []*pool.Pool{ab, bc} {
		v := p.View()
		assert.Equal(t, v.Reserve0, f.ledger.BalanceOf(v.Token0, v.Address))
		assert.Equal(t, v.Reserve1, f.ledger.BalanceOf(v.Token1, v.Address))
	}
	assert.Equal(t, 1, k(ab).Cmp(kAB))
	assert.Equal(t, 1, k(bc).Cmp(kBC))
}
