// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pair

import (
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/cswap/fhe"
	"github.com/luxfi/cswap/ledger"
	"github.com/luxfi/cswap/state"
)

type testEnv struct {
	engine *fhe.Cleartext
	state  *state.MemDB
	tokenA *ledger.Token
	tokenB *ledger.Token
	pair   *Pair
	issuer *ledger.Key
	alice  *ledger.Key
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	engine := fhe.NewCleartext(memdb.New())
	st := state.NewMemDB()
	issuer, err := ledger.GenerateKey()
	require.NoError(t, err)
	alice, err := ledger.GenerateKey()
	require.NoError(t, err)
	tokenA := ledger.NewToken(engine, st, common.HexToAddress("0x1000"), "Token A", "TKA", 6, issuer.Address, nil)
	tokenB := ledger.NewToken(engine, st, common.HexToAddress("0x2000"), "Token B", "TKB", 6, issuer.Address, nil)
	p := New(engine, st, common.HexToAddress("0x3000"), tokenA, tokenB, nil)
	return &testEnv{engine: engine, state: st, tokenA: tokenA, tokenB: tokenB, pair: p, issuer: issuer, alice: alice}
}

func (env *testEnv) decrypt(t *testing.T, h fhe.Handle) uint64 {
	t.Helper()
	v, err := env.engine.Decrypt(h)
	require.NoError(t, err)
	return v
}

func (env *testEnv) reserves(t *testing.T) (uint64, uint64) {
	t.Helper()
	r0, r1, err := env.pair.Reserves()
	require.NoError(t, err)
	return env.decrypt(t, r0), env.decrypt(t, r1)
}

func (env *testEnv) supply(t *testing.T) uint64 {
	t.Helper()
	s, err := env.pair.LP().TotalSupply()
	require.NoError(t, err)
	return env.decrypt(t, s)
}

func (env *testEnv) lpBalance(t *testing.T, key *ledger.Key) uint64 {
	t.Helper()
	perm, err := ledger.SignPermission(env.pair.LP().Address(), key, key.SealingPublicKey())
	require.NoError(t, err)
	sealed, err := env.pair.LP().BalanceOf(key.Address, perm)
	require.NoError(t, err)
	v, err := fhe.Unseal(sealed, key.ECIES())
	require.NoError(t, err)
	return v
}

// deposit funds alice, moves (a0, a1) into the pair, and mints to alice.
func (env *testEnv) deposit(t *testing.T, a0, a1 uint64) fhe.Handle {
	t.Helper()
	require.NoError(t, env.tokenA.Mint(env.issuer.Address, env.alice.Address, a0))
	require.NoError(t, env.tokenB.Mint(env.issuer.Address, env.alice.Address, a1))
	h0, err := env.engine.Encrypt(a0)
	require.NoError(t, err)
	h1, err := env.engine.Encrypt(a1)
	require.NoError(t, err)
	paid0, err := env.tokenA.Move(env.alice.Address, env.pair.Address(), h0)
	require.NoError(t, err)
	paid1, err := env.tokenB.Move(env.alice.Address, env.pair.Address(), h1)
	require.NoError(t, err)
	liquidity, err := env.pair.Mint(env.alice.Address, paid0, paid1)
	require.NoError(t, err)
	return liquidity
}

// TestFirstLiquidity tests the fixture: (100,100) into an empty pair mints 99
func TestFirstLiquidity(t *testing.T) {
	env := newTestEnv(t)

	liquidity := env.deposit(t, 100, 100)
	require.Equal(t, uint64(99), env.decrypt(t, liquidity))
	require.Equal(t, uint64(99), env.lpBalance(t, env.alice))
	require.Equal(t, uint64(99), env.supply(t), "the withheld unit is never minted to anyone")

	r0, r1 := env.reserves(t)
	require.Equal(t, uint64(100), r0)
	require.Equal(t, uint64(100), r1)
}

// TestFirstLiquidityRule tests liquidity = floor(sqrt(a0*a1)) - 1
func TestFirstLiquidityRule(t *testing.T) {
	tests := []struct {
		name     string
		a0, a1   uint64
		expected uint64
	}{
		{"square", 100, 100, 99},
		{"uneven", 100, 400, 199},
		{"floors", 10, 11, 9},
		{"minimal", 1, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			liquidity := env.deposit(t, tt.a0, tt.a1)
			require.Equal(t, tt.expected, env.decrypt(t, liquidity))
		})
	}
}

// TestProportionalMint tests the proportional-deposit rule against seeded reserves
func TestProportionalMint(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, 100, 100)

	// min(floor(5*99/100), floor(10*99/100)) = min(4, 9) = 4
	liquidity := env.deposit(t, 5, 10)
	require.Equal(t, uint64(4), env.decrypt(t, liquidity))
	require.Equal(t, uint64(103), env.supply(t))

	r0, r1 := env.reserves(t)
	require.Equal(t, uint64(105), r0)
	require.Equal(t, uint64(110), r1)
}

// TestSwap tests the fixture: swap 30 into (100,100) yields 23
func TestSwap(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, 100, 100)

	require.NoError(t, env.tokenA.Mint(env.issuer.Address, env.alice.Address, 30))
	in, err := env.engine.Encrypt(30)
	require.NoError(t, err)
	paid, err := env.tokenA.Move(env.alice.Address, env.pair.Address(), in)
	require.NoError(t, err)

	out, err := env.pair.Swap(env.tokenA.Address(), paid, 23, env.alice.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(23), env.decrypt(t, out))

	r0, r1 := env.reserves(t)
	require.Equal(t, uint64(130), r0)
	require.Equal(t, uint64(77), r1)
	require.GreaterOrEqual(t, r0*r1, uint64(100*100), "reserve product never decreases")
}

// TestSwapBothDirections tests the symmetric leg
func TestSwapBothDirections(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, 100, 100)

	require.NoError(t, env.tokenB.Mint(env.issuer.Address, env.alice.Address, 30))
	in, err := env.engine.Encrypt(30)
	require.NoError(t, err)
	paid, err := env.tokenB.Move(env.alice.Address, env.pair.Address(), in)
	require.NoError(t, err)

	out, err := env.pair.Swap(env.tokenB.Address(), paid, 0, env.alice.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(23), env.decrypt(t, out))

	r0, r1 := env.reserves(t)
	require.Equal(t, uint64(77), r0)
	require.Equal(t, uint64(130), r1)
}

// TestSwapSlippageAborts tests the hard abort with no reserve mutation
func TestSwapSlippageAborts(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, 100, 100)

	in, err := env.engine.Encrypt(30)
	require.NoError(t, err)
	_, err = env.pair.Swap(env.tokenA.Address(), in, 24, env.alice.Address)
	require.ErrorIs(t, err, ErrSlippageExceeded)

	r0, r1 := env.reserves(t)
	require.Equal(t, uint64(100), r0)
	require.Equal(t, uint64(100), r1)
}

// TestSwapUnknownToken tests the input-token check
func TestSwapUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, 100, 100)

	in, err := env.engine.Encrypt(1)
	require.NoError(t, err)
	_, err = env.pair.Swap(common.HexToAddress("0x9999"), in, 0, env.alice.Address)
	require.ErrorIs(t, err, ErrUnknownToken)
}

// TestBurn tests the fixture: burn 50 of 99 LP against (100,100)
func TestBurn(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, 100, 100)

	liq, err := env.engine.Encrypt(50)
	require.NoError(t, err)
	a0, a1, err := env.pair.Burn(env.alice.Address, liq, env.alice.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(50), env.decrypt(t, a0))
	require.Equal(t, uint64(50), env.decrypt(t, a1))

	r0, r1 := env.reserves(t)
	require.Equal(t, uint64(50), r0)
	require.Equal(t, uint64(50), r1)
	require.Equal(t, uint64(49), env.supply(t))
	require.Equal(t, uint64(49), env.lpBalance(t, env.alice))
}

// TestBurnInsufficientIsNoOp tests the guarded burn path
func TestBurnInsufficientIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.deposit(t, 100, 100)

	liq, err := env.engine.Encrypt(100)
	require.NoError(t, err)
	a0, a1, err := env.pair.Burn(env.alice.Address, liq, env.alice.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(0), env.decrypt(t, a0))
	require.Equal(t, uint64(0), env.decrypt(t, a1))

	r0, r1 := env.reserves(t)
	require.Equal(t, uint64(100), r0)
	require.Equal(t, uint64(100), r1)
	require.Equal(t, uint64(99), env.supply(t))
}

// TestSwapInvariantAcrossSizes tests k non-decrease over a range of trades
func TestSwapInvariantAcrossSizes(t *testing.T) {
	for _, amountIn := range []uint64{1, 7, 30, 99, 250} {
		env := newTestEnv(t)
		env.deposit(t, 1000, 500)
		before0, before1 := env.reserves(t)

		require.NoError(t, env.tokenA.Mint(env.issuer.Address, env.alice.Address, amountIn))
		in, err := env.engine.Encrypt(amountIn)
		require.NoError(t, err)
		paid, err := env.tokenA.Move(env.alice.Address, env.pair.Address(), in)
		require.NoError(t, err)
		_, err = env.pair.Swap(env.tokenA.Address(), paid, 0, env.alice.Address)
		require.NoError(t, err)

		after0, after1 := env.reserves(t)
		require.GreaterOrEqual(t, after0*after1, before0*before1)
	}
}
