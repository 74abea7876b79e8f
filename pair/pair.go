// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pair implements the constant-product engine for one canonical
// token pair. Reserves and the LP supply are encrypted; branch decisions
// inside mint and burn go through guarded select so that deposit and
// withdrawal paths reveal nothing about amounts. The only disclosed bit is
// the swap slippage verdict, which concerns public market data.
package pair

import (
	"errors"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/cswap/fhe"
	"github.com/luxfi/cswap/ledger"
	"github.com/luxfi/cswap/state"
)

var (
	ErrSlippageExceeded = errors.New("pair: slippage exceeded")
	ErrUnknownToken     = errors.New("pair: token not in pair")
)

// Storage key prefixes for pair state
var (
	reserve0Key = []byte("res0")
	reserve1Key = []byte("res1")
)

func makeStorageKey(prefix []byte, id []byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// Pair owns the reserves and LP-share ledger of one canonical token pair.
// token0's address orders below token1's; the registry enforces this at
// creation.
type Pair struct {
	addr   common.Address
	engine fhe.Engine
	state  state.StateDB
	log    log.Logger

	token0 *ledger.Token
	token1 *ledger.Token
	lp     *ledger.Token
}

// New creates a pair engine at addr over the two canonical token ledgers.
// The LP-share ledger lives at the pair's own address with the pair as its
// mint authority.
func New(engine fhe.Engine, st state.StateDB, addr common.Address, token0, token1 *ledger.Token, logger log.Logger) *Pair {
	if logger == nil {
		logger = log.NoLog{}
	}
	lp := ledger.NewToken(engine, st, addr, "CSwap LP "+token0.Symbol()+"-"+token1.Symbol(), "cSLP", 18, addr, logger)
	return &Pair{
		addr:   addr,
		engine: engine,
		state:  st,
		log:    logger,
		token0: token0,
		token1: token1,
		lp:     lp,
	}
}

func (p *Pair) Address() common.Address { return p.addr }
func (p *Pair) Token0() *ledger.Token   { return p.token0 }
func (p *Pair) Token1() *ledger.Token   { return p.token1 }

// LP exposes the share ledger so holders can transfer and approve shares
// through the usual confidential interface.
func (p *Pair) LP() *ledger.Token { return p.lp }

// Reserves returns the opaque reserve handles (token0, token1).
func (p *Pair) Reserves() (fhe.Handle, fhe.Handle, error) {
	r0, err := p.reserve(reserve0Key)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	r1, err := p.reserve(reserve1Key)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	return r0, r1, nil
}

func (p *Pair) reserve(key []byte) (fhe.Handle, error) {
	h := p.state.GetState(p.addr, makeStorageKey(key, nil))
	if h == (common.Hash{}) {
		return p.engine.Encrypt(0)
	}
	return h, nil
}

func (p *Pair) setReserves(r0, r1 fhe.Handle) {
	p.state.SetState(p.addr, makeStorageKey(reserve0Key, nil), r0)
	p.state.SetState(p.addr, makeStorageKey(reserve1Key, nil), r1)
}

// Mint issues LP shares for a deposit of (amount0, amount1) already held by
// the pair. On the first deposit the minted liquidity is
// floor(sqrt(amount0*amount1))-1, with the one withheld unit never credited
// to any account; afterwards it is the proportional minimum over both
// legs. The branch is chosen by guarded select on supply==0, so the mint
// path itself does not reveal whether the pool was empty.
func (p *Pair) Mint(to common.Address, amount0, amount1 fhe.Handle) (fhe.Handle, error) {
	r0, r1, err := p.Reserves()
	if err != nil {
		return fhe.Handle{}, err
	}
	supply, err := p.lp.TotalSupply()
	if err != nil {
		return fhe.Handle{}, err
	}
	zero, err := p.engine.Encrypt(0)
	if err != nil {
		return fhe.Handle{}, err
	}
	one, err := p.engine.Encrypt(1)
	if err != nil {
		return fhe.Handle{}, err
	}

	// First-deposit branch: floor(sqrt(a0*a1)) - 1, clamped to zero for a
	// degenerate zero deposit so the withheld unit cannot wrap.
	prod, err := p.engine.Mul(amount0, amount1)
	if err != nil {
		return fhe.Handle{}, err
	}
	root, err := p.engine.Sqrt(prod)
	if err != nil {
		return fhe.Handle{}, err
	}
	rootLess, err := p.engine.ScalarSub(root, 1)
	if err != nil {
		return fhe.Handle{}, err
	}
	nonEmpty, err := p.engine.Ge(root, one)
	if err != nil {
		return fhe.Handle{}, err
	}
	first, err := p.engine.Select(nonEmpty, rootLess, zero)
	if err != nil {
		return fhe.Handle{}, err
	}

	// Proportional branch: min over both legs against current reserves.
	l0, err := p.proportional(amount0, supply, r0)
	if err != nil {
		return fhe.Handle{}, err
	}
	l1, err := p.proportional(amount1, supply, r1)
	if err != nil {
		return fhe.Handle{}, err
	}
	prop, err := p.engine.Min(l0, l1)
	if err != nil {
		return fhe.Handle{}, err
	}

	isFirst, err := p.engine.Eq(supply, zero)
	if err != nil {
		return fhe.Handle{}, err
	}
	liquidity, err := p.engine.Select(isFirst, first, prop)
	if err != nil {
		return fhe.Handle{}, err
	}

	if err := p.lp.MintEncrypted(p.addr, to, liquidity); err != nil {
		return fhe.Handle{}, err
	}
	r0, err = p.engine.Add(r0, amount0)
	if err != nil {
		return fhe.Handle{}, err
	}
	r1, err = p.engine.Add(r1, amount1)
	if err != nil {
		return fhe.Handle{}, err
	}
	p.setReserves(r0, r1)
	p.log.Debug("mint",
		log.Stringer("pair", p.addr),
		log.Stringer("to", to),
	)
	return liquidity, nil
}

// proportional computes floor(amount * supply / reserve).
func (p *Pair) proportional(amount, supply, reserve fhe.Handle) (fhe.Handle, error) {
	num, err := p.engine.Mul(amount, supply)
	if err != nil {
		return fhe.Handle{}, err
	}
	return p.engine.Div(num, reserve)
}

// Burn redeems up to liquidity of caller's LP shares for a pro-rata slice
// of both reserves, paid to to. A caller holding fewer shares than
// requested burns nothing and receives zero of each token; the call still
// succeeds.
func (p *Pair) Burn(caller common.Address, liquidity fhe.Handle, to common.Address) (fhe.Handle, fhe.Handle, error) {
	r0, r1, err := p.Reserves()
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	supply, err := p.lp.TotalSupply()
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	burned, err := p.lp.Burn(p.addr, caller, liquidity)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	zero, err := p.engine.Encrypt(0)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	nothing, err := p.engine.Eq(burned, zero)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	amount0, err := p.redeem(burned, r0, supply, nothing, zero)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	amount1, err := p.redeem(burned, r1, supply, nothing, zero)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}

	if _, err := p.token0.Move(p.addr, to, amount0); err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	if _, err := p.token1.Move(p.addr, to, amount1); err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	r0, err = p.engine.Sub(r0, amount0)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	r1, err = p.engine.Sub(r1, amount1)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	p.setReserves(r0, r1)
	p.log.Debug("burn",
		log.Stringer("pair", p.addr),
		log.Stringer("caller", caller),
	)
	return amount0, amount1, nil
}

// redeem computes floor(burned * reserve / supply), forced to zero when the
// burn was a guarded no-op so an empty supply cannot poison the division.
func (p *Pair) redeem(burned, reserve, supply, nothing, zero fhe.Handle) (fhe.Handle, error) {
	num, err := p.engine.Mul(burned, reserve)
	if err != nil {
		return fhe.Handle{}, err
	}
	out, err := p.engine.Div(num, supply)
	if err != nil {
		return fhe.Handle{}, err
	}
	return p.engine.Select(nothing, zero, out)
}

// Swap trades amountIn of tokenIn, already delivered to the pair, for the
// other token, paying the output to to. The fee is 0.3%:
// out = floor(in*997*reserveOut / (reserveIn*1000 + in*997)), which keeps
// the reserve product non-decreasing. The slippage verdict against
// amountOutMin is decrypted and a failure is a hard abort with no state
// change.
//
// The encrypted arithmetic is 64-bit, so in*997*reserveOut must stay
// below 2^64: reserves and trade sizes are expected to stay under about
// 2^27 units. Inside that range the router's GetAmountOut, which quotes
// the same formula in 256-bit arithmetic, agrees with Swap exactly.
func (p *Pair) Swap(tokenIn common.Address, amountIn fhe.Handle, amountOutMin uint64, to common.Address) (fhe.Handle, error) {
	r0, r1, err := p.Reserves()
	if err != nil {
		return fhe.Handle{}, err
	}

	var reserveIn, reserveOut fhe.Handle
	var tokenOut *ledger.Token
	switch tokenIn {
	case p.token0.Address():
		reserveIn, reserveOut, tokenOut = r0, r1, p.token1
	case p.token1.Address():
		reserveIn, reserveOut, tokenOut = r1, r0, p.token0
	default:
		return fhe.Handle{}, ErrUnknownToken
	}

	inWithFee, err := p.engine.ScalarMul(amountIn, 997)
	if err != nil {
		return fhe.Handle{}, err
	}
	num, err := p.engine.Mul(inWithFee, reserveOut)
	if err != nil {
		return fhe.Handle{}, err
	}
	scaledIn, err := p.engine.ScalarMul(reserveIn, 1000)
	if err != nil {
		return fhe.Handle{}, err
	}
	den, err := p.engine.Add(scaledIn, inWithFee)
	if err != nil {
		return fhe.Handle{}, err
	}
	amountOut, err := p.engine.Div(num, den)
	if err != nil {
		return fhe.Handle{}, err
	}

	minOut, err := p.engine.Encrypt(amountOutMin)
	if err != nil {
		return fhe.Handle{}, err
	}
	enough, err := p.engine.Ge(amountOut, minOut)
	if err != nil {
		return fhe.Handle{}, err
	}
	ok, err := p.engine.DecryptBool(enough)
	if err != nil {
		return fhe.Handle{}, err
	}
	if !ok {
		return fhe.Handle{}, ErrSlippageExceeded
	}

	if _, err := tokenOut.Move(p.addr, to, amountOut); err != nil {
		return fhe.Handle{}, err
	}
	reserveIn, err = p.engine.Add(reserveIn, amountIn)
	if err != nil {
		return fhe.Handle{}, err
	}
	reserveOut, err = p.engine.Sub(reserveOut, amountOut)
	if err != nil {
		return fhe.Handle{}, err
	}
	if tokenIn == p.token0.Address() {
		p.setReserves(reserveIn, reserveOut)
	} else {
		p.setReserves(reserveOut, reserveIn)
	}
	p.log.Debug("swap",
		log.Stringer("pair", p.addr),
		log.Stringer("tokenIn", tokenIn),
		log.Stringer("to", to),
	)
	return amountOut, nil
}
