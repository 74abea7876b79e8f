// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router orchestrates liquidity and multi-hop swap calls across
// pair engines. Every mutating call runs inside one state snapshot: if any
// hop or leg fails, the snapshot is reverted and nothing persists.
package router

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/cswap/factory"
	"github.com/luxfi/cswap/fhe"
	"github.com/luxfi/cswap/ledger"
	"github.com/luxfi/cswap/pair"
	"github.com/luxfi/cswap/state"
)

var (
	ErrInvalidPath  = errors.New("router: invalid path")
	ErrPairNotFound = errors.New("router: pair not found")
)

// Router is the user-facing convenience layer over the registry and pair
// engines.
type Router struct {
	addr    common.Address
	engine  fhe.Engine
	state   state.StateDB
	factory *factory.Factory
	log     log.Logger
}

// New creates a router at addr. Callers approve the router address as
// spender on their token ledgers before routing through it.
func New(engine fhe.Engine, st state.StateDB, addr common.Address, f *factory.Factory, logger log.Logger) *Router {
	if logger == nil {
		logger = log.NoLog{}
	}
	return &Router{
		addr:    addr,
		engine:  engine,
		state:   st,
		factory: f,
		log:     logger,
	}
}

func (r *Router) Address() common.Address { return r.addr }

// AddLiquidity pulls both legs from caller into the pair (creating the
// pair on first use) and mints LP shares to to. The pulls are guarded
// transfers, so a short balance or allowance contributes zero on that leg.
// Returns the minted liquidity handle.
func (r *Router) AddLiquidity(caller, tokenA, tokenB common.Address, amountA, amountB fhe.Handle, permA, permB *ledger.Permission, to common.Address) (fhe.Handle, error) {
	p, ok := r.factory.GetPair(tokenA, tokenB)
	if !ok {
		var err error
		p, err = r.factory.CreatePair(tokenA, tokenB)
		if err != nil {
			return fhe.Handle{}, err
		}
	}

	// Snapshot after pair creation: registration is permanent, so a
	// reverted deposit must not erase the pair's LP ownership slots.
	snap := r.state.Snapshot()

	ledgerA, ledgerB := p.Token0(), p.Token1()
	if tokenA != ledgerA.Address() {
		ledgerA, ledgerB = ledgerB, ledgerA
	}
	paidA, err := ledgerA.TransferFrom(r.addr, caller, p.Address(), amountA, permA)
	if err != nil {
		r.state.RevertToSnapshot(snap)
		return fhe.Handle{}, err
	}
	paidB, err := ledgerB.TransferFrom(r.addr, caller, p.Address(), amountB, permB)
	if err != nil {
		r.state.RevertToSnapshot(snap)
		return fhe.Handle{}, err
	}

	paid0, paid1 := paidA, paidB
	if tokenA != p.Token0().Address() {
		paid0, paid1 = paidB, paidA
	}
	liquidity, err := p.Mint(to, paid0, paid1)
	if err != nil {
		r.state.RevertToSnapshot(snap)
		return fhe.Handle{}, err
	}
	r.log.Debug("liquidity added",
		log.Stringer("pair", p.Address()),
		log.Stringer("to", to),
	)
	return liquidity, nil
}

// RemoveLiquidity burns up to liquidity of caller's LP shares and pays the
// redeemed (amount0, amount1) to to, in canonical token order. The
// permission must bind the pair's LP ledger and name the caller.
func (r *Router) RemoveLiquidity(caller, tokenA, tokenB common.Address, liquidity fhe.Handle, perm *ledger.Permission, to common.Address) (fhe.Handle, fhe.Handle, error) {
	p, ok := r.factory.GetPair(tokenA, tokenB)
	if !ok {
		return fhe.Handle{}, fhe.Handle{}, ErrPairNotFound
	}
	if err := perm.Verify(p.LP().Address()); err != nil {
		return fhe.Handle{}, fhe.Handle{}, err
	}
	if perm.Bearer != caller {
		return fhe.Handle{}, fhe.Handle{}, ledger.ErrPermissionDenied
	}

	snap := r.state.Snapshot()
	amount0, amount1, err := p.Burn(caller, liquidity, to)
	if err != nil {
		r.state.RevertToSnapshot(snap)
		return fhe.Handle{}, fhe.Handle{}, err
	}
	return amount0, amount1, nil
}

// GetAmountOut quotes a multi-hop trade against current reserves without
// mutating state. Reserves are public market data, so the quote path works
// in plaintext.
func (r *Router) GetAmountOut(amountIn uint64, path []common.Address) (uint64, error) {
	if len(path) < 2 {
		return 0, ErrInvalidPath
	}
	current := amountIn
	for i := 0; i+1 < len(path); i++ {
		p, ok := r.factory.GetPair(path[i], path[i+1])
		if !ok {
			return 0, ErrInvalidPath
		}
		reserveIn, reserveOut, err := r.plainReserves(p, path[i])
		if err != nil {
			return 0, err
		}
		current = quote(current, reserveIn, reserveOut)
	}
	return current, nil
}

// plainReserves decrypts the pair reserves oriented by the input token.
func (r *Router) plainReserves(p *pair.Pair, tokenIn common.Address) (uint64, uint64, error) {
	h0, h1, err := p.Reserves()
	if err != nil {
		return 0, 0, err
	}
	r0, err := r.engine.Decrypt(h0)
	if err != nil {
		return 0, 0, err
	}
	r1, err := r.engine.Decrypt(h1)
	if err != nil {
		return 0, 0, err
	}
	if tokenIn == p.Token0().Address() {
		return r0, r1, nil
	}
	return r1, r0, nil
}

// quote applies out = floor(in*997*reserveOut / (reserveIn*1000 + in*997)).
// The intermediate products exceed 64 bits, so the math runs in uint256.
func quote(amountIn, reserveIn, reserveOut uint64) uint64 {
	inWithFee := new(uint256.Int).Mul(uint256.NewInt(amountIn), uint256.NewInt(997))
	num := new(uint256.Int).Mul(inWithFee, uint256.NewInt(reserveOut))
	den := new(uint256.Int).Mul(uint256.NewInt(reserveIn), uint256.NewInt(1000))
	den.Add(den, inWithFee)
	if den.IsZero() {
		return 0
	}
	return new(uint256.Int).Div(num, den).Uint64()
}

// SwapExactTokensForTokens trades amountIn of path[0] for the final path
// token, threading each hop's output into the next pair. The whole path is
// one atomic unit: intermediate hops run with a zero minimum, the final
// hop enforces amountOutMin, and any failure reverts every hop.
func (r *Router) SwapExactTokensForTokens(caller common.Address, amountIn fhe.Handle, amountOutMin uint64, permIn, permOut *ledger.Permission, path []common.Address, to common.Address) (fhe.Handle, error) {
	if len(path) < 2 {
		return fhe.Handle{}, ErrInvalidPath
	}
	pairs := make([]*pair.Pair, len(path)-1)
	for i := range pairs {
		p, ok := r.factory.GetPair(path[i], path[i+1])
		if !ok {
			return fhe.Handle{}, ErrPairNotFound
		}
		pairs[i] = p
	}

	ledgerIn, ok := r.factory.Token(path[0])
	if !ok {
		return fhe.Handle{}, ErrInvalidPath
	}
	ledgerOut, ok := r.factory.Token(path[len(path)-1])
	if !ok {
		return fhe.Handle{}, ErrInvalidPath
	}
	if err := permOut.Verify(ledgerOut.Address()); err != nil {
		return fhe.Handle{}, err
	}
	if permOut.Bearer != caller {
		return fhe.Handle{}, ledger.ErrPermissionDenied
	}

	snap := r.state.Snapshot()
	current, err := ledgerIn.TransferFrom(r.addr, caller, pairs[0].Address(), amountIn, permIn)
	if err != nil {
		r.state.RevertToSnapshot(snap)
		return fhe.Handle{}, err
	}
	for i, p := range pairs {
		minOut := uint64(0)
		recipient := to
		if i+1 < len(pairs) {
			recipient = pairs[i+1].Address()
		} else {
			minOut = amountOutMin
		}
		current, err = p.Swap(path[i], current, minOut, recipient)
		if err != nil {
			r.state.RevertToSnapshot(snap)
			return fhe.Handle{}, err
		}
	}
	r.log.Debug("swap routed",
		log.Stringer("caller", caller),
		log.Stringer("to", to),
		log.Int("hops", len(pairs)),
	)
	return current, nil
}
