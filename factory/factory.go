// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package factory implements the pair registry: canonical, idempotent pair
// creation, the admin fee-routing fields, and the token registry the
// router uses to resolve ledger instances.
package factory

import (
	"bytes"
	"errors"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/cswap/fhe"
	"github.com/luxfi/cswap/ledger"
	"github.com/luxfi/cswap/pair"
	"github.com/luxfi/cswap/state"
)

var (
	ErrIdenticalAddresses = errors.New("factory: identical addresses")
	ErrZeroAddress        = errors.New("factory: zero address")
	ErrPairExists         = errors.New("factory: pair exists")
	ErrForbidden          = errors.New("factory: forbidden")
	ErrTokenNotRegistered = errors.New("factory: token not registered")
)

var pairSalt = []byte("pair")

// PairCreated is the creation record emitted for every new pair.
type PairCreated struct {
	Token0 common.Address
	Token1 common.Address
	Pair   common.Address
	Index  int
}

// Factory is the singleton pair registry. All mutating calls are
// serialized by the hosting environment; the mutex additionally covers
// concurrent read access to the maps.
type Factory struct {
	addr   common.Address
	engine fhe.Engine
	state  state.StateDB
	log    log.Logger

	mu          sync.RWMutex
	tokens      map[common.Address]*ledger.Token
	pairs       map[common.Hash]*pair.Pair
	allPairs    []*pair.Pair
	events      []PairCreated
	feeTo       common.Address
	feeToSetter common.Address
}

// New creates a factory at addr. feeToSetter is the only account allowed
// to route protocol fees.
func New(engine fhe.Engine, st state.StateDB, addr, feeToSetter common.Address, logger log.Logger) *Factory {
	if logger == nil {
		logger = log.NoLog{}
	}
	return &Factory{
		addr:        addr,
		engine:      engine,
		state:       st,
		log:         logger,
		tokens:      make(map[common.Address]*ledger.Token),
		pairs:       make(map[common.Hash]*pair.Pair),
		feeToSetter: feeToSetter,
	}
}

func (f *Factory) Address() common.Address { return f.addr }

// =========================================================================
// Token registry
// =========================================================================

// RegisterToken makes a ledger resolvable by address for pair creation and
// routing. Re-registering an address overwrites the previous entry.
func (f *Factory) RegisterToken(t *ledger.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[t.Address()] = t
	f.log.Debug("token registered",
		log.Stringer("token", t.Address()),
		log.String("symbol", t.Symbol()),
	)
}

// Token resolves a registered ledger.
func (f *Factory) Token(addr common.Address) (*ledger.Token, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tokens[addr]
	return t, ok
}

// =========================================================================
// Pair creation and lookup
// =========================================================================

// sortTokens canonicalizes an unordered pair by address order.
// Uses bytes comparison for correct address ordering
func sortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) < 0 {
		return tokenA, tokenB
	}
	return tokenB, tokenA
}

// pairKey identifies the canonical pair in the registry map.
func (f *Factory) pairKey(token0, token1 common.Address) common.Hash {
	h := blake3.New()
	h.Write(token0.Bytes())
	h.Write(token1.Bytes())
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// pairAddress derives the deterministic address of the canonical pair.
func (f *Factory) pairAddress(token0, token1 common.Address) common.Address {
	h := blake3.New()
	h.Write(pairSalt)
	h.Write(f.addr.Bytes())
	h.Write(token0.Bytes())
	h.Write(token1.Bytes())
	var sum common.Hash
	h.Digest().Read(sum[:])
	return common.BytesToAddress(sum[12:])
}

// CreatePair instantiates the pair engine for an unordered token pair.
// The arguments may come in either order; both resolve to the same
// canonical pair, and a second creation fails with ErrPairExists.
func (f *Factory) CreatePair(tokenA, tokenB common.Address) (*pair.Pair, error) {
	if tokenA == tokenB {
		return nil, ErrIdenticalAddresses
	}
	if tokenA == (common.Address{}) || tokenB == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	token0, token1 := sortTokens(tokenA, tokenB)

	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.pairKey(token0, token1)
	if _, ok := f.pairs[key]; ok {
		return nil, ErrPairExists
	}
	ledger0, ok := f.tokens[token0]
	if !ok {
		return nil, ErrTokenNotRegistered
	}
	ledger1, ok := f.tokens[token1]
	if !ok {
		return nil, ErrTokenNotRegistered
	}

	p := pair.New(f.engine, f.state, f.pairAddress(token0, token1), ledger0, ledger1, f.log)
	f.pairs[key] = p
	f.allPairs = append(f.allPairs, p)
	f.events = append(f.events, PairCreated{
		Token0: token0,
		Token1: token1,
		Pair:   p.Address(),
		Index:  len(f.allPairs),
	})
	f.log.Info("pair created",
		log.Stringer("token0", token0),
		log.Stringer("token1", token1),
		log.Stringer("pair", p.Address()),
	)
	return p, nil
}

// GetPair resolves the pair for an unordered token pair.
func (f *Factory) GetPair(tokenA, tokenB common.Address) (*pair.Pair, bool) {
	token0, token1 := sortTokens(tokenA, tokenB)
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.pairs[f.pairKey(token0, token1)]
	return p, ok
}

// AllPairs returns the pairs in creation order.
func (f *Factory) AllPairs() []*pair.Pair {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*pair.Pair, len(f.allPairs))
	copy(out, f.allPairs)
	return out
}

func (f *Factory) AllPairsLength() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.allPairs)
}

// Events returns the creation records in emission order.
func (f *Factory) Events() []PairCreated {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]PairCreated, len(f.events))
	copy(out, f.events)
	return out
}

// =========================================================================
// Fee administration
// =========================================================================

func (f *Factory) FeeTo() common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.feeTo
}

func (f *Factory) FeeToSetter() common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.feeToSetter
}

// SetFeeTo routes protocol fees. Only the current fee setter may call it.
func (f *Factory) SetFeeTo(caller, feeTo common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.feeToSetter {
		return ErrForbidden
	}
	f.feeTo = feeTo
	return nil
}

// SetFeeToSetter hands the fee authority over. The previous setter loses
// authority the moment the call returns.
func (f *Factory) SetFeeToSetter(caller, setter common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.feeToSetter {
		return ErrForbidden
	}
	f.feeToSetter = setter
	f.log.Info("fee setter changed",
		log.Stringer("previous", caller),
		log.Stringer("setter", setter),
	)
	return nil
}
