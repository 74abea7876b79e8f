// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/cswap/fhe"
	"github.com/luxfi/cswap/state"
)

// Storage key prefixes for ledger state
var (
	balancePrefix   = []byte("bal")
	allowancePrefix = []byte("alow")
	supplyKey       = []byte("sply")
	ownerKey        = []byte("ownr")
	pendingOwnerKey = []byte("pnow")
)

// makeStorageKey creates a storage key from prefix and identifier
func makeStorageKey(prefix []byte, id []byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// Token is a confidential ledger instance. Balances, allowances, and the
// total supply are encrypted handles; the only plaintext state is the
// token metadata and the owner machine. Spend-path operations never abort
// on insufficiency: a short balance or allowance pays zero.
type Token struct {
	addr   common.Address
	engine fhe.Engine
	state  state.StateDB
	log    log.Logger

	name     string
	symbol   string
	decimals uint8
}

// NewToken creates a ledger at addr with the given metadata and initial
// owner. The owner is the only account that can mint.
func NewToken(engine fhe.Engine, st state.StateDB, addr common.Address, name, symbol string, decimals uint8, owner common.Address, logger log.Logger) *Token {
	if logger == nil {
		logger = log.NoLog{}
	}
	t := &Token{
		addr:     addr,
		engine:   engine,
		state:    st,
		log:      logger,
		name:     name,
		symbol:   symbol,
		decimals: decimals,
	}
	t.state.SetState(t.addr, makeStorageKey(ownerKey, nil), common.BytesToHash(owner.Bytes()))
	return t
}

func (t *Token) Address() common.Address { return t.addr }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// =========================================================================
// Ownership
// =========================================================================

func (t *Token) Owner() common.Address {
	return common.BytesToAddress(t.state.GetState(t.addr, makeStorageKey(ownerKey, nil)).Bytes())
}

func (t *Token) PendingOwner() common.Address {
	return common.BytesToAddress(t.state.GetState(t.addr, makeStorageKey(pendingOwnerKey, nil)).Bytes())
}

// TransferOwnership nominates candidate. The handover completes only when
// the candidate accepts; until then the current owner keeps its authority.
func (t *Token) TransferOwnership(caller, candidate common.Address) error {
	if caller != t.Owner() {
		return ErrForbidden
	}
	t.state.SetState(t.addr, makeStorageKey(pendingOwnerKey, nil), common.BytesToHash(candidate.Bytes()))
	t.log.Info("ownership transfer started",
		log.Stringer("token", t.addr),
		log.Stringer("candidate", candidate),
	)
	return nil
}

// AcceptOwnership completes a pending handover.
func (t *Token) AcceptOwnership(caller common.Address) error {
	if caller != t.PendingOwner() || caller == (common.Address{}) {
		return ErrNotPendingOwner
	}
	t.state.SetState(t.addr, makeStorageKey(ownerKey, nil), common.BytesToHash(caller.Bytes()))
	t.state.SetState(t.addr, makeStorageKey(pendingOwnerKey, nil), common.Hash{})
	t.log.Info("ownership transferred",
		log.Stringer("token", t.addr),
		log.Stringer("owner", caller),
	)
	return nil
}

// =========================================================================
// Encrypted state accessors
// =========================================================================

// balance returns the handle for owner's balance, encrypting a fresh zero
// for accounts that have never held the token.
func (t *Token) balance(owner common.Address) (fhe.Handle, error) {
	h := t.state.GetState(t.addr, makeStorageKey(balancePrefix, owner.Bytes()))
	if h == (common.Hash{}) {
		return t.engine.Encrypt(0)
	}
	return h, nil
}

func (t *Token) setBalance(owner common.Address, h fhe.Handle) {
	t.state.SetState(t.addr, makeStorageKey(balancePrefix, owner.Bytes()), h)
}

func allowanceID(owner, spender common.Address) []byte {
	id := make([]byte, 0, 2*common.AddressLength)
	id = append(id, owner.Bytes()...)
	id = append(id, spender.Bytes()...)
	return id
}

func (t *Token) allowance(owner, spender common.Address) (fhe.Handle, error) {
	h := t.state.GetState(t.addr, makeStorageKey(allowancePrefix, allowanceID(owner, spender)))
	if h == (common.Hash{}) {
		return t.engine.Encrypt(0)
	}
	return h, nil
}

func (t *Token) setAllowance(owner, spender common.Address, h fhe.Handle) {
	t.state.SetState(t.addr, makeStorageKey(allowancePrefix, allowanceID(owner, spender)), h)
}

// TotalSupply returns the opaque handle of the total supply.
func (t *Token) TotalSupply() (fhe.Handle, error) {
	h := t.state.GetState(t.addr, makeStorageKey(supplyKey, nil))
	if h == (common.Hash{}) {
		return t.engine.Encrypt(0)
	}
	return h, nil
}

func (t *Token) setTotalSupply(h fhe.Handle) {
	t.state.SetState(t.addr, makeStorageKey(supplyKey, nil), h)
}

// =========================================================================
// Supply
// =========================================================================

// Mint credits to with a plaintext amount. Owner only.
func (t *Token) Mint(caller, to common.Address, amount uint64) error {
	if caller != t.Owner() {
		return ErrForbidden
	}
	amt, err := t.engine.Encrypt(amount)
	if err != nil {
		return err
	}
	return t.mint(to, amt)
}

// MintEncrypted credits to with an already-encrypted amount. Owner only;
// used by the pair engine to issue computed liquidity shares.
func (t *Token) MintEncrypted(caller, to common.Address, amount fhe.Handle) error {
	if caller != t.Owner() {
		return ErrForbidden
	}
	return t.mint(to, amount)
}

func (t *Token) mint(to common.Address, amount fhe.Handle) error {
	bal, err := t.balance(to)
	if err != nil {
		return err
	}
	bal, err = t.engine.Add(bal, amount)
	if err != nil {
		return err
	}
	supply, err := t.TotalSupply()
	if err != nil {
		return err
	}
	supply, err = t.engine.Add(supply, amount)
	if err != nil {
		return err
	}
	t.setBalance(to, bal)
	t.setTotalSupply(supply)
	t.log.Debug("mint",
		log.Stringer("token", t.addr),
		log.Stringer("to", to),
	)
	return nil
}

// Burn removes up to amount from from's balance and the total supply,
// guarded by from's balance. Owner only. Returns the handle of the amount
// actually burned.
func (t *Token) Burn(caller, from common.Address, amount fhe.Handle) (fhe.Handle, error) {
	if caller != t.Owner() {
		return fhe.Handle{}, ErrForbidden
	}
	bal, err := t.balance(from)
	if err != nil {
		return fhe.Handle{}, err
	}
	burned, err := t.guardSpend(bal, amount)
	if err != nil {
		return fhe.Handle{}, err
	}
	bal, err = t.engine.Sub(bal, burned)
	if err != nil {
		return fhe.Handle{}, err
	}
	supply, err := t.TotalSupply()
	if err != nil {
		return fhe.Handle{}, err
	}
	supply, err = t.engine.Sub(supply, burned)
	if err != nil {
		return fhe.Handle{}, err
	}
	t.setBalance(from, bal)
	t.setTotalSupply(supply)
	return burned, nil
}

// =========================================================================
// Transfers
// =========================================================================

// guardSpend returns select(budget >= amount, amount, 0) without revealing
// which arm was taken.
func (t *Token) guardSpend(budget, amount fhe.Handle) (fhe.Handle, error) {
	ok, err := t.engine.Ge(budget, amount)
	if err != nil {
		return fhe.Handle{}, err
	}
	zero, err := t.engine.Encrypt(0)
	if err != nil {
		return fhe.Handle{}, err
	}
	return t.engine.Select(ok, amount, zero)
}

// move debits paid from from and credits it to to, where paid is amount
// guarded by from's balance. Returns the paid handle.
func (t *Token) move(from, to common.Address, amount fhe.Handle) (fhe.Handle, error) {
	balFrom, err := t.balance(from)
	if err != nil {
		return fhe.Handle{}, err
	}
	paid, err := t.guardSpend(balFrom, amount)
	if err != nil {
		return fhe.Handle{}, err
	}
	balFrom, err = t.engine.Sub(balFrom, paid)
	if err != nil {
		return fhe.Handle{}, err
	}
	balTo, err := t.balance(to)
	if err != nil {
		return fhe.Handle{}, err
	}
	balTo, err = t.engine.Add(balTo, paid)
	if err != nil {
		return fhe.Handle{}, err
	}
	t.setBalance(from, balFrom)
	t.setBalance(to, balTo)
	return paid, nil
}

// Transfer moves up to amount from caller to to. Insufficient balance pays
// zero; the call still succeeds so observers learn nothing.
func (t *Token) Transfer(caller, to common.Address, amount fhe.Handle, perm *Permission) error {
	if err := perm.Verify(t.addr); err != nil {
		return err
	}
	if !perm.allows(caller) {
		return ErrPermissionDenied
	}
	_, err := t.move(caller, to, amount)
	if err != nil {
		return err
	}
	t.log.Debug("transfer",
		log.Stringer("token", t.addr),
		log.Stringer("from", caller),
		log.Stringer("to", to),
	)
	return nil
}

// Approve overwrites caller's allowance for spender.
func (t *Token) Approve(caller, spender common.Address, amount fhe.Handle, perm *Permission) error {
	if err := perm.Verify(t.addr); err != nil {
		return err
	}
	if !perm.allows(caller) {
		return ErrPermissionDenied
	}
	t.setAllowance(caller, spender, amount)
	t.log.Debug("approve",
		log.Stringer("token", t.addr),
		log.Stringer("owner", caller),
		log.Stringer("spender", spender),
	)
	return nil
}

// TransferFrom moves up to amount from from to to on spender's authority.
// The spend is guarded by both from's balance and spender's allowance; if
// either falls short, zero moves and the allowance is untouched. Returns
// the handle of the amount actually paid.
func (t *Token) TransferFrom(spender, from, to common.Address, amount fhe.Handle, perm *Permission) (fhe.Handle, error) {
	if err := perm.Verify(t.addr); err != nil {
		return fhe.Handle{}, err
	}
	if !perm.allows(from) && !perm.allows(spender) {
		return fhe.Handle{}, ErrPermissionDenied
	}
	balFrom, err := t.balance(from)
	if err != nil {
		return fhe.Handle{}, err
	}
	allow, err := t.allowance(from, spender)
	if err != nil {
		return fhe.Handle{}, err
	}
	balOK, err := t.engine.Ge(balFrom, amount)
	if err != nil {
		return fhe.Handle{}, err
	}
	allowOK, err := t.engine.Ge(allow, amount)
	if err != nil {
		return fhe.Handle{}, err
	}
	ok, err := t.engine.And(balOK, allowOK)
	if err != nil {
		return fhe.Handle{}, err
	}
	zero, err := t.engine.Encrypt(0)
	if err != nil {
		return fhe.Handle{}, err
	}
	paid, err := t.engine.Select(ok, amount, zero)
	if err != nil {
		return fhe.Handle{}, err
	}
	balFrom, err = t.engine.Sub(balFrom, paid)
	if err != nil {
		return fhe.Handle{}, err
	}
	allow, err = t.engine.Sub(allow, paid)
	if err != nil {
		return fhe.Handle{}, err
	}
	balTo, err := t.balance(to)
	if err != nil {
		return fhe.Handle{}, err
	}
	balTo, err = t.engine.Add(balTo, paid)
	if err != nil {
		return fhe.Handle{}, err
	}
	t.setBalance(from, balFrom)
	t.setBalance(to, balTo)
	t.setAllowance(from, spender, allow)
	return paid, nil
}

// Move is the host-mediated guarded transfer used by the AMM engine for
// pair payouts and hop threading. The caller identity is authenticated by
// the hosting environment, so no permission is required. Returns the
// handle of the amount actually moved.
func (t *Token) Move(from, to common.Address, amount fhe.Handle) (fhe.Handle, error) {
	return t.move(from, to, amount)
}

// =========================================================================
// Sealed reads
// =========================================================================

// BalanceOf returns owner's balance sealed to the permission's key. The
// permission must bind this token and name owner.
func (t *Token) BalanceOf(owner common.Address, perm *Permission) ([]byte, error) {
	if err := perm.Verify(t.addr); err != nil {
		return nil, err
	}
	if !perm.allows(owner) {
		return nil, ErrPermissionDenied
	}
	bal, err := t.balance(owner)
	if err != nil {
		return nil, err
	}
	return t.engine.Seal(bal, perm.PublicKey)
}

// Allowance returns the owner->spender allowance sealed to the
// permission's key. Either party to the allowance may read it.
func (t *Token) Allowance(owner, spender common.Address, perm *Permission) ([]byte, error) {
	if err := perm.Verify(t.addr); err != nil {
		return nil, err
	}
	if !perm.allows(owner) && !perm.allows(spender) {
		return nil, ErrPermissionDenied
	}
	allow, err := t.allowance(owner, spender)
	if err != nil {
		return nil, err
	}
	return t.engine.Seal(allow, perm.PublicKey)
}
