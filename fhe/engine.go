// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe provides the guarded arithmetic capability used by the
// confidential AMM. Encrypted amounts are referenced by opaque handles;
// all arithmetic, comparison, and conditional selection happens inside an
// Engine so that callers never branch on plaintext. Disclosure is explicit:
// DecryptBool for abort gating, Seal for requester-bound reads.
package fhe

import (
	"errors"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Handle names an opaque ciphertext held by an Engine.
type Handle = common.Hash

var (
	ErrUnknownHandle    = errors.New("unknown ciphertext handle")
	ErrOperationFailed  = errors.New("guarded arithmetic operation failed")
	ErrInvalidPublicKey = errors.New("invalid sealing public key")
)

// Engine is the coprocessor interface for guarded 64-bit arithmetic.
//
// Arithmetic wraps modulo 2^64. Div and Sqrt floor their results; Div by an
// encrypted zero yields the maximum value. Comparison and logic ops return
// handles to encrypted booleans, consumed only by Select, And, or
// DecryptBool.
type Engine interface {
	// Encrypt introduces a plaintext value into the encrypted domain.
	Encrypt(value uint64) (Handle, error)

	Add(a, b Handle) (Handle, error)
	Sub(a, b Handle) (Handle, error)
	Mul(a, b Handle) (Handle, error)
	Div(a, b Handle) (Handle, error)
	Min(a, b Handle) (Handle, error)
	Sqrt(a Handle) (Handle, error)

	Ge(a, b Handle) (Handle, error)
	Eq(a, b Handle) (Handle, error)
	And(a, b Handle) (Handle, error)

	// Select returns ifTrue where cond holds and ifFalse elsewhere,
	// without revealing cond.
	Select(cond, ifTrue, ifFalse Handle) (Handle, error)

	ScalarMul(a Handle, k uint64) (Handle, error)
	ScalarSub(a Handle, k uint64) (Handle, error)

	// DecryptBool discloses an encrypted boolean. Callers use it only to
	// gate hard aborts on public facts (slippage against public reserves),
	// never on private balances.
	DecryptBool(h Handle) (bool, error)

	// Decrypt discloses a full value. Reserved for public market data
	// (reserve quotes) and tests; ledger balances are never passed here.
	Decrypt(h Handle) (uint64, error)

	// Seal re-encrypts a value for the holder of publicKey (65-byte
	// uncompressed secp256k1 point).
	Seal(h Handle, publicKey []byte) ([]byte, error)
}

// store keeps ciphertext bytes in a database keyed by content hash.
type store struct {
	db database.Database
}

func newStore(db database.Database) *store {
	return &store{db: db}
}

// put saves a ciphertext and returns its handle.
func (s *store) put(ct []byte) (Handle, error) {
	h := blake3.New()
	h.Write(ct)
	var handle Handle
	h.Digest().Read(handle[:])
	if err := s.db.Put(handle[:], ct); err != nil {
		return Handle{}, err
	}
	return handle, nil
}

// get retrieves a ciphertext by handle.
func (s *store) get(handle Handle) ([]byte, error) {
	ct, err := s.db.Get(handle[:])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUnknownHandle
		}
		return nil, err
	}
	return ct, nil
}
