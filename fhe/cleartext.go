// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/crypto"
	"github.com/luxfi/crypto/ecies"
)

// Cleartext is an Engine that stores plaintext values behind opaque
// handles. It implements the exact semantics documented on Engine and is
// the backend for development networks and deterministic tests; it offers
// no confidentiality against a party that can read the backing database.
type Cleartext struct {
	store *store

	mu    sync.Mutex
	nonce uint64
}

var _ Engine = (*Cleartext)(nil)

// NewCleartext creates a cleartext engine storing values in db.
func NewCleartext(db database.Database) *Cleartext {
	return &Cleartext{store: newStore(db)}
}

// putValue records v under a fresh handle. The nonce keeps handles for
// equal values distinct, so handle reuse never leaks value equality.
func (c *Cleartext) putValue(v uint64) (Handle, error) {
	c.mu.Lock()
	c.nonce++
	n := c.nonce
	c.mu.Unlock()

	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], v)
	binary.BigEndian.PutUint64(buf[8:16], n)
	return c.store.put(buf)
}

func (c *Cleartext) getValue(h Handle) (uint64, error) {
	buf, err := c.store.get(h)
	if err != nil {
		return 0, err
	}
	if len(buf) != 16 {
		return 0, ErrOperationFailed
	}
	return binary.BigEndian.Uint64(buf[0:8]), nil
}

func (c *Cleartext) Encrypt(value uint64) (Handle, error) {
	return c.putValue(value)
}

func (c *Cleartext) binaryOp(a, b Handle, op func(x, y uint64) uint64) (Handle, error) {
	x, err := c.getValue(a)
	if err != nil {
		return Handle{}, err
	}
	y, err := c.getValue(b)
	if err != nil {
		return Handle{}, err
	}
	return c.putValue(op(x, y))
}

func (c *Cleartext) Add(a, b Handle) (Handle, error) {
	return c.binaryOp(a, b, func(x, y uint64) uint64 { return x + y })
}

func (c *Cleartext) Sub(a, b Handle) (Handle, error) {
	return c.binaryOp(a, b, func(x, y uint64) uint64 { return x - y })
}

func (c *Cleartext) Mul(a, b Handle) (Handle, error) {
	return c.binaryOp(a, b, func(x, y uint64) uint64 { return x * y })
}

func (c *Cleartext) Div(a, b Handle) (Handle, error) {
	return c.binaryOp(a, b, func(x, y uint64) uint64 {
		if y == 0 {
			return math.MaxUint64
		}
		return x / y
	})
}

func (c *Cleartext) Min(a, b Handle) (Handle, error) {
	return c.binaryOp(a, b, func(x, y uint64) uint64 {
		if x < y {
			return x
		}
		return y
	})
}

func (c *Cleartext) Sqrt(a Handle) (Handle, error) {
	v, err := c.getValue(a)
	if err != nil {
		return Handle{}, err
	}
	return c.putValue(isqrt(v))
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (c *Cleartext) Ge(a, b Handle) (Handle, error) {
	return c.binaryOp(a, b, func(x, y uint64) uint64 { return boolWord(x >= y) })
}

func (c *Cleartext) Eq(a, b Handle) (Handle, error) {
	return c.binaryOp(a, b, func(x, y uint64) uint64 { return boolWord(x == y) })
}

func (c *Cleartext) And(a, b Handle) (Handle, error) {
	return c.binaryOp(a, b, func(x, y uint64) uint64 { return boolWord(x != 0 && y != 0) })
}

func (c *Cleartext) Select(cond, ifTrue, ifFalse Handle) (Handle, error) {
	v, err := c.getValue(cond)
	if err != nil {
		return Handle{}, err
	}
	if v != 0 {
		x, err := c.getValue(ifTrue)
		if err != nil {
			return Handle{}, err
		}
		return c.putValue(x)
	}
	x, err := c.getValue(ifFalse)
	if err != nil {
		return Handle{}, err
	}
	return c.putValue(x)
}

func (c *Cleartext) ScalarMul(a Handle, k uint64) (Handle, error) {
	v, err := c.getValue(a)
	if err != nil {
		return Handle{}, err
	}
	return c.putValue(v * k)
}

func (c *Cleartext) ScalarSub(a Handle, k uint64) (Handle, error) {
	v, err := c.getValue(a)
	if err != nil {
		return Handle{}, err
	}
	return c.putValue(v - k)
}

func (c *Cleartext) DecryptBool(h Handle) (bool, error) {
	v, err := c.getValue(h)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (c *Cleartext) Decrypt(h Handle) (uint64, error) {
	return c.getValue(h)
}

// Seal ECIES-encrypts the value for the holder of publicKey.
func (c *Cleartext) Seal(h Handle, publicKey []byte) ([]byte, error) {
	v, err := c.getValue(h)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.UnmarshalPubkey(publicKey)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	plain := make([]byte, 8)
	binary.BigEndian.PutUint64(plain, v)
	return ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), plain, nil, nil)
}

// Unseal decrypts a sealed value with the requester private key. It is the
// client-side counterpart of Seal.
func Unseal(sealed []byte, privateKey *ecies.PrivateKey) (uint64, error) {
	plain, err := privateKey.Decrypt(sealed, nil, nil)
	if err != nil {
		return 0, err
	}
	if len(plain) != 8 {
		return 0, ErrOperationFailed
	}
	return binary.BigEndian.Uint64(plain), nil
}
