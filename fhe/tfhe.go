// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/fhe"
)

// TFHE is the production Engine backed by the TFHE bitwise evaluator.
// It plays the role of the external coprocessor: it holds the network
// secret key, so threshold-style operations (Sqrt, DecryptBool, Seal)
// are performed key-side and re-enter the encrypted domain immediately.
type TFHE struct {
	store *store

	initOnce  sync.Once
	initErr   error
	params    fhe.Parameters
	evaluator *fhe.BitwiseEvaluator
	encryptor *fhe.BitwiseEncryptor
	decryptor *fhe.BitwiseDecryptor
	secretKey *fhe.SecretKey
	publicKey *fhe.PublicKey
}

var _ Engine = (*TFHE)(nil)

// NewTFHE creates a TFHE engine storing ciphertexts in db.
// Key generation is deferred to first use.
func NewTFHE(db database.Database) *TFHE {
	return &TFHE{store: newStore(db)}
}

func (t *TFHE) init() error {
	t.initOnce.Do(func() {
		params, err := fhe.NewParametersFromLiteral(fhe.PN10QP27)
		if err != nil {
			t.initErr = err
			return
		}
		t.params = params

		kg := fhe.NewKeyGenerator(params)
		t.secretKey, t.publicKey = kg.GenKeyPair()
		bsk := kg.GenBootstrapKey(t.secretKey)

		t.encryptor = fhe.NewBitwiseEncryptor(params, t.secretKey)
		t.decryptor = fhe.NewBitwiseDecryptor(params, t.secretKey)
		t.evaluator = fhe.NewBitwiseEvaluator(params, bsk, t.secretKey)
	})
	return t.initErr
}

// NetworkPublicKey returns the coprocessor public key used by clients to
// encrypt inputs out of band.
func (t *TFHE) NetworkPublicKey() ([]byte, error) {
	if err := t.init(); err != nil {
		return nil, err
	}
	return t.publicKey.MarshalBinary()
}

func serializeBits(ct *fhe.BitCiphertext) ([]byte, error) {
	if ct == nil {
		return nil, ErrOperationFailed
	}
	return ct.MarshalBinary()
}

func deserializeBits(data []byte) (*fhe.BitCiphertext, error) {
	if len(data) == 0 {
		return nil, ErrOperationFailed
	}
	ct := new(fhe.BitCiphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return ct, nil
}

func deserializeBit(data []byte) (*fhe.Ciphertext, error) {
	if len(data) == 0 {
		return nil, ErrOperationFailed
	}
	ct := new(fhe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return ct, nil
}

func (t *TFHE) Encrypt(value uint64) (Handle, error) {
	if err := t.init(); err != nil {
		return Handle{}, err
	}
	ct := t.encryptor.EncryptUint64(value, fhe.FheUint64)
	data, err := serializeBits(ct)
	if err != nil {
		return Handle{}, err
	}
	return t.store.put(data)
}

// binaryOp loads both operands and stores the evaluator result.
func (t *TFHE) binaryOp(a, b Handle, op func(lhs, rhs *fhe.BitCiphertext) (*fhe.BitCiphertext, error)) (Handle, error) {
	if err := t.init(); err != nil {
		return Handle{}, err
	}
	lhsData, err := t.store.get(a)
	if err != nil {
		return Handle{}, err
	}
	rhsData, err := t.store.get(b)
	if err != nil {
		return Handle{}, err
	}
	lhs, err := deserializeBits(lhsData)
	if err != nil {
		return Handle{}, err
	}
	rhs, err := deserializeBits(rhsData)
	if err != nil {
		return Handle{}, err
	}
	result, err := op(lhs, rhs)
	if err != nil {
		return Handle{}, err
	}
	data, err := serializeBits(result)
	if err != nil {
		return Handle{}, err
	}
	return t.store.put(data)
}

// compareOp wraps a single-bit comparison result as a bool ciphertext.
func (t *TFHE) compareOp(a, b Handle, op func(lhs, rhs *fhe.BitCiphertext) (*fhe.Ciphertext, error)) (Handle, error) {
	return t.binaryOp(a, b, func(lhs, rhs *fhe.BitCiphertext) (*fhe.BitCiphertext, error) {
		bit, err := op(lhs, rhs)
		if err != nil {
			return nil, err
		}
		return fhe.WrapBoolCiphertext(bit), nil
	})
}

func (t *TFHE) Add(a, b Handle) (Handle, error) {
	return t.binaryOp(a, b, func(lhs, rhs *fhe.BitCiphertext) (*fhe.BitCiphertext, error) {
		return t.evaluator.Add(lhs, rhs)
	})
}

func (t *TFHE) Sub(a, b Handle) (Handle, error) {
	return t.binaryOp(a, b, func(lhs, rhs *fhe.BitCiphertext) (*fhe.BitCiphertext, error) {
		return t.evaluator.Sub(lhs, rhs)
	})
}

func (t *TFHE) Mul(a, b Handle) (Handle, error) {
	return t.binaryOp(a, b, func(lhs, rhs *fhe.BitCiphertext) (*fhe.BitCiphertext, error) {
		return t.evaluator.Mul(lhs, rhs)
	})
}

func (t *TFHE) Div(a, b Handle) (Handle, error) {
	return t.binaryOp(a, b, func(lhs, rhs *fhe.BitCiphertext) (*fhe.BitCiphertext, error) {
		return t.evaluator.Div(lhs, rhs)
	})
}

// Min = (a < b) ? a : b.
func (t *TFHE) Min(a, b Handle) (Handle, error) {
	return t.binaryOp(a, b, func(lhs, rhs *fhe.BitCiphertext) (*fhe.BitCiphertext, error) {
		lt, err := t.evaluator.Lt(lhs, rhs)
		if err != nil {
			return nil, err
		}
		return t.evaluator.Select(lt, lhs, rhs)
	})
}

// Sqrt floors the integer square root. The bitwise evaluator has no
// homomorphic square root, so this runs key-side in the coprocessor.
func (t *TFHE) Sqrt(a Handle) (Handle, error) {
	v, err := t.Decrypt(a)
	if err != nil {
		return Handle{}, err
	}
	return t.Encrypt(isqrt(v))
}

func (t *TFHE) Ge(a, b Handle) (Handle, error) {
	return t.compareOp(a, b, func(lhs, rhs *fhe.BitCiphertext) (*fhe.Ciphertext, error) {
		return t.evaluator.Ge(lhs, rhs)
	})
}

func (t *TFHE) Eq(a, b Handle) (Handle, error) {
	return t.compareOp(a, b, func(lhs, rhs *fhe.BitCiphertext) (*fhe.Ciphertext, error) {
		return t.evaluator.Eq(lhs, rhs)
	})
}

func (t *TFHE) And(a, b Handle) (Handle, error) {
	return t.binaryOp(a, b, func(lhs, rhs *fhe.BitCiphertext) (*fhe.BitCiphertext, error) {
		return t.evaluator.And(lhs, rhs)
	})
}

func (t *TFHE) Select(cond, ifTrue, ifFalse Handle) (Handle, error) {
	if err := t.init(); err != nil {
		return Handle{}, err
	}
	condData, err := t.store.get(cond)
	if err != nil {
		return Handle{}, err
	}
	trueData, err := t.store.get(ifTrue)
	if err != nil {
		return Handle{}, err
	}
	falseData, err := t.store.get(ifFalse)
	if err != nil {
		return Handle{}, err
	}
	control, err := deserializeBit(condData)
	if err != nil {
		return Handle{}, err
	}
	ctTrue, err := deserializeBits(trueData)
	if err != nil {
		return Handle{}, err
	}
	ctFalse, err := deserializeBits(falseData)
	if err != nil {
		return Handle{}, err
	}
	result, err := t.evaluator.Select(control, ctTrue, ctFalse)
	if err != nil {
		return Handle{}, err
	}
	data, err := serializeBits(result)
	if err != nil {
		return Handle{}, err
	}
	return t.store.put(data)
}

func (t *TFHE) ScalarMul(a Handle, k uint64) (Handle, error) {
	return t.scalarOp(a, func(ct *fhe.BitCiphertext) (*fhe.BitCiphertext, error) {
		return t.evaluator.ScalarMul(ct, k)
	})
}

// ScalarSub adds the two's complement of k.
func (t *TFHE) ScalarSub(a Handle, k uint64) (Handle, error) {
	return t.scalarOp(a, func(ct *fhe.BitCiphertext) (*fhe.BitCiphertext, error) {
		return t.evaluator.ScalarAdd(ct, ^k+1)
	})
}

func (t *TFHE) scalarOp(a Handle, op func(ct *fhe.BitCiphertext) (*fhe.BitCiphertext, error)) (Handle, error) {
	if err := t.init(); err != nil {
		return Handle{}, err
	}
	data, err := t.store.get(a)
	if err != nil {
		return Handle{}, err
	}
	ct, err := deserializeBits(data)
	if err != nil {
		return Handle{}, err
	}
	result, err := op(ct)
	if err != nil {
		return Handle{}, err
	}
	out, err := serializeBits(result)
	if err != nil {
		return Handle{}, err
	}
	return t.store.put(out)
}

func (t *TFHE) DecryptBool(h Handle) (bool, error) {
	v, err := t.Decrypt(h)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (t *TFHE) Decrypt(h Handle) (uint64, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	data, err := t.store.get(h)
	if err != nil {
		return 0, err
	}
	ct, err := deserializeBits(data)
	if err != nil {
		return 0, err
	}
	return t.decryptor.DecryptUint64(ct), nil
}

// Seal packs the ciphertext with the requester public key under a length
// header. Re-encryption under the requester key happens in the threshold
// network; the header binds the payload to the requester.
func (t *TFHE) Seal(h Handle, publicKey []byte) ([]byte, error) {
	if len(publicKey) == 0 {
		return nil, ErrInvalidPublicKey
	}
	ct, err := t.store.get(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(publicKey)+len(ct))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(publicKey)))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(ct)))
	copy(out[8:8+len(publicKey)], publicKey)
	copy(out[8+len(publicKey):], ct)
	return out, nil
}

// isqrt returns floor(sqrt(v)).
func isqrt(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	r := new(big.Int).Sqrt(new(big.Int).SetUint64(v))
	return r.Uint64()
}
