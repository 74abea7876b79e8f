// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements a confidential token ledger. Balances and
// allowances are encrypted amounts referenced by handles; transfers are
// guarded so that an insufficient balance degrades to a zero-amount no-op
// instead of revealing the shortfall through an abort. Reads are gated by
// signed permissions and returned sealed to the requester key.
package ledger

import (
	"bytes"
	"errors"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
)

var (
	ErrPermissionDenied = errors.New("ledger: permission denied")
	ErrForbidden        = errors.New("ledger: caller is not the owner")
	ErrNotPendingOwner  = errors.New("ledger: caller is not the pending owner")
	ErrInvalidSignature = errors.New("ledger: invalid permission signature")
)

// permissionTag domain-separates permission digests from other signed
// payloads.
var permissionTag = []byte("cswap.permission.v1")

// Permission authorizes its bearer to read or spend on a specific token
// contract. The bearer signs over the contract address and a fresh sealing
// public key; sealed reads are encrypted to that key, so a permission shows
// nothing to anyone who cannot also decrypt under it.
type Permission struct {
	// Contract is the token the permission is scoped to.
	Contract common.Address
	// Bearer is the account that signed the permission.
	Bearer common.Address
	// PublicKey is the 65-byte uncompressed secp256k1 sealing key.
	PublicKey []byte
	// Signature is the bearer's 65-byte recoverable signature over
	// Digest().
	Signature []byte
}

// Digest returns the signed payload hash.
func (p *Permission) Digest() common.Hash {
	return common.BytesToHash(crypto.Keccak256(permissionTag, p.Contract.Bytes(), p.Bearer.Bytes(), p.PublicKey))
}

// Verify checks that the permission is scoped to contract and that
// Signature recovers to Bearer. A nil permission carries no authority.
func (p *Permission) Verify(contract common.Address) error {
	if p == nil {
		return ErrPermissionDenied
	}
	if p.Contract != contract {
		return ErrPermissionDenied
	}
	if len(p.Signature) != crypto.SignatureLength {
		return ErrInvalidSignature
	}
	digest := p.Digest()
	pub, err := crypto.SigToPub(digest[:], p.Signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if common.BytesToAddress(crypto.PubkeyToAddress(*pub).Bytes()) != p.Bearer {
		return ErrInvalidSignature
	}
	return nil
}

// allows reports whether the verified permission lets account act. The
// bearer always acts for itself.
func (p *Permission) allows(account common.Address) bool {
	return p.Bearer == account
}

// SignPermission builds a permission for contract using the bearer signing
// key and a sealing public key. Used by clients and tests.
func SignPermission(contract common.Address, signingKey *Key, sealingPublicKey []byte) (*Permission, error) {
	p := &Permission{
		Contract:  contract,
		Bearer:    signingKey.Address,
		PublicKey: bytes.Clone(sealingPublicKey),
	}
	digest := p.Digest()
	sig, err := crypto.Sign(digest[:], signingKey.PrivateKey)
	if err != nil {
		return nil, err
	}
	p.Signature = sig
	return p, nil
}
