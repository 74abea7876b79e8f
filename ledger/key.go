// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"crypto/ecdsa"

	"github.com/luxfi/crypto"
	"github.com/luxfi/crypto/ecies"
	"github.com/luxfi/geth/common"
)

// Key pairs a signing key with its derived account address. The same
// secp256k1 key doubles as the sealing key for reads.
type Key struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// GenerateKey creates a fresh account key.
func GenerateKey() (*Key, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Key{
		PrivateKey: priv,
		Address:    common.BytesToAddress(crypto.PubkeyToAddress(priv.PublicKey).Bytes()),
	}, nil
}

// SealingPublicKey returns the uncompressed public key bytes used as the
// permission sealing key.
func (k *Key) SealingPublicKey() []byte {
	return crypto.FromECDSAPub(&k.PrivateKey.PublicKey)
}

// ECIES returns the key in the form required to unseal read results.
func (k *Key) ECIES() *ecies.PrivateKey {
	return ecies.ImportECDSA(k.PrivateKey)
}
