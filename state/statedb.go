// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state provides the key-value state store backing the confidential
// AMM. The hosting environment is expected to serialize all mutating calls;
// snapshots give multi-step operations all-or-nothing semantics.
package state

import (
	"github.com/luxfi/geth/common"
)

// StateDB is the interface for accessing and modifying hosted contract state.
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)

	// Snapshot returns an identifier for the current state revision.
	// RevertToSnapshot discards every write made since that revision.
	Snapshot() int
	RevertToSnapshot(id int)
}

// journalEntry records a single overwritten slot so it can be restored.
type journalEntry struct {
	addr common.Address
	key  common.Hash
	prev common.Hash
	had  bool
}

// MemDB is an in-memory StateDB with journaled snapshots.
type MemDB struct {
	storage map[common.Address]map[common.Hash]common.Hash
	journal []journalEntry
}

var _ StateDB = (*MemDB)(nil)

// NewMemDB creates an empty in-memory state store.
func NewMemDB() *MemDB {
	return &MemDB{
		storage: make(map[common.Address]map[common.Hash]common.Hash),
		journal: make([]journalEntry, 0),
	}
}

func (m *MemDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if m.storage[addr] == nil {
		return common.Hash{}
	}
	return m.storage[addr][key]
}

func (m *MemDB) SetState(addr common.Address, key common.Hash, value common.Hash) {
	slots := m.storage[addr]
	if slots == nil {
		slots = make(map[common.Hash]common.Hash)
		m.storage[addr] = slots
	}
	prev, had := slots[key]
	m.journal = append(m.journal, journalEntry{addr: addr, key: key, prev: prev, had: had})
	slots[key] = value
}

func (m *MemDB) Snapshot() int {
	return len(m.journal)
}

func (m *MemDB) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		e := m.journal[i]
		if e.had {
			m.storage[e.addr][e.key] = e.prev
		} else {
			delete(m.storage[e.addr], e.key)
		}
	}
	m.journal = m.journal[:id]
}
