// Package memory implements the ability to read and write the blockchain to
// memory using a slice.
package memory

import (
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// Memory represents the serialization implementation for reading and storing
// blocks in memory using a slice. This implements the database.Storage
// interface.
type Memory struct {
	mu     sync.RWMutex
	blocks []database.BlockData
	saves  int
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Load returns a copy of the stored chain.
func (m *Memory) Load() ([]database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cpy := make([]database.BlockData, len(m.blocks))
	copy(cpy, m.blocks)

	return cpy, nil
}

// Save replaces the stored chain with the specified blocks.
func (m *Memory) Save(blocks []database.BlockData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cpy := make([]database.BlockData, len(blocks))
	copy(cpy, blocks)

	m.blocks = cpy
	m.saves++

	return nil
}

// Saves returns the number of times the chain has been saved.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.saves
}
