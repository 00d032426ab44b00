// Package database handles all the lower level support for maintaining the
// blockchain in memory and keeping the persisted copy in sync.
package database

import (
	"errors"
	"fmt"
	"sync"
)

// errEmptyChain is returned when a chain without a genesis block is used.
var errEmptyChain = errors.New("chain has no genesis block")

// Storage interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain.
type Storage interface {
	Load() ([]BlockData, error)
	Save(blocks []BlockData) error
	Close() error
}

// =============================================================================

// Database manages the ordered set of blocks that make up the chain.
type Database struct {
	mu        sync.RWMutex
	blocks    []Block
	storage   Storage
	evHandler func(v string, args ...any)
}

// New constructs a database and loads the blockchain from storage. A stored
// chain that can't be decoded or fails validation is an error. An empty
// storage produces an empty database waiting for its genesis block.
func New(storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	data, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("loading chain: %w", err)
	}

	blocks, err := ToBlocks(data)
	if err != nil {
		return nil, fmt.Errorf("decoding stored chain: %w", err)
	}

	if len(blocks) > 0 {
		if err := ValidateChain(blocks, evHandler); err != nil {
			return nil, fmt.Errorf("validating stored chain: %w", err)
		}
	}

	db := Database{
		blocks:    blocks,
		storage:   storage,
		evHandler: evHandler,
	}

	return &db, nil
}

// Close closes the underlying storage.
func (db *Database) Close() error {
	return db.storage.Close()
}

// Append validates the block against the current tip, adds it to the chain
// and persists the chain. The first block must be a valid genesis block.
func (db *Database) Append(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	switch len(db.blocks) {
	case 0:
		if err := block.ValidateGenesis(); err != nil {
			return err
		}

	default:
		if err := block.ValidateBlock(db.blocks[len(db.blocks)-1], db.evHandler); err != nil {
			return err
		}
	}

	blocks := make([]Block, len(db.blocks), len(db.blocks)+1)
	copy(blocks, db.blocks)
	blocks = append(blocks, block)

	if err := db.storage.Save(NewBlockDataList(blocks)); err != nil {
		return fmt.Errorf("saving chain: %w", err)
	}

	db.blocks = blocks

	return nil
}

// Replace swaps the whole chain for the specified blocks and persists
// it. The caller is responsible for validating the chain.
func (db *Database) Replace(blocks []Block) error {
	if len(blocks) == 0 {
		return errEmptyChain
	}

	cpy := make([]Block, len(blocks))
	copy(cpy, blocks)

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.storage.Save(NewBlockDataList(cpy)); err != nil {
		return fmt.Errorf("saving chain: %w", err)
	}

	db.blocks = cpy

	return nil
}

// LatestBlock returns the tip of the chain. The boolean is false when the
// chain is empty.
func (db *Database) LatestBlock() (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if len(db.blocks) == 0 {
		return Block{}, false
	}

	return db.blocks[len(db.blocks)-1], true
}

// GetBlock returns the block at the specified index.
func (db *Database) GetBlock(index uint64) (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if index >= uint64(len(db.blocks)) {
		return Block{}, false
	}

	return db.blocks[index], true
}

// Length returns the number of blocks in the chain.
func (db *Database) Length() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return len(db.blocks)
}

// Copy returns a copy of the blocks in the chain.
func (db *Database) Copy() []Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	cpy := make([]Block, len(db.blocks))
	copy(cpy, db.blocks)

	return cpy
}

// ContainsTx reports whether any block in the chain carries the transaction.
func (db *Database) ContainsTx(tx Tx) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, b := range db.blocks {
		if b.ContainsTx(tx) {
			return true
		}
	}

	return false
}
