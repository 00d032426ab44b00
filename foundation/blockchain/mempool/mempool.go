// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"errors"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// ErrDuplicate is returned when an equal transaction is already pending.
var ErrDuplicate = errors.New("transaction already pending")

// Mempool represents a cache of pending transactions kept in the order
// they were received.
type Mempool struct {
	mu   sync.RWMutex
	pool []database.Tx
}

// New constructs a new mempool.
func New() *Mempool {
	return &Mempool{}
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add appends the transaction to the end of the pool. A transaction equal
// to one already pending returns ErrDuplicate.
func (mp *Mempool) Add(tx database.Tx) (int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.index(tx) != -1 {
		return len(mp.pool), ErrDuplicate
	}

	mp.pool = append(mp.pool, tx)

	return len(mp.pool), nil
}

// Contains reports whether an equal transaction is pending.
func (mp *Mempool) Contains(tx database.Tx) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.index(tx) != -1
}

// Front returns the oldest pending transaction without removing it.
func (mp *Mempool) Front() (database.Tx, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if len(mp.pool) == 0 {
		return database.Tx{}, false
	}

	return mp.pool[0], true
}

// Delete removes the transaction from the pool. It reports whether the
// transaction was pending.
func (mp *Mempool) Delete(tx database.Tx) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	idx := mp.index(tx)
	if idx == -1 {
		return false
	}

	mp.pool = append(mp.pool[:idx:idx], mp.pool[idx+1:]...)

	return true
}

// DeleteMined removes every pending transaction carried by the blocks and
// returns the number removed.
func (mp *Mempool) DeleteMined(blocks []database.Block) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	pool := make([]database.Tx, 0, len(mp.pool))
	for _, tx := range mp.pool {
		if !mined(blocks, tx) {
			pool = append(pool, tx)
		}
	}

	removed := len(mp.pool) - len(pool)
	mp.pool = pool

	return removed
}

// Copy returns a copy of the pending transactions in order.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	cpy := make([]database.Tx, len(mp.pool))
	copy(cpy, mp.pool)

	return cpy
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = nil
}

// =============================================================================

// index returns the position of an equal transaction or -1.
func (mp *Mempool) index(tx database.Tx) int {
	for i, ptx := range mp.pool {
		if ptx == tx {
			return i
		}
	}
	return -1
}

func mined(blocks []database.Block, tx database.Tx) bool {
	for _, b := range blocks {
		if b.ContainsTx(tx) {
			return true
		}
	}
	return false
}
