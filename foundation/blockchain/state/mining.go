package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// timestampStep is the smallest increment between block timestamps.
const timestampStep = 0.000001

// BeginMining marks the node as mining and returns the context that will be
// cancelled when the attempt must stop. It returns false if an attempt is
// already running.
func (s *State) BeginMining(parent context.Context) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isMining {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	s.isMining = true
	s.cancelMining = cancel

	return ctx, true
}

// EndMining marks the node as idle and releases the attempt's context.
func (s *State) EndMining() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelMining != nil {
		s.cancelMining()
	}

	s.isMining = false
	s.cancelMining = nil
}

// IsMining reports whether a mining attempt is running.
func (s *State) IsMining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.isMining
}

// CancelMining stops the running mining attempt, if any.
func (s *State) CancelMining() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelMiningLocked()
}

// cancelMiningLocked stops the running mining attempt. The caller must hold
// the state mutex.
func (s *State) cancelMiningLocked() {
	if s.cancelMining != nil {
		s.evHandler("state: cancelMining: MINING: CANCEL: signaled")
		s.cancelMining()
	}
}

// MineNewBlock attempts to create a new block with a proper hash that can
// become the next block in the chain. The chain is synced with the network
// before the block is built. A cancelled attempt returns
// database.ErrMiningCancelled and never changes the chain.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	s.evHandler("state: MineNewBlock: MINING: sync with peers")

	if err := s.syncChain(ctx, false); err != nil {
		s.evHandler("state: MineNewBlock: MINING: sync: WARNING: %s", err)
	}

	if ctx.Err() != nil {
		return database.Block{}, database.ErrMiningCancelled
	}

	tip, exists := s.db.LatestBlock()
	if !exists {
		return database.Block{}, errors.New("chain has no genesis block")
	}

	// Take the oldest pending transaction or mine an empty block.
	txs := []database.Payload{}
	if tx, exists := s.mempool.Front(); exists {
		txs = append(txs, database.TxPayload(tx))
	}

	// Difficulty never declines relative to the tip.
	difficulty := max(tip.Difficulty, s.difficulty)

	// The timestamp must be strictly after the tip.
	timestamp := max(database.Now(), database.RoundTimestamp(tip.Timestamp+timestampStep))

	s.evHandler("state: MineNewBlock: MINING: perform POW: blk[%d]: txs[%d]: difficulty[%d]", tip.Index+1, len(txs), difficulty)

	block := database.NewBlock(tip.Index+1, tip.Hash, txs, s.minerName, difficulty, timestamp)
	if _, err := block.Mine(ctx, s.evHandler); err != nil {
		return database.Block{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A block received while we were mining cancels the context under
	// this same mutex, so the check can't race with a chain change.
	if ctx.Err() != nil {
		s.evHandler("state: MineNewBlock: MINING: CANCEL: discarding blk[%d]", block.Index)
		return database.Block{}, database.ErrMiningCancelled
	}

	s.evHandler("state: MineNewBlock: MINING: validate and update database")

	if err := s.db.Append(block); err != nil {
		return database.Block{}, fmt.Errorf("appending mined block: %w", err)
	}

	s.mempool.DeleteMined([]database.Block{block})

	return block, nil
}
