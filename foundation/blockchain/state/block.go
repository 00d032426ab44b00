package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool"
)

// recoverySyncTimeout bounds the sync run when a received block doesn't fit
// the local tip.
const recoverySyncTimeout = 30 * time.Second

// ProcessReceivedBlock takes a block received from a peer, validates it
// and if that passes, adds the block to the local blockchain. A block that
// doesn't fit the local tip triggers a sync, and the block is accepted if
// the synced chain ends with it. The sync outlives the caller's context so
// a sender that stops waiting doesn't abort the recovery.
func (s *State) ProcessReceivedBlock(ctx context.Context, block database.Block) error {
	s.evHandler("state: ProcessReceivedBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.PreviousHash, block.Hash, len(block.Transactions))
	defer s.evHandler("state: ProcessReceivedBlock: completed: newBlk[%s]", block.Hash)

	if existing, exists := s.db.GetBlock(block.Index); exists && existing.Hash == block.Hash {
		s.evHandler("state: ProcessReceivedBlock: block already in chain: blk[%d]", block.Index)
		return nil
	}

	err := s.appendReceivedBlock(block)
	if err == nil {
		return nil
	}

	s.evHandler("state: ProcessReceivedBlock: WARNING: %s: syncing with peers", err)

	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoverySyncTimeout)
	defer cancel()

	if err := s.SyncChain(syncCtx); err != nil {
		s.evHandler("state: ProcessReceivedBlock: sync: ERROR: %s", err)
	}

	if tip, exists := s.db.LatestBlock(); exists && tip.Hash == block.Hash {
		s.evHandler("state: ProcessReceivedBlock: block accepted after sync: blk[%d]", block.Index)
		return nil
	}

	return err
}

// appendReceivedBlock adds the block to the chain and stops any mining
// attempt that is now building on a stale tip.
func (s *State) appendReceivedBlock(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Append(block); err != nil {
		return err
	}

	s.mempool.DeleteMined([]database.Block{block})
	s.cancelMiningLocked()

	return nil
}

// SubmitTransaction validates the transaction and adds it to the pending
// pool. New transactions are shared with peers and start mining if the node
// is idle. ErrDuplicate is returned for a transaction that is already
// pending and also for one already recorded on the chain.
func (s *State) SubmitTransaction(tx database.Tx) error {
	s.evHandler("state: SubmitTransaction: started: tx[%s]", tx)
	defer s.evHandler("state: SubmitTransaction: completed")

	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, err)
	}

	if s.db.ContainsTx(tx) {
		return fmt.Errorf("%w: transaction %s already mined", ErrDuplicate, tx.TxID)
	}

	n, err := s.mempool.Add(tx)
	if err != nil {
		if errors.Is(err, mempool.ErrDuplicate) {
			return fmt.Errorf("%w: transaction %s already pending", ErrDuplicate, tx.TxID)
		}
		return err
	}

	s.evHandler("state: SubmitTransaction: mempool[%d]", n)

	s.Worker.SignalShareTx(tx)

	if !s.IsMining() {
		s.Worker.SignalStartMining()
	}

	return nil
}
