package worker

import (
	"errors"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// miningOperations handles mining.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// runMiningOperation mines blocks until the mempool is empty. A cancelled
// attempt is retried on the new tip while transactions remain.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	for !w.isShutdown() && w.ctx.Err() == nil {
		force := w.mineNow.Swap(false)

		length := w.state.QueryMempoolLength()
		if length == 0 && !force {
			w.evHandler("worker: runMiningOperation: MINING: no transactions to mine: Txs[%d]", length)
			return
		}

		if err := w.mineBlock(); err != nil && !errors.Is(err, database.ErrMiningCancelled) {
			return
		}
	}
}

// mineBlock runs a single mining attempt and proposes a mined block to
// the network.
func (w *Worker) mineBlock() error {
	ctx, ok := w.state.BeginMining(w.ctx)
	if !ok {
		w.evHandler("worker: mineBlock: MINING: attempt already running")
		return nil
	}
	defer w.state.EndMining()

	t := time.Now()
	block, err := w.state.MineNewBlock(ctx)
	duration := time.Since(t)

	w.evHandler("worker: mineBlock: MINING: mining duration[%v]", duration)

	if err != nil {
		switch {
		case errors.Is(err, database.ErrMiningCancelled):
			w.evHandler("worker: mineBlock: MINING: CANCEL: complete")
		default:
			w.evHandler("worker: mineBlock: MINING: ERROR: %s", err)
		}
		return err
	}

	w.evHandler("worker: mineBlock: MINING: SOLVED: blk[%d]: hash[%s]: txs[%d]", block.Index, block.Hash, len(block.Transactions))

	// WOW, we mined a block. Send the new block to the network. Failures
	// are logged by the state.
	w.state.NetSendBlockToPeers(w.ctx, block)

	return nil
}
