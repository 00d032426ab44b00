// Package worker implements mining, peer updates, and transaction sharing for
// the blockchain.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
)

// peerUpdateInterval represents the interval of registering with peer nodes
// to find new peers.
const peerUpdateInterval = time.Minute

// =============================================================================

// Worker manages the POW workflows for the blockchain.
type Worker struct {
	state       *state.State
	wg          sync.WaitGroup
	ticker      *time.Ticker
	shut        chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	startMining chan struct{}
	mineNow     atomic.Bool
	txSharing   chan database.Tx
	evHandler   state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(state *state.State, evHandler state.EventHandler) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := Worker{
		state:       state,
		ticker:      time.NewTicker(peerUpdateInterval),
		shut:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		startMining: make(chan struct{}, 1),
		txSharing:   make(chan database.Tx, maxTxShareRequests),
		evHandler:   evHandler,
	}

	// Register this worker with the state package.
	state.Worker = &w

	// Update this node before starting any support G's.
	w.Sync()

	// Load the set of operations we need to run.
	operations := []func(){
		w.peerOperations,
		w.miningOperations,
		w.shareTxOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	// Mine any transactions recovered during the sync.
	if state.QueryMempoolLength() > 0 {
		w.SignalStartMining()
	}

	return &w
}

// Sync registers with the known peers and adopts the preferred chain.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	if err := w.state.SyncChain(w.ctx); err != nil {
		w.evHandler("worker: sync: ERROR: %s", err)
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: signal cancel mining")
	w.cancel()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartMining starts a mining operation if there are pending
// transactions. If there is already a signal pending in the channel, just
// return since a mining operation will start.
func (w *Worker) SignalStartMining() {
	select {
	case w.startMining <- struct{}{}:
	default:
	}
	w.evHandler("worker: SignalStartMining: mining signaled")
}

// SignalMineNow starts a mining operation even when there are no pending
// transactions, producing an empty block.
func (w *Worker) SignalMineNow() {
	w.mineNow.Store(true)
	w.SignalStartMining()
}

// SignalShareTx signals a share transaction operation. If
// maxTxShareRequests signals exist in the channel, we won't send these.
func (w *Worker) SignalShareTx(tx database.Tx) {
	select {
	case w.txSharing <- tx:
		w.evHandler("worker: SignalShareTx: share Tx signaled")
	default:
		w.evHandler("worker: SignalShareTx: queue full, transactions won't be shared.")
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
