// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"net/http"
	"time"

	"github.com/ardanlabs/powchain/business/web/errs"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/nameservice"
	"github.com/ardanlabs/powchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Need this to handle CORS on the websocket.
	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	// This upgrades the HTTP connection to a websocket connection.
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	// This provides a channel for receiving events from the blockchain.
	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	// Starting a ticker to send a ping message over the websocket.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Block waiting for events from the blockchain or ticker.
	for {
		select {
		case msg, wd := <-ch:

			// If the channel is closed, release the websocket.
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitTransaction adds a signed wallet transaction to the pending pool.
// A transaction already pending or already on the chain is rejected as a
// duplicate.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req submitTx
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	tx := req.Transaction.toDB()

	h.Log.Infow("submit tx", "traceid", web.GetTraceID(ctx), "txid", tx.TxID, "from", tx.FromAddress, "to", tx.ToAddress, "amount", tx.Amount)

	if err := h.State.SubmitTransaction(tx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, status{Status: "transaction added to mempool"}, http.StatusOK)
}

// Mempool returns the set of pending transactions with account names
// resolved where they are known.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	mempool := h.State.RetrieveMempool()

	txs := make([]pendingTx, len(mempool))
	for i, tx := range mempool {
		txs[i] = pendingTx{
			TxID:        tx.TxID,
			FromAddress: tx.FromAddress,
			FromName:    h.NS.Lookup(tx.FromAddress),
			ToAddress:   tx.ToAddress,
			ToName:      h.NS.Lookup(tx.ToAddress),
			Amount:      tx.Amount,
		}
	}

	return web.Respond(ctx, w, txs, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveGenesis(), http.StatusOK)
}

// Chain returns the full local chain.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blockData := database.NewBlockDataList(h.State.RetrieveChain())
	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// Peers returns the hosts of the known peers.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveKnownPeers(), http.StatusOK)
}

// Status returns a summary of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest := h.State.RetrieveLatestBlock()

	peers := h.State.RetrieveKnownPeers()
	hosts := make([]string, len(peers))
	for i, pr := range peers {
		hosts[i] = pr.Host
	}

	resp := nodeStatus{
		Miner:            h.State.RetrieveMinerName(),
		Host:             h.State.RetrieveHost(),
		LatestBlockHash:  latest.Hash,
		LatestBlockIndex: latest.Index,
		Difficulty:       latest.Difficulty,
		Mining:           h.State.IsMining(),
		Mempool:          h.State.QueryMempoolLength(),
		KnownPeers:       hosts,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mine asks the worker to mine a block even when the pool is empty. The
// call returns without waiting for the block.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.Worker.SignalMineNow()
	return web.Respond(ctx, w, status{Status: "mining signalled"}, http.StatusOK)
}

// Sync pulls the chains of the known peers and adopts the preferred one.
func (h Handlers) Sync(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.State.SyncChain(ctx); err != nil {
		return errs.NewTrusted(err, http.StatusInternalServerError)
	}

	return web.Respond(ctx, w, status{Status: "chain synchronized"}, http.StatusOK)
}
