// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ardanlabs/powchain/business/web/errs"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// Register adds the calling node to the known peers and returns the hosts
// this node knows about.
func (h Handlers) Register(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := registerResponse{
		Peers: h.State.RegisterPeer(peer.New(req.Peer)),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Chain returns the full local chain.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blockData := database.NewBlockDataList(h.State.RetrieveChain())
	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveStatus(), http.StatusOK)
}

// ReceiveBlock takes a block mined by a peer, validates it and if that
// passes, adds the block to the local blockchain.
func (h Handlers) ReceiveBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req receiveBlockRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	// Converting the block data re-verifies the hash against the contents.
	block, err := database.ToBlock(req.Block)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode block: %w", err), http.StatusBadRequest)
	}

	// The sending node becomes a known peer so it is included in the next
	// sync and block announcement.
	if req.Miner != "" {
		h.State.AddKnownPeer(peer.New(req.Miner))
	}

	if err := h.State.ProcessReceivedBlock(ctx, block); err != nil {
		h.Log.Infow("receive block", "traceid", web.GetTraceID(ctx), "block", block.Index, "hash", block.Hash, "WARNING", err)
		return errs.NewTrusted(errors.New("block not accepted"), http.StatusBadRequest)
	}

	return web.Respond(ctx, w, status{Status: "accepted"}, http.StatusOK)
}

// SubmitTransaction adds a transaction shared by a peer to the pending pool.
// A transaction already pending or already on the chain is rejected as a
// duplicate.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req submitTxRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if req.Peer != "" {
		h.State.AddKnownPeer(peer.New(req.Peer))
	}

	if err := h.State.SubmitTransaction(req.Transaction); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, status{Status: "transaction added to mempool"}, http.StatusOK)
}
