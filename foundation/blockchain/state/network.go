package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

const baseURL = "http://%s/v1/node"

// NetRegisterWithPeer announces this node to the peer and returns the hosts
// the peer knows about.
func (s *State) NetRegisterWithPeer(ctx context.Context, pr peer.Peer) ([]string, error) {
	s.evHandler("state: NetRegisterWithPeer: started: %s", pr.Host)
	defer s.evHandler("state: NetRegisterWithPeer: completed: %s", pr.Host)

	url := fmt.Sprintf("%s/register", fmt.Sprintf(baseURL, pr.Host))

	req := struct {
		Peer string `json:"peer"`
	}{
		Peer: s.host,
	}

	var resp struct {
		Peers []string `json:"peers"`
	}

	if err := s.send(ctx, http.MethodPost, url, req, &resp); err != nil {
		return nil, err
	}

	return resp.Peers, nil
}

// NetRequestPeerChain asks the peer for its full chain. A block that fails
// to decode fails the whole request.
func (s *State) NetRequestPeerChain(ctx context.Context, pr peer.Peer) ([]database.Block, error) {
	s.evHandler("state: NetRequestPeerChain: started: %s", pr.Host)
	defer s.evHandler("state: NetRequestPeerChain: completed: %s", pr.Host)

	url := fmt.Sprintf("%s/chain", fmt.Sprintf(baseURL, pr.Host))

	var blockData []database.BlockData
	if err := s.send(ctx, http.MethodGet, url, nil, &blockData); err != nil {
		return nil, err
	}

	blocks, err := database.ToBlocks(blockData)
	if err != nil {
		return nil, err
	}

	s.evHandler("state: NetRequestPeerChain: peer[%s]: len[%d]", pr.Host, len(blocks))

	return blocks, nil
}

// NetRequestPeerStatus asks the peer for its latest block and known peers.
func (s *State) NetRequestPeerStatus(ctx context.Context, pr peer.Peer) (peer.PeerStatus, error) {
	s.evHandler("state: NetRequestPeerStatus: started: %s", pr.Host)
	defer s.evHandler("state: NetRequestPeerStatus: completed: %s", pr.Host)

	url := fmt.Sprintf("%s/status", fmt.Sprintf(baseURL, pr.Host))

	var ps peer.PeerStatus
	if err := s.send(ctx, http.MethodGet, url, nil, &ps); err != nil {
		return peer.PeerStatus{}, err
	}

	s.evHandler("state: NetRequestPeerStatus: peer-node[%s]: latest-blkindex[%d]: peer-list[%s]", pr.Host, ps.LatestBlockIndex, ps.KnownPeers)

	return ps, nil
}

// NetSendBlockToPeers takes the new mined block and sends it to all known
// peers. Failures are logged and the remaining peers are still contacted.
func (s *State) NetSendBlockToPeers(ctx context.Context, block database.Block) {
	s.evHandler("state: NetSendBlockToPeers: started")
	defer s.evHandler("state: NetSendBlockToPeers: completed")

	req := struct {
		Miner string             `json:"miner"`
		Block database.BlockData `json:"block"`
	}{
		Miner: s.host,
		Block: database.NewBlockData(block),
	}

	for _, pr := range s.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/block/receive", fmt.Sprintf(baseURL, pr.Host))

		if err := s.send(ctx, http.MethodPost, url, req, nil); err != nil {
			s.evHandler("state: NetSendBlockToPeers: peer[%s]: WARNING: %s", pr.Host, err)
			continue
		}

		s.evHandler("state: NetSendBlockToPeers: sent to peer[%s]", pr.Host)
	}
}

// NetSendTxToPeers shares a new transaction with the known peers.
func (s *State) NetSendTxToPeers(ctx context.Context, tx database.Tx) {
	s.evHandler("state: NetSendTxToPeers: started")
	defer s.evHandler("state: NetSendTxToPeers: completed")

	req := struct {
		Transaction database.Tx `json:"transaction"`
		Peer        string      `json:"peer"`
	}{
		Transaction: tx,
		Peer:        s.host,
	}

	for _, pr := range s.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/tx/submit", fmt.Sprintf(baseURL, pr.Host))

		if err := s.send(ctx, http.MethodPost, url, req, nil); err != nil {
			s.evHandler("state: NetSendTxToPeers: peer[%s]: WARNING: %s", pr.Host, err)
		}
	}
}

// =============================================================================

// send is a helper function to send an HTTP request to a node. Transport
// failures are reported as ErrPeerUnreachable.
func (s *State) send(ctx context.Context, method string, url string, dataSend any, dataRecv any) error {
	var body io.Reader

	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}

	if dataSend != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
