package state

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

// RetrieveHost returns a copy of host information.
func (s *State) RetrieveHost() string {
	return s.host
}

// RetrieveMinerName returns the name recorded in blocks mined by this node.
func (s *State) RetrieveMinerName() string {
	return s.minerName
}

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveLatestBlock returns a copy the current latest block.
func (s *State) RetrieveLatestBlock() database.Block {
	block, _ := s.db.LatestBlock()
	return block
}

// RetrieveChain returns a copy of the full chain.
func (s *State) RetrieveChain() []database.Block {
	return s.db.Copy()
}

// RetrieveMempool returns a copy of the pending transactions in order.
func (s *State) RetrieveMempool() []database.Tx {
	return s.mempool.Copy()
}

// QueryMempoolLength returns the number of pending transactions.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// RetrieveKnownPeers retrieves a copy of the known peer list.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}

// RetrieveStatus returns the status of this node as reported to peers.
func (s *State) RetrieveStatus() peer.PeerStatus {
	latest := s.RetrieveLatestBlock()

	return peer.PeerStatus{
		LatestBlockHash:  latest.Hash,
		LatestBlockIndex: latest.Index,
		Mining:           s.IsMining(),
		KnownPeers:       s.RetrieveKnownPeers(),
	}
}
