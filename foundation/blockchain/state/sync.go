package state

import (
	"context"
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

// registerDepth is the number of rounds used to discover peers through the
// peers we already know.
const registerDepth = 2

// SyncChain registers with the network, pulls the chain of every known peer
// and replaces the local chain with the preferred valid chain. A replaced
// chain stops any mining attempt.
func (s *State) SyncChain(ctx context.Context) error {
	return s.syncChain(ctx, true)
}

func (s *State) syncChain(ctx context.Context, cancelMining bool) error {
	s.evHandler("state: SyncChain: started")
	defer s.evHandler("state: SyncChain: completed")

	s.RegisterWithPeers(ctx)

	local := s.db.Copy()
	best := local

	for _, pr := range s.RetrieveKnownPeers() {

		// A peer behind the local chain can't win the fork choice, so its
		// chain isn't downloaded.
		ps, err := s.NetRequestPeerStatus(ctx, pr)
		if err != nil {
			s.evHandler("state: SyncChain: peer[%s]: WARNING: %s", pr.Host, err)
			continue
		}

		if ps.LatestBlockIndex+1 < uint64(len(local)) {
			s.evHandler("state: SyncChain: peer[%s]: behind: latest-blkindex[%d]: skipped", pr.Host, ps.LatestBlockIndex)
			continue
		}

		blocks, err := s.NetRequestPeerChain(ctx, pr)
		if err != nil {
			s.evHandler("state: SyncChain: peer[%s]: WARNING: %s", pr.Host, err)
			continue
		}

		if len(blocks) == 0 {
			continue
		}

		if err := database.ValidateChain(blocks, nil); err != nil {
			s.evHandler("state: SyncChain: peer[%s]: invalid chain: %s", pr.Host, err)
			continue
		}

		best = database.ChooseChain(best, blocks)
	}

	if database.SameChain(best, local) {
		s.evHandler("state: SyncChain: local chain kept: len[%d]", len(local))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The chain may have changed while peers were being queried.
	if !database.Prefer(best, s.db.Copy()) {
		s.evHandler("state: SyncChain: local chain changed during sync: kept")
		return nil
	}

	if err := s.db.Replace(best); err != nil {
		return fmt.Errorf("replacing chain: %w", err)
	}

	s.mempool.DeleteMined(best)

	if cancelMining {
		s.cancelMiningLocked()
	}

	s.evHandler("state: SyncChain: chain replaced: len[%d]: latest[%s]", len(best), best[len(best)-1].Hash)

	return nil
}

// RegisterWithPeers announces this node to the known peers and adds the
// peers they know. Newly found peers are contacted in the next round, up to
// registerDepth rounds.
func (s *State) RegisterWithPeers(ctx context.Context) {
	s.evHandler("state: RegisterWithPeers: started")
	defer s.evHandler("state: RegisterWithPeers: completed")

	frontier := s.RetrieveKnownPeers()

	for round := 0; round < registerDepth && len(frontier) > 0; round++ {
		var next []peer.Peer

		for _, pr := range frontier {
			hosts, err := s.NetRegisterWithPeer(ctx, pr)
			if err != nil {
				s.evHandler("state: RegisterWithPeers: peer[%s]: WARNING: %s", pr.Host, err)
				continue
			}

			for _, host := range hosts {
				np := peer.New(host)
				if s.knownPeers.Add(np) {
					s.evHandler("state: RegisterWithPeers: round[%d]: adding peer-node %s", round+1, host)
					next = append(next, np)
				}
			}
		}

		frontier = next
	}

	s.evHandler("state: RegisterWithPeers: known peers[%d]", s.knownPeers.Len())
}

// RegisterPeer adds the peer to the known peers and returns the hosts this
// node knows about.
func (s *State) RegisterPeer(pr peer.Peer) []string {
	if s.knownPeers.Add(pr) {
		s.evHandler("state: RegisterPeer: adding peer-node %s", pr.Host)
	}

	return s.knownPeers.Hosts()
}

// AddKnownPeer provides the ability to add a new peer to
// the known peer list.
func (s *State) AddKnownPeer(pr peer.Peer) bool {
	if s.knownPeers.Add(pr) {
		s.evHandler("state: AddKnownPeer: adding peer-node %s", pr.Host)
		return true
	}

	return false
}
