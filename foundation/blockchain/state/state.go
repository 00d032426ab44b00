// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

// Set of error variables for node processing.
var (
	ErrDuplicate          = errors.New("duplicate transaction")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrPeerUnreachable    = errors.New("peer unreachable")
)

// defaultPeerTimeout bounds every request made to a peer.
const defaultPeerTimeout = 3 * time.Second

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining, peer updates, and transaction sharing.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalMineNow()
	SignalShareTx(tx database.Tx)
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	MinerName   string
	Host        string
	Storage     database.Storage
	Genesis     genesis.Genesis
	Difficulty  uint
	PeerTimeout time.Duration
	KnownPeers  *peer.PeerSet
	EvHandler   EventHandler
}

// State manages the blockchain database.
type State struct {
	minerName  string
	host       string
	difficulty uint
	evHandler  EventHandler
	client     *http.Client

	knownPeers *peer.PeerSet
	genesis    genesis.Genesis
	mempool    *mempool.Mempool
	db         *database.Database

	// mu serializes changes to the chain and to the mining state.
	mu           sync.Mutex
	isMining     bool
	cancelMining context.CancelFunc

	Worker Worker
}

// New constructs a new blockchain for data management. An empty storage is
// bootstrapped with a freshly mined genesis block.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.MinerName == "" {
		return nil, errors.New("miner name is required")
	}

	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}

	if cfg.Genesis.Date.IsZero() {
		cfg.Genesis = genesis.Default()
	}

	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = defaultPeerTimeout
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet(cfg.Host)
	}

	// Access the storage for the blockchain. The stored chain is validated
	// as it is loaded.
	db, err := database.New(cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	if db.Length() == 0 {
		ev("state: New: no chain found: mining genesis block")

		block, err := cfg.Genesis.Block(context.Background(), ev)
		if err != nil {
			return nil, err
		}

		if err := db.Append(block); err != nil {
			return nil, fmt.Errorf("storing genesis block: %w", err)
		}
	}

	// Create the State to provide support for managing the blockchain.
	state := State{
		minerName:  cfg.MinerName,
		host:       cfg.Host,
		difficulty: cfg.Difficulty,
		evHandler:  ev,
		client:     &http.Client{Timeout: cfg.PeerTimeout},

		knownPeers: knownPeers,
		genesis:    cfg.Genesis,
		mempool:    mempool.New(),
		db:         db,
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Make sure the database is properly closed.
	defer func() {
		s.db.Close()
	}()

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return nil
}
