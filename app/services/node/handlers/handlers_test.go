package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ardanlabs/powchain/app/services/node/handlers"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/powchain/foundation/blockchain/worker"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/logger"
	"github.com/ardanlabs/powchain/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	toAddr   = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"
)

func ifErrFailNow(t *testing.T, err error) {
	if err != nil {
		t.Error(err)
		t.FailNow()
	}
}

// =============================================================================

// idleWorker keeps a node from mining or sharing on its own.
type idleWorker struct{}

func (idleWorker) Shutdown()                    {}
func (idleWorker) SignalStartMining()           {}
func (idleWorker) SignalMineNow()               {}
func (idleWorker) SignalShareTx(tx database.Tx) {}

// node is a blockchain node served over httptest servers.
type node struct {
	host    string
	state   *state.State
	private *httptest.Server
	public  *httptest.Server
}

// nodeConfig describes a node to start.
type nodeConfig struct {
	name       string
	mine       bool
	difficulty uint
	knownPeers []string
}

// newNode starts a node that mines at the lowest difficulty.
func newNode(t *testing.T, name string, mine bool, knownPeers ...string) *node {
	return startNode(t, nodeConfig{
		name:       name,
		mine:       mine,
		difficulty: 1,
		knownPeers: knownPeers,
	})
}

// startNode starts a node on a local port. The private server is created
// first so the node knows its own host before the state is built.
func startNode(t *testing.T, nc nodeConfig) *node {
	name := nc.name

	log, err := logger.New("TEST")
	ifErrFailNow(t, err)

	private := httptest.NewUnstartedServer(nil)
	host := private.Listener.Addr().String()

	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "node", name)
		evts.Send(s)
	}

	peerSet := peer.NewPeerSet(host)
	for _, kp := range nc.knownPeers {
		peerSet.Add(peer.New(kp))
	}

	st, err := state.New(state.Config{
		MinerName:   name,
		Host:        host,
		Storage:     memory.New(),
		Genesis:     genesis.Default(),
		Difficulty:  nc.difficulty,
		PeerTimeout: time.Second,
		KnownPeers:  peerSet,
		EvHandler:   ev,
	})
	ifErrFailNow(t, err)

	ns, err := nameservice.New("../../../../zblock/accounts")
	ifErrFailNow(t, err)

	cfg := handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      log,
		State:    st,
		NS:       ns,
		Evts:     evts,
	}

	private.Config.Handler = handlers.PrivateMux(cfg)
	private.Start()

	public := httptest.NewServer(handlers.PublicMux(cfg))

	switch nc.mine {
	case true:
		worker.Run(st, ev)
	default:
		st.Worker = idleWorker{}
	}

	n := node{
		host:    host,
		state:   st,
		private: private,
		public:  public,
	}

	t.Cleanup(func() {
		st.Shutdown()
		evts.Shutdown()
		public.Close()
		private.Close()
		log.Sync()
	})

	return &n
}

// post sends the body to the public API of the node.
func (n *node) post(t *testing.T, path string, body any) (int, []byte) {
	return postJSON(t, n.public.URL+path, body)
}

// postNode sends the body to the node to node API of the node.
func (n *node) postNode(t *testing.T, path string, body any) (int, []byte) {
	return postJSON(t, n.private.URL+path, body)
}

func postJSON(t *testing.T, url string, body any) (int, []byte) {
	data, err := json.Marshal(body)
	ifErrFailNow(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	ifErrFailNow(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)

	return resp.StatusCode, buf.Bytes()
}

func (n *node) waitForChain(length int) bool {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if len(n.state.RetrieveChain()) >= length {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func (n *node) waitForTx(txID string) bool {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, tx := range n.state.RetrieveMempool() {
			if tx.TxID == txID {
				return true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func signTx(t *testing.T, amount uint64) database.Tx {
	pk, err := crypto.HexToECDSA(pkHexKey)
	ifErrFailNow(t, err)

	tx, err := database.NewTx(pk, toAddr, amount)
	ifErrFailNow(t, err)

	return tx
}

// =============================================================================

func Test_Network(t *testing.T) {
	t.Log("Given the need to run a network of nodes.")
	{
		node1 := newNode(t, "miner1", true)

		t.Logf("\tTest 0:\tWhen submitting a transaction to a mining node.")
		{
			tx := signTx(t, 10)

			status, body := node1.post(t, "/v1/tx/submit", map[string]any{"transaction": tx})
			if status != http.StatusOK {
				t.Fatalf("\t%s\tTest 0:\tShould accept the transaction: %d %s", failed, status, body)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the transaction.", success)

			if !node1.waitForChain(2) {
				t.Fatalf("\t%s\tTest 0:\tShould mine a block with the transaction.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould mine a block with the transaction.", success)

			chain := node1.state.RetrieveChain()
			block := chain[1]

			if block.PreviousHash != chain[0].Hash || block.Hash[0] != '0' {
				t.Fatalf("\t%s\tTest 0:\tShould link to genesis with a solved hash: %+v", failed, block)
			}
			t.Logf("\t%s\tTest 0:\tShould link to genesis with a solved hash.", success)

			if len(block.Transactions) != 1 || block.Transactions[0].Tx.TxID != tx.TxID {
				t.Fatalf("\t%s\tTest 0:\tShould carry the transaction: %+v", failed, block.Transactions)
			}
			t.Logf("\t%s\tTest 0:\tShould carry the transaction.", success)
		}

		node2 := newNode(t, "miner2", false, node1.host)

		t.Logf("\tTest 1:\tWhen a new node syncs with the network.")
		{
			status, body := node2.post(t, "/v1/sync", nil)
			if status != http.StatusOK {
				t.Fatalf("\t%s\tTest 1:\tShould sync: %d %s", failed, status, body)
			}
			t.Logf("\t%s\tTest 1:\tShould sync.", success)

			if !database.SameChain(node2.state.RetrieveChain(), node1.state.RetrieveChain()) {
				t.Fatalf("\t%s\tTest 1:\tShould adopt the longer chain.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould adopt the longer chain.", success)

			if !contains(node1.state.RetrieveKnownPeers(), node2.host) {
				t.Fatalf("\t%s\tTest 1:\tShould register with the peer.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould register with the peer.", success)
		}

		t.Logf("\tTest 2:\tWhen a node mines on request.")
		{
			status, body := node1.post(t, "/v1/mine", nil)
			if status != http.StatusOK {
				t.Fatalf("\t%s\tTest 2:\tShould signal mining: %d %s", failed, status, body)
			}
			t.Logf("\t%s\tTest 2:\tShould signal mining.", success)

			if !node2.waitForChain(3) {
				t.Fatalf("\t%s\tTest 2:\tShould receive the new block from the miner.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould receive the new block from the miner.", success)

			if node2.state.RetrieveLatestBlock().Hash != node1.state.RetrieveLatestBlock().Hash {
				t.Fatalf("\t%s\tTest 2:\tShould hold the same tip.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould hold the same tip.", success)
		}

		node3 := newNode(t, "miner3", false, node1.host)

		t.Logf("\tTest 3:\tWhen submitting a duplicate transaction.")
		{
			tx := signTx(t, 20)

			status, body := node3.post(t, "/v1/tx/submit", map[string]any{"transaction": tx})
			if status != http.StatusOK {
				t.Fatalf("\t%s\tTest 3:\tShould accept the first submission: %d %s", failed, status, body)
			}
			t.Logf("\t%s\tTest 3:\tShould accept the first submission.", success)

			status, _ = node3.post(t, "/v1/tx/submit", map[string]any{"transaction": tx})
			if status != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest 3:\tShould reject the duplicate: %d", failed, status)
			}
			t.Logf("\t%s\tTest 3:\tShould reject the duplicate.", success)

			if node3.state.QueryMempoolLength() != 1 {
				t.Fatalf("\t%s\tTest 3:\tShould not grow the pool.", failed)
			}
			t.Logf("\t%s\tTest 3:\tShould not grow the pool.", success)
		}

		t.Logf("\tTest 4:\tWhen submitting a malformed transaction.")
		{
			tx := signTx(t, 30)
			tx.ToAddress = "bill"

			status, body := node3.post(t, "/v1/tx/submit", map[string]any{"transaction": tx})
			if status != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest 4:\tShould reject the request: %d", failed, status)
			}
			t.Logf("\t%s\tTest 4:\tShould reject the request.", success)

			var resp struct {
				Fields map[string]string `json:"fields"`
			}
			ifErrFailNow(t, json.Unmarshal(body, &resp))

			if _, exists := resp.Fields["to_address"]; !exists {
				t.Fatalf("\t%s\tTest 4:\tShould name the invalid field: %s", failed, body)
			}
			t.Logf("\t%s\tTest 4:\tShould name the invalid field.", success)
		}
	}
}

func Test_RegisterDepth(t *testing.T) {
	e := newNode(t, "e", false)
	d := newNode(t, "d", false, e.host)
	c := newNode(t, "c", false, d.host)
	b := newNode(t, "b", false, c.host)
	a := newNode(t, "a", false, b.host)

	t.Log("Given the need to discover peers through known peers.")
	{
		a.state.RegisterWithPeers(t.Context())

		for _, n := range []*node{b, c, d} {
			if !contains(a.state.RetrieveKnownPeers(), n.host) {
				t.Fatalf("\t%s\tShould discover %s within two rounds: %v", failed, n.host, a.state.RetrieveKnownPeers())
			}
		}
		t.Logf("\t%s\tShould discover every peer within two rounds.", success)

		if !contains(c.state.RetrieveKnownPeers(), a.host) {
			t.Fatalf("\t%s\tShould be registered with the second round peer.", failed)
		}
		t.Logf("\t%s\tShould be registered with the second round peer.", success)

		if contains(a.state.RetrieveKnownPeers(), e.host) {
			t.Fatalf("\t%s\tShould stop after two rounds: %v", failed, a.state.RetrieveKnownPeers())
		}
		t.Logf("\t%s\tShould stop after two rounds.", success)

		if contains(d.state.RetrieveKnownPeers(), a.host) {
			t.Fatalf("\t%s\tShould not register with a peer found in the last round.", failed)
		}
		t.Logf("\t%s\tShould not register with a peer found in the last round.", success)
	}
}

func Test_ShareTx(t *testing.T) {
	receiver := newNode(t, "receiver", false)

	// The sharing node never solves a block, so the transaction stays
	// pending on both nodes.
	sharer := startNode(t, nodeConfig{
		name:       "sharer",
		mine:       true,
		difficulty: 64,
		knownPeers: []string{receiver.host},
	})

	t.Log("Given the need to share transactions with peers.")
	{
		tx := signTx(t, 10)

		status, body := sharer.post(t, "/v1/tx/submit", map[string]any{"transaction": tx})
		if status != http.StatusOK {
			t.Fatalf("\t%s\tShould accept the transaction: %d %s", failed, status, body)
		}
		t.Logf("\t%s\tShould accept the transaction.", success)

		if !receiver.waitForTx(tx.TxID) {
			t.Fatalf("\t%s\tShould add the transaction to the peer pool.", failed)
		}
		t.Logf("\t%s\tShould add the transaction to the peer pool.", success)

		if !contains(receiver.state.RetrieveKnownPeers(), sharer.host) {
			t.Fatalf("\t%s\tShould learn the sharing node as a peer.", failed)
		}
		t.Logf("\t%s\tShould learn the sharing node as a peer.", success)
	}
}

func Test_ReceiveBlockSlowPeer(t *testing.T) {
	miner := newNode(t, "miner", true)

	for i, amount := range []uint64{10, 20} {
		status, body := miner.post(t, "/v1/tx/submit", map[string]any{"transaction": signTx(t, amount)})
		if status != http.StatusOK {
			t.Fatalf("\t%s\tShould accept the transaction: %d %s", failed, status, body)
		}
		if !miner.waitForChain(i + 2) {
			t.Fatalf("\t%s\tShould mine the transaction.", failed)
		}
	}

	// slow answers every request after the peer timeout has passed.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1500 * time.Millisecond)
	}))
	t.Cleanup(slow.Close)

	behind := newNode(t, "behind", false, slow.Listener.Addr().String(), miner.host)
	miner.state.AddKnownPeer(peer.New(behind.host))

	t.Log("Given the need to catch up when a block arrives ahead of the local chain.")
	{
		status, body := miner.post(t, "/v1/mine", nil)
		if status != http.StatusOK {
			t.Fatalf("\t%s\tShould signal mining: %d %s", failed, status, body)
		}
		t.Logf("\t%s\tShould signal mining.", success)

		if !behind.waitForChain(4) {
			t.Fatalf("\t%s\tShould sync after the sender stops waiting: len %d", failed, len(behind.state.RetrieveChain()))
		}
		t.Logf("\t%s\tShould sync after the sender stops waiting.", success)

		if behind.state.RetrieveLatestBlock().Hash != miner.state.RetrieveLatestBlock().Hash {
			t.Fatalf("\t%s\tShould hold the same tip.", failed)
		}
		t.Logf("\t%s\tShould hold the same tip.", success)
	}
}

func Test_ReceiveBlockBadMiner(t *testing.T) {
	n := newNode(t, "node", false)

	t.Log("Given the need to reject a block from an invalid miner address.")
	{
		body := map[string]any{
			"miner": "not a host",
			"block": map[string]any{},
		}

		status, resp := n.postNode(t, "/v1/node/block/receive", body)
		if status != http.StatusBadRequest {
			t.Fatalf("\t%s\tShould reject the request: %d %s", failed, status, resp)
		}
		t.Logf("\t%s\tShould reject the request.", success)

		if contains(n.state.RetrieveKnownPeers(), "not a host") {
			t.Fatalf("\t%s\tShould not add the miner as a peer.", failed)
		}
		t.Logf("\t%s\tShould not add the miner as a peer.", success)
	}
}

func contains(peers []peer.Peer, host string) bool {
	for _, pr := range peers {
		if pr.Match(host) {
			return true
		}
	}
	return false
}
