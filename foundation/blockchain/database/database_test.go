package database_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey  = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	toAddr    = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"
	genesisTS = 1700000000.0
)

// =============================================================================

func Test_Mine(t *testing.T) {
	t.Log("Given the need to mine blocks at different difficulties.")
	{
		for difficulty := uint(0); difficulty <= 3; difficulty++ {
			t.Logf("\tTest %d:\tWhen mining a block at difficulty %d.", difficulty, difficulty)
			{
				b := database.NewBlock(1, "abc", []database.Payload{database.MemoPayload("A pays B 10")}, "miner1", difficulty, genesisTS)

				hash, err := b.Mine(context.Background(), nil)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to mine the block: %s", failed, difficulty, err)
				}
				t.Logf("\t%s\tTest %d:\tShould be able to mine the block.", success, difficulty)

				if hash != b.Hash || database.CalculateHash(b) != b.Hash {
					t.Fatalf("\t%s\tTest %d:\tShould have a hash matching the block contents.", failed, difficulty)
				}
				t.Logf("\t%s\tTest %d:\tShould have a hash matching the block contents.", success, difficulty)

				for i := uint(0); i < difficulty; i++ {
					if b.Hash[i] != '0' {
						t.Fatalf("\t%s\tTest %d:\tShould have %d leading zeros: %s", failed, difficulty, difficulty, b.Hash)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould have %d leading zeros.", success, difficulty, difficulty)
			}
		}
	}
}

func Test_HashEncoding(t *testing.T) {
	tx := signTx(t, 10)

	b := database.NewBlock(3, "prev", []database.Payload{database.TxPayload(tx), database.MemoPayload("memo")}, "miner1", 1, genesisTS+0.123456)
	b.Nonce = 987654321

	// A map marshals with its keys sorted which is the canonical form.
	canonical := map[string]any{
		"index":         b.Index,
		"previous_hash": b.PreviousHash,
		"timestamp":     b.Timestamp,
		"transactions":  b.Transactions,
		"miner":         b.Miner,
		"difficulty":    b.Difficulty,
		"nonce":         b.Nonce,
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		t.Fatalf("Should be able to marshal the canonical form: %s", err)
	}

	sum := sha256.Sum256(data)
	exp := hex.EncodeToString(sum[:])

	if got := database.CalculateHash(b); got != exp {
		t.Logf("got: %s", got)
		t.Logf("exp: %s", exp)
		t.Fatalf("Should hash the sorted key encoding of the block.")
	}
}

func Test_BlockData(t *testing.T) {
	chain := mineChain(t, 3, 1)

	for _, b := range chain {
		got, err := database.ToBlock(database.NewBlockData(b))
		if err != nil {
			t.Fatalf("Should be able to decode block %d: %s", b.Index, err)
		}

		if !got.Equal(b) {
			t.Fatalf("Should get back the same block %d.", b.Index)
		}

		data, err := json.Marshal(database.NewBlockData(b))
		if err != nil {
			t.Fatalf("Should be able to marshal block %d: %s", b.Index, err)
		}

		var bd database.BlockData
		if err := json.Unmarshal(data, &bd); err != nil {
			t.Fatalf("Should be able to unmarshal block %d: %s", b.Index, err)
		}

		got, err = database.ToBlock(bd)
		if err != nil {
			t.Fatalf("Should be able to decode block %d from JSON: %s", b.Index, err)
		}

		if !got.Equal(b) {
			t.Fatalf("Should get back the same block %d from JSON.", b.Index)
		}
	}

	bd := database.NewBlockData(chain[1])
	bd.Miner = "someone else"

	if _, err := database.ToBlock(bd); !errors.Is(err, database.ErrDecode) {
		t.Fatalf("Should not be able to decode a block with a stale hash: %v", err)
	}
}

func Test_ValidateChain(t *testing.T) {
	chain := mineChain(t, 4, 1)

	if err := database.ValidateChain(chain, nil); err != nil {
		t.Fatalf("Should be able to validate a mined chain: %s", err)
	}

	if err := database.ValidateChain(nil, nil); err == nil {
		t.Fatalf("Should not be able to validate an empty chain.")
	}

	type table struct {
		name   string
		mutate func(b *database.Block)
	}

	tt := []table{
		{"index", func(b *database.Block) { b.Index++ }},
		{"previous_hash", func(b *database.Block) { b.PreviousHash = "00ff" }},
		{"timestamp", func(b *database.Block) { b.Timestamp += 0.5 }},
		{"transactions", func(b *database.Block) {
			b.Transactions = append([]database.Payload{}, b.Transactions...)
			b.Transactions = append(b.Transactions, database.MemoPayload("extra"))
		}},
		{"miner", func(b *database.Block) { b.Miner = "thief" }},
		{"difficulty", func(b *database.Block) { b.Difficulty++ }},
		{"nonce", func(b *database.Block) { b.Nonce++ }},
		{"hash", func(b *database.Block) { b.Hash = flipLast(b.Hash) }},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			for i := 1; i < len(chain); i++ {
				cpy := make([]database.Block, len(chain))
				copy(cpy, chain)
				tst.mutate(&cpy[i])

				if err := database.ValidateChain(cpy, nil); !errors.Is(err, database.ErrValidation) {
					t.Fatalf("Should not validate the chain after changing %s on block %d: %v", tst.name, i, err)
				}
			}
		}

		t.Run(tst.name, f)
	}

	t.Run("genesis", func(t *testing.T) {
		cpy := make([]database.Block, len(chain))
		copy(cpy, chain)
		cpy[0].PreviousHash = "1"

		if err := database.ValidateChain(cpy, nil); err == nil {
			t.Fatalf("Should not validate a chain with a bad genesis block.")
		}
	})
}

func Test_ValidateBlock(t *testing.T) {
	chain := mineChain(t, 2, 1)
	prev := chain[1]

	type table struct {
		name      string
		index     uint64
		prevHash  string
		timestamp float64
		valid     bool
	}

	tt := []table{
		{"valid", prev.Index + 1, prev.Hash, prev.Timestamp + 1, true},
		{"wrong index", prev.Index + 2, prev.Hash, prev.Timestamp + 1, false},
		{"wrong previous hash", prev.Index + 1, chain[0].Hash, prev.Timestamp + 1, false},
		{"same timestamp", prev.Index + 1, prev.Hash, prev.Timestamp, false},
		{"earlier timestamp", prev.Index + 1, prev.Hash, prev.Timestamp - 1, false},
		{"future timestamp", prev.Index + 1, prev.Hash, database.Now() + 3600, false},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			b := database.NewBlock(tst.index, tst.prevHash, nil, "miner1", 1, tst.timestamp)
			if _, err := b.Mine(context.Background(), nil); err != nil {
				t.Fatalf("Should be able to mine the block: %s", err)
			}

			err := b.ValidateBlock(prev, nil)
			switch tst.valid {
			case true:
				if err != nil {
					t.Fatalf("Should be able to validate the block: %s", err)
				}
			default:
				if !errors.Is(err, database.ErrValidation) {
					t.Fatalf("Should not be able to validate the block: %v", err)
				}
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_MineCancel(t *testing.T) {
	b := database.NewBlock(1, "abc", nil, "miner1", 32, genesisTS)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Mine(ctx, nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, database.ErrMiningCancelled) {
			t.Fatalf("Should get back a cancelled error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Should stop mining promptly after cancel.")
	}

	b = database.NewBlock(1, "abc", nil, "miner1", 65, genesisTS)
	if _, err := b.Mine(context.Background(), nil); err == nil {
		t.Fatalf("Should not be able to mine an unsolvable difficulty.")
	}
}

func Test_ChooseChain(t *testing.T) {
	base := mineChain(t, 2, 1)

	extend := func(ts float64, miner string) []database.Block {
		b := database.NewBlock(2, base[1].Hash, nil, miner, 1, ts)
		if _, err := b.Mine(context.Background(), nil); err != nil {
			t.Fatalf("Should be able to mine the block: %s", err)
		}

		chain := make([]database.Block, 0, 3)
		chain = append(chain, base...)
		return append(chain, b)
	}

	early := extend(base[1].Timestamp+1, "miner1")
	late := extend(base[1].Timestamp+2, "miner1")

	if got := database.ChooseChain(early, late); !database.SameChain(got, early) {
		t.Fatalf("Should choose the chain with the earlier last timestamp.")
	}

	if got := database.ChooseChain(late, early); !database.SameChain(got, early) {
		t.Fatalf("Should choose the chain with the earlier last timestamp regardless of order.")
	}

	if got := database.ChooseChain(early, base); !database.SameChain(got, early) {
		t.Fatalf("Should keep the longer chain.")
	}

	if got := database.ChooseChain(base, late); !database.SameChain(got, late) {
		t.Fatalf("Should choose a longer chain even if it ends later.")
	}

	// Same last timestamp, different contents.
	tie := extend(early[2].Timestamp, "miner2")

	a := database.ChooseChain(early, tie)
	b := database.ChooseChain(tie, early)
	if !database.SameChain(a, b) {
		t.Fatalf("Should choose the same chain on identical timestamps regardless of order.")
	}
}

func Test_Transaction(t *testing.T) {
	tx := signTx(t, 10)

	if err := tx.Validate(); err != nil {
		t.Fatalf("Should be able to validate a signed transaction: %s", err)
	}

	if tx.TxID == "" || tx.Signature == "" {
		t.Fatalf("Should have an id and a signature.")
	}

	if tx2 := signTx(t, 10); tx2.TxID != tx.TxID {
		t.Fatalf("Should get the same id for the same transfer.")
	}

	tampered := tx
	tampered.Amount = 1000
	if err := tampered.Validate(); !errors.Is(err, database.ErrInvalidSignature) {
		t.Fatalf("Should not validate a tampered transaction: %v", err)
	}

	unsigned := tx
	unsigned.Signature = ""
	if err := unsigned.Validate(); err == nil {
		t.Fatalf("Should not validate an unsigned transaction.")
	}
}

func Test_Database(t *testing.T) {
	strg := memory.New()

	db, err := database.New(strg, nil)
	if err != nil {
		t.Fatalf("Should be able to open an empty database: %s", err)
	}

	if _, exists := db.LatestBlock(); exists {
		t.Fatalf("Should not have a latest block.")
	}

	chain := mineChain(t, 3, 1)

	if err := db.Append(chain[1]); err == nil {
		t.Fatalf("Should not be able to append a non genesis block first.")
	}

	for _, b := range chain {
		if err := db.Append(b); err != nil {
			t.Fatalf("Should be able to append block %d: %s", b.Index, err)
		}
	}

	if err := db.Append(chain[2]); err == nil {
		t.Fatalf("Should not be able to append the same block twice.")
	}

	if db.Length() != 3 || strg.Saves() != 3 {
		t.Fatalf("Should have 3 blocks saved 3 times, got %d blocks %d saves.", db.Length(), strg.Saves())
	}

	tx := *chain[1].Transactions[0].Tx
	if !db.ContainsTx(tx) {
		t.Fatalf("Should find the transaction on the chain.")
	}

	db2, err := database.New(strg, nil)
	if err != nil {
		t.Fatalf("Should be able to reload the database: %s", err)
	}

	if !database.SameChain(db.Copy(), db2.Copy()) {
		t.Fatalf("Should reload the same chain.")
	}

	if err := db2.Replace(chain[:1]); err != nil {
		t.Fatalf("Should be able to replace the chain: %s", err)
	}

	if db2.Length() != 1 {
		t.Fatalf("Should have replaced the chain.")
	}

	data, _ := strg.Load()
	data[0].Miner = "tampered"
	bad := memory.New()
	bad.Save(data)

	if _, err := database.New(bad, nil); err == nil {
		t.Fatalf("Should not be able to load a tampered chain.")
	}
}

// =============================================================================

func flipLast(hash string) string {
	last := byte('0')
	if hash[len(hash)-1] == '0' {
		last = '1'
	}
	return hash[:len(hash)-1] + string(last)
}

func signTx(t *testing.T, amount uint64) database.Tx {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %s", err)
	}

	tx, err := database.NewTx(pk, toAddr, amount)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}

	return tx
}

func mineChain(t *testing.T, n int, difficulty uint) []database.Block {
	genesis := database.NewBlock(0, database.GenesisPreviousHash, []database.Payload{database.MemoPayload("genesis")}, "genesis", difficulty, genesisTS)
	if _, err := genesis.Mine(context.Background(), nil); err != nil {
		t.Fatalf("Should be able to mine the genesis block: %s", err)
	}

	chain := []database.Block{genesis}
	for i := 1; i < n; i++ {
		prev := chain[i-1]
		txs := []database.Payload{database.TxPayload(signTx(t, uint64(i)))}

		b := database.NewBlock(prev.Index+1, prev.Hash, txs, "miner1", difficulty, prev.Timestamp+1)
		if _, err := b.Mine(context.Background(), nil); err != nil {
			t.Fatalf("Should be able to mine block %d: %s", i, err)
		}
		chain = append(chain, b)
	}

	return chain
}
