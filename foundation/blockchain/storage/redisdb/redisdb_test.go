package redisdb_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/redisdb"
	"github.com/google/uuid"
)

// The test runs against a live redis when POWCHAIN_REDIS_ADDRS is set.
func Test_LoadSave(t *testing.T) {
	addrs := os.Getenv("POWCHAIN_REDIS_ADDRS")
	if addrs == "" {
		t.Skip("POWCHAIN_REDIS_ADDRS not set")
	}

	rdb, err := redisdb.New(redisdb.Config{
		Addrs: strings.Split(addrs, ","),
		Name:  "test-" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("Should be able to connect to redis: %s", err)
	}
	defer rdb.Close()
	defer rdb.Save(nil)

	data, err := rdb.Load()
	if err != nil {
		t.Fatalf("Should be able to load a missing key: %s", err)
	}

	if len(data) != 0 {
		t.Fatalf("Should get an empty chain for a missing key.")
	}

	genesis := database.NewBlock(0, database.GenesisPreviousHash, []database.Payload{database.MemoPayload("genesis")}, "genesis", 1, 1700000000)
	if _, err := genesis.Mine(context.Background(), nil); err != nil {
		t.Fatalf("Should be able to mine the genesis block: %s", err)
	}

	for i := 0; i < 2; i++ {
		if err := rdb.Save(database.NewBlockDataList([]database.Block{genesis})); err != nil {
			t.Fatalf("Should be able to save the chain: %s", err)
		}
	}

	data, err = rdb.Load()
	if err != nil {
		t.Fatalf("Should be able to load the chain: %s", err)
	}

	if len(data) != 1 {
		t.Fatalf("Should replace the chain on save, got %d blocks.", len(data))
	}

	got, err := database.ToBlock(data[0])
	if err != nil {
		t.Fatalf("Should be able to decode the block: %s", err)
	}

	if !got.Equal(genesis) {
		t.Fatalf("Should get back the same block.")
	}
}
