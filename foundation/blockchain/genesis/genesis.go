// Package genesis maintains access to the genesis file.
package genesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date       time.Time `json:"date"`       // Timestamp recorded in the genesis block.
	Miner      string    `json:"miner"`      // Miner recorded in the genesis block.
	Difficulty uint      `json:"difficulty"` // How difficult it needs to be to solve the work problem.
	Memo       string    `json:"memo"`       // Text payload carried by the genesis block.
}

// Default returns the genesis information used when no file exists. Every
// node using it produces the same genesis block.
func Default() Genesis {
	return Genesis{
		Date:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Miner:      "genesis",
		Difficulty: 1,
		Memo:       "genesis",
	}
}

// =============================================================================

// Load opens and consumes the genesis file. A missing file returns the
// default genesis information.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if genesis.Date.IsZero() {
		return Genesis{}, fmt.Errorf("parsing %s: date is required", path)
	}

	return genesis, nil
}

// Block mines the genesis block described by the genesis information.
func (g Genesis) Block(ctx context.Context, evHandler func(v string, args ...any)) (database.Block, error) {
	ts := float64(g.Date.UnixMicro()) / 1e6

	block := database.NewBlock(0, database.GenesisPreviousHash, []database.Payload{database.MemoPayload(g.Memo)}, g.Miner, g.Difficulty, ts)
	if _, err := block.Mine(ctx, evHandler); err != nil {
		return database.Block{}, fmt.Errorf("mining genesis block: %w", err)
	}

	return block, nil
}
