// Package disk implements the ability to read and write the blockchain as a
// tabular file on disk. Each node keeps its own file named after the node.
package disk

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// header is the first row of the file naming the block columns.
var header = []string{"index", "previous_hash", "timestamp", "transactions", "miner", "difficulty", "nonce", "hash"}

// Disk represents the serialization implementation for reading and storing
// blocks in a CSV file. This implements the database.Storage interface.
type Disk struct {
	mu   sync.Mutex
	dir  string
	path string
}

// New constructs a Disk value that stores the chain for the named node in
// the specified directory. The directory is created if it doesn't exist.
func New(dir string, name string) (*Disk, error) {
	if name == "" {
		return nil, errors.New("node name is required")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	d := Disk{
		dir:  dir,
		path: filepath.Join(dir, filepath.Base(name)+".csv"),
	}

	return &d, nil
}

// Path returns the location of the file on disk.
func (d *Disk) Path() string {
	return d.path
}

// Close in this implementation has nothing to do since the file is only
// open while loading or saving.
func (d *Disk) Close() error {
	return nil
}

// Load reads the chain from disk. A missing file is an empty chain.
func (d *Disk) Load() ([]database.BlockData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.path, err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	for i, col := range header {
		if records[0][i] != col {
			return nil, fmt.Errorf("reading %s: unexpected column %q, exp %q", d.path, records[0][i], col)
		}
	}

	blocks := make([]database.BlockData, 0, len(records)-1)
	for i, rec := range records[1:] {
		bd, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("reading %s: row %d: %w", d.path, i+1, err)
		}
		blocks = append(blocks, bd)
	}

	return blocks, nil
}

// Save replaces the file on disk with the specified chain. The chain is
// written to a temporary file first and renamed into place.
func (d *Disk) Save(blocks []database.BlockData) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tmp, err := os.CreateTemp(d.dir, filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}

	for _, bd := range blocks {
		rec, err := toRecord(bd)
		if err != nil {
			tmp.Close()
			return err
		}

		if err := w.Write(rec); err != nil {
			tmp.Close()
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), d.path)
}

// =============================================================================

func toRecord(bd database.BlockData) ([]string, error) {
	txs := bd.Transactions
	if txs == nil {
		txs = []database.Payload{}
	}

	data, err := json.Marshal(txs)
	if err != nil {
		return nil, fmt.Errorf("encoding transactions: %w", err)
	}

	rec := []string{
		strconv.FormatUint(bd.Index, 10),
		bd.PreviousHash,
		strconv.FormatFloat(bd.Timestamp, 'f', -1, 64),
		string(data),
		bd.Miner,
		strconv.FormatUint(uint64(bd.Difficulty), 10),
		strconv.FormatUint(bd.Nonce, 10),
		bd.Hash,
	}

	return rec, nil
}

func fromRecord(rec []string) (database.BlockData, error) {
	index, err := strconv.ParseUint(rec[0], 10, 64)
	if err != nil {
		return database.BlockData{}, fmt.Errorf("index: %w", err)
	}

	timestamp, err := strconv.ParseFloat(rec[2], 64)
	if err != nil {
		return database.BlockData{}, fmt.Errorf("timestamp: %w", err)
	}

	var txs []database.Payload
	if err := json.Unmarshal([]byte(rec[3]), &txs); err != nil {
		return database.BlockData{}, fmt.Errorf("transactions: %w", err)
	}

	difficulty, err := strconv.ParseUint(rec[5], 10, 32)
	if err != nil {
		return database.BlockData{}, fmt.Errorf("difficulty: %w", err)
	}

	nonce, err := strconv.ParseUint(rec[6], 10, 64)
	if err != nil {
		return database.BlockData{}, fmt.Errorf("nonce: %w", err)
	}

	bd := database.BlockData{
		Index:        index,
		PreviousHash: rec[1],
		Timestamp:    timestamp,
		Transactions: txs,
		Miner:        rec[4],
		Difficulty:   uint(difficulty),
		Nonce:        nonce,
		Hash:         rec[7],
	}

	return bd, nil
}
