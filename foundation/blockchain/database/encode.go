package database

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
)

// hashFields is the canonical encoding of a block for hashing. The fields
// are declared in lexicographic order of their keys so the JSON produced
// has sorted keys.
type hashFields struct {
	Difficulty   uint      `json:"difficulty"`
	Index        uint64    `json:"index"`
	Miner        string    `json:"miner"`
	Nonce        uint64    `json:"nonce"`
	PreviousHash string    `json:"previous_hash"`
	Timestamp    float64   `json:"timestamp"`
	Transactions []Payload `json:"transactions"`
}

// nonceMarker splits the encoding around the nonce value.
var nonceMarker = []byte(`,"nonce":0,`)

// hashEncoder produces the block hash for any nonce without re-encoding the
// other fields. The buffers are reused so hashing does not allocate.
type hashEncoder struct {
	prefix []byte
	suffix []byte
	buf    []byte
	hex    [sha256.Size * 2]byte
}

// newHashEncoder encodes every field of the block but the nonce.
func newHashEncoder(b Block) (*hashEncoder, error) {
	hf := hashFields{
		Difficulty:   b.Difficulty,
		Index:        b.Index,
		Miner:        b.Miner,
		Nonce:        0,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
		Transactions: b.Transactions,
	}
	if hf.Transactions == nil {
		hf.Transactions = []Payload{}
	}

	data, err := json.Marshal(hf)
	if err != nil {
		return nil, err
	}

	idx := bytes.Index(data, nonceMarker)
	if idx == -1 {
		return nil, errors.New("nonce field missing from block encoding")
	}

	// The prefix keeps `,"nonce":` and the suffix starts at the comma
	// following the zero.
	split := idx + len(nonceMarker) - 2
	enc := hashEncoder{
		prefix: data[:split],
		suffix: data[split+1:],
		buf:    make([]byte, 0, len(data)+20),
	}

	return &enc, nil
}

// hash returns the hex encoded hash for the specified nonce. The returned
// slice is only valid until the next call.
func (e *hashEncoder) hash(nonce uint64) []byte {
	e.buf = append(e.buf[:0], e.prefix...)
	e.buf = strconv.AppendUint(e.buf, nonce, 10)
	e.buf = append(e.buf, e.suffix...)

	sum := sha256.Sum256(e.buf)
	hex.Encode(e.hex[:], sum[:])

	return e.hex[:]
}
