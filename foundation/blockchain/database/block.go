package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
)

// Set of error variables for block processing.
var (
	ErrDecode          = errors.New("block hash does not match its contents")
	ErrValidation      = errors.New("block failed validation")
	ErrMiningCancelled = errors.New("mining cancelled")
)

// DriftTolerance is how far into the future a block timestamp may be
// compared to the local clock.
const DriftTolerance = 120 * time.Second

// GenesisPreviousHash is the previous hash recorded by the genesis block.
const GenesisPreviousHash = "0"

// maxDifficulty is the number of hex characters in a hash. Anything above
// can never be solved.
const maxDifficulty = 64

// =============================================================================

// Block represents a group of transactions linked by hash to the block
// before it.
type Block struct {
	Index        uint64
	PreviousHash string
	Timestamp    float64
	Transactions []Payload
	Miner        string
	Difficulty   uint
	Nonce        uint64
	Hash         string
}

// NewBlock constructs an unmined block with a nonce of zero. A zero
// timestamp is replaced with the current time.
func NewBlock(index uint64, previousHash string, transactions []Payload, miner string, difficulty uint, timestamp float64) Block {
	if timestamp == 0 {
		timestamp = Now()
	}

	if transactions == nil {
		transactions = []Payload{}
	}

	b := Block{
		Index:        index,
		PreviousHash: previousHash,
		Timestamp:    RoundTimestamp(timestamp),
		Transactions: transactions,
		Miner:        miner,
		Difficulty:   difficulty,
		Nonce:        0,
	}
	b.Hash = CalculateHash(b)

	return b
}

// CalculateHash returns the hash of every field of the block except the
// hash itself.
func CalculateHash(b Block) string {
	enc, err := newHashEncoder(b)
	if err != nil {
		return signature.ZeroHash
	}

	return string(enc.hash(b.Nonce))
}

// Mine searches for a nonce, starting at the block's current nonce, that
// produces a hash with the required number of leading zeros. The search
// stops with ErrMiningCancelled when the context is cancelled. Pointer
// semantics are being used since a nonce is being discovered.
func (b *Block) Mine(ctx context.Context, ev func(v string, args ...any)) (string, error) {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	if b.Difficulty > maxDifficulty {
		return "", fmt.Errorf("difficulty %d can't be solved", b.Difficulty)
	}

	enc, err := newHashEncoder(*b)
	if err != nil {
		return "", err
	}

	ev("database: Mine: MINING: started: blk[%d]: difficulty[%d]", b.Index, b.Difficulty)

	done := ctx.Done()
	var attempts uint64

	for nonce := b.Nonce; ; nonce++ {
		select {
		case <-done:
			ev("database: Mine: MINING: CANCELLED: blk[%d]: attempts[%d]", b.Index, attempts)
			return "", ErrMiningCancelled
		default:
		}

		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: Mine: MINING: attempts[%d]", attempts)
		}

		hash := enc.hash(nonce)
		if !isHashSolved(b.Difficulty, hash) {
			continue
		}

		b.Nonce = nonce
		b.Hash = string(hash)

		ev("database: Mine: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.PreviousHash, b.Hash, attempts)

		return b.Hash, nil
	}
}

// ValidateBlock takes a block and validates it to be appended after the
// specified predecessor. The checks run in order and stop on the first
// failure.
func (b Block) ValidateBlock(previousBlock Block, evHandler func(v string, args ...any)) error {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block index is the next index", b.Index)

	nextIndex := previousBlock.Index + 1
	if b.Index != nextIndex {
		return fmt.Errorf("%w: this block is not the next index, got %d, exp %d", ErrValidation, b.Index, nextIndex)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: previous hash does match previous block", b.Index)

	if b.PreviousHash != previousBlock.Hash {
		return fmt.Errorf("%w: previous block hash doesn't match, got %s, exp %s", ErrValidation, b.PreviousHash, previousBlock.Hash)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block hash is correct and solved", b.Index)

	if err := b.validateHash(); err != nil {
		return err
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block's timestamp is greater than previous block's timestamp", b.Index)

	if b.Timestamp <= previousBlock.Timestamp {
		return fmt.Errorf("%w: block timestamp is not after previous block, previous %f, block %f", ErrValidation, previousBlock.Timestamp, b.Timestamp)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block's timestamp is not too far in the future", b.Index)

	limit := Now() + DriftTolerance.Seconds()
	if b.Timestamp > limit {
		return fmt.Errorf("%w: block timestamp is in the future, limit %f, block %f", ErrValidation, limit, b.Timestamp)
	}

	return nil
}

// ValidateGenesis validates the block as the first block of a chain.
func (b Block) ValidateGenesis() error {
	if b.Index != 0 {
		return fmt.Errorf("%w: genesis index is %d", ErrValidation, b.Index)
	}

	if b.PreviousHash != GenesisPreviousHash {
		return fmt.Errorf("%w: genesis previous hash is %q", ErrValidation, b.PreviousHash)
	}

	return b.validateHash()
}

// validateHash checks the recorded hash is the hash of the block's fields
// and it satisfies the block's difficulty.
func (b Block) validateHash() error {
	hash := CalculateHash(b)
	if b.Hash != hash {
		return fmt.Errorf("%w: invalid block hash, got %s, exp %s", ErrValidation, b.Hash, hash)
	}

	if !isHashSolved(b.Difficulty, []byte(b.Hash)) {
		return fmt.Errorf("%w: block hash %s does not satisfy difficulty %d", ErrValidation, b.Hash, b.Difficulty)
	}

	return nil
}

// Equal reports whether two blocks carry the same values.
func (b Block) Equal(other Block) bool {
	if b.Index != other.Index ||
		b.PreviousHash != other.PreviousHash ||
		b.Timestamp != other.Timestamp ||
		b.Miner != other.Miner ||
		b.Difficulty != other.Difficulty ||
		b.Nonce != other.Nonce ||
		b.Hash != other.Hash ||
		len(b.Transactions) != len(other.Transactions) {
		return false
	}

	for i := range b.Transactions {
		if !b.Transactions[i].Equal(other.Transactions[i]) {
			return false
		}
	}

	return true
}

// ContainsTx reports whether the block carries the specified transaction.
func (b Block) ContainsTx(tx Tx) bool {
	for _, p := range b.Transactions {
		if p.Tx != nil && *p.Tx == tx {
			return true
		}
	}
	return false
}

// isHashSolved checks the hash to make sure it complies with
// the POW rules. We need to match a difficulty number of 0's.
func isHashSolved(difficulty uint, hash []byte) bool {
	if len(hash) != maxDifficulty || difficulty > maxDifficulty {
		return false
	}

	for _, c := range hash[:difficulty] {
		if c != '0' {
			return false
		}
	}

	return true
}

// =============================================================================

// Now returns the current time as seconds since the epoch rounded to
// microseconds.
func Now() float64 {
	return RoundTimestamp(float64(time.Now().UnixMicro()) / 1e6)
}

// RoundTimestamp rounds the timestamp to microsecond precision.
func RoundTimestamp(ts float64) float64 {
	return math.Round(ts*1e6) / 1e6
}

// =============================================================================

// BlockData represents what is written to storage and sent over the network.
// It is untrusted until converted with ToBlock.
type BlockData struct {
	Index        uint64    `json:"index"`
	PreviousHash string    `json:"previous_hash"`
	Timestamp    float64   `json:"timestamp"`
	Transactions []Payload `json:"transactions"`
	Miner        string    `json:"miner"`
	Difficulty   uint      `json:"difficulty"`
	Nonce        uint64    `json:"nonce"`
	Hash         string    `json:"hash"`
}

// NewBlockData constructs the value to serialize.
func NewBlockData(block Block) BlockData {
	txs := block.Transactions
	if txs == nil {
		txs = []Payload{}
	}

	return BlockData{
		Index:        block.Index,
		PreviousHash: block.PreviousHash,
		Timestamp:    block.Timestamp,
		Transactions: txs,
		Miner:        block.Miner,
		Difficulty:   block.Difficulty,
		Nonce:        block.Nonce,
		Hash:         block.Hash,
	}
}

// ToBlock converts a BlockData into a Block, recomputing the hash. A hash
// that doesn't match the contents returns ErrDecode.
func ToBlock(blockData BlockData) (Block, error) {
	txs := blockData.Transactions
	if txs == nil {
		txs = []Payload{}
	}

	b := Block{
		Index:        blockData.Index,
		PreviousHash: blockData.PreviousHash,
		Timestamp:    blockData.Timestamp,
		Transactions: txs,
		Miner:        blockData.Miner,
		Difficulty:   blockData.Difficulty,
		Nonce:        blockData.Nonce,
		Hash:         blockData.Hash,
	}

	if hash := CalculateHash(b); hash != b.Hash {
		return Block{}, fmt.Errorf("%w: blk[%d]: got %s, exp %s", ErrDecode, b.Index, b.Hash, hash)
	}

	return b, nil
}

// ToBlocks converts a list of BlockData into blocks, stopping at the first
// decode failure.
func ToBlocks(blockData []BlockData) ([]Block, error) {
	blocks := make([]Block, len(blockData))
	for i, bd := range blockData {
		b, err := ToBlock(bd)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}

	return blocks, nil
}

// NewBlockDataList converts blocks into their serializable form.
func NewBlockDataList(blocks []Block) []BlockData {
	data := make([]BlockData, len(blocks))
	for i, b := range blocks {
		data[i] = NewBlockData(b)
	}

	return data
}
