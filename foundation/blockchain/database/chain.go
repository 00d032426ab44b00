package database

import "fmt"

// ValidateChain checks the genesis block and then every adjacent pair of
// blocks in the chain.
func ValidateChain(blocks []Block, evHandler func(v string, args ...any)) error {
	if len(blocks) == 0 {
		return fmt.Errorf("%w: chain is empty", ErrValidation)
	}

	if err := blocks[0].ValidateGenesis(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	for i := 1; i < len(blocks); i++ {
		if err := blocks[i].ValidateBlock(blocks[i-1], evHandler); err != nil {
			return err
		}
	}

	return nil
}

// Prefer reports whether chain a is strictly preferred over chain b. The
// longer chain wins. For equal lengths the chain whose last block has the
// earlier timestamp wins, and identical timestamps fall back to the lower
// last block hash.
func Prefer(a, b []Block) bool {
	switch {
	case len(a) != len(b):
		return len(a) > len(b)
	case len(a) == 0:
		return false
	}

	lastA := a[len(a)-1]
	lastB := b[len(b)-1]

	if lastA.Timestamp != lastB.Timestamp {
		return lastA.Timestamp < lastB.Timestamp
	}

	return lastA.Hash < lastB.Hash
}

// ChooseChain returns the preferred chain among the current chain and the
// candidates. The current chain is kept unless a candidate is strictly
// preferred, so the result does not depend on the order of the candidates.
func ChooseChain(current []Block, candidates ...[]Block) []Block {
	best := current
	for _, c := range candidates {
		if Prefer(c, best) {
			best = c
		}
	}

	return best
}

// SameChain reports whether two chains end on the same block.
func SameChain(a, b []Block) bool {
	if len(a) != len(b) {
		return false
	}

	if len(a) == 0 {
		return true
	}

	return a[len(a)-1].Hash == b[len(b)-1].Hash
}
