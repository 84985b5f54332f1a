// Package validate holds the contextual consensus checks: everything that
// needs the header chain and the TxHashSet to decide, as opposed to the
// context-free checks consensus.Block.Validate and
// consensus.Transaction.Validate already enforce on their own.
package validate

import (
	"github.com/grincore/node/consensus"
	"github.com/grincore/node/internal/mmr"
	"github.com/grincore/node/internal/txhashset"
)

// HeaderByHash is the minimal chain lookup validation needs: given a
// header's hash, return it (or nil if unknown).
type HeaderByHash func(hash consensus.Hash) *consensus.BlockHeader

// Block runs every contextual check against a candidate block, given its
// already-verified-context-free form, the previous header, the header MMR
// at the previous header's height, and the TxHashSet it would extend.
//
// It does NOT apply the block; callers run this before committing an
// extension (or inside one, then roll back on failure).
func Block(b *consensus.Block, previous *consensus.BlockHeader, headerMMR *mmr.MMR, headerMMRSize uint64, set *txhashset.TxHashSet) error {
	if previous == nil {
		return consensus.NewRuleError(consensus.Orphan, "previous header %s unknown", b.Header.Previous)
	}

	if b.Header.Height != previous.Height+1 {
		return consensus.NewRuleError(consensus.InvalidTransaction, "block height %d does not follow previous height %d", b.Header.Height, previous.Height)
	}

	wantTD := previous.POW.TotalDifficulty + previous.POW.Proof.Difficulty()
	if b.Header.POW.TotalDifficulty != wantTD {
		return consensus.NewRuleError(consensus.InvalidBlockProof, "total difficulty %d does not match expected %d", b.Header.POW.TotalDifficulty, wantTD)
	}

	root, err := headerMMR.Root(headerMMRSize)
	if err != nil {
		return consensus.NewRuleError(consensus.StoreError, "header MMR root: %v", err)
	}
	if !hashEqual(b.Header.PreviousRoot, root) {
		return consensus.NewRuleError(consensus.InvalidTransaction, "prev_root does not match header MMR root at %s", b.Header.Previous)
	}

	for _, k := range b.Kernels {
		if k.LockHeight > b.Header.Height {
			return consensus.NewRuleError(consensus.InvalidKernelFeatures, "kernel lock_height %d exceeds block height %d", k.LockHeight, b.Header.Height)
		}
	}

	for _, in := range b.Inputs {
		if !set.Unspent(in.Commit) {
			return consensus.NewRuleError(consensus.InvalidTransaction, "input %s does not reference a currently unspent output", in.Commit)
		}
	}

	return nil
}

// Transaction runs the contextual checks for a pool candidate transaction
// against the TxHashSet snapshot it would extend (which may itself be a
// view stacked on top of already-accepted pool transactions — see
// internal/txpool).
func Transaction(tx *consensus.Transaction, height uint64, set *txhashset.TxHashSet) error {
	for _, in := range tx.Inputs {
		if !set.Unspent(in.Commit) {
			return consensus.NewRuleError(consensus.InvalidTransaction, "input %s does not reference a currently unspent output", in.Commit)
		}
	}
	for _, k := range tx.Kernels {
		if k.LockHeight > height {
			return consensus.NewRuleError(consensus.InvalidKernelFeatures, "kernel lock_height %d exceeds current height %d", k.LockHeight, height)
		}
	}
	return nil
}

func hashEqual(a consensus.Hash, b mmr.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
