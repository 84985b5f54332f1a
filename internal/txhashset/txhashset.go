// Package txhashset is the authoritative working set: the composition of
// the output, range proof and kernel MMRs plus the set of currently
// unspent output positions. Everything that changes chain state — applying
// a block, rewinding to an ancestor, validating a candidate body — goes
// through this package.
package txhashset

import (
	"fmt"
	"math/big"
	"sync"

	. "github.com/yoss22/bulletproofs"

	"github.com/grincore/node/consensus"
	"github.com/grincore/node/internal/mmr"
	"github.com/grincore/node/secp256k1zkp"
)

// outputEntry is the leaf_set record for one unspent output: its MMR
// position (shared by the output and range proof MMRs, which always stay
// the same size) and the data needed to enforce coinbase maturity.
type outputEntry struct {
	pos      uint64
	height   uint64
	features consensus.OutputFeatures
}

// spentRecord describes what one block removed from the unspent set.
// Nothing in this package creates or reads one, and the package has no
// rewind operation.
type spentRecord struct {
	blockHash consensus.Hash
	// removed is every output this block's inputs spent, in application
	// order.
	removed []outputEntry
	removedCommits []secp256k1zkp.Commitment
	// MMR sizes before the block was applied.
	outputSizeBefore uint64
	kernelSizeBefore uint64
}

// TxHashSet is the composite UTXO/rangeproof/kernel state.
type TxHashSet struct {
	mu sync.RWMutex

	outputs    *mmr.MMR
	rangeproof *mmr.MMR
	kernels    *mmr.MMR

	unspent map[secp256k1zkp.Commitment]outputEntry

	// kernelExcessSum and totalOffset accumulate across every kernel and
	// block offset ever applied, the running state the sum-to-zero check
	// compares against total emission.
	kernelExcessSum *Point
	totalOffset     *big.Int

	// history is never appended to: applying a block records no
	// per-block spent data.
	history []spentRecord
}

// New builds a TxHashSet over three already-open MMR backends.
func New(outputs, rangeproof, kernels mmr.Backend) *TxHashSet {
	return &TxHashSet{
		outputs:     mmr.New(outputs),
		rangeproof:  mmr.New(rangeproof),
		kernels:     mmr.New(kernels),
		unspent:     make(map[secp256k1zkp.Commitment]outputEntry),
		totalOffset: new(big.Int),
	}
}

// Sizes returns the current MMR sizes, for comparing against a header's
// declared output_mmr_size/kernel_mmr_size.
func (t *TxHashSet) Sizes() (outputSize, kernelSize uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.outputs.Size(), t.kernels.Size()
}

// Roots recomputes the three MMR roots at their current sizes.
func (t *TxHashSet) Roots() (outputRoot, rangeproofRoot, kernelRoot mmr.Hash, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if outputRoot, err = t.outputs.Root(t.outputs.Size()); err != nil {
		return
	}
	if rangeproofRoot, err = t.rangeproof.Root(t.rangeproof.Size()); err != nil {
		return
	}
	kernelRoot, err = t.kernels.Root(t.kernels.Size())
	return
}

// Extension opens a mutable scope over the TxHashSet. f may apply a block
// or a raw transaction; if it returns an error, every append and removal
// made through the Extension is rolled back before Extension returns. A
// successful f commits its changes in place.
func (t *TxHashSet) Extension(f func(*Extension) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ext := &Extension{
		set:                 t,
		outputSizeBefore:    t.outputs.Size(),
		kernelSizeBefore:    t.kernels.Size(),
		kernelExcessBefore:  t.kernelExcessSum,
		totalOffsetBefore:   new(big.Int).Set(t.totalOffset),
	}

	if err := f(ext); err != nil {
		ext.rollback()
		return err
	}

	return nil
}

// Extension is the mutable view an Extension closure operates on. It
// tracks enough undo state to discard its own changes on error.
type Extension struct {
	set *TxHashSet

	outputSizeBefore uint64
	kernelSizeBefore uint64

	kernelExcessBefore *Point
	totalOffsetBefore  *big.Int

	restoredUnspent map[secp256k1zkp.Commitment]outputEntry
	removedCommits  []secp256k1zkp.Commitment
}

func (e *Extension) rollback() {
	set := e.set

	set.outputs.Rewind(e.outputSizeBefore)
	set.rangeproof.Rewind(e.outputSizeBefore)
	set.kernels.Rewind(e.kernelSizeBefore)

	for _, c := range e.removedCommits {
		delete(set.unspent, c)
	}
	// Outputs appended inside this Extension sit beyond outputSizeBefore.
	for commit, entry := range set.unspent {
		if entry.pos > e.outputSizeBefore {
			delete(set.unspent, commit)
		}
	}
	for commit, entry := range e.restoredUnspent {
		if entry.pos <= e.outputSizeBefore {
			set.unspent[commit] = entry
		}
	}

	set.kernelExcessSum = e.kernelExcessBefore
	set.totalOffset = e.totalOffsetBefore
}

// ApplyInput validates in is spent from a currently unspent, mature output
// and removes it from the leaf set. height is the block applying the
// input, used for the coinbase maturity check. Spending never touches the
// output or range proof MMRs themselves — those only grow, and a spent
// output's hash stays in them.
func (e *Extension) ApplyInput(in consensus.Input, height uint64) error {
	set := e.set

	entry, ok := set.unspent[in.Commit]
	if !ok {
		return consensus.NewRuleError(consensus.InvalidTransaction, "input %s references a spent or unknown output", in.Commit)
	}

	if entry.features&consensus.CoinbaseOutput != 0 {
		if height < entry.height+consensus.CoinbaseMaturity {
			return consensus.NewRuleError(consensus.ImmatureCoinbase, "coinbase output %s matures at height %d, spent at %d", in.Commit, entry.height+consensus.CoinbaseMaturity, height)
		}
	}

	delete(set.unspent, in.Commit)
	e.removedCommits = append(e.removedCommits, in.Commit)
	if e.restoredUnspent == nil {
		e.restoredUnspent = make(map[secp256k1zkp.Commitment]outputEntry)
	}
	if _, seen := e.restoredUnspent[in.Commit]; !seen {
		e.restoredUnspent[in.Commit] = entry
	}

	return nil
}

// ApplyOutput appends out to the output and range proof MMRs and marks it
// unspent at the given height.
func (e *Extension) ApplyOutput(out consensus.Output, height uint64) error {
	set := e.set

	if _, exists := set.unspent[out.Commit]; exists {
		return consensus.NewRuleError(consensus.DuplicateCommitment, "output %s is already unspent", out.Commit)
	}

	pos, err := set.outputs.Append(out.BytesWithoutProof())
	if err != nil {
		return err
	}
	proofPos, err := set.rangeproof.Append(out.Proof.Bytes())
	if err != nil {
		return err
	}
	if pos != proofPos {
		return fmt.Errorf("txhashset: output and rangeproof MMR positions diverged (%d != %d)", pos, proofPos)
	}

	set.unspent[out.Commit] = outputEntry{pos: pos, height: height, features: out.Features}
	return nil
}

// ApplyKernel appends k to the kernel MMR and folds its excess into the
// running kernel-excess accumulator used by the sum-to-zero check.
func (e *Extension) ApplyKernel(k consensus.TxKernel) error {
	if _, err := e.set.kernels.Append(k.Bytes()); err != nil {
		return err
	}

	excess, err := k.Excess.Point()
	if err != nil {
		return consensus.NewRuleError(consensus.InvalidTransaction, "kernel excess does not decompress: %v", err)
	}

	set := e.set
	if set.kernelExcessSum == nil {
		set.kernelExcessSum = excess
	} else {
		set.kernelExcessSum = secp256k1zkp.SumCommitments(set.kernelExcessSum, excess)
	}
	return nil
}

// ApplyOffset folds a block or transaction's kernel offset into the
// running total used by the sum-to-zero check.
func (e *Extension) ApplyOffset(offset [32]byte) {
	o := new(big.Int).SetBytes(offset[:])
	e.set.totalOffset.Add(e.set.totalOffset, o)
	e.set.totalOffset.Mod(e.set.totalOffset, secp256k1zkp.S256N())
}

// ApplyBlock applies every input, output and kernel of b in order,
// enforcing unspentness and coinbase maturity along the way, and folds in
// the block's kernel offset. It is the caller's responsibility to have
// already run b.Validate() for the context-free rules.
func ApplyBlock(e *Extension, b *consensus.Block) error {
	for _, in := range b.Inputs {
		if err := e.ApplyInput(in, b.Header.Height); err != nil {
			return err
		}
	}
	for _, out := range b.Outputs {
		if err := e.ApplyOutput(out, b.Header.Height); err != nil {
			return err
		}
	}
	for _, k := range b.Kernels {
		if err := e.ApplyKernel(k); err != nil {
			return err
		}
	}
	e.ApplyOffset(b.Header.TotalKernelOffset)
	return nil
}

// Validate checks the global sum equation (see verifySum) and nothing
// else. It does not recompute or compare the MMR roots, and it does not
// verify range proofs or kernel signatures; ApplyOutput and ApplyKernel do
// not verify them either. fast has no effect.
func (t *TxHashSet) Validate(totalEmission uint64, fast bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.verifySum(totalEmission)
}

// verifySum checks sum(unspent outputs) - total_emission*H - total_offset*G
// == sum(kernel excesses), the running form of the global invariant that
// every committed block must preserve.
func (t *TxHashSet) verifySum(totalEmission uint64) error {
	positive := make([]*Point, 0, len(t.unspent))
	for commit := range t.unspent {
		p, err := commit.Point()
		if err != nil {
			return consensus.NewRuleError(consensus.InvalidTransaction, "unspent commitment does not decompress: %v", err)
		}
		positive = append(positive, p)
	}

	negative := []*Point{secp256k1zkp.ValueCommitment(totalEmission)}
	if t.kernelExcessSum != nil {
		negative = append(negative, t.kernelExcessSum)
	}

	if !secp256k1zkp.VerifyKernelSum(positive, negative, t.totalOffset) {
		return consensus.NewRuleError(consensus.InvalidTransaction, "txhashset sum-to-zero check failed")
	}
	return nil
}

// Unspent reports whether commit is currently in the leaf set.
func (t *TxHashSet) Unspent(commit secp256k1zkp.Commitment) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.unspent[commit]
	return ok
}
