// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sort"

	. "github.com/yoss22/bulletproofs"

	"github.com/grincore/node/secp256k1zkp"
)

// Transaction is an unconfirmed, already-built Mimblewimble transaction: a
// set of inputs and outputs plus the kernels proving they sum to zero, net
// of a random offset that blinds the linkage between a transaction's own
// inputs and outputs when multiple transactions are aggregated.
type Transaction struct {
	// Offset is the kernel offset scalar contributed by this transaction.
	Offset  [32]byte
	Inputs  InputList
	Outputs OutputList
	Kernels TxKernelList
}

// Bytes implements the p2p Message interface.
func (t *Transaction) Bytes() []byte {
	buff := new(bytes.Buffer)

	buff.Write(t.Offset[:])
	binary.Write(buff, binary.BigEndian, uint64(len(t.Inputs)))
	binary.Write(buff, binary.BigEndian, uint64(len(t.Outputs)))
	binary.Write(buff, binary.BigEndian, uint64(len(t.Kernels)))

	sort.Sort(t.Inputs)
	sort.Sort(t.Outputs)
	sort.Sort(t.Kernels)

	for _, in := range t.Inputs {
		buff.Write(in.Bytes())
	}
	for _, out := range t.Outputs {
		buff.Write(out.Bytes())
	}
	for _, k := range t.Kernels {
		buff.Write(k.Bytes())
	}

	return buff.Bytes()
}

// Type implements the p2p Message interface.
func (t *Transaction) Type() uint8 { return MsgTypeTransaction }

// Read implements the p2p Message interface.
func (t *Transaction) Read(r io.Reader) error {
	if _, err := io.ReadFull(r, t.Offset[:]); err != nil {
		return err
	}

	var inputs, outputs, kernels uint64
	if err := binary.Read(r, binary.BigEndian, &inputs); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &outputs); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &kernels); err != nil {
		return err
	}

	const maxListLen = 100_000
	if inputs > maxListLen || outputs > maxListLen || kernels > maxListLen {
		return NewRuleError(InvalidTransaction, "transaction body list too large")
	}

	t.Inputs = make(InputList, inputs)
	for i := range t.Inputs {
		if err := t.Inputs[i].Read(r); err != nil {
			return err
		}
	}
	t.Outputs = make(OutputList, outputs)
	for i := range t.Outputs {
		if err := t.Outputs[i].Read(r); err != nil {
			return err
		}
	}
	t.Kernels = make(TxKernelList, kernels)
	for i := range t.Kernels {
		if err := t.Kernels[i].Read(r); err != nil {
			return err
		}
	}

	return nil
}

// Hash identifies the transaction by its full serialized bytes.
func (t *Transaction) Hash() Hash {
	h := secp256k1zkp.Blake2b256(t.Bytes())
	return Hash(h[:])
}

// Aggregate merges one or more transactions into a single transaction,
// the way Dandelion relay combines stem transactions before fluffing:
// inputs, outputs and kernels are concatenated and cut-through is applied
// across the merged set (an output of one input transaction that another
// spends cancels out), and offsets are summed mod the curve order. The
// result still needs sorting and Validate before use; Aggregate itself
// does no consensus checking.
func Aggregate(txs ...*Transaction) *Transaction {
	agg := &Transaction{}
	offset := new(big.Int)

	for _, t := range txs {
		agg.Inputs = append(agg.Inputs, t.Inputs...)
		agg.Outputs = append(agg.Outputs, t.Outputs...)
		agg.Kernels = append(agg.Kernels, t.Kernels...)
		offset.Add(offset, new(big.Int).SetBytes(t.Offset[:]))
	}
	offset.Mod(offset, secp256k1zkp.S256N())
	offset.FillBytes(agg.Offset[:])

	outputs := make(map[secp256k1zkp.Commitment]int, len(agg.Outputs))
	for i, o := range agg.Outputs {
		outputs[o.Commit] = i
	}

	var cutInputs InputList
	dropOutput := make(map[int]bool)
	for _, in := range agg.Inputs {
		if i, ok := outputs[in.Commit]; ok && !dropOutput[i] {
			dropOutput[i] = true
			continue
		}
		cutInputs = append(cutInputs, in)
	}

	var cutOutputs OutputList
	for i, o := range agg.Outputs {
		if !dropOutput[i] {
			cutOutputs = append(cutOutputs, o)
		}
	}

	agg.Inputs = cutInputs
	agg.Outputs = cutOutputs
	return agg
}

// Fee is the sum of every kernel's fee.
func (t *Transaction) Fee() uint64 {
	var fee uint64
	for _, k := range t.Kernels {
		fee += k.Fee
	}
	return fee
}

// Weight is the transaction's weight against MAX_TX_WEIGHT.
func (t *Transaction) Weight() uint64 {
	return uint64(len(t.Inputs))*BlockInputWeight +
		uint64(len(t.Outputs))*BlockOutputWeight +
		uint64(len(t.Kernels))*BlockKernelWeight
}

// Validate enforces every context-free consensus rule on the transaction:
// sorting, no duplicates, weight, self-spend cut-through, range proofs,
// kernel signatures, and the sum-to-zero equation with the declared offset.
// A transaction never carries coinbase features; that only for validate.
func (t *Transaction) Validate() error {
	if t.Weight() > MaxTxWeight {
		return NewRuleError(InvalidTransaction, "transaction weight %d exceeds maximum", t.Weight())
	}

	if !sort.IsSorted(t.Inputs) || !sort.IsSorted(t.Outputs) || !sort.IsSorted(t.Kernels) {
		return NewRuleError(InvalidTransaction, "transaction body is not sorted")
	}
	if err := t.verifyNoDuplicates(); err != nil {
		return err
	}
	if err := t.verifyCutThrough(); err != nil {
		return err
	}

	for i := range t.Kernels {
		if t.Kernels[i].Features&CoinbaseKernel != 0 {
			return NewRuleError(InvalidKernelFeatures, "transaction kernel carries coinbase features")
		}
		if err := t.Kernels[i].Validate(); err != nil {
			return err
		}
	}

	verifier := secp256k1zkp.NewBatchVerifier(64)
	for _, o := range t.Outputs {
		if o.Features&CoinbaseOutput != 0 {
			return NewRuleError(InvalidKernelFeatures, "transaction output carries coinbase features")
		}
		if !verifier.Verify(o.Commit, o.Proof.Proof) {
			return NewRuleError(InvalidTransaction, "range proof failed for %s", o.Commit)
		}
	}

	return t.verifyKernelSum()
}

func (t *Transaction) verifyNoDuplicates() error {
	inputs := make(map[secp256k1zkp.Commitment]struct{}, len(t.Inputs))
	for _, in := range t.Inputs {
		if _, ok := inputs[in.Commit]; ok {
			return NewRuleError(DuplicateCommitment, "duplicate input commitment %s", in.Commit)
		}
		inputs[in.Commit] = struct{}{}
	}
	kernels := make(map[secp256k1zkp.Commitment]struct{}, len(t.Kernels))
	for _, k := range t.Kernels {
		if _, ok := kernels[k.Excess]; ok {
			return NewRuleError(InvalidTransaction, "duplicate kernel excess %s", k.Excess)
		}
		kernels[k.Excess] = struct{}{}
	}

	seen := make(map[secp256k1zkp.Commitment]struct{}, len(t.Outputs))
	for _, o := range t.Outputs {
		if _, ok := seen[o.Commit]; ok {
			return NewRuleError(DuplicateCommitment, "duplicate output commitment %s", o.Commit)
		}
		seen[o.Commit] = struct{}{}
	}
	return nil
}

func (t *Transaction) verifyCutThrough() error {
	outputs := make(map[secp256k1zkp.Commitment]struct{}, len(t.Outputs))
	for _, o := range t.Outputs {
		outputs[o.Commit] = struct{}{}
	}
	for _, in := range t.Inputs {
		if _, ok := outputs[in.Commit]; ok {
			return NewRuleError(CutThroughViolation, "input and output share commitment %s", in.Commit)
		}
	}
	return nil
}

// verifyKernelSum checks sum(outputs) - sum(inputs) - fee*H == sum(kernel
// excesses) + offset*G.
func (t *Transaction) verifyKernelSum() error {
	positive := make([]*Point, 0, len(t.Outputs))
	for _, o := range t.Outputs {
		p, err := o.Commit.Point()
		if err != nil {
			return NewRuleError(InvalidTransaction, "output commitment does not decompress: %v", err)
		}
		positive = append(positive, p)
	}

	negative := make([]*Point, 0, len(t.Inputs)+len(t.Kernels)+1)
	for _, in := range t.Inputs {
		p, err := in.Commit.Point()
		if err != nil {
			return NewRuleError(InvalidTransaction, "input commitment does not decompress: %v", err)
		}
		negative = append(negative, p)
	}
	for _, k := range t.Kernels {
		p, err := k.Excess.Point()
		if err != nil {
			return NewRuleError(InvalidTransaction, "kernel excess does not decompress: %v", err)
		}
		negative = append(negative, p)
	}
	negative = append(negative, secp256k1zkp.ValueCommitment(t.Fee()))

	offset := new(big.Int).SetBytes(t.Offset[:])
	if !secp256k1zkp.VerifyKernelSum(positive, negative, offset) {
		return NewRuleError(InvalidTransaction, "transaction commitments do not sum to zero")
	}

	return nil
}

func (t Transaction) String() string {
	return fmt.Sprintf("%#v", t)
}
