// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"math/big"
	"testing"

	. "github.com/yoss22/bulletproofs"

	"github.com/grincore/node/secp256k1zkp"
)

func TestBlockWeight(t *testing.T) {
	b := &Block{
		Inputs:  make(InputList, 2),
		Outputs: make(OutputList, 3),
		Kernels: make(TxKernelList, 1),
	}

	want := 2*BlockInputWeight + 3*BlockOutputWeight + 1*BlockKernelWeight
	if b.Weight() != want {
		t.Errorf("Weight() = %d, want %d", b.Weight(), want)
	}
}

func TestTransactionKernelSumRoundTrip(t *testing.T) {
	blindIn := big.NewInt(5)
	blindOut := big.NewInt(8)
	value := uint64(100)

	inPoint := secp256k1zkp.CommitValue(blindIn, new(big.Int).SetUint64(value))
	outPoint := secp256k1zkp.CommitValue(blindOut, new(big.Int).SetUint64(value))

	offset := new(big.Int).Sub(blindOut, blindIn)
	offset.Mod(offset, secp256k1zkp.S256N())

	positive := []*Point{outPoint}
	negative := []*Point{inPoint}

	if !secp256k1zkp.VerifyKernelSum(positive, negative, offset) {
		t.Errorf("expected sum-to-zero to hold with matching offset")
	}

	wrongOffset := new(big.Int).Add(offset, big.NewInt(1))
	if secp256k1zkp.VerifyKernelSum(positive, negative, wrongOffset) {
		t.Errorf("expected sum-to-zero to fail with wrong offset")
	}
}

// coinbasePair builds a coinbase output/kernel pair covering value
// (reward+fees collected by this block), signed and pointed so that
// verifyKernelSum's aggregate check accepts it on its own.
func coinbasePair(blind *big.Int, value uint64) (Output, TxKernel) {
	commitPoint := secp256k1zkp.CommitValue(blind, new(big.Int).SetUint64(value))
	excessPoint := ScalarMulPoint(&G, blind)

	msg := secp256k1zkp.ComputeMessage(0, 0)
	sig := secp256k1zkp.SignMessage(*excessPoint, *blind, msg)

	out := Output{Features: CoinbaseOutput, Commit: secp256k1zkp.NewCommitment(commitPoint)}
	kernel := TxKernel{Features: CoinbaseKernel, Excess: secp256k1zkp.NewCommitment(excessPoint), ExcessSig: sig.Bytes()}
	return out, kernel
}

func TestVerifyKernelSumAcceptsCoinbaseReward(t *testing.T) {
	out, kernel := coinbasePair(big.NewInt(11), Reward)

	b := &Block{Outputs: OutputList{out}, Kernels: TxKernelList{kernel}}
	if err := b.verifyKernelSum(); err != nil {
		t.Errorf("expected a lone reward-only coinbase to sum to zero, got %v", err)
	}
}

func TestVerifyKernelSumRejectsOversizedCoinbase(t *testing.T) {
	out, kernel := coinbasePair(big.NewInt(11), Reward+1)

	b := &Block{Outputs: OutputList{out}, Kernels: TxKernelList{kernel}}
	if err := b.verifyKernelSum(); err == nil {
		t.Error("expected a coinbase output minting more than the reward to be rejected")
	}
}

func TestVerifyKernelSumCancelsOrdinaryFeeAgainstCoinbase(t *testing.T) {
	const fee = uint64(5 * MillGrin)
	const outVal = uint64(1000 * MillGrin)
	inVal := outVal + fee

	blindIn := big.NewInt(3)
	blindOut := big.NewInt(19)

	inCommit := secp256k1zkp.CommitValue(blindIn, new(big.Int).SetUint64(inVal))
	outCommit := secp256k1zkp.CommitValue(blindOut, new(big.Int).SetUint64(outVal))

	kernelBlind := new(big.Int).Sub(blindOut, blindIn)
	kernelBlind.Mod(kernelBlind, secp256k1zkp.S256N())
	excessPoint := ScalarMulPoint(&G, kernelBlind)
	sig := secp256k1zkp.SignMessage(*excessPoint, *kernelBlind, secp256k1zkp.ComputeMessage(fee, 0))

	ordinaryKernel := TxKernel{Fee: fee, Excess: secp256k1zkp.NewCommitment(excessPoint), ExcessSig: sig.Bytes()}

	cbOut, cbKernel := coinbasePair(big.NewInt(29), Reward+fee)

	b := &Block{
		Inputs:  InputList{{Commit: secp256k1zkp.NewCommitment(inCommit)}},
		Outputs: OutputList{{Commit: secp256k1zkp.NewCommitment(outCommit)}, cbOut},
		Kernels: TxKernelList{ordinaryKernel, cbKernel},
	}

	if err := b.verifyKernelSum(); err != nil {
		t.Errorf("expected the ordinary transaction's fee to cancel against what the coinbase absorbs, got %v", err)
	}
}

func TestCutThroughRejected(t *testing.T) {
	var commit secp256k1zkp.Commitment
	commit[0] = 0x02

	b := &Block{
		Inputs:  InputList{{Commit: commit}},
		Outputs: OutputList{{Commit: commit}},
	}

	err := b.verifyCutThrough()
	if err == nil {
		t.Fatal("expected cut-through violation")
	}
	if ruleErr, ok := err.(*RuleError); !ok || ruleErr.Kind != CutThroughViolation {
		t.Errorf("expected CutThroughViolation, got %v", err)
	}
}

func TestValidBlockVersion(t *testing.T) {
	if !validBlockVersion(0, 1) {
		t.Error("version 1 should be valid at height 0")
	}
	if validBlockVersion(0, 2) {
		t.Error("version 2 should not be valid at height 0")
	}
}

func TestNextDifficultyMinimumWithSparseWindow(t *testing.T) {
	diff, _ := NextDifficulty(10, []HeaderInfo{{Timestamp: 0, Difficulty: 100}})
	if diff != MinimumDifficulty {
		t.Errorf("expected MinimumDifficulty with a sparse window, got %d", diff)
	}
}

func TestScheduledSecondaryRatioPinsToZero(t *testing.T) {
	if scheduledSecondaryRatio(SecondaryPoWRatioFloorHeight) != 0 {
		t.Error("expected zero ratio at and beyond the floor height")
	}
	if scheduledSecondaryRatio(0) != SecondaryPoWRatioStart {
		t.Error("expected the starting ratio at height 0")
	}
}
