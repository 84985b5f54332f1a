package txhashset

import (
	"math/big"
	"testing"

	"github.com/grincore/node/consensus"
	"github.com/grincore/node/internal/mmr"
	"github.com/grincore/node/secp256k1zkp"
)

func newTestSet() *TxHashSet {
	return New(mmr.NewMemoryBackend(), mmr.NewMemoryBackend(), mmr.NewMemoryBackend())
}

func testOutput(t *testing.T, blind *big.Int, value uint64, features consensus.OutputFeatures) consensus.Output {
	t.Helper()
	point := secp256k1zkp.CommitValue(blind, new(big.Int).SetUint64(value))
	commit := secp256k1zkp.NewCommitment(point)
	return consensus.Output{Features: features, Commit: commit}
}

func TestApplyOutputThenSpend(t *testing.T) {
	set := newTestSet()

	blind := big.NewInt(42)
	out := testOutput(t, blind, 100, consensus.PlainOutput)

	err := set.Extension(func(ext *Extension) error {
		return ext.ApplyOutput(out, 5)
	})
	if err != nil {
		t.Fatalf("apply output: %v", err)
	}

	if !set.Unspent(out.Commit) {
		t.Fatal("expected output to be unspent after application")
	}

	err = set.Extension(func(ext *Extension) error {
		return ext.ApplyInput(consensus.Input{Features: consensus.PlainOutput, Commit: out.Commit}, 6)
	})
	if err != nil {
		t.Fatalf("apply input: %v", err)
	}

	if set.Unspent(out.Commit) {
		t.Fatal("expected output to be spent")
	}
}

func TestApplyInputImmatureCoinbaseRejected(t *testing.T) {
	set := newTestSet()

	blind := big.NewInt(7)
	out := testOutput(t, blind, 60, consensus.CoinbaseOutput)

	if err := set.Extension(func(ext *Extension) error {
		return ext.ApplyOutput(out, 100)
	}); err != nil {
		t.Fatalf("apply output: %v", err)
	}

	err := set.Extension(func(ext *Extension) error {
		return ext.ApplyInput(consensus.Input{Features: consensus.CoinbaseOutput, Commit: out.Commit}, 101)
	})
	if err == nil {
		t.Fatal("expected immature coinbase spend to be rejected")
	}
	ruleErr, ok := err.(*consensus.RuleError)
	if !ok || ruleErr.Kind != consensus.ImmatureCoinbase {
		t.Errorf("expected ImmatureCoinbase, got %v", err)
	}

	if !set.Unspent(out.Commit) {
		t.Fatal("rejected spend should not have removed the output")
	}
}

func TestExtensionRollsBackOnError(t *testing.T) {
	set := newTestSet()

	blind := big.NewInt(3)
	out := testOutput(t, blind, 50, consensus.PlainOutput)
	if err := set.Extension(func(ext *Extension) error {
		return ext.ApplyOutput(out, 1)
	}); err != nil {
		t.Fatalf("seed output: %v", err)
	}

	sizeBefore, _ := set.Sizes()

	err := set.Extension(func(ext *Extension) error {
		other := testOutput(t, big.NewInt(9), 10, consensus.PlainOutput)
		if err := ext.ApplyOutput(other, 2); err != nil {
			return err
		}
		return consensus.NewRuleError(consensus.InvalidTransaction, "forced failure")
	})
	if err == nil {
		t.Fatal("expected forced failure to propagate")
	}

	sizeAfter, _ := set.Sizes()
	if sizeAfter != sizeBefore {
		t.Errorf("expected MMR size to roll back: before=%d after=%d", sizeBefore, sizeAfter)
	}
}

func TestDuplicateUnspentOutputRejected(t *testing.T) {
	set := newTestSet()
	out := testOutput(t, big.NewInt(1), 5, consensus.PlainOutput)

	if err := set.Extension(func(ext *Extension) error {
		return ext.ApplyOutput(out, 1)
	}); err != nil {
		t.Fatalf("apply output: %v", err)
	}

	err := set.Extension(func(ext *Extension) error {
		return ext.ApplyOutput(out, 2)
	})
	if err == nil {
		t.Fatal("expected duplicate commitment to be rejected")
	}
}
