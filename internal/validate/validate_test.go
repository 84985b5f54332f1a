package validate

import (
	"testing"
	"time"

	"github.com/grincore/node/consensus"
	"github.com/grincore/node/internal/mmr"
	"github.com/grincore/node/internal/txhashset"
)

// zeroHash is a valid-length placeholder for header hash fields the test
// doesn't care about; BytesWithoutPOW panics on anything but BlockHashSize.
func zeroHash() consensus.Hash {
	return make(consensus.Hash, consensus.BlockHashSize)
}

func blankHeader(height uint64) *consensus.BlockHeader {
	return &consensus.BlockHeader{
		Height:         height,
		Previous:       zeroHash(),
		PreviousRoot:   zeroHash(),
		OutputRoot:     zeroHash(),
		RangeProofRoot: zeroHash(),
		KernelRoot:     zeroHash(),
	}
}

func buildHeaderMMR(t *testing.T, headers ...*consensus.BlockHeader) (*mmr.MMR, uint64) {
	t.Helper()
	backend := mmr.NewMemoryBackend()
	eng := mmr.New(backend)
	var size uint64
	for _, h := range headers {
		if _, err := eng.Append(h.BytesWithoutPOW()); err != nil {
			t.Fatal(err)
		}
		size = eng.Size()
	}
	return eng, size
}

func TestBlockRejectsUnknownPrevious(t *testing.T) {
	set := txhashset.New(mmr.NewMemoryBackend(), mmr.NewMemoryBackend(), mmr.NewMemoryBackend())
	headerMMR, size := buildHeaderMMR(t)

	b := &consensus.Block{Header: *blankHeader(1)}
	b.Header.Timestamp = time.Now()
	err := Block(b, nil, headerMMR, size, set)
	if err == nil {
		t.Fatal("expected error for nil previous header")
	}
	ruleErr, ok := err.(*consensus.RuleError)
	if !ok || ruleErr.Kind != consensus.Orphan {
		t.Errorf("expected Orphan, got %v", err)
	}
}

func TestBlockRejectsWrongHeight(t *testing.T) {
	set := txhashset.New(mmr.NewMemoryBackend(), mmr.NewMemoryBackend(), mmr.NewMemoryBackend())
	prev := blankHeader(5)
	headerMMR, size := buildHeaderMMR(t, prev)

	b := &consensus.Block{Header: *blankHeader(7)}
	b.Header.Previous = prev.Hash()
	err := Block(b, prev, headerMMR, size, set)
	if err == nil {
		t.Fatal("expected error for non-sequential height")
	}
}

func TestBlockRejectsLockHeightInFuture(t *testing.T) {
	set := txhashset.New(mmr.NewMemoryBackend(), mmr.NewMemoryBackend(), mmr.NewMemoryBackend())
	prev := blankHeader(5)
	headerMMR, size := buildHeaderMMR(t, prev)

	root, _ := headerMMR.Root(size)
	b := &consensus.Block{
		Header:  *blankHeader(6),
		Kernels: consensus.TxKernelList{{LockHeight: 100}},
	}
	b.Header.Previous = prev.Hash()
	b.Header.PreviousRoot = consensus.Hash(root[:])
	b.Header.POW.TotalDifficulty = prev.POW.TotalDifficulty + prev.POW.Proof.Difficulty()

	err := Block(b, prev, headerMMR, size, set)
	if err == nil {
		t.Fatal("expected error for kernel lock_height exceeding block height")
	}
	ruleErr, ok := err.(*consensus.RuleError)
	if !ok || ruleErr.Kind != consensus.InvalidKernelFeatures {
		t.Errorf("expected InvalidKernelFeatures, got %v", err)
	}
}
