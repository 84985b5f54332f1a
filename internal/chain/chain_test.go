package chain

import (
	"testing"
	"time"

	"github.com/grincore/node/consensus"
	"github.com/grincore/node/internal/mmr"
)

// zeroHash is a valid-length placeholder for header hash fields a test
// doesn't care about; BytesWithoutPOW panics on anything but BlockHashSize.
func zeroHash() consensus.Hash {
	return make(consensus.Hash, consensus.BlockHashSize)
}

func blankHeader(height uint64) consensus.BlockHeader {
	return consensus.BlockHeader{
		Height:         height,
		Previous:       zeroHash(),
		PreviousRoot:   zeroHash(),
		OutputRoot:     zeroHash(),
		RangeProofRoot: zeroHash(),
		KernelRoot:     zeroHash(),
		Timestamp:      time.Now(),
	}
}

func emptyGenesis() *consensus.Block {
	return &consensus.Block{Header: blankHeader(0)}
}

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c, err := New(emptyGenesis(), mmr.NewMemoryBackend(), mmr.NewMemoryBackend(), mmr.NewMemoryBackend(), mmr.NewMemoryBackend())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewSetsGenesisAsBothHeads(t *testing.T) {
	genesis := emptyGenesis()
	c, err := New(genesis, mmr.NewMemoryBackend(), mmr.NewMemoryBackend(), mmr.NewMemoryBackend(), mmr.NewMemoryBackend())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash := genesis.Header.Hash()
	if string(c.HeaderHead().Hash) != string(hash) {
		t.Errorf("header head = %x, want genesis %x", c.HeaderHead().Hash, hash)
	}
	if string(c.BodyHead().Hash) != string(hash) {
		t.Errorf("body head = %x, want genesis %x", c.BodyHead().Hash, hash)
	}
	if c.GetHeader(hash) == nil {
		t.Error("expected genesis header to be indexed")
	}
	if c.GetBlock(hash) == nil {
		t.Error("expected genesis block to be indexed")
	}
}

// appendChild extends c's header MMR and index with a header one height
// above parent, bypassing the PoW cycle check ProcessBlockHeader would run:
// these tests exercise the context checks and chain bookkeeping rather than
// the Cuckatoo graph verifier, which needs a genuinely solved proof to pass.
func appendChild(t *testing.T, c *Chain, parent *consensus.BlockHeader) *consensus.BlockHeader {
	t.Helper()
	parentPos := c.headerPos[string(parent.Hash())]
	root, err := c.headerMMR.Root(parentPos)
	if err != nil {
		t.Fatalf("header mmr root: %v", err)
	}

	h := blankHeader(parent.Height + 1)
	h.Previous = parent.Hash()
	h.PreviousRoot = consensus.Hash(root[:])
	h.POW.TotalDifficulty = parent.POW.TotalDifficulty + parent.POW.Proof.Difficulty()
	h.POW.SecondaryScaling = 1

	pos, err := c.headerMMR.Append(h.BytesWithoutPOW())
	if err != nil {
		t.Fatalf("append header mmr: %v", err)
	}
	hash := h.Hash()
	key := string(hash)
	c.headersByHash[key] = &h
	c.headerPos[key] = pos
	if h.POW.TotalDifficulty > c.headerHead.TotalDifficulty {
		c.headerHead = Head{Hash: hash, Height: h.Height, TotalDifficulty: h.POW.TotalDifficulty}
	}
	return &h
}

func TestCheckHeaderContextRejectsWrongHeight(t *testing.T) {
	c := newTestChain(t)
	parent := c.headersByHash[string(c.HeaderHead().Hash)]

	bad := blankHeader(5)
	bad.Previous = parent.Hash()

	err := c.checkHeaderContext(&bad, parent)
	if err == nil {
		t.Fatal("expected error for non-sequential height")
	}
	ruleErr, ok := err.(*consensus.RuleError)
	if !ok || ruleErr.Kind != consensus.InvalidTransaction {
		t.Errorf("expected InvalidTransaction, got %v", err)
	}
}

func TestCheckHeaderContextRejectsWrongPrevRoot(t *testing.T) {
	c := newTestChain(t)
	parent := c.headersByHash[string(c.HeaderHead().Hash)]

	bad := blankHeader(parent.Height + 1)
	bad.Previous = parent.Hash()
	bad.PreviousRoot = zeroHash() // deliberately not the real header MMR root
	bad.POW.TotalDifficulty = parent.POW.TotalDifficulty + parent.POW.Proof.Difficulty()

	err := c.checkHeaderContext(&bad, parent)
	if err == nil {
		t.Fatal("expected error for mismatched prev_root")
	}
	ruleErr, ok := err.(*consensus.RuleError)
	if !ok || ruleErr.Kind != consensus.InvalidTransaction {
		t.Errorf("expected InvalidTransaction, got %v", err)
	}
}

func TestCheckHeaderContextAcceptsValidChild(t *testing.T) {
	c := newTestChain(t)
	parent := c.headersByHash[string(c.HeaderHead().Hash)]

	parentPos := c.headerPos[string(parent.Hash())]
	root, err := c.headerMMR.Root(parentPos)
	if err != nil {
		t.Fatalf("header mmr root: %v", err)
	}

	good := blankHeader(parent.Height + 1)
	good.Previous = parent.Hash()
	good.PreviousRoot = consensus.Hash(root[:])
	good.POW.TotalDifficulty = parent.POW.TotalDifficulty + parent.POW.Proof.Difficulty()
	good.POW.SecondaryScaling = 1

	if err := c.checkHeaderContext(&good, parent); err != nil {
		t.Errorf("expected valid child to pass context checks, got %v", err)
	}
}

func TestGetBlockHeadersWalksFromLocator(t *testing.T) {
	c := newTestChain(t)
	genesis := c.headersByHash[string(c.HeaderHead().Hash)]

	h1 := appendChild(t, c, genesis)
	h2 := appendChild(t, c, h1)
	_ = appendChild(t, c, h2)

	loc := consensus.Locator{Hashes: []consensus.Hash{genesis.Hash()}}
	got := c.GetBlockHeaders(loc)
	if len(got) != 3 {
		t.Fatalf("expected 3 headers following genesis, got %d", len(got))
	}
	if got[0].Height != 1 || got[1].Height != 2 || got[2].Height != 3 {
		t.Errorf("unexpected height sequence: %d, %d, %d", got[0].Height, got[1].Height, got[2].Height)
	}
}

func TestGetBlockHeadersUnknownLocatorReturnsNil(t *testing.T) {
	c := newTestChain(t)
	loc := consensus.Locator{Hashes: []consensus.Hash{zeroHash()}}
	if got := c.GetBlockHeaders(loc); got != nil {
		t.Errorf("expected nil for locator with no known hash, got %v", got)
	}
}

func TestApplyBlockAcceptsEmptyExtension(t *testing.T) {
	c := newTestChain(t)
	genesis := c.headersByHash[string(c.HeaderHead().Hash)]
	h1 := appendChild(t, c, genesis)

	block := &consensus.Block{Header: *h1}
	c.blocksByHash[string(h1.Hash())] = block

	if err := c.applyBlock(block); err != nil {
		t.Fatalf("applyBlock: %v", err)
	}

	outSize, kernSize := c.set.Sizes()
	if outSize != 0 || kernSize != 0 {
		t.Errorf("expected empty block to leave MMR sizes at 0, got %d/%d", outSize, kernSize)
	}
}

func TestBranchFromGenesisWalksAncestors(t *testing.T) {
	c := newTestChain(t)
	genesis := c.genesis
	h1 := appendChild(t, c, &genesis.Header)
	b1 := &consensus.Block{Header: *h1}
	c.blocksByHash[string(h1.Hash())] = b1

	h2 := appendChild(t, c, h1)
	b2 := &consensus.Block{Header: *h2}
	c.blocksByHash[string(h2.Hash())] = b2

	chain, err := c.branchFromGenesis(b2)
	if err != nil {
		t.Fatalf("branchFromGenesis: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 blocks (genesis, h1, h2), got %d", len(chain))
	}
	for i, blk := range chain {
		if blk.Header.Height != uint64(i) {
			t.Errorf("chain[%d] height = %d, want %d", i, blk.Header.Height, i)
		}
	}
}

func TestBranchFromGenesisMissingBodyErrors(t *testing.T) {
	c := newTestChain(t)
	h1 := appendChild(t, c, &c.genesis.Header)
	// h1's body was never stored in blocksByHash.
	h2 := appendChild(t, c, h1)
	b2 := &consensus.Block{Header: *h2}

	_, err := c.branchFromGenesis(b2)
	if err == nil {
		t.Fatal("expected error for missing ancestor body")
	}
	ruleErr, ok := err.(*consensus.RuleError)
	if !ok || ruleErr.Kind != consensus.Orphan {
		t.Errorf("expected Orphan, got %v", err)
	}
}
