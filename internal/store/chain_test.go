package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/grincore/node/consensus"
)

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
		Timestamp:      time.Now(),
	}
}

func openTestChainStore(t *testing.T) *ChainStore {
	t.Helper()
	s, err := OpenChainStore(filepath.Join(t.TempDir(), "chain.db"))
	if err != nil {
		t.Fatalf("OpenChainStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChainStoreHeaderRoundTrip(t *testing.T) {
	s := openTestChainStore(t)
	h := blankHeader(5)

	if err := s.PutHeader(h); err != nil {
		t.Fatalf("PutHeader: %v", err)
	}

	got, ok, err := s.GetHeader(h.Hash())
	if err != nil {
		t.Fatalf("GetHeader: %v", err)
	}
	if !ok {
		t.Fatal("expected header to be found")
	}
	if got.Height != h.Height {
		t.Errorf("got height %d, want %d", got.Height, h.Height)
	}
}

func TestChainStoreGetHeaderMissing(t *testing.T) {
	s := openTestChainStore(t)

	_, ok, err := s.GetHeader(zeroHash())
	if err != nil {
		t.Fatalf("GetHeader: %v", err)
	}
	if ok {
		t.Fatal("expected no header to be found")
	}
}

func TestChainStoreBlockRoundTrip(t *testing.T) {
	s := openTestChainStore(t)
	b := &consensus.Block{Header: *blankHeader(1)}

	if err := s.PutBlock(b); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	got, ok, err := s.GetBlock(b.Hash())
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if !ok {
		t.Fatal("expected block to be found")
	}
	if got.Header.Height != b.Header.Height {
		t.Errorf("got height %d, want %d", got.Header.Height, b.Header.Height)
	}
}

func TestChainStoreSpentBitmapRoundTrip(t *testing.T) {
	s := openTestChainStore(t)
	hash := zeroHash()
	hash[0] = 7
	bitmap := []byte{0xff, 0x01}

	if err := s.PutSpentBitmap(hash, bitmap); err != nil {
		t.Fatalf("PutSpentBitmap: %v", err)
	}

	got, ok, err := s.GetSpentBitmap(hash)
	if err != nil {
		t.Fatalf("GetSpentBitmap: %v", err)
	}
	if !ok {
		t.Fatal("expected bitmap to be found")
	}
	if string(got) != string(bitmap) {
		t.Errorf("got %v, want %v", got, bitmap)
	}
}

func TestChainStoreHeadsRoundTrip(t *testing.T) {
	s := openTestChainStore(t)
	hash := zeroHash()
	hash[1] = 0x42

	if _, _, ok, err := s.HeaderHead(); err != nil || ok {
		t.Fatalf("expected no header head yet, ok=%v err=%v", ok, err)
	}

	if err := s.SetHeaderHead(hash, 100); err != nil {
		t.Fatalf("SetHeaderHead: %v", err)
	}
	if err := s.SetBodyHead(hash, 90); err != nil {
		t.Fatalf("SetBodyHead: %v", err)
	}

	gotHash, gotHeight, ok, err := s.HeaderHead()
	if err != nil || !ok {
		t.Fatalf("HeaderHead: ok=%v err=%v", ok, err)
	}
	if string(gotHash) != string(hash) || gotHeight != 100 {
		t.Errorf("got (%x, %d), want (%x, 100)", gotHash, gotHeight, hash)
	}

	_, bodyHeight, ok, err := s.BodyHead()
	if err != nil || !ok {
		t.Fatalf("BodyHead: ok=%v err=%v", ok, err)
	}
	if bodyHeight != 90 {
		t.Errorf("got body height %d, want 90", bodyHeight)
	}
}
