package pmmr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grincore/node/internal/mmr"
)

func TestFileBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.bin")

	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	eng := New(b)
	for i := byte(1); i <= 5; i++ {
		if _, err := eng.Append([]byte{i}); err != nil {
			t.Fatal(err)
		}
	}

	root, err := eng.Root(eng.Size())
	if err != nil {
		t.Fatal(err)
	}

	b2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()

	if b2.Size() != b.Size() {
		t.Fatalf("reopened size = %d, want %d", b2.Size(), b.Size())
	}

	eng2 := New(b2)
	root2, err := eng2.Root(eng2.Size())
	if err != nil {
		t.Fatal(err)
	}
	if root != root2 {
		t.Error("root mismatch after reopen")
	}
}

func TestFileBackendCompactPreservesRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.bin")

	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	eng := New(b)
	var positions []uint64
	for i := byte(1); i <= 7; i++ {
		pos, err := eng.Append([]byte{i})
		if err != nil {
			t.Fatal(err)
		}
		positions = append(positions, pos)
	}

	rootBefore, err := eng.Root(eng.Size())
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Remove(positions[0]); err != nil {
		t.Fatal(err)
	}
	if err := b.Compact(); err != nil {
		t.Fatal(err)
	}

	rootAfter, err := eng.Root(eng.Size())
	if err != nil {
		t.Fatal(err)
	}
	if rootBefore != rootAfter {
		t.Error("compaction should not change the root (peaks preserved)")
	}

	if _, err := b.Get(positions[0]); err == nil {
		t.Error("expected error reading a pruned+compacted position")
	}
}

func TestFileBackendMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "output.bin")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if b.Size() != 0 {
		t.Errorf("fresh backend size = %d, want 0", b.Size())
	}

	if _, err := mmr.New(b).Root(0); err != nil {
		t.Errorf("root of empty mmr should not error: %v", err)
	}
}
