// Package pmmr is the file-backed persistent MMR storage used by the
// running node: one flat, append-only hash file per MMR (output, range
// proof, kernel, header), plus an in-memory prune list of logically
// removed positions, whose records Compact zero-fills without shrinking
// the file.
package pmmr

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/grincore/node/internal/mmr"
)

const hashSize = 32

// FileBackend stores MMR node hashes in a single flat file, one hashSize
// record per position (1-indexed, so record 0 in the file is position 1).
// It implements mmr.Backend.
type FileBackend struct {
	mu sync.RWMutex

	path string
	file *os.File

	// size is the file's record count, zero-filled records included;
	// Truncate shrinks the file and size together.
	size uint64

	// pruned marks positions logically removed by Remove; Get refuses
	// them. It is held in memory only, and Compact keeps the marks.
	pruned map[uint64]struct{}
}

// Open opens or creates the backend's hash file at path.
func Open(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pmmr: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	b := &FileBackend{
		path:   path,
		file:   f,
		size:   uint64(info.Size()) / hashSize,
		pruned: make(map[uint64]struct{}),
	}
	return b, nil
}

// New wraps an already-open FileBackend with the generic mmr.MMR engine.
func New(b *FileBackend) *mmr.MMR { return mmr.New(b) }

func (b *FileBackend) offset(pos uint64) int64 { return int64(pos-1) * hashSize }

func (b *FileBackend) Push(pos uint64, hash mmr.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.WriteAt(hash[:], b.offset(pos)); err != nil {
		return fmt.Errorf("pmmr: write pos %d: %w", pos, err)
	}
	if pos > b.size {
		b.size = pos
	}
	return nil
}

func (b *FileBackend) Get(pos uint64) (mmr.Hash, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if pos == 0 || pos > b.size {
		return mmr.Hash{}, fmt.Errorf("pmmr: position %d out of range (size %d)", pos, b.size)
	}
	if _, ok := b.pruned[pos]; ok {
		return mmr.Hash{}, fmt.Errorf("pmmr: position %d has been pruned", pos)
	}

	var hash mmr.Hash
	if _, err := b.file.ReadAt(hash[:], b.offset(pos)); err != nil {
		return mmr.Hash{}, fmt.Errorf("pmmr: read pos %d: %w", pos, err)
	}
	return hash, nil
}

func (b *FileBackend) Size() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Remove logically prunes pos: Get refuses it from then on. The bytes stay
// on disk until Compact overwrites them with zeros.
func (b *FileBackend) Remove(pos uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruned[pos] = struct{}{}
	return nil
}

// Truncate discards every node beyond size, both logically and on disk.
func (b *FileBackend) Truncate(size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.file.Truncate(int64(size) * hashSize); err != nil {
		return fmt.Errorf("pmmr: truncate: %w", err)
	}
	for pos := range b.pruned {
		if pos > size {
			delete(b.pruned, pos)
		}
	}
	b.size = size
	return nil
}

// Close flushes and closes the backing file.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

// PrunedPositions returns the positions currently marked removed, in no
// particular order.
func (b *FileBackend) PrunedPositions() []uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]uint64, 0, len(b.pruned))
	for pos := range b.pruned {
		out = append(out, pos)
	}
	return out
}

// Compact rewrites the hash file with a zero-filled record in place of
// every position marked by Remove and every other record unchanged. No
// record is dropped, the file keeps its length, ancestors of pruned
// positions are kept, and the pruned marks stay set. It
// writes to a temporary file and swaps it in, following the teacher's
// write-then-rename pattern for crash safety in its storage layer.
func (b *FileBackend) Compact() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tmpPath := b.path + ".compact"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("pmmr: create compact tmp: %w", err)
	}

	w := bufio.NewWriter(tmp)
	var hash mmr.Hash
	for pos := uint64(1); pos <= b.size; pos++ {
		if _, ok := b.pruned[pos]; ok {
			if _, err := w.Write(make([]byte, hashSize)); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return err
			}
			continue
		}
		if _, err := b.file.ReadAt(hash[:], b.offset(pos)); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("pmmr: compact read pos %d: %w", pos, err)
		}
		if _, err := w.Write(hash[:]); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := b.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("pmmr: rename compact file: %w", err)
	}

	f, err := os.OpenFile(b.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	b.file = f
	return nil
}
