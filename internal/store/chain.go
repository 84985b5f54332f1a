// Package store holds the two small, non-MMR-shaped persisted stores the
// running node needs: a chain metadata store (header index, body-head
// marker, per-block spent bitmaps) and a peer address book. Both are
// backed by bbolt, the same embedded KV the retrieval pack's
// rubin-protocol and p2pool-go nodes use for equivalent bookkeeping. The
// bulk of chain state — output/rangeproof/kernel/header MMRs — is served
// by internal/pmmr's flat append-only files instead; bbolt only covers
// what doesn't fit that position-indexed shape.
package store

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/grincore/node/consensus"
)

var (
	bucketHeaders = []byte("headers_by_hash")
	bucketBlocks  = []byte("blocks_by_hash")
	bucketSpent   = []byte("spent_by_block_hash")
	bucketMeta    = []byte("meta")
)

var (
	keyHeaderHead = []byte("header_head")
	keyBodyHead   = []byte("body_head")
)

// ChainStore persists header and block bytes, per-block spent-output
// bitmaps and the two chain tip markers, so a restarted node can resume
// from disk instead of re-syncing headers it already validated.
type ChainStore struct {
	db *bolt.DB
}

// OpenChainStore opens or creates the chain KV file at path.
func OpenChainStore(path string) (*ChainStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open chain db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHeaders, bucketBlocks, bucketSpent, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &ChainStore{db: db}, nil
}

// Close releases the underlying file lock.
func (s *ChainStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutHeader persists h, keyed by its own hash.
func (s *ChainStore) PutHeader(h *consensus.BlockHeader) error {
	hash := h.Hash()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeaders).Put(hash, h.Bytes())
	})
}

// GetHeader returns the header stored under hash, or ok=false if absent.
func (s *ChainStore) GetHeader(hash consensus.Hash) (*consensus.BlockHeader, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaders).Get(hash)
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false, err
	}

	h := new(consensus.BlockHeader)
	if err := h.Read(bytes.NewReader(raw)); err != nil {
		return nil, false, fmt.Errorf("store: decode header %x: %w", hash, err)
	}
	return h, true, nil
}

// PutBlock persists b's full body, keyed by its hash.
func (s *ChainStore) PutBlock(b *consensus.Block) error {
	hash := b.Hash()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(hash, b.Bytes())
	})
}

// GetBlock returns the block stored under hash, or ok=false if absent.
func (s *ChainStore) GetBlock(hash consensus.Hash) (*consensus.Block, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(hash)
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false, err
	}

	b := new(consensus.Block)
	if err := b.Read(bytes.NewReader(raw)); err != nil {
		return nil, false, fmt.Errorf("store: decode block %x: %w", hash, err)
	}
	return b, true, nil
}

// PutSpentBitmap persists the bitmap of which of a block's own inputs
// were already-spent outputs at apply time, one bit per input in
// declaration order — the undo data a reorg rewind needs to restore a
// TxHashSet's spent positions without re-deriving them from the MMR.
func (s *ChainStore) PutSpentBitmap(blockHash consensus.Hash, bitmap []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSpent).Put(blockHash, bitmap)
	})
}

// GetSpentBitmap returns the bitmap stored for blockHash, or ok=false if
// absent.
func (s *ChainStore) GetSpentBitmap(blockHash consensus.Hash) ([]byte, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSpent).Get(blockHash)
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	return raw, raw != nil, err
}

// SetHeaderHead records the current most-work header tip.
func (s *ChainStore) SetHeaderHead(hash consensus.Hash, height uint64) error {
	return s.putHead(keyHeaderHead, hash, height)
}

// HeaderHead returns the persisted header tip, or ok=false if the store
// has never recorded one (a fresh node rebuilding from genesis).
func (s *ChainStore) HeaderHead() (hash consensus.Hash, height uint64, ok bool, err error) {
	return s.getHead(keyHeaderHead)
}

// SetBodyHead records the current most-work validated body tip.
func (s *ChainStore) SetBodyHead(hash consensus.Hash, height uint64) error {
	return s.putHead(keyBodyHead, hash, height)
}

// BodyHead returns the persisted body tip, or ok=false if none recorded.
func (s *ChainStore) BodyHead() (hash consensus.Hash, height uint64, ok bool, err error) {
	return s.getHead(keyBodyHead)
}

func (s *ChainStore) putHead(key []byte, hash consensus.Hash, height uint64) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(hash)))
	buf.Write(hash)
	var heightBytes [8]byte
	for i := 0; i < 8; i++ {
		heightBytes[i] = byte(height >> (56 - 8*i))
	}
	buf.Write(heightBytes[:])

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(key, buf.Bytes())
	})
}

func (s *ChainStore) getHead(key []byte) (hash consensus.Hash, height uint64, ok bool, err error) {
	var raw []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(key)
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, 0, false, err
	}
	if len(raw) < 1 || len(raw) != 1+int(raw[0])+8 {
		return nil, 0, false, fmt.Errorf("store: malformed head record for %s", key)
	}

	hashLen := int(raw[0])
	hash = append(consensus.Hash(nil), raw[1:1+hashLen]...)
	for i := 0; i < 8; i++ {
		height = height<<8 | uint64(raw[1+hashLen+i])
	}
	return hash, height, true, nil
}
