package store

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/grincore/node/consensus"
)

var bucketPeers = []byte("peer_addrs")

// PeerRecord is the persisted view of one known peer address: enough to
// reconnect and re-apply capability filtering without repeating a fresh
// handshake's discovery cost after every restart.
type PeerRecord struct {
	Addr            string
	Capabilities    consensus.Capabilities
	TotalDifficulty consensus.Difficulty
	Height          uint64
	Banned          bool
	LastSeen        time.Time
}

// PeerStore persists the peer address book across restarts.
type PeerStore struct {
	db *bolt.DB
}

// OpenPeerStore opens or creates the peer KV file at path.
func OpenPeerStore(path string) (*PeerStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open peers db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPeers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &PeerStore{db: db}, nil
}

// Close releases the underlying file lock.
func (s *PeerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put upserts a peer record, keyed by its address.
func (s *PeerStore) Put(r PeerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).Put([]byte(r.Addr), encodePeerRecord(r))
	})
}

// Delete removes a peer record, e.g. once it's been permanently retired.
func (s *PeerStore) Delete(addr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(addr))
	})
}

// All returns every persisted peer record, for repopulating a fresh
// p2p.Pool on startup.
func (s *PeerStore) All() ([]PeerRecord, error) {
	var out []PeerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(k, v []byte) error {
			r, err := decodePeerRecord(v)
			if err != nil {
				return fmt.Errorf("store: decode peer %s: %w", k, err)
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// encodePeerRecord is a small fixed-plus-length-prefixed encoding: no
// library in the pack gives a KV-friendly struct codec, and the fields
// are few enough that hand-rolling a binary layout (matching the style
// consensus/block.go uses for its own wire types) is simpler than
// pulling in a generic struct marshaler for this alone.
func encodePeerRecord(r PeerRecord) []byte {
	addr := []byte(r.Addr)
	buf := make([]byte, 0, 4+len(addr)+8+8+8+1+8)

	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(addr)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, addr...)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(r.Capabilities))
	buf = append(buf, u64[:]...)

	binary.BigEndian.PutUint64(u64[:], uint64(r.TotalDifficulty))
	buf = append(buf, u64[:]...)

	binary.BigEndian.PutUint64(u64[:], r.Height)
	buf = append(buf, u64[:]...)

	if r.Banned {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	binary.BigEndian.PutUint64(u64[:], uint64(r.LastSeen.Unix()))
	buf = append(buf, u64[:]...)

	return buf
}

func decodePeerRecord(b []byte) (PeerRecord, error) {
	if len(b) < 4 {
		return PeerRecord{}, fmt.Errorf("record too short")
	}
	addrLen := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < addrLen+8+8+8+1+8 {
		return PeerRecord{}, fmt.Errorf("record truncated")
	}

	addr := string(b[:addrLen])
	b = b[addrLen:]

	caps := consensus.Capabilities(binary.BigEndian.Uint64(b[:8]))
	b = b[8:]
	td := consensus.Difficulty(binary.BigEndian.Uint64(b[:8]))
	b = b[8:]
	height := binary.BigEndian.Uint64(b[:8])
	b = b[8:]
	banned := b[0] != 0
	b = b[1:]
	lastSeen := time.Unix(int64(binary.BigEndian.Uint64(b[:8])), 0)

	return PeerRecord{
		Addr:            addr,
		Capabilities:    caps,
		TotalDifficulty: td,
		Height:          height,
		Banned:          banned,
		LastSeen:        lastSeen,
	}, nil
}
