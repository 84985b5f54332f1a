package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/grincore/node/consensus"
)

func openTestPeerStore(t *testing.T) *PeerStore {
	t.Helper()
	s, err := OpenPeerStore(filepath.Join(t.TempDir(), "peers.db"))
	if err != nil {
		t.Fatalf("OpenPeerStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPeerStorePutAndAll(t *testing.T) {
	s := openTestPeerStore(t)

	r := PeerRecord{
		Addr:            "10.0.0.1:3414",
		Capabilities:    consensus.CapFullNode,
		TotalDifficulty: consensus.Difficulty(42),
		Height:          1000,
		Banned:          false,
		LastSeen:        time.Unix(1700000000, 0),
	}
	if err := s.Put(r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	got := all[0]
	if got.Addr != r.Addr || got.Capabilities != r.Capabilities || got.TotalDifficulty != r.TotalDifficulty ||
		got.Height != r.Height || got.Banned != r.Banned || !got.LastSeen.Equal(r.LastSeen) {
		t.Errorf("got %#v, want %#v", got, r)
	}
}

func TestPeerStoreDelete(t *testing.T) {
	s := openTestPeerStore(t)

	if err := s.Put(PeerRecord{Addr: "10.0.0.2:3414"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete("10.0.0.2:3414"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected 0 records after delete, got %d", len(all))
	}
}

func TestPeerStoreBannedRecord(t *testing.T) {
	s := openTestPeerStore(t)

	if err := s.Put(PeerRecord{Addr: "10.0.0.3:3414", Banned: true}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || !all[0].Banned {
		t.Fatalf("expected one banned record, got %#v", all)
	}
}
