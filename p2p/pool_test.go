package p2p

import "testing"

func TestPeerLimiterStrikesToBan(t *testing.T) {
	l := newPeerLimiter()
	addr := "127.0.0.1:3414"

	for i := 0; i < strikeLimit-1; i++ {
		if l.Strike(addr) {
			t.Fatalf("banned after %d strikes, want %d", i+1, strikeLimit)
		}
	}
	if !l.Strike(addr) {
		t.Fatalf("expected ban at strike %d", strikeLimit)
	}
}

func TestPeerLimiterForgetResetsStrikes(t *testing.T) {
	l := newPeerLimiter()
	addr := "127.0.0.1:3414"

	l.Strike(addr)
	l.Strike(addr)
	l.forget(addr)

	for i := 0; i < strikeLimit-1; i++ {
		if l.Strike(addr) {
			t.Fatalf("banned too early after forget, at strike %d", i+1)
		}
	}
}

func TestPoolAddCandidateRejectsInvalidAddrs(t *testing.T) {
	p := NewPool(genesisHash(), "127.0.0.1:0", nil)

	p.AddCandidate("not-an-addr")
	p.AddCandidate("127.0.0.1:0") // port 0 rejected
	if len(p.records) != 0 {
		t.Errorf("expected no candidates recorded, got %d", len(p.records))
	}

	p.AddCandidate("127.0.0.1:3414")
	if len(p.records) != 1 {
		t.Errorf("expected one candidate recorded, got %d", len(p.records))
	}
}

func TestPoolAddrsSkipsBanned(t *testing.T) {
	p := NewPool(genesisHash(), "127.0.0.1:0", nil)

	p.records["10.0.0.1:3414"] = &peerRecord{status: statusNew}
	p.records["10.0.0.2:3414"] = &peerRecord{status: statusBanned}
	p.records["10.0.0.3:3414"] = &peerRecord{status: statusNew, capabilities: 0}

	addrs := p.Addrs(0)
	if len(addrs) != 2 {
		t.Errorf("expected 2 non-banned addrs, got %d", len(addrs))
	}
}
