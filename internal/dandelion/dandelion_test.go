package dandelion

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/grincore/node/consensus"
	"github.com/grincore/node/secp256k1zkp"
)

// lowSource is a rand.Source whose every draw is the minimum possible
// value, forcing any probability check below 1.0 to take the "true" branch
// deterministically.
type lowSource struct{}

func (lowSource) Int63() int64 { return 0 }
func (lowSource) Seed(int64)   {}

type fakeRelay struct {
	mu        sync.Mutex
	peer      string
	havePeer  bool
	stemCalls []string
	fluffed   []*consensus.Transaction
	stemErr   error
}

func (r *fakeRelay) StemPeer() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peer, r.havePeer
}

func (r *fakeRelay) SendStem(addr string, tx *consensus.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stemCalls = append(r.stemCalls, addr)
	return r.stemErr
}

func (r *fakeRelay) Fluff(tx *consensus.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fluffed = append(r.fluffed, tx)
	return nil
}

func (r *fakeRelay) fluffCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fluffed)
}

func (r *fakeRelay) stemCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stemCalls)
}

func commit(b byte) secp256k1zkp.Commitment {
	var c secp256k1zkp.Commitment
	c[0] = b
	return c
}

func tx(outCommit byte) *consensus.Transaction {
	return &consensus.Transaction{Outputs: consensus.OutputList{{Commit: commit(outCommit)}}}
}

func TestReceiveStemFluffsImmediatelyWhenNotStemNode(t *testing.T) {
	r := &fakeRelay{peer: "peer1", havePeer: true}
	d := New(r)
	d.isStemNode = false

	if err := d.ReceiveStem(tx(1)); err != nil {
		t.Fatalf("ReceiveStem: %v", err)
	}
	if r.fluffCount() != 1 {
		t.Fatalf("expected an immediate fluff, got %d fluffs, %d stem calls", r.fluffCount(), r.stemCount())
	}
	if d.Held() != 0 {
		t.Errorf("expected nothing held after an immediate fluff, got %d", d.Held())
	}
}

func TestReceiveStemFluffsImmediatelyWithNoStemPeer(t *testing.T) {
	r := &fakeRelay{havePeer: false}
	d := New(r)
	d.isStemNode = true

	if err := d.ReceiveStem(tx(1)); err != nil {
		t.Fatalf("ReceiveStem: %v", err)
	}
	if r.fluffCount() != 1 {
		t.Fatalf("expected a fluff when no stem peer is available, got %d", r.fluffCount())
	}
}

func TestReceiveStemForwardsAlongStemPath(t *testing.T) {
	r := &fakeRelay{peer: "peer1", havePeer: true}
	d := New(r)
	d.isStemNode = true
	d.stemPeer = "peer1"
	d.rng = rand.New(lowSource{}) // forces the stemProbability draw to succeed

	if err := d.ReceiveStem(tx(1)); err != nil {
		t.Fatalf("ReceiveStem: %v", err)
	}
	if r.stemCount() != 1 {
		t.Fatalf("expected one stem relay call, got %d (fluffs=%d)", r.stemCount(), r.fluffCount())
	}
	if d.Held() != 1 {
		t.Errorf("expected the transaction to be held pending embargo, got %d", d.Held())
	}
}

func TestEmbargoExpiryFluffsHeldTransactions(t *testing.T) {
	r := &fakeRelay{peer: "peer1", havePeer: true}
	d := New(r)
	d.isStemNode = true
	d.stemPeer = "peer1"

	key := string(tx(1).Hash())
	h := &held{tx: tx(1), timer: time.NewTimer(time.Hour)}
	d.mu.Lock()
	d.stems[key] = h
	d.mu.Unlock()

	d.onEmbargoExpire(key)

	if r.fluffCount() != 1 {
		t.Fatalf("expected the embargoed transaction to fluff, got %d fluffs", r.fluffCount())
	}
	if d.Held() != 0 {
		t.Errorf("expected the stem pool to clear after embargo fluff, got %d", d.Held())
	}
}

func TestEmbargoExpiryIsIdempotentAfterFluff(t *testing.T) {
	r := &fakeRelay{peer: "peer1", havePeer: true}
	d := New(r)

	key := string(tx(1).Hash())
	h := &held{tx: tx(1), timer: time.NewTimer(time.Hour)}
	d.mu.Lock()
	d.stems[key] = h
	d.mu.Unlock()

	d.onEmbargoExpire(key)
	d.onEmbargoExpire(key) // a second, stale fire must be a no-op

	if r.fluffCount() != 1 {
		t.Errorf("expected exactly one fluff despite two embargo fires, got %d", r.fluffCount())
	}
}

func TestAggregateHeldCombinesOutputs(t *testing.T) {
	r := &fakeRelay{peer: "peer1", havePeer: true}
	d := New(r)

	d.mu.Lock()
	d.stems["a"] = &held{tx: tx(1)}
	d.stems["b"] = &held{tx: tx(2)}
	aggregated := d.aggregateHeldLocked()
	d.mu.Unlock()

	if len(aggregated.Outputs) != 2 {
		t.Errorf("expected both held transactions' outputs combined, got %d", len(aggregated.Outputs))
	}
}

func TestNewEpochPicksRoleAndPeer(t *testing.T) {
	r := &fakeRelay{peer: "peer1", havePeer: true}
	d := New(r)
	if d.stemPeer != "peer1" {
		t.Errorf("expected the epoch to pick up the relay's offered peer, got %q", d.stemPeer)
	}
}
