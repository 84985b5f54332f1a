// Package dandelion implements the Dandelion++ transaction relay state
// machine from spec §4.10: a per-epoch stem/fluff coin flip, a single
// random stem relay peer per epoch, per-transaction embargo timers, and
// aggregation of held stem transactions before they fluff. It holds no
// socket code itself — it calls back into a Relay the p2p layer provides,
// the same separation internal/sync keeps from the wire layer.
package dandelion

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grincore/node/consensus"
)

// epochDuration is how long a single is_stem_node decision and stem relay
// peer choice stays fixed, per spec §4.10 ("each epoch ≈10 minutes").
const epochDuration = 10 * time.Minute

// stemProbability is the chance a received stem transaction is forwarded
// along the stem path rather than fluffed immediately.
const stemProbability = 0.9

// embargoBase and embargoJitter bound the random timer that forces a fluff
// if a stem transaction never reaches a fluffing node on its own.
const (
	embargoBase   = 30 * time.Second
	embargoJitter = 10 * time.Second
)

// Relay is the network-facing surface dandelion calls into. The p2p layer
// implements it; dandelion never opens a connection itself.
type Relay interface {
	// StemPeer returns the address of a currently connected peer to use as
	// this epoch's single stem relay, or ok=false if none are connected.
	StemPeer() (addr string, ok bool)
	// SendStem forwards tx along the stem path to addr.
	SendStem(addr string, tx *consensus.Transaction) error
	// Fluff broadcasts tx as an ordinary transaction to the whole peer set.
	Fluff(tx *consensus.Transaction) error
}

// held is one transaction currently sitting in the local stem pool,
// waiting to be aggregated and relayed or to embargo-expire.
type held struct {
	tx      *consensus.Transaction
	timer   *time.Timer
	expired bool
}

// Dandelion runs the stem/fluff state machine for one node.
type Dandelion struct {
	mu sync.Mutex

	relay Relay
	rng   *rand.Rand

	isStemNode bool
	stemPeer   string
	epochEnds  time.Time

	stems map[string]*held // keyed by transaction hash
}

// New returns a Dandelion relaying through r, with its first epoch decided
// immediately.
func New(r Relay) *Dandelion {
	d := &Dandelion{
		relay: r,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		stems: make(map[string]*held),
	}
	d.newEpoch()
	return d
}

// newEpoch flips a fresh is_stem_node coin and picks a fresh stem relay
// peer. Caller holds d.mu, except on construction.
func (d *Dandelion) newEpoch() {
	d.isStemNode = d.rng.Float64() < 0.5
	d.epochEnds = time.Now().Add(epochDuration)
	if peer, ok := d.relay.StemPeer(); ok {
		d.stemPeer = peer
	} else {
		d.stemPeer = ""
	}
	logrus.Debugf("dandelion: new epoch, is_stem_node=%v stem_peer=%q", d.isStemNode, d.stemPeer)
}

// maybeRollEpoch rotates the epoch if its time has passed. Caller holds
// d.mu.
func (d *Dandelion) maybeRollEpoch() {
	if time.Now().After(d.epochEnds) {
		d.newEpoch()
	}
}

// ReceiveStem handles a StemTransaction arriving from the network or from
// a local wallet submission: with probability stemProbability it is held
// locally (aggregated with whatever else is already held, and given a
// fresh embargo timer) and relayed further along the stem path; otherwise
// it fluffs immediately.
func (d *Dandelion) ReceiveStem(tx *consensus.Transaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeRollEpoch()

	if !d.isStemNode || d.stemPeer == "" || d.rng.Float64() >= stemProbability {
		return d.fluffLocked(tx)
	}

	hash := tx.Hash()
	key := string(hash)
	h := &held{tx: tx}
	h.timer = time.AfterFunc(d.embargoDuration(), func() { d.onEmbargoExpire(key) })
	d.stems[key] = h

	aggregated := d.aggregateHeldLocked()
	if err := d.relay.SendStem(d.stemPeer, aggregated); err != nil {
		logrus.Warnf("dandelion: stem relay to %s failed, fluffing instead: %v", d.stemPeer, err)
		return d.fluffAllLocked()
	}
	return nil
}

// embargoDuration returns a random embargo length in [embargoBase,
// embargoBase+embargoJitter).
func (d *Dandelion) embargoDuration() time.Duration {
	return embargoBase + time.Duration(d.rng.Int63n(int64(embargoJitter)))
}

// onEmbargoExpire fluffs every currently held stem transaction once any
// one of their embargo timers fires, since aggregation is most useful when
// everything still held relays together.
func (d *Dandelion) onEmbargoExpire(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.stems[key]
	if !ok || h.expired {
		return
	}
	logrus.Debugf("dandelion: embargo expired for %x, fluffing held stems", []byte(key))
	if err := d.fluffAllLocked(); err != nil {
		logrus.Warnf("dandelion: embargo fluff failed: %v", err)
	}
}

// aggregateHeldLocked combines every currently held stem transaction into
// one, per spec §4.10's "attempt to aggregate ... before fluffing" —
// applied here before each further stem relay too, since Mimblewimble
// aggregation only ever improves anonymity and never needs undoing.
// Caller holds d.mu.
func (d *Dandelion) aggregateHeldLocked() *consensus.Transaction {
	txs := make([]*consensus.Transaction, 0, len(d.stems))
	for _, h := range d.stems {
		txs = append(txs, h.tx)
	}
	return consensus.Aggregate(txs...)
}

// fluffLocked broadcasts tx directly without holding it, for the
// immediate (1-p) fluff branch. Caller holds d.mu.
func (d *Dandelion) fluffLocked(tx *consensus.Transaction) error {
	return d.relay.Fluff(tx)
}

// fluffAllLocked aggregates and broadcasts every held stem transaction,
// then clears the stem pool. Caller holds d.mu.
func (d *Dandelion) fluffAllLocked() error {
	if len(d.stems) == 0 {
		return nil
	}
	aggregated := d.aggregateHeldLocked()
	for _, h := range d.stems {
		h.expired = true
		h.timer.Stop()
	}
	d.stems = make(map[string]*held)
	return d.relay.Fluff(aggregated)
}

// IsStemNode reports this epoch's stem/fluff role, for diagnostics and
// tests.
func (d *Dandelion) IsStemNode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isStemNode
}

// Held returns the number of transactions currently sitting in the local
// stem pool.
func (d *Dandelion) Held() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stems)
}
