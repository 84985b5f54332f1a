// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package p2p

import (
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/grincore/node/consensus"
)

var (
	// maxOnlineConnections bounds live outbound+inbound connections.
	maxOnlineConnections = 15
	// maxPeersTableSize bounds the known-address book, independent of how
	// many are actually connected.
	maxPeersTableSize = 10000
)

var (
	metricConnectedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grincore_p2p_connected_peers",
		Help: "Number of currently connected peers.",
	})
	metricBannedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grincore_p2p_banned_peers",
		Help: "Number of peers currently banned.",
	})
)

func init() {
	prometheus.MustRegister(metricConnectedPeers, metricBannedPeers)
}

// strikeLimit is how many non-ban-offense rule violations a peer
// accumulates before Peer's read loop disconnects it, or Pool.Strike bans
// it (spec §7's "three strikes").
const strikeLimit = 3

// peerLimiter enforces a per-peer request rate plus the strike counter
// that backs the ban-score policy spec §7 describes.
type peerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	strikes  map[string]int
}

func newPeerLimiter() *peerLimiter {
	return &peerLimiter{
		limiters: make(map[string]*rate.Limiter),
		strikes:  make(map[string]int),
	}
}

// Allow reports whether addr may send another message right now, under a
// steady rate of 50 messages/sec with a burst of 100.
func (l *peerLimiter) Allow(addr string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[addr]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(50), 100)
		l.limiters[addr] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Strike records one rule violation for addr, reporting whether it has
// now crossed strikeLimit and should be banned.
func (l *peerLimiter) Strike(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.strikes[addr]++
	return l.strikes[addr] >= strikeLimit
}

func (l *peerLimiter) forget(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, addr)
	delete(l.strikes, addr)
}

// status is where a known address sits in the connection lifecycle.
type status int

const (
	statusNew status = iota
	statusConnected
	statusFailed
	statusBanned
)

// peerRecord is everything the pool keeps about one known address,
// whether or not it is currently connected.
type peerRecord struct {
	status status
	peer   *Peer // non-nil only while connected

	capabilities    consensus.Capabilities
	totalDifficulty consensus.Difficulty
	height          uint64
	lastSeen        time.Time
}

// Pool is the peer table: known addresses, live connections, ban state,
// and the request-rate/strike accounting backing it. It also implements
// dandelion.Relay, so a Dandelion instance can pick a stem peer and relay
// through it without knowing about sockets at all.
type Pool struct {
	mu      sync.Mutex
	records map[string]*peerRecord

	limiter *peerLimiter

	genesis    consensus.Hash
	listenAddr string
	handler    Handler

	connSlots chan struct{}
}

// NewPool returns an empty Pool dialing out under genesis, advertising
// listenAddr to peers during the handshake, and dispatching received
// messages to handler.
func NewPool(genesis consensus.Hash, listenAddr string, handler Handler) *Pool {
	return &Pool{
		records:    make(map[string]*peerRecord),
		limiter:    newPeerLimiter(),
		genesis:    genesis,
		listenAddr: listenAddr,
		handler:    handler,
		connSlots:  make(chan struct{}, maxOnlineConnections),
	}
}

// SetHandler assigns the message handler new connections dispatch to,
// for callers that must build the Pool before its Dispatcher exists
// (the Dispatcher itself takes a *Pool to relay through).
func (p *Pool) SetHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// AddCandidate records addr as a known but not-yet-connected peer.
func (p *Pool) AddCandidate(addr string) {
	netAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil || netAddr.Port == 0 || netAddr.IP.IsMulticast() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.records) >= maxPeersTableSize {
		return
	}
	if _, ok := p.records[addr]; ok {
		return
	}
	p.records[addr] = &peerRecord{status: statusNew}
}

// Connect dials addr (unless already connected or banned) and starts it.
func (p *Pool) Connect(addr string) error {
	p.mu.Lock()
	if rec, ok := p.records[addr]; ok && (rec.status == statusBanned || rec.status == statusConnected) {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	select {
	case p.connSlots <- struct{}{}:
	default:
		return nil // at capacity; try again later
	}

	peer, err := Dial(addr, p.genesis, p.listenAddr, p.handler, p.limiter)
	if err != nil {
		<-p.connSlots
		p.mu.Lock()
		p.records[addr] = &peerRecord{status: statusFailed, lastSeen: time.Now()}
		p.mu.Unlock()
		return err
	}

	p.register(addr, peer)
	return nil
}

// AcceptConn completes the listener's side of the handshake over conn and
// registers the resulting peer, unless it turns out to be ourselves or
// the connection slots are full.
func (p *Pool) AcceptConn(conn net.Conn) {
	select {
	case p.connSlots <- struct{}{}:
	default:
		conn.Close()
		return
	}

	peer, err := Accept(conn, p.genesis, p.handler, p.limiter)
	if err != nil {
		<-p.connSlots
		logrus.Debugf("p2p: rejected inbound connection: %v", err)
		return
	}

	p.register(peer.Addr(), peer)
}

func (p *Pool) register(addr string, peer *Peer) {
	p.mu.Lock()
	p.records[addr] = &peerRecord{
		status:          statusConnected,
		peer:            peer,
		capabilities:    peer.State().Capabilities,
		totalDifficulty: peer.State().TotalDifficulty,
		height:          peer.State().Height,
		lastSeen:        time.Now(),
	}
	p.mu.Unlock()

	metricConnectedPeers.Inc()
	peer.Start()

	go func() {
		peer.WaitForDisconnect()
		<-p.connSlots
		metricConnectedPeers.Dec()
		p.limiter.forget(addr)

		p.mu.Lock()
		if rec, ok := p.records[addr]; ok && rec.status != statusBanned {
			rec.status = statusNew
			rec.peer = nil
		}
		p.mu.Unlock()
	}()
}

// Ban disconnects addr and marks it so it is never dialed again.
func (p *Pool) Ban(addr string) {
	p.mu.Lock()
	rec, ok := p.records[addr]
	if !ok {
		rec = &peerRecord{}
		p.records[addr] = rec
	}
	rec.status = statusBanned
	peer := rec.peer
	p.mu.Unlock()

	metricBannedPeers.Inc()
	if peer != nil {
		peer.Disconnect(errPeerBanned)
	}
}

var errPeerBanned = bannedError{}

type bannedError struct{}

func (bannedError) Error() string { return "p2p: peer banned" }

var errNoSuchPeer = noSuchPeerError{}

type noSuchPeerError struct{}

func (noSuchPeerError) Error() string { return "p2p: no such connected peer" }

// Strike records a rule violation against addr, banning it once it
// crosses strikeLimit.
func (p *Pool) Strike(addr string) {
	if p.limiter.Strike(addr) {
		p.Ban(addr)
	}
}

// Addrs returns up to MaxPeerAddrs known non-banned addresses offering at
// least the requested capabilities.
func (p *Pool) Addrs(caps consensus.Capabilities) []*net.TCPAddr {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*net.TCPAddr
	for addr, rec := range p.records {
		if rec.status == statusBanned || rec.status == statusFailed {
			continue
		}
		if rec.capabilities&caps != caps {
			continue
		}
		if tcpAddr, err := net.ResolveTCPAddr("tcp", addr); err == nil {
			out = append(out, tcpAddr)
		}
		if len(out) == consensus.MaxPeerAddrs {
			break
		}
	}
	return out
}

// connectedPeers returns the live Peer handles, optionally excluding one
// address (the one a message arrived from, so it isn't echoed back).
func (p *Pool) connectedPeers(exclude string) []*Peer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Peer
	for addr, rec := range p.records {
		if rec.status == statusConnected && rec.peer != nil && addr != exclude {
			out = append(out, rec.peer)
		}
	}
	return out
}

// Propagate forwards b to every connected peer except the one it arrived
// from, per spec §4.11's "propagate to peers with less height".
func (p *Pool) Propagate(from string, b *consensus.Block) {
	for _, peer := range p.connectedPeers(from) {
		if peer.State().Height < b.Header.Height {
			peer.Send(b)
		}
	}
}

// StemPeer implements dandelion.Relay: it returns one connected peer
// address at random to use as this epoch's stem relay.
func (p *Pool) StemPeer() (string, bool) {
	peers := p.connectedPeers("")
	if len(peers) == 0 {
		return "", false
	}
	return peers[0].Addr(), true
}

// SendStem implements dandelion.Relay.
func (p *Pool) SendStem(addr string, tx *consensus.Transaction) error {
	p.mu.Lock()
	rec, ok := p.records[addr]
	p.mu.Unlock()
	if !ok || rec.peer == nil {
		return errNoSuchPeer
	}
	rec.peer.Send(&StemTransaction{*tx})
	return nil
}

// Fluff implements dandelion.Relay: broadcast tx to every connected peer.
func (p *Pool) Fluff(tx *consensus.Transaction) error {
	for _, peer := range p.connectedPeers("") {
		peer.Send(tx)
	}
	return nil
}
