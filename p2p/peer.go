// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package p2p

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/grincore/node/consensus"
)

// Handler processes one message received from a peer. The p2p layer never
// interprets message contents itself beyond framing and dispatch.
type Handler interface {
	ProcessMessage(peer *Peer, msg Message) error
}

// Peer is one live connection to a remote node: the handshake already
// completed, a write queue feeding the wire, and a read loop dispatching
// parsed messages to a Handler.
type Peer struct {
	conn net.Conn
	addr string

	bytesReceived uint64
	bytesSent     uint64

	quit chan struct{}
	wg   sync.WaitGroup

	sendQueue chan Message

	disconnect int32

	handler Handler
	limiter *peerLimiter

	mu   sync.Mutex
	Info PeerInfo
}

// PeerInfo is the advertised state of a connected peer, updated by the
// handshake and by Ping/Pong.
type PeerInfo struct {
	Version         uint32
	Capabilities    consensus.Capabilities
	TotalDifficulty consensus.Difficulty
	UserAgent       string
	Height          uint64
}

// Dial connects to addr, completes the handshake as the dialer, and
// returns a Peer ready for Start.
func Dial(addr string, genesis consensus.Hash, listenAddr string, h Handler, limiter *peerLimiter) (*Peer, error) {
	logrus.Infof("p2p: dialing %s", addr)

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		return nil, err
	}

	shake, err := shakeByHand(conn, genesis, listenAddr)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return newPeer(conn, addr, shake.Version, shake.Capabilities, shake.TotalDifficulty, shake.UserAgent, h, limiter), nil
}

// Accept completes the handshake as the listener's side for an
// already-accepted conn, and returns a Peer ready for Start.
func Accept(conn net.Conn, genesis consensus.Hash, h Handler, limiter *peerLimiter) (*Peer, error) {
	hand, nonce, err := handByShake(conn, genesis)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if nonce {
		conn.Close()
		return nil, errors.New("p2p: rejected self-connection")
	}

	return newPeer(conn, conn.RemoteAddr().String(), hand.Version, hand.Capabilities, hand.TotalDifficulty, hand.UserAgent, h, limiter), nil
}

func newPeer(conn net.Conn, addr string, version uint32, caps consensus.Capabilities, td consensus.Difficulty, agent string, h Handler, limiter *peerLimiter) *Peer {
	p := &Peer{
		conn:    conn,
		addr:    addr,
		quit:    make(chan struct{}),
		sendQueue: make(chan Message, 64),
		handler: h,
		limiter: limiter,
	}
	p.Info.Version = version
	p.Info.Capabilities = caps
	p.Info.TotalDifficulty = td
	p.Info.UserAgent = agent
	return p
}

// Addr is the remote address this peer connected from or to.
func (p *Peer) Addr() string { return p.addr }

// State returns a snapshot of the peer's advertised info.
func (p *Peer) State() PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Info
}

// UpdateState merges newly observed total difficulty and height, keeping
// whichever is more advanced (a peer's state only ever moves forward
// between reports).
func (p *Peer) UpdateState(td consensus.Difficulty, height uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if td > p.Info.TotalDifficulty {
		p.Info.TotalDifficulty = td
	}
	if height > p.Info.Height {
		p.Info.Height = height
	}
}

// Start launches the peer's write and read loops. Must be called once.
func (p *Peer) Start() {
	p.wg.Add(2)
	go p.writeLoop()
	go p.readLoop()
}

func (p *Peer) writeLoop() {
	defer p.wg.Done()
	var exitErr error

loop:
	for {
		select {
		case msg := <-p.sendQueue:
			if atomic.LoadInt32(&p.disconnect) != 0 {
				break loop
			}
			written, err := WriteMessage(p.conn, msg)
			if err != nil {
				exitErr = err
				break loop
			}
			atomic.AddUint64(&p.bytesSent, written)
		case <-p.quit:
			exitErr = errors.New("p2p: peer shutting down")
			break loop
		}
	}

	p.Disconnect(exitErr)
}

// Send enqueues msg for delivery, dropping it silently if the peer is
// already shutting down.
func (p *Peer) Send(msg Message) {
	select {
	case <-p.quit:
		logrus.Debugf("p2p: dropping message to %s, peer is shutting down", p.addr)
	case p.sendQueue <- msg:
	}
}

func (p *Peer) readLoop() {
	defer p.wg.Done()
	var exitErr error

	input := bufio.NewReader(p.conn)

	for atomic.LoadInt32(&p.disconnect) == 0 {
		msgType, body, frameLen, err := peekType(input)
		if err != nil {
			exitErr = err
			break
		}

		if p.limiter != nil && !p.limiter.Allow(p.addr) {
			exitErr = errors.New("p2p: peer exceeded request rate limit")
			break
		}

		msg, err := newMessage(msgType)
		if err != nil {
			exitErr = err
			break
		}
		if err := msg.Read(body); err != nil {
			exitErr = err
			break
		}

		atomic.AddUint64(&p.bytesReceived, frameLen)

		if err := p.handler.ProcessMessage(p, msg); err != nil {
			logrus.Warnf("p2p: %s misbehaved: %v", p.addr, err)

			var ruleErr *consensus.RuleError
			if errors.As(err, &ruleErr) && ruleErr.Kind.IsBanOffense() {
				exitErr = err
				break
			}
			if p.limiter != nil && p.limiter.Strike(p.addr) {
				exitErr = errors.New("p2p: peer exceeded strike limit")
				break
			}
		}
	}

	p.Disconnect(exitErr)
}

// Disconnect tears the connection down once, safe to call from any
// goroutine or more than once. It does not wait for the peer's loops to
// exit; WaitForDisconnect does.
func (p *Peer) Disconnect(reason error) {
	if !atomic.CompareAndSwapInt32(&p.disconnect, 0, 1) {
		return
	}
	logrus.Infof("p2p: disconnecting %s: %v", p.addr, reason)
	close(p.quit)
	p.conn.Close()
}

// WaitForDisconnect blocks until the peer's loops have exited.
func (p *Peer) WaitForDisconnect() {
	<-p.quit
	p.wg.Wait()
}
