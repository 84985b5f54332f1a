// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package p2p

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"sync"

	"github.com/grincore/node/consensus"
)

const userAgent = "grincore/0.1"

// nonces remembers every nonce we've sent as a dialer, so an incoming Hand
// carrying one of our own nonces back at us is recognized as a loopback
// connection to ourselves rather than a distinct peer.
type nonces struct {
	mu   sync.Mutex
	seen map[uint64]struct{}
}

func newNonces() *nonces {
	return &nonces{seen: make(map[uint64]struct{})}
}

func (n *nonces) next() uint64 {
	var b [8]byte
	rand.Read(b[:])
	v := binary.BigEndian.Uint64(b[:])

	n.mu.Lock()
	n.seen[v] = struct{}{}
	n.mu.Unlock()
	return v
}

func (n *nonces) isOurs(v uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.seen[v]
	return ok
}

var selfNonces = newNonces()

// shakeByHand performs the dialer's half of the handshake: send Hand,
// receive Shake, and verify the peer follows the same genesis block.
func shakeByHand(conn net.Conn, genesis consensus.Hash, listenAddr string) (*Shake, error) {
	sender, err := net.ResolveTCPAddr("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	receiver, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil, errors.New("p2p: non-TCP connection")
	}

	hand := &Hand{
		Version:         consensus.ProtocolVersion,
		Capabilities:    consensus.CapFullNode,
		Nonce:           selfNonces.next(),
		TotalDifficulty: consensus.Difficulty(1),
		Genesis:         genesis,
		SenderAddr:      sender,
		ReceiverAddr:    receiver,
		UserAgent:       userAgent,
	}
	if _, err := WriteMessage(conn, hand); err != nil {
		return nil, err
	}

	shake := new(Shake)
	if _, err := ReadMessage(conn, shake); err != nil {
		return nil, err
	}
	if string(shake.Genesis) != string(genesis) {
		return nil, errors.New("p2p: peer follows a different genesis block")
	}

	return shake, nil
}

// handByShake performs the listener's half of the handshake: receive
// Hand, verify genesis and self-connection, then reply with Shake.
// selfConn reports whether the incoming nonce matches one we generated
// ourselves as a dialer.
func handByShake(conn net.Conn, genesis consensus.Hash) (hand *Hand, selfConn bool, err error) {
	hand = new(Hand)
	if _, err := ReadMessage(conn, hand); err != nil {
		return nil, false, err
	}

	if string(hand.Genesis) != string(genesis) {
		return hand, false, errors.New("p2p: peer follows a different genesis block")
	}
	if selfNonces.isOurs(hand.Nonce) {
		return hand, true, nil
	}

	shake := &Shake{
		Version:         consensus.ProtocolVersion,
		Capabilities:    consensus.CapFullNode,
		TotalDifficulty: consensus.Difficulty(1),
		Genesis:         genesis,
		UserAgent:       userAgent,
	}
	if _, err := WriteMessage(conn, shake); err != nil {
		return hand, false, err
	}

	return hand, false, nil
}
