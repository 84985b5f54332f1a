// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package p2p

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/grincore/node/consensus"
	"github.com/grincore/node/internal/chain"
	"github.com/grincore/node/internal/dandelion"
	nodesync "github.com/grincore/node/internal/sync"
	"github.com/grincore/node/internal/txpool"
)

// newMessage allocates a zero-valued Message for the given wire type, so
// the read loop can dispatch without a type switch over every case twice.
func newMessage(msgType uint8) (Message, error) {
	switch msgType {
	case consensus.MsgTypeHand:
		return new(Hand), nil
	case consensus.MsgTypeShake:
		return new(Shake), nil
	case consensus.MsgTypePing:
		return new(Ping), nil
	case consensus.MsgTypePong:
		return new(Pong), nil
	case consensus.MsgTypeGetPeerAddrs:
		return new(GetPeerAddrs), nil
	case consensus.MsgTypePeerAddrs:
		return new(PeerAddrs), nil
	case consensus.MsgTypeGetHeaders:
		return new(GetBlockHeaders), nil
	case consensus.MsgTypeHeaders:
		return new(BlockHeaders), nil
	case consensus.MsgTypeGetBlock:
		return new(GetBlock), nil
	case consensus.MsgTypeBlock:
		return new(consensus.Block), nil
	case consensus.MsgTypeGetCompactBlock:
		return new(GetCompactBlock), nil
	case consensus.MsgTypeCompactBlock:
		return new(consensus.CompactBlock), nil
	case consensus.MsgTypeStemTransaction:
		return new(StemTransaction), nil
	case consensus.MsgTypeTransaction:
		return new(consensus.Transaction), nil
	case consensus.MsgTypeTxHashSetRequest:
		return new(TxHashSetRequest), nil
	case consensus.MsgTypeTxHashSetArchive:
		return new(TxHashSetArchive), nil
	case consensus.MsgTypeBanReason:
		return new(BanReason), nil
	case consensus.MsgTypeGetTransaction:
		return new(GetTransaction), nil
	case consensus.MsgTypeTransactionKernel:
		return new(TransactionKernel), nil
	default:
		return nil, fmt.Errorf("p2p: unknown message type %d", msgType)
	}
}

// Dispatcher wires parsed wire messages into the chain pipeline, the sync
// state machine, the transaction pool and Dandelion relay. It holds no
// socket code of its own; Peer and Pool own the connections and call in
// here, the same split the teacher's own p2p.Syncer keeps from Peer.
type Dispatcher struct {
	chain *chain.Chain
	sync  *nodesync.Syncer
	pool  *txpool.Pool
	dandelion *dandelion.Dandelion
	peers *Pool
}

// NewDispatcher returns a Dispatcher wired to the given subsystems. d is
// given its own Dandelion instance configured to relay back through
// peers.
func NewDispatcher(c *chain.Chain, s *nodesync.Syncer, tp *txpool.Pool, peers *Pool) *Dispatcher {
	d := &Dispatcher{chain: c, sync: s, pool: tp, peers: peers}
	d.dandelion = dandelion.New(peers)
	return d
}

// ProcessMessage handles one parsed message from peer. A returned error
// is a ban-worthy or strike-worthy offense; the caller (Peer's read loop)
// decides what to do with it.
func (d *Dispatcher) ProcessMessage(peer *Peer, msg Message) error {
	switch m := msg.(type) {
	case *Ping:
		peer.UpdateState(m.TotalDifficulty, m.Height)
		d.sync.Evaluate(nodesync.PeerInfo{Addr: peer.Addr(), TotalDifficulty: m.TotalDifficulty, Height: m.Height, Capabilities: peer.State().Capabilities})
		head := d.chain.BodyHead()
		peer.Send(&Pong{Ping{TotalDifficulty: head.TotalDifficulty, Height: head.Height}})
		return nil

	case *Pong:
		peer.UpdateState(m.TotalDifficulty, m.Height)
		d.sync.Evaluate(nodesync.PeerInfo{Addr: peer.Addr(), TotalDifficulty: m.TotalDifficulty, Height: m.Height, Capabilities: peer.State().Capabilities})
		return nil

	case *GetPeerAddrs:
		peer.Send(&PeerAddrs{Peers: d.peers.Addrs(m.Capabilities)})
		return nil

	case *PeerAddrs:
		for _, addr := range m.Peers {
			d.peers.AddCandidate(addr.String())
		}
		return nil

	case *GetBlockHeaders:
		peer.Send(&BlockHeaders{Headers: d.chain.GetBlockHeaders(m.Locator)})
		return nil

	case *BlockHeaders:
		if err := d.sync.ReceiveHeaders(m.Headers); err != nil {
			return err
		}
		return nil

	case *GetBlock:
		if b := d.chain.GetBlock(m.Hash); b != nil {
			peer.Send(b)
		}
		return nil

	case *consensus.Block:
		if err := d.sync.ReceiveBlock(m); err != nil {
			return err
		}
		d.peers.Propagate(peer.Addr(), m)
		return nil

	case *GetCompactBlock:
		if b := d.chain.GetBlock(m.Hash); b != nil {
			peer.Send(hydrateCompact(b))
		}
		return nil

	case *consensus.CompactBlock:
		return d.receiveCompactBlock(peer, m)

	case *StemTransaction:
		tx := m.Transaction
		return d.dandelion.ReceiveStem(&tx)

	case *consensus.Transaction:
		if err := d.pool.AddToPool(m, false); err != nil {
			return err
		}
		d.peers.Fluff(m)
		return nil

	case *TxHashSetRequest:
		logrus.Debugf("p2p: %s requested txhashset at height %d", peer.Addr(), m.Height)
		return nil

	case *TxHashSetArchive:
		return nil

	case *GetTransaction:
		return nil

	case *TransactionKernel:
		return nil

	case *BanReason:
		logrus.Warnf("p2p: %s closing with ban reason %d: %s", peer.Addr(), m.Code, m.Message)
		return nil

	default:
		return fmt.Errorf("p2p: unhandled message %T", m)
	}
}

// hydrateCompact builds a CompactBlock representation of b: non-coinbase
// kernels become short ids, letting a receiver that already holds the
// underlying transactions skip the full body transfer.
func hydrateCompact(b *consensus.Block) *consensus.CompactBlock {
	cb := &consensus.CompactBlock{Header: b.Header}
	hash := b.Header.Hash()
	for _, o := range b.Outputs {
		if o.Features&consensus.CoinbaseOutput != 0 {
			cb.Outputs = append(cb.Outputs, o)
		}
	}
	for _, k := range b.Kernels {
		if k.Features&consensus.CoinbaseKernel != 0 {
			cb.Kernels = append(cb.Kernels, k)
			continue
		}
		cb.KernelIDs = append(cb.KernelIDs, k.Hash().ShortID(hash))
	}
	return cb
}

// receiveCompactBlock tries to reassemble a full block from a compact
// block plus whatever kernels the pool already holds, falling back to a
// full GetBlock request for anything it can't resolve locally.
func (d *Dispatcher) receiveCompactBlock(peer *Peer, cb *consensus.CompactBlock) error {
	known := d.pool.TransactionsByShortID(cb.Header.Hash())

	b := &consensus.Block{Header: cb.Header, Outputs: cb.Outputs, Kernels: cb.Kernels}
	for _, id := range cb.KernelIDs {
		tx, ok := known[id.String()]
		if !ok {
			peer.Send(&GetBlock{Hash: cb.Header.Hash()})
			return nil
		}
		b.Inputs = append(b.Inputs, tx.Inputs...)
		b.Outputs = append(b.Outputs, tx.Outputs...)
		b.Kernels = append(b.Kernels, tx.Kernels...)
	}

	if err := d.sync.ReceiveBlock(b); err != nil {
		return err
	}
	d.peers.Propagate(peer.Addr(), b)
	return nil
}
