// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package p2p

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/grincore/node/consensus"
)

// Hand is the first half of the connection handshake: the dialer
// advertises its version, capabilities, a self-connection nonce and the
// genesis hash it follows.
type Hand struct {
	Version         uint32
	Capabilities    consensus.Capabilities
	Nonce           uint64
	TotalDifficulty consensus.Difficulty
	Genesis         consensus.Hash
	SenderAddr      *net.TCPAddr
	ReceiverAddr    *net.TCPAddr
	UserAgent       string
}

func (h *Hand) Bytes() []byte {
	buff := new(bytes.Buffer)
	binary.Write(buff, binary.BigEndian, h.Version)
	binary.Write(buff, binary.BigEndian, uint32(h.Capabilities))
	binary.Write(buff, binary.BigEndian, h.Nonce)
	binary.Write(buff, binary.BigEndian, uint64(h.TotalDifficulty))
	buff.Write(mustHash(h.Genesis))
	serializeTCPAddr(buff, h.SenderAddr)
	serializeTCPAddr(buff, h.ReceiverAddr)
	writeString(buff, h.UserAgent)
	return buff.Bytes()
}

func (h *Hand) Type() uint8 { return consensus.MsgTypeHand }

func (h *Hand) Read(r io.Reader) error {
	if err := binary.Read(r, binary.BigEndian, &h.Version); err != nil {
		return err
	}
	if h.Version != consensus.ProtocolVersion {
		return errors.New("p2p: incompatible protocol version")
	}
	if err := binary.Read(r, binary.BigEndian, (*uint32)(&h.Capabilities)); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &h.Nonce); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, (*uint64)(&h.TotalDifficulty)); err != nil {
		return err
	}
	genesis := make([]byte, consensus.BlockHashSize)
	if _, err := io.ReadFull(r, genesis); err != nil {
		return err
	}
	h.Genesis = genesis

	sender, err := deserializeTCPAddr(r)
	if err != nil {
		return err
	}
	h.SenderAddr = sender

	receiver, err := deserializeTCPAddr(r)
	if err != nil {
		return err
	}
	h.ReceiverAddr = receiver

	agent, err := readString(r)
	if err != nil {
		return err
	}
	h.UserAgent = agent
	return nil
}

func (h Hand) String() string { return fmt.Sprintf("%#v", h) }

// Shake is the handshake reply: the same advertisement, minus the nonce
// and addresses a reply doesn't need to restate.
type Shake struct {
	Version         uint32
	Capabilities    consensus.Capabilities
	TotalDifficulty consensus.Difficulty
	Genesis         consensus.Hash
	UserAgent       string
}

func (s *Shake) Bytes() []byte {
	buff := new(bytes.Buffer)
	binary.Write(buff, binary.BigEndian, s.Version)
	binary.Write(buff, binary.BigEndian, uint32(s.Capabilities))
	binary.Write(buff, binary.BigEndian, uint64(s.TotalDifficulty))
	buff.Write(mustHash(s.Genesis))
	writeString(buff, s.UserAgent)
	return buff.Bytes()
}

func (s *Shake) Type() uint8 { return consensus.MsgTypeShake }

func (s *Shake) Read(r io.Reader) error {
	if err := binary.Read(r, binary.BigEndian, &s.Version); err != nil {
		return err
	}
	if s.Version != consensus.ProtocolVersion {
		return errors.New("p2p: incompatible protocol version")
	}
	if err := binary.Read(r, binary.BigEndian, (*uint32)(&s.Capabilities)); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, (*uint64)(&s.TotalDifficulty)); err != nil {
		return err
	}
	genesis := make([]byte, consensus.BlockHashSize)
	if _, err := io.ReadFull(r, genesis); err != nil {
		return err
	}
	s.Genesis = genesis

	agent, err := readString(r)
	if err != nil {
		return err
	}
	s.UserAgent = agent
	return nil
}

func (s Shake) String() string { return fmt.Sprintf("%#v", s) }

// Ping carries the sender's total difficulty and height, sent
// periodically to keep a connection alive and detect who needs to sync.
type Ping struct {
	TotalDifficulty consensus.Difficulty
	Height          uint64
}

func (p *Ping) Bytes() []byte {
	buff := new(bytes.Buffer)
	binary.Write(buff, binary.BigEndian, uint64(p.TotalDifficulty))
	binary.Write(buff, binary.BigEndian, p.Height)
	return buff.Bytes()
}

func (p *Ping) Type() uint8 { return consensus.MsgTypePing }

func (p *Ping) Read(r io.Reader) error {
	if err := binary.Read(r, binary.BigEndian, (*uint64)(&p.TotalDifficulty)); err != nil {
		return err
	}
	return binary.Read(r, binary.BigEndian, &p.Height)
}

func (p Ping) String() string { return fmt.Sprintf("%#v", p) }

// Pong answers a Ping with the same payload shape.
type Pong struct {
	Ping
}

func (p *Pong) Type() uint8 { return consensus.MsgTypePong }

// GetPeerAddrs asks for peer addresses with at least the given
// capabilities, for network discovery.
type GetPeerAddrs struct {
	Capabilities consensus.Capabilities
}

func (p *GetPeerAddrs) Bytes() []byte {
	buff := new(bytes.Buffer)
	binary.Write(buff, binary.BigEndian, uint32(p.Capabilities))
	return buff.Bytes()
}

func (p *GetPeerAddrs) Type() uint8 { return consensus.MsgTypeGetPeerAddrs }

func (p *GetPeerAddrs) Read(r io.Reader) error {
	return binary.Read(r, binary.BigEndian, (*uint32)(&p.Capabilities))
}

func (p GetPeerAddrs) String() string { return fmt.Sprintf("%#v", p) }

// PeerAddrs answers GetPeerAddrs with a bounded list of known addresses.
type PeerAddrs struct {
	Peers []*net.TCPAddr
}

func (p *PeerAddrs) Bytes() []byte {
	if len(p.Peers) > consensus.MaxPeerAddrs {
		panic("p2p: too many peer addrs to send")
	}
	buff := new(bytes.Buffer)
	binary.Write(buff, binary.BigEndian, uint32(len(p.Peers)))
	for _, addr := range p.Peers {
		serializeTCPAddr(buff, addr)
	}
	return buff.Bytes()
}

func (p *PeerAddrs) Type() uint8 { return consensus.MsgTypePeerAddrs }

func (p *PeerAddrs) Read(r io.Reader) error {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}
	if count > consensus.MaxPeerAddrs {
		return errors.New("p2p: too many peer addrs from peer")
	}
	p.Peers = make([]*net.TCPAddr, count)
	for i := range p.Peers {
		addr, err := deserializeTCPAddr(r)
		if err != nil {
			return err
		}
		p.Peers[i] = addr
	}
	return nil
}

func (p PeerAddrs) String() string { return fmt.Sprintf("%#v", p) }

// GetBlock requests a full block by header hash.
type GetBlock struct {
	Hash consensus.Hash
}

func (g *GetBlock) Bytes() []byte { return mustHash(g.Hash) }

func (g *GetBlock) Type() uint8 { return consensus.MsgTypeGetBlock }

func (g *GetBlock) Read(r io.Reader) error {
	hash := make([]byte, consensus.BlockHashSize)
	_, err := io.ReadFull(r, hash)
	g.Hash = hash
	return err
}

func (g GetBlock) String() string { return fmt.Sprintf("%#v", g) }

// GetCompactBlock requests a compact block by header hash.
type GetCompactBlock struct {
	Hash consensus.Hash
}

func (g *GetCompactBlock) Bytes() []byte { return mustHash(g.Hash) }

func (g *GetCompactBlock) Type() uint8 { return consensus.MsgTypeGetCompactBlock }

func (g *GetCompactBlock) Read(r io.Reader) error {
	hash := make([]byte, consensus.BlockHashSize)
	_, err := io.ReadFull(r, hash)
	g.Hash = hash
	return err
}

func (g GetCompactBlock) String() string { return fmt.Sprintf("%#v", g) }

// GetBlockHeaders requests headers following the most recent common
// ancestor the locator identifies.
type GetBlockHeaders struct {
	Locator consensus.Locator
}

func (g *GetBlockHeaders) Bytes() []byte { return g.Locator.Bytes() }

func (g *GetBlockHeaders) Type() uint8 { return consensus.MsgTypeGetHeaders }

func (g *GetBlockHeaders) Read(r io.Reader) error { return g.Locator.Read(r) }

func (g GetBlockHeaders) String() string { return fmt.Sprintf("%#v", g) }

// BlockHeaders answers GetBlockHeaders.
type BlockHeaders struct {
	Headers []consensus.BlockHeader
}

func (h *BlockHeaders) Bytes() []byte {
	if len(h.Headers) > consensus.MaxBlockHeaders {
		panic("p2p: too many headers to send")
	}
	buff := new(bytes.Buffer)
	binary.Write(buff, binary.BigEndian, uint16(len(h.Headers)))
	for i := range h.Headers {
		buff.Write(h.Headers[i].Bytes())
	}
	return buff.Bytes()
}

func (h *BlockHeaders) Type() uint8 { return consensus.MsgTypeHeaders }

func (h *BlockHeaders) Read(r io.Reader) error {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}
	if int(count) > consensus.MaxBlockHeaders {
		return errors.New("p2p: too many headers from peer")
	}
	h.Headers = make([]consensus.BlockHeader, count)
	for i := range h.Headers {
		if err := h.Headers[i].Read(r); err != nil {
			return err
		}
	}
	return nil
}

func (h BlockHeaders) String() string { return fmt.Sprintf("%#v", h) }

// StemTransaction wraps a transaction sent along the Dandelion stem path,
// framed under its own message type so a receiving peer can tell a stem
// relay apart from an ordinary fluffed broadcast.
type StemTransaction struct {
	consensus.Transaction
}

func (s *StemTransaction) Type() uint8 { return consensus.MsgTypeStemTransaction }

// TxHashSetRequest asks a peer to stream a TxHashSet snapshot as of the
// header identified by hash, for horizon-based fast sync.
type TxHashSetRequest struct {
	Hash   consensus.Hash
	Height uint64
}

func (t *TxHashSetRequest) Bytes() []byte {
	buff := new(bytes.Buffer)
	buff.Write(mustHash(t.Hash))
	binary.Write(buff, binary.BigEndian, t.Height)
	return buff.Bytes()
}

func (t *TxHashSetRequest) Type() uint8 { return consensus.MsgTypeTxHashSetRequest }

func (t *TxHashSetRequest) Read(r io.Reader) error {
	hash := make([]byte, consensus.BlockHashSize)
	if _, err := io.ReadFull(r, hash); err != nil {
		return err
	}
	t.Hash = hash
	return binary.Read(r, binary.BigEndian, &t.Height)
}

func (t TxHashSetRequest) String() string { return fmt.Sprintf("%#v", t) }

// TxHashSetArchive carries one chunk of a serialized TxHashSet snapshot
// in answer to TxHashSetRequest, each chunk bounded by MaxMsgLen. Only the
// wire format is defined: nothing in this module produces these chunks or
// reassembles a snapshot from them, and Dispatcher ignores both messages.
type TxHashSetArchive struct {
	Hash    consensus.Hash
	Height  uint64
	Size    uint64 // total snapshot size across the whole sequence
	Offset  uint64 // byte offset of Payload within the snapshot
	Payload []byte
}

func (t *TxHashSetArchive) Bytes() []byte {
	buff := new(bytes.Buffer)
	buff.Write(mustHash(t.Hash))
	binary.Write(buff, binary.BigEndian, t.Height)
	binary.Write(buff, binary.BigEndian, t.Size)
	binary.Write(buff, binary.BigEndian, t.Offset)
	binary.Write(buff, binary.BigEndian, uint64(len(t.Payload)))
	buff.Write(t.Payload)
	return buff.Bytes()
}

func (t *TxHashSetArchive) Type() uint8 { return consensus.MsgTypeTxHashSetArchive }

func (t *TxHashSetArchive) Read(r io.Reader) error {
	hash := make([]byte, consensus.BlockHashSize)
	if _, err := io.ReadFull(r, hash); err != nil {
		return err
	}
	t.Hash = hash
	if err := binary.Read(r, binary.BigEndian, &t.Height); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &t.Size); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &t.Offset); err != nil {
		return err
	}
	var payloadLen uint64
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return err
	}
	if payloadLen > consensus.MaxMsgLen {
		return errors.New("p2p: archive chunk too large")
	}
	t.Payload = make([]byte, payloadLen)
	_, err := io.ReadFull(r, t.Payload)
	return err
}

func (t TxHashSetArchive) String() string {
	return fmt.Sprintf("TxHashSetArchive{Height:%d Size:%d Offset:%d len(Payload):%d}", t.Height, t.Size, t.Offset, len(t.Payload))
}

// GetTransaction asks a peer to resolve a kernel short id a compact block
// didn't let the receiver hydrate from its own pool.
type GetTransaction struct {
	BlockHash consensus.Hash
	ShortID   consensus.ShortID
}

func (g *GetTransaction) Bytes() []byte {
	buff := new(bytes.Buffer)
	buff.Write(mustHash(g.BlockHash))
	buff.Write(g.ShortID)
	return buff.Bytes()
}

func (g *GetTransaction) Type() uint8 { return consensus.MsgTypeGetTransaction }

func (g *GetTransaction) Read(r io.Reader) error {
	hash := make([]byte, consensus.BlockHashSize)
	if _, err := io.ReadFull(r, hash); err != nil {
		return err
	}
	g.BlockHash = hash
	id := make(consensus.ShortID, consensus.ShortIDSize)
	_, err := io.ReadFull(r, id)
	g.ShortID = id
	return err
}

func (g GetTransaction) String() string { return fmt.Sprintf("%#v", g) }

// TransactionKernel answers GetTransaction with the resolved kernel.
type TransactionKernel struct {
	Kernel consensus.TxKernel
}

func (t *TransactionKernel) Bytes() []byte { return t.Kernel.Bytes() }

func (t *TransactionKernel) Type() uint8 { return consensus.MsgTypeTransactionKernel }

func (t *TransactionKernel) Read(r io.Reader) error { return t.Kernel.Read(r) }

func (t TransactionKernel) String() string { return fmt.Sprintf("%#v", t) }

// BanReason explains why the sender is about to close the connection.
type BanReason struct {
	Code    uint32
	Message string
}

func (b *BanReason) Bytes() []byte {
	buff := new(bytes.Buffer)
	binary.Write(buff, binary.BigEndian, b.Code)
	writeString(buff, b.Message)
	return buff.Bytes()
}

func (b *BanReason) Type() uint8 { return consensus.MsgTypeBanReason }

func (b *BanReason) Read(r io.Reader) error {
	if err := binary.Read(r, binary.BigEndian, &b.Code); err != nil {
		return err
	}
	msg, err := readString(r)
	b.Message = msg
	return err
}

func (b BanReason) String() string { return fmt.Sprintf("%#v", b) }

func mustHash(h consensus.Hash) []byte {
	if len(h) != consensus.BlockHashSize {
		panic("p2p: invalid hash length")
	}
	return h
}

func writeString(buff *bytes.Buffer, s string) {
	binary.Write(buff, binary.BigEndian, uint64(len(s)))
	buff.WriteString(s)
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n > consensus.MaxMsgLen {
		return "", errors.New("p2p: string field too large")
	}
	buff := make([]byte, n)
	if _, err := io.ReadFull(r, buff); err != nil {
		return "", err
	}
	return string(buff), nil
}
