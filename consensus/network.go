// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

// MagicCode is expected at the start of every wire message frame.
var MagicCode = [2]byte{0x1e, 0xc5}

const (
	// ProtocolVersion is the version of the p2p protocol spoken.
	ProtocolVersion uint32 = 1

	// HeaderLen is the size in bytes of a message frame header:
	// magic(2) + type(1) + length(8).
	HeaderLen uint64 = 11

	// MaxMsgLen bounds any single message frame. Enforced by the p2p layer
	// for DoS protection only; it is not a consensus rule.
	MaxMsgLen uint64 = 20_000_000
)

// Message types carried in a wire frame.
const (
	MsgTypeError uint8 = iota
	MsgTypeHand
	MsgTypeShake
	MsgTypePing
	MsgTypePong
	MsgTypeGetPeerAddrs
	MsgTypePeerAddrs
	MsgTypeGetHeaders
	MsgTypeHeader
	MsgTypeHeaders
	MsgTypeGetBlock
	MsgTypeBlock
	MsgTypeGetCompactBlock
	MsgTypeCompactBlock
	MsgTypeStemTransaction
	MsgTypeTransaction
	MsgTypeTxHashSetRequest
	MsgTypeTxHashSetArchive
	MsgTypeBanReason
	MsgTypeGetTransaction
	MsgTypeTransactionKernel
)

// Capabilities is a bitmask of what a peer can serve.
type Capabilities uint32

const (
	CapUnknown Capabilities = 0
	// CapFullHist marks a full archival node with the whole unpruned history.
	CapFullHist Capabilities = 0x01
	// CapTxHashSetHist marks a node able to serve a TxHashSet snapshot for
	// horizon-based fast sync.
	CapTxHashSetHist Capabilities = 0x02
	// CapPeerList marks a node able to serve a peer address list.
	CapPeerList Capabilities = 0x04

	CapFastSyncNode = CapTxHashSetHist | CapPeerList
	CapFullNode     = CapFullHist | CapTxHashSetHist | CapPeerList
)

const (
	// MaxLocators bounds the number of hashes in a block header locator.
	MaxLocators int = 14

	// MaxBlockHeaders bounds the number of headers a peer should ever send
	// in one Headers message.
	MaxBlockHeaders = 512

	// MaxPeerAddrs bounds the number of peer addresses a peer should ever
	// send in one PeerAddrs message.
	MaxPeerAddrs = 256
)
