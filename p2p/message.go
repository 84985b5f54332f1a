// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package p2p implements the wire protocol: message framing, the
// handshake, peer connection lifecycle and the peer table. It holds no
// consensus or pool logic of its own, dispatching parsed messages to the
// chain, txpool and dandelion layers through Dispatcher.
package p2p

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/grincore/node/consensus"
)

// Message is anything that can be framed and sent over the wire.
type Message interface {
	// Bytes returns the message body, excluding the frame header.
	Bytes() []byte
	// Type identifies the message for the frame header.
	Type() uint8
	// Read fills the message from its body bytes.
	Read(r io.Reader) error
}

// header is the fixed-size frame prefix: magic(2) + type(1) + len(8).
type header struct {
	magic   [2]byte
	msgType uint8
	msgLen  uint64
}

func (h *header) write(w io.Writer) error {
	if _, err := w.Write(h.magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, h.msgType); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, h.msgLen)
}

func (h *header) read(r io.Reader) error {
	if _, err := io.ReadFull(r, h.magic[:]); err != nil {
		return err
	}
	if h.magic != consensus.MagicCode {
		return errors.New("p2p: invalid magic code")
	}
	if err := binary.Read(r, binary.BigEndian, &h.msgType); err != nil {
		return err
	}
	return binary.Read(r, binary.BigEndian, &h.msgLen)
}

// WriteMessage frames msg and writes it to w.
func WriteMessage(w io.Writer, msg Message) (uint64, error) {
	body := msg.Bytes()

	h := header{
		magic:   consensus.MagicCode,
		msgType: msg.Type(),
		msgLen:  uint64(len(body)),
	}

	bw := bufio.NewWriter(w)
	if err := h.write(bw); err != nil {
		return 0, err
	}
	if _, err := bw.Write(body); err != nil {
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return consensus.HeaderLen + h.msgLen, nil
}

// ReadMessage reads a frame from r into msg, which must already be the
// expected message type. It returns the total number of bytes the frame
// occupied, header included.
func ReadMessage(r io.Reader, msg Message) (uint64, error) {
	var h header
	if err := h.read(r); err != nil {
		return 0, err
	}

	if h.msgLen > consensus.MaxMsgLen {
		return 0, errors.New("p2p: message too large")
	}
	if h.msgType != msg.Type() {
		return 0, errors.New("p2p: unexpected message type")
	}

	body := io.LimitReader(r, int64(h.msgLen))
	if err := msg.Read(body); err != nil {
		return 0, err
	}
	return consensus.HeaderLen + h.msgLen, nil
}

// peekType reads just the frame header from r, identifying the message
// that follows without consuming its body, and returns a reader for the
// body, the parsed type, and the frame's total on-wire size (header plus
// body) for byte-counting.
func peekType(r io.Reader) (msgType uint8, body io.Reader, frameLen uint64, err error) {
	var h header
	if err := h.read(r); err != nil {
		return 0, nil, 0, err
	}
	if h.msgLen > consensus.MaxMsgLen {
		return 0, nil, 0, errors.New("p2p: message too large")
	}
	return h.msgType, io.LimitReader(r, int64(h.msgLen)), consensus.HeaderLen + h.msgLen, nil
}
