package p2p

import (
	"bytes"
	"net"
	"testing"

	"github.com/grincore/node/consensus"
)

func genesisHash() consensus.Hash {
	h := make(consensus.Hash, consensus.BlockHashSize)
	h[0] = 0xaa
	return h
}

func roundTrip(t *testing.T, msg Message, out Message) {
	t.Helper()
	var buff bytes.Buffer
	if _, err := WriteMessage(&buff, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if _, err := ReadMessage(&buff, out); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
}

func TestWriteReadMessageRoundTripsHeader(t *testing.T) {
	in := &Ping{TotalDifficulty: consensus.Difficulty(42), Height: 7}
	out := new(Ping)
	roundTrip(t, in, out)

	if out.TotalDifficulty != in.TotalDifficulty || out.Height != in.Height {
		t.Errorf("got %#v, want %#v", out, in)
	}
}

func TestReadMessageRejectsWrongType(t *testing.T) {
	var buff bytes.Buffer
	if _, err := WriteMessage(&buff, &Ping{Height: 1}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if _, err := ReadMessage(&buff, new(Pong)); err == nil {
		t.Fatal("expected a type mismatch error")
	}
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	var buff bytes.Buffer
	buff.Write([]byte{0, 0, consensus.MsgTypePing, 0, 0, 0, 0, 0, 0, 0, 0})
	if _, err := ReadMessage(&buff, new(Ping)); err == nil {
		t.Fatal("expected a bad magic error")
	}
}

func TestHandShakeRoundTrip(t *testing.T) {
	sender := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 3414}
	receiver := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 3414}

	in := &Hand{
		Version:         consensus.ProtocolVersion,
		Capabilities:    consensus.CapFullNode,
		Nonce:           9001,
		TotalDifficulty: consensus.Difficulty(5),
		Genesis:         genesisHash(),
		SenderAddr:      sender,
		ReceiverAddr:    receiver,
		UserAgent:       "test-agent",
	}
	out := new(Hand)
	roundTrip(t, in, out)

	if out.Nonce != in.Nonce || out.UserAgent != in.UserAgent {
		t.Errorf("got %#v, want %#v", out, in)
	}
	if !out.SenderAddr.IP.Equal(sender.IP) || out.SenderAddr.Port != sender.Port {
		t.Errorf("sender addr mismatch: got %v", out.SenderAddr)
	}
	if !out.ReceiverAddr.IP.Equal(receiver.IP) || out.ReceiverAddr.Port != receiver.Port {
		t.Errorf("receiver addr mismatch: got %v", out.ReceiverAddr)
	}
	if string(out.Genesis) != string(in.Genesis) {
		t.Errorf("genesis mismatch: got %x want %x", out.Genesis, in.Genesis)
	}
}

func TestShakeRoundTrip(t *testing.T) {
	in := &Shake{
		Version:         consensus.ProtocolVersion,
		Capabilities:    consensus.CapFastSyncNode,
		TotalDifficulty: consensus.Difficulty(99),
		Genesis:         genesisHash(),
		UserAgent:       "test-agent",
	}
	out := new(Shake)
	roundTrip(t, in, out)

	if out.Capabilities != in.Capabilities || out.TotalDifficulty != in.TotalDifficulty {
		t.Errorf("got %#v, want %#v", out, in)
	}
}

func TestPeerAddrsRoundTripsV4AndV6(t *testing.T) {
	in := &PeerAddrs{Peers: []*net.TCPAddr{
		{IP: net.IPv4(192, 168, 0, 1), Port: 3414},
		{IP: net.ParseIP("2001:db8::1"), Port: 3414},
	}}
	out := new(PeerAddrs)
	roundTrip(t, in, out)

	if len(out.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(out.Peers))
	}
	if !out.Peers[0].IP.Equal(in.Peers[0].IP) {
		t.Errorf("v4 addr mismatch: got %v want %v", out.Peers[0].IP, in.Peers[0].IP)
	}
	if !out.Peers[1].IP.Equal(in.Peers[1].IP) {
		t.Errorf("v6 addr mismatch: got %v want %v", out.Peers[1].IP, in.Peers[1].IP)
	}
}

func TestGetBlockRoundTrip(t *testing.T) {
	hash := make(consensus.Hash, consensus.BlockHashSize)
	hash[3] = 0x42

	in := &GetBlock{Hash: hash}
	out := new(GetBlock)
	roundTrip(t, in, out)

	if string(out.Hash) != string(in.Hash) {
		t.Errorf("hash mismatch: got %x want %x", out.Hash, in.Hash)
	}
}

func TestTxHashSetArchiveRoundTrip(t *testing.T) {
	hash := make(consensus.Hash, consensus.BlockHashSize)
	in := &TxHashSetArchive{
		Hash:    hash,
		Height:  100,
		Size:    4096,
		Offset:  1024,
		Payload: []byte("snapshot-chunk"),
	}
	out := new(TxHashSetArchive)
	roundTrip(t, in, out)

	if out.Height != in.Height || out.Size != in.Size || out.Offset != in.Offset {
		t.Errorf("got %#v, want %#v", out, in)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("payload mismatch: got %q want %q", out.Payload, in.Payload)
	}
}

func TestBanReasonRoundTrip(t *testing.T) {
	in := &BanReason{Code: 7, Message: "bad range proof"}
	out := new(BanReason)
	roundTrip(t, in, out)

	if out.Code != in.Code || out.Message != in.Message {
		t.Errorf("got %#v, want %#v", out, in)
	}
}

func TestNewMessageCoversEveryWireType(t *testing.T) {
	types := []uint8{
		consensus.MsgTypeHand, consensus.MsgTypeShake, consensus.MsgTypePing,
		consensus.MsgTypePong, consensus.MsgTypeGetPeerAddrs, consensus.MsgTypePeerAddrs,
		consensus.MsgTypeGetHeaders, consensus.MsgTypeHeaders, consensus.MsgTypeGetBlock,
		consensus.MsgTypeBlock, consensus.MsgTypeGetCompactBlock, consensus.MsgTypeCompactBlock,
		consensus.MsgTypeStemTransaction, consensus.MsgTypeTransaction,
		consensus.MsgTypeTxHashSetRequest, consensus.MsgTypeTxHashSetArchive,
		consensus.MsgTypeBanReason, consensus.MsgTypeGetTransaction, consensus.MsgTypeTransactionKernel,
	}
	for _, typ := range types {
		msg, err := newMessage(typ)
		if err != nil {
			t.Errorf("newMessage(%d): %v", typ, err)
			continue
		}
		if msg.Type() != typ {
			t.Errorf("newMessage(%d).Type() = %d", typ, msg.Type())
		}
	}
}

func TestNewMessageRejectsUnknownType(t *testing.T) {
	if _, err := newMessage(255); err == nil {
		t.Fatal("expected an error for an unknown message type")
	}
}
