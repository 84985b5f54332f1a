// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/grincore/node/cuckoo"
	"github.com/grincore/node/secp256k1zkp"
)

// Proof is a Cuckatoo cycle solution: a graph size and its 42 edge nonces.
type Proof struct {
	// EdgeBits is the power of 2 used for the size of the Cuckatoo graph.
	EdgeBits uint8

	// Nonces are the 42 edge nonces making up the cycle.
	Nonces []uint32
}

// NewProof returns a Proof over nonces at the given graph size.
func NewProof(edgeBits uint8, nonces []uint32) Proof {
	return Proof{EdgeBits: edgeBits, Nonces: nonces}
}

// Validate regenerates the cycle's endpoints from preHeader (the header
// bytes excluding the Cuckatoo proof) and confirms a length-42 cycle.
func (p *Proof) Validate(preHeader []byte) error {
	if len(p.Nonces) != ProofSize {
		return NewRuleError(InvalidBlockProof, "invalid proof length %d", len(p.Nonces))
	}

	graph := cuckoo.NewCuckatoo(preHeader, p.EdgeBits)
	if !graph.Verify(p.Nonces, p.EdgeBits) {
		return NewRuleError(InvalidBlockProof, "cuckatoo cycle did not verify")
	}

	return nil
}

// Difficulty is 2^256 / Blake2b(proof_nonces), rounded down.
func (p *Proof) Difficulty() Difficulty {
	hash := p.Hash()
	return DifficultyFromProofHash(hash)
}

// Hash returns the Blake2b-256 hash of the packed proof nonces.
func (p *Proof) Hash() [32]byte {
	return secp256k1zkp.Blake2b256(p.packedNonces())
}

// packedNonces bit-packs the 42 nonces at EdgeBits width each; the cycle is
// always length 42 but each endpoint takes EdgeBits bits on the wire.
func (p *Proof) packedNonces() []byte {
	nonceBits := uint(p.EdgeBits)
	bitLen := nonceBits * uint(ProofSize)
	bitvec := make([]byte, (bitLen+7)/8)

	for n, nonce := range p.Nonces {
		for bit := uint(0); bit < nonceBits; bit++ {
			if nonce&(1<<bit) != 0 {
				offset := uint(n)*nonceBits + bit
				bitvec[offset/8] |= 1 << (offset % 8)
			}
		}
	}

	return bitvec
}

// Bytes serializes the proof: edge_bits(1) followed by the bit-packed
// nonces.
func (p *Proof) Bytes() []byte {
	buff := new(bytes.Buffer)
	buff.WriteByte(p.EdgeBits)
	buff.Write(p.packedNonces())
	return buff.Bytes()
}

// Read deserializes a Proof.
func (p *Proof) Read(r io.Reader) error {
	if err := binary.Read(r, binary.BigEndian, &p.EdgeBits); err != nil {
		return err
	}
	if p.EdgeBits == 0 || p.EdgeBits > 63 {
		return NewRuleError(InvalidBlockProof, "invalid cuckoo graph size: %d", p.EdgeBits)
	}

	nonceBits := uint(p.EdgeBits)
	bitLen := nonceBits * uint(ProofSize)
	bitvec := make([]byte, (bitLen+7)/8)
	if _, err := io.ReadFull(r, bitvec); err != nil {
		return err
	}

	p.Nonces = make([]uint32, ProofSize)
	for i := 0; i < ProofSize; i++ {
		var nonce uint32
		for bit := uint(0); bit < nonceBits; bit++ {
			offset := uint(i)*nonceBits + bit
			if bitvec[offset/8]&(1<<(offset%8)) != 0 {
				nonce |= 1 << bit
			}
		}
		p.Nonces[i] = nonce
	}

	return nil
}

// IsSecondary reports whether this proof was mined with the secondary PoW
// (the fixed, smaller graph size subject to a difficulty scaling factor).
func (p *Proof) IsSecondary() bool {
	return p.EdgeBits == SecondPowEdgeBits
}
