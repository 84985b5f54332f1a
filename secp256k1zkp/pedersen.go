// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package secp256k1zkp implements the Pedersen commitments, Bulletproof
// range proofs and Schnorr-style excess signatures a Mimblewimble node
// needs: the cryptographic layer underneath every consensus check.
package secp256k1zkp

import (
	"bytes"
	"fmt"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
	. "github.com/yoss22/bulletproofs"
)

const (
	// PedersenCommitmentSize is the wire size of a compressed commitment.
	PedersenCommitmentSize = 33

	// SecretKeySize is the size of a blinding scalar / kernel offset.
	SecretKeySize = 32

	// MaxSignatureSize is the wire size of a Schnorr excess signature.
	MaxSignatureSize = 64

	// MaxProofSize is the largest a Bulletproof range proof may be.
	MaxProofSize = 675
)

// Commitment is a 33-byte compressed Pedersen commitment r*G + v*H. Two
// outputs with equal commitments are indistinguishable; this is the only
// identity an output carries.
type Commitment [PedersenCommitmentSize]byte

// Bytes implements the p2p Message interface.
func (c *Commitment) Bytes() []byte {
	return c[:]
}

// Read implements the p2p Message interface.
func (c *Commitment) Read(r io.Reader) error {
	_, err := io.ReadFull(r, c[:])
	return err
}

// String implements fmt.Stringer.
func (c Commitment) String() string {
	return fmt.Sprintf("%x", c[:])
}

// Point decompresses the commitment into a curve point.
func (c Commitment) Point() (*Point, error) {
	p := new(Point)
	if err := p.Read(bytes.NewReader(c[:])); err != nil {
		return nil, fmt.Errorf("decompress commitment: %w", err)
	}
	return p, nil
}

// NewCommitment compresses a curve point into a Commitment.
func NewCommitment(p *Point) Commitment {
	var c Commitment
	copy(c[:], CompressPubkey(*p))
	return c
}

// CommitValue returns the Pedersen commitment to value v with blinding
// factor blind: r*G + v*H.
func CommitValue(blind, v *big.Int) *Point {
	return SumPoints(
		ScalarMulPoint(&G, blind),
		ScalarMulPoint(&H, v))
}

// SumCommitments homomorphically sums a set of commitments: useful both for
// the kernel excess sum and for verifying sum(outputs) - sum(inputs) -
// fee*H == sum(excesses) + offset*G without ever learning any one value.
func SumCommitments(points ...*Point) *Point {
	if len(points) == 0 {
		return &Point{X: new(big.Int), Y: new(big.Int)}
	}
	acc := points[0]
	for _, p := range points[1:] {
		acc = SumPoints(acc, p)
	}
	return acc
}

// NegatePoint returns the additive inverse of p, (x, P-y) for the curve's
// field prime P, for subtracting commitments.
func NegatePoint(p *Point) *Point {
	fieldP := btcec.S256().P
	negY := new(big.Int).Sub(fieldP, p.Y)
	negY.Mod(negY, fieldP)
	return &Point{X: new(big.Int).Set(p.X), Y: negY}
}

// RangeProof proves a committed value lies in [0, 2^64) without revealing
// it. Bound to its commitment and required for every output.
type RangeProof struct {
	Proof    BulletProof
	ProofLen int
}

// Bytes implements the p2p Message interface.
func (rp *RangeProof) Bytes() []byte {
	return rp.Proof.Bytes()
}

// Read implements the p2p Message interface.
func (rp *RangeProof) Read(r io.Reader) error {
	if err := rp.Proof.Read(r); err != nil {
		return err
	}
	rp.ProofLen = len(rp.Proof.Bytes())
	return nil
}
