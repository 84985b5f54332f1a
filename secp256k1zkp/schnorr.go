package secp256k1zkp

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
	. "github.com/yoss22/bulletproofs"
)

const (
	// TagPubkeyEven is prepended to a compressed pubkey to signal that the y
	// coordinate is even.
	TagPubkeyEven = 0x02

	// TagPubkeyOdd is prepended to a compressed pubkey to signal that the y
	// coordinate is odd.
	TagPubkeyOdd = 0x03
)

// RandomBytes returns 32 bytes of randomness.
func RandomBytes() [32]byte {
	buf := [32]byte{}
	if _, err := rand.Read(buf[:]); err != nil {
		panic("unable to generate random bytes: " + err.Error())
	}
	return buf
}

// RandomScalar returns a uniform scalar in Z_n, suitable as a blinding
// factor or a kernel offset.
func RandomScalar() *big.Int {
	for {
		buf := RandomBytes()
		r := new(big.Int).SetBytes(buf[:])
		if r.Cmp(S256N()) < 0 {
			return r
		}
	}
}

// Signature is a Schnorr-style argument of knowledge that the signer
// possesses the private key for a public key.
type Signature struct {
	S big.Int
	R Point
}

// Bytes serializes the signature to its 64-byte wire form.
func (s Signature) Bytes() [64]byte {
	var buf [64]byte
	rx := GetB32(s.R.X)
	sx := GetB32(&s.S)
	copy(buf[0:32], rx[:])
	copy(buf[32:64], sx[:])
	return buf
}

// SignMessage convinces a verifier in zero knowledge that the signer knows
// the private key x for a public key P = x*G.
//
// The prover sends a random curve point R = k*G which acts as a blinding
// factor, the verifier issues a non-interactive challenge e derived from
// (R, P, message), and the prover returns s = k + e*x. The verifier checks
// s*G == R + e*P.
func SignMessage(publicKey Point, privateKey big.Int, message [32]byte) Signature {
	k := RandomScalar()
	R := ScalarMulPoint(&G, k)

	e := schnorrChallenge(R, publicKey, message)
	s := Sum(k, Mul(e, &privateKey))

	return Signature{S: *s, R: *R}
}

// VerifySignature returns true if signature was produced by signing message
// with the private key corresponding to publicKey.
func VerifySignature(publicKey Point, message [32]byte, signature Signature) bool {
	e := schnorrChallenge(&signature.R, publicKey, message)

	lhs := ScalarMulPoint(&G, &signature.S)
	rhs := SumPoints(&signature.R, ScalarMulPoint(&publicKey, e))

	return lhs.X.Cmp(rhs.X) == 0 && lhs.Y.Cmp(rhs.Y) == 0
}

func schnorrChallenge(R *Point, publicKey Point, message [32]byte) *big.Int {
	rx := GetB32(R.X)
	compressedPubkey := CompressPubkey(publicKey)

	challenge := Blake2b256(rx[:], compressedPubkey[:], message[:])
	return new(big.Int).SetBytes(challenge[:])
}

// CompressPubkey returns p as a 33-byte compressed pubkey.
func CompressPubkey(p Point) [33]byte {
	var buf [33]byte
	if p.Y.Bit(0) == 1 {
		buf[0] = TagPubkeyOdd
	} else {
		buf[0] = TagPubkeyEven
	}
	x := GetB32(p.X)
	copy(buf[1:33], x[:])
	return buf
}

// decompressPoint derives the y-coordinate for a compressed x-coordinate on
// secp256k1: y^2 = x^3 + 7.
func decompressPoint(xBytes []byte) *big.Int {
	x := new(big.Int).SetBytes(xBytes)

	x3 := new(big.Int).Mul(x, x)
	x3.Mul(x3, x)
	x3.Add(x3, btcec.S256().Params().B)

	return ModSqrtFast(x3)
}

// DecodeSignature reads a 64-byte excess signature.
func DecodeSignature(signature [64]byte) Signature {
	s := new(big.Int).SetBytes(signature[32:64])

	R := new(Point)
	R.X = new(big.Int).SetBytes(signature[0:32])
	R.Y = decompressPoint(signature[0:32])

	return Signature{S: *s, R: *R}
}

// ComputeMessage encodes a kernel's fee and lock_height into the 32-byte
// message its excess signature signs over.
func ComputeMessage(fee, lockHeight uint64) [32]byte {
	var msg [32]byte
	binary.BigEndian.PutUint64(msg[16:24], fee)
	binary.BigEndian.PutUint64(msg[24:32], lockHeight)
	return msg
}
