package secp256k1zkp

import (
	"math/big"
	"testing"

	. "github.com/yoss22/bulletproofs"
)

func TestVerifySignature(t *testing.T) {
	x := big.NewInt(8)
	P := ScalarMulPoint(&G, x)

	msg := [32]byte{}
	sig := SignMessage(*P, *x, msg)

	if !VerifySignature(*P, msg, sig) {
		t.Errorf("failed to verify signature")
	}
}

func TestVerifySignatureRejectsWrongMessage(t *testing.T) {
	x := big.NewInt(42)
	P := ScalarMulPoint(&G, x)

	msg := ComputeMessage(10, 0)
	sig := SignMessage(*P, *x, msg)

	wrong := ComputeMessage(11, 0)
	if VerifySignature(*P, wrong, sig) {
		t.Errorf("signature should not verify against a different message")
	}
}

func TestCommitmentRoundTrip(t *testing.T) {
	blind := RandomScalar()
	value := big.NewInt(1234)

	point := CommitValue(blind, value)
	commit := NewCommitment(point)

	decoded, err := commit.Point()
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	if decoded.X.Cmp(point.X) != 0 {
		t.Errorf("commitment round trip changed X")
	}
}

func TestSwitchCommitHashDeterministic(t *testing.T) {
	blind := big.NewInt(7)

	h1 := SwitchCommitHash(blind)
	h2 := SwitchCommitHash(blind)

	if len(h1) != SwitchCommitHashSize {
		t.Fatalf("unexpected switch commit hash size: %d", len(h1))
	}

	for i := range h1 {
		if h1[i] != h2[i] {
			t.Fatalf("switch commit hash is not deterministic")
		}
	}
}
