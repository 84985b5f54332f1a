package secp256k1zkp

import (
	"math/big"

	. "github.com/yoss22/bulletproofs"
)

// J is the third "switch" generator, independent of the Pedersen
// commitment generators G and H. Real Grin picks J as a nothing-up-my-sleeve
// point derived by repeated hashing; we do the same here: J = hash2scalar(
// "grincore/switch-generator/J") * G. The scalar is fixed at init so every
// node derives the identical point, and it is never used as a signing key.
var J = deriveSwitchGenerator()

func deriveSwitchGenerator() Point {
	seed := Blake2b256([]byte("grincore/switch-generator/J"))
	scalar := new(big.Int).SetBytes(seed[:])
	scalar.Mod(scalar, S256N())
	p := ScalarMulPoint(&G, scalar)
	return *p
}
