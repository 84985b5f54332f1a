package secp256k1zkp

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

// S256N returns the order of the secp256k1 group, the modulus blinding
// scalars and kernel offsets live in.
func S256N() *big.Int {
	return btcec.S256().N
}
