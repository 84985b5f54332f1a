package secp256k1zkp

import (
	"math/big"

	. "github.com/yoss22/bulletproofs"
	"golang.org/x/crypto/blake2b"
)

// SwitchCommitHashSize is the stored size of a switch commitment hash.
const SwitchCommitHashSize = 20

// Blake2b256 hashes the concatenation of inputs with Blake2b-256. This is
// the node's sole hash function: MMR node hashes, header hashes, and
// Schnorr challenges all derive from it.
func Blake2b256(inputs ...[]byte) [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic("blake2b-256 unavailable: " + err.Error())
	}
	for _, in := range inputs {
		h.Write(in)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SwitchCommitHash truncates a Blake2b hash of the blinding factor's switch
// commitment point (blind*J) to SwitchCommitHashSize bytes. Switch
// commitments let wallets recognize outputs they own and are future-proofing
// against quantum attacks on the blinding factor; validators carry the hash
// as opaque bytes and never include it in the sum-to-zero equation.
func SwitchCommitHash(blind *big.Int) []byte {
	j := ScalarMulPoint(&J, blind)
	full := Blake2b256(GetB32(j.X)[:], GetB32(j.Y)[:])
	return full[:SwitchCommitHashSize]
}
