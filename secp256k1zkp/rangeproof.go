package secp256k1zkp

import (
	"sync"

	. "github.com/yoss22/bulletproofs"
)

// proofCacheSize bounds the number of validated (commitment, proof) pairs
// kept in memory. Range proof verification is the hot path on re-orgs,
// where the same block's outputs are re-validated against a new extension;
// the cache avoids redoing the multi-exponentiation for proofs already
// accepted once.
const proofCacheSize = 100_000

// BatchVerifier verifies Bulletproof range proofs one at a time and caches
// accepted results keyed by a hash of the (commitment, proof) pair, so a
// proof it has already accepted is not verified again by the same
// BatchVerifier. Proofs are not aggregated into one multi-exponentiation,
// and the cache lives only as long as the BatchVerifier.
type BatchVerifier struct {
	mu     sync.Mutex
	prover *Prover
	cache  map[[32]byte]struct{}
	order  []([32]byte)
}

// NewBatchVerifier returns a verifier for range proofs over bitSize-bit
// values (Grin uses 64).
func NewBatchVerifier(bitSize int) *BatchVerifier {
	return &BatchVerifier{
		prover: NewProver(bitSize),
		cache:  make(map[[32]byte]struct{}),
	}
}

func proofCacheKey(commit Commitment, proof []byte) [32]byte {
	return Blake2b256(commit[:], proof)
}

// Verify checks a single (commitment, proof) pair, consulting and updating
// the acceptance cache.
func (v *BatchVerifier) Verify(commit Commitment, proof BulletProof) bool {
	key := proofCacheKey(commit, proof.Bytes())

	v.mu.Lock()
	_, cached := v.cache[key]
	v.mu.Unlock()
	if cached {
		return true
	}

	point, err := commit.Point()
	if err != nil {
		return false
	}

	if !v.prover.Verify(point, proof) {
		return false
	}

	v.remember(key)
	return true
}

// VerifyAll calls Verify on each (commitment, proof) pair in turn, skipping
// any already cached, and returns the indices (into the input slices) of the
// ones that failed verification. An empty result means every proof is
// valid.
func (v *BatchVerifier) VerifyAll(commits []Commitment, proofs []BulletProof) []int {
	var failed []int
	for i := range commits {
		if !v.Verify(commits[i], proofs[i]) {
			failed = append(failed, i)
		}
	}
	return failed
}

func (v *BatchVerifier) remember(key [32]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.cache[key]; ok {
		return
	}

	if len(v.order) >= proofCacheSize {
		oldest := v.order[0]
		v.order = v.order[1:]
		delete(v.cache, oldest)
	}

	v.cache[key] = struct{}{}
	v.order = append(v.order, key)
}
