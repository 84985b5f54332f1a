// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package cuckoo

import (
	"encoding/binary"

	"github.com/grincore/node/secp256k1zkp"
)

// Cuckoo is a Cuckatoo cycle context keyed off a block header (or an
// arbitrary key for testing). The graph has two partitions of 2^edgeBits
// nodes each; a proof is a set of 42 nonces whose U/V endpoints, generated
// through the keyed SipHash-2-4 function, form a single cycle touching
// every node exactly twice.
type Cuckoo struct {
	v [4]uint64

	// edgeBits is the graph size this context was constructed for. Zero
	// means the context only carries keys (see NewFromKeys) and the caller
	// must supply edgeBits to Verify.
	edgeBits uint8
}

// NewCuckatoo derives a Cuckoo context from a block header's pre-PoW bytes.
// The SipHash keys are the four big-endian 64-bit words of Blake2b256(header),
// so every node reconstructs identical keys from the header alone.
func NewCuckatoo(header []byte, edgeBits uint8) *Cuckoo {
	hash := secp256k1zkp.Blake2b256(header)

	var v [4]uint64
	for i := 0; i < 4; i++ {
		v[i] = binary.BigEndian.Uint64(hash[8*i : 8*i+8])
	}

	return &Cuckoo{v: v, edgeBits: edgeBits}
}

// NewFromKeys returns a Cuckoo context from explicit SipHash keys, bypassing
// header hashing. Used to verify proofs against a fixed key schedule.
func NewFromKeys(key [4]uint64) *Cuckoo {
	return &Cuckoo{v: key}
}

// Edge is one of a proof's 42 edges, identified by its two graph endpoints.
type Edge struct {
	U uint64
	V uint64
}

// node computes the nonce's U (uorv=0) or V (uorv=1) endpoint. The low bit
// of the returned node id carries uorv so the two partitions never collide.
func (c *Cuckoo) node(nonce uint64, uorv uint64, nodeMask uint64) uint64 {
	return ((siphash24(c.v, 2*nonce+uorv) & nodeMask) << 1) | uorv
}

// Verify checks that nonces form a single Cuckatoo cycle passing through
// every nonce's edge; the cycle length is len(nonces), so checking for
// exactly 42 nonces is left to the caller (consensus.Proof.Validate). edgeBits
// selects the graph size; if the context was built with NewCuckatoo, it may
// be omitted to use the size passed there.
func (c *Cuckoo) Verify(nonces []uint32, edgeBits ...uint8) bool {
	bits := c.edgeBits
	if len(edgeBits) > 0 {
		bits = edgeBits[0]
	}
	if bits == 0 {
		return false
	}

	proofSize := len(nonces)
	if proofSize == 0 {
		return false
	}

	numNodes := uint64(1) << bits
	nodeMask := numNodes - 1

	edges := make([]*Edge, proofSize)
	for i, nonce := range nonces {
		if uint64(nonce) >= numNodes || (i != 0 && nonces[i] <= nonces[i-1]) {
			return false
		}
		edges[i] = &Edge{
			U: c.node(uint64(nonce), 0, nodeMask),
			V: c.node(uint64(nonce), 1, nodeMask),
		}
	}

	return findCycleLength(edges) == proofSize
}

// findCycleLength walks the alternating U/V matches of edges and returns the
// length of the cycle found starting from edges[0], or 0 if the edges don't
// close into a single cycle covering every edge.
func findCycleLength(edges []*Edge) int {
	n := len(edges)
	usedU := make([]bool, n)
	usedV := make([]bool, n)

	i := 0
	flag := 0
	cycle := 0

	for {
		found := false

		if flag%2 == 0 {
			for j := 0; j < n; j++ {
				if j != i && !usedU[j] && edges[i].U == edges[j].U {
					usedU[i] = true
					usedU[j] = true
					i = j
					flag ^= 1
					cycle++
					found = true
					break
				}
			}
		} else {
			for j := 0; j < n; j++ {
				if j != i && !usedV[j] && edges[i].V == edges[j].V {
					usedV[i] = true
					usedV[j] = true
					i = j
					flag ^= 1
					cycle++
					found = true
					break
				}
			}
		}

		if !found {
			break
		}
	}

	if cycle == n {
		return n
	}
	return 0
}
