package main

import (
	"time"

	"github.com/grincore/node/consensus"
)

// genesisBlock is the hardcoded block every node in this network starts
// from, in the same spirit as the teacher's own chain.Testnet1/2/3/4
// vars: the roots are the empty-tree zero hash (no coinbase output is
// pre-mined into genesis here) and the proof is a placeholder 42-length
// cycle, since internal/chain.New never validates the genesis header's
// own PoW — only blocks built on top of it are.
var genesisBlock = consensus.Block{
	Header: consensus.BlockHeader{
		Version:        1,
		Height:         0,
		Previous:       zeroHash32(),
		PreviousRoot:   zeroHash32(),
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		OutputRoot:     zeroHash32(),
		RangeProofRoot: zeroHash32(),
		KernelRoot:     zeroHash32(),
		POW: consensus.PoWInfo{
			TotalDifficulty:  consensus.Difficulty(1),
			SecondaryScaling: 1,
			Proof:            consensus.NewProof(consensus.DefaultMinEdgeBits, make([]uint32, consensus.ProofSize)),
		},
	},
}

func zeroHash32() consensus.Hash {
	return make(consensus.Hash, consensus.BlockHashSize)
}
