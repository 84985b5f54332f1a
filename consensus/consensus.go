// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import "time"

// MAXTarget is the 8-byte hash prefix block hashes must be lower than.
var MAXTarget = []byte{0xf, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

const (
	// BlockHashSize is the size of a block hash.
	BlockHashSize = 32

	GrinBase  uint64 = 1e9
	MillGrin  uint64 = GrinBase / 1000
	MicroGrin uint64 = MillGrin / 1000
	NanoGrin  uint64 = 1

	// Reward is the block subsidy amount.
	Reward uint64 = 60 * GrinBase

	// CoinbaseMaturity is the number of blocks before a coinbase matures
	// and can be spent.
	CoinbaseMaturity uint64 = 1440

	// MaxBlockCoinbaseOutputs bounds the number of coinbase outputs a valid
	// block may carry.
	MaxBlockCoinbaseOutputs int = 1

	// MaxBlockCoinbaseKernels bounds the number of coinbase kernels a valid
	// block may carry.
	MaxBlockCoinbaseKernels int = 1

	// BlockTimeSec is the block interval, in seconds, the network tunes its
	// difficulty for.
	BlockTimeSec int64 = 60

	// ProofSize is the Cuckatoo cycle proof size (cycle length).
	ProofSize int = 42

	// DefaultMinEdgeBits is the smallest primary-PoW graph size accepted.
	DefaultMinEdgeBits uint8 = 31

	// SecondPowEdgeBits is the fixed graph size of the secondary PoW.
	SecondPowEdgeBits uint8 = 29

	// CutThroughHorizon bounds how far back cross-block cut-through and
	// compaction may reach: ~48h of blocks.
	CutThroughHorizon uint64 = 48 * 3600 / uint64(BlockTimeSec)

	// Block weights, per the body weight formula: weight counts coinbase.
	BlockInputWeight  uint64 = 1
	BlockOutputWeight uint64 = 21
	BlockKernelWeight uint64 = 3

	// MaxBlockWeight is the total maximum block weight.
	MaxBlockWeight uint64 = 80000

	// MaxTxWeight is the total maximum transaction weight (unconfirmed,
	// pool-bound): a block's maximum less one output and one kernel, so a
	// maximal transaction still leaves room for the block's coinbase.
	MaxTxWeight uint64 = MaxBlockWeight - BlockOutputWeight - BlockKernelWeight

	// HardForkInterval spaces the header-version hard forks: version 1 below
	// HardForkV2Height, version 2 below twice the interval, version 3 from
	// there on; no later fork is scheduled.
	HardForkInterval uint64 = 250000
	HardForkV2Height  uint64 = HardForkInterval

	// DifficultyAdjustWindow is the number of blocks (W) used to compute
	// difficulty adjustments.
	DifficultyAdjustWindow int = 60

	// MedianTimeWindow is the window used to compute a block time median.
	MedianTimeWindow int = 11

	// DampingFactor clamps the retarget window's effective timespan into
	// [window*target/DampingFactor, window*target*DampingFactor].
	DampingFactor int64 = 3

	// BlockTimeWindow is the target time span of the difficulty window.
	BlockTimeWindow int64 = int64(DifficultyAdjustWindow) * BlockTimeSec

	// UpperTimeBound is the maximum size time window used for difficulty
	// adjustments.
	UpperTimeBound int64 = BlockTimeWindow * DampingFactor

	// LowerTimeBound is the minimum size time window used for difficulty
	// adjustments.
	LowerTimeBound int64 = BlockTimeWindow / DampingFactor

	// SecondaryPoWRatioFloorHeight is the height at which the secondary-PoW
	// scheduled ratio is pinned to zero, after decreasing linearly for
	// roughly two years of blocks.
	SecondaryPoWRatioFloorHeight uint64 = 2 * 365 * 24 * 3600 / uint64(BlockTimeSec)

	// SecondaryPoWRatioStart is the initial fraction (in tenths of a
	// percent) of blocks expected to carry the secondary PoW at genesis.
	SecondaryPoWRatioStart uint64 = 900 // 90.0%
)

var genesisTime = time.Unix(1_546_300_800, 0).UTC() // 2019-01-01, placeholder chain start
