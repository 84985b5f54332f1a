// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"math/big"
	"sort"
)

const (
	ZeroDifficulty Difficulty = 0

	// MinimumDifficulty is the minimum mining difficulty ever allowed.
	MinimumDifficulty Difficulty = 1
)

// Difficulty is the maximum target divided by the proof hash: higher means
// harder to find.
type Difficulty uint64

// DifficultyFromProofHash computes 2^256 / hash, rounded down and saturated
// at math.MaxUint64.
func DifficultyFromProofHash(hash [32]byte) Difficulty {
	num := new(big.Int).SetBytes(hash[:])
	if num.Sign() == 0 {
		return Difficulty(^uint64(0))
	}

	maxTarget := new(big.Int).Lsh(big.NewInt(1), 256)
	diff := new(big.Int).Div(maxTarget, num)

	if !diff.IsUint64() {
		return Difficulty(^uint64(0))
	}
	return Difficulty(diff.Uint64())
}

// HeaderInfo is the slice of header state the difficulty window needs: it
// avoids coupling this package's retarget math to the full BlockHeader.
type HeaderInfo struct {
	Timestamp        int64
	Difficulty       Difficulty
	SecondaryScaling uint32
	IsSecondary      bool
}

// NextDifficulty computes the difficulty and secondary-PoW scaling factor
// the block at height should satisfy, given the window of the most recent
// headers ordered oldest-first. window should hold up to
// DifficultyAdjustWindow+MedianTimeWindow entries; fewer is tolerated during
// the early chain and falls back to MinimumDifficulty.
func NextDifficulty(height uint64, window []HeaderInfo) (Difficulty, uint32) {
	scaling := scheduledSecondaryScaling(height, window)

	if len(window) < 2*MedianTimeWindow {
		return MinimumDifficulty, scaling
	}

	n := len(window)
	begin := medianTimestamp(window[:MedianTimeWindow])
	end := medianTimestamp(window[n-MedianTimeWindow:])

	timespan := end - begin
	if timespan < LowerTimeBound {
		timespan = LowerTimeBound
	}
	if timespan > UpperTimeBound {
		timespan = UpperTimeBound
	}

	var sumDiff uint64
	for _, h := range window {
		sumDiff += uint64(h.Difficulty)
	}

	newDiff := Difficulty(sumDiff * uint64(BlockTimeSec) / uint64(timespan))
	if newDiff < MinimumDifficulty {
		return MinimumDifficulty, scaling
	}
	return newDiff, scaling
}

func medianTimestamp(window []HeaderInfo) int64 {
	ts := make([]int64, len(window))
	for i, h := range window {
		ts[i] = h.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts[len(ts)/2]
}

// scheduledSecondaryRatio returns the target fraction (in thousandths, i.e.
// 1000 == 100%) of blocks expected to carry the secondary PoW at height,
// decreasing linearly to zero over SecondaryPoWRatioFloorHeight blocks.
func scheduledSecondaryRatio(height uint64) uint64 {
	if height >= SecondaryPoWRatioFloorHeight {
		return 0
	}
	return SecondaryPoWRatioStart - SecondaryPoWRatioStart*height/SecondaryPoWRatioFloorHeight
}

// scheduledSecondaryScaling retargets the secondary PoW's scaling factor by
// the same damped-window principle as the primary difficulty, driving the
// fraction of secondary solutions observed in window toward the scheduled
// ratio for height.
func scheduledSecondaryScaling(height uint64, window []HeaderInfo) uint32 {
	target := scheduledSecondaryRatio(height)
	if target == 0 {
		return 0
	}
	if len(window) == 0 {
		return 1
	}

	var secondaryCount, sumScaling uint64
	for _, h := range window {
		if h.IsSecondary {
			secondaryCount++
		}
		sumScaling += uint64(h.SecondaryScaling)
	}

	observed := secondaryCount * 1000 / uint64(len(window))
	if observed == 0 {
		observed = 1
	}

	avgScaling := sumScaling / uint64(len(window))
	if avgScaling == 0 {
		avgScaling = 1
	}

	newScaling := avgScaling * target / observed
	if newScaling < 1 {
		newScaling = 1
	}
	if newScaling > ^uint32(0)>>1 {
		newScaling = uint64(^uint32(0) >> 1)
	}
	return uint32(newScaling)
}
