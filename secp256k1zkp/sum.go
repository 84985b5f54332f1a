package secp256k1zkp

import (
	"math/big"

	. "github.com/yoss22/bulletproofs"
)

// ValueCommitment returns the pure value commitment v*H (zero blinding
// factor), used to represent a fee or emission amount in a sum-to-zero
// check.
func ValueCommitment(v uint64) *Point {
	return ScalarMulPoint(&H, new(big.Int).SetUint64(v))
}

// OffsetCommitment returns offset*G, the kernel offset's contribution to a
// transaction or block's sum-to-zero equation.
func OffsetCommitment(offset *big.Int) *Point {
	return ScalarMulPoint(&G, offset)
}

// PointsEqual reports whether a and b are the same curve point.
func PointsEqual(a, b *Point) bool {
	return a.X.Cmp(b.X) == 0 && a.Y.Cmp(b.Y) == 0
}

// VerifyKernelSum checks sum(positive) == sum(negative) + offset*G, the
// rearranged form of sum(outputs) - sum(inputs) - fee*H - sum(excesses) -
// offset*G == 0 that avoids ever constructing the point at infinity.
func VerifyKernelSum(positive, negative []*Point, offset *big.Int) bool {
	lhs := SumCommitments(positive...)
	rhs := SumCommitments(append(negative, OffsetCommitment(offset))...)
	return PointsEqual(lhs, rhs)
}
