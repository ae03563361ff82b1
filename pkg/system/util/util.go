package util

import "math/bits"

// DeltaU64 returns now-prev for a monotonic counter.
func DeltaU64(now, prev uint64) uint64 {
	if now >= prev {
		return now - prev
	}
	// counter reset or overflow
	return 0
}

// SubFloor returns a-b, or 0 when b > a.
func SubFloor(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return 0
}

// SatAdd adds without wrapping; the result sticks at the uint64 maximum.
func SatAdd(a, b uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return s
}

// SatMul multiplies without wrapping.
func SatMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}

// Percent scales v by pct/100 with a 128-bit intermediate, so the product
// never wraps before the division.
func Percent(v, pct uint64) uint64 {
	hi, lo := bits.Mul64(v, pct)
	if hi >= 100 {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, 100)
	return q
}

// Max returns the larger of a and b.
func Max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
