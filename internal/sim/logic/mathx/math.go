package mathx

import "math"

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// RoundToMultiple rounds n to the nearest multiple of m (m > 0).
// Exact halves round away from zero: RoundToMultiple(8, 16) == 16 and
// RoundToMultiple(-8, 16) == -16.
func RoundToMultiple(n, m int) int {
	r := ((AbsInt(n) + m/2) / m) * m
	if n < 0 {
		r = -r
	}
	return r
}

// TruncInt converts a world coordinate to int by truncation toward zero.
func TruncInt(f float32) int {
	return int(f)
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Remap01 maps a noise sample from [-1,1] to [0,1].
func Remap01(n float64) float64 {
	return (n + 1) / 2
}

// Clamp11 pins v to [-1,1]. NaN maps to 0.
func Clamp11(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
