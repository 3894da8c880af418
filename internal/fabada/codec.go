package fabada

import (
	"fmt"
	"math"
)

// MinBlockLen is the shortest interleaved stereo block that still leaves two
// samples per channel for boundary estimation.
const MinBlockLen = 4

// Split de-interleaves a stereo block into its left (even index) and right
// (odd index) channels.
func Split(block []int16) (left, right []float64, err error) {
	if len(block) < MinBlockLen || len(block)%2 != 0 {
		return nil, nil, fmt.Errorf("split block of %d samples: %w", len(block), ErrShapeMismatch)
	}
	n := len(block) / 2
	left = make([]float64, n)
	right = make([]float64, n)
	for i := 0; i < n; i++ {
		left[i] = float64(block[2*i])
		right[i] = float64(block[2*i+1])
	}
	return left, right, nil
}

// Merge interleaves left and right into dst, quantizing each value to the
// int16 range. dst must hold exactly 2*len(left) samples.
func Merge(left, right []float64, dst []int16) error {
	if len(left) != len(right) || len(dst) != 2*len(left) {
		return fmt.Errorf("merge %d+%d samples into %d: %w", len(left), len(right), len(dst), ErrShapeMismatch)
	}
	for i := range left {
		dst[2*i] = quantize(left[i])
		dst[2*i+1] = quantize(right[i])
	}
	return nil
}

// quantize rounds v to the nearest int16, saturating at the range limits.
// NaN maps to zero so a numeric fault can never reach the output as noise.
func quantize(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
