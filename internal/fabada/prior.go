package fabada

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TripletWeighting selects how the three-point local average used by the
// noise model is formed.
type TripletWeighting int

const (
	// WeightingReference sums the first two points and adds a third of the
	// last one. This reproduces the behaviour the denoiser was tuned against.
	WeightingReference TripletWeighting = iota
	// WeightingMean is the arithmetic mean of the three points.
	WeightingMean
)

// String implements fmt.Stringer.
func (w TripletWeighting) String() string {
	switch w {
	case WeightingReference:
		return "reference"
	case WeightingMean:
		return "mean"
	default:
		return fmt.Sprintf("TripletWeighting(%d)", int(w))
	}
}

// Pad returns channel with one synthetic sample on each side, each the
// average of the two real samples nearest that edge. The interior of the
// result equals channel exactly.
func Pad(channel []float64) ([]float64, error) {
	n := len(channel)
	if n < 2 {
		return nil, fmt.Errorf("pad channel of %d samples: %w", n, ErrShapeMismatch)
	}
	padded := make([]float64, n+2)
	padded[0] = channel[0]/2 + channel[1]/2
	copy(padded[1:], channel)
	padded[n+1] = channel[n-1]/2 + channel[n-2]/2
	return padded, nil
}

// EstimateVariance derives the per-sample noise variance of an n-sample
// channel from its padded form. Noise is assumed to scale with how far each
// local triplet average strays from the channel-wide mean.
//
// All returned values are >= 0. Zeros are possible (a perfectly flat block
// yields nothing but zeros) and are repaired by the Smoother.
func EstimateVariance(padded []float64, n int, weighting TripletWeighting) ([]float64, error) {
	if n < 1 || len(padded) != n+2 {
		return nil, fmt.Errorf("estimate variance of %d samples from %d padded: %w", n, len(padded), ErrShapeMismatch)
	}

	residual := make([]float64, n)
	for i := range residual {
		a, b, c := padded[i], padded[i+1], padded[i+2]
		if weighting == WeightingMean {
			residual[i] = (a + b + c) / 3
		} else {
			residual[i] = a + b + c/3
		}
	}

	mean := stat.Mean(residual, nil)
	for i, v := range residual {
		residual[i] = math.Abs(v - mean)
	}

	floats.Scale(stat.PopVariance(residual, nil), residual)
	return residual, nil
}
