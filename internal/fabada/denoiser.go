package fabada

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures a Denoiser.
type Config struct {
	MaxIterations int
	Weighting     TripletWeighting
}

// ChannelStats describes how one channel of a block was smoothed.
type ChannelStats struct {
	Iterations int
	Capped     bool
	Repaired   int
}

// BlockStats describes one processed block.
type BlockStats struct {
	Left    ChannelStats
	Right   ChannelStats
	Elapsed time.Duration
}

// Repaired returns the number of repaired samples across both channels.
func (s BlockStats) Repaired() int {
	return s.Left.Repaired + s.Right.Repaired
}

// Denoiser runs the full per-block pipeline: split, pad, estimate noise,
// smooth each channel, merge. Not safe for concurrent use.
type Denoiser struct {
	weighting TripletWeighting
	smoother  *Smoother
}

// NewDenoiser returns a Denoiser configured by cfg.
func NewDenoiser(cfg Config) *Denoiser {
	logrus.WithFields(logrus.Fields{
		"function":       "NewDenoiser",
		"max_iterations": cfg.MaxIterations,
		"weighting":      cfg.Weighting.String(),
	}).Debug("Creating denoiser")

	return &Denoiser{
		weighting: cfg.Weighting,
		smoother:  NewSmoother(Options{MaxIterations: cfg.MaxIterations}),
	}
}

// Process denoises the interleaved stereo block into out, which must have the
// same length. Shape errors wrap ErrShapeMismatch and leave out untouched.
func (d *Denoiser) Process(block, out []int16) (BlockStats, error) {
	start := time.Now()

	if len(out) != len(block) {
		return BlockStats{}, fmt.Errorf("output holds %d samples, block has %d: %w", len(out), len(block), ErrShapeMismatch)
	}
	left, right, err := Split(block)
	if err != nil {
		return BlockStats{}, err
	}

	var stats BlockStats
	if stats.Left, err = d.channel(left); err != nil {
		return BlockStats{}, fmt.Errorf("left channel: %w", err)
	}
	if stats.Right, err = d.channel(right); err != nil {
		return BlockStats{}, fmt.Errorf("right channel: %w", err)
	}
	if err := Merge(left, right, out); err != nil {
		return BlockStats{}, err
	}
	stats.Elapsed = time.Since(start)

	if stats.Repaired() > 0 {
		logrus.WithFields(logrus.Fields{
			"function":       "Denoiser.Process",
			"left_repaired":  stats.Left.Repaired,
			"right_repaired": stats.Right.Repaired,
		}).Debug("Samples fell back to the raw observation")
	}
	return stats, nil
}

// channel smooths ch in place.
func (d *Denoiser) channel(ch []float64) (ChannelStats, error) {
	padded, err := Pad(ch)
	if err != nil {
		return ChannelStats{}, err
	}
	variance, err := EstimateVariance(padded, len(ch), d.weighting)
	if err != nil {
		return ChannelStats{}, err
	}
	// padded[1:n+1] is a copy of ch, so ch can receive the estimate.
	res, err := d.smoother.SmoothInto(ch, padded[1:len(ch)+1], variance)
	if err != nil {
		return ChannelStats{}, err
	}
	return ChannelStats{Iterations: res.Iterations, Capped: res.Capped, Repaired: res.Repaired}, nil
}
