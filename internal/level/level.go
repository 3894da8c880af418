// Package level measures the loudness of interleaved int16 PCM blocks.
//
// It feeds the bridge's block statistics so the denoiser's effect can be
// watched from the metrics log and the status API: the output level of a
// noisy input should sit below its input level.
package level

import "math"

// Floor is the level reported for digital silence.
const Floor = -120.0

// RMS returns the root-mean-square of block normalised to [0, 1].
func RMS(block []int16) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(block)))
}

// DBFS converts a normalised RMS value to decibels relative to full scale,
// clamped at Floor.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return Floor
	}
	db := 20 * math.Log10(rms)
	if db < Floor {
		return Floor
	}
	return db
}
