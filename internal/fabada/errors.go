package fabada

import "errors"

// Sentinel errors for block processing. Classify with errors.Is.
var (
	// ErrShapeMismatch indicates a block or channel violates its length
	// invariants: odd or too-short blocks, or sequences of unequal length.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDegenerateVariance indicates zero or non-finite variances were met
	// while smoothing. The affected samples were replaced by the raw
	// observation, so the block itself is still usable.
	ErrDegenerateVariance = errors.New("degenerate variance")
)
