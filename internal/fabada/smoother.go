// Package fabada implements FABADA (Fully Adaptive Bayesian Algorithm for
// Data Analysis) denoising for blocks of interleaved stereo PCM.
//
// Each channel is smoothed independently. The Smoother repeatedly builds a
// prior from the neighbourhood average of the current posterior, fuses it
// with the noisy observation, and accumulates every iterate into an ensemble
// weighted by its evidence and goodness of fit. The ensemble mean is the
// denoised estimate.
//
// Based on P.M. Sanchez-Alarcon, Y. Ascasibar, 2022, "Fully Adaptive
// Bayesian Algorithm for Data Analysis. FABADA".
package fabada

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultMaxIterations bounds the smoothing loop. A run stops on the
// iteration after the cap is passed, so at most DefaultMaxIterations+1
// iterations are performed.
const DefaultMaxIterations = 128

// Iteration is a read-only view of the smoother state after one iteration.
// The slices alias internal buffers and are only valid during the Observe
// callback.
type Iteration struct {
	Number            int
	Chi2              float64
	Chi2PDF           float64
	EvidenceMean      float64
	PosteriorMean     []float64
	PosteriorVariance []float64
	BayesianWeight    []float64
}

// Options configures a Smoother.
type Options struct {
	// MaxIterations caps the loop; <= 0 selects DefaultMaxIterations.
	MaxIterations int
	// Observe, if set, is called after every iteration.
	Observe func(Iteration)
}

// Result summarises one smoothing run.
type Result struct {
	// Iterations is the number of iterations performed.
	Iterations int
	// Capped reports whether the run stopped on the iteration cap rather
	// than the convergence test.
	Capped bool
	// Repaired counts samples replaced by the raw observation because their
	// variance or ensemble weight was degenerate.
	Repaired int
}

// Err returns an error wrapping ErrDegenerateVariance when samples had to be
// repaired, nil otherwise.
func (r Result) Err() error {
	if r.Repaired == 0 {
		return nil
	}
	return fmt.Errorf("%d samples fell back to the observation: %w", r.Repaired, ErrDegenerateVariance)
}

// ConvergenceTrackers is the scalar state carried from one iteration to the
// next. It starts fresh for every run.
type ConvergenceTrackers struct {
	Chi2PDF           float64
	Chi2PDFDerivative float64
	EvidenceMean      float64
	Iteration         int
	Chi2Min           float64
}

// advance folds one iteration's statistics into t and reports whether the
// run has converged over n samples.
func (t ConvergenceTrackers) advance(chi2, chi2PDF, evidenceMean float64, n, maxIter int) (ConvergenceTrackers, bool) {
	derivative := chi2PDF - t.Chi2PDF
	second := derivative - t.Chi2PDFDerivative
	evidenceDerivative := evidenceMean - t.EvidenceMean

	next := ConvergenceTrackers{
		Chi2PDF:           chi2PDF,
		Chi2PDFDerivative: derivative,
		EvidenceMean:      evidenceMean,
		Iteration:         t.Iteration + 1,
		Chi2Min:           t.Chi2Min,
	}
	if next.Iteration == 1 {
		next.Chi2Min = chi2
	}

	converged := chi2 > float64(n) && second >= 0 && evidenceDerivative < 0
	return next, converged || next.Iteration > maxIter
}

// Smoother runs the FABADA iteration on one channel at a time. Scratch
// buffers are reused between runs, so a Smoother is not safe for concurrent
// use.
type Smoother struct {
	maxIter int
	observe func(Iteration)

	dataVar         []float64
	degenerate      []bool
	initialEvidence []float64
	evidence        []float64
	priorMean       []float64
	postMean        []float64
	postVar         []float64
	weight          []float64
	model           []float64
}

// NewSmoother returns a Smoother configured by opts.
func NewSmoother(opts Options) *Smoother {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Smoother{maxIter: opts.MaxIterations, observe: opts.Observe}
}

// Smooth returns the denoised estimate of data given its per-sample noise
// variance.
func (s *Smoother) Smooth(data, variance []float64) ([]float64, Result, error) {
	dst := make([]float64, len(data))
	res, err := s.SmoothInto(dst, data, variance)
	if err != nil {
		return nil, Result{}, err
	}
	return dst, res, nil
}

// SmoothInto writes the denoised estimate of data into dst. All three slices
// must have the same length of at least two samples.
func (s *Smoother) SmoothInto(dst, data, variance []float64) (Result, error) {
	n := len(data)
	if n < 2 || len(variance) != n || len(dst) != n {
		return Result{}, fmt.Errorf("smooth %d samples with %d variances into %d: %w",
			n, len(variance), len(dst), ErrShapeMismatch)
	}
	s.grow(n)

	if s.repairVariance(variance) == n {
		copy(dst, data)
		return Result{Repaired: n}, nil
	}

	dataVar := s.dataVar
	for i, v := range dataVar {
		s.initialEvidence[i] = gaussian(math.Sqrt(v), v)
	}
	copy(s.evidence, s.initialEvidence)
	copy(s.postMean, data)
	copy(s.postVar, dataVar)
	clear(s.weight)
	clear(s.model)

	chi2Dist := distuv.ChiSquared{K: float64(n)}
	tr := ConvergenceTrackers{
		EvidenceMean: stat.Mean(s.initialEvidence, nil),
		Chi2Min:      float64(n),
	}

	for {
		neighbourMean(s.priorMean, s.postMean)

		var chi2 float64
		for i, x := range data {
			priorVar := s.postVar[i]
			dv := dataVar[i]

			s.postVar[i] = 1 / (1/priorVar + 1/dv)
			s.postMean[i] = (s.priorMean[i]/priorVar + x/dv) * s.postVar[i]
			s.evidence[i] = gaussian(s.priorMean[i]-x, priorVar+dv)

			r := x - s.postMean[i]
			chi2 += r * r / dv
		}
		evidenceMean := stat.Mean(s.evidence, nil)
		chi2PDF := chiSquareDensity(chi2Dist, chi2)

		for i, e := range s.evidence {
			w := e * chi2
			s.weight[i] += w
			s.model[i] += w * s.postMean[i]
		}

		var converged bool
		tr, converged = tr.advance(chi2, chi2PDF, evidenceMean, n, s.maxIter)

		if s.observe != nil {
			s.observe(Iteration{
				Number:            tr.Iteration,
				Chi2:              chi2,
				Chi2PDF:           chi2PDF,
				EvidenceMean:      evidenceMean,
				PosteriorMean:     s.postMean,
				PosteriorVariance: s.postVar,
				BayesianWeight:    s.weight,
			})
		}
		if converged {
			break
		}
	}

	res := Result{Iterations: tr.Iteration, Capped: tr.Iteration > s.maxIter}

	// Fold in iteration zero, the raw data weighted by the best fit seen.
	for i, x := range data {
		w := s.initialEvidence[i] * tr.Chi2Min
		weight := s.weight[i] + w
		est := (s.model[i] + w*x) / weight

		if s.degenerate[i] || weight == 0 || math.IsNaN(est) || math.IsInf(est, 0) {
			est = x
			res.Repaired++
		}
		dst[i] = est
	}
	return res, nil
}

// repairVariance copies variance into the scratch buffer, replacing zero and
// non-finite entries with the smallest positive finite variance (1 if there
// is none). It returns the number of entries replaced.
func (s *Smoother) repairVariance(variance []float64) int {
	floor := math.Inf(1)
	for _, v := range variance {
		if v > 0 && !math.IsInf(v, 1) && v < floor {
			floor = v
		}
	}
	if math.IsInf(floor, 1) {
		floor = 1
	}

	bad := 0
	for i, v := range variance {
		ok := v > 0 && !math.IsInf(v, 1)
		s.degenerate[i] = !ok
		if !ok {
			v = floor
			bad++
		}
		s.dataVar[i] = v
	}
	return bad
}

func (s *Smoother) grow(n int) {
	if cap(s.dataVar) >= n {
		s.dataVar = s.dataVar[:n]
		s.degenerate = s.degenerate[:n]
		s.initialEvidence = s.initialEvidence[:n]
		s.evidence = s.evidence[:n]
		s.priorMean = s.priorMean[:n]
		s.postMean = s.postMean[:n]
		s.postVar = s.postVar[:n]
		s.weight = s.weight[:n]
		s.model = s.model[:n]
		return
	}
	s.dataVar = make([]float64, n)
	s.degenerate = make([]bool, n)
	s.initialEvidence = make([]float64, n)
	s.evidence = make([]float64, n)
	s.priorMean = make([]float64, n)
	s.postMean = make([]float64, n)
	s.postVar = make([]float64, n)
	s.weight = make([]float64, n)
	s.model = make([]float64, n)
}

// neighbourMean sets dst[i] to the mean of src[i] and its neighbours. The
// endpoints have a single neighbour.
func neighbourMean(dst, src []float64) {
	n := len(src)
	dst[0] = (src[0] + src[1]) / 2
	dst[n-1] = (src[n-1] + src[n-2]) / 2
	for i := 1; i < n-1; i++ {
		dst[i] = (src[i-1] + src[i] + src[i+1]) / 3
	}
}

// gaussian is the normal density of a residual d under variance v.
func gaussian(d, v float64) float64 {
	return math.Exp(-d*d/(2*v)) / math.Sqrt(2*math.Pi*v)
}

// chiSquareDensity evaluates the chi-square pdf, mapping the undefined
// 0*log(0) case at two degrees of freedom to zero.
func chiSquareDensity(dist distuv.ChiSquared, x float64) float64 {
	p := dist.Prob(x)
	if math.IsNaN(p) {
		return 0
	}
	return p
}
