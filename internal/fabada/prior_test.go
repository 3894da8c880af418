package fabada

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadKeepsInterior(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{2, 3, 17, 1024} {
		ch := make([]float64, n)
		for i := range ch {
			ch[i] = rng.NormFloat64() * 1000
		}
		padded, err := Pad(ch)
		require.NoError(t, err)
		require.Len(t, padded, n+2)
		assert.Equal(t, ch, padded[1:n+1])
		assert.InDelta(t, (ch[0]+ch[1])/2, padded[0], 1e-9)
		assert.InDelta(t, (ch[n-1]+ch[n-2])/2, padded[n+1], 1e-9)
	}
}

func TestPadTooShort(t *testing.T) {
	_, err := Pad([]float64{1})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestEstimateVarianceReferenceWeighting(t *testing.T) {
	padded, err := Pad([]float64{1, 2, 3, 4})
	require.NoError(t, err)

	got, err := EstimateVariance(padded, 4, WeightingReference)
	require.NoError(t, err)

	// Triplets 19/6, 4, 19/3, 49/6 give residuals 27/12, 17/12, 11/12,
	// 33/12 whose population variance is 73/144.
	scale := 73.0 / 144.0
	want := []float64{27.0 / 12 * scale, 17.0 / 12 * scale, 11.0 / 12 * scale, 33.0 / 12 * scale}
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestEstimateVarianceMeanWeighting(t *testing.T) {
	padded, err := Pad([]float64{1, 2, 3, 4})
	require.NoError(t, err)

	got, err := EstimateVariance(padded, 4, WeightingMean)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.0625, 0.03125, 0.03125, 0.0625}, got, 1e-12)
}

func TestEstimateVarianceFlatChannelIsZero(t *testing.T) {
	padded, err := Pad([]float64{500, 500, 500, 500, 500})
	require.NoError(t, err)

	got, err := EstimateVariance(padded, 5, WeightingReference)
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 5), got)
}

func TestEstimateVarianceNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ch := make([]float64, 4096)
	for i := range ch {
		ch[i] = rng.NormFloat64() * 3000
	}
	padded, err := Pad(ch)
	require.NoError(t, err)

	got, err := EstimateVariance(padded, len(ch), WeightingReference)
	require.NoError(t, err)
	require.Len(t, got, len(ch))
	for i, v := range got {
		require.GreaterOrEqual(t, v, 0.0, "variance[%d]", i)
	}
}

func TestEstimateVarianceShapeMismatch(t *testing.T) {
	_, err := EstimateVariance(make([]float64, 5), 4, WeightingReference)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestTripletWeightingString(t *testing.T) {
	assert.Equal(t, "reference", WeightingReference.String())
	assert.Equal(t, "mean", WeightingMean.String())
	assert.Equal(t, "TripletWeighting(9)", TripletWeighting(9).String())
}
