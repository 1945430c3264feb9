package forest

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func makeFriedmanish(n int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x0 := rng.Float64()
		x1 := rng.Float64()
		X.Set(i, 0, x0)
		X.Set(i, 1, x1)
		y.Set(i, 0, 3*x0+math.Sin(3*x1)+0.05*rng.NormFloat64())
	}
	return X, y
}

func TestRandomForestRegressorFitPredict(t *testing.T) {
	X, y := makeFriedmanish(600, 21)

	f := NewRandomForestRegressor(WithNumTrees(60), WithSeed(7))
	require.NoError(t, f.Fit(X, y))

	score, err := f.Score(X, y)
	require.NoError(t, err)
	assert.Greater(t, score, 0.85)

	t.Run("prediction shape", func(t *testing.T) {
		Xq, _ := makeFriedmanish(10, 99)
		pred, err := f.Predict(Xq)
		require.NoError(t, err)
		r, c := pred.Dims()
		assert.Equal(t, 10, r)
		assert.Equal(t, 1, c)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := f.Predict(mat.NewDense(2, 5, nil))
		assert.Error(t, err)
	})

	t.Run("not fitted", func(t *testing.T) {
		_, err := NewRandomForestRegressor().Predict(X)
		assert.Error(t, err)
	})
}

func TestRandomForestDeterministicSeed(t *testing.T) {
	X, y := makeFriedmanish(200, 42)
	Xq := mat.NewDense(1, 2, []float64{0.5, 0.5})

	a := NewRandomForestRegressor(WithNumTrees(20), WithSeed(11))
	require.NoError(t, a.Fit(X, y))
	b := NewRandomForestRegressor(WithNumTrees(20), WithSeed(11))
	require.NoError(t, b.Fit(X, y))

	pa, err := a.Predict(Xq)
	require.NoError(t, err)
	pb, err := b.Predict(Xq)
	require.NoError(t, err)
	assert.Equal(t, pa.At(0, 0), pb.At(0, 0))
}

func TestSimilarityWeights(t *testing.T) {
	X, y := makeFriedmanish(300, 5)

	f := NewRandomForestRegressor(WithNumTrees(30), WithHonest(true), WithSeed(3))
	require.NoError(t, f.Fit(X, y))

	w, err := f.SimilarityWeights([]float64{0.4, 0.6})
	require.NoError(t, err)
	require.Len(t, w, 300)

	// Each tree contributes weight 1 over its leaf members, except for
	// the rare honest leaf that received no estimation rows.
	var sum float64
	for _, wi := range w {
		assert.GreaterOrEqual(t, wi, 0.0)
		sum += wi
	}
	assert.Greater(t, sum, 0.5)
	assert.LessOrEqual(t, sum, 1.0+1e-9)

	t.Run("wrong feature count", func(t *testing.T) {
		_, err := f.SimilarityWeights([]float64{0.5})
		assert.Error(t, err)
	})
}

func TestHonestSplitting(t *testing.T) {
	// An honest forest still tracks the signal, just from disjoint
	// structure and estimation halves.
	X, y := makeFriedmanish(600, 8)
	f := NewRandomForestRegressor(WithNumTrees(60), WithHonest(true), WithSeed(9))
	require.NoError(t, f.Fit(X, y))

	score, err := f.Score(X, y)
	require.NoError(t, err)
	assert.Greater(t, score, 0.7)
}
