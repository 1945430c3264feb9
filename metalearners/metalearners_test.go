package metalearners

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/linear"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
)

func olsFactory() model.Regressor { return linear.NewLinearRegression() }

// binaryDGP draws a randomized binary treatment with τ(x) = 1 + x and a
// linear baseline.
func binaryDGP(n int, seed uint64) (Y, T, X *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	Y = mat.NewDense(n, 1, nil)
	T = mat.NewDense(n, 1, nil)
	X = mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		tr := 0.0
		if rng.Float64() < 0.5 {
			tr = 1
		}
		tau := 1 + x
		X.Set(i, 0, x)
		T.Set(i, 0, tr)
		Y.Set(i, 0, 2*x+tau*tr+0.1*rng.NormFloat64())
	}
	return Y, T, X
}

func TestTLearner(t *testing.T) {
	Y, T, X := binaryDGP(1000, 1)

	est := NewTLearner(olsFactory)
	require.NoError(t, est.Fit(Y, T, X))
	assert.Equal(t, []float64{0, 1}, est.Categories())

	t.Run("recovers heterogeneous effect", func(t *testing.T) {
		Xq := mat.NewDense(2, 1, []float64{0, 1})
		theta, err := est.ConstMarginalEffect(Xq)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, theta.At(0, 0), 0.15)
		assert.InDelta(t, 2.0, theta.At(1, 0), 0.15)
	})

	t.Run("effect honors explicit pair order", func(t *testing.T) {
		Xq := mat.NewDense(1, 1, []float64{0})
		eff, err := est.Effect(Xq, mat.NewDense(1, 1, []float64{1}), mat.NewDense(1, 1, []float64{0}))
		require.NoError(t, err)
		assert.InDelta(t, -1.0, eff.At(0, 0), 0.15)
	})

	t.Run("not fitted", func(t *testing.T) {
		_, err := NewTLearner(olsFactory).Effect(X, nil, nil)
		var nf *cerrors.NotFittedError
		assert.ErrorAs(t, err, &nf)
	})
}

func TestTLearnerMultiCategory(t *testing.T) {
	// Categories 1, 2, 3 with effects 0, 2, 1 relative to the control.
	n := 900
	rng := rand.New(rand.NewPCG(3, 4))
	Y := mat.NewDense(n, 1, nil)
	T := mat.NewDense(n, 1, nil)
	X := mat.NewDense(n, 1, nil)
	effects := map[float64]float64{1: 0, 2: 2, 3: 1}
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		cat := float64(1 + i%3)
		X.Set(i, 0, x)
		T.Set(i, 0, cat)
		Y.Set(i, 0, effects[cat]+x+0.1*rng.NormFloat64())
	}

	est := NewTLearner(olsFactory)
	require.NoError(t, est.Fit(Y, T, X))

	theta, err := est.ConstMarginalEffect(mat.NewDense(1, 1, []float64{0}))
	require.NoError(t, err)
	_, c := theta.Dims()
	require.Equal(t, 2, c)
	assert.InDelta(t, 2.0, theta.At(0, 0), 0.1)
	assert.InDelta(t, 1.0, theta.At(0, 1), 0.1)
}

func TestSLearner(t *testing.T) {
	Y, T, X := binaryDGP(1000, 5)

	est := NewSLearner(olsFactory)
	require.NoError(t, est.Fit(Y, T, X))

	// A linear joint model averages the heterogeneity, so check the mean
	// effect rather than per-point values.
	theta, err := est.ConstMarginalEffect(mat.NewDense(1, 1, []float64{0}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, theta.At(0, 0), 0.25)

	t.Run("default effect", func(t *testing.T) {
		eff, err := est.Effect(mat.NewDense(1, 1, []float64{0}), nil, nil)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, eff.At(0, 0), 0.25)
	})
}

func TestXLearner(t *testing.T) {
	// Imbalanced assignment is the X-learner's home turf.
	n := 1200
	rng := rand.New(rand.NewPCG(7, 8))
	Y := mat.NewDense(n, 1, nil)
	T := mat.NewDense(n, 1, nil)
	X := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		tr := 0.0
		if rng.Float64() < 0.2 {
			tr = 1
		}
		X.Set(i, 0, x)
		T.Set(i, 0, tr)
		Y.Set(i, 0, x+(1+x)*tr+0.1*rng.NormFloat64())
	}

	est := NewXLearner(olsFactory)
	require.NoError(t, est.Fit(Y, T, X))

	Xq := mat.NewDense(2, 1, []float64{-1, 1})
	theta, err := est.ConstMarginalEffect(Xq)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, theta.At(0, 0), 0.2)
	assert.InDelta(t, 2.0, theta.At(1, 0), 0.2)
}

func TestDomainAdaptationLearner(t *testing.T) {
	wlsFactory := func() model.Regressor { return linear.NewWeightedOLS(true) }

	Y, T, X := binaryDGP(1200, 9)

	est := NewDomainAdaptationLearner(wlsFactory)
	require.NoError(t, est.Fit(Y, T, X))

	t.Run("recovers heterogeneous effect", func(t *testing.T) {
		Xq := mat.NewDense(2, 1, []float64{0, 1})
		theta, err := est.ConstMarginalEffect(Xq)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, theta.At(0, 0), 0.25)
		assert.InDelta(t, 2.0, theta.At(1, 0), 0.25)
	})

	t.Run("rejects outcome models without weight support", func(t *testing.T) {
		bad := NewDomainAdaptationLearner(olsFactory)
		err := bad.Fit(Y, T, X)
		assert.Error(t, err)
	})
}

func TestMetalearnerValidation(t *testing.T) {
	Y, T, X := binaryDGP(50, 11)

	t.Run("continuous treatment rejected by groups", func(t *testing.T) {
		Tc := mat.NewDense(50, 1, nil)
		rng := rand.New(rand.NewPCG(12, 13))
		for i := 0; i < 50; i++ {
			Tc.Set(i, 0, rng.NormFloat64())
		}
		// Every distinct value forms a singleton category, which leaves the
		// per-category regressions underdetermined.
		err := NewTLearner(olsFactory).Fit(Y, Tc, X)
		assert.Error(t, err)
	})

	t.Run("row mismatch", func(t *testing.T) {
		err := NewTLearner(olsFactory).Fit(Y, T, mat.NewDense(10, 1, nil))
		assert.Error(t, err)
	})

	t.Run("nil features", func(t *testing.T) {
		err := NewTLearner(olsFactory).Fit(Y, T, nil)
		assert.Error(t, err)
	})
}

func TestTLearnerRefit(t *testing.T) {
	Y, T, X := binaryDGP(600, 15)

	est := NewTLearner(olsFactory)
	require.NoError(t, est.Fit(Y, T, X))

	clone := est.CloneUnfitted()
	require.NoError(t, clone.FitDataset(&cate.Dataset{Y: Y, T: T, X: X}))

	Xq := mat.NewDense(1, 1, []float64{0.5})
	a, err := est.Effect(Xq, nil, nil)
	require.NoError(t, err)
	b, err := clone.(*TLearner).Effect(Xq, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, a.At(0, 0), b.At(0, 0), 1e-9)
}
