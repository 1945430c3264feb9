package inference

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/dml"
	"github.com/causalgo/causalgo/linear"
	"github.com/causalgo/causalgo/metalearners"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
)

// dgp draws a confounded continuous treatment with constant effect 2.
func dgp(n int, seed uint64) (Y, T, X *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	Y = mat.NewDense(n, 1, nil)
	T = mat.NewDense(n, 1, nil)
	X = mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		tr := 0.5*x + rng.NormFloat64()
		X.Set(i, 0, x)
		T.Set(i, 0, tr)
		Y.Set(i, 0, 2*tr+x+0.2*rng.NormFloat64())
	}
	return Y, T, X
}

func TestBootstrapInference(t *testing.T) {
	Y, T, X := dgp(600, 1)

	est := dml.NewLinearDML(dml.WithSeed(3))
	require.NoError(t, est.Fit(Y, T, X, nil,
		cate.WithInference(NewBootstrapInference(20, WithBootstrapSeed(7)))))

	t.Run("interval brackets the truth", func(t *testing.T) {
		Xq := mat.NewDense(1, 1, []float64{0})
		lo, hi, err := est.EffectInterval(Xq, nil, nil, 0.1)
		require.NoError(t, err)
		assert.Less(t, lo.At(0, 0), hi.At(0, 0))
		assert.Less(t, lo.At(0, 0), 2.0)
		assert.Greater(t, hi.At(0, 0), 2.0)
	})

	t.Run("const marginal effect interval", func(t *testing.T) {
		Xq := mat.NewDense(2, 1, []float64{-1, 1})
		lo, hi, err := est.ConstMarginalEffectInterval(Xq, 0.1)
		require.NoError(t, err)
		r, c := lo.Dims()
		assert.Equal(t, 2, r)
		assert.Equal(t, 1, c)
		for i := 0; i < 2; i++ {
			assert.Less(t, lo.At(i, 0), hi.At(i, 0))
		}
	})

	t.Run("invalid alpha falls back to the default", func(t *testing.T) {
		Xq := mat.NewDense(1, 1, []float64{0})
		lo, hi, err := est.EffectInterval(Xq, nil, nil, -1)
		require.NoError(t, err)
		assert.Less(t, lo.At(0, 0), hi.At(0, 0))
	})
}

func TestBootstrapInferenceErrors(t *testing.T) {
	Y, T, X := dgp(100, 3)

	t.Run("too few replicas", func(t *testing.T) {
		b := NewBootstrapInference(1)
		est := dml.NewLinearDML()
		require.NoError(t, est.Fit(Y, T, X, nil))
		err := b.Fit(est, &cate.Dataset{Y: Y, T: T, X: X})
		assert.Error(t, err)
	})

	t.Run("interval before fit", func(t *testing.T) {
		b := NewBootstrapInference(10)
		_, _, err := b.EffectInterval(X, nil, nil, 0.1)
		var nf *cerrors.NotFittedError
		assert.ErrorAs(t, err, &nf)
	})
}

func TestBootstrapReplicasAreIndependentFits(t *testing.T) {
	Y, T, X := dgp(300, 5)

	b := NewBootstrapInference(5, WithBootstrapSeed(11))
	est := dml.NewLinearDML(dml.WithSeed(13))
	require.NoError(t, est.Fit(Y, T, X, nil))
	require.NoError(t, b.Fit(est, &cate.Dataset{Y: Y, T: T, X: X}))

	reps := b.Replicas()
	require.Len(t, reps, 5)
	Xq := mat.NewDense(1, 1, []float64{0})
	base, err := reps[0].Effect(Xq, nil, nil)
	require.NoError(t, err)
	varies := false
	for _, rep := range reps[1:] {
		v, err := rep.Effect(Xq, nil, nil)
		require.NoError(t, err)
		if v.At(0, 0) != base.At(0, 0) {
			varies = true
		}
	}
	assert.True(t, varies, "resampled replicas should not all coincide")
}

func TestBootstrapInferenceWithMetalearner(t *testing.T) {
	// The bootstrap is the only interval route for estimators without a
	// linear final stage.
	n := 500
	rng := rand.New(rand.NewPCG(15, 16))
	Y := mat.NewDense(n, 1, nil)
	T := mat.NewDense(n, 1, nil)
	X := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		tr := float64(i % 2)
		X.Set(i, 0, x)
		T.Set(i, 0, tr)
		Y.Set(i, 0, x+2*tr+0.2*rng.NormFloat64())
	}

	factory := func() model.Regressor { return linear.NewLinearRegression() }
	est := metalearners.NewTLearner(factory)
	require.NoError(t, est.Fit(Y, T, X,
		cate.WithInference(NewBootstrapInference(15, WithBootstrapSeed(17)))))

	lo, hi, err := est.EffectInterval(mat.NewDense(1, 1, []float64{0}), nil, nil, 0.1)
	require.NoError(t, err)
	assert.Less(t, lo.At(0, 0), 2.0)
	assert.Greater(t, hi.At(0, 0), 2.0)
}

func TestLinearModelInference(t *testing.T) {
	Y, T, X := dgp(1500, 7)

	est := dml.NewLinearDML(dml.WithSeed(9))
	require.NoError(t, est.Fit(Y, T, X, nil,
		cate.WithInference(NewLinearModelInference())))

	t.Run("interval brackets the point estimate", func(t *testing.T) {
		Xq := mat.NewDense(3, 1, []float64{-1, 0, 1})
		point, err := est.Effect(Xq, nil, nil)
		require.NoError(t, err)
		lo, hi, err := est.EffectInterval(Xq, nil, nil, 0.1)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			assert.Less(t, lo.At(i, 0), point.At(i, 0))
			assert.Less(t, point.At(i, 0), hi.At(i, 0))
		}
	})

	t.Run("tighter at lower confidence", func(t *testing.T) {
		Xq := mat.NewDense(1, 1, []float64{0})
		lo90, hi90, err := est.EffectInterval(Xq, nil, nil, 0.1)
		require.NoError(t, err)
		lo50, hi50, err := est.EffectInterval(Xq, nil, nil, 0.5)
		require.NoError(t, err)
		assert.Greater(t, lo50.At(0, 0), lo90.At(0, 0))
		assert.Less(t, hi50.At(0, 0), hi90.At(0, 0))
	})

	t.Run("const marginal effect interval brackets theta", func(t *testing.T) {
		Xq := mat.NewDense(1, 1, []float64{0})
		theta, err := est.ConstMarginalEffect(Xq)
		require.NoError(t, err)
		lo, hi, err := est.ConstMarginalEffectInterval(Xq, 0.1)
		require.NoError(t, err)
		assert.Less(t, lo.At(0, 0), theta.At(0, 0))
		assert.Greater(t, hi.At(0, 0), theta.At(0, 0))
	})

	t.Run("rejects estimators without a linear final stage", func(t *testing.T) {
		inf := NewLinearModelInference()
		factory := func() model.Regressor { return linear.NewLinearRegression() }
		err := inf.Fit(metalearners.NewTLearner(factory), nil)
		assert.Error(t, err)
	})
}

func TestInferenceCloneIsUnfitted(t *testing.T) {
	Y, T, X := dgp(400, 21)

	t.Run("bootstrap", func(t *testing.T) {
		b := NewBootstrapInference(5)
		est := dml.NewLinearDML()
		require.NoError(t, est.Fit(Y, T, X, nil))
		require.NoError(t, b.Fit(est, &cate.Dataset{Y: Y, T: T, X: X}))

		clone := b.Clone().(*BootstrapInference)
		assert.Equal(t, b.Samples, clone.Samples)
		assert.Nil(t, clone.Replicas())
	})

	t.Run("linear", func(t *testing.T) {
		l := NewLinearModelInference()
		est := dml.NewLinearDML()
		require.NoError(t, est.Fit(Y, T, X, nil))
		require.NoError(t, l.Fit(est, nil))

		clone := l.Clone().(*LinearModelInference)
		_, _, err := clone.EffectInterval(X, nil, nil, 0.1)
		var nf *cerrors.NotFittedError
		assert.ErrorAs(t, err, &nf)
	})
}
