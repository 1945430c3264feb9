package orthoforest

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/forest"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
)

func constantEffectDGP(n int, seed uint64) (Y, T, X *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	Y = mat.NewDense(n, 1, nil)
	T = mat.NewDense(n, 1, nil)
	X = mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		x0 := rng.Float64()
		x1 := rng.Float64()
		tr := 0.5*x0 + rng.NormFloat64()
		X.Set(i, 0, x0)
		X.Set(i, 1, x1)
		T.Set(i, 0, tr)
		Y.Set(i, 0, 2*tr+x0+0.1*rng.NormFloat64())
	}
	return Y, T, X
}

func TestOrthoForestConstantEffect(t *testing.T) {
	Y, T, X := constantEffectDGP(600, 1)

	est := NewOrthoForest(WithSeed(3), WithForestOptions(forest.WithNumTrees(50)))
	require.NoError(t, est.Fit(Y, T, X, nil))

	Xq := mat.NewDense(3, 2, []float64{0.2, 0.2, 0.5, 0.5, 0.8, 0.8})
	theta, err := est.ConstMarginalEffect(Xq)
	require.NoError(t, err)

	r, c := theta.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1, c)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 2.0, theta.At(i, 0), 0.5)
	}
}

func TestOrthoForestHeterogeneousEffect(t *testing.T) {
	// θ(x) jumps from 1 to 3 at x0 = 0.5; the forest localization should
	// separate the two regimes.
	n := 1000
	rng := rand.New(rand.NewPCG(5, 6))
	Y := mat.NewDense(n, 1, nil)
	T := mat.NewDense(n, 1, nil)
	X := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.Float64()
		tr := rng.NormFloat64()
		theta := 1.0
		if x > 0.5 {
			theta = 3.0
		}
		X.Set(i, 0, x)
		T.Set(i, 0, tr)
		Y.Set(i, 0, theta*tr+0.1*rng.NormFloat64())
	}

	est := NewOrthoForest(WithSeed(7), WithForestOptions(forest.WithNumTrees(80)))
	require.NoError(t, est.Fit(Y, T, X, nil))

	Xq := mat.NewDense(2, 1, []float64{0.2, 0.8})
	theta, err := est.ConstMarginalEffect(Xq)
	require.NoError(t, err)
	assert.Less(t, theta.At(0, 0), theta.At(1, 0))
	assert.InDelta(t, 1.0, theta.At(0, 0), 0.7)
	assert.InDelta(t, 3.0, theta.At(1, 0), 0.7)
}

func TestOrthoForestEffect(t *testing.T) {
	Y, T, X := constantEffectDGP(500, 9)
	est := NewOrthoForest(WithSeed(11), WithForestOptions(forest.WithNumTrees(40)))
	require.NoError(t, est.Fit(Y, T, X, nil))

	Xq := mat.NewDense(1, 2, []float64{0.5, 0.5})

	t.Run("default unit move", func(t *testing.T) {
		eff, err := est.Effect(Xq, nil, nil)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, eff.At(0, 0), 0.6)
	})

	t.Run("scaled move", func(t *testing.T) {
		T0 := mat.NewDense(1, 1, []float64{0})
		T1 := mat.NewDense(1, 1, []float64{3})
		eff, err := est.Effect(Xq, T0, T1)
		require.NoError(t, err)
		assert.InDelta(t, 6.0, eff.At(0, 0), 1.8)
	})

	t.Run("marginal equals const marginal", func(t *testing.T) {
		me, err := est.MarginalEffect(mat.NewDense(1, 1, []float64{2}), Xq)
		require.NoError(t, err)
		cme, err := est.ConstMarginalEffect(Xq)
		require.NoError(t, err)
		assert.Equal(t, cme.At(0, 0), me.At(0, 0))
	})
}

func TestOrthoForestValidation(t *testing.T) {
	t.Run("requires features", func(t *testing.T) {
		Y := mat.NewDense(10, 1, nil)
		T := mat.NewDense(10, 1, nil)
		err := NewOrthoForest().Fit(Y, T, nil, nil)
		assert.Error(t, err)
	})

	t.Run("not fitted", func(t *testing.T) {
		_, err := NewOrthoForest().ConstMarginalEffect(mat.NewDense(1, 1, nil))
		var nf *cerrors.NotFittedError
		assert.ErrorAs(t, err, &nf)
	})
}

func TestOrthoForestRefit(t *testing.T) {
	Y, T, X := constantEffectDGP(300, 13)
	est := NewOrthoForest(WithSeed(15), WithForestOptions(forest.WithNumTrees(20)))
	require.NoError(t, est.Fit(Y, T, X, nil))

	clone := est.CloneUnfitted()
	require.NoError(t, clone.FitDataset(&cate.Dataset{Y: Y, T: T, X: X}))

	Xq := mat.NewDense(1, 2, []float64{0.5, 0.5})
	a, err := est.ConstMarginalEffect(Xq)
	require.NoError(t, err)
	b, err := clone.(*OrthoForest).ConstMarginalEffect(Xq)
	require.NoError(t, err)
	assert.InDelta(t, a.At(0, 0), b.At(0, 0), 1e-9)
}
