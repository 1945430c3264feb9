package tsls

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/linear"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
)

// ivDGP draws a confounded treatment with a valid instrument:
// T = Z + u, Y = 2·T + u + noise, so OLS of Y on T is biased upward while
// the instrumented estimate recovers 2.
func ivDGP(n int, seed uint64) (Y, T, Z *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	Y = mat.NewDense(n, 1, nil)
	T = mat.NewDense(n, 1, nil)
	Z = mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		z := rng.NormFloat64()
		u := rng.NormFloat64()
		tr := z + u
		Z.Set(i, 0, z)
		T.Set(i, 0, tr)
		Y.Set(i, 0, 2*tr+u+0.1*rng.NormFloat64())
	}
	return Y, T, Z
}

func TestSieveTSLSRecoversUnderConfounding(t *testing.T) {
	Y, T, Z := ivDGP(3000, 1)

	// The naive regression absorbs the confounder into the slope.
	ols := linear.NewLinearRegression()
	require.NoError(t, ols.Fit(T, Y))
	assert.Greater(t, ols.Coef[0], 2.2)

	est := NewSieveTSLS(WithTreatmentDegree(1), WithInstrumentDegree(1))
	require.NoError(t, est.Fit(Y, T, nil, nil, Z))

	eff, err := est.Effect(nil, mat.NewDense(1, 1, []float64{0}), mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, eff.At(0, 0), 0.15)

	t.Run("effect scales with the move", func(t *testing.T) {
		eff, err := est.Effect(nil, mat.NewDense(1, 1, []float64{0}), mat.NewDense(1, 1, []float64{3}))
		require.NoError(t, err)
		assert.InDelta(t, 6.0, eff.At(0, 0), 0.45)
	})

	t.Run("marginal effect matches the slope", func(t *testing.T) {
		me, err := est.MarginalEffect(mat.NewDense(1, 1, []float64{0.5}), nil)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, me.At(0, 0), 0.15)
	})
}

func TestSieveTSLSHeterogeneous(t *testing.T) {
	// τ(x) = 1 + x with a confounded treatment.
	n := 4000
	rng := rand.New(rand.NewPCG(3, 4))
	Y := mat.NewDense(n, 1, nil)
	T := mat.NewDense(n, 1, nil)
	X := mat.NewDense(n, 1, nil)
	Z := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		z := rng.NormFloat64()
		u := rng.NormFloat64()
		tr := z + 0.5*u
		X.Set(i, 0, x)
		Z.Set(i, 0, z)
		T.Set(i, 0, tr)
		Y.Set(i, 0, (1+x)*tr+x+u+0.1*rng.NormFloat64())
	}

	est := NewSieveTSLS(WithTreatmentDegree(1), WithInstrumentDegree(1))
	require.NoError(t, est.Fit(Y, T, X, nil, Z))

	T0 := mat.NewDense(1, 1, []float64{0})
	T1 := mat.NewDense(1, 1, []float64{1})

	eff, err := est.Effect(mat.NewDense(2, 1, []float64{0, 1}), T0, T1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, eff.At(0, 0), 0.2)
	assert.InDelta(t, 2.0, eff.At(1, 0), 0.2)
}

func TestSieveTSLSNonlinearTreatment(t *testing.T) {
	// Y responds quadratically to T; a degree-2 sieve should bend with it.
	n := 5000
	rng := rand.New(rand.NewPCG(5, 6))
	Y := mat.NewDense(n, 1, nil)
	T := mat.NewDense(n, 1, nil)
	Z := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		z := rng.NormFloat64()
		u := 0.3 * rng.NormFloat64()
		tr := z + u
		Z.Set(i, 0, z)
		T.Set(i, 0, tr)
		Y.Set(i, 0, tr*tr+u+0.1*rng.NormFloat64())
	}

	est := NewSieveTSLS(WithTreatmentDegree(2), WithInstrumentDegree(2))
	require.NoError(t, est.Fit(Y, T, nil, nil, Z))

	// τ(0→2) = 4 versus τ(0→1) = 1.
	small, err := est.Effect(nil, mat.NewDense(1, 1, []float64{0}), mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	big, err := est.Effect(nil, mat.NewDense(1, 1, []float64{0}), mat.NewDense(1, 1, []float64{2}))
	require.NoError(t, err)
	assert.Greater(t, big.At(0, 0), 2.5*small.At(0, 0))
}

func TestSieveTSLSValidation(t *testing.T) {
	Y, T, _ := ivDGP(50, 7)

	t.Run("instrument required", func(t *testing.T) {
		err := NewSieveTSLS().Fit(Y, T, nil, nil, nil)
		assert.Error(t, err)
	})

	t.Run("row mismatch", func(t *testing.T) {
		err := NewSieveTSLS().Fit(Y, T, nil, nil, mat.NewDense(10, 1, nil))
		assert.Error(t, err)
	})

	t.Run("not fitted", func(t *testing.T) {
		_, err := NewSieveTSLS().Effect(nil, nil, nil)
		var nf *cerrors.NotFittedError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("fitted with X requires X at query time", func(t *testing.T) {
		Y, T, Z := ivDGP(500, 8)
		rng := rand.New(rand.NewPCG(8, 9))
		X := mat.NewDense(500, 1, nil)
		for i := 0; i < 500; i++ {
			X.Set(i, 0, rng.NormFloat64())
		}
		est := NewSieveTSLS()
		require.NoError(t, est.Fit(Y, T, X, nil, Z))
		_, err := est.Effect(nil, nil, nil)
		assert.Error(t, err)
	})
}

func TestSieveTSLSRefit(t *testing.T) {
	Y, T, Z := ivDGP(800, 9)
	est := NewSieveTSLS(WithTreatmentDegree(1), WithInstrumentDegree(1))
	require.NoError(t, est.Fit(Y, T, nil, nil, Z))

	clone := est.CloneUnfitted()
	require.NoError(t, clone.FitDataset(&cate.Dataset{Y: Y, T: T, Z: Z}))

	T0 := mat.NewDense(1, 1, []float64{0})
	T1 := mat.NewDense(1, 1, []float64{1})
	a, err := est.Effect(nil, T0, T1)
	require.NoError(t, err)
	b, err := clone.(*SieveTSLS).Effect(nil, T0, T1)
	require.NoError(t, err)
	assert.InDelta(t, a.At(0, 0), b.At(0, 0), 1e-9)
}
