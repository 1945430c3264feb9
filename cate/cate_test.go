package cate

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	cerrors "github.com/causalgo/causalgo/pkg/errors"
)

// emptyMatrix reports zero rows, which mat.NewDense cannot represent.
type emptyMatrix struct{}

func (emptyMatrix) Dims() (r, c int)    { return 0, 1 }
func (emptyMatrix) At(i, j int) float64 { return 0 }
func (m emptyMatrix) T() mat.Matrix     { return mat.Transpose{Matrix: m} }

func discreteBase(t *testing.T, labels ...float64) *BaseCATE {
	t.Helper()
	b := &BaseCATE{Name: "TestEstimator"}
	T := mat.NewDense(len(labels), 1, labels)
	require.NoError(t, b.SetupTreatment(T, true))
	return b
}

func TestSetupTreatment(t *testing.T) {
	t.Run("continuous keeps width", func(t *testing.T) {
		b := &BaseCATE{Name: "TestEstimator"}
		require.NoError(t, b.SetupTreatment(mat.NewDense(5, 2, nil), false))
		assert.False(t, b.Discrete())
		assert.Equal(t, 2, b.TreatmentWidth())
		assert.Nil(t, b.Categories())
	})

	t.Run("discrete drops the control category", func(t *testing.T) {
		b := discreteBase(t, 1, 2, 3, 1, 2, 3)
		assert.True(t, b.Discrete())
		assert.Equal(t, 2, b.TreatmentWidth())
		assert.Equal(t, []float64{1, 2, 3}, b.Categories())
	})

	t.Run("discrete rejects multi-column treatments", func(t *testing.T) {
		b := &BaseCATE{Name: "TestEstimator"}
		err := b.SetupTreatment(mat.NewDense(4, 2, nil), true)
		assert.Error(t, err)
	})

	t.Run("empty data", func(t *testing.T) {
		b := &BaseCATE{Name: "TestEstimator"}
		err := b.SetupTreatment(emptyMatrix{}, false)
		assert.ErrorIs(t, err, cerrors.ErrEmptyData)
	})
}

func TestEncodeTreatment(t *testing.T) {
	b := discreteBase(t, 0, 1, 2, 0, 1, 2)

	t.Run("labels to one-hot", func(t *testing.T) {
		enc, err := b.EncodeTreatment(mat.NewDense(3, 1, []float64{0, 1, 2}), 3, "op")
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0}, []float64{enc.At(0, 0), enc.At(0, 1)})
		assert.Equal(t, []float64{1, 0}, []float64{enc.At(1, 0), enc.At(1, 1)})
		assert.Equal(t, []float64{0, 1}, []float64{enc.At(2, 0), enc.At(2, 1)})
	})

	t.Run("single label broadcasts", func(t *testing.T) {
		enc, err := b.EncodeTreatment(mat.NewDense(1, 1, []float64{1}), 4, "op")
		require.NoError(t, err)
		r, _ := enc.Dims()
		assert.Equal(t, 4, r)
		for i := 0; i < 4; i++ {
			assert.Equal(t, 1.0, enc.At(i, 0))
		}
	})

	t.Run("already encoded input warns", func(t *testing.T) {
		var captured error
		cerrors.SetWarningHandler(func(w error) { captured = w })
		defer cerrors.SetWarningHandler(nil)

		enc, err := b.EncodeTreatment(mat.NewDense(1, 2, []float64{0, 1}), 2, "op")
		require.NoError(t, err)
		assert.Equal(t, 1.0, enc.At(0, 1))

		var tw *cerrors.TreatmentExpansionWarning
		require.ErrorAs(t, captured, &tw)
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := b.EncodeTreatment(mat.NewDense(1, 1, []float64{9}), 1, "op")
		assert.Error(t, err)
	})

	t.Run("continuous width mismatch", func(t *testing.T) {
		c := &BaseCATE{Name: "TestEstimator"}
		require.NoError(t, c.SetupTreatment(mat.NewDense(3, 2, nil), false))
		_, err := c.EncodeTreatment(mat.NewDense(1, 3, nil), 1, "op")
		assert.Error(t, err)
	})
}

func TestTreatmentDelta(t *testing.T) {
	t.Run("continuous defaults to a unit move", func(t *testing.T) {
		b := &BaseCATE{Name: "TestEstimator"}
		require.NoError(t, b.SetupTreatment(mat.NewDense(3, 1, nil), false))
		delta, err := b.TreatmentDelta(nil, nil, 3, "op")
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			assert.Equal(t, 1.0, delta.At(i, 0))
		}
	})

	t.Run("discrete defaults to first versus second category", func(t *testing.T) {
		b := discreteBase(t, 5, 7, 5, 7)
		delta, err := b.TreatmentDelta(nil, nil, 2, "op")
		require.NoError(t, err)
		// one-hot(7) − one-hot(5) over a single encoded column
		assert.Equal(t, 1.0, delta.At(0, 0))
	})

	t.Run("explicit pair", func(t *testing.T) {
		b := discreteBase(t, 1, 2, 3, 1, 2, 3)
		T0 := mat.NewDense(1, 1, []float64{3})
		T1 := mat.NewDense(1, 1, []float64{2})
		delta, err := b.TreatmentDelta(T0, T1, 1, "op")
		require.NoError(t, err)
		assert.Equal(t, 1.0, delta.At(0, 0))
		assert.Equal(t, -1.0, delta.At(0, 1))
	})

	t.Run("single category has no default target", func(t *testing.T) {
		b := discreteBase(t, 4, 4, 4)
		_, err := b.TreatmentDelta(nil, nil, 1, "op")
		assert.Error(t, err)
	})
}

func TestRequireInference(t *testing.T) {
	b := &BaseCATE{Name: "TestEstimator"}

	t.Run("not fitted", func(t *testing.T) {
		_, _, err := b.EffectInterval(nil, nil, nil, DefaultAlpha)
		var nf *cerrors.NotFittedError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("fitted without inference", func(t *testing.T) {
		b.SetFitted()
		_, _, err := b.ConstMarginalEffectInterval(nil, DefaultAlpha)
		var mi *cerrors.InferenceMissingError
		assert.ErrorAs(t, err, &mi)
	})
}

func TestDatasetResample(t *testing.T) {
	n := 20
	Y := mat.NewDense(n, 1, nil)
	T := mat.NewDense(n, 1, nil)
	X := mat.NewDense(n, 2, nil)
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		Y.Set(i, 0, float64(i))
		T.Set(i, 0, float64(i))
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(-i))
		w[i] = float64(i)
	}
	ds := &Dataset{Y: Y, T: T, X: X, SampleWeight: w}
	assert.Equal(t, n, ds.Rows())

	rng := rand.New(rand.NewPCG(1, 1))
	rs := ds.Resample(rng)
	require.Equal(t, n, rs.Rows())
	assert.Nil(t, rs.W)
	assert.Nil(t, rs.Z)

	// Rows stay aligned across arrays after the gather.
	for i := 0; i < n; i++ {
		row := rs.Y.At(i, 0)
		assert.Equal(t, row, rs.T.At(i, 0))
		assert.Equal(t, row, rs.X.At(i, 0))
		assert.Equal(t, -row, rs.X.At(i, 1))
		assert.Equal(t, row, rs.SampleWeight[i])
	}
}

func TestNewFitOptions(t *testing.T) {
	w := []float64{1, 2, 3}
	o := NewFitOptions(WithSampleWeight(w))
	assert.Equal(t, w, o.SampleWeight)
	assert.Nil(t, o.Inference)
}
