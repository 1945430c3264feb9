package errors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarningHandler(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(nil)

	Warn(NewConvergenceWarning("Lasso", 1000, "max iterations reached"))
	Warn(NewOverlapWarning("LinearDML", 0.002, 0.01, 7))

	require.Len(t, got, 2)
	var cw *ConvergenceWarning
	assert.True(t, As(got[0], &cw))
	assert.Equal(t, "Lasso", cw.Algorithm)
	var ow *OverlapWarning
	assert.True(t, As(got[1], &ow))
	assert.Equal(t, 7, ow.Samples)
}

func TestErrorTypes(t *testing.T) {
	t.Run("NotFittedError carries model and method", func(t *testing.T) {
		err := NewNotFittedError("LinearDML", "Effect")
		var nf *NotFittedError
		require.True(t, As(err, &nf))
		assert.Equal(t, "LinearDML", nf.ModelName)
		assert.Contains(t, err.Error(), "Fit()")
	})

	t.Run("InferenceMissingError points at WithInference", func(t *testing.T) {
		err := NewInferenceMissingError("TLearner", "EffectInterval")
		assert.Contains(t, err.Error(), "WithInference")
	})

	t.Run("DimensionError names the axis", func(t *testing.T) {
		err := NewDimensionError("Fit", 10, 8, 0)
		assert.Contains(t, err.Error(), "rows")
		err = NewDimensionError("Fit", 3, 2, 1)
		assert.Contains(t, err.Error(), "features")
	})

	t.Run("wrapped sentinels survive Is", func(t *testing.T) {
		err := Wrap(ErrSingularMatrix, "solving normal equations")
		assert.True(t, Is(err, ErrSingularMatrix))
	})
}

func TestNumericalHelpers(t *testing.T) {
	t.Run("SafeDivide", func(t *testing.T) {
		assert.Equal(t, 2.0, SafeDivide(4, 2))
		assert.Equal(t, 0.0, SafeDivide(4, 0))
	})

	t.Run("ClipProbability", func(t *testing.T) {
		assert.Equal(t, 1e-6, ClipProbability(0, 1e-6))
		assert.Equal(t, 1-1e-6, ClipProbability(1, 1e-6))
		assert.Equal(t, 0.5, ClipProbability(0.5, 1e-6))
	})

	t.Run("CheckScalar rejects NaN", func(t *testing.T) {
		assert.NoError(t, CheckScalar("op", 1.5, 0))
		assert.Error(t, CheckScalar("op", math.NaN(), 0))
		assert.Error(t, CheckScalar("op", math.Inf(1), 0))
	})
}

func TestRecover(t *testing.T) {
	f := func() (err error) {
		defer Recover("worker", &err)
		panic("boom")
	}
	err := f()
	require.Error(t, err)
	var pe *PanicError
	assert.True(t, As(err, &pe))
	assert.Contains(t, err.Error(), "boom")
}
