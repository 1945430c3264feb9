package preprocessing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
	})
	s := NewStandardScalerDefault()
	Xs, err := s.FitTransform(X)
	require.NoError(t, err)

	r, c := Xs.Dims()
	for j := 0; j < c; j++ {
		var mean, variance float64
		for i := 0; i < r; i++ {
			mean += Xs.At(i, j)
		}
		mean /= float64(r)
		for i := 0; i < r; i++ {
			d := Xs.At(i, j) - mean
			variance += d * d
		}
		variance /= float64(r)
		assert.InDelta(t, 0.0, mean, 1e-12)
		assert.InDelta(t, 1.0, variance, 1e-9)
	}

	back, err := s.InverseTransform(Xs)
	require.NoError(t, err)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.InDelta(t, X.At(i, j), back.At(i, j), 1e-9)
		}
	}
}

func TestOneHotEncoder(t *testing.T) {
	T := mat.NewDense(5, 1, []float64{3, 1, 2, 1, 3})

	t.Run("drop first encodes against the lowest category", func(t *testing.T) {
		enc := &OneHotEncoder{DropFirst: true}
		out, err := enc.FitTransform(T)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3}, enc.Categories)
		assert.Equal(t, 2, enc.Width())

		_, c := out.Dims()
		assert.Equal(t, 2, c)
		// row 0 is category 3 -> [0, 1]; row 1 is the control -> [0, 0]
		assert.Equal(t, 0.0, out.At(0, 0))
		assert.Equal(t, 1.0, out.At(0, 1))
		assert.Equal(t, 0.0, out.At(1, 0))
		assert.Equal(t, 0.0, out.At(1, 1))
		// row 2 is category 2 -> [1, 0]
		assert.Equal(t, 1.0, out.At(2, 0))
	})

	t.Run("keep all categories", func(t *testing.T) {
		enc := &OneHotEncoder{}
		out, err := enc.FitTransform(T)
		require.NoError(t, err)
		_, c := out.Dims()
		assert.Equal(t, 3, c)
		assert.Equal(t, 1.0, out.At(1, 0))
	})

	t.Run("unknown category errors", func(t *testing.T) {
		enc := &OneHotEncoder{DropFirst: true}
		require.NoError(t, enc.Fit(T))
		_, err := enc.Transform(mat.NewDense(1, 1, []float64{9}))
		assert.Error(t, err)
	})
}

func TestPolynomialFeatures(t *testing.T) {
	p := NewPolynomialFeatures(3, false)
	X := mat.NewDense(1, 1, []float64{2})
	out, err := p.FitTransform(X)
	require.NoError(t, err)
	_, c := out.Dims()
	require.Equal(t, 3, c)
	assert.Equal(t, 2.0, out.At(0, 0))
	assert.Equal(t, 4.0, out.At(0, 1))
	assert.Equal(t, 8.0, out.At(0, 2))

	t.Run("bias column", func(t *testing.T) {
		pb := NewPolynomialFeatures(2, true)
		out, err := pb.FitTransform(X)
		require.NoError(t, err)
		assert.Equal(t, 1.0, out.At(0, 0))
		assert.Equal(t, 2.0, out.At(0, 1))
	})
}

func TestHermiteFeatures(t *testing.T) {
	h := NewHermiteFeatures(4, false)
	x := 1.3
	out, err := h.FitTransform(mat.NewDense(1, 1, []float64{x}))
	require.NoError(t, err)

	// He_1..He_4 via the probabilists' recurrence
	he1 := x
	he2 := x*x - 1
	he3 := x*he2 - 2*he1
	he4 := x*he3 - 3*he2
	assert.InDelta(t, he1, out.At(0, 0), 1e-12)
	assert.InDelta(t, he2, out.At(0, 1), 1e-12)
	assert.InDelta(t, he3, out.At(0, 2), 1e-12)
	assert.InDelta(t, he4, out.At(0, 3), 1e-12)
}

func TestHermiteLayoutDegreeMajor(t *testing.T) {
	// two input columns: layout He_1(x0), He_1(x1), He_2(x0), He_2(x1), ...
	h := NewHermiteFeatures(2, false)
	out, err := h.FitTransform(mat.NewDense(1, 2, []float64{2, 3}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out.At(0, 0), 1e-12)
	assert.InDelta(t, 3.0, out.At(0, 1), 1e-12)
	assert.InDelta(t, 3.0, out.At(0, 2), 1e-12) // He_2(2) = 3
	assert.InDelta(t, 8.0, out.At(0, 3), 1e-12) // He_2(3) = 8
}

func TestFunctionTransformer(t *testing.T) {
	t.Run("nil func is identity", func(t *testing.T) {
		f := &FunctionTransformer{}
		X := mat.NewDense(2, 1, []float64{1, 2})
		out, err := f.FitTransform(X)
		require.NoError(t, err)
		assert.Equal(t, 1.0, out.At(0, 0))
	})

	t.Run("applies the function", func(t *testing.T) {
		f := &FunctionTransformer{Func: func(X mat.Matrix) (mat.Matrix, error) {
			r, c := X.Dims()
			out := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				for j := 0; j < c; j++ {
					out.Set(i, j, math.Exp(X.At(i, j)))
				}
			}
			return out, nil
		}}
		out, err := f.FitTransform(mat.NewDense(1, 1, []float64{0}))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, out.At(0, 0), 1e-12)
	})
}
