package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestHStack(t *testing.T) {
	t.Run("stacks columns in order", func(t *testing.T) {
		a := mat.NewDense(2, 1, []float64{1, 2})
		b := mat.NewDense(2, 2, []float64{3, 4, 5, 6})
		out, err := HStack(a, b)
		require.NoError(t, err)
		r, c := out.Dims()
		assert.Equal(t, 2, r)
		assert.Equal(t, 3, c)
		assert.Equal(t, 1.0, out.At(0, 0))
		assert.Equal(t, 3.0, out.At(0, 1))
		assert.Equal(t, 6.0, out.At(1, 2))
	})

	t.Run("skips nils", func(t *testing.T) {
		a := mat.NewDense(2, 1, []float64{1, 2})
		out, err := HStack(nil, a, nil)
		require.NoError(t, err)
		_, c := out.Dims()
		assert.Equal(t, 1, c)
	})

	t.Run("all nil yields nil", func(t *testing.T) {
		out, err := HStack(nil, nil)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("row mismatch errors", func(t *testing.T) {
		a := mat.NewDense(2, 1, nil)
		b := mat.NewDense(3, 1, nil)
		_, err := HStack(a, b)
		assert.Error(t, err)
	})
}

func TestCrossProduct(t *testing.T) {
	// layout: column j*cb+k holds a[:,j]*b[:,k]
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewDense(2, 3, []float64{1, 10, 100, 1, 10, 100})
	out, err := CrossProduct(a, b)
	require.NoError(t, err)
	r, c := out.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 6, c)
	assert.Equal(t, 1.0, out.At(0, 0))   // a00*b00
	assert.Equal(t, 10.0, out.At(0, 1))  // a00*b01
	assert.Equal(t, 2.0, out.At(0, 3))   // a01*b00
	assert.Equal(t, 200.0, out.At(0, 5)) // a01*b02
	assert.Equal(t, 400.0, out.At(1, 5)) // a11*b12
}

func TestGather(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	out := GatherRows(m, []int{2, 0, 2})
	r, _ := out.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 5.0, out.At(0, 0))
	assert.Equal(t, 1.0, out.At(1, 0))
	assert.Equal(t, 6.0, out.At(2, 1))

	v := GatherVec([]float64{10, 20, 30}, []int{1, 1, 0})
	assert.Equal(t, []float64{20, 20, 10}, v)
}

func TestVecHelpers(t *testing.T) {
	ones := Ones(3)
	r, c := ones.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1, c)
	assert.Equal(t, 1.0, ones.At(2, 0))

	konst := Constant(2, 3, 7)
	assert.Equal(t, 7.0, konst.At(1, 2))

	col := ColVec(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), 1)
	assert.Equal(t, 2.0, col.At(0, 0))
	assert.Equal(t, 4.0, col.At(1, 0))

	s, err := ToSlice(col)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, s)

	_, err = ToSlice(mat.NewDense(2, 2, nil))
	assert.Error(t, err)

	back := FromSlice([]float64{1, 2})
	rr, cc := back.Dims()
	assert.Equal(t, 2, rr)
	assert.Equal(t, 1, cc)
}

func TestSubClone(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{5, 7})
	b := mat.NewDense(2, 1, []float64{1, 2})
	d, err := Sub(a, b)
	require.NoError(t, err)
	assert.Equal(t, 4.0, d.At(0, 0))
	assert.Equal(t, 5.0, d.At(1, 0))

	cl := Clone(a)
	cl.Set(0, 0, 99)
	assert.Equal(t, 5.0, a.At(0, 0))
}
