// Package tensor provides the small matrix utilities shared by the
// estimators: column stacking, row gathering, row-wise cross products and
// vector conversions on top of gonum matrices.
package tensor

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/pkg/errors"
)

// HStack concatenates matrices horizontally. Nil entries are skipped; all
// non-nil entries must share the same row count. Returns nil when every entry
// is nil.
func HStack(ms ...mat.Matrix) (*mat.Dense, error) {
	rows, cols := 0, 0
	for _, m := range ms {
		if m == nil {
			continue
		}
		r, c := m.Dims()
		if rows == 0 {
			rows = r
		} else if r != rows {
			return nil, errors.NewDimensionError("tensor.HStack", rows, r, 0)
		}
		cols += c
	}
	if cols == 0 {
		return nil, nil
	}

	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, m := range ms {
		if m == nil {
			continue
		}
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.Set(i, offset+j, m.At(i, j))
			}
		}
		offset += c
	}
	return out, nil
}

// CrossProduct computes the row-wise Kronecker product of A (n×p) and B
// (n×q): row i of the result is kron(A_i, B_i), laid out as
// [a_i0*b_i0, ..., a_i0*b_iq-1, a_i1*b_i0, ...]. The DML final stage uses it
// to interact residualized treatments with featurized X.
func CrossProduct(a, b mat.Matrix) (*mat.Dense, error) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb {
		return nil, errors.NewDimensionError("tensor.CrossProduct", ra, rb, 0)
	}

	out := mat.NewDense(ra, ca*cb, nil)
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			av := a.At(i, j)
			for k := 0; k < cb; k++ {
				out.Set(i, j*cb+k, av*b.At(i, k))
			}
		}
	}
	return out, nil
}

// GatherRows returns the submatrix of m with the given rows, in order.
func GatherRows(m mat.Matrix, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, ri := range rows {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(ri, j))
		}
	}
	return out
}

// GatherVec returns the elements of v at the given indices.
func GatherVec(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}

// Ones returns an n×1 matrix of ones, the implicit featurization used when X
// is nil.
func Ones(n int) *mat.Dense {
	data := make([]float64, n)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(n, 1, data)
}

// Constant returns an n×c matrix filled with v.
func Constant(n, c int, v float64) *mat.Dense {
	data := make([]float64, n*c)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(n, c, data)
}

// ColVec extracts column j of m as a fresh n×1 matrix.
func ColVec(m mat.Matrix, j int) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, m.At(i, j))
	}
	return out
}

// ToSlice flattens an n×1 (or 1×n) matrix into a []float64.
func ToSlice(m mat.Matrix) ([]float64, error) {
	r, c := m.Dims()
	switch {
	case c == 1:
		out := make([]float64, r)
		for i := 0; i < r; i++ {
			out[i] = m.At(i, 0)
		}
		return out, nil
	case r == 1:
		out := make([]float64, c)
		for j := 0; j < c; j++ {
			out[j] = m.At(0, j)
		}
		return out, nil
	default:
		return nil, errors.NewValueError("tensor.ToSlice", "matrix is not a vector")
	}
}

// FromSlice wraps a []float64 as an n×1 matrix (no copy).
func FromSlice(v []float64) *mat.Dense {
	return mat.NewDense(len(v), 1, v)
}

// Sub returns a − b for equally shaped matrices.
func Sub(a, b mat.Matrix) (*mat.Dense, error) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb || ca != cb {
		return nil, errors.NewDimensionError("tensor.Sub", ra*ca, rb*cb, 0)
	}
	out := mat.NewDense(ra, ca, nil)
	out.Sub(a, b)
	return out, nil
}

// Clone returns a dense copy of m, or nil for a nil input.
func Clone(m mat.Matrix) *mat.Dense {
	if m == nil {
		return nil
	}
	var out mat.Dense
	out.CloneFrom(m)
	return &out
}
