package preprocessing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/pkg/errors"
)

// OneHotEncoder encodes a single column of numeric category labels into
// indicator columns. With DropFirst set, the first (control) category is
// dropped so that the encoding of the control is the all-zero row; CATE
// estimators rely on this to make effects between categories compose.
type OneHotEncoder struct {
	model.BaseEstimator

	// DropFirst drops the indicator of the first (sorted) category.
	DropFirst bool

	// Categories holds the sorted distinct labels seen during Fit.
	Categories []float64
}

// NewOneHotEncoder creates a OneHotEncoder.
func NewOneHotEncoder(dropFirst bool) *OneHotEncoder {
	return &OneHotEncoder{DropFirst: dropFirst}
}

// Fit discovers the distinct labels in the n×1 matrix T.
func (e *OneHotEncoder) Fit(T mat.Matrix) error {
	r, c := T.Dims()
	if r == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	if c != 1 {
		return errors.NewValueError("OneHotEncoder.Fit", "labels must be a single column")
	}

	seen := make(map[float64]struct{})
	for i := 0; i < r; i++ {
		v := T.At(i, 0)
		if math.IsNaN(v) {
			return errors.NewValueError("OneHotEncoder.Fit", "NaN label")
		}
		seen[v] = struct{}{}
	}

	e.Categories = make([]float64, 0, len(seen))
	for v := range seen {
		e.Categories = append(e.Categories, v)
	}
	sort.Float64s(e.Categories)

	if len(e.Categories) < 2 {
		return errors.NewValueError("OneHotEncoder.Fit", "need at least two categories")
	}

	e.SetFitted()
	return nil
}

// Width returns the number of indicator columns produced by Transform.
func (e *OneHotEncoder) Width() int {
	if e.DropFirst {
		return len(e.Categories) - 1
	}
	return len(e.Categories)
}

// indexOf returns the category index of label v, or -1.
func (e *OneHotEncoder) indexOf(v float64) int {
	i := sort.SearchFloat64s(e.Categories, v)
	if i < len(e.Categories) && e.Categories[i] == v {
		return i
	}
	return -1
}

// Transform encodes the n×1 label matrix into indicator columns.
// Unknown labels are an error.
func (e *OneHotEncoder) Transform(T mat.Matrix) (mat.Matrix, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("OneHotEncoder", "Transform")
	}
	r, c := T.Dims()
	if c != 1 {
		return nil, errors.NewValueError("OneHotEncoder.Transform", "labels must be a single column")
	}

	out := mat.NewDense(r, e.Width(), nil)
	for i := 0; i < r; i++ {
		idx := e.indexOf(T.At(i, 0))
		if idx < 0 {
			return nil, errors.Newf("causalgo: OneHotEncoder.Transform: unknown category %v", T.At(i, 0))
		}
		if e.DropFirst {
			if idx > 0 {
				out.Set(i, idx-1, 1)
			}
		} else {
			out.Set(i, idx, 1)
		}
	}
	return out, nil
}

// FitTransform fits the encoder and transforms T.
func (e *OneHotEncoder) FitTransform(T mat.Matrix) (mat.Matrix, error) {
	if err := e.Fit(T); err != nil {
		return nil, err
	}
	return e.Transform(T)
}
