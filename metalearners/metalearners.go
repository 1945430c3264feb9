// Package metalearners implements the classic metalearner estimators of
// treatment effects for discrete treatments: the S, T and X learners and the
// domain adaptation learner. Each composes pluggable outcome regressors
// instead of residualizing, so no cross-fitting is involved; intervals
// require bootstrap inference.
package metalearners

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/cate"
	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/core/tensor"
	cerrors "github.com/causalgo/causalgo/pkg/errors"
)

// base carries the pieces shared by all metalearners: discrete treatment
// handling and the θ-to-effect composition.
type base struct {
	cate.BaseCATE
}

func (b *base) validate(op string, Y, T, X mat.Matrix) (int, error) {
	if Y == nil || T == nil || X == nil {
		return 0, cerrors.NewValueError(op, "Y, T and X are required")
	}
	n, cy := Y.Dims()
	if n == 0 {
		return 0, cerrors.ErrEmptyData
	}
	if cy != 1 {
		return 0, cerrors.NewDimensionError(op, 1, cy, 1)
	}
	if r, _ := T.Dims(); r != n {
		return 0, cerrors.NewDimensionError(op, n, r, 0)
	}
	if r, _ := X.Dims(); r != n {
		return 0, cerrors.NewDimensionError(op, n, r, 0)
	}
	return n, nil
}

// groups splits sample indices by treatment category, ordered like
// Categories.
func (b *base) groups(T mat.Matrix, n int) ([][]int, error) {
	cats := b.Categories()
	byCat := make(map[float64]int, len(cats))
	for i, c := range cats {
		byCat[c] = i
	}
	out := make([][]int, len(cats))
	for i := 0; i < n; i++ {
		g, ok := byCat[T.At(i, 0)]
		if !ok {
			return nil, cerrors.NewValueError(b.Name+".Fit", "treatment label outside fitted categories")
		}
		out[g] = append(out[g], i)
	}
	for g, idx := range out {
		if len(idx) == 0 {
			return nil, cerrors.Newf("causalgo: %s: treatment category %v has no samples", b.Name, cats[g])
		}
	}
	return out, nil
}

// effectFromTheta composes Effect from the per-category θ columns.
func (b *base) effectFromTheta(theta *mat.Dense, T0, T1 mat.Matrix, op string) (*mat.Dense, error) {
	m, dT := theta.Dims()
	delta, err := b.TreatmentDelta(T0, T1, m, op)
	if err != nil {
		return nil, err
	}
	eff := mat.NewDense(m, 1, nil)
	for i := 0; i < m; i++ {
		var s float64
		for t := 0; t < dT; t++ {
			s += theta.At(i, t) * delta.At(i, t)
		}
		eff.Set(i, 0, s)
	}
	return eff, nil
}

func (b *base) checkFeatures(op string, X mat.Matrix, want int) (int, error) {
	if X == nil {
		return 0, cerrors.NewValueError(op, "X is required")
	}
	m, c := X.Dims()
	if c != want {
		return 0, cerrors.NewDimensionError(op, want, c, 1)
	}
	return m, nil
}

// predictVec runs a regressor and flattens the n×1 result.
func predictVec(m model.Regressor, X mat.Matrix, op string) ([]float64, error) {
	p, err := m.Predict(X)
	if err != nil {
		return nil, cerrors.Wrap(err, op)
	}
	return tensor.ToSlice(p)
}
