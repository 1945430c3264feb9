package preprocessing

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/pkg/errors"
)

// PolynomialFeatures expands each feature column into its powers 1..Degree,
// optionally prepending a bias column. Interaction terms are not generated;
// estimators that need interactions build them with tensor.CrossProduct.
type PolynomialFeatures struct {
	model.BaseEstimator

	// Degree is the maximum power (>= 1).
	Degree int

	// IncludeBias prepends a constant 1 column.
	IncludeBias bool

	// NFeatures is the input width seen during Fit.
	NFeatures int
}

// NewPolynomialFeatures creates a PolynomialFeatures transformer.
func NewPolynomialFeatures(degree int, includeBias bool) *PolynomialFeatures {
	if degree < 1 {
		degree = 1
	}
	return &PolynomialFeatures{Degree: degree, IncludeBias: includeBias}
}

// Fit records the input width.
func (p *PolynomialFeatures) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("PolynomialFeatures.Fit", "empty data", errors.ErrEmptyData)
	}
	p.NFeatures = c
	p.SetFitted()
	return nil
}

// Transform expands X into [1?, x_1..x_c, x_1²..x_c², ...].
func (p *PolynomialFeatures) Transform(X mat.Matrix) (mat.Matrix, error) {
	if !p.IsFitted() {
		return nil, errors.NewNotFittedError("PolynomialFeatures", "Transform")
	}
	r, c := X.Dims()
	if c != p.NFeatures {
		return nil, errors.NewDimensionError("PolynomialFeatures.Transform", p.NFeatures, c, 1)
	}

	width := c * p.Degree
	offset := 0
	if p.IncludeBias {
		width++
		offset = 1
	}

	out := mat.NewDense(r, width, nil)
	for i := 0; i < r; i++ {
		if p.IncludeBias {
			out.Set(i, 0, 1)
		}
		for j := 0; j < c; j++ {
			v := X.At(i, j)
			pow := 1.0
			for d := 0; d < p.Degree; d++ {
				pow *= v
				out.Set(i, offset+d*c+j, pow)
			}
		}
	}
	return out, nil
}

// FitTransform fits and transforms in one step.
func (p *PolynomialFeatures) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := p.Fit(X); err != nil {
		return nil, err
	}
	return p.Transform(X)
}

// HermiteFeatures expands each feature column into probabilists' Hermite
// polynomials He_0..He_Degree, the sieve basis of the two-stage least squares
// estimator. The He_0 (constant) column is emitted once when IncludeBias is
// set.
type HermiteFeatures struct {
	model.BaseEstimator

	// Degree is the maximum Hermite order (>= 1).
	Degree int

	// IncludeBias emits the constant He_0 column.
	IncludeBias bool

	// NFeatures is the input width seen during Fit.
	NFeatures int
}

// NewHermiteFeatures creates a HermiteFeatures transformer.
func NewHermiteFeatures(degree int, includeBias bool) *HermiteFeatures {
	if degree < 1 {
		degree = 1
	}
	return &HermiteFeatures{Degree: degree, IncludeBias: includeBias}
}

// Fit records the input width.
func (h *HermiteFeatures) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("HermiteFeatures.Fit", "empty data", errors.ErrEmptyData)
	}
	h.NFeatures = c
	h.SetFitted()
	return nil
}

// Transform expands X using the recurrence He_{k+1}(x) = x·He_k(x) − k·He_{k-1}(x).
func (h *HermiteFeatures) Transform(X mat.Matrix) (mat.Matrix, error) {
	if !h.IsFitted() {
		return nil, errors.NewNotFittedError("HermiteFeatures", "Transform")
	}
	r, c := X.Dims()
	if c != h.NFeatures {
		return nil, errors.NewDimensionError("HermiteFeatures.Transform", h.NFeatures, c, 1)
	}

	width := c * h.Degree
	offset := 0
	if h.IncludeBias {
		width++
		offset = 1
	}

	out := mat.NewDense(r, width, nil)
	for i := 0; i < r; i++ {
		if h.IncludeBias {
			out.Set(i, 0, 1)
		}
		for j := 0; j < c; j++ {
			x := X.At(i, j)
			prev, cur := 1.0, x // He_0, He_1
			for d := 1; d <= h.Degree; d++ {
				out.Set(i, offset+(d-1)*c+j, cur)
				prev, cur = cur, x*cur-float64(d)*prev
			}
		}
	}
	return out, nil
}

// FitTransform fits and transforms in one step.
func (h *HermiteFeatures) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := h.Fit(X); err != nil {
		return nil, err
	}
	return h.Transform(X)
}

// FunctionTransformer applies a fixed function to X. The zero value (nil
// function) is the identity transform, matching the featurizer default of the
// DML estimators.
type FunctionTransformer struct {
	model.BaseEstimator

	// Func maps the input to the transformed matrix. Nil means identity.
	Func func(X mat.Matrix) (mat.Matrix, error)
}

// NewFunctionTransformer creates a FunctionTransformer; fn may be nil for the
// identity.
func NewFunctionTransformer(fn func(X mat.Matrix) (mat.Matrix, error)) *FunctionTransformer {
	return &FunctionTransformer{Func: fn}
}

// Fit is a no-op.
func (f *FunctionTransformer) Fit(X mat.Matrix) error {
	f.SetFitted()
	return nil
}

// Transform applies the function (or identity).
func (f *FunctionTransformer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if f.Func == nil {
		return X, nil
	}
	return f.Func(X)
}

// FitTransform fits and transforms in one step.
func (f *FunctionTransformer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := f.Fit(X); err != nil {
		return nil, err
	}
	return f.Transform(X)
}
