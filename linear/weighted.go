package linear

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/pkg/errors"
)

// WeightedOLS is a weighted least squares regressor that also estimates the
// coefficient covariance matrix, so that normal-theory confidence intervals
// can be built on the fitted coefficients and on any linear functional of
// them. The DML final stage uses it with the LinearModelInference object.
type WeightedOLS struct {
	model.BaseEstimator

	// FitIntercept controls whether an intercept column is added.
	FitIntercept bool

	// Coef holds the fitted coefficients (without the intercept).
	Coef []float64

	// Intercept holds the fitted intercept.
	Intercept float64

	// NFeatures is the number of features seen during Fit.
	NFeatures int

	// DOF is the residual degrees of freedom n − p.
	DOF int

	cov *mat.Dense // covariance of the full parameter vector (intercept first when fitted)
}

// NewWeightedOLS creates a weighted least squares regressor.
func NewWeightedOLS(fitIntercept bool) *WeightedOLS {
	return &WeightedOLS{FitIntercept: fitIntercept}
}

// Fit estimates the model with uniform weights.
func (w *WeightedOLS) Fit(X, y mat.Matrix) error {
	return w.FitWeighted(X, y, nil)
}

// FitWeighted estimates the model with per-sample weights. A nil weight
// slice means uniform weights.
func (w *WeightedOLS) FitWeighted(X, y mat.Matrix, sampleWeight []float64) error {
	n, c, err := validateXy("WeightedOLS.FitWeighted", X, y)
	if err != nil {
		return err
	}
	if sampleWeight != nil && len(sampleWeight) != n {
		return errors.NewDimensionError("WeightedOLS.FitWeighted", n, len(sampleWeight), 0)
	}
	w.NFeatures = c

	D := buildDesign(X, w.FitIntercept)
	_, p := D.Dims()

	// A = D'WD, b = D'Wy with W diagonal.
	A := mat.NewDense(p, p, nil)
	b := mat.NewVecDense(p, nil)
	for i := 0; i < n; i++ {
		wi := 1.0
		if sampleWeight != nil {
			wi = sampleWeight[i]
			if wi < 0 {
				return errors.NewValidationError("sampleWeight", "must be non-negative", wi)
			}
		}
		yi := y.At(i, 0)
		for j := 0; j < p; j++ {
			dij := D.At(i, j)
			b.SetVec(j, b.AtVec(j)+wi*dij*yi)
			for k := j; k < p; k++ {
				A.Set(j, k, A.At(j, k)+wi*dij*D.At(i, k))
			}
		}
	}
	for j := 0; j < p; j++ {
		for k := 0; k < j; k++ {
			A.Set(j, k, A.At(k, j))
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(A); err != nil {
		return errors.NewModelError("WeightedOLS.FitWeighted", "singular design matrix", errors.ErrSingularMatrix)
	}

	beta := mat.NewVecDense(p, nil)
	beta.MulVec(&inv, b)

	// Weighted residual variance with n − p degrees of freedom.
	var rss float64
	for i := 0; i < n; i++ {
		wi := 1.0
		if sampleWeight != nil {
			wi = sampleWeight[i]
		}
		pred := 0.0
		for j := 0; j < p; j++ {
			pred += D.At(i, j) * beta.AtVec(j)
		}
		d := y.At(i, 0) - pred
		rss += wi * d * d
	}

	w.DOF = n - p
	sigma2 := 0.0
	if w.DOF > 0 {
		sigma2 = rss / float64(w.DOF)
	}

	w.cov = mat.NewDense(p, p, nil)
	w.cov.Scale(sigma2, &inv)

	if w.FitIntercept {
		w.Intercept = beta.AtVec(0)
		w.Coef = make([]float64, p-1)
		for j := 1; j < p; j++ {
			w.Coef[j-1] = beta.AtVec(j)
		}
	} else {
		w.Intercept = 0
		w.Coef = make([]float64, p)
		for j := 0; j < p; j++ {
			w.Coef[j] = beta.AtVec(j)
		}
	}

	w.SetFitted()
	return nil
}

// Predict returns X·coef + intercept.
func (w *WeightedOLS) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !w.IsFitted() {
		return nil, errors.NewNotFittedError("WeightedOLS", "Predict")
	}
	r, c := X.Dims()
	if c != w.NFeatures {
		return nil, errors.NewDimensionError("WeightedOLS.Predict", w.NFeatures, c, 1)
	}

	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		pred := w.Intercept
		for j := 0; j < c; j++ {
			pred += X.At(i, j) * w.Coef[j]
		}
		out.Set(i, 0, pred)
	}
	return out, nil
}

// Score returns the coefficient of determination R².
func (w *WeightedOLS) Score(X, y mat.Matrix) (float64, error) {
	return scoreR2(w, "WeightedOLS", X, y)
}

// CoefCovariance returns the covariance of the coefficient vector (excluding
// the intercept).
func (w *WeightedOLS) CoefCovariance() (*mat.Dense, error) {
	if !w.IsFitted() {
		return nil, errors.NewNotFittedError("WeightedOLS", "CoefCovariance")
	}
	p := len(w.Coef)
	out := mat.NewDense(p, p, nil)
	off := 0
	if w.FitIntercept {
		off = 1
	}
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			out.Set(i, j, w.cov.At(i+off, j+off))
		}
	}
	return out, nil
}

// quantile returns the two-sided critical value at level alpha, using a
// Student's t distribution when the residual degrees of freedom allow it and
// a normal approximation otherwise.
func (w *WeightedOLS) quantile(alpha float64) float64 {
	p := 1 - alpha/2
	if w.DOF > 0 {
		t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(w.DOF)}
		return t.Quantile(p)
	}
	return distuv.UnitNormal.Quantile(p)
}

// CoefInterval returns the (1−alpha) confidence interval of each coefficient.
func (w *WeightedOLS) CoefInterval(alpha float64) (lo, hi []float64, err error) {
	if !w.IsFitted() {
		return nil, nil, errors.NewNotFittedError("WeightedOLS", "CoefInterval")
	}
	if alpha <= 0 || alpha >= 1 {
		return nil, nil, errors.NewValidationError("alpha", "must be in (0, 1)", alpha)
	}

	q := w.quantile(alpha)
	cov, err := w.CoefCovariance()
	if err != nil {
		return nil, nil, err
	}

	p := len(w.Coef)
	lo = make([]float64, p)
	hi = make([]float64, p)
	for j := 0; j < p; j++ {
		se := math.Sqrt(math.Max(cov.At(j, j), 0))
		lo[j] = w.Coef[j] - q*se
		hi[j] = w.Coef[j] + q*se
	}
	return lo, hi, nil
}

// LinearFunctionalInterval returns the point estimate and (1−alpha) interval
// of z·coef for a contrast vector z over the coefficients (intercept
// excluded). Inference objects use this to build effect intervals.
func (w *WeightedOLS) LinearFunctionalInterval(z []float64, alpha float64) (point, lo, hi float64, err error) {
	if !w.IsFitted() {
		return 0, 0, 0, errors.NewNotFittedError("WeightedOLS", "LinearFunctionalInterval")
	}
	if len(z) != len(w.Coef) {
		return 0, 0, 0, errors.NewDimensionError("WeightedOLS.LinearFunctionalInterval", len(w.Coef), len(z), 1)
	}
	if alpha <= 0 || alpha >= 1 {
		return 0, 0, 0, errors.NewValidationError("alpha", "must be in (0, 1)", alpha)
	}

	cov, err := w.CoefCovariance()
	if err != nil {
		return 0, 0, 0, err
	}

	for j, zj := range z {
		point += zj * w.Coef[j]
	}

	var variance float64
	for i, zi := range z {
		for j, zj := range z {
			variance += zi * zj * cov.At(i, j)
		}
	}
	se := math.Sqrt(math.Max(variance, 0))
	q := w.quantile(alpha)
	return point, point - q*se, point + q*se, nil
}
