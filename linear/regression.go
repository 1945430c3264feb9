// Package linear provides the linear nuisance and final-stage models:
// ordinary least squares, ridge, weighted OLS with coefficient covariance,
// lasso via coordinate descent and logistic regression. All models satisfy
// the core/model interfaces so they can be plugged into any estimator.
package linear

import (
	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/core/parallel"
	"github.com/causalgo/causalgo/pkg/errors"
)

// LinearRegression is an ordinary least squares regressor solved with the
// normal equations.
type LinearRegression struct {
	model.BaseEstimator

	// FitIntercept controls whether an intercept is estimated (default true).
	FitIntercept bool

	// Coef holds the fitted coefficients.
	Coef []float64

	// Intercept holds the fitted intercept (0 when FitIntercept is false).
	Intercept float64

	// NFeatures is the number of features seen during Fit.
	NFeatures int
}

// LinearRegressionOption configures a LinearRegression.
type LinearRegressionOption func(*LinearRegression)

// WithFitIntercept sets whether the intercept is estimated.
func WithFitIntercept(fit bool) LinearRegressionOption {
	return func(lr *LinearRegression) { lr.FitIntercept = fit }
}

// NewLinearRegression creates an OLS regressor.
func NewLinearRegression(options ...LinearRegressionOption) *LinearRegression {
	lr := &LinearRegression{FitIntercept: true}
	for _, opt := range options {
		opt(lr)
	}
	return lr
}

// threshold below which design-matrix assembly stays sequential
const parallelThreshold = 1000

// buildDesign returns X with a leading 1 column when withIntercept is set.
func buildDesign(X mat.Matrix, withIntercept bool) *mat.Dense {
	r, c := X.Dims()
	if !withIntercept {
		var out mat.Dense
		out.CloneFrom(X)
		return &out
	}

	out := mat.NewDense(r, c+1, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			out.Set(i, 0, 1)
			for j := 0; j < c; j++ {
				out.Set(i, j+1, X.At(i, j))
			}
		}
	})
	return out
}

// solveNormal solves (D'D + ridge·I)β = D'y. The ridge term is zero for OLS.
func solveNormal(D *mat.Dense, y mat.Matrix, ridge float64, skipFirst bool) ([]float64, error) {
	r, p := D.Dims()

	yVec := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		yVec.SetVec(i, y.At(i, 0))
	}

	var dtd mat.Dense
	dtd.Mul(D.T(), D)
	if ridge > 0 {
		start := 0
		if skipFirst {
			// Do not penalize the intercept column.
			start = 1
		}
		for j := start; j < p; j++ {
			dtd.Set(j, j, dtd.At(j, j)+ridge)
		}
	}

	var dty mat.VecDense
	dty.MulVec(D.T(), yVec)

	var inv mat.Dense
	if err := inv.Inverse(&dtd); err != nil {
		return nil, errors.NewModelError("linear.solveNormal", "singular design matrix", errors.ErrSingularMatrix)
	}

	beta := mat.NewVecDense(p, nil)
	beta.MulVec(&inv, &dty)

	out := make([]float64, p)
	for i := 0; i < p; i++ {
		out[i] = beta.AtVec(i)
	}
	return out, nil
}

func validateXy(op string, X, y mat.Matrix) (int, int, error) {
	r, c := X.Dims()
	ry, cy := y.Dims()
	if r == 0 || c == 0 {
		return 0, 0, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return 0, 0, errors.NewDimensionError(op, r, ry, 0)
	}
	if cy != 1 {
		return 0, 0, errors.NewValueError(op, "y must be a column vector")
	}
	return r, c, nil
}

// Fit estimates the coefficients with the normal equations.
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	_, c, err := validateXy("LinearRegression.Fit", X, y)
	if err != nil {
		return err
	}
	lr.NFeatures = c

	D := buildDesign(X, lr.FitIntercept)
	beta, err := solveNormal(D, y, 0, false)
	if err != nil {
		return err
	}

	if lr.FitIntercept {
		lr.Intercept = beta[0]
		lr.Coef = beta[1:]
	} else {
		lr.Intercept = 0
		lr.Coef = beta
	}

	lr.SetFitted()
	return nil
}

// Predict returns X·coef + intercept.
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !lr.IsFitted() {
		return nil, errors.NewNotFittedError("LinearRegression", "Predict")
	}
	r, c := X.Dims()
	if c != lr.NFeatures {
		return nil, errors.NewDimensionError("LinearRegression.Predict", lr.NFeatures, c, 1)
	}

	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		pred := lr.Intercept
		for j := 0; j < c; j++ {
			pred += X.At(i, j) * lr.Coef[j]
		}
		out.Set(i, 0, pred)
	}
	return out, nil
}

// Score returns the coefficient of determination R².
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	return scoreR2(lr, "LinearRegression", X, y)
}

// Ridge is an L2-regularized least squares regressor.
type Ridge struct {
	model.BaseEstimator

	// Alpha is the L2 penalty strength.
	Alpha float64

	// FitIntercept controls whether an intercept is estimated; the
	// intercept is never penalized.
	FitIntercept bool

	// Coef holds the fitted coefficients.
	Coef []float64

	// Intercept holds the fitted intercept.
	Intercept float64

	// NFeatures is the number of features seen during Fit.
	NFeatures int
}

// NewRidge creates a ridge regressor with the given penalty.
func NewRidge(alpha float64) *Ridge {
	return &Ridge{Alpha: alpha, FitIntercept: true}
}

// Fit estimates the coefficients with the penalized normal equations.
func (rg *Ridge) Fit(X, y mat.Matrix) error {
	_, c, err := validateXy("Ridge.Fit", X, y)
	if err != nil {
		return err
	}
	if rg.Alpha < 0 {
		return errors.NewValidationError("alpha", "must be non-negative", rg.Alpha)
	}
	rg.NFeatures = c

	D := buildDesign(X, rg.FitIntercept)
	beta, err := solveNormal(D, y, rg.Alpha, rg.FitIntercept)
	if err != nil {
		return err
	}

	if rg.FitIntercept {
		rg.Intercept = beta[0]
		rg.Coef = beta[1:]
	} else {
		rg.Intercept = 0
		rg.Coef = beta
	}

	rg.SetFitted()
	return nil
}

// Predict returns X·coef + intercept.
func (rg *Ridge) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !rg.IsFitted() {
		return nil, errors.NewNotFittedError("Ridge", "Predict")
	}
	r, c := X.Dims()
	if c != rg.NFeatures {
		return nil, errors.NewDimensionError("Ridge.Predict", rg.NFeatures, c, 1)
	}

	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		pred := rg.Intercept
		for j := 0; j < c; j++ {
			pred += X.At(i, j) * rg.Coef[j]
		}
		out.Set(i, 0, pred)
	}
	return out, nil
}

// Score returns the coefficient of determination R².
func (rg *Ridge) Score(X, y mat.Matrix) (float64, error) {
	return scoreR2(rg, "Ridge", X, y)
}

// scoreR2 computes R² from a model's own predictions.
func scoreR2(m model.Predictor, name string, X, y mat.Matrix) (float64, error) {
	yPred, err := m.Predict(X)
	if err != nil {
		return 0, err
	}

	r, _ := y.Dims()
	var mean float64
	for i := 0; i < r; i++ {
		mean += y.At(i, 0)
	}
	mean /= float64(r)

	var tss, rss float64
	for i := 0; i < r; i++ {
		d := y.At(i, 0) - mean
		tss += d * d
		e := y.At(i, 0) - yPred.At(i, 0)
		rss += e * e
	}
	if tss == 0 {
		return 0, errors.NewValueError(name+".Score", "total sum of squares is zero")
	}
	return 1 - rss/tss, nil
}
