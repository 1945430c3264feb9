package linear

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/core/model"
	"github.com/causalgo/causalgo/pkg/errors"
)

// Lasso is an L1-regularized least squares regressor fitted with cyclic
// coordinate descent. The SparseLinearDML final stage uses it to select
// treatment-feature interactions.
type Lasso struct {
	model.BaseEstimator

	// Alpha is the L1 penalty strength.
	Alpha float64

	// FitIntercept controls whether an (unpenalized) intercept is estimated.
	FitIntercept bool

	// MaxIter bounds the number of coordinate descent sweeps.
	MaxIter int

	// Tol is the convergence tolerance on the maximum coefficient update.
	Tol float64

	// Coef holds the fitted coefficients.
	Coef []float64

	// Intercept holds the fitted intercept.
	Intercept float64

	// NFeatures is the number of features seen during Fit.
	NFeatures int

	// NIter is the number of sweeps actually performed.
	NIter int
}

// LassoOption configures a Lasso.
type LassoOption func(*Lasso)

// WithLassoMaxIter sets the sweep budget.
func WithLassoMaxIter(n int) LassoOption {
	return func(l *Lasso) { l.MaxIter = n }
}

// WithLassoTol sets the convergence tolerance.
func WithLassoTol(tol float64) LassoOption {
	return func(l *Lasso) { l.Tol = tol }
}

// WithLassoFitIntercept sets whether the intercept is estimated.
func WithLassoFitIntercept(fit bool) LassoOption {
	return func(l *Lasso) { l.FitIntercept = fit }
}

// NewLasso creates a lasso regressor with the given penalty.
func NewLasso(alpha float64, options ...LassoOption) *Lasso {
	l := &Lasso{
		Alpha:        alpha,
		FitIntercept: true,
		MaxIter:      1000,
		Tol:          1e-6,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

func softThreshold(x, gamma float64) float64 {
	switch {
	case x > gamma:
		return x - gamma
	case x < -gamma:
		return x + gamma
	default:
		return 0
	}
}

// Fit runs cyclic coordinate descent on the lasso objective
// (1/2n)·‖y − Xβ‖² + alpha·‖β‖₁.
func (l *Lasso) Fit(X, y mat.Matrix) error {
	n, c, err := validateXy("Lasso.Fit", X, y)
	if err != nil {
		return err
	}
	if l.Alpha < 0 {
		return errors.NewValidationError("alpha", "must be non-negative", l.Alpha)
	}
	l.NFeatures = c

	// Column-major copy of X and per-column squared norms.
	cols := make([][]float64, c)
	norms := make([]float64, c)
	for j := 0; j < c; j++ {
		col := make([]float64, n)
		var sq float64
		for i := 0; i < n; i++ {
			v := X.At(i, j)
			col[i] = v
			sq += v * v
		}
		cols[j] = col
		norms[j] = sq
	}

	yv := make([]float64, n)
	for i := 0; i < n; i++ {
		yv[i] = y.At(i, 0)
	}

	beta := make([]float64, c)
	intercept := 0.0

	// residual r = y − Xβ − intercept
	resid := make([]float64, n)
	copy(resid, yv)

	gamma := l.Alpha * float64(n)
	converged := false

	for iter := 0; iter < l.MaxIter; iter++ {
		maxDelta := 0.0

		if l.FitIntercept {
			var mean float64
			for i := 0; i < n; i++ {
				mean += resid[i]
			}
			mean /= float64(n)
			intercept += mean
			for i := 0; i < n; i++ {
				resid[i] -= mean
			}
			if math.Abs(mean) > maxDelta {
				maxDelta = math.Abs(mean)
			}
		}

		for j := 0; j < c; j++ {
			if norms[j] == 0 {
				continue
			}
			col := cols[j]

			// rho = x_j'(r + x_j β_j)
			rho := 0.0
			for i := 0; i < n; i++ {
				rho += col[i] * resid[i]
			}
			rho += norms[j] * beta[j]

			newBeta := softThreshold(rho, gamma) / norms[j]
			delta := newBeta - beta[j]
			if delta != 0 {
				for i := 0; i < n; i++ {
					resid[i] -= delta * col[i]
				}
				beta[j] = newBeta
			}
			if math.Abs(delta) > maxDelta {
				maxDelta = math.Abs(delta)
			}
		}

		l.NIter = iter + 1
		if maxDelta < l.Tol {
			converged = true
			break
		}
	}

	if !converged {
		errors.Warn(errors.NewConvergenceWarning("Lasso", l.NIter, ""))
	}
	if err := errors.CheckNumericalStability("Lasso.Fit", beta, l.NIter); err != nil {
		return err
	}

	l.Coef = beta
	l.Intercept = intercept
	l.SetFitted()
	return nil
}

// Predict returns X·coef + intercept.
func (l *Lasso) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !l.IsFitted() {
		return nil, errors.NewNotFittedError("Lasso", "Predict")
	}
	r, c := X.Dims()
	if c != l.NFeatures {
		return nil, errors.NewDimensionError("Lasso.Predict", l.NFeatures, c, 1)
	}

	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		pred := l.Intercept
		for j := 0; j < c; j++ {
			pred += X.At(i, j) * l.Coef[j]
		}
		out.Set(i, 0, pred)
	}
	return out, nil
}

// Score returns the coefficient of determination R².
func (l *Lasso) Score(X, y mat.Matrix) (float64, error) {
	return scoreR2(l, "Lasso", X, y)
}
