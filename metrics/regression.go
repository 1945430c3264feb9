// Package metrics provides the regression metrics used to evaluate nuisance
// models and final-stage fits.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/causalgo/causalgo/pkg/errors"
)

// MSE computes the mean squared error between two vectors.
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("MSE", "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("MSE", n, yPred.Len(), 0)
	}

	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}
	return sum / float64(n), nil
}

// MSEMatrix computes MSE for n×1 matrix inputs.
func MSEMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	rTrue, cTrue := yTrue.Dims()
	rPred, cPred := yPred.Dims()

	if rTrue == 0 || cTrue == 0 {
		return 0, errors.NewValueError("MSEMatrix", "empty matrix")
	}
	if rTrue != rPred || cTrue != cPred {
		return 0, errors.NewDimensionError("MSEMatrix", rTrue, rPred, 0)
	}
	if cTrue != 1 {
		return 0, errors.NewValueError("MSEMatrix", "must be a column vector (n×1 matrix)")
	}

	var sum float64
	for i := 0; i < rTrue; i++ {
		diff := yTrue.At(i, 0) - yPred.At(i, 0)
		sum += diff * diff
	}
	return sum / float64(rTrue), nil
}

// RMSE computes the root mean squared error.
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE computes the mean absolute error.
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("MAE", "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("MAE", n, yPred.Len(), 0)
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(yTrue.AtVec(i) - yPred.AtVec(i))
	}
	return sum / float64(n), nil
}

// R2Score computes the coefficient of determination R².
// Returns an error when the total sum of squares is zero.
func R2Score(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("R2Score", "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("R2Score", n, yPred.Len(), 0)
	}

	var mean float64
	for i := 0; i < n; i++ {
		mean += yTrue.AtVec(i)
	}
	mean /= float64(n)

	var tss, rss float64
	for i := 0; i < n; i++ {
		d := yTrue.AtVec(i) - mean
		tss += d * d
		r := yTrue.AtVec(i) - yPred.AtVec(i)
		rss += r * r
	}

	if tss == 0 {
		return 0, errors.NewValueError("R2Score", "total sum of squares is zero")
	}
	return 1 - rss/tss, nil
}

// ResidualMomentScore computes the mean squared residual moment
// mean((yRes − effects·tRes)²) used by the DML family's Score: yRes and tRes
// are n×1 and n×d_t residual matrices, effects is n×d_t.
func ResidualMomentScore(yRes, tRes, effects mat.Matrix) (float64, error) {
	n, _ := yRes.Dims()
	rt, dt := tRes.Dims()
	re, de := effects.Dims()
	if rt != n {
		return 0, errors.NewDimensionError("ResidualMomentScore", n, rt, 0)
	}
	if re != n {
		return 0, errors.NewDimensionError("ResidualMomentScore", n, re, 0)
	}
	if de != dt {
		return 0, errors.NewDimensionError("ResidualMomentScore", dt, de, 1)
	}
	if n == 0 {
		return 0, errors.NewValueError("ResidualMomentScore", "empty residuals")
	}

	var sum float64
	for i := 0; i < n; i++ {
		pred := 0.0
		for t := 0; t < dt; t++ {
			pred += effects.At(i, t) * tRes.At(i, t)
		}
		d := yRes.At(i, 0) - pred
		sum += d * d
	}
	return sum / float64(n), nil
}
